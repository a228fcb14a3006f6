package command

import "strings"

type Mode string

const (
	ModeHome     Mode = "home"
	ModeObject   Mode = "object"
	ModeCurrency Mode = "currency"
	ModeText     Mode = "text"
	ModeScene    Mode = "scene"
)

// Modes lists every mode, Home first.
var Modes = []Mode{ModeHome, ModeObject, ModeCurrency, ModeText, ModeScene}

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, true
		}
	}
	return ModeHome, false
}

// CameraRequested reports whether the mode needs a live camera.
func (m Mode) CameraRequested() bool {
	return m != ModeHome
}

func (m Mode) Title() string {
	switch m {
	case ModeObject:
		return "Object Detection"
	case ModeCurrency:
		return "Currency Reader"
	case ModeText:
		return "Text Reader"
	case ModeScene:
		return "Scene Detection"
	default:
		return "AI Vision Assistant"
	}
}

type Action int

const (
	ActionUnknown Action = iota
	ActionSetMode
	ActionHelp
)

func (a Action) String() string {
	switch a {
	case ActionSetMode:
		return "set_mode"
	case ActionHelp:
		return "help"
	default:
		return "unknown"
	}
}

const (
	Welcome = "Welcome to AI Vision Assistant. What would you like me to help you with? " +
		"You can say detect object, read currency, read text, or describe scene."

	NotUnderstood = "I didn't understand that command. You can say detect object, read currency, " +
		"read text, describe scene, or say help for more options."
)
