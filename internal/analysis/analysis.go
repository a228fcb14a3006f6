// Package analysis turns a captured frame into a spoken description for the
// current mode.
package analysis

import (
	"context"
	"errors"
	"time"

	"voxsight/internal/command"
)

var ErrNoFrame = errors.New("no camera frame available")

type Request struct {
	Mode  command.Mode
	Frame []byte // JPEG, may be empty
}

type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
}

var cannedResults = map[command.Mode]string{
	command.ModeObject:   "I can see a smartphone in your hand. It appears to be a black rectangular device with a screen.",
	command.ModeCurrency: "I detected a 100 rupee note. This is a one hundred rupee Indian currency note.",
	command.ModeText:     "The text reads: Welcome to our store. Opening hours are 9 AM to 8 PM Monday through Saturday.",
	command.ModeScene: "I can see you're in an indoor environment. There's a table in front of you with some items on it, " +
		"and there appears to be natural light coming from a window on the left side.",
}

// Canned is the fixed demo result for a mode.
func Canned(mode command.Mode) string {
	if s, ok := cannedResults[mode]; ok {
		return s
	}
	return "Processing complete."
}

// Stub answers with Canned after Delay, ignoring the frame.
type Stub struct {
	Delay time.Duration
}

func NewStub(delay time.Duration) *Stub {
	return &Stub{Delay: delay}
}

func (s *Stub) Analyze(ctx context.Context, req Request) (string, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return Canned(req.Mode), nil
}
