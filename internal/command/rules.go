package command

import "strings"

// Rule maps any of its keywords to an action. Rules are tried in slice order.
type Rule struct {
	Name     string
	Keywords []string
	Action   Action
	Mode     Mode
	Response string
}

// Rules is the command table, highest priority first.
var Rules = []Rule{
	{
		Name:     "object",
		Keywords: []string{"detect object", "identify object", "object detection"},
		Action:   ActionSetMode,
		Mode:     ModeObject,
		Response: "Opening camera for object detection. Please point your camera at the object you want to identify.",
	},
	{
		Name:     "currency",
		Keywords: []string{"currency", "money", "note", "bill"},
		Action:   ActionSetMode,
		Mode:     ModeCurrency,
		Response: "Opening camera for currency detection. Please place the currency note in front of the camera.",
	},
	{
		Name:     "text",
		Keywords: []string{"read text", "text", "reading"},
		Action:   ActionSetMode,
		Mode:     ModeText,
		Response: "Opening camera for text reading. Please point your camera at the text you want me to read.",
	},
	{
		Name:     "scene",
		Keywords: []string{"describe scene", "scene", "surroundings"},
		Action:   ActionSetMode,
		Mode:     ModeScene,
		Response: "Opening camera for scene description. I will describe what I can see around you.",
	},
	{
		Name:     "home",
		Keywords: []string{"go back", "home", "main menu"},
		Action:   ActionSetMode,
		Mode:     ModeHome,
		Response: "Going back to main menu. What would you like me to help you with?",
	},
	{
		Name:     "help",
		Keywords: []string{"help", "what can you do"},
		Action:   ActionHelp,
		Response: "I can help you with four things: detect objects, read currency notes, read printed text, " +
			"and describe scenes. Just say what you need help with.",
	},
}

// Result is the outcome of classifying one utterance.
type Result struct {
	Utterance string // normalized
	Rule      string // empty when nothing matched
	Keyword   string
	Action    Action
	Mode      Mode // only meaningful for ActionSetMode
	Response  string
}

// Matched reports whether a rule fired.
func (r Result) Matched() bool {
	return r.Action != ActionUnknown
}

// Apply resolves the mode after this result given the current one.
func (r Result) Apply(current Mode) (Mode, bool) {
	if r.Action != ActionSetMode {
		return current, false
	}
	return r.Mode, r.Mode != current
}

// Classify runs utterance against Rules.
func Classify(utterance string) Result {
	return ClassifyWith(Rules, utterance)
}

// ClassifyWith runs utterance against an arbitrary rule table. Matching is a
// case-insensitive substring test; the first matching rule wins.
func ClassifyWith(rules []Rule, utterance string) Result {
	text := Normalize(utterance)

	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw == "" || !strings.Contains(text, strings.ToLower(kw)) {
				continue
			}
			return Result{
				Utterance: text,
				Rule:      rule.Name,
				Keyword:   kw,
				Action:    rule.Action,
				Mode:      rule.Mode,
				Response:  rule.Response,
			}
		}
	}

	return Result{
		Utterance: text,
		Action:    ActionUnknown,
		Response:  NotUnderstood,
	}
}

func Normalize(utterance string) string {
	return strings.ToLower(strings.TrimSpace(utterance))
}

// ForMode returns the result of the rule that selects mode, as if its first
// keyword had been spoken.
func ForMode(mode Mode) (Result, bool) {
	for _, rule := range Rules {
		if rule.Action != ActionSetMode || rule.Mode != mode {
			continue
		}
		kw := ""
		if len(rule.Keywords) > 0 {
			kw = rule.Keywords[0]
		}
		return Result{
			Utterance: kw,
			Rule:      rule.Name,
			Keyword:   kw,
			Action:    rule.Action,
			Mode:      rule.Mode,
			Response:  rule.Response,
		}, true
	}
	return Result{}, false
}
