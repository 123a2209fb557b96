package models

import "strings"

// Action is what a schedule does to its device when it fires.
type Action string

const (
	ActionBlock Action = "block"
	ActionAllow Action = "allow"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBlock, ActionAllow:
		return a, nil
	default:
		return "", ValidationError{msg: "action must be 'block' or 'allow'"}
	}
}

// Allows reports whether the action leaves the device on the network.
func (a Action) Allows() bool { return a == ActionAllow }

func ActionFor(allow bool) Action {
	if allow {
		return ActionAllow
	}
	return ActionBlock
}
