// Package recovery decides how the reader reacts to malformed input.
package recovery

import "context"

type Strategy interface {
	OnError(ctx context.Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	default:
		return "fail"
	}
}

// Decide asks s about err. A nil strategy fails.
func Decide(ctx context.Context, s Strategy, err error, loc Location) Action {
	if s == nil {
		return ActionFail
	}
	return s.OnError(ctx, err, loc)
}
