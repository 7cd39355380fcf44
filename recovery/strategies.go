package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/wudi/pdfstamp/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx context.Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy repairs what it can and records every problem it saw.
type LenientStrategy struct {
	mu     sync.Mutex
	log    observability.Logger
	Errors []error
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{log: observability.NopLogger{}}
}

// WithLogger reports recovered problems as warnings.
func (s *LenientStrategy) WithLogger(log observability.Logger) *LenientStrategy {
	if log != nil {
		s.log = log
	}
	return s
}

func (s *LenientStrategy) OnError(ctx context.Context, err error, location Location) Action {
	s.mu.Lock()
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	s.mu.Unlock()
	s.log.Warn("recovering from malformed input",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Error("error", err))
	return ActionFix
}

// Problems returns a copy of the recorded errors.
func (s *LenientStrategy) Problems() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.Errors))
	copy(out, s.Errors)
	return out
}
