// Package saga runs an ordered list of steps against independent resources
// and undoes the completed ones in reverse when a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/timecapsule/internal/observability"
	"go.uber.org/zap"
)

// Step is one forward action and its compensation. Undo may be nil for steps
// with nothing to roll back.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// CompensationFailure records an undo step that did not run cleanly. Each one
// needs manual reconciliation.
type CompensationFailure struct {
	Saga string
	Step string
	Err  error
}

func (f CompensationFailure) String() string {
	return fmt.Sprintf("%s/%s: %v", f.Saga, f.Step, f.Err)
}

// Error is returned when a forward step fails. It unwraps to the step's error.
type Error struct {
	Saga          string
	FailedStep    string
	Cause         error
	Compensations []CompensationFailure
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("saga %s failed at %s: %v", e.Saga, e.FailedStep, e.Cause)
	if len(e.Compensations) == 0 {
		return msg
	}

	parts := make([]string, 0, len(e.Compensations))
	for _, c := range e.Compensations {
		parts = append(parts, c.String())
	}
	return msg + "; compensation failed: " + strings.Join(parts, ", ")
}

func (e *Error) Unwrap() error { return e.Cause }

// Compensated reports whether every undo step succeeded.
func (e *Error) Compensated() bool { return len(e.Compensations) == 0 }

// CompensationRecorder is notified of every failed undo step.
type CompensationRecorder interface {
	IncCompensationFailure(saga string, step string)
}

type Saga struct {
	name     string
	steps    []Step
	logger   *zap.Logger
	recorder CompensationRecorder
}

func New(name string, logger *zap.Logger, recorder CompensationRecorder) *Saga {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saga{name: name, logger: logger, recorder: recorder}
}

func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the steps in order. Compensation runs on a context detached
// from ctx's cancellation so a cancelled request still cleans up.
func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Do(ctx); err != nil {
			failures := s.compensate(context.WithoutCancel(ctx), i)
			return &Error{Saga: s.name, FailedStep: step.Name, Cause: err, Compensations: failures}
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, failedAt int) []CompensationFailure {
	var failures []CompensationFailure
	for i := failedAt - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Undo == nil {
			continue
		}

		if err := runUndo(ctx, step); err != nil {
			failure := CompensationFailure{Saga: s.name, Step: step.Name, Err: err}
			failures = append(failures, failure)
			observability.LogCritical(s.logger, "saga compensation failed",
				zap.String("saga", s.name),
				zap.String("step", step.Name),
				zap.String("failedStep", s.steps[failedAt].Name),
				zap.Error(err),
			)
			if s.recorder != nil {
				s.recorder.IncCompensationFailure(s.name, step.Name)
			}
			continue
		}

		s.logger.Info("saga step compensated", zap.String("saga", s.name), zap.String("step", step.Name))
	}
	return failures
}

func runUndo(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("undo panicked: %v", r)
		}
	}()
	return step.Undo(ctx)
}

// AsError extracts a saga error from err.
func AsError(err error) (*Error, bool) {
	var sagaErr *Error
	if errors.As(err, &sagaErr) {
		return sagaErr, true
	}
	return nil, false
}
