package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step is one unit of a saga. Compensate undoes a completed Execute and receives the
// error of the step that failed later on.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context, cause error) error
}

// StepError describes a failed saga run. It unwraps to the step's own error, so
// errors.As on a StepError reaches the original cause.
type StepError struct {
	Saga  string
	Step  string
	Index int
	Err   error
	// CompensationErr joins every compensation failure, nil when all succeeded.
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Saga orchestrates a series of steps with automatic compensation on failure.
type Saga struct {
	name  string
	steps []Step
}

// New creates a new saga with the given name.
func New(name string) *Saga {
	return &Saga{name: name}
}

// AddStep adds a step to the saga.
func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs all steps in order. If one fails, every previously completed step is
// compensated in reverse order and a *StepError is returned.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &StepError{
				Saga:            s.name,
				Step:            step.Name,
				Index:           i,
				Err:             err,
				CompensationErr: s.compensate(ctx, i, err),
			}
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, failed int, cause error) error {
	var errs []error
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx, cause); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
