package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const (
	OutcomeCompleted  = "completed"
	OutcomeRolledBack = "rolled_back"
	// OutcomeCompensationFailed means a step failed and at least one
	// compensation failed too, so some effects may remain.
	OutcomeCompensationFailed = "compensation_failed"
)

// Step is one unit of a saga. Compensate undoes Action and may be nil when
// the action leaves nothing behind on failure.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports which step failed and what the compensations returned
type StepError struct {
	Step          string
	Err           error
	Compensations error
}

func (e *StepError) Error() string {
	if e.Compensations != nil {
		return fmt.Sprintf("step %s failed: %v (compensation failed: %v)", e.Step, e.Err, e.Compensations)
	}
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

// Unwrap exposes the step error first so callers can match on it
func (e *StepError) Unwrap() []error {
	if e.Compensations == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Compensations}
}

// Saga runs steps in order and undoes completed steps in reverse on failure
type Saga struct {
	name   string
	steps  []Step
	logger ectologger.Logger
}

func New(name string, logger ectologger.Logger) *Saga {
	return &Saga{name: name, logger: logger}
}

// AddStep appends a step and returns the saga for chaining
func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes every step. When step n fails, compensations of steps n-1..1
// run with a context that is not cancelled by ctx, and the returned error is a
// *StepError.
func (s *Saga) Run(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "Saga."+s.name)
	defer span.End()

	for i, step := range s.steps {
		err := step.Action(ctx)
		if err == nil {
			continue
		}

		s.logger.WithContext(ctx).WithError(err).Warnf("Saga %s step %s failed, compensating %d step(s)", s.name, step.Name, i)
		span.RecordError(err)

		compErr := s.compensate(context.WithoutCancel(ctx), s.steps[:i])
		if compErr != nil {
			metrics.RecordSaga(s.name, OutcomeCompensationFailed)
		} else {
			metrics.RecordSaga(s.name, OutcomeRolledBack)
		}
		return &StepError{Step: step.Name, Err: err, Compensations: compErr}
	}

	metrics.RecordSaga(s.name, OutcomeCompleted)
	return nil
}

func (s *Saga) compensate(ctx context.Context, done []Step) error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).Errorf("Saga %s failed to compensate step %s", s.name, step.Name)
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
