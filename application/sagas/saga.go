package sagas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SagaStep represents a single step in a saga. Steps share state through
// their closures; a step without Compensate leaves nothing to undo.
type SagaStep struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
	MaxRetries int
	RetryDelay time.Duration
}

// SagaState represents the current state of a saga execution
type SagaState string

const (
	SagaStatePending      SagaState = "PENDING"
	SagaStateRunning      SagaState = "RUNNING"
	SagaStateCompleted    SagaState = "COMPLETED"
	SagaStateFailed       SagaState = "FAILED"
	SagaStateCompensating SagaState = "COMPENSATING"
	SagaStateCompensated  SagaState = "COMPENSATED"
)

// StepError reports the step that failed and whether undoing the completed
// steps failed too.
type StepError struct {
	Saga            string
	Step            string
	Err             error
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("saga %s failed at step %s and compensation failed: %v (compensation: %v)", e.Saga, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("saga %s failed at step %s: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Saga runs steps in order and, when one fails, compensates the completed
// ones in reverse order. Optimistic mutations run as a saga whose first step
// writes locally and whose compensation restores the snapshot.
type Saga struct {
	id     string
	name   string
	steps  []SagaStep
	state  SagaState
	logger *zap.Logger
}

// NewSaga creates a new saga instance
func NewSaga(name string, logger *zap.Logger) *Saga {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Saga{
		id:     id,
		name:   name,
		steps:  make([]SagaStep, 0, 3),
		state:  SagaStatePending,
		logger: logger.With(zap.String("saga_id", id), zap.String("saga_name", name)),
	}
}

// AddStep adds a step to the saga
func (s *Saga) AddStep(step SagaStep) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs the saga. On failure the returned error is a *StepError
// wrapping the step's error.
func (s *Saga) Execute(ctx context.Context) error {
	s.state = SagaStateRunning
	s.logger.Debug("Starting saga execution", zap.Int("total_steps", len(s.steps)))

	completed := make([]SagaStep, 0, len(s.steps))
	for _, step := range s.steps {
		if err := s.executeStepWithRetry(ctx, step); err != nil {
			s.state = SagaStateFailed
			s.logger.Warn("Saga step failed",
				zap.String("step_name", step.Name),
				zap.Error(err),
			)

			stepErr := &StepError{Saga: s.name, Step: step.Name, Err: err}
			stepErr.CompensationErr = s.compensate(ctx, completed)
			if stepErr.CompensationErr != nil {
				s.state = SagaStateFailed
				s.logger.Error("Saga compensation failed", zap.Error(stepErr.CompensationErr))
			} else {
				s.state = SagaStateCompensated
			}
			return stepErr
		}
		completed = append(completed, step)
	}

	s.state = SagaStateCompleted
	s.logger.Debug("Saga completed successfully", zap.Int("completed_steps", len(completed)))
	return nil
}

// executeStepWithRetry executes a step with retry logic
func (s *Saga) executeStepWithRetry(ctx context.Context, step SagaStep) error {
	maxRetries := step.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryDelay := step.RetryDelay
	if retryDelay == 0 {
		retryDelay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Debug("Retrying saga step",
				zap.String("step_name", step.Name),
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", maxRetries),
			)
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		err := step.Execute(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if maxRetries == 1 {
		return lastErr
	}
	return fmt.Errorf("step %s failed after %d attempts: %w", step.Name, maxRetries, lastErr)
}

// compensate runs compensation logic in reverse order. Every compensation
// runs even when an earlier one fails; the failures are joined.
func (s *Saga) compensate(ctx context.Context, completed []SagaStep) error {
	s.state = SagaStateCompensating
	// Compensations restore local state and must not be skipped because
	// the caller's context was cancelled.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.Error("Compensation failed",
				zap.String("step_name", step.Name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}

// GetState returns the current state of the saga
func (s *Saga) GetState() SagaState {
	return s.state
}

// GetID returns the saga ID
func (s *Saga) GetID() string {
	return s.id
}

// SagaBuilder provides a fluent interface for building sagas
type SagaBuilder struct {
	saga *Saga
}

// NewSagaBuilder creates a new saga builder
func NewSagaBuilder(name string, logger *zap.Logger) *SagaBuilder {
	return &SagaBuilder{
		saga: NewSaga(name, logger),
	}
}

// WithStep adds a step to the saga
func (b *SagaBuilder) WithStep(name string, execute func(context.Context) error) *SagaBuilder {
	b.saga.AddStep(SagaStep{
		Name:    name,
		Execute: execute,
	})
	return b
}

// WithCompensableStep adds a step with compensation logic
func (b *SagaBuilder) WithCompensableStep(
	name string,
	execute func(context.Context) error,
	compensate func(context.Context) error,
) *SagaBuilder {
	b.saga.AddStep(SagaStep{
		Name:       name,
		Execute:    execute,
		Compensate: compensate,
	})
	return b
}

// WithRetryableStep adds a step with retry logic
func (b *SagaBuilder) WithRetryableStep(
	name string,
	execute func(context.Context) error,
	maxRetries int,
	retryDelay time.Duration,
) *SagaBuilder {
	b.saga.AddStep(SagaStep{
		Name:       name,
		Execute:    execute,
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
	})
	return b
}

// Build returns the constructed saga
func (b *SagaBuilder) Build() *Saga {
	return b.saga
}
