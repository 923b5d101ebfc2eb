package sagas

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSaga_CompensatesCompletedStepsInReverse(t *testing.T) {
	// Arrange
	var trail []string
	remoteErr := errors.New("connection reset")
	saga := NewSagaBuilder("update-note", zap.NewNop()).
		WithCompensableStep("apply-local",
			func(ctx context.Context) error { trail = append(trail, "apply"); return nil },
			func(ctx context.Context) error { trail = append(trail, "restore"); return nil },
		).
		WithCompensableStep("mark-pending",
			func(ctx context.Context) error { trail = append(trail, "mark"); return nil },
			func(ctx context.Context) error { trail = append(trail, "unmark"); return nil },
		).
		WithStep("remote-write", func(ctx context.Context) error { return remoteErr }).
		WithStep("reconcile", func(ctx context.Context) error { trail = append(trail, "reconcile"); return nil }).
		Build()

	// Act
	err := saga.Execute(context.Background())

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, remoteErr)
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "remote-write", stepErr.Step)
	assert.NoError(t, stepErr.CompensationErr)
	assert.Equal(t, []string{"apply", "mark", "unmark", "restore"}, trail)
	assert.Equal(t, SagaStateCompensated, saga.GetState())
}

func TestSaga_CompletesAllSteps(t *testing.T) {
	calls := 0
	saga := NewSaga("toggle", nil).
		AddStep(SagaStep{Name: "a", Execute: func(ctx context.Context) error { calls++; return nil }}).
		AddStep(SagaStep{Name: "b", Execute: func(ctx context.Context) error { calls++; return nil }})

	err := saga.Execute(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, SagaStateCompleted, saga.GetState())
	assert.NotEmpty(t, saga.GetID())
}

func TestSaga_RetryableStepSucceedsEventually(t *testing.T) {
	attempts := 0
	saga := NewSagaBuilder("refetch", zap.NewNop()).
		WithRetryableStep("count", func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary")
			}
			return nil
		}, 3, time.Millisecond).
		Build()

	err := saga.Execute(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSaga_RetryableStepGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	countErr := errors.New("timeout")
	saga := NewSagaBuilder("refetch", zap.NewNop()).
		WithRetryableStep("count", func(ctx context.Context) error {
			attempts++
			return countErr
		}, 2, time.Millisecond).
		Build()

	err := saga.Execute(context.Background())

	assert.ErrorIs(t, err, countErr)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, SagaStateCompensated, saga.GetState())
}

func TestSaga_CompensationRunsDespiteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	restored := false
	saga := NewSagaBuilder("delete-note", zap.NewNop()).
		WithCompensableStep("apply-local",
			func(ctx context.Context) error { return nil },
			func(ctx context.Context) error {
				restored = ctx.Err() == nil
				return nil
			},
		).
		WithStep("remote-write", func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		}).
		Build()

	err := saga.Execute(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, restored)
}

func TestSaga_ReportsCompensationFailure(t *testing.T) {
	undoErr := errors.New("snapshot missing")
	saga := NewSagaBuilder("create-note", zap.NewNop()).
		WithCompensableStep("apply-local",
			func(ctx context.Context) error { return nil },
			func(ctx context.Context) error { return undoErr },
		).
		WithStep("remote-write", func(ctx context.Context) error { return errors.New("500") }).
		Build()

	err := saga.Execute(context.Background())

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.ErrorIs(t, stepErr.CompensationErr, undoErr)
	assert.Equal(t, SagaStateFailed, saga.GetState())
}
