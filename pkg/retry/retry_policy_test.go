package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)
	policy.RandomizeFactor = 0

	calls := 0
	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	policy := NewRetryPolicy(2, time.Millisecond)
	sentinel := errors.New("refused")

	err := policy.Execute(context.Background(), func(context.Context) error { return sentinel })

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "all 2 attempts failed")
}

func TestExecuteWithCondition_StopsOnPermanentError(t *testing.T) {
	policy := NewRetryPolicy(5, time.Millisecond)
	permanent := errors.New("password authentication failed")

	calls := 0
	err := policy.ExecuteWithCondition(context.Background(), func(context.Context) error {
		calls++
		return permanent
	}, func(error) bool { return false })

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := NewRetryPolicy(3, time.Hour)
	err := policy.Execute(ctx, func(context.Context) error { return errors.New("down") })

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_GrowsToCap(t *testing.T) {
	policy := PollPolicy(10*time.Millisecond, 40*time.Millisecond)
	policy.RandomizeFactor = 0
	b := policy.NewBackoff()

	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
}

func TestCalculateDelay_Jitter(t *testing.T) {
	policy := NewRetryPolicy(3, 100*time.Millisecond)
	for i := 0; i < 20; i++ {
		d := policy.calculateDelay(0)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
