// Package retry implements exponential backoff with jitter for connection
// attempts and export completion polling.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        5 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// Execute runs fn until it succeeds, the attempts run out or ctx is done
func (rp *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return rp.ExecuteWithCondition(ctx, fn, func(error) bool { return true })
}

// ExecuteWithCondition runs fn with retry only while shouldRetry approves the error
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func(ctx context.Context) error, shouldRetry func(error) bool) error {
	var lastErr error
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Don't wait after the last attempt
		if attempt == attempts-1 {
			break
		}

		if err := Sleep(ctx, rp.calculateDelay(attempt)); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// calculateDelay calculates the delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	multiplier := rp.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(rp.InitialDelay) * math.Pow(multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// Apply randomization factor (jitter)
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta

		delay = minDelay + (rand.Float64() * (maxDelay - minDelay)) //nolint:gosec // jitter only
	}

	return time.Duration(delay)
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// PollPolicy returns an unbounded policy for completion polling between
// initial and max; the caller bounds the total wait with a deadline.
func PollPolicy(initial, max time.Duration) *RetryPolicy {
	return &RetryPolicy{
		InitialDelay:    initial,
		MaxDelay:        max,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
	}
}

// Backoff hands out successive delays of a policy
type Backoff struct {
	policy  *RetryPolicy
	attempt int
}

// NewBackoff starts a delay sequence at attempt zero
func (rp *RetryPolicy) NewBackoff() *Backoff {
	return &Backoff{policy: rp}
}

// Next returns the next delay and advances the sequence
func (b *Backoff) Next() time.Duration {
	d := b.policy.calculateDelay(b.attempt)
	if b.policy.MaxDelay <= 0 || d < b.policy.MaxDelay {
		b.attempt++
	}
	return d
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
