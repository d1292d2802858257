package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)

	assert.False(t, policy.ShouldRetry(nil, 1))
	assert.True(t, policy.ShouldRetry(assert.AnError, 1))
	assert.True(t, policy.ShouldRetry(assert.AnError, 2))
	assert.False(t, policy.ShouldRetry(assert.AnError, 3))
	assert.False(t, policy.ShouldRetry(context.Canceled, 1))
}

func TestNewExponentialRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(0, 0, 0)
	assert.Equal(t, 3, policy.MaxAttempts())
	assert.True(t, policy.ShouldRetry(assert.AnError, 2))
	assert.False(t, policy.ShouldRetry(assert.AnError, 3))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(10, 100*time.Millisecond, time.Second)

	for attempt := range 8 {
		delay := policy.Backoff(attempt)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, time.Second)
	}

	// Deep into the schedule the delay sits at the cap: at least half of it
	// even before jitter.
	assert.GreaterOrEqual(t, policy.Backoff(8), 500*time.Millisecond)
}
