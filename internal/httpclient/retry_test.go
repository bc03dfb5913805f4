package httpclient

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestShouldRetry(t *testing.T) {
	policy := NewRetryPolicy()

	assert.True(t, policy.ShouldRetry(0, 429, nil))
	assert.True(t, policy.ShouldRetry(1, 503, nil))
	assert.True(t, policy.ShouldRetry(0, 408, nil))

	assert.False(t, policy.ShouldRetry(0, 404, nil))
	assert.False(t, policy.ShouldRetry(0, 403, nil))
	assert.False(t, policy.ShouldRetry(0, 200, nil))

	// Attempt budget exhausted.
	assert.False(t, policy.ShouldRetry(3, 503, nil))

	// Connection-level failures retry, plain errors do not.
	assert.True(t, policy.ShouldRetry(0, 0, &net.OpError{Op: "dial", Err: fmt.Errorf("refused")}))
	assert.True(t, policy.ShouldRetry(0, 0, context.DeadlineExceeded))
	assert.False(t, policy.ShouldRetry(0, 0, fmt.Errorf("parse failure")))
}

func TestCalculateBackoffStaysInJitterWindow(t *testing.T) {
	policy := NewRetryPolicy()

	for attempt := 0; attempt < 3; attempt++ {
		expected := float64(policy.InitialBackoff)
		for i := 0; i < attempt; i++ {
			expected *= policy.BackoffMultiplier
		}

		for i := 0; i < 20; i++ {
			backoff := policy.CalculateBackoff(attempt)
			assert.GreaterOrEqual(t, float64(backoff), expected*0.74)
			assert.LessOrEqual(t, float64(backoff), expected*1.26)
		}
	}
}

func TestExecuteWithRetryEventuallySucceeds(t *testing.T) {
	policy := NewRetryPolicy()
	policy.InitialBackoff = time.Millisecond
	logger := arbor.NewLogger()

	calls := 0
	status, err := policy.ExecuteWithRetry(context.Background(), logger, func() (int, error) {
		calls++
		if calls < 3 {
			return 503, nil
		}
		return 200, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetryStopsOnNonRetryable(t *testing.T) {
	policy := NewRetryPolicy()
	policy.InitialBackoff = time.Millisecond
	logger := arbor.NewLogger()

	calls := 0
	status, err := policy.ExecuteWithRetry(context.Background(), logger, func() (int, error) {
		calls++
		return 404, fmt.Errorf("not found")
	})

	require.Error(t, err)
	assert.Equal(t, 404, status)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithRetryHonorsContext(t *testing.T) {
	policy := NewRetryPolicy()
	policy.InitialBackoff = 50 * time.Millisecond
	logger := arbor.NewLogger()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := policy.ExecuteWithRetry(ctx, logger, func() (int, error) {
		return 503, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
