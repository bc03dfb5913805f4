package httpclient

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
)

// jitterFraction spreads backoff by ±25% so parallel checks against the
// same struggling host do not retry in lockstep.
const jitterFraction = 0.25

// RetryPolicy drives bounded retries with exponential backoff for outbound
// requests (image downloads, performance API calls).
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewRetryPolicy returns the default policy: three attempts, one second
// initial backoff, doubling per attempt, capped at thirty seconds.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ShouldRetry reports whether another attempt is allowed. A response status
// takes precedence over the transport error when both are present.
func (p *RetryPolicy) ShouldRetry(attempt int, statusCode int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if statusCode > 0 {
		return p.retryableStatus(statusCode)
	}
	return isRetryableError(err)
}

// CalculateBackoff returns the delay before the attempt after the given one:
// exponential, capped at MaxBackoff, jittered.
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt))
	backoff = math.Min(backoff, float64(p.MaxBackoff))

	jitter := 1 + jitterFraction*(rand.Float64()*2-1)
	return time.Duration(backoff * jitter)
}

// ExecuteWithRetry runs fn until it succeeds or the policy gives up. fn
// reports the HTTP status it saw (0 when the request never completed).
// Backoff waits are cut short when the context ends.
func (p *RetryPolicy) ExecuteWithRetry(ctx context.Context, logger arbor.ILogger, fn func() (int, error)) (int, error) {
	var status int
	var err error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := p.CalculateBackoff(attempt - 1)
			logger.Debug().
				Int("attempt", attempt).
				Int("status", status).
				Err(err).
				Dur("backoff", wait).
				Msg("Retrying request")

			select {
			case <-ctx.Done():
				return status, ctx.Err()
			case <-time.After(wait):
			}
		}

		status, err = fn()
		if err == nil && !p.retryableStatus(status) {
			return status, nil
		}
		if !p.ShouldRetry(attempt, status, err) {
			return status, err
		}
	}

	logger.Warn().
		Int("attempts", p.MaxAttempts).
		Int("status", status).
		Err(err).
		Msg("Retry budget exhausted")
	return status, err
}

// retryableStatus reports whether a response status is worth another
// attempt. Client errors other than 408 and 429 never recover by retrying.
func (p *RetryPolicy) retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// OpError covers dial/read/write failures; check it before the generic
	// net.Error timeout probe since OpError satisfies that interface too.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
