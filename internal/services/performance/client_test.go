package performance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/httpclient"
)

func newTestClient(t *testing.T, apiURL string) *Client {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Checks.PerformanceAPIKey = "test-key"
	cfg.Checks.PerformanceAPIURL = apiURL

	c := NewClient(cfg, arbor.NewLogger())
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.retry = &httpclient.RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	return c
}

func lighthouseBody(score float64, failingAudit string) string {
	audits := `{}`
	if failingAudit != "" {
		audits = fmt.Sprintf(`{"lcp": {"title": %q, "score": 0.4, "displayValue": "4.2 s"}, "fast": {"title": "Speedy thing", "score": 1.0}}`, failingAudit)
	}
	return fmt.Sprintf(`{"lighthouseResult": {"categories": {"performance": {"score": %f}}, "audits": %s}}`, score, audits)
}

func TestAnalyzeScoresBothStrategies(t *testing.T) {
	var sawKey, sawURL atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawKey.Store(r.URL.Query().Get("key"))
		sawURL.Store(r.URL.Query().Get("url"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("strategy") {
		case "mobile":
			fmt.Fprint(w, lighthouseBody(0.83, "Largest Contentful Paint"))
		case "desktop":
			fmt.Fprint(w, lighthouseBody(0.91, "Largest Contentful Paint"))
		default:
			http.Error(w, "missing strategy", http.StatusBadRequest)
		}
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	score, err := c.Analyze(context.Background(), "https://example.com/pricing")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/pricing", score.URL)
	assert.Equal(t, 83, score.MobileScore)
	assert.Equal(t, 91, score.DesktopScore)
	assert.Equal(t, []string{"Largest Contentful Paint (4.2 s)"}, score.Issues)

	assert.Equal(t, "test-key", sawKey.Load())
	assert.Equal(t, "https://example.com/pricing", sawURL.Load())
}

func TestAnalyzeRetriesOnTooManyRequests(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) < 3 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, lighthouseBody(0.75, ""))
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	score, err := c.Analyze(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, 75, score.MobileScore)
	assert.Equal(t, 75, score.DesktopScore)
	// Two 429s on the mobile pass, then clean responses.
	assert.EqualValues(t, 4, atomic.LoadInt64(&hits))
}

func TestAnalyzeSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error": {"message": "quota exceeded"}}`)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	_, err := c.Analyze(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestAnalyzeMissingScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"lighthouseResult": {"categories": {}, "audits": {}}}`)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	_, err := c.Analyze(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no performance score")
}

func TestAnalyzeWithoutKeyFails(t *testing.T) {
	cfg := common.NewDefaultConfig()
	c := NewClient(cfg, arbor.NewLogger())

	assert.False(t, c.Enabled())
	_, err := c.Analyze(context.Background(), "https://example.com")
	assert.Error(t, err)
}

func TestEnabledWithKey(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Checks.PerformanceAPIKey = "k"
	assert.True(t, NewClient(cfg, arbor.NewLogger()).Enabled())
}
