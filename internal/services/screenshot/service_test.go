package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := common.NewDefaultConfig()
	svc := NewService(cfg, arbor.NewLogger())
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// requireChrome skips tests that need a real browser binary.
func requireChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no chrome binary available")
}

func TestCaptureRequiresURL(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Capture(context.Background(), "", time.Second)
	assert.Error(t, err)

	_, err = svc.Capture(context.Background(), "   ", time.Second)
	assert.Error(t, err)
}

func TestCloseBeforeStartIsNoop(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

func TestCaptureAfterCloseFails(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Close())

	_, err := svc.Capture(context.Background(), "https://example.com", 0)
	assert.Error(t, err)
}

func TestCaptureTimeoutFallsBackToDefault(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Checks.CaptureTimeoutSeconds = 0
	svc := NewService(cfg, arbor.NewLogger())
	assert.Equal(t, 60*time.Second, svc.captureTimeout())

	cfg.Checks.CaptureTimeoutSeconds = 15
	assert.Equal(t, 15*time.Second, svc.captureTimeout())
}

func TestCaptureProducesViewportSizedPNG(t *testing.T) {
	requireChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Capture</title></head><body style="background:#fff"><h1>hello</h1></body></html>`)
	}))
	t.Cleanup(server.Close)

	svc := newTestService(t)
	data, err := svc.Capture(context.Background(), server.URL, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	bounds := img.Bounds()
	assert.Equal(t, viewportWidth, bounds.Dx())
	assert.Equal(t, viewportHeight, bounds.Dy())
}

func TestCaptureHonorsCallerContext(t *testing.T) {
	requireChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>slow</body></html>`)
	}))
	t.Cleanup(server.Close)

	svc := newTestService(t)

	// Warm the browser so cancellation hits the capture, not startup.
	_, err := svc.Capture(context.Background(), server.URL, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Capture(ctx, server.URL, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
