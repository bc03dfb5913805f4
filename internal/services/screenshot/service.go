package screenshot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/httpclient"
)

const (
	// All captures use the same viewport so baselines and later snapshots
	// stay pixel-comparable.
	viewportWidth  = 1280
	viewportHeight = 720

	startupTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Service captures page screenshots through a shared headless browser. The
// browser process starts on first capture and is reused until Close.
type Service struct {
	config *common.Config
	logger arbor.ILogger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	started       bool
	closed        bool
}

// NewService creates a screenshot service. No browser is launched until the
// first Capture call.
func NewService(config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		logger: logger,
	}
}

// Capture renders one page in a fresh tab at the fixed viewport, waits
// renderDelay for dynamic content to settle and returns the PNG bytes.
func (s *Service) Capture(ctx context.Context, pageURL string, renderDelay time.Duration) ([]byte, error) {
	if strings.TrimSpace(pageURL) == "" {
		return nil, fmt.Errorf("capture requires a page URL")
	}

	browserCtx, err := s.ensureBrowser()
	if err != nil {
		return nil, err
	}

	if renderDelay < 0 {
		renderDelay = 0
	}

	// A new tab per capture keeps page state from leaking between URLs and
	// lets a timeout kill the tab without wedging the shared browser.
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	captureCtx, cancel := context.WithTimeout(tabCtx, s.captureTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	start := time.Now()
	var png []byte
	err = chromedp.Run(captureCtx,
		emulation.SetDeviceMetricsOverride(viewportWidth, viewportHeight, 1, false),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(renderDelay),
		chromedp.CaptureScreenshot(&png),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to capture %s: %w", pageURL, err)
	}

	s.logger.Debug().
		Str("url", pageURL).
		Int("bytes", len(png)).
		Dur("duration", time.Since(start)).
		Msg("Screenshot captured")

	return png, nil
}

// Close shuts the shared browser down. Safe to call before any capture and
// safe to call twice.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if !s.started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.browserCancel()
		s.allocCancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn().Msg("Browser shutdown timed out")
	}

	s.started = false
	s.logger.Info().Msg("Headless browser stopped")
	return nil
}

// ensureBrowser starts the shared browser on first use. The startup test
// navigation confirms the binary actually launched before any capture is
// attempted against it.
func (s *Service) ensureBrowser() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("screenshot service is closed")
	}
	if s.started {
		return s.browserCtx, nil
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(httpclient.DefaultUserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, startupTimeout)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.allocCancel = allocCancel
	s.started = true

	s.logger.Info().
		Int("viewport_width", viewportWidth).
		Int("viewport_height", viewportHeight).
		Msg("Headless browser started")

	return browserCtx, nil
}

func (s *Service) captureTimeout() time.Duration {
	timeout := time.Duration(s.config.Checks.CaptureTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return timeout
}
