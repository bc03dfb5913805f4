package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/vigil/internal/models"
)

// PageCrawler discovers pages starting at a root URL. Per-page fetch
// failures are recorded as broken links and do not abort the crawl.
type PageCrawler interface {
	Crawl(ctx context.Context, startURL string, maxDepth int, excludeKeywords []string) (*models.CrawlResult, error)
}

// ScreenshotService captures one page as a PNG with a deterministic
// 1280x720 viewport after waiting renderDelay for the page to settle.
type ScreenshotService interface {
	Capture(ctx context.Context, url string, renderDelay time.Duration) ([]byte, error)
	Close() error
}

// DiffResult is the outcome of comparing one snapshot against a baseline.
type DiffResult struct {
	DiffPercent float64
	DiffImage   []byte
}

// VisualDiffer computes the per-pixel difference between two PNG images.
type VisualDiffer interface {
	Compare(baselinePNG, currentPNG []byte) (*DiffResult, error)
}

// BlurAnalysis carries the two blur signals for one image. The dispatcher
// applies the configured thresholds to reach a verdict.
type BlurAnalysis struct {
	Variance         float64
	SpatialBlurRatio float64
}

// BlurAnalyzer computes blur signals from raw image data.
type BlurAnalyzer interface {
	AnalyzeImage(data []byte) (*BlurAnalysis, error)
}

// ImageDownloader normalizes and fetches image URLs found during a crawl.
type ImageDownloader interface {
	// NormalizeURL resolves an image reference against its page and rejects
	// unusable sources (data URIs, tracking hosts). ok is false when the
	// image should be skipped.
	NormalizeURL(rawURL, pageURL string) (normalized string, ok bool)

	// Download fetches the image with bounded retries, returning the bytes
	// and content type. Non-image content types return an error.
	Download(ctx context.Context, imageURL string) (data []byte, contentType string, err error)
}

// PerformanceAnalyzer measures one page and returns mobile and desktop
// scores plus an issue list.
type PerformanceAnalyzer interface {
	Analyze(ctx context.Context, pageURL string) (*models.PageScore, error)

	// Enabled reports whether the analyzer is configured (API key present).
	Enabled() bool
}

// EmailSender delivers one report. No retry inside this layer.
type EmailSender interface {
	Send(ctx context.Context, recipients []string, subject, htmlBody, textBody string) error

	// Enabled reports whether the transport is configured.
	Enabled() bool
}

// ErrNoBaselines is returned by the dispatcher when a visual comparison is
// requested for a website with no stored baselines. The message is shown to
// users verbatim, hence the sentence casing.
var ErrNoBaselines = errors.New("Please first create baselines, then do the visual check.")

// CheckDispatcher composes the four analyses into one check run. Callers
// must never overlap invocations; the dispatcher also guards itself with a
// process-wide mutex.
type CheckDispatcher interface {
	RunCheck(ctx context.Context, website *models.Website, cfg models.CheckConfig, isManual bool) (*models.CheckRecord, error)
}
