package blur

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/httpclient"
)

// maxImageBytes caps downloads so one oversized asset cannot blow the
// check's memory budget.
const maxImageBytes = 10 * 1024 * 1024

// trackingHosts are analytics pixel endpoints that masquerade as images.
// Matching is by host suffix.
var trackingHosts = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"scorecardresearch.com",
	"quantserve.com",
	"bat.bing.com",
}

// Downloader fetches crawl-discovered images for blur analysis.
type Downloader struct {
	client   *http.Client
	retry    *httpclient.RetryPolicy
	logger   arbor.ILogger
	maxBytes int64
}

// NewDownloader creates an image downloader with bounded retries.
func NewDownloader(config *common.Config, logger arbor.ILogger) *Downloader {
	timeout := time.Duration(config.Checks.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Downloader{
		client:   httpclient.NewDefaultHTTPClient(timeout),
		retry:    httpclient.NewRetryPolicy(),
		logger:   logger,
		maxBytes: maxImageBytes,
	}
}

// NormalizeURL resolves an image reference against its page URL and decides
// whether it is worth downloading. Data URIs and tracking pixels are
// rejected; plain HTTP is upgraded to HTTPS.
func (d *Downloader) NormalizeURL(rawURL, pageURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || strings.HasPrefix(strings.ToLower(rawURL), "data:") {
		return "", false
	}

	page, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}

	// Protocol-relative references inherit HTTPS regardless of the page.
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}

	resolved, err := page.Parse(rawURL)
	if err != nil {
		return "", false
	}

	switch resolved.Scheme {
	case "https":
	case "http":
		resolved.Scheme = "https"
	default:
		return "", false
	}

	if isTrackingHost(resolved.Host) {
		return "", false
	}

	resolved.Fragment = ""
	return resolved.String(), true
}

// Download fetches one image with retries on transient failures. The
// response must carry an image/* content type and fit under the size cap.
func (d *Downloader) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	var data []byte
	var contentType string

	_, err := d.retry.ExecuteWithRetry(ctx, d.logger, func() (int, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if reqErr != nil {
			return 0, reqErr
		}
		req.Header.Set("User-Agent", httpclient.DefaultUserAgent)
		req.Header.Set("Accept", "image/*")

		resp, doErr := d.client.Do(req)
		if doErr != nil {
			return 0, doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
		}

		ct := resp.Header.Get("Content-Type")
		if !isImageContentType(ct) {
			return resp.StatusCode, fmt.Errorf("not an image: %s", ct)
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
		if readErr != nil {
			return resp.StatusCode, readErr
		}
		if int64(len(body)) > d.maxBytes {
			return resp.StatusCode, fmt.Errorf("image exceeds %d byte limit", d.maxBytes)
		}

		data = body
		contentType = ct
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", imageURL, err)
	}

	return data, contentType, nil
}

func isImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}

func isTrackingHost(host string) bool {
	host = strings.ToLower(host)
	for _, tracker := range trackingHosts {
		if host == tracker || strings.HasSuffix(host, "."+tracker) {
			return true
		}
	}
	return false
}
