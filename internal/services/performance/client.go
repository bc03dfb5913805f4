package performance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/httpclient"
	"github.com/ternarybob/vigil/internal/models"
)

// analyzeTimeout covers one API call. The service runs a full lighthouse
// pass on the far side, so this is much longer than a plain page fetch.
const analyzeTimeout = 60 * time.Second

// failingAuditCeiling is the lighthouse score below which an audit is
// reported as an issue.
const failingAuditCeiling = 0.9

// Client measures pages through a PageSpeed-style HTTP API. Each page is
// analyzed twice, once per strategy, and the scores land in one PageScore.
type Client struct {
	config  *common.Config
	client  *http.Client
	retry   *httpclient.RetryPolicy
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewClient creates a performance client. Requests are paced to one per
// second to stay inside the API's free quota.
func NewClient(config *common.Config, logger arbor.ILogger) *Client {
	return &Client{
		config:  config,
		client:  httpclient.NewDefaultHTTPClient(analyzeTimeout),
		retry:   httpclient.NewRetryPolicy(),
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:  logger,
	}
}

// Enabled reports whether an API key is configured. Without one the
// performance phase is skipped entirely.
func (c *Client) Enabled() bool {
	return c.config.Checks.PerformanceAPIKey != ""
}

// Analyze runs the mobile and desktop strategies for one page and merges
// the results.
func (c *Client) Analyze(ctx context.Context, pageURL string) (*models.PageScore, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("performance analyzer is not configured")
	}

	mobileScore, mobileIssues, err := c.runStrategy(ctx, pageURL, "mobile")
	if err != nil {
		return nil, fmt.Errorf("mobile analysis failed for %s: %w", pageURL, err)
	}

	desktopScore, desktopIssues, err := c.runStrategy(ctx, pageURL, "desktop")
	if err != nil {
		return nil, fmt.Errorf("desktop analysis failed for %s: %w", pageURL, err)
	}

	score := &models.PageScore{
		URL:          pageURL,
		MobileScore:  mobileScore,
		DesktopScore: desktopScore,
		Issues:       mergeIssues(mobileIssues, desktopIssues),
	}

	c.logger.Debug().
		Str("url", pageURL).
		Int("mobile_score", score.MobileScore).
		Int("desktop_score", score.DesktopScore).
		Int("issues", len(score.Issues)).
		Msg("Page analyzed")

	return score, nil
}

type pagespeedAudit struct {
	Title        string   `json:"title"`
	Score        *float64 `json:"score"`
	DisplayValue string   `json:"displayValue"`
}

type pagespeedResponse struct {
	LighthouseResult struct {
		Categories struct {
			Performance struct {
				Score *float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
		Audits map[string]pagespeedAudit `json:"audits"`
	} `json:"lighthouseResult"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// runStrategy calls the API once and maps the lighthouse payload to a
// 0-100 score plus the titles of failing audits.
func (c *Client) runStrategy(ctx context.Context, pageURL, strategy string) (int, []string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	requestURL := c.buildRequestURL(pageURL, strategy)

	var parsed pagespeedResponse
	_, err := c.retry.ExecuteWithRetry(ctx, c.logger, func() (int, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if reqErr != nil {
			return 0, reqErr
		}
		req.Header.Set("Accept", "application/json")

		resp, doErr := c.client.Do(req)
		if doErr != nil {
			return 0, doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Drain so the connection can be reused across retries.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
		}

		parsed = pagespeedResponse{}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", decodeErr)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return 0, nil, err
	}

	if parsed.Error != nil {
		return 0, nil, fmt.Errorf("api error: %s", parsed.Error.Message)
	}

	categoryScore := parsed.LighthouseResult.Categories.Performance.Score
	if categoryScore == nil {
		return 0, nil, fmt.Errorf("response carries no performance score")
	}

	var issues []string
	for _, audit := range parsed.LighthouseResult.Audits {
		if audit.Score == nil || *audit.Score >= failingAuditCeiling || audit.Title == "" {
			continue
		}
		issue := audit.Title
		if audit.DisplayValue != "" {
			issue = fmt.Sprintf("%s (%s)", audit.Title, audit.DisplayValue)
		}
		issues = append(issues, issue)
	}
	sort.Strings(issues)

	return int(math.Round(*categoryScore * 100)), issues, nil
}

func (c *Client) buildRequestURL(pageURL, strategy string) string {
	params := url.Values{}
	params.Set("url", pageURL)
	params.Set("strategy", strategy)
	params.Set("category", "performance")
	params.Set("key", c.config.Checks.PerformanceAPIKey)
	return c.config.Checks.PerformanceAPIURL + "?" + params.Encode()
}

// mergeIssues unions the per-strategy issue lists, deduplicated and sorted
// for stable report output.
func mergeIssues(mobile, desktop []string) []string {
	seen := make(map[string]bool, len(mobile)+len(desktop))
	var merged []string
	for _, list := range [][]string{mobile, desktop} {
		for _, issue := range list {
			if !seen[issue] {
				seen[issue] = true
				merged = append(merged, issue)
			}
		}
	}
	sort.Strings(merged)
	return merged
}
