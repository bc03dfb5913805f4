package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/httpclient"
	"github.com/ternarybob/vigil/internal/models"
)

const (
	// fetchPacing is the polite delay between page fetches.
	fetchPacing = 100 * time.Millisecond

	// maxExternalChecks bounds the reachability sweep so a link farm
	// cannot stall the whole check run.
	maxExternalChecks = 50
)

// Service crawls a website breadth-first from its root URL, collecting the
// page list, broken links, meta-tag coverage and an image inventory for the
// downstream check phases.
type Service struct {
	config *common.Config
	client *http.Client
	logger arbor.ILogger
}

// NewService creates a crawler with a bounded-timeout HTTP client.
func NewService(config *common.Config, logger arbor.ILogger) *Service {
	timeout := time.Duration(config.Checks.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Service{
		config: config,
		client: httpclient.NewDefaultHTTPClient(timeout),
		logger: logger,
	}
}

type frontierEntry struct {
	url      *url.URL
	referrer string
	depth    int
}

// Crawl walks the site breadth-first up to maxDepth, staying on the start
// URL's host and skipping pages whose path matches an exclusion keyword.
// Per-page fetch failures become broken-link entries; only an unreachable
// root page fails the crawl as a whole.
func (s *Service) Crawl(ctx context.Context, startURL string, maxDepth int, excludeKeywords []string) (*models.CrawlResult, error) {
	root, err := url.Parse(startURL)
	if err != nil || root.Host == "" {
		return nil, fmt.Errorf("invalid start URL %q", startURL)
	}
	if maxDepth < 0 {
		maxDepth = 0
	}

	start := time.Now()
	result := &models.CrawlResult{}

	visited := make(map[string]bool)
	internalSeen := make(map[string]bool)
	externalSeen := make(map[string]string) // link URL -> first referring page

	frontier := []frontierEntry{{url: root, depth: 0}}
	visited[normalizePageURL(root)] = true

	for len(frontier) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entry := frontier[0]
		frontier = frontier[1:]

		doc, statusCode, fetchErr := s.fetchDocument(ctx, entry.url.String())
		if fetchErr != nil {
			if entry.depth == 0 {
				return nil, fmt.Errorf("failed to fetch %s: %w", entry.url, fetchErr)
			}
			result.BrokenLinks = append(result.BrokenLinks, models.BrokenLink{
				Page:       entry.referrer,
				URL:        entry.url.String(),
				StatusCode: statusCode,
				Reason:     fetchErr.Error(),
			})
			continue
		}
		if doc == nil {
			// Reachable but not HTML; nothing to extract.
			continue
		}

		content := parsePage(doc, entry.url)
		pageURL := entry.url.String()

		result.Pages = append(result.Pages, models.PageInfo{
			URL:   pageURL,
			Title: content.title,
			Depth: entry.depth,
		})

		var missing []string
		if !content.hasTitle {
			missing = append(missing, "title")
		}
		if !content.hasDescription {
			missing = append(missing, "description")
		}
		if len(missing) > 0 {
			result.MetaIssues = append(result.MetaIssues, models.MetaIssue{Page: pageURL, MissingTags: missing})
		}

		for _, img := range content.images {
			result.Images = append(result.Images, models.ImageRef{URL: img, Page: pageURL})
		}

		for _, link := range content.links {
			target, parseErr := url.Parse(link)
			if parseErr != nil {
				continue
			}

			if !sameHost(root, target) {
				if _, seen := externalSeen[link]; !seen {
					externalSeen[link] = pageURL
				}
				continue
			}

			key := normalizePageURL(target)
			internalSeen[key] = true
			if visited[key] {
				continue
			}
			if pathContainsKeyword(target, excludeKeywords) {
				continue
			}
			if entry.depth >= maxDepth {
				continue
			}

			visited[key] = true
			frontier = append(frontier, frontierEntry{url: target, referrer: pageURL, depth: entry.depth + 1})
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fetchPacing):
		}
	}

	s.checkExternalLinks(ctx, externalSeen, result)

	result.Stats = models.CrawlStats{
		PagesCrawled:    len(result.Pages),
		InternalLinks:   len(internalSeen),
		ExternalLinks:   len(externalSeen),
		BrokenLinkCount: len(result.BrokenLinks),
		ImagesFound:     len(result.Images),
		HasSitemap:      s.probeSitemap(ctx, root),
		DurationSeconds: time.Since(start).Seconds(),
	}

	s.logger.Info().
		Str("start_url", startURL).
		Int("pages", result.Stats.PagesCrawled).
		Int("broken_links", result.Stats.BrokenLinkCount).
		Int("images", result.Stats.ImagesFound).
		Float64("duration_seconds", result.Stats.DurationSeconds).
		Msg("Crawl completed")

	return result, nil
}

// fetchDocument GETs one page and parses it when the response is HTML. A
// nil document with nil error means the URL is reachable but not parseable
// content (images, PDFs and the like).
func (s *Service) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", httpclient.DefaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return nil, resp.StatusCode, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, resp.StatusCode, nil
}

// checkExternalLinks verifies reachability of off-host links, recording
// failures as broken links. HEAD is tried first; servers that reject HEAD
// get one GET.
func (s *Service) checkExternalLinks(ctx context.Context, links map[string]string, result *models.CrawlResult) {
	checked := 0
	for link, referrer := range links {
		if checked >= maxExternalChecks {
			s.logger.Debug().
				Int("checked", checked).
				Int("total", len(links)).
				Msg("External link check limit reached")
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		checked++

		statusCode, err := s.probeLink(ctx, link)
		if err != nil {
			result.BrokenLinks = append(result.BrokenLinks, models.BrokenLink{
				Page:   referrer,
				URL:    link,
				Reason: err.Error(),
			})
			continue
		}
		if statusCode >= 400 {
			result.BrokenLinks = append(result.BrokenLinks, models.BrokenLink{
				Page:       referrer,
				URL:        link,
				StatusCode: statusCode,
			})
		}
	}
}

func (s *Service) probeLink(ctx context.Context, link string) (int, error) {
	statusCode, err := s.doProbe(ctx, http.MethodHead, link)
	if err != nil {
		return 0, err
	}
	// Some servers refuse HEAD outright; confirm with GET before judging.
	if statusCode == http.StatusMethodNotAllowed || statusCode == http.StatusNotImplemented {
		return s.doProbe(ctx, http.MethodGet, link)
	}
	return statusCode, nil
}

func (s *Service) doProbe(ctx context.Context, method, link string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", httpclient.DefaultUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// probeSitemap reports whether /sitemap.xml answers with a success status.
func (s *Service) probeSitemap(ctx context.Context, root *url.URL) bool {
	sitemapURL := fmt.Sprintf("%s://%s/sitemap.xml", root.Scheme, root.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", httpclient.DefaultUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
