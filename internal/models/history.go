package models

import "time"

// CheckStatus is the terminal state of a whole check run.
type CheckStatus string

const (
	CheckStatusCompleted CheckStatus = "completed"
	CheckStatusFailed    CheckStatus = "failed"
)

// CrawlStats summarizes the crawl phase of one check.
type CrawlStats struct {
	PagesCrawled    int     `json:"pages_crawled"`
	InternalLinks   int     `json:"internal_links"`
	ExternalLinks   int     `json:"external_links"`
	BrokenLinkCount int     `json:"broken_link_count"`
	ImagesFound     int     `json:"images_found"`
	HasSitemap      bool    `json:"has_sitemap"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// BrokenLink records one unreachable link discovered during a crawl.
type BrokenLink struct {
	Page       string `json:"page"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// MetaIssue records missing meta tags on one crawled page.
type MetaIssue struct {
	Page        string   `json:"page"`
	MissingTags []string `json:"missing_tags"`
}

// PageDiff is the visual comparison outcome for one page.
type PageDiff struct {
	URL           string  `json:"url"`
	DiffPercent   float64 `json:"diff_percent"`
	Changed       bool    `json:"changed"`
	SnapshotPath  string  `json:"snapshot_path,omitempty"`
	BaselinePath  string  `json:"baseline_path,omitempty"`
	DiffImagePath string  `json:"diff_image_path,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// VisualSummary aggregates the visual phase across all compared pages.
type VisualSummary struct {
	PagesCompared    int        `json:"pages_compared"`
	PagesChanged     int        `json:"pages_changed"`
	BaselinesCreated int        `json:"baselines_created"`
	MaxDiffPercent   float64    `json:"max_diff_percent"`
	Pages            []PageDiff `json:"pages,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// BlurryImage records one image judged blurry.
type BlurryImage struct {
	URL              string  `json:"url"`
	Page             string  `json:"page,omitempty"`
	Variance         float64 `json:"variance"`
	SpatialBlurRatio float64 `json:"spatial_blur_ratio"`
	LocalPath        string  `json:"local_path,omitempty"`
}

// BlurSummary aggregates the blur phase.
type BlurSummary struct {
	ImagesProcessed int           `json:"images_processed"`
	BlurryCount     int           `json:"blurry_count"`
	BlurPercent     float64       `json:"blur_percent"`
	BlurryImages    []BlurryImage `json:"blurry_images,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// PageScore is one page's performance analysis outcome.
type PageScore struct {
	URL          string   `json:"url"`
	MobileScore  int      `json:"mobile_score"`
	DesktopScore int      `json:"desktop_score"`
	Issues       []string `json:"issues,omitempty"`
}

// PerformanceSummary aggregates the performance phase.
type PerformanceSummary struct {
	PagesAnalyzed   int         `json:"pages_analyzed"`
	AvgMobileScore  float64     `json:"avg_mobile_score"`
	AvgDesktopScore float64     `json:"avg_desktop_score"`
	SlowestPage     string      `json:"slowest_page,omitempty"`
	TotalIssues     int         `json:"total_issues"`
	Pages           []PageScore `json:"pages,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// CheckRecord is the append-only history entry for one completed check run.
// Phase payloads are nil when the phase did not run; a phase that ran but
// failed carries its error inside the summary.
type CheckRecord struct {
	ID             string      `json:"id"`
	WebsiteID      string      `json:"website_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Status         CheckStatus `json:"status"`
	IsManual       bool        `json:"is_manual"`
	IsChangeReport bool        `json:"is_change_report"`

	Crawl       *CrawlStats         `json:"crawl,omitempty"`
	BrokenLinks []BrokenLink        `json:"broken_links,omitempty"`
	MetaIssues  []MetaIssue         `json:"meta_issues,omitempty"`
	Visual      *VisualSummary      `json:"visual,omitempty"`
	Blur        *BlurSummary        `json:"blur,omitempty"`
	Performance *PerformanceSummary `json:"performance,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// HistoryFilter narrows history listings.
type HistoryFilter struct {
	WebsiteID string
	Limit     int
}
