package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Baseline is the reference snapshot for one page of a website.
// ImagePath is relative to the snapshot root.
type Baseline struct {
	ImagePath  string    `json:"image_path"`
	CapturedAt time.Time `json:"captured_at"`
}

// Website is the primary catalog entity. Identity is the opaque ID; every
// other attribute is mutable through the catalog store.
type Website struct {
	ID   string `json:"id"`
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name"`

	CadenceMinutes         int      `json:"cadence_minutes" validate:"min=1"`
	IsActive               bool     `json:"is_active"`
	Tags                   []string `json:"tags,omitempty"`
	NotificationRecipients []string `json:"notification_recipients,omitempty" validate:"dive,email"`

	// Feature flags gate which analyses any check may run for this site.
	CrawlEnabled       bool `json:"crawl_enabled"`
	VisualEnabled      bool `json:"visual_enabled"`
	BlurEnabled        bool `json:"blur_enabled"`
	PerformanceEnabled bool `json:"performance_enabled"`
	FullCheckEnabled   bool `json:"full_check_enabled"`

	MaxCrawlDepth              int      `json:"max_crawl_depth" validate:"min=1"`
	RenderDelaySeconds         int      `json:"render_delay_seconds" validate:"min=0"`
	VisualDiffThresholdPercent float64  `json:"visual_diff_threshold_percent" validate:"min=0"`
	CaptureSubpages            bool     `json:"capture_subpages"`
	ExcludePageKeywords        []string `json:"exclude_page_keywords,omitempty"`

	// Baselines maps absolute page URLs to their stored reference snapshots.
	Baselines map[string]Baseline `json:"baselines,omitempty"`

	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// WebsiteFilter narrows catalog listings. Nil/empty fields match everything.
type WebsiteFilter struct {
	Active *bool
	Tag    string
	Search string
}

// Validate checks the website against its structural constraints.
func (w *Website) Validate() error {
	validate := validator.New()
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("invalid website: %w", err)
	}
	return nil
}

// HasBaselines reports whether any baseline snapshot is recorded.
func (w *Website) HasBaselines() bool {
	return len(w.Baselines) > 0
}

// HasTag reports whether the website carries the given tag.
func (w *Website) HasTag(tag string) bool {
	for _, t := range w.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// IsPageExcluded reports whether a page URL is excluded from visual and
// baseline work. Keywords match as case-insensitive substrings against the
// URL path. The site's own keywords are checked first, then the globals.
func (w *Website) IsPageExcluded(pageURL string, globalKeywords []string) bool {
	path := pageURL
	if parsed, err := url.Parse(pageURL); err == nil && parsed.Path != "" {
		path = parsed.Path
	}
	path = strings.ToLower(path)

	for _, kw := range w.ExcludePageKeywords {
		if kw != "" && strings.Contains(path, strings.ToLower(kw)) {
			return true
		}
	}
	for _, kw := range globalKeywords {
		if kw != "" && strings.Contains(path, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Storage caches hand out clones so callers can
// mutate without racing the cache.
func (w *Website) Clone() *Website {
	if w == nil {
		return nil
	}
	clone := *w

	clone.Tags = append([]string(nil), w.Tags...)
	clone.NotificationRecipients = append([]string(nil), w.NotificationRecipients...)
	clone.ExcludePageKeywords = append([]string(nil), w.ExcludePageKeywords...)

	if w.Baselines != nil {
		clone.Baselines = make(map[string]Baseline, len(w.Baselines))
		for k, v := range w.Baselines {
			clone.Baselines[k] = v
		}
	}
	if w.LastCheckedAt != nil {
		ts := *w.LastCheckedAt
		clone.LastCheckedAt = &ts
	}
	return &clone
}
