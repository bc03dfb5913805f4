package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// WebsiteDefinitionFile is the on-disk website definition format. Files in
// <data>/websites.d seed the catalog at startup. Optional flags are
// pointers so an absent key is distinguishable from an explicit false.
type WebsiteDefinitionFile struct {
	ID   string `toml:"id" yaml:"id"`
	URL  string `toml:"url" yaml:"url"`
	Name string `toml:"name" yaml:"name"`

	CadenceMinutes int      `toml:"cadence_minutes" yaml:"cadence_minutes"`
	Active         *bool    `toml:"active" yaml:"active"`
	Tags           []string `toml:"tags" yaml:"tags"`
	Recipients     []string `toml:"notification_recipients" yaml:"notification_recipients"`

	Crawl       *bool `toml:"crawl" yaml:"crawl"`
	Visual      *bool `toml:"visual" yaml:"visual"`
	Blur        *bool `toml:"blur" yaml:"blur"`
	Performance *bool `toml:"performance" yaml:"performance"`
	FullCheck   *bool `toml:"full_check" yaml:"full_check"`

	MaxCrawlDepth              int      `toml:"max_crawl_depth" yaml:"max_crawl_depth"`
	RenderDelaySeconds         *int     `toml:"render_delay_seconds" yaml:"render_delay_seconds"`
	VisualDiffThresholdPercent *float64 `toml:"visual_diff_threshold_percent" yaml:"visual_diff_threshold_percent"`
	CaptureSubpages            *bool    `toml:"capture_subpages" yaml:"capture_subpages"`
	ExcludePageKeywords        []string `toml:"exclude_page_keywords" yaml:"exclude_page_keywords"`
}

// ToWebsite converts the file format to a catalog model, filling omitted
// keys from the instance defaults. When the file carries no id, a stable
// one is derived from the URL so repeated startups seed the same row.
func (f *WebsiteDefinitionFile) ToWebsite(defaults common.ChecksConfig) *models.Website {
	w := &models.Website{
		ID:                     f.ID,
		URL:                    f.URL,
		Name:                   f.Name,
		CadenceMinutes:         f.CadenceMinutes,
		IsActive:               boolOr(f.Active, true),
		Tags:                   f.Tags,
		NotificationRecipients: f.Recipients,

		CrawlEnabled:       boolOr(f.Crawl, true),
		VisualEnabled:      boolOr(f.Visual, true),
		BlurEnabled:        boolOr(f.Blur, false),
		PerformanceEnabled: boolOr(f.Performance, false),
		FullCheckEnabled:   boolOr(f.FullCheck, false),

		MaxCrawlDepth:       f.MaxCrawlDepth,
		CaptureSubpages:     boolOr(f.CaptureSubpages, true),
		ExcludePageKeywords: f.ExcludePageKeywords,
	}

	if w.ID == "" {
		w.ID = deriveWebsiteID(f.URL)
	}
	if w.Name == "" {
		w.Name = f.URL
	}
	if w.CadenceMinutes <= 0 {
		w.CadenceMinutes = 60
	}
	if w.MaxCrawlDepth <= 0 {
		w.MaxCrawlDepth = defaults.MaxCrawlDepth
	}
	if f.RenderDelaySeconds != nil {
		w.RenderDelaySeconds = *f.RenderDelaySeconds
	} else {
		w.RenderDelaySeconds = defaults.RenderDelaySeconds
	}
	if f.VisualDiffThresholdPercent != nil {
		w.VisualDiffThresholdPercent = *f.VisualDiffThresholdPercent
	} else {
		w.VisualDiffThresholdPercent = defaults.VisualDiffThresholdPercent
	}

	return w
}

// SeedWebsites loads website definitions from TOML/YAML files in dirPath
// and inserts the ones whose id is not yet in the catalog. Existing rows
// are never touched; dashboard edits survive restarts.
func (m *Manager) SeedWebsites(ctx context.Context, dirPath string, defaults common.ChecksConfig) error {
	logger := m.websites.logger

	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		logger.Debug().Str("path", dirPath).Msg("Website definitions directory not found, skipping seeding")
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read website definitions directory: %w", err)
	}

	seededCount := 0
	existingCount := 0
	skippedCount := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filePath := filepath.Join(dirPath, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read website definition file")
			skippedCount++
			continue
		}

		var file WebsiteDefinitionFile
		switch filepath.Ext(entry.Name()) {
		case ".toml":
			err = toml.Unmarshal(data, &file)
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &file)
		default:
			continue
		}
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse website definition file")
			skippedCount++
			continue
		}

		website := file.ToWebsite(defaults)
		if err := website.Validate(); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Website definition validation failed")
			skippedCount++
			continue
		}

		if _, err := m.websites.Get(ctx, website.ID); err == nil {
			existingCount++
			continue
		} else if err != interfaces.ErrNotFound {
			logger.Warn().Err(err).Str("website_id", website.ID).Msg("Failed to check for existing website")
			skippedCount++
			continue
		}

		if err := m.websites.Upsert(ctx, website); err != nil {
			logger.Error().Err(err).Str("file", entry.Name()).Msg("Failed to seed website")
			skippedCount++
			continue
		}

		logger.Info().
			Str("website_id", website.ID).
			Str("url", website.URL).
			Str("file", entry.Name()).
			Msg("Seeded website from file")
		seededCount++
	}

	logger.Info().
		Int("seeded", seededCount).
		Int("existing", existingCount).
		Int("skipped", skippedCount).
		Msg("Website definition seeding complete")
	return nil
}

// deriveWebsiteID builds a stable id from the URL host and path.
func deriveWebsiteID(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "site_" + common.Slugify(rawURL)
	}
	id := "site_" + common.Slugify(parsed.Host)
	if parsed.Path != "" && parsed.Path != "/" {
		id += "_" + common.Slugify(parsed.Path)
	}
	return id
}

func boolOr(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
