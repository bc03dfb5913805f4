package checks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/reports"
)

const (
	// An image is judged blurry when its Laplacian variance falls below
	// this floor or its spatial blur ratio exceeds the ceiling.
	blurVarianceThreshold   = 100.0
	blurSpatialRatioCeiling = 0.15
)

// Dependencies bundles the collaborators the dispatcher drives. All fields
// are required except Performance, which may report itself disabled.
type Dependencies struct {
	Crawler     interfaces.PageCrawler
	Screenshots interfaces.ScreenshotService
	Differ      interfaces.VisualDiffer
	Blur        interfaces.BlurAnalyzer
	Images      interfaces.ImageDownloader
	Performance interfaces.PerformanceAnalyzer
	Mailer      interfaces.EmailSender
	Reports     *reports.Builder
	Websites    interfaces.WebsiteStorage
	History     interfaces.HistoryStorage
	Events      interfaces.EventService
	Snapshots   *SnapshotStore
}

// Dispatcher composes the crawl, visual, blur and performance phases into
// one check run, persists the outcome, and emits the report email. A
// process-wide mutex serializes runs so the browser pool and snapshot tree
// never see concurrent writers for the same site.
type Dispatcher struct {
	config *common.Config
	deps   Dependencies
	logger arbor.ILogger

	runMu sync.Mutex
}

// NewDispatcher wires a dispatcher from its collaborators.
func NewDispatcher(config *common.Config, deps Dependencies, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		config: config,
		deps:   deps,
		logger: logger,
	}
}

// RunCheck executes the phases selected by cfg against the website and
// returns the persisted history record. The error is non-nil only when the
// run as a whole failed: a crawl that could not start, a visual comparison
// without baselines, or a storage write failure. Per-page and per-image
// problems are recorded inside the phase summaries and do not fail the run.
//
// Exactly one history record is appended and at most one email is sent per
// invocation, regardless of outcome.
func (d *Dispatcher) RunCheck(ctx context.Context, website *models.Website, cfg models.CheckConfig, isManual bool) (*models.CheckRecord, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if website == nil {
		return nil, fmt.Errorf("website is required")
	}
	if !cfg.AnyEnabled() {
		return nil, fmt.Errorf("no check phases enabled for website %s", website.ID)
	}

	start := time.Now()
	record := &models.CheckRecord{
		ID:        common.NewCheckRecordID(),
		WebsiteID: website.ID,
		Timestamp: start.UTC(),
		Status:    models.CheckStatusCompleted,
		IsManual:  isManual,
	}

	d.logger.Info().
		Str("website_id", website.ID).
		Str("url", website.URL).
		Strs("phases", phaseNames(cfg)).
		Bool("is_manual", isManual).
		Msg("Check run started")

	d.publish(ctx, interfaces.EventCheckStarted, map[string]interface{}{
		"website_id": website.ID,
		"is_manual":  isManual,
		"phases":     phaseNames(cfg),
	})

	runErr := d.runPhases(ctx, website, cfg, record)
	if runErr != nil {
		record.Status = models.CheckStatusFailed
		if record.ErrorMessage == "" {
			record.ErrorMessage = runErr.Error()
		}
	}

	if err := d.deps.History.Append(ctx, record); err != nil {
		d.logger.Error().Err(err).Str("website_id", website.ID).Msg("Failed to persist check record")
		return record, fmt.Errorf("failed to persist check record: %w", err)
	}

	if err := d.deps.Websites.SetLastChecked(ctx, website.ID, time.Now().UTC()); err != nil {
		d.logger.Warn().Err(err).Str("website_id", website.ID).Msg("Failed to update last-checked timestamp")
	}

	kind := models.ClassifyReport(cfg, isManual, record)
	d.sendReport(ctx, website, record, kind)

	d.publish(ctx, interfaces.EventCheckCompleted, map[string]interface{}{
		"website_id":       website.ID,
		"status":           string(record.Status),
		"is_change_report": record.IsChangeReport,
		"duration_seconds": time.Since(start).Seconds(),
	})

	d.logger.Info().
		Str("website_id", website.ID).
		Str("status", string(record.Status)).
		Float64("duration_seconds", time.Since(start).Seconds()).
		Msg("Check run finished")

	return record, runErr
}

// runPhases executes the selected phases in order, filling the record as it
// goes. It returns the first run-aborting error, if any.
func (d *Dispatcher) runPhases(ctx context.Context, website *models.Website, cfg models.CheckConfig, record *models.CheckRecord) error {
	var crawl *models.CrawlResult

	// Blur and performance need the page and image inventory, and visual
	// needs the page list when subpages are captured, so the crawl runs
	// even when not requested for its own findings.
	needCrawl := cfg.Crawl || cfg.Blur || cfg.Performance || (cfg.Visual && website.CaptureSubpages)
	if needCrawl {
		d.publishPhase(ctx, website.ID, "crawl")

		result, err := d.runCrawl(ctx, website)
		if err != nil {
			d.logger.Warn().Err(err).Str("website_id", website.ID).Msg("Crawl failed")
			return err
		}
		crawl = result

		if cfg.Crawl {
			stats := result.Stats
			record.Crawl = &stats
			record.BrokenLinks = result.BrokenLinks
			record.MetaIssues = result.MetaIssues
		}
	}

	if cfg.Visual {
		d.publishPhase(ctx, website.ID, "visual")

		if cfg.CreateBaseline {
			summary, created := d.createBaselines(ctx, website, crawl)
			record.Visual = summary

			if len(created) > 0 {
				if err := d.applyBaselines(ctx, website, created); err != nil {
					d.logger.Error().Err(err).Str("website_id", website.ID).Msg("Failed to persist baselines")
					if summary.Error == "" {
						summary.Error = "baselines captured but could not be saved"
					}
				}
			}
		} else {
			if !website.HasBaselines() {
				return interfaces.ErrNoBaselines
			}
			summary := d.compareAgainstBaselines(ctx, website, crawl, record.Timestamp)
			record.Visual = summary
			record.IsChangeReport = summary.PagesChanged > 0
		}
	}

	if cfg.Blur {
		d.publishPhase(ctx, website.ID, "blur")
		record.Blur = d.runBlur(ctx, website, crawl)
	}

	if cfg.Performance {
		d.publishPhase(ctx, website.ID, "performance")
		record.Performance = d.runPerformance(ctx, website, crawl)
	}

	return nil
}

func (d *Dispatcher) runCrawl(ctx context.Context, website *models.Website) (*models.CrawlResult, error) {
	depth := website.MaxCrawlDepth
	if depth <= 0 {
		depth = d.config.Checks.MaxCrawlDepth
	}

	keywords := append([]string{}, website.ExcludePageKeywords...)
	keywords = append(keywords, d.config.Checks.ExcludePageKeywords...)

	return d.deps.Crawler.Crawl(ctx, website.URL, depth, keywords)
}

// visualPageList returns the pages the visual phase works on: the root page
// alone unless the site captures subpages, in which case every crawled page.
// Excluded pages are filtered out either way.
func (d *Dispatcher) visualPageList(website *models.Website, crawl *models.CrawlResult) []string {
	pages := []string{website.URL}
	if website.CaptureSubpages && crawl != nil && len(crawl.Pages) > 0 {
		pages = crawl.PageURLs()
	}

	filtered := make([]string, 0, len(pages))
	seen := make(map[string]struct{}, len(pages))
	for _, pageURL := range pages {
		if _, dup := seen[pageURL]; dup {
			continue
		}
		seen[pageURL] = struct{}{}

		if website.IsPageExcluded(pageURL, d.config.Checks.ExcludePageKeywords) {
			continue
		}
		filtered = append(filtered, pageURL)
	}
	return filtered
}

// createBaselines captures reference snapshots for every visual page and
// returns the summary plus the new baseline entries keyed by page URL.
func (d *Dispatcher) createBaselines(ctx context.Context, website *models.Website, crawl *models.CrawlResult) (*models.VisualSummary, map[string]models.Baseline) {
	summary := &models.VisualSummary{}
	created := make(map[string]models.Baseline)

	pages := d.visualPageList(website, crawl)
	delay := d.renderDelay(website)

	for _, pageURL := range pages {
		png, err := d.deps.Screenshots.Capture(ctx, pageURL, delay)
		if err != nil {
			d.logger.Warn().Err(err).Str("page", pageURL).Msg("Baseline capture failed")
			summary.Pages = append(summary.Pages, models.PageDiff{URL: pageURL, Error: err.Error()})
			continue
		}

		rel, err := d.deps.Snapshots.WriteBaseline(website, pageURL, png)
		if err != nil {
			d.logger.Warn().Err(err).Str("page", pageURL).Msg("Baseline write failed")
			summary.Pages = append(summary.Pages, models.PageDiff{URL: pageURL, Error: err.Error()})
			continue
		}

		created[pageURL] = models.Baseline{ImagePath: rel, CapturedAt: time.Now().UTC()}
		summary.BaselinesCreated++
		summary.Pages = append(summary.Pages, models.PageDiff{URL: pageURL, BaselinePath: rel})
	}

	if summary.BaselinesCreated == 0 && len(pages) > 0 {
		summary.Error = "no baselines could be captured"
	}

	d.logger.Info().
		Str("website_id", website.ID).
		Int("created", summary.BaselinesCreated).
		Int("pages", len(pages)).
		Msg("Baseline capture finished")

	return summary, created
}

// applyBaselines merges newly captured baselines into the site's existing
// map and persists the whole map atomically.
func (d *Dispatcher) applyBaselines(ctx context.Context, website *models.Website, created map[string]models.Baseline) error {
	merged := make(map[string]models.Baseline, len(website.Baselines)+len(created))
	for pageURL, baseline := range website.Baselines {
		merged[pageURL] = baseline
	}
	for pageURL, baseline := range created {
		merged[pageURL] = baseline
	}

	if err := d.deps.Websites.UpdateBaselines(ctx, website.ID, merged); err != nil {
		return err
	}
	website.Baselines = merged
	return nil
}

// compareAgainstBaselines captures each visual page and diffs it against the
// stored baseline. Pages without a baseline of their own, and pages whose
// capture or comparison fails, are recorded as page errors.
func (d *Dispatcher) compareAgainstBaselines(ctx context.Context, website *models.Website, crawl *models.CrawlResult, ts time.Time) *models.VisualSummary {
	summary := &models.VisualSummary{}
	threshold := d.diffThreshold(website)
	delay := d.renderDelay(website)

	for _, pageURL := range d.visualPageList(website, crawl) {
		baseline, ok := website.Baselines[pageURL]
		if !ok {
			summary.Pages = append(summary.Pages, models.PageDiff{URL: pageURL, Error: "no baseline for page"})
			continue
		}

		baselinePNG, err := d.deps.Snapshots.Read(baseline.ImagePath)
		if err != nil {
			d.logger.Warn().Err(err).Str("page", pageURL).Msg("Baseline read failed")
			summary.Pages = append(summary.Pages, models.PageDiff{URL: pageURL, BaselinePath: baseline.ImagePath, Error: "baseline image unreadable"})
			continue
		}

		current, err := d.deps.Screenshots.Capture(ctx, pageURL, delay)
		if err != nil {
			d.logger.Warn().Err(err).Str("page", pageURL).Msg("Snapshot capture failed")
			summary.Pages = append(summary.Pages, models.PageDiff{URL: pageURL, BaselinePath: baseline.ImagePath, Error: err.Error()})
			continue
		}

		snapshotRel, err := d.deps.Snapshots.WriteVisual(website, pageURL, ts, current)
		if err != nil {
			d.logger.Warn().Err(err).Str("page", pageURL).Msg("Snapshot write failed")
			summary.Pages = append(summary.Pages, models.PageDiff{URL: pageURL, BaselinePath: baseline.ImagePath, Error: err.Error()})
			continue
		}

		diff, err := d.deps.Differ.Compare(baselinePNG, current)
		if err != nil {
			d.logger.Warn().Err(err).Str("page", pageURL).Msg("Visual comparison failed")
			summary.Pages = append(summary.Pages, models.PageDiff{
				URL:          pageURL,
				SnapshotPath: snapshotRel,
				BaselinePath: baseline.ImagePath,
				Error:        err.Error(),
			})
			continue
		}

		page := models.PageDiff{
			URL:          pageURL,
			DiffPercent:  diff.DiffPercent,
			SnapshotPath: snapshotRel,
			BaselinePath: baseline.ImagePath,
		}

		summary.PagesCompared++
		if diff.DiffPercent > summary.MaxDiffPercent {
			summary.MaxDiffPercent = diff.DiffPercent
		}

		if diff.DiffPercent > threshold {
			page.Changed = true
			summary.PagesChanged++

			if len(diff.DiffImage) > 0 {
				if diffRel, err := d.deps.Snapshots.WriteDiff(website, pageURL, ts, diff.DiffImage); err == nil {
					page.DiffImagePath = diffRel
				} else {
					d.logger.Warn().Err(err).Str("page", pageURL).Msg("Diff image write failed")
				}
			}
		}

		summary.Pages = append(summary.Pages, page)
	}

	d.logger.Info().
		Str("website_id", website.ID).
		Int("compared", summary.PagesCompared).
		Int("changed", summary.PagesChanged).
		Float64("max_diff_percent", summary.MaxDiffPercent).
		Msg("Visual comparison finished")

	return summary
}

// runBlur downloads the crawl's image inventory and scores each image for
// blur. Download and analysis failures skip the image rather than failing
// the phase.
func (d *Dispatcher) runBlur(ctx context.Context, website *models.Website, crawl *models.CrawlResult) *models.BlurSummary {
	summary := &models.BlurSummary{}
	if crawl == nil || len(crawl.Images) == 0 {
		return summary
	}

	type imageRef struct {
		url  string
		page string
	}

	seen := make(map[string]struct{}, len(crawl.Images))
	candidates := make([]imageRef, 0, len(crawl.Images))
	for _, ref := range crawl.Images {
		normalized, ok := d.deps.Images.NormalizeURL(ref.URL, ref.Page)
		if !ok {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		candidates = append(candidates, imageRef{url: normalized, page: ref.Page})
	}

	for _, img := range candidates {
		data, _, err := d.deps.Images.Download(ctx, img.url)
		if err != nil {
			d.logger.Debug().Err(err).Str("image", img.url).Msg("Image download failed")
			continue
		}

		analysis, err := d.deps.Blur.AnalyzeImage(data)
		if err != nil {
			d.logger.Debug().Err(err).Str("image", img.url).Msg("Blur analysis failed")
			continue
		}

		summary.ImagesProcessed++

		if analysis.Variance < blurVarianceThreshold || analysis.SpatialBlurRatio > blurSpatialRatioCeiling {
			hash := sha256.Sum256(data)
			localPath, err := d.deps.Snapshots.WriteBlurImage(website, hex.EncodeToString(hash[:]), data)
			if err != nil {
				d.logger.Warn().Err(err).Str("image", img.url).Msg("Blur image write failed")
				localPath = ""
			}

			summary.BlurryCount++
			summary.BlurryImages = append(summary.BlurryImages, models.BlurryImage{
				URL:              img.url,
				Page:             img.page,
				Variance:         analysis.Variance,
				SpatialBlurRatio: analysis.SpatialBlurRatio,
				LocalPath:        localPath,
			})
		}
	}

	if summary.ImagesProcessed > 0 {
		summary.BlurPercent = float64(summary.BlurryCount) / float64(summary.ImagesProcessed) * 100
	}

	d.logger.Info().
		Str("website_id", website.ID).
		Int("processed", summary.ImagesProcessed).
		Int("blurry", summary.BlurryCount).
		Msg("Blur analysis finished")

	return summary
}

// runPerformance scores a sample of crawled pages. A disabled analyzer
// skips the phase entirely so the record carries no performance section.
func (d *Dispatcher) runPerformance(ctx context.Context, website *models.Website, crawl *models.CrawlResult) *models.PerformanceSummary {
	if !d.deps.Performance.Enabled() {
		d.logger.Info().Str("website_id", website.ID).Msg("Performance analysis skipped: no API key configured")
		return nil
	}

	pages := []string{website.URL}
	if crawl != nil && len(crawl.Pages) > 0 {
		pages = crawl.PageURLs()
	}
	if limit := d.config.Checks.PerformancePageLimit; limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}

	summary := &models.PerformanceSummary{}
	var totalMobile, totalDesktop int
	var slowestPage string
	slowestScore := -1.0

	for _, pageURL := range pages {
		score, err := d.deps.Performance.Analyze(ctx, pageURL)
		if err != nil {
			d.logger.Warn().Err(err).Str("page", pageURL).Msg("Performance analysis failed")
			continue
		}

		summary.PagesAnalyzed++
		summary.Pages = append(summary.Pages, *score)
		summary.TotalIssues += len(score.Issues)
		totalMobile += score.MobileScore
		totalDesktop += score.DesktopScore

		avg := float64(score.MobileScore+score.DesktopScore) / 2
		if slowestScore < 0 || avg < slowestScore {
			slowestScore = avg
			slowestPage = score.URL
		}
	}

	if summary.PagesAnalyzed > 0 {
		summary.AvgMobileScore = float64(totalMobile) / float64(summary.PagesAnalyzed)
		summary.AvgDesktopScore = float64(totalDesktop) / float64(summary.PagesAnalyzed)
		summary.SlowestPage = slowestPage
	} else {
		summary.Error = "no pages could be analyzed"
	}

	d.logger.Info().
		Str("website_id", website.ID).
		Int("analyzed", summary.PagesAnalyzed).
		Float64("avg_mobile", summary.AvgMobileScore).
		Float64("avg_desktop", summary.AvgDesktopScore).
		Msg("Performance analysis finished")

	return summary
}

// sendReport classifies the run and emails the rendered report. Recipient
// resolution falls back from the site's list to the configured default;
// with neither, or with the transport unconfigured, the report is skipped
// with a warning. Send failures are logged, never returned, so a check
// outcome is never lost to a mail problem.
func (d *Dispatcher) sendReport(ctx context.Context, website *models.Website, record *models.CheckRecord, kind models.ReportKind) {
	recipients := website.NotificationRecipients
	if len(recipients) == 0 {
		recipients = d.config.Notify.DefaultRecipients
	}
	if len(recipients) == 0 {
		d.logger.Warn().Str("website_id", website.ID).Msg("No notification recipients configured, report email skipped")
		return
	}

	if !d.deps.Mailer.Enabled() {
		d.logger.Warn().Str("website_id", website.ID).Msg("Email transport not configured, report email skipped")
		return
	}

	report, err := d.deps.Reports.Build(website, record, kind, d.config.Report.DashboardURL)
	if err != nil {
		d.logger.Error().Err(err).Str("website_id", website.ID).Msg("Failed to render report")
		return
	}

	if err := d.deps.Mailer.Send(ctx, recipients, report.Subject, report.HTML, report.Text); err != nil {
		d.logger.Error().Err(err).Str("website_id", website.ID).Msg("Failed to send report email")
		return
	}

	d.logger.Info().
		Str("website_id", website.ID).
		Str("kind", string(kind)).
		Int("recipients", len(recipients)).
		Msg("Report email sent")
}

func (d *Dispatcher) renderDelay(website *models.Website) time.Duration {
	seconds := website.RenderDelaySeconds
	if seconds <= 0 {
		seconds = d.config.Checks.RenderDelaySeconds
	}
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second
}

func (d *Dispatcher) diffThreshold(website *models.Website) float64 {
	if website.VisualDiffThresholdPercent > 0 {
		return website.VisualDiffThresholdPercent
	}
	return d.config.Checks.VisualDiffThresholdPercent
}

func (d *Dispatcher) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if d.deps.Events == nil {
		return
	}
	if err := d.deps.Events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		d.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Event publish failed")
	}
}

func (d *Dispatcher) publishPhase(ctx context.Context, websiteID, phase string) {
	d.publish(ctx, interfaces.EventCheckPhase, map[string]interface{}{
		"website_id": websiteID,
		"phase":      phase,
	})
}

func phaseNames(cfg models.CheckConfig) []string {
	var names []string
	if cfg.Crawl {
		names = append(names, "crawl")
	}
	if cfg.Visual {
		if cfg.CreateBaseline {
			names = append(names, "baseline")
		} else {
			names = append(names, "visual")
		}
	}
	if cfg.Blur {
		names = append(names, "blur")
	}
	if cfg.Performance {
		names = append(names, "performance")
	}
	return names
}
