package reports

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/models"
)

func testWebsite() *models.Website {
	return &models.Website{
		ID:   "site_report",
		URL:  "https://example.com",
		Name: "Example Site",
	}
}

func testRecord() *models.CheckRecord {
	return &models.CheckRecord{
		ID:        "hist_report",
		WebsiteID: "site_report",
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Status:    models.CheckStatusCompleted,
		IsManual:  true,
	}
}

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	builder, err := NewBuilder(arbor.NewLogger())
	require.NoError(t, err)
	return builder
}

func TestBuildSubjectPerKind(t *testing.T) {
	builder := newTestBuilder(t)
	website := testWebsite()

	tests := []struct {
		name    string
		kind    models.ReportKind
		mutate  func(*models.CheckRecord)
		subject string
	}{
		{
			name:    "baseline created",
			kind:    models.ReportBaselineCreated,
			subject: "Baselines Created for Example Site",
		},
		{
			name: "manual crawl",
			kind: models.ReportManualCrawl,
			mutate: func(r *models.CheckRecord) {
				r.Crawl = &models.CrawlStats{PagesCrawled: 12, BrokenLinkCount: 2}
			},
			subject: "Manual Crawl Check for Example Site — 12 pages, 2 broken links",
		},
		{
			name: "manual visual with changes",
			kind: models.ReportManualVisual,
			mutate: func(r *models.CheckRecord) {
				r.Visual = &models.VisualSummary{PagesCompared: 5, PagesChanged: 2}
			},
			subject: "Manual Visual Check for Example Site — 2 of 5 pages changed",
		},
		{
			name: "manual visual without changes",
			kind: models.ReportManualVisual,
			mutate: func(r *models.CheckRecord) {
				r.Visual = &models.VisualSummary{PagesCompared: 5}
			},
			subject: "Manual Visual Check for Example Site — no changes detected",
		},
		{
			name: "manual blur",
			kind: models.ReportManualBlur,
			mutate: func(r *models.CheckRecord) {
				r.Blur = &models.BlurSummary{ImagesProcessed: 40, BlurryCount: 3}
			},
			subject: "Manual Blur Check for Example Site — 3 of 40 images blurry",
		},
		{
			name: "manual performance",
			kind: models.ReportManualPerformance,
			mutate: func(r *models.CheckRecord) {
				r.Performance = &models.PerformanceSummary{AvgMobileScore: 85, AvgDesktopScore: 92}
			},
			subject: "Manual Performance Check for Example Site — mobile 85, desktop 92",
		},
		{
			name: "manual full with findings",
			kind: models.ReportManualFull,
			mutate: func(r *models.CheckRecord) {
				r.Visual = &models.VisualSummary{PagesCompared: 5, PagesChanged: 3}
				r.Crawl = &models.CrawlStats{PagesCrawled: 5, BrokenLinkCount: 2}
			},
			subject: "Manual Full Check for Example Site — 3 pages changed, 2 broken links",
		},
		{
			name:    "manual full clean",
			kind:    models.ReportManualFull,
			subject: "Manual Full Check for Example Site — no issues found",
		},
		{
			name:    "scheduled full",
			kind:    models.ReportScheduledFull,
			subject: "Scheduled Full Check for Example Site",
		},
		{
			name: "error",
			kind: models.ReportError,
			mutate: func(r *models.CheckRecord) {
				r.Status = models.CheckStatusFailed
				r.ErrorMessage = "Domain could not be found."
			},
			subject: "Check Failed for Example Site — Domain could not be found.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := testRecord()
			if tt.mutate != nil {
				tt.mutate(record)
			}

			report, err := builder.Build(website, record, tt.kind, "")
			require.NoError(t, err)
			assert.Equal(t, tt.subject, report.Subject)
		})
	}
}

func TestBuildAccentColorByKind(t *testing.T) {
	builder := newTestBuilder(t)
	website := testWebsite()

	manual, err := builder.Build(website, testRecord(), models.ReportManualVisual, "")
	require.NoError(t, err)
	assert.Contains(t, manual.HTML, "#2563eb")

	scheduled, err := builder.Build(website, testRecord(), models.ReportScheduledFull, "")
	require.NoError(t, err)
	assert.Contains(t, scheduled.HTML, "#16a34a")

	failed := testRecord()
	failed.Status = models.CheckStatusFailed
	failed.ErrorMessage = "boom"
	errReport, err := builder.Build(website, failed, models.ReportError, "")
	require.NoError(t, err)
	assert.Contains(t, errReport.HTML, "#dc2626")
}

func TestBuildSectionsOnlyForPhasesThatRan(t *testing.T) {
	builder := newTestBuilder(t)
	website := testWebsite()

	record := testRecord()
	record.Crawl = &models.CrawlStats{PagesCrawled: 3}

	report, err := builder.Build(website, record, models.ReportManualCrawl, "")
	require.NoError(t, err)

	assert.Contains(t, report.HTML, ">Crawl</h2>")
	assert.NotContains(t, report.HTML, ">Visual</h2>")
	assert.NotContains(t, report.HTML, ">Image sharpness</h2>")
	assert.NotContains(t, report.HTML, ">Performance</h2>")

	assert.Contains(t, report.Text, "Crawl")
	assert.NotContains(t, report.Text, "Visual")
	assert.NotContains(t, report.Text, "Performance")
}

func TestBuildResolvesSnapshotLinks(t *testing.T) {
	builder := newTestBuilder(t)
	website := testWebsite()

	record := testRecord()
	record.Visual = &models.VisualSummary{
		PagesCompared: 1,
		PagesChanged:  1,
		MaxDiffPercent: 4.2,
		Pages: []models.PageDiff{
			{
				URL:           "https://example.com/pricing",
				DiffPercent:   4.2,
				Changed:       true,
				SnapshotPath:  "example-com/site_report/visual/2026-03-14T09-30-00_pricing.png",
				DiffImagePath: "example-com/site_report/diffs/2026-03-14T09-30-00_pricing.png",
			},
		},
	}

	report, err := builder.Build(website, record, models.ReportManualVisual, "https://vigil.example.com/")
	require.NoError(t, err)

	assert.Contains(t, report.HTML, "https://vigil.example.com/snapshots/example-com/site_report/visual/2026-03-14T09-30-00_pricing.png")
	assert.Contains(t, report.HTML, "https://vigil.example.com/snapshots/example-com/site_report/diffs/2026-03-14T09-30-00_pricing.png")
	// Trailing slash on the dashboard URL must not double up.
	assert.NotContains(t, report.HTML, "example.com//snapshots")
}

func TestBuildOmitsLinksWithoutDashboardURL(t *testing.T) {
	builder := newTestBuilder(t)
	website := testWebsite()

	record := testRecord()
	record.Visual = &models.VisualSummary{
		PagesCompared: 1,
		Pages: []models.PageDiff{
			{URL: "https://example.com", DiffPercent: 0.1, SnapshotPath: "example-com/site_report/visual/x.png"},
		},
	}

	report, err := builder.Build(website, record, models.ReportManualVisual, "")
	require.NoError(t, err)
	assert.NotContains(t, report.HTML, "/snapshots/")
}

func TestBuildErrorReportCarriesMessage(t *testing.T) {
	builder := newTestBuilder(t)
	website := testWebsite()

	record := testRecord()
	record.Status = models.CheckStatusFailed
	record.ErrorMessage = "SSL certificate issue detected."

	report, err := builder.Build(website, record, models.ReportError, "")
	require.NoError(t, err)

	assert.Contains(t, report.HTML, "SSL certificate issue detected.")
	assert.Contains(t, report.Text, "Error: SSL certificate issue detected.")
	assert.Contains(t, report.HTML, "Check Failed")
}

func TestBuildRequiresWebsiteAndRecord(t *testing.T) {
	builder := newTestBuilder(t)

	_, err := builder.Build(nil, testRecord(), models.ReportManualCrawl, "")
	assert.Error(t, err)

	_, err = builder.Build(testWebsite(), nil, models.ReportManualCrawl, "")
	assert.Error(t, err)
}

func TestBuildBaselineReport(t *testing.T) {
	builder := newTestBuilder(t)
	website := testWebsite()

	record := testRecord()
	record.Visual = &models.VisualSummary{BaselinesCreated: 4}

	report, err := builder.Build(website, record, models.ReportBaselineCreated, "")
	require.NoError(t, err)

	assert.Contains(t, report.HTML, "4 baseline snapshot(s) created")
	assert.Contains(t, report.Text, "Baselines created: 4")
}

func TestFirstLineTruncation(t *testing.T) {
	assert.Equal(t, "line one", firstLine("line one\nline two", 120))
	assert.Equal(t, "unknown error", firstLine("   ", 120))

	long := strings.Repeat("x", 200)
	got := firstLine(long, 120)
	assert.Len(t, got, 120)
	assert.True(t, strings.HasSuffix(got, "..."))
}
