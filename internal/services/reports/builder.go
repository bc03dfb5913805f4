package reports

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/models"
)

//go:embed report.html
var templateFS embed.FS

// Report is a rendered notification ready to hand to the mailer.
type Report struct {
	Subject string
	HTML    string
	Text    string
}

// Builder renders check records into email reports. The HTML body comes
// from the embedded template; a plain-text alternative is generated
// alongside it for clients that cannot render HTML.
type Builder struct {
	tmpl   *template.Template
	logger arbor.ILogger
}

// NewBuilder parses the embedded report template.
func NewBuilder(logger arbor.ILogger) (*Builder, error) {
	tmpl, err := template.ParseFS(templateFS, "report.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}

	return &Builder{
		tmpl:   tmpl,
		logger: logger,
	}, nil
}

type visualPageView struct {
	URL          string
	DiffPercent  string
	Changed      bool
	Error        string
	SnapshotLink string
	DiffLink     string
}

type templateData struct {
	KindLabel    string
	AccentColor  string
	SiteName     string
	SiteURL      string
	Timestamp    string
	IsManual     bool
	ErrorMessage string
	Crawl        *models.CrawlStats
	BrokenLinks  []models.BrokenLink
	MetaIssues   []models.MetaIssue
	Visual       *models.VisualSummary
	VisualPages  []visualPageView
	Blur         *models.BlurSummary
	Performance  *models.PerformanceSummary
	DashboardURL string
}

// Build renders the subject, HTML body, and text body for one check
// record. Phase sections appear only when the record carries that
// phase's payload. Snapshot paths are resolved into links under the
// dashboard's /snapshots/ route.
func (b *Builder) Build(website *models.Website, record *models.CheckRecord, kind models.ReportKind, dashboardURL string) (*Report, error) {
	if website == nil || record == nil {
		return nil, fmt.Errorf("website and record are required")
	}

	data := templateData{
		KindLabel:    kindLabel(kind),
		AccentColor:  accentColor(kind),
		SiteName:     website.Name,
		SiteURL:      website.URL,
		Timestamp:    record.Timestamp.UTC().Format("2 Jan 2006 15:04 UTC"),
		IsManual:     record.IsManual,
		ErrorMessage: record.ErrorMessage,
		Crawl:        record.Crawl,
		BrokenLinks:  record.BrokenLinks,
		MetaIssues:   record.MetaIssues,
		Visual:       record.Visual,
		VisualPages:  visualPages(record.Visual, dashboardURL),
		Blur:         record.Blur,
		Performance:  record.Performance,
		DashboardURL: dashboardURL,
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}

	report := &Report{
		Subject: subjectLine(website, record, kind),
		HTML:    buf.String(),
		Text:    textBody(website, record, kind, dashboardURL),
	}

	b.logger.Debug().
		Str("website_id", website.ID).
		Str("kind", string(kind)).
		Str("subject", report.Subject).
		Msg("Report rendered")

	return report, nil
}

func visualPages(summary *models.VisualSummary, dashboardURL string) []visualPageView {
	if summary == nil || len(summary.Pages) == 0 {
		return nil
	}

	views := make([]visualPageView, 0, len(summary.Pages))
	for _, page := range summary.Pages {
		views = append(views, visualPageView{
			URL:          page.URL,
			DiffPercent:  fmt.Sprintf("%.2f", page.DiffPercent),
			Changed:      page.Changed,
			Error:        page.Error,
			SnapshotLink: snapshotLink(dashboardURL, page.SnapshotPath),
			DiffLink:     snapshotLink(dashboardURL, page.DiffImagePath),
		})
	}
	return views
}

func snapshotLink(dashboardURL, relPath string) string {
	if relPath == "" || dashboardURL == "" {
		return ""
	}
	return strings.TrimRight(dashboardURL, "/") + "/snapshots/" + relPath
}

func kindLabel(kind models.ReportKind) string {
	switch kind {
	case models.ReportBaselineCreated:
		return "Baselines Created"
	case models.ReportManualCrawl:
		return "Manual Crawl Check"
	case models.ReportManualVisual:
		return "Manual Visual Check"
	case models.ReportManualBlur:
		return "Manual Blur Check"
	case models.ReportManualPerformance:
		return "Manual Performance Check"
	case models.ReportManualFull:
		return "Manual Full Check"
	case models.ReportScheduledFull:
		return "Scheduled Full Check"
	case models.ReportError:
		return "Check Failed"
	}
	return "Check Report"
}

func accentColor(kind models.ReportKind) string {
	switch kind {
	case models.ReportError:
		return "#dc2626"
	case models.ReportScheduledFull:
		return "#16a34a"
	}
	return "#2563eb"
}

func subjectLine(website *models.Website, record *models.CheckRecord, kind models.ReportKind) string {
	switch kind {
	case models.ReportBaselineCreated:
		return fmt.Sprintf("Baselines Created for %s", website.Name)
	case models.ReportManualCrawl:
		return fmt.Sprintf("Manual Crawl Check for %s — %s", website.Name, crawlSummary(record))
	case models.ReportManualVisual:
		return fmt.Sprintf("Manual Visual Check for %s — %s", website.Name, visualSummary(record))
	case models.ReportManualBlur:
		return fmt.Sprintf("Manual Blur Check for %s — %s", website.Name, blurSummary(record))
	case models.ReportManualPerformance:
		return fmt.Sprintf("Manual Performance Check for %s — %s", website.Name, performanceSummary(record))
	case models.ReportManualFull:
		return fmt.Sprintf("Manual Full Check for %s — %s", website.Name, fullSummary(record))
	case models.ReportScheduledFull:
		return fmt.Sprintf("Scheduled Full Check for %s", website.Name)
	case models.ReportError:
		return fmt.Sprintf("Check Failed for %s — %s", website.Name, firstLine(record.ErrorMessage, 120))
	}
	return fmt.Sprintf("Check Report for %s", website.Name)
}

func crawlSummary(record *models.CheckRecord) string {
	if record.Crawl == nil {
		return "completed"
	}
	return fmt.Sprintf("%d pages, %d broken links", record.Crawl.PagesCrawled, record.Crawl.BrokenLinkCount)
}

func visualSummary(record *models.CheckRecord) string {
	if record.Visual == nil {
		return "completed"
	}
	if record.Visual.BaselinesCreated > 0 {
		return fmt.Sprintf("%d baselines created", record.Visual.BaselinesCreated)
	}
	if record.Visual.PagesChanged > 0 {
		return fmt.Sprintf("%d of %d pages changed", record.Visual.PagesChanged, record.Visual.PagesCompared)
	}
	return "no changes detected"
}

func blurSummary(record *models.CheckRecord) string {
	if record.Blur == nil {
		return "completed"
	}
	if record.Blur.BlurryCount > 0 {
		return fmt.Sprintf("%d of %d images blurry", record.Blur.BlurryCount, record.Blur.ImagesProcessed)
	}
	return "no blurry images"
}

func performanceSummary(record *models.CheckRecord) string {
	if record.Performance == nil {
		return "completed"
	}
	return fmt.Sprintf("mobile %.0f, desktop %.0f", record.Performance.AvgMobileScore, record.Performance.AvgDesktopScore)
}

func fullSummary(record *models.CheckRecord) string {
	var parts []string
	if record.Visual != nil && record.Visual.PagesChanged > 0 {
		parts = append(parts, fmt.Sprintf("%d pages changed", record.Visual.PagesChanged))
	}
	if record.Crawl != nil && record.Crawl.BrokenLinkCount > 0 {
		parts = append(parts, fmt.Sprintf("%d broken links", record.Crawl.BrokenLinkCount))
	}
	if record.Blur != nil && record.Blur.BlurryCount > 0 {
		parts = append(parts, fmt.Sprintf("%d blurry images", record.Blur.BlurryCount))
	}
	if len(parts) == 0 {
		return "no issues found"
	}
	return strings.Join(parts, ", ")
}

func firstLine(msg string, max int) string {
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown error"
	}
	if len(msg) > max {
		msg = msg[:max-3] + "..."
	}
	return msg
}

func textBody(website *models.Website, record *models.CheckRecord, kind models.ReportKind, dashboardURL string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s: %s\n", kindLabel(kind), website.Name)
	fmt.Fprintf(&sb, "URL: %s\n", website.URL)
	fmt.Fprintf(&sb, "Time: %s\n", record.Timestamp.UTC().Format("2 Jan 2006 15:04 UTC"))

	if record.ErrorMessage != "" {
		fmt.Fprintf(&sb, "\nError: %s\n", record.ErrorMessage)
	}

	if record.Crawl != nil {
		sb.WriteString("\nCrawl\n")
		fmt.Fprintf(&sb, "  Pages crawled: %d\n", record.Crawl.PagesCrawled)
		fmt.Fprintf(&sb, "  Broken links: %d\n", record.Crawl.BrokenLinkCount)
		fmt.Fprintf(&sb, "  Images found: %d\n", record.Crawl.ImagesFound)
		if record.Crawl.HasSitemap {
			sb.WriteString("  Sitemap: present\n")
		} else {
			sb.WriteString("  Sitemap: missing\n")
		}
		for _, link := range record.BrokenLinks {
			if link.StatusCode > 0 {
				fmt.Fprintf(&sb, "  Broken: %s (%d)\n", link.URL, link.StatusCode)
			} else {
				fmt.Fprintf(&sb, "  Broken: %s\n", link.URL)
			}
		}
	}

	if record.Visual != nil {
		sb.WriteString("\nVisual\n")
		if record.Visual.BaselinesCreated > 0 {
			fmt.Fprintf(&sb, "  Baselines created: %d\n", record.Visual.BaselinesCreated)
		} else {
			fmt.Fprintf(&sb, "  Pages changed: %d of %d\n", record.Visual.PagesChanged, record.Visual.PagesCompared)
		}
		for _, page := range record.Visual.Pages {
			if page.Error != "" {
				fmt.Fprintf(&sb, "  %s: %s\n", page.URL, page.Error)
			} else if page.Changed {
				fmt.Fprintf(&sb, "  %s: %.2f%% changed\n", page.URL, page.DiffPercent)
			}
		}
	}

	if record.Blur != nil {
		sb.WriteString("\nImage sharpness\n")
		fmt.Fprintf(&sb, "  Blurry images: %d of %d\n", record.Blur.BlurryCount, record.Blur.ImagesProcessed)
		for _, img := range record.Blur.BlurryImages {
			fmt.Fprintf(&sb, "  %s\n", img.URL)
		}
	}

	if record.Performance != nil {
		sb.WriteString("\nPerformance\n")
		fmt.Fprintf(&sb, "  Pages analyzed: %d\n", record.Performance.PagesAnalyzed)
		fmt.Fprintf(&sb, "  Average mobile score: %.0f\n", record.Performance.AvgMobileScore)
		fmt.Fprintf(&sb, "  Average desktop score: %.0f\n", record.Performance.AvgDesktopScore)
		if record.Performance.SlowestPage != "" {
			fmt.Fprintf(&sb, "  Slowest page: %s\n", record.Performance.SlowestPage)
		}
	}

	if dashboardURL != "" {
		fmt.Fprintf(&sb, "\nDashboard: %s\n", dashboardURL)
	}

	return sb.String()
}
