package models

// ReportKind selects the notification template for a completed check run.
type ReportKind string

const (
	ReportBaselineCreated   ReportKind = "baseline-created"
	ReportManualCrawl       ReportKind = "manual-crawl"
	ReportManualVisual      ReportKind = "manual-visual"
	ReportManualBlur        ReportKind = "manual-blur"
	ReportManualPerformance ReportKind = "manual-performance"
	ReportManualFull        ReportKind = "manual-full"
	ReportScheduledFull     ReportKind = "scheduled-full"
	ReportError             ReportKind = "error"
)

// IsManualKind reports whether the kind belongs to the manual family.
func (k ReportKind) IsManualKind() bool {
	switch k {
	case ReportManualCrawl, ReportManualVisual, ReportManualBlur, ReportManualPerformance, ReportManualFull:
		return true
	}
	return false
}

// ClassifyReport maps one check run onto its report kind. A failed run is
// always an error report. Baseline creation with only the visual phase gets
// its own template. Otherwise the manual/scheduled origin and the
// single-phase/full distinction drive the choice; a manual run that covers
// more than one phase reports as a full check even when site flags trimmed
// some phases, since the operator asked for a full check.
func ClassifyReport(cfg CheckConfig, isManual bool, record *CheckRecord) ReportKind {
	if record != nil && record.Status == CheckStatusFailed {
		return ReportError
	}

	if cfg.CreateBaseline && cfg.Visual && cfg.PhaseCount() == 1 {
		return ReportBaselineCreated
	}

	if isManual {
		if cfg.PhaseCount() == 1 {
			switch {
			case cfg.Crawl:
				return ReportManualCrawl
			case cfg.Visual:
				return ReportManualVisual
			case cfg.Blur:
				return ReportManualBlur
			case cfg.Performance:
				return ReportManualPerformance
			}
		}
		return ReportManualFull
	}

	return ReportScheduledFull
}
