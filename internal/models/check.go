package models

import "fmt"

// CheckType identifies what kind of check a queue item or trigger requests.
type CheckType string

const (
	CheckTypeCrawl       CheckType = "crawl"
	CheckTypeVisual      CheckType = "visual"
	CheckTypeBlur        CheckType = "blur"
	CheckTypePerformance CheckType = "performance"
	CheckTypeFull        CheckType = "full"
	CheckTypeBaseline    CheckType = "baseline"
)

// ParseCheckType validates a raw check type string.
func ParseCheckType(s string) (CheckType, error) {
	switch CheckType(s) {
	case CheckTypeCrawl, CheckTypeVisual, CheckTypeBlur, CheckTypePerformance, CheckTypeFull, CheckTypeBaseline:
		return CheckType(s), nil
	default:
		return "", fmt.Errorf("invalid check type: %q", s)
	}
}

// IsValid reports whether the check type is one of the known variants.
func (t CheckType) IsValid() bool {
	_, err := ParseCheckType(string(t))
	return err == nil
}

// CheckConfig is the per-invocation flag set handed to the check dispatcher.
// The four analysis flags select phases; CreateBaseline switches the visual
// phase from comparing into capturing reference snapshots.
type CheckConfig struct {
	Crawl          bool `json:"crawl"`
	Visual         bool `json:"visual"`
	Blur           bool `json:"blur"`
	Performance    bool `json:"performance"`
	CreateBaseline bool `json:"create_baseline"`
}

// AnyEnabled reports whether at least one analysis phase is selected.
func (c CheckConfig) AnyEnabled() bool {
	return c.Crawl || c.Visual || c.Blur || c.Performance
}

// PhaseCount returns how many of the four analysis phases are selected.
func (c CheckConfig) PhaseCount() int {
	count := 0
	for _, on := range []bool{c.Crawl, c.Visual, c.Blur, c.Performance} {
		if on {
			count++
		}
	}
	return count
}

// ManualCheckConfig derives the flag set for a manual check request. Each
// check type starts from its template (visual enables only visual, full
// enables all four) and every flag is then gated by the site's corresponding
// enable flag, so a site with performance disabled never runs a performance
// analysis even from a manual performance button. A baseline request always
// runs the visual phase with baseline-create intent, regardless of the
// site's visual flag.
func ManualCheckConfig(t CheckType, w *Website) CheckConfig {
	var template CheckConfig
	switch t {
	case CheckTypeCrawl:
		template = CheckConfig{Crawl: true}
	case CheckTypeVisual:
		template = CheckConfig{Visual: true}
	case CheckTypeBlur:
		template = CheckConfig{Blur: true}
	case CheckTypePerformance:
		template = CheckConfig{Performance: true}
	case CheckTypeFull:
		template = CheckConfig{Crawl: true, Visual: true, Blur: true, Performance: true}
	case CheckTypeBaseline:
		return CheckConfig{Visual: true, CreateBaseline: true}
	}

	return CheckConfig{
		Crawl:       template.Crawl && w.CrawlEnabled,
		Visual:      template.Visual && w.VisualEnabled,
		Blur:        template.Blur && w.BlurEnabled,
		Performance: template.Performance && w.PerformanceEnabled,
	}
}

// AutomatedCheckConfig derives the flag set for a scheduled check. A site
// with full checks enabled runs all four phases; otherwise the per-feature
// flags apply verbatim.
func AutomatedCheckConfig(w *Website) CheckConfig {
	if w.FullCheckEnabled {
		return CheckConfig{Crawl: true, Visual: true, Blur: true, Performance: true}
	}
	return CheckConfig{
		Crawl:       w.CrawlEnabled,
		Visual:      w.VisualEnabled,
		Blur:        w.BlurEnabled,
		Performance: w.PerformanceEnabled,
	}
}
