package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allFlagsWebsite() *Website {
	return &Website{
		ID:                 "site_test",
		URL:                "https://example.com",
		CrawlEnabled:       true,
		VisualEnabled:      true,
		BlurEnabled:        true,
		PerformanceEnabled: true,
	}
}

func TestParseCheckType(t *testing.T) {
	for _, valid := range []string{"crawl", "visual", "blur", "performance", "full", "baseline"} {
		ct, err := ParseCheckType(valid)
		require.NoError(t, err)
		assert.Equal(t, CheckType(valid), ct)
	}

	_, err := ParseCheckType("screenshot")
	assert.Error(t, err)
}

func TestManualCheckConfigTemplates(t *testing.T) {
	w := allFlagsWebsite()

	assert.Equal(t, CheckConfig{Crawl: true}, ManualCheckConfig(CheckTypeCrawl, w))
	assert.Equal(t, CheckConfig{Visual: true}, ManualCheckConfig(CheckTypeVisual, w))
	assert.Equal(t, CheckConfig{Blur: true}, ManualCheckConfig(CheckTypeBlur, w))
	assert.Equal(t, CheckConfig{Performance: true}, ManualCheckConfig(CheckTypePerformance, w))
	assert.Equal(t, CheckConfig{Crawl: true, Visual: true, Blur: true, Performance: true},
		ManualCheckConfig(CheckTypeFull, w))
}

func TestManualCheckConfigGatedBySiteFlags(t *testing.T) {
	w := allFlagsWebsite()
	w.PerformanceEnabled = false

	// A manual performance button on a site with performance disabled runs nothing.
	cfg := ManualCheckConfig(CheckTypePerformance, w)
	assert.False(t, cfg.AnyEnabled())

	// A manual full check drops only the disabled phase.
	full := ManualCheckConfig(CheckTypeFull, w)
	assert.True(t, full.Crawl)
	assert.True(t, full.Visual)
	assert.True(t, full.Blur)
	assert.False(t, full.Performance)
}

func TestBaselineRequestForcesVisual(t *testing.T) {
	w := allFlagsWebsite()
	w.VisualEnabled = false

	cfg := ManualCheckConfig(CheckTypeBaseline, w)
	assert.True(t, cfg.Visual)
	assert.True(t, cfg.CreateBaseline)
	assert.False(t, cfg.Crawl)
	assert.False(t, cfg.Blur)
	assert.False(t, cfg.Performance)
}

func TestAutomatedCheckConfigFullOverridesFlags(t *testing.T) {
	w := allFlagsWebsite()
	w.BlurEnabled = false
	w.FullCheckEnabled = true

	cfg := AutomatedCheckConfig(w)
	assert.Equal(t, CheckConfig{Crawl: true, Visual: true, Blur: true, Performance: true}, cfg)
}

func TestAutomatedCheckConfigPerFeatureFlags(t *testing.T) {
	w := allFlagsWebsite()
	w.FullCheckEnabled = false
	w.VisualEnabled = false
	w.PerformanceEnabled = false

	cfg := AutomatedCheckConfig(w)
	assert.Equal(t, CheckConfig{Crawl: true, Blur: true}, cfg)
}

func TestPhaseCount(t *testing.T) {
	assert.Equal(t, 0, CheckConfig{}.PhaseCount())
	assert.Equal(t, 1, CheckConfig{Visual: true}.PhaseCount())
	assert.Equal(t, 4, CheckConfig{Crawl: true, Visual: true, Blur: true, Performance: true}.PhaseCount())
	assert.False(t, CheckConfig{CreateBaseline: true}.AnyEnabled())
}
