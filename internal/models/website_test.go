package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsiteValidate(t *testing.T) {
	w := &Website{
		ID:             "site_1",
		URL:            "https://example.com",
		CadenceMinutes: 60,
		MaxCrawlDepth:  2,
	}
	require.NoError(t, w.Validate())

	w.CadenceMinutes = 0
	assert.Error(t, w.Validate())

	w.CadenceMinutes = 1
	w.URL = "not a url"
	assert.Error(t, w.Validate())

	w.URL = "https://example.com"
	w.NotificationRecipients = []string{"bogus"}
	assert.Error(t, w.Validate())
}

func TestIsPageExcludedMatchesPathSubstring(t *testing.T) {
	w := &Website{ExcludePageKeywords: []string{"Cart", "checkout"}}

	assert.True(t, w.IsPageExcluded("https://example.com/shop/CART/view", nil))
	assert.True(t, w.IsPageExcluded("https://example.com/checkout", nil))
	assert.False(t, w.IsPageExcluded("https://example.com/about", nil))

	// Keywords match the path, not the host.
	assert.False(t, w.IsPageExcluded("https://cart.example.com/about", nil))
}

func TestIsPageExcludedUsesGlobalFallback(t *testing.T) {
	w := &Website{}

	assert.True(t, w.IsPageExcluded("https://example.com/admin/login", []string{"admin"}))
	assert.False(t, w.IsPageExcluded("https://example.com/about", []string{"admin"}))
}

func TestWebsiteClone(t *testing.T) {
	checked := time.Now()
	w := &Website{
		ID:            "site_1",
		URL:           "https://example.com",
		Tags:          []string{"prod"},
		Baselines:     map[string]Baseline{"https://example.com/": {ImagePath: "a.png"}},
		LastCheckedAt: &checked,
	}

	clone := w.Clone()
	clone.Tags[0] = "changed"
	clone.Baselines["https://example.com/"] = Baseline{ImagePath: "b.png"}

	assert.Equal(t, "prod", w.Tags[0])
	assert.Equal(t, "a.png", w.Baselines["https://example.com/"].ImagePath)
}

func TestHasBaselines(t *testing.T) {
	w := &Website{}
	assert.False(t, w.HasBaselines())

	w.Baselines = map[string]Baseline{"https://example.com/": {}}
	assert.True(t, w.HasBaselines())
}
