package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/models"
)

func setupSeedTest(t *testing.T) (*Manager, string) {
	t.Helper()

	dir := t.TempDir()
	manager, err := NewManager(arbor.NewLogger(), filepath.Join(dir, "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	defsDir := filepath.Join(dir, "websites.d")
	require.NoError(t, os.Mkdir(defsDir, 0o755))
	return manager, defsDir
}

func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestSeedWebsitesInsertsDefinitions(t *testing.T) {
	manager, defsDir := setupSeedTest(t)
	defaults := common.NewDefaultConfig().Checks

	writeDefinition(t, defsDir, "docs.toml", `
id = "site_docs"
url = "https://docs.example.com"
name = "Docs"
cadence_minutes = 15
blur = true
`)
	writeDefinition(t, defsDir, "shop.yaml", `
url: https://example.com/shop
tags:
  - prod
`)

	require.NoError(t, manager.SeedWebsites(context.Background(), defsDir, defaults))

	docs, err := manager.Websites().Get(context.Background(), "site_docs")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com", docs.URL)
	assert.Equal(t, "Docs", docs.Name)
	assert.Equal(t, 15, docs.CadenceMinutes)
	assert.True(t, docs.IsActive)
	assert.True(t, docs.CrawlEnabled)
	assert.True(t, docs.VisualEnabled)
	assert.True(t, docs.BlurEnabled)
	assert.False(t, docs.PerformanceEnabled)

	// No id in the file: derived from host and path, defaults fill the rest.
	shop, err := manager.Websites().Get(context.Background(), "site_example_com__shop")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/shop", shop.URL)
	assert.Equal(t, "https://example.com/shop", shop.Name)
	assert.Equal(t, 60, shop.CadenceMinutes)
	assert.Equal(t, []string{"prod"}, shop.Tags)
	assert.Equal(t, defaults.MaxCrawlDepth, shop.MaxCrawlDepth)
	assert.Equal(t, defaults.RenderDelaySeconds, shop.RenderDelaySeconds)
	assert.Equal(t, defaults.VisualDiffThresholdPercent, shop.VisualDiffThresholdPercent)
	assert.True(t, shop.CaptureSubpages)
}

func TestSeedWebsitesNeverOverwritesExisting(t *testing.T) {
	manager, defsDir := setupSeedTest(t)
	defaults := common.NewDefaultConfig().Checks

	existing := testWebsite("site_docs")
	existing.Name = "Dashboard Edit"
	require.NoError(t, manager.Websites().Upsert(context.Background(), existing))

	writeDefinition(t, defsDir, "docs.toml", `
id = "site_docs"
url = "https://docs.example.com"
name = "Seeded Name"
`)

	require.NoError(t, manager.SeedWebsites(context.Background(), defsDir, defaults))

	got, err := manager.Websites().Get(context.Background(), "site_docs")
	require.NoError(t, err)
	assert.Equal(t, "Dashboard Edit", got.Name)

	// A second run finds the row present and still leaves it alone.
	require.NoError(t, manager.SeedWebsites(context.Background(), defsDir, defaults))
	all, err := manager.Websites().List(context.Background(), models.WebsiteFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSeedWebsitesSkipsInvalidDefinitions(t *testing.T) {
	manager, defsDir := setupSeedTest(t)
	defaults := common.NewDefaultConfig().Checks

	writeDefinition(t, defsDir, "broken.toml", `url = [unclosed`)
	writeDefinition(t, defsDir, "invalid.toml", `url = "not-a-url"`)
	writeDefinition(t, defsDir, "notes.md", `not a definition`)
	writeDefinition(t, defsDir, "good.yaml", `url: https://example.com`)

	require.NoError(t, manager.SeedWebsites(context.Background(), defsDir, defaults))

	all, err := manager.Websites().List(context.Background(), models.WebsiteFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "https://example.com", all[0].URL)
}

func TestSeedWebsitesMissingDirectory(t *testing.T) {
	manager, _ := setupSeedTest(t)
	defaults := common.NewDefaultConfig().Checks

	err := manager.SeedWebsites(context.Background(), filepath.Join(t.TempDir(), "absent"), defaults)
	require.NoError(t, err)

	all, err := manager.Websites().List(context.Background(), models.WebsiteFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}
