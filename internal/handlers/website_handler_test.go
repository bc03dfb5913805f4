package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/events"
	"github.com/ternarybob/vigil/internal/storage/sqlite"
)

// fakeScheduler satisfies interfaces.SchedulerService for handler tests.
type fakeScheduler struct {
	mu              sync.Mutex
	running         bool
	rescheduleCalls int
	rescheduleErr   error
	removed         []string
}

func (f *fakeScheduler) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeScheduler) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeScheduler) Status() *models.SchedulerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := models.NewSchedulerState()
	state.IsRunning = f.running
	return state
}

func (f *fakeScheduler) ForceReschedule() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduleCalls++
	return f.rescheduleErr
}

func (f *fakeScheduler) RemoveWebsite(websiteID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, websiteID)
}

func (f *fakeScheduler) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeScheduler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rescheduleCalls
}

// handlerFixture bundles the real storage layer with the handlers under test.
type handlerFixture struct {
	config    *common.Config
	manager   *sqlite.Manager
	scheduler *fakeScheduler
	websites  *WebsiteHandler
	queue     *QueueHandler
	history   *HistoryHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, "vigil.db")

	logger := arbor.NewLogger()
	manager, err := sqlite.NewManager(logger, cfg.Storage.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	eventSvc := events.NewService(logger)
	t.Cleanup(func() { eventSvc.Close() })

	sched := &fakeScheduler{running: true}

	return &handlerFixture{
		config:    cfg,
		manager:   manager,
		scheduler: sched,
		websites:  NewWebsiteHandler(manager.Websites(), manager.Queue(), sched, eventSvc, cfg, logger),
		queue:     NewQueueHandler(manager.Queue(), logger),
		history:   NewHistoryHandler(manager.History(), logger),
	}
}

func (f *handlerFixture) createWebsite(t *testing.T, body string) *models.Website {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/websites", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.websites.CreateWebsiteHandler(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var site models.Website
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &site))
	return &site
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func TestCreateWebsiteFillsDefaults(t *testing.T) {
	f := newHandlerFixture(t)

	site := f.createWebsite(t, `{"url": "https://example.com"}`)

	assert.NotEmpty(t, site.ID)
	assert.Equal(t, "https://example.com", site.URL)
	assert.Equal(t, "https://example.com", site.Name)
	assert.Equal(t, 60, site.CadenceMinutes)
	assert.True(t, site.IsActive)
	assert.True(t, site.CrawlEnabled)
	assert.True(t, site.VisualEnabled)
	assert.False(t, site.BlurEnabled)
	assert.False(t, site.PerformanceEnabled)
	assert.True(t, site.CaptureSubpages)
	assert.Equal(t, f.config.Checks.MaxCrawlDepth, site.MaxCrawlDepth)
	assert.Equal(t, f.config.Checks.RenderDelaySeconds, site.RenderDelaySeconds)
	assert.Equal(t, f.config.Checks.VisualDiffThresholdPercent, site.VisualDiffThresholdPercent)
	assert.False(t, site.CreatedAt.IsZero())

	// Catalog mutation triggers a job set rebuild.
	assert.Equal(t, 1, f.scheduler.calls())
}

func TestCreateWebsiteHonorsExplicitFlags(t *testing.T) {
	f := newHandlerFixture(t)

	site := f.createWebsite(t, `{
		"url": "https://example.com",
		"name": "Example",
		"cadence_minutes": 15,
		"is_active": false,
		"crawl_enabled": false,
		"blur_enabled": true,
		"visual_diff_threshold_percent": 12.5
	}`)

	assert.Equal(t, "Example", site.Name)
	assert.Equal(t, 15, site.CadenceMinutes)
	assert.False(t, site.IsActive)
	assert.False(t, site.CrawlEnabled)
	assert.True(t, site.BlurEnabled)
	assert.Equal(t, 12.5, site.VisualDiffThresholdPercent)
}

func TestCreateWebsiteRequiresURL(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("POST", "/api/websites", strings.NewReader(`{"name": "no url"}`))
	rec := httptest.NewRecorder()
	f.websites.CreateWebsiteHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWebsiteRejectsMalformedBody(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("POST", "/api/websites", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	f.websites.CreateWebsiteHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWebsiteRejectsInvalidURL(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("POST", "/api/websites", strings.NewReader(`{"url": "not a url"}`))
	rec := httptest.NewRecorder()
	f.websites.CreateWebsiteHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWebsite(t *testing.T) {
	f := newHandlerFixture(t)
	site := f.createWebsite(t, `{"url": "https://example.com"}`)

	req := httptest.NewRequest("GET", "/api/websites/"+site.ID, nil)
	rec := httptest.NewRecorder()
	f.websites.GetWebsiteHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Website
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, site.ID, got.ID)
	assert.Equal(t, site.URL, got.URL)
}

func TestGetWebsiteNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("GET", "/api/websites/web_missing", nil)
	rec := httptest.NewRecorder()
	f.websites.GetWebsiteHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateWebsiteKeepsOmittedFields(t *testing.T) {
	f := newHandlerFixture(t)
	site := f.createWebsite(t, `{
		"url": "https://example.com",
		"name": "Example",
		"cadence_minutes": 30,
		"blur_enabled": true
	}`)

	req := httptest.NewRequest("PUT", "/api/websites/"+site.ID, strings.NewReader(`{"name": "Renamed"}`))
	rec := httptest.NewRecorder()
	f.websites.UpdateWebsiteHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got models.Website
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))

	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, 30, got.CadenceMinutes)
	assert.True(t, got.BlurEnabled)
	assert.True(t, got.IsActive)
}

func TestUpdateWebsiteFlipsExplicitFalse(t *testing.T) {
	f := newHandlerFixture(t)
	site := f.createWebsite(t, `{"url": "https://example.com"}`)

	req := httptest.NewRequest("PUT", "/api/websites/"+site.ID,
		strings.NewReader(`{"is_active": false, "visual_enabled": false}`))
	rec := httptest.NewRecorder()
	f.websites.UpdateWebsiteHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Website
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.IsActive)
	assert.False(t, got.VisualEnabled)
	assert.True(t, got.CrawlEnabled)
}

func TestUpdateWebsiteNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("PUT", "/api/websites/web_missing", strings.NewReader(`{"name": "x"}`))
	rec := httptest.NewRecorder()
	f.websites.UpdateWebsiteHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteWebsite(t *testing.T) {
	f := newHandlerFixture(t)
	site := f.createWebsite(t, `{"url": "https://example.com"}`)

	req := httptest.NewRequest("DELETE", "/api/websites/"+site.ID, nil)
	rec := httptest.NewRecorder()
	f.websites.DeleteWebsiteHandler(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest("GET", "/api/websites/"+site.ID, nil)
	rec = httptest.NewRecorder()
	f.websites.GetWebsiteHandler(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteWebsiteNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("DELETE", "/api/websites/web_missing", nil)
	rec := httptest.NewRecorder()
	f.websites.DeleteWebsiteHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWebsitesFiltersActive(t *testing.T) {
	f := newHandlerFixture(t)
	f.createWebsite(t, `{"url": "https://a.example.com"}`)
	f.createWebsite(t, `{"url": "https://b.example.com", "is_active": false}`)

	req := httptest.NewRequest("GET", "/api/websites?active=true", nil)
	rec := httptest.NewRecorder()
	f.websites.ListWebsitesHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeMap(t, rec)
	assert.Equal(t, float64(1), doc["count"])
}

func TestListWebsitesEmpty(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("GET", "/api/websites", nil)
	rec := httptest.NewRecorder()
	f.websites.ListWebsitesHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeMap(t, rec)
	assert.Equal(t, float64(0), doc["count"])
	assert.NotNil(t, doc["websites"])
}

func TestEnqueueCheck(t *testing.T) {
	f := newHandlerFixture(t)
	site := f.createWebsite(t, `{"url": "https://example.com"}`)

	req := httptest.NewRequest("POST", "/api/websites/"+site.ID+"/check",
		strings.NewReader(`{"check_type": "crawl", "requested_by": "dashboard"}`))
	rec := httptest.NewRecorder()
	f.websites.EnqueueCheckHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	doc := decodeMap(t, rec)
	assert.Equal(t, "queued", doc["status"])
	assert.Equal(t, "crawl", doc["check_type"])
	assert.NotEmpty(t, doc["queue_id"])
}

func TestEnqueueCheckDuplicateReturnsExistingRow(t *testing.T) {
	f := newHandlerFixture(t)
	site := f.createWebsite(t, `{"url": "https://example.com"}`)

	submit := func() map[string]interface{} {
		req := httptest.NewRequest("POST", "/api/websites/"+site.ID+"/check",
			strings.NewReader(`{"check_type": "crawl"}`))
		rec := httptest.NewRecorder()
		f.websites.EnqueueCheckHandler(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
		return decodeMap(t, rec)
	}

	first := submit()
	second := submit()
	assert.Equal(t, first["queue_id"], second["queue_id"])
}

func TestEnqueueCheckDisabledTypeConflicts(t *testing.T) {
	f := newHandlerFixture(t)
	site := f.createWebsite(t, `{"url": "https://example.com"}`)

	req := httptest.NewRequest("POST", "/api/websites/"+site.ID+"/check",
		strings.NewReader(`{"check_type": "blur"}`))
	rec := httptest.NewRecorder()
	f.websites.EnqueueCheckHandler(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnqueueCheckUnknownType(t *testing.T) {
	f := newHandlerFixture(t)
	site := f.createWebsite(t, `{"url": "https://example.com"}`)

	req := httptest.NewRequest("POST", "/api/websites/"+site.ID+"/check",
		strings.NewReader(`{"check_type": "bogus"}`))
	rec := httptest.NewRecorder()
	f.websites.EnqueueCheckHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueCheckUnknownWebsite(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("POST", "/api/websites/web_missing/check",
		strings.NewReader(`{"check_type": "crawl"}`))
	rec := httptest.NewRecorder()
	f.websites.EnqueueCheckHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
