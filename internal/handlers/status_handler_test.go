package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/status"
)

func TestGetStatusDocument(t *testing.T) {
	f := newHandlerFixture(t)
	site := f.createWebsite(t, `{"url": "https://example.com"}`)
	enqueueDirect(t, f, site.ID, models.CheckTypeCrawl)

	logger := arbor.NewLogger()
	statusService := status.NewService(f.scheduler, f.manager.Queue(), f.manager.History(), logger)
	h := NewStatusHandler(statusService, logger)

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	h.GetStatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeMap(t, rec)

	assert.Equal(t, "idle", doc["state"])
	assert.Equal(t, float64(1), doc["queue_depth"])
	assert.Equal(t, float64(0), doc["checks_24h"])
	assert.NotEmpty(t, doc["version"])
	assert.NotNil(t, doc["timestamp"])

	sched, ok := doc["scheduler"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, sched["running"])
}

func TestGetStatusWithoutScheduler(t *testing.T) {
	f := newHandlerFixture(t)

	logger := arbor.NewLogger()
	statusService := status.NewService(nil, f.manager.Queue(), f.manager.History(), logger)
	h := NewStatusHandler(statusService, logger)

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	h.GetStatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeMap(t, rec)

	sched, ok := doc["scheduler"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, sched["running"])
}

func TestGetStatusMethodGuard(t *testing.T) {
	f := newHandlerFixture(t)
	logger := arbor.NewLogger()
	h := NewStatusHandler(status.NewService(nil, f.manager.Queue(), f.manager.History(), logger), logger)

	req := httptest.NewRequest("POST", "/api/status", nil)
	rec := httptest.NewRecorder()
	h.GetStatusHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
