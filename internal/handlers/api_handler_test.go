package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
)

func newAPIHandler(f *handlerFixture) *APIHandler {
	return NewAPIHandler(f.manager, arbor.NewLogger())
}

func TestVersionHandler(t *testing.T) {
	api := newAPIHandler(newHandlerFixture(t))

	req := httptest.NewRequest("GET", "/api/version", nil)
	rec := httptest.NewRecorder()
	api.VersionHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeMap(t, rec)
	assert.Equal(t, "vigil", doc["service"])
	assert.Equal(t, common.GetVersion(), doc["version"])
	assert.Equal(t, common.GetBuild(), doc["build"])
	assert.Equal(t, common.GetGitCommit(), doc["git_commit"])
}

func TestVersionHandlerRejectsPost(t *testing.T) {
	api := newAPIHandler(newHandlerFixture(t))

	req := httptest.NewRequest("POST", "/api/version", nil)
	rec := httptest.NewRecorder()
	api.VersionHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthHandlerReportsStorageOK(t *testing.T) {
	api := newAPIHandler(newHandlerFixture(t))

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	api.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeMap(t, rec)
	assert.Equal(t, "ok", doc["status"])
	assert.Equal(t, "ok", doc["storage"])
}

func TestHealthHandlerDegradedWhenStorageDown(t *testing.T) {
	f := newHandlerFixture(t)
	api := newAPIHandler(f)
	require.NoError(t, f.manager.Close())

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	api.HealthHandler(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	doc := decodeMap(t, rec)
	assert.Equal(t, "degraded", doc["status"])
	assert.Equal(t, "unreachable", doc["storage"])
}

func TestHealthHandlerRejectsPost(t *testing.T) {
	api := newAPIHandler(newHandlerFixture(t))

	req := httptest.NewRequest("POST", "/api/health", nil)
	rec := httptest.NewRecorder()
	api.HealthHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNotFoundHandler(t *testing.T) {
	api := newAPIHandler(newHandlerFixture(t))

	req := httptest.NewRequest("GET", "/api/nope", nil)
	rec := httptest.NewRecorder()
	api.NotFoundHandler(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	doc := decodeMap(t, rec)
	assert.Equal(t, "Not Found", doc["error"])
	assert.Equal(t, "/api/nope", doc["path"])
}
