package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
)

// healthPingTimeout bounds the storage probe so a wedged database cannot
// hang the health endpoint.
const healthPingTimeout = 2 * time.Second

// APIHandler serves the system endpoints: health, version and the JSON 404.
type APIHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewAPIHandler(storage interfaces.StorageManager, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		storage: storage,
		logger:  logger,
	}
}

// VersionHandler returns the build identity of the running engine.
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"service":    common.ServiceName,
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler reports liveness plus storage reachability. A monitor that
// cannot reach its own database answers 503 so upstream probes catch it.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	if h.storage != nil {
		if err := h.storage.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Health check found storage unreachable")
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"storage": "unreachable",
			})
			return
		}
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"storage": "ok",
	})
}

// NotFoundHandler answers unknown /api/ paths with a JSON 404.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
