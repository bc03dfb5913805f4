package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// QueueHandler exposes the manual check queue.
type QueueHandler struct {
	queue  interfaces.QueueStorage
	logger arbor.ILogger
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(queue interfaces.QueueStorage, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		queue:  queue,
		logger: logger,
	}
}

// ListQueueHandler handles GET /api/queue. Returns pending and processing
// items, manual submissions first; website_id narrows to one site.
func (h *QueueHandler) ListQueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	items, err := h.queue.ListPending(r.Context(), r.URL.Query().Get("website_id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list queue items")
		WriteError(w, http.StatusInternalServerError, "Failed to list queue items")
		return
	}

	if items == nil {
		items = []*models.QueueItem{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// GetQueueItemHandler handles GET /api/queue/{id}
func (h *QueueHandler) GetQueueItemHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id, _ := PathID(r.URL.Path, "/api/queue")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Queue item ID is required")
		return
	}

	item, err := h.queue.Get(r.Context(), id)
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Queue item not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("queue_id", id).Msg("Failed to get queue item")
		WriteError(w, http.StatusInternalServerError, "Failed to get queue item")
		return
	}

	WriteJSON(w, http.StatusOK, item)
}

// ClearQueueHandler handles POST /api/queue/clear. Drops every pending and
// processing row; intended for operator recovery after a stuck run.
func (h *QueueHandler) ClearQueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	cleared, err := h.queue.ClearActive(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to clear queue")
		WriteError(w, http.StatusInternalServerError, "Failed to clear queue")
		return
	}

	h.logger.Warn().Int("cleared", cleared).Msg("Queue cleared via API")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"cleared": cleared,
	})
}
