package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

const defaultHistoryLimit = 50

// HistoryHandler exposes the append-only check history.
type HistoryHandler struct {
	history interfaces.HistoryStorage
	logger  arbor.ILogger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(history interfaces.HistoryStorage, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger,
	}
}

// ListHistoryHandler handles GET /api/history?website_id=&limit=.
// Records come back newest first.
func (h *HistoryHandler) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	websiteID := r.URL.Query().Get("website_id")
	if websiteID == "" {
		WriteError(w, http.StatusBadRequest, "website_id query parameter is required")
		return
	}

	filter := models.HistoryFilter{
		WebsiteID: websiteID,
		Limit:     QueryInt(r, "limit", defaultHistoryLimit),
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}

	records, err := h.history.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Str("website_id", websiteID).Msg("Failed to list check history")
		WriteError(w, http.StatusInternalServerError, "Failed to list check history")
		return
	}

	if records == nil {
		records = []*models.CheckRecord{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// LatestHistoryHandler handles GET /api/history/latest?website_id=.
func (h *HistoryHandler) LatestHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	websiteID := r.URL.Query().Get("website_id")
	if websiteID == "" {
		WriteError(w, http.StatusBadRequest, "website_id query parameter is required")
		return
	}

	record, err := h.history.Latest(r.Context(), websiteID)
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "No checks recorded for this website")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("website_id", websiteID).Msg("Failed to load latest check")
		WriteError(w, http.StatusInternalServerError, "Failed to load latest check")
		return
	}

	WriteJSON(w, http.StatusOK, record)
}
