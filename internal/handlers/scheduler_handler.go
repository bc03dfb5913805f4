package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/services/scheduler"
)

// SchedulerHandler exposes scheduler state and operator controls.
type SchedulerHandler struct {
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

// NewSchedulerHandler creates a new scheduler handler.
func NewSchedulerHandler(schedulerService interfaces.SchedulerService, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: schedulerService,
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/scheduler/status
func (h *SchedulerHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, h.scheduler.Status())
}

// RescheduleHandler handles POST /api/scheduler/reschedule. Rebuilds the
// whole cron job set from the catalog.
func (h *SchedulerHandler) RescheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if !h.scheduler.IsRunning() {
		WriteError(w, http.StatusConflict, "Scheduler is not running")
		return
	}

	if err := h.scheduler.ForceReschedule(); err != nil {
		if errors.Is(err, scheduler.ErrSchedulerDisabled) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to rebuild scheduler job set")
		WriteError(w, http.StatusInternalServerError, "Failed to rebuild scheduler job set")
		return
	}

	state := h.scheduler.Status()
	h.logger.Info().
		Int("website_count", len(state.ScheduledWebsites)).
		Msg("Scheduler job set rebuilt via API")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"scheduled": len(state.ScheduledWebsites),
	})
}
