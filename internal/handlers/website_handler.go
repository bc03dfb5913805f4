package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// WebsiteHandler handles catalog CRUD and manual check submission.
type WebsiteHandler struct {
	websites  interfaces.WebsiteStorage
	queue     interfaces.QueueStorage
	scheduler interfaces.SchedulerService
	events    interfaces.EventService
	config    *common.Config
	logger    arbor.ILogger
}

// NewWebsiteHandler creates a new website handler. The scheduler may be nil
// when scheduling is disabled.
func NewWebsiteHandler(
	websites interfaces.WebsiteStorage,
	queue interfaces.QueueStorage,
	scheduler interfaces.SchedulerService,
	events interfaces.EventService,
	config *common.Config,
	logger arbor.ILogger,
) *WebsiteHandler {
	return &WebsiteHandler{
		websites:  websites,
		queue:     queue,
		scheduler: scheduler,
		events:    events,
		config:    config,
		logger:    logger,
	}
}

// websiteRequest is the create/update body. Optional flags are pointers so
// an absent key is distinguishable from an explicit false: creation fills
// absent keys from instance defaults, updates keep the stored value.
type websiteRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`

	CadenceMinutes int      `json:"cadence_minutes"`
	Active         *bool    `json:"is_active"`
	Tags           []string `json:"tags"`
	Recipients     []string `json:"notification_recipients"`

	Crawl       *bool `json:"crawl_enabled"`
	Visual      *bool `json:"visual_enabled"`
	Blur        *bool `json:"blur_enabled"`
	Performance *bool `json:"performance_enabled"`
	FullCheck   *bool `json:"full_check_enabled"`

	MaxCrawlDepth              int      `json:"max_crawl_depth"`
	RenderDelaySeconds         *int     `json:"render_delay_seconds"`
	VisualDiffThresholdPercent *float64 `json:"visual_diff_threshold_percent"`
	CaptureSubpages            *bool    `json:"capture_subpages"`
	ExcludePageKeywords        []string `json:"exclude_page_keywords"`
}

// toNewWebsite builds a catalog entity from the request, filling omitted
// keys the same way file seeding does.
func (req *websiteRequest) toNewWebsite(defaults common.ChecksConfig) *models.Website {
	w := &models.Website{
		ID:                     common.NewWebsiteID(),
		URL:                    strings.TrimSpace(req.URL),
		Name:                   req.Name,
		CadenceMinutes:         req.CadenceMinutes,
		IsActive:               boolOr(req.Active, true),
		Tags:                   req.Tags,
		NotificationRecipients: req.Recipients,

		CrawlEnabled:       boolOr(req.Crawl, true),
		VisualEnabled:      boolOr(req.Visual, true),
		BlurEnabled:        boolOr(req.Blur, false),
		PerformanceEnabled: boolOr(req.Performance, false),
		FullCheckEnabled:   boolOr(req.FullCheck, false),

		MaxCrawlDepth:       req.MaxCrawlDepth,
		CaptureSubpages:     boolOr(req.CaptureSubpages, true),
		ExcludePageKeywords: req.ExcludePageKeywords,
	}

	if w.Name == "" {
		w.Name = w.URL
	}
	if w.CadenceMinutes <= 0 {
		w.CadenceMinutes = 60
	}
	if w.MaxCrawlDepth <= 0 {
		w.MaxCrawlDepth = defaults.MaxCrawlDepth
	}
	if req.RenderDelaySeconds != nil {
		w.RenderDelaySeconds = *req.RenderDelaySeconds
	} else {
		w.RenderDelaySeconds = defaults.RenderDelaySeconds
	}
	if req.VisualDiffThresholdPercent != nil {
		w.VisualDiffThresholdPercent = *req.VisualDiffThresholdPercent
	} else {
		w.VisualDiffThresholdPercent = defaults.VisualDiffThresholdPercent
	}

	return w
}

// applyTo overlays the request onto an existing entity. Absent keys keep the
// stored value; baselines, timestamps and the id are server-owned and never
// move through this path.
func (req *websiteRequest) applyTo(w *models.Website) {
	if strings.TrimSpace(req.URL) != "" {
		w.URL = strings.TrimSpace(req.URL)
	}
	if req.Name != "" {
		w.Name = req.Name
	}
	if req.CadenceMinutes > 0 {
		w.CadenceMinutes = req.CadenceMinutes
	}
	if req.Active != nil {
		w.IsActive = *req.Active
	}
	if req.Tags != nil {
		w.Tags = req.Tags
	}
	if req.Recipients != nil {
		w.NotificationRecipients = req.Recipients
	}

	if req.Crawl != nil {
		w.CrawlEnabled = *req.Crawl
	}
	if req.Visual != nil {
		w.VisualEnabled = *req.Visual
	}
	if req.Blur != nil {
		w.BlurEnabled = *req.Blur
	}
	if req.Performance != nil {
		w.PerformanceEnabled = *req.Performance
	}
	if req.FullCheck != nil {
		w.FullCheckEnabled = *req.FullCheck
	}

	if req.MaxCrawlDepth > 0 {
		w.MaxCrawlDepth = req.MaxCrawlDepth
	}
	if req.RenderDelaySeconds != nil {
		w.RenderDelaySeconds = *req.RenderDelaySeconds
	}
	if req.VisualDiffThresholdPercent != nil {
		w.VisualDiffThresholdPercent = *req.VisualDiffThresholdPercent
	}
	if req.CaptureSubpages != nil {
		w.CaptureSubpages = *req.CaptureSubpages
	}
	if req.ExcludePageKeywords != nil {
		w.ExcludePageKeywords = req.ExcludePageKeywords
	}
}

// ListWebsitesHandler handles GET /api/websites
func (h *WebsiteHandler) ListWebsitesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	filter := models.WebsiteFilter{
		Tag:    r.URL.Query().Get("tag"),
		Search: r.URL.Query().Get("search"),
	}
	if active, ok := QueryBool(r, "active"); ok {
		filter.Active = &active
	}

	websites, err := h.websites.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list websites")
		WriteError(w, http.StatusInternalServerError, "Failed to list websites")
		return
	}

	if websites == nil {
		websites = []*models.Website{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"websites": websites,
		"count":    len(websites),
	})
}

// CreateWebsiteHandler handles POST /api/websites
func (h *WebsiteHandler) CreateWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req websiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to decode website request")
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.URL) == "" {
		WriteError(w, http.StatusBadRequest, "Website URL is required")
		return
	}

	website := req.toNewWebsite(h.config.Checks)
	website.CreatedAt = time.Now().UTC()
	website.UpdatedAt = website.CreatedAt

	if err := website.Validate(); err != nil {
		h.logger.Warn().Err(err).Str("url", website.URL).Msg("Website validation failed")
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid website: %v", err))
		return
	}

	if err := h.websites.Upsert(r.Context(), website); err != nil {
		h.logger.Error().Err(err).Str("url", website.URL).Msg("Failed to save website")
		WriteError(w, http.StatusInternalServerError, "Failed to save website")
		return
	}

	h.logger.Info().
		Str("website_id", website.ID).
		Str("url", website.URL).
		Msg("Website created")

	h.nudgeScheduler()
	WriteJSON(w, http.StatusCreated, website)
}

// GetWebsiteHandler handles GET /api/websites/{id}
func (h *WebsiteHandler) GetWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id, _ := PathID(r.URL.Path, "/api/websites")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Website ID is required")
		return
	}

	website, err := h.websites.Get(r.Context(), id)
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Website not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("website_id", id).Msg("Failed to get website")
		WriteError(w, http.StatusInternalServerError, "Failed to get website")
		return
	}

	WriteJSON(w, http.StatusOK, website)
}

// UpdateWebsiteHandler handles PUT /api/websites/{id}
func (h *WebsiteHandler) UpdateWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	id, _ := PathID(r.URL.Path, "/api/websites")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Website ID is required")
		return
	}

	var req websiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to decode website request")
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	website, err := h.websites.Get(r.Context(), id)
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Website not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("website_id", id).Msg("Failed to load website for update")
		WriteError(w, http.StatusInternalServerError, "Failed to update website")
		return
	}

	req.applyTo(website)

	if err := website.Validate(); err != nil {
		h.logger.Warn().Err(err).Str("website_id", id).Msg("Website validation failed")
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid website: %v", err))
		return
	}

	if err := h.websites.Upsert(r.Context(), website); err != nil {
		h.logger.Error().Err(err).Str("website_id", id).Msg("Failed to update website")
		WriteError(w, http.StatusInternalServerError, "Failed to update website")
		return
	}

	h.logger.Info().Str("website_id", id).Msg("Website updated")

	h.nudgeScheduler()
	WriteJSON(w, http.StatusOK, website)
}

// DeleteWebsiteHandler handles DELETE /api/websites/{id}
func (h *WebsiteHandler) DeleteWebsiteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	id, _ := PathID(r.URL.Path, "/api/websites")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Website ID is required")
		return
	}

	if _, err := h.websites.Get(r.Context(), id); errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Website not found")
		return
	} else if err != nil {
		h.logger.Error().Err(err).Str("website_id", id).Msg("Failed to load website for delete")
		WriteError(w, http.StatusInternalServerError, "Failed to delete website")
		return
	}

	if err := h.websites.Delete(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("website_id", id).Msg("Failed to delete website")
		WriteError(w, http.StatusInternalServerError, "Failed to delete website")
		return
	}

	h.logger.Info().Str("website_id", id).Msg("Website deleted")
	w.WriteHeader(http.StatusNoContent)
}

// checkRequest is the POST /api/websites/{id}/check body.
type checkRequest struct {
	CheckType   string `json:"check_type"`
	RequestedBy string `json:"requested_by"`
}

// EnqueueCheckHandler handles POST /api/websites/{id}/check. Submitting a
// check type that already has a live queue row returns the existing row's id.
func (h *WebsiteHandler) EnqueueCheckHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id, _ := PathID(r.URL.Path, "/api/websites")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Website ID is required")
		return
	}

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	checkType, err := models.ParseCheckType(req.CheckType)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	website, err := h.websites.Get(r.Context(), id)
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Website not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("website_id", id).Msg("Failed to load website for check")
		WriteError(w, http.StatusInternalServerError, "Failed to submit check")
		return
	}

	// Reject up front what the worker would fail anyway: a manual request
	// whose every phase is disabled on this site.
	cfg := models.ManualCheckConfig(checkType, website)
	if !cfg.AnyEnabled() {
		WriteError(w, http.StatusConflict,
			fmt.Sprintf("Check type %q is not enabled for this website", checkType))
		return
	}

	requestedBy := strings.TrimSpace(req.RequestedBy)
	if requestedBy == "" {
		requestedBy = "api"
	}

	queueID, err := h.queue.Enqueue(r.Context(), website.ID, checkType, models.PriorityManual, requestedBy)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("website_id", website.ID).
			Str("check_type", string(checkType)).
			Msg("Failed to enqueue check")
		WriteError(w, http.StatusInternalServerError, "Failed to submit check")
		return
	}

	_ = h.events.Publish(r.Context(), interfaces.Event{
		Type: interfaces.EventQueueEnqueued,
		Payload: map[string]interface{}{
			"queue_id":   queueID,
			"website_id": website.ID,
			"check_type": string(checkType),
		},
	})

	h.logger.Info().
		Str("queue_id", queueID).
		Str("website_id", website.ID).
		Str("check_type", string(checkType)).
		Str("requested_by", requestedBy).
		Msg("Check queued")

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"queue_id":   queueID,
		"website_id": website.ID,
		"check_type": string(checkType),
		"status":     "queued",
	})
}

// nudgeScheduler rebuilds the cron job set after a catalog mutation so new
// cadences take effect without waiting for a restart.
func (h *WebsiteHandler) nudgeScheduler() {
	if h.scheduler == nil || !h.scheduler.IsRunning() {
		return
	}
	if err := h.scheduler.ForceReschedule(); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to rebuild scheduler job set after catalog change")
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
