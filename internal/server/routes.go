package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Snapshot images (screenshots, diffs, baselines)
	mux.HandleFunc("/snapshots/", s.app.SnapshotHandler.ServeSnapshotHandler)

	// API routes - Website management
	mux.HandleFunc("/api/websites", s.handleWebsitesRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/websites/", s.handleWebsiteRoutes) // GET/PUT/DELETE /{id}, POST /{id}/check

	// API routes - Queue
	mux.HandleFunc("/api/queue", s.app.QueueHandler.ListQueueHandler)
	mux.HandleFunc("/api/queue/clear", s.app.QueueHandler.ClearQueueHandler)
	mux.HandleFunc("/api/queue/", s.app.QueueHandler.GetQueueItemHandler) // GET /{id}

	// API routes - Check history
	mux.HandleFunc("/api/history", s.app.HistoryHandler.ListHistoryHandler)
	mux.HandleFunc("/api/history/latest", s.app.HistoryHandler.LatestHistoryHandler)

	// API routes - Scheduler
	mux.HandleFunc("/api/scheduler/status", s.app.SchedulerHandler.GetStatusHandler)
	mux.HandleFunc("/api/scheduler/reschedule", s.app.SchedulerHandler.RescheduleHandler)

	// API routes - Engine status
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)

	// API routes - Logs
	mux.HandleFunc("/api/logs/recent", s.app.WSHandler.GetRecentLogsHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint (dev mode)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleWebsitesRoute routes /api/websites requests (list and create)
func (s *Server) handleWebsitesRoute(w http.ResponseWriter, r *http.Request) {
	routeCollection(w, r,
		s.app.WebsiteHandler.ListWebsitesHandler,
		s.app.WebsiteHandler.CreateWebsiteHandler)
}

// handleWebsiteRoutes routes /api/websites/{id} requests and the manual
// check trigger at /api/websites/{id}/check.
func (s *Server) handleWebsiteRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/websites/{id}/check
	if strings.HasSuffix(path, "/check") {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.WebsiteHandler.EnqueueCheckHandler(w, r)
		return
	}

	if len(path) <= len("/api/websites/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	routeItem(w, r,
		s.app.WebsiteHandler.GetWebsiteHandler,
		s.app.WebsiteHandler.UpdateWebsiteHandler,
		s.app.WebsiteHandler.DeleteWebsiteHandler)
}
