package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/vigil/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	// Keepalive: the server pings, clients must answer within pongWait.
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be shorter than pongWait
)

type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	connLimiter      *rate.Limiter // Rate limiter for new connections
	phaseThrottler   *rate.Limiter // Rate limiter for check_phase events
	serverInstanceID string        // Unique ID generated on startup - clients use to detect server restart
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		connLimiter:      rate.NewLimiter(rate.Every(time.Second), 5),
		phaseThrottler:   rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	if eventService != nil {
		h.SubscribeToEngineEvents()
	}

	return h
}

// Message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// LogEntry is one log line pushed to dashboard clients
type LogEntry struct {
	Index     int    `json:"index,omitempty"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

type StatusUpdate struct {
	Service          string `json:"service"`
	Database         string `json:"database"`
	ServerInstanceID string `json:"serverInstanceId"` // Unique ID per server startup - clients clear state on change
}

type QueueUpdate struct {
	QueueID   string    `json:"queue_id"`
	WebsiteID string    `json:"website_id"`
	CheckType string    `json:"check_type"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckStartedUpdate struct {
	WebsiteID string    `json:"website_id"`
	IsManual  bool      `json:"is_manual"`
	Phases    []string  `json:"phases,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckPhaseUpdate struct {
	WebsiteID string    `json:"website_id"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckCompletedUpdate struct {
	WebsiteID       string    `json:"website_id"`
	Status          string    `json:"status"`
	IsChangeReport  bool      `json:"is_change_report"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

type ScheduleUpdate struct {
	WebsiteID      string    `json:"website_id"`
	Name           string    `json:"name,omitempty"`
	CadenceMinutes int       `json:"cadence_minutes,omitempty"`
	Removed        bool      `json:"removed,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.connLimiter.Allow() {
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = mutex
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", len(h.clients))

	// Send initial status
	h.sendStatus(conn)

	stopPing := make(chan struct{})
	go h.pingLoop(conn, mutex, stopPing)

	// Handle client disconnection
	defer func() {
		close(stopPing)

		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", clientCount)
	}()

	// Read messages from client (keep connection alive)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// pingLoop keeps one connection alive until the client stops answering or
// the connection is unregistered.
func (h *WebSocketHandler) pingLoop(conn *websocket.Conn, mutex *sync.Mutex, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mutex.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			mutex.Unlock()

			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// sendStatus sends current status to a specific client
func (h *WebSocketHandler) sendStatus(conn *websocket.Conn) {
	status := StatusUpdate{
		Service:          "ONLINE",
		Database:         "CONNECTED",
		ServerInstanceID: h.serverInstanceID,
	}

	msg := WSMessage{
		Type:    "status",
		Payload: status,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal initial status")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send initial status")
		}
	}
}

// broadcast sends one marshaled message to every connected client. Writes
// are serialized per connection so event handlers and the ping loop never
// interleave frames.
func (h *WebSocketHandler) broadcast(data []byte, describe string) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil && describe != "" {
			h.logger.Warn().Err(err).Msgf("Failed to send %s to client", describe)
		}
	}
}

// BroadcastStatus sends status updates to all connected clients
func (h *WebSocketHandler) BroadcastStatus(status StatusUpdate) {
	msg := WSMessage{
		Type:    "status",
		Payload: status,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal status message")
		return
	}

	h.broadcast(data, "status")
}

// BroadcastQueueUpdate sends queue state transitions to all connected clients
func (h *WebSocketHandler) BroadcastQueueUpdate(update QueueUpdate) {
	msg := WSMessage{
		Type:    "queue_update",
		Payload: update,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal queue update message")
		return
	}

	h.broadcast(data, "queue update")
}

// BroadcastCheckStarted sends check start events to all connected clients
func (h *WebSocketHandler) BroadcastCheckStarted(update CheckStartedUpdate) {
	msg := WSMessage{
		Type:    "check_started",
		Payload: update,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal check started message")
		return
	}

	h.broadcast(data, "check started")
}

// BroadcastCheckPhase sends per-phase progress to all connected clients
func (h *WebSocketHandler) BroadcastCheckPhase(update CheckPhaseUpdate) {
	msg := WSMessage{
		Type:    "check_phase",
		Payload: update,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal check phase message")
		return
	}

	h.broadcast(data, "check phase")
}

// BroadcastCheckCompleted sends check completion events to all connected clients
func (h *WebSocketHandler) BroadcastCheckCompleted(update CheckCompletedUpdate) {
	msg := WSMessage{
		Type:    "check_completed",
		Payload: update,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal check completed message")
		return
	}

	h.broadcast(data, "check completed")
}

// BroadcastScheduleUpdate sends scheduler catalog changes to all connected clients
func (h *WebSocketHandler) BroadcastScheduleUpdate(update ScheduleUpdate) {
	msg := WSMessage{
		Type:    "schedule_update",
		Payload: update,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal schedule update message")
		return
	}

	h.broadcast(data, "schedule update")
}

// BroadcastLog pushes one log line to all connected clients. Failures are
// never logged from here: that would feed the failure back into the log
// stream and loop.
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	msg := WSMessage{
		Type:    "log",
		Payload: entry,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.broadcast(data, "")
}

// GetRecentLogsHandler returns recent log lines from the memory writer as JSON
func (h *WebSocketHandler) GetRecentLogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	memWriter := arbor.GetRegisteredMemoryWriter(arbor.WRITER_MEMORY)
	var logs []LogEntry

	if memWriter != nil {
		entries, err := memWriter.GetEntriesWithLimit(100)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to get log entries")
			http.Error(w, "Failed to retrieve logs", http.StatusInternalServerError)
			return
		}

		// Map keys are timestamps - sorting gives chronological order
		keys := make([]string, 0, len(entries))
		for key := range entries {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			logLine := entries[key]
			// Skip internal handler logs
			if strings.Contains(logLine, "WebSocket client connected") ||
				strings.Contains(logLine, "WebSocket client disconnected") ||
				strings.Contains(logLine, "HTTP request") ||
				strings.Contains(logLine, "HTTP response") {
				continue
			}

			// Parse "LEVEL | datetime | message" lines
			parts := strings.SplitN(logLine, "|", 3)
			if len(parts) != 3 {
				continue
			}

			levelStr := strings.TrimSpace(parts[0])
			dateTime := strings.TrimSpace(parts[1])
			message := strings.TrimSpace(parts[2])

			timeParts := strings.Fields(dateTime)
			var timestamp string
			if len(timeParts) >= 3 {
				timestamp = timeParts[len(timeParts)-1]
			} else {
				timestamp = time.Now().Format("15:04:05")
			}

			level := "INF"
			switch levelStr {
			case "ERR", "ERROR", "FATAL", "PANIC":
				level = "ERR"
			case "WRN", "WARN":
				level = "WRN"
			case "INF", "INFO":
				level = "INF"
			case "DBG", "DEBUG":
				level = "DBG"
			}

			logs = append(logs, LogEntry{
				Index:     len(logs),
				Timestamp: timestamp,
				Level:     level,
				Message:   message,
			})
		}
	}

	if logs == nil {
		logs = []LogEntry{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// SubscribeToEngineEvents bridges engine events onto the socket so the
// dashboard sees queue, check and scheduler activity live.
func (h *WebSocketHandler) SubscribeToEngineEvents() {
	if h.eventService == nil {
		return
	}

	h.eventService.Subscribe(interfaces.EventQueueEnqueued, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid queue enqueued event payload type")
			return nil
		}

		h.BroadcastQueueUpdate(QueueUpdate{
			QueueID:   getString(payload, "queue_id"),
			WebsiteID: getString(payload, "website_id"),
			CheckType: getString(payload, "check_type"),
			Status:    "queued",
			Timestamp: time.Now(),
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventQueueStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid queue status event payload type")
			return nil
		}

		h.BroadcastQueueUpdate(QueueUpdate{
			QueueID:   getString(payload, "queue_id"),
			WebsiteID: getString(payload, "website_id"),
			CheckType: getString(payload, "check_type"),
			Status:    getString(payload, "status"),
			Error:     getString(payload, "error"),
			Timestamp: time.Now(),
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventCheckStarted, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid check started event payload type")
			return nil
		}

		h.BroadcastCheckStarted(CheckStartedUpdate{
			WebsiteID: getString(payload, "website_id"),
			IsManual:  getBool(payload, "is_manual"),
			Phases:    getStringSlice(payload, "phases"),
			Timestamp: time.Now(),
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventCheckPhase, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid check phase event payload type")
			return nil
		}

		// Phase events fire per page during captures; throttle to prevent
		// WebSocket flooding.
		if h.phaseThrottler != nil && !h.phaseThrottler.Allow() {
			return nil
		}

		h.BroadcastCheckPhase(CheckPhaseUpdate{
			WebsiteID: getString(payload, "website_id"),
			Phase:     getString(payload, "phase"),
			Timestamp: time.Now(),
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventCheckCompleted, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid check completed event payload type")
			return nil
		}

		h.BroadcastCheckCompleted(CheckCompletedUpdate{
			WebsiteID:       getString(payload, "website_id"),
			Status:          getString(payload, "status"),
			IsChangeReport:  getBool(payload, "is_change_report"),
			DurationSeconds: getFloat64(payload, "duration_seconds"),
			Timestamp:       time.Now(),
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventWebsiteScheduled, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid website scheduled event payload type")
			return nil
		}

		h.BroadcastScheduleUpdate(ScheduleUpdate{
			WebsiteID:      getString(payload, "website_id"),
			Name:           getString(payload, "name"),
			CadenceMinutes: getInt(payload, "cadence_minutes"),
			Timestamp:      time.Now(),
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventWebsiteRemoved, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid website removed event payload type")
			return nil
		}

		h.BroadcastScheduleUpdate(ScheduleUpdate{
			WebsiteID: getString(payload, "website_id"),
			Removed:   true,
			Timestamp: time.Now(),
		})
		return nil
	})
}

// Helper functions for safe type conversion from map[string]interface{}
func getString(m map[string]interface{}, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

func getFloat64(m map[string]interface{}, key string) float64 {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return 0.0
}

func getBool(m map[string]interface{}, key string) bool {
	if val, ok := m[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

func getStringSlice(m map[string]interface{}, key string) []string {
	if val, ok := m[key]; ok {
		if arr, ok := val.([]string); ok {
			return arr
		}
		if arr, ok := val.([]interface{}); ok {
			result := make([]string, 0, len(arr))
			for _, item := range arr {
				if str, ok := item.(string); ok {
					result = append(result, str)
				}
			}
			return result
		}
	}
	return []string{}
}
