package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/services/events"
)

func newWSFixture(t *testing.T, eventSvc interfaces.EventService) (*WebSocketHandler, string) {
	t.Helper()

	handler := NewWebSocketHandler(eventSvc, arbor.NewLogger())
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return handler, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads the next message of the wanted type, skipping others.
func readMessage(t *testing.T, conn *websocket.Conn, wantType string) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == wantType {
			return msg
		}
	}
}

func TestWebSocketInitialStatus(t *testing.T) {
	_, wsURL := newWSFixture(t, nil)
	conn := dialWS(t, wsURL)

	msg := readMessage(t, conn, "status")
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ONLINE", payload["service"])
	assert.Equal(t, "CONNECTED", payload["database"])
	assert.NotEmpty(t, payload["serverInstanceId"])
}

func TestServerInstanceIDStableAcrossClients(t *testing.T) {
	_, wsURL := newWSFixture(t, nil)

	first := readMessage(t, dialWS(t, wsURL), "status")
	second := readMessage(t, dialWS(t, wsURL), "status")

	firstPayload := first.Payload.(map[string]interface{})
	secondPayload := second.Payload.(map[string]interface{})
	assert.Equal(t, firstPayload["serverInstanceId"], secondPayload["serverInstanceId"])
}

func TestBroadcastLogFanOut(t *testing.T) {
	handler, wsURL := newWSFixture(t, nil)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dialWS(t, wsURL)
		readMessage(t, conns[i], "status")
	}

	handler.BroadcastLog(LogEntry{
		Timestamp: "12:00:00",
		Level:     "INF",
		Message:   "Check completed for example.com",
	})

	for _, conn := range conns {
		msg := readMessage(t, conn, "log")
		payload := msg.Payload.(map[string]interface{})
		assert.Equal(t, "Check completed for example.com", payload["message"])
		assert.Equal(t, "INF", payload["level"])
	}
}

func TestQueueEventReachesClients(t *testing.T) {
	logger := arbor.NewLogger()
	eventSvc := events.NewService(logger)
	t.Cleanup(func() { eventSvc.Close() })

	_, wsURL := newWSFixture(t, eventSvc)
	conn := dialWS(t, wsURL)
	readMessage(t, conn, "status")

	err := eventSvc.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventQueueStatusChanged,
		Payload: map[string]interface{}{
			"queue_id":   "que_1",
			"website_id": "web_1",
			"check_type": "crawl",
			"status":     "processing",
		},
	})
	require.NoError(t, err)

	msg := readMessage(t, conn, "queue_update")
	payload := msg.Payload.(map[string]interface{})
	assert.Equal(t, "que_1", payload["queue_id"])
	assert.Equal(t, "web_1", payload["website_id"])
	assert.Equal(t, "processing", payload["status"])
}

func TestCheckLifecycleEventsReachClients(t *testing.T) {
	logger := arbor.NewLogger()
	eventSvc := events.NewService(logger)
	t.Cleanup(func() { eventSvc.Close() })

	_, wsURL := newWSFixture(t, eventSvc)
	conn := dialWS(t, wsURL)
	readMessage(t, conn, "status")

	ctx := context.Background()
	require.NoError(t, eventSvc.Publish(ctx, interfaces.Event{
		Type: interfaces.EventCheckStarted,
		Payload: map[string]interface{}{
			"website_id": "web_1",
			"is_manual":  true,
			"phases":     []string{"crawl", "visual"},
		},
	}))

	started := readMessage(t, conn, "check_started")
	startedPayload := started.Payload.(map[string]interface{})
	assert.Equal(t, "web_1", startedPayload["website_id"])
	assert.Equal(t, true, startedPayload["is_manual"])

	require.NoError(t, eventSvc.Publish(ctx, interfaces.Event{
		Type: interfaces.EventCheckCompleted,
		Payload: map[string]interface{}{
			"website_id":       "web_1",
			"status":           "completed",
			"is_change_report": false,
			"duration_seconds": 4.2,
		},
	}))

	completed := readMessage(t, conn, "check_completed")
	completedPayload := completed.Payload.(map[string]interface{})
	assert.Equal(t, "completed", completedPayload["status"])
	assert.Equal(t, 4.2, completedPayload["duration_seconds"])
}

func TestBroadcastSkipsClosedConnections(t *testing.T) {
	handler, wsURL := newWSFixture(t, nil)

	stay := dialWS(t, wsURL)
	readMessage(t, stay, "status")

	gone := dialWS(t, wsURL)
	readMessage(t, gone, "status")
	gone.Close()

	// Give the read loop a moment to unregister the closed client.
	time.Sleep(100 * time.Millisecond)

	handler.BroadcastLog(LogEntry{Timestamp: "12:00:00", Level: "INF", Message: "still here"})

	msg := readMessage(t, stay, "log")
	payload := msg.Payload.(map[string]interface{})
	assert.Equal(t, "still here", payload["message"])
}

func TestGetRecentLogsHandler(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger())

	req := httptest.NewRequest("GET", "/api/logs/recent", nil)
	rec := httptest.NewRecorder()
	handler.GetRecentLogsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		Logs  []LogEntry `json:"logs"`
		Count int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, len(doc.Logs), doc.Count)
}

func TestConnectionRateLimit(t *testing.T) {
	_, wsURL := newWSFixture(t, nil)

	// Burst past the limiter; the first five connect, the rest are refused
	// with 429 until tokens refill.
	refused := 0
	for i := 0; i < 8; i++ {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
			refused++
			continue
		}
		conn.Close()
	}

	assert.Greater(t, refused, 0)
}
