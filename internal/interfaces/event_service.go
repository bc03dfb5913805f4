package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventQueueEnqueued      EventType = "queue_enqueued"
	EventQueueStatusChanged EventType = "queue_status_changed"
	EventCheckStarted       EventType = "check_started"
	EventCheckPhase         EventType = "check_phase"
	EventCheckCompleted     EventType = "check_completed"
	EventWebsiteScheduled   EventType = "website_scheduled"
	EventWebsiteRemoved     EventType = "website_removed"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Unsubscribe from an event type
	Unsubscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
