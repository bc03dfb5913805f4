package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		// Extract common fields from payload if available
		var websiteID, checkType, status string
		if payload, ok := event.Payload.(map[string]interface{}); ok {
			if id, ok := payload["website_id"].(string); ok {
				websiteID = id
			}
			if ct, ok := payload["check_type"].(string); ok {
				checkType = ct
			}
			if s, ok := payload["status"].(string); ok {
				status = s
			}
		}

		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if websiteID != "" {
			logEvent = logEvent.Str("website_id", websiteID)
		}
		if checkType != "" {
			logEvent = logEvent.Str("check_type", checkType)
		}
		if status != "" {
			logEvent = logEvent.Str("status", status)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventQueueEnqueued,
		interfaces.EventQueueStatusChanged,
		interfaces.EventCheckStarted,
		interfaces.EventCheckPhase,
		interfaces.EventCheckCompleted,
		interfaces.EventWebsiteScheduled,
		interfaces.EventWebsiteRemoved,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
