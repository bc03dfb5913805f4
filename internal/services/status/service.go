package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
)

// EngineState represents what the check engine is doing right now.
type EngineState string

const (
	StateIdle     EngineState = "idle"
	StateChecking EngineState = "checking"
)

// Service tracks live engine state from check events and aggregates the
// status document served by the API.
type Service struct {
	scheduler interfaces.SchedulerService
	queue     interfaces.QueueStorage
	history   interfaces.HistoryStorage
	logger    arbor.ILogger

	mu             sync.RWMutex
	state          EngineState
	currentWebsite string
	startedAt      time.Time
}

// NewService creates a status service. The scheduler may be nil when
// scheduling is disabled by configuration.
func NewService(scheduler interfaces.SchedulerService, queue interfaces.QueueStorage, history interfaces.HistoryStorage, logger arbor.ILogger) *Service {
	return &Service{
		scheduler: scheduler,
		queue:     queue,
		history:   history,
		logger:    logger,
		state:     StateIdle,
		startedAt: time.Now(),
	}
}

// State returns the current engine state (thread-safe).
func (s *Service) State() EngineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetStatus returns the full status document: version, uptime, engine state,
// scheduler snapshot and live queue depth.
func (s *Service) GetStatus(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	state := s.state
	currentWebsite := s.currentWebsite
	uptime := time.Since(s.startedAt)
	s.mu.RUnlock()

	doc := map[string]interface{}{
		"version":        common.GetVersion(),
		"uptime_seconds": int64(uptime.Seconds()),
		"state":          string(state),
		"timestamp":      time.Now().UTC(),
	}
	if currentWebsite != "" {
		doc["current_website"] = currentWebsite
	}

	queueDepth := 0
	if s.queue != nil {
		items, err := s.queue.ListPending(ctx, "")
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to read queue depth for status")
		} else {
			queueDepth = len(items)
		}
	}
	doc["queue_depth"] = queueDepth

	if s.history != nil {
		count, err := s.history.CountSince(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to count recent checks for status")
		} else {
			doc["checks_24h"] = count
		}
	}

	if s.scheduler != nil {
		schedState := s.scheduler.Status()
		doc["scheduler"] = map[string]interface{}{
			"running":          schedState.IsRunning,
			"scheduled_count":  len(schedState.ScheduledWebsites),
			"last_schedule_at": schedState.LastScheduleAt,
			"error_count":      schedState.ConsecutiveErrorCount,
		}
	} else {
		doc["scheduler"] = map[string]interface{}{
			"running": false,
		}
	}

	return doc
}

// SubscribeToCheckEvents wires the service to check lifecycle events so the
// engine state flips to checking while a run is in flight.
func (s *Service) SubscribeToCheckEvents(events interfaces.EventService) {
	events.Subscribe(interfaces.EventCheckStarted, func(ctx context.Context, event interfaces.Event) error {
		websiteID := ""
		if payload, ok := event.Payload.(map[string]interface{}); ok {
			if id, ok := payload["website_id"].(string); ok {
				websiteID = id
			}
		}

		s.mu.Lock()
		s.state = StateChecking
		s.currentWebsite = websiteID
		s.mu.Unlock()
		return nil
	})

	events.Subscribe(interfaces.EventCheckCompleted, func(ctx context.Context, event interfaces.Event) error {
		s.mu.Lock()
		s.state = StateIdle
		s.currentWebsite = ""
		s.mu.Unlock()
		return nil
	})

	s.logger.Debug().Msg("Status service subscribed to check events")
}
