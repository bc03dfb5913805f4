package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// ErrSchedulerDisabled is returned by Start when the scheduler is switched
// off in configuration.
var ErrSchedulerDisabled = errors.New("scheduler is disabled by configuration")

// consecutiveErrorLimit is how many tick failures in a row trigger a full
// reschedule of the job set.
const consecutiveErrorLimit = 5

// lockRefreshInterval keeps the lock file's modification time well inside
// the staleness window while the scheduler runs.
const lockRefreshInterval = 30 * time.Second

// stopJoinTimeout bounds how long Stop waits for in-flight ticks.
const stopJoinTimeout = 30 * time.Second

// Service implements SchedulerService. It owns one cron entry per active
// website, persists its job set snapshot across restarts, and enforces
// single-instance execution through a lock file.
type Service struct {
	config     *common.Config
	websites   interfaces.WebsiteStorage
	queue      interfaces.QueueStorage
	dispatcher interfaces.CheckDispatcher
	events     interfaces.EventService
	logger     arbor.ILogger

	cron  *cron.Cron
	lock  *lockFile
	store *stateStore

	mu      sync.Mutex // protects entries, state, running
	entries map[string]cron.EntryID
	state   *models.SchedulerState
	running bool

	stopRefresh chan struct{}
}

// NewService creates the scheduler core and registers it as the catalog's
// delete hook so website deletion drops the matching job without a reverse
// reference.
func NewService(config *common.Config, websites interfaces.WebsiteStorage, queue interfaces.QueueStorage, dispatcher interfaces.CheckDispatcher, events interfaces.EventService, logger arbor.ILogger) interfaces.SchedulerService {
	s := &Service{
		config:     config,
		websites:   websites,
		queue:      queue,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger,
		cron:       cron.New(),
		lock:       newLockFile(config.Storage.LockFilePath(), logger),
		store:      newStateStore(config.Storage.SchedulerStatePath(), logger),
		entries:    make(map[string]cron.EntryID),
		state:      models.NewSchedulerState(),
	}

	websites.OnDelete(s.RemoveWebsite)

	return s
}

// Start acquires the singleton lock, rebuilds the job set from the catalog
// and begins firing ticks.
func (s *Service) Start() error {
	if !s.config.Scheduler.Enabled {
		return ErrSchedulerDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if err := s.lock.Acquire(); err != nil {
		return err
	}

	previous := s.store.Load()
	if len(previous.ScheduledWebsites) > 0 {
		s.logger.Info().
			Int("website_count", len(previous.ScheduledWebsites)).
			Msg("Previous scheduler state found, job set will be rebuilt from catalog")
	}
	s.state = previous
	s.state.ConsecutiveErrorCount = 0
	s.state.LastErrorAt = nil

	if err := s.rebuildLocked(); err != nil {
		_ = s.lock.Release()
		return err
	}

	s.cron.Start()
	s.running = true
	s.state.IsRunning = true
	s.persistLocked()

	s.stopRefresh = make(chan struct{})
	go s.lockRefreshLoop(s.stopRefresh)

	s.logger.Info().
		Int("website_count", len(s.entries)).
		Msg("Scheduler started")

	return nil
}

// Stop cancels all jobs, waits for in-flight ticks (bounded), persists the
// final state and releases the lock.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopRefresh)
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopJoinTimeout):
		s.logger.Warn().Msg("In-flight tick did not finish before shutdown timeout")
	}

	s.mu.Lock()
	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.state.IsRunning = false
	s.persistLocked()
	s.mu.Unlock()

	if err := s.lock.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to release scheduler lock")
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// Status returns a copy of the live job set snapshot.
func (s *Service) Status() *models.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := &models.SchedulerState{
		ConsecutiveErrorCount: s.state.ConsecutiveErrorCount,
		IsRunning:             s.state.IsRunning,
		ScheduledWebsites:     make(map[string]models.ScheduledWebsite, len(s.state.ScheduledWebsites)),
	}
	if s.state.LastScheduleAt != nil {
		t := *s.state.LastScheduleAt
		snapshot.LastScheduleAt = &t
	}
	if s.state.LastErrorAt != nil {
		t := *s.state.LastErrorAt
		snapshot.LastErrorAt = &t
	}
	for id, sw := range s.state.ScheduledWebsites {
		snapshot.ScheduledWebsites[id] = sw
	}

	return snapshot
}

// ForceReschedule clears and rebuilds the whole job set from the catalog.
func (s *Service) ForceReschedule() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rebuildLocked(); err != nil {
		return err
	}

	s.state.ConsecutiveErrorCount = 0
	s.state.LastErrorAt = nil
	s.persistLocked()

	s.logger.Info().
		Int("website_count", len(s.entries)).
		Msg("Scheduler job set rebuilt")

	return nil
}

// RemoveWebsite drops the site's job and map entry, persists the state and
// purges any not-yet-run queue rows for the id. Safe for unknown ids.
func (s *Service) RemoveWebsite(websiteID string) {
	s.mu.Lock()
	entryID, known := s.entries[websiteID]
	if known {
		s.cron.Remove(entryID)
		delete(s.entries, websiteID)
	}
	_, mapped := s.state.ScheduledWebsites[websiteID]
	if mapped {
		delete(s.state.ScheduledWebsites, websiteID)
	}
	if known || mapped {
		s.persistLocked()
	}
	s.mu.Unlock()

	if !known && !mapped {
		return
	}

	ctx := context.Background()
	if err := s.queue.DeleteByWebsite(ctx, websiteID); err != nil {
		s.logger.Warn().
			Err(err).
			Str("website_id", websiteID).
			Msg("Failed to purge queue rows for removed website")
	}

	_ = s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventWebsiteRemoved,
		Payload: map[string]interface{}{"website_id": websiteID},
	})

	s.logger.Info().
		Str("website_id", websiteID).
		Msg("Website removed from scheduler")
}

// IsRunning reports whether this instance holds the lock and is live.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// rebuildLocked clears all cron entries and reinstalls one per active
// website. Caller holds s.mu.
func (s *Service) rebuildLocked() error {
	ctx := context.Background()

	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.state.ScheduledWebsites = make(map[string]models.ScheduledWebsite)

	active := true
	websites, err := s.websites.List(ctx, models.WebsiteFilter{Active: &active})
	if err != nil {
		return fmt.Errorf("failed to list active websites: %w", err)
	}

	now := time.Now().UTC()
	for _, website := range websites {
		websiteID := website.ID
		spec := fmt.Sprintf("@every %dm", website.CadenceMinutes)

		entryID, err := s.cron.AddFunc(spec, func() {
			s.tick(websiteID)
		})
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("website_id", websiteID).
				Str("schedule", spec).
				Msg("Failed to install website job, skipping")
			continue
		}

		s.entries[websiteID] = entryID
		s.state.ScheduledWebsites[websiteID] = models.ScheduledWebsite{
			Name:           website.Name,
			URL:            website.URL,
			CadenceMinutes: website.CadenceMinutes,
			ScheduledAt:    now,
		}

		_ = s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventWebsiteScheduled,
			Payload: map[string]interface{}{
				"website_id":      websiteID,
				"name":            website.Name,
				"cadence_minutes": website.CadenceMinutes,
			},
		})

		s.logger.Debug().
			Str("website_id", websiteID).
			Str("url", website.URL).
			Int("cadence_minutes", website.CadenceMinutes).
			Msg("Website job installed")
	}

	s.state.LastScheduleAt = &now

	return nil
}

// tick runs one scheduled check for a website. Dispatcher failures are
// counted but never propagate out of the cron goroutine.
func (s *Service) tick(websiteID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("website_id", websiteID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduler tick")
			s.recordError(fmt.Errorf("tick panic: %v", r))
		}
	}()

	ctx := context.Background()

	// Bypass the read cache so a delete or deactivation that raced this
	// tick is observed.
	s.websites.InvalidateCache(websiteID)
	website, err := s.websites.Get(ctx, websiteID)
	if errors.Is(err, interfaces.ErrNotFound) {
		s.logger.Info().
			Str("website_id", websiteID).
			Msg("Scheduled website no longer exists, removing job")
		s.RemoveWebsite(websiteID)
		return
	}
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("website_id", websiteID).
			Msg("Failed to load website for tick")
		s.recordError(err)
		return
	}
	if !website.IsActive {
		s.logger.Info().
			Str("website_id", websiteID).
			Msg("Scheduled website deactivated, removing job")
		s.RemoveWebsite(websiteID)
		return
	}

	cfg := models.AutomatedCheckConfig(website)
	if !cfg.AnyEnabled() {
		s.logger.Debug().
			Str("website_id", websiteID).
			Msg("No check types enabled, skipping tick")
		return
	}

	s.logger.Info().
		Str("website_id", websiteID).
		Str("url", website.URL).
		Msg("Scheduled check starting")

	start := time.Now()
	_, err = s.dispatcher.RunCheck(ctx, website, cfg, false)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("website_id", websiteID).
			Dur("duration", time.Since(start)).
			Msg("Scheduled check failed")
		s.recordError(err)
		return
	}

	s.logger.Info().
		Str("website_id", websiteID).
		Dur("duration", time.Since(start)).
		Msg("Scheduled check completed")

	s.mu.Lock()
	if s.state.ConsecutiveErrorCount != 0 {
		s.state.ConsecutiveErrorCount = 0
		s.persistLocked()
	}
	s.mu.Unlock()
}

// recordError increments the consecutive error counter and triggers a full
// reschedule once the limit is reached. A failing reschedule leaves the
// counter climbing; the scheduler never exits.
func (s *Service) recordError(err error) {
	s.mu.Lock()
	s.state.ConsecutiveErrorCount++
	now := time.Now().UTC()
	s.state.LastErrorAt = &now
	count := s.state.ConsecutiveErrorCount
	s.persistLocked()
	s.mu.Unlock()

	if count < consecutiveErrorLimit {
		return
	}

	s.logger.Warn().
		Int("consecutive_errors", count).
		Err(err).
		Msg("Consecutive error limit reached, rebuilding job set")

	if rescheduleErr := s.ForceReschedule(); rescheduleErr != nil {
		s.logger.Error().
			Err(rescheduleErr).
			Msg("Job set rebuild failed after error limit")
	}
}

// persistLocked writes the state snapshot. Caller holds s.mu. Persistence
// failures are logged, never fatal.
func (s *Service) persistLocked() {
	if err := s.store.Save(s.state); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist scheduler state")
	}
}

// lockRefreshLoop keeps the lock file fresh until the scheduler stops.
func (s *Service) lockRefreshLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(lockRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.lock.Touch(); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to refresh scheduler lock")
			}
		}
	}
}
