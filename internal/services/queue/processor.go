package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

const (
	// pollInterval is the idle sleep between queue sweeps.
	pollInterval = 2 * time.Second

	// pruneInterval is how often terminal rows past retention are removed.
	pruneInterval = time.Hour

	// stopTimeout bounds the wait for an in-flight check during shutdown.
	stopTimeout = 30 * time.Second
)

// Processor drains the manual check queue with strict one-at-a-time
// semantics across all websites: the underlying crawl and screenshot
// primitives are too heavy to overlap.
type Processor struct {
	config     *common.Config
	queue      interfaces.QueueStorage
	websites   interfaces.WebsiteStorage
	dispatcher interfaces.CheckDispatcher
	events     interfaces.EventService
	logger     arbor.ILogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewProcessor creates a queue processor. Start must be called before items
// are drained.
func NewProcessor(config *common.Config, queue interfaces.QueueStorage, websites interfaces.WebsiteStorage, dispatcher interfaces.CheckDispatcher, events interfaces.EventService, logger arbor.ILogger) *Processor {
	return &Processor{
		config:     config,
		queue:      queue,
		websites:   websites,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger,
	}
}

// Start launches the single worker goroutine.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("queue processor already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx)

	p.logger.Info().
		Dur("poll_interval", pollInterval).
		Msg("Queue processor started")

	return nil
}

// Stop signals the worker and waits for any in-flight check, bounded by
// stopTimeout.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		p.logger.Warn().Msg("In-flight check did not finish before shutdown timeout")
	}

	p.logger.Info().Msg("Queue processor stopped")
	return nil
}

// IsRunning reports whether the worker goroutine is live.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ClearActive drops all pending and processing rows. Operator recovery only,
// after a crash where the in-memory slot was lost.
func (p *Processor) ClearActive(ctx context.Context) (int, error) {
	cleared, err := p.queue.ClearActive(ctx)
	if err != nil {
		return 0, err
	}
	p.logger.Warn().
		Int("cleared", cleared).
		Msg("Active queue rows cleared")
	return cleared, nil
}

// loop is the worker body: one item per poll tick, hourly retention sweeps.
func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)

	// A panic here means the worker is gone and queued checks would sit
	// forever. Persist a crash report, then exit so a supervisor restarts us.
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			stackTrace := string(buf[:n])

			p.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace).
				Msg("FATAL: Queue processor goroutine panicked - writing crash file")

			common.WriteCrashFile(r, stackTrace)
			os.Exit(1)
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pruneTicker.C:
			p.prune(ctx)
		case <-ticker.C:
			p.processNext(ctx)
		}
	}
}

// processNext claims and runs the highest-priority pending item, if any.
func (p *Processor) processNext(ctx context.Context) {
	item, err := p.queue.DequeueNext(ctx)
	if errors.Is(err, interfaces.ErrNotFound) {
		return
	}
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to dequeue next item")
		return
	}

	p.processItem(ctx, item)
}

// processItem runs one queue item end to end: claim, fresh website load,
// config derivation, dispatch, terminal transition.
func (p *Processor) processItem(ctx context.Context, item *models.QueueItem) {
	if err := p.queue.UpdateStatus(ctx, item.ID, models.QueueStatusProcessing, "", ""); err != nil {
		p.logger.Warn().
			Err(err).
			Str("queue_id", item.ID).
			Msg("Failed to claim queue item, skipping")
		return
	}
	p.publishStatus(ctx, item, models.QueueStatusProcessing, "")

	p.logger.Info().
		Str("queue_id", item.ID).
		Str("website_id", item.WebsiteID).
		Str("check_type", string(item.CheckType)).
		Msg("Processing check request")

	// Never trust the cache here: the site may have been edited or deleted
	// while the item sat in the queue.
	p.websites.InvalidateCache(item.WebsiteID)
	website, err := p.websites.Get(ctx, item.WebsiteID)
	if errors.Is(err, interfaces.ErrNotFound) {
		p.failItem(ctx, item, msgWebsiteGone)
		return
	}
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("website_id", item.WebsiteID).
			Msg("Failed to load website for check")
		p.failItem(ctx, item, msgGeneric)
		return
	}

	cfg := models.ManualCheckConfig(item.CheckType, website)

	// First full check bootstraps the baseline set.
	if item.CheckType == models.CheckTypeFull && !website.HasBaselines() {
		cfg.CreateBaseline = true
	}

	if !cfg.AnyEnabled() {
		p.failItem(ctx, item, msgNotEnabled)
		return
	}

	start := time.Now()
	record, err := p.runDispatch(ctx, website, cfg)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("queue_id", item.ID).
			Str("website_id", item.WebsiteID).
			Dur("duration", time.Since(start)).
			Msg("Check failed")
		p.failItem(ctx, item, TranslateError(err))
		return
	}

	p.logger.Info().
		Str("queue_id", item.ID).
		Str("website_id", item.WebsiteID).
		Str("check_type", string(item.CheckType)).
		Dur("duration", time.Since(start)).
		Msg("Check completed")

	p.completeItem(ctx, item, record)
}

// runDispatch invokes the dispatcher with panic containment so a crashing
// check fails its row instead of killing the worker.
func (p *Processor) runDispatch(ctx context.Context, website *models.Website, cfg models.CheckConfig) (record *models.CheckRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("website_id", website.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in check dispatch")
			record = nil
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()

	return p.dispatcher.RunCheck(ctx, website, cfg, true)
}

// completeItem serializes the result payload and transitions the row.
func (p *Processor) completeItem(ctx context.Context, item *models.QueueItem, record *models.CheckRecord) {
	payload := ""
	if record != nil {
		data, err := json.Marshal(record)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("queue_id", item.ID).
				Msg("Failed to serialize check result payload")
		} else {
			payload = string(data)
		}
	}

	if err := p.queue.UpdateStatus(ctx, item.ID, models.QueueStatusCompleted, "", payload); err != nil {
		p.logger.Error().
			Err(err).
			Str("queue_id", item.ID).
			Msg("Failed to mark queue item completed")
		return
	}

	p.publishStatus(ctx, item, models.QueueStatusCompleted, "")
}

// failItem transitions the row to failed with a user-visible message.
func (p *Processor) failItem(ctx context.Context, item *models.QueueItem, message string) {
	if err := p.queue.UpdateStatus(ctx, item.ID, models.QueueStatusFailed, message, ""); err != nil {
		p.logger.Error().
			Err(err).
			Str("queue_id", item.ID).
			Msg("Failed to mark queue item failed")
		return
	}

	p.publishStatus(ctx, item, models.QueueStatusFailed, message)
}

func (p *Processor) publishStatus(ctx context.Context, item *models.QueueItem, status models.QueueStatus, errorMessage string) {
	payload := map[string]interface{}{
		"queue_id":   item.ID,
		"website_id": item.WebsiteID,
		"check_type": string(item.CheckType),
		"status":     string(status),
	}
	if errorMessage != "" {
		payload["error"] = errorMessage
	}

	_ = p.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventQueueStatusChanged,
		Payload: payload,
	})
}

// prune removes terminal rows older than the queue retention window.
func (p *Processor) prune(ctx context.Context) {
	retention := time.Duration(p.config.Retention.QueueDays) * 24 * time.Hour

	removed, err := p.queue.Prune(ctx, retention)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Queue retention sweep failed")
		return
	}
	if removed > 0 {
		p.logger.Info().
			Int("removed", removed).
			Int("retention_days", p.config.Retention.QueueDays).
			Msg("Pruned terminal queue rows")
	}
}
