package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/vigil/internal/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// WebsiteStorage is the catalog store: the durable record of websites,
// their feature flags and baselines. Single writer, multi reader.
type WebsiteStorage interface {
	// List returns websites matching the filter. No pagination contract;
	// callers handle result size.
	List(ctx context.Context, filter models.WebsiteFilter) ([]*models.Website, error)

	// Get returns a website by id or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Website, error)

	// Upsert replaces the website by id, updating updated_at atomically.
	Upsert(ctx context.Context, website *models.Website) error

	// Delete removes a website and cascades to its history rows, live queue
	// items, snapshot files and scheduler job. Idempotent.
	Delete(ctx context.Context, id string) error

	// GetManualCheckConfig derives the per-invocation flag set for a manual
	// request of the given check type.
	GetManualCheckConfig(ctx context.Context, id string, checkType models.CheckType) (models.CheckConfig, error)

	// GetAutomatedCheckConfig derives the flag set for a scheduled check.
	GetAutomatedCheckConfig(ctx context.Context, id string) (models.CheckConfig, error)

	// UpdateBaselines persists the whole baseline map atomically and
	// invalidates only this website's cache entry.
	UpdateBaselines(ctx context.Context, id string, baselines map[string]models.Baseline) error

	// SetLastChecked records the completion time of the latest check.
	SetLastChecked(ctx context.Context, id string, checkedAt time.Time) error

	// InvalidateCache drops the cached entry for one website.
	InvalidateCache(id string)

	// OnDelete registers a hook invoked after a website is deleted. Used by
	// the scheduler core to drop the corresponding job without a reverse
	// reference.
	OnDelete(hook func(websiteID string))
}

// QueueStorage is the manual check queue.
type QueueStorage interface {
	// Enqueue inserts a pending item. If a pending or processing row for the
	// same (website_id, check_type) exists, its id is returned instead.
	Enqueue(ctx context.Context, websiteID string, checkType models.CheckType, priority int, requestedBy string) (string, error)

	// DequeueNext returns the highest-priority, oldest pending item without
	// marking it, or ErrNotFound when the queue is empty.
	DequeueNext(ctx context.Context) (*models.QueueItem, error)

	// Get returns a queue item by id.
	Get(ctx context.Context, id string) (*models.QueueItem, error)

	// UpdateStatus transitions an item. started_at is set when entering
	// processing, completed_at when entering a terminal status.
	UpdateStatus(ctx context.Context, id string, status models.QueueStatus, errorMessage string, resultPayload string) error

	// ListPending returns pending and processing items, manual first.
	ListPending(ctx context.Context, websiteID string) ([]*models.QueueItem, error)

	// Prune removes terminal rows older than the retention window.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)

	// ClearActive drops all pending and processing rows. Operator recovery
	// only.
	ClearActive(ctx context.Context) (int, error)

	// DeleteByWebsite removes live queue rows for a website being deleted.
	DeleteByWebsite(ctx context.Context, websiteID string) error
}

// HistoryStorage is the append-only log of completed checks.
type HistoryStorage interface {
	// Append writes one check record. Records are never updated.
	Append(ctx context.Context, record *models.CheckRecord) error

	// List returns records for a website, newest first.
	List(ctx context.Context, filter models.HistoryFilter) ([]*models.CheckRecord, error)

	// Latest returns the most recent record for a website or ErrNotFound.
	Latest(ctx context.Context, websiteID string) (*models.CheckRecord, error)

	// CountSince returns the number of records newer than the given time.
	CountSince(ctx context.Context, since time.Time) (int, error)

	// DeleteByWebsite removes all records for a website being deleted.
	DeleteByWebsite(ctx context.Context, websiteID string) error

	// Prune removes records older than the retention window.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// StorageManager aggregates the stores backed by one database file.
type StorageManager interface {
	Websites() WebsiteStorage
	Queue() QueueStorage
	History() HistoryStorage

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	Close() error
}
