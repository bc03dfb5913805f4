package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

const queueColumns = `id, website_id, check_type, status, priority,
	requested_by, created_at, started_at, completed_at, error_message,
	result_payload`

// QueueStorage implements the manual check queue over SQLite. Timestamps
// are unix milliseconds so FIFO order holds within a priority class even
// for submissions in the same second.
type QueueStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewQueueStorage creates the queue store.
func NewQueueStorage(db *SQLiteDB, logger arbor.ILogger) *QueueStorage {
	return &QueueStorage{db: db, logger: logger}
}

// Enqueue inserts a pending item, deduplicating against live rows. If a
// pending or processing row for the same (website, check_type) exists its
// id is returned and no new row is created.
func (s *QueueStorage) Enqueue(ctx context.Context, websiteID string, checkType models.CheckType, priority int, requestedBy string) (string, error) {
	if !checkType.IsValid() {
		return "", fmt.Errorf("invalid check type: %q", checkType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM manual_check_queue
		 WHERE website_id = ? AND check_type = ? AND status IN ('pending', 'processing')
		 LIMIT 1`,
		websiteID, string(checkType)).Scan(&existingID)
	if err == nil {
		s.logger.Debug().
			Str("website_id", websiteID).
			Str("check_type", string(checkType)).
			Str("queue_id", existingID).
			Msg("Duplicate submission, returning live queue item")
		return existingID, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to check for duplicate queue item: %w", err)
	}

	id := common.NewQueueItemID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO manual_check_queue
		 (id, website_id, check_type, status, priority, requested_by, created_at)
		 VALUES (?, ?, ?, 'pending', ?, ?, ?)`,
		id, websiteID, string(checkType), priority,
		nullString(requestedBy), time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue check: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit enqueue: %w", err)
	}

	s.logger.Info().
		Str("queue_id", id).
		Str("website_id", websiteID).
		Str("check_type", string(checkType)).
		Int("priority", priority).
		Msg("Check enqueued")
	return id, nil
}

// DequeueNext returns the next pending item without claiming it. Callers
// transition it to processing via UpdateStatus. Ordering is priority first,
// then submission time, with id as the final tiebreaker.
func (s *QueueStorage) DequeueNext(ctx context.Context) (*models.QueueItem, error) {
	row := s.db.DB().QueryRowContext(ctx,
		"SELECT "+queueColumns+` FROM manual_check_queue
		 WHERE status = 'pending'
		 ORDER BY priority DESC, created_at ASC, id ASC
		 LIMIT 1`)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	return item, nil
}

// Get returns a queue item by id.
func (s *QueueStorage) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	row := s.db.DB().QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM manual_check_queue WHERE id = ?", id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item %s: %w", id, err)
	}
	return item, nil
}

// UpdateStatus transitions a queue item. Legal transitions: pending to
// processing, pending or processing to failed, processing to completed.
// Terminal rows never change again.
func (s *QueueStorage) UpdateStatus(ctx context.Context, id string, status models.QueueStatus, errorMessage string, resultPayload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	var result sql.Result
	var err error
	switch status {
	case models.QueueStatusProcessing:
		result, err = s.db.DB().ExecContext(ctx,
			`UPDATE manual_check_queue SET status = 'processing', started_at = ?
			 WHERE id = ? AND status = 'pending'`,
			now, id)
	case models.QueueStatusCompleted:
		result, err = s.db.DB().ExecContext(ctx,
			`UPDATE manual_check_queue
			 SET status = 'completed', completed_at = ?, result_payload = ?
			 WHERE id = ? AND status = 'processing'`,
			now, nullString(resultPayload), id)
	case models.QueueStatusFailed:
		if errorMessage == "" {
			return fmt.Errorf("failed status requires an error message")
		}
		result, err = s.db.DB().ExecContext(ctx,
			`UPDATE manual_check_queue
			 SET status = 'failed', completed_at = ?, error_message = ?
			 WHERE id = ? AND status IN ('pending', 'processing')`,
			now, errorMessage, id)
	default:
		return fmt.Errorf("invalid target status: %q", status)
	}
	if err != nil {
		return fmt.Errorf("failed to update queue item %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var current string
		err := s.db.DB().QueryRowContext(ctx,
			"SELECT status FROM manual_check_queue WHERE id = ?", id).Scan(&current)
		if err == sql.ErrNoRows {
			return interfaces.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to inspect queue item %s: %w", id, err)
		}
		return fmt.Errorf("illegal queue transition for %s: %s -> %s", id, current, status)
	}
	return nil
}

// ListPending returns live items, manual priority first, oldest first.
// An empty websiteID lists the whole queue.
func (s *QueueStorage) ListPending(ctx context.Context, websiteID string) ([]*models.QueueItem, error) {
	query := "SELECT " + queueColumns + ` FROM manual_check_queue
		WHERE status IN ('pending', 'processing')`
	var args []interface{}
	if websiteID != "" {
		query += " AND website_id = ?"
		args = append(args, websiteID)
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue items: %w", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Prune removes terminal rows older than the retention window. Age is
// measured from completion, falling back to submission for rows failed
// before ever starting.
func (s *QueueStorage) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	result, err := s.db.DB().ExecContext(ctx,
		`DELETE FROM manual_check_queue
		 WHERE status IN ('completed', 'failed')
		 AND COALESCE(completed_at, created_at) < ?`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune queue: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		s.logger.Info().Int64("removed", rows).Msg("Pruned terminal queue items")
	}
	return int(rows), nil
}

// ClearActive drops every pending and processing row. Operator recovery
// after a crash left orphaned processing rows.
func (s *QueueStorage) ClearActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.DB().ExecContext(ctx,
		"DELETE FROM manual_check_queue WHERE status IN ('pending', 'processing')")
	if err != nil {
		return 0, fmt.Errorf("failed to clear active queue items: %w", err)
	}
	rows, _ := result.RowsAffected()
	s.logger.Warn().Int64("removed", rows).Msg("Cleared active queue items")
	return int(rows), nil
}

// DeleteByWebsite purges live rows for a website. The catalog delete
// cascade removes terminal rows; this covers submissions racing a removal.
func (s *QueueStorage) DeleteByWebsite(ctx context.Context, websiteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.DB().ExecContext(ctx,
		`DELETE FROM manual_check_queue
		 WHERE website_id = ? AND status IN ('pending', 'processing')`,
		websiteID)
	if err != nil {
		return fmt.Errorf("failed to delete queue items for %s: %w", websiteID, err)
	}
	return nil
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var checkType, status string
	var requestedBy, errorMessage, resultPayload sql.NullString
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(&item.ID, &item.WebsiteID, &checkType, &status,
		&item.Priority, &requestedBy, &createdAt, &startedAt, &completedAt,
		&errorMessage, &resultPayload)
	if err != nil {
		return nil, err
	}

	item.CheckType = models.CheckType(checkType)
	item.Status = models.QueueStatus(status)
	item.RequestedBy = requestedBy.String
	item.ErrorMessage = errorMessage.String
	item.ResultPayload = resultPayload.String
	item.CreatedAt = time.UnixMilli(createdAt)
	if startedAt.Valid {
		ts := time.UnixMilli(startedAt.Int64)
		item.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := time.UnixMilli(completedAt.Int64)
		item.CompletedAt = &ts
	}

	return &item, nil
}
