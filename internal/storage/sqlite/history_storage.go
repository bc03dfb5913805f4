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

const historyColumns = `id, website_id, timestamp, status, is_manual,
	is_change_report, crawl_stats, broken_links, meta_issues, visual_summary,
	blur_summary, performance_summary, error_message`

// HistoryStorage implements the append-only check log over SQLite.
// Rows are never updated; removal happens only through website deletion
// and retention pruning.
type HistoryStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewHistoryStorage creates the history store.
func NewHistoryStorage(db *SQLiteDB, logger arbor.ILogger) *HistoryStorage {
	return &HistoryStorage{db: db, logger: logger}
}

// Append writes one check record. Assigns an id when the record has none.
func (s *HistoryStorage) Append(ctx context.Context, record *models.CheckRecord) error {
	if record.WebsiteID == "" {
		return fmt.Errorf("check record requires a website id")
	}
	if record.ID == "" {
		record.ID = common.NewCheckRecordID()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	crawl, err := marshalJSON(record.Crawl)
	if err != nil {
		return fmt.Errorf("failed to serialize crawl stats: %w", err)
	}
	brokenLinks, err := marshalJSON(record.BrokenLinks)
	if err != nil {
		return fmt.Errorf("failed to serialize broken links: %w", err)
	}
	metaIssues, err := marshalJSON(record.MetaIssues)
	if err != nil {
		return fmt.Errorf("failed to serialize meta issues: %w", err)
	}
	visual, err := marshalJSON(record.Visual)
	if err != nil {
		return fmt.Errorf("failed to serialize visual summary: %w", err)
	}
	blur, err := marshalJSON(record.Blur)
	if err != nil {
		return fmt.Errorf("failed to serialize blur summary: %w", err)
	}
	performance, err := marshalJSON(record.Performance)
	if err != nil {
		return fmt.Errorf("failed to serialize performance summary: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.DB().ExecContext(ctx,
		`INSERT INTO check_history (`+historyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.WebsiteID, record.Timestamp.UnixMilli(),
		string(record.Status), boolToInt(record.IsManual),
		boolToInt(record.IsChangeReport), nullString(crawl),
		nullString(brokenLinks), nullString(metaIssues), nullString(visual),
		nullString(blur), nullString(performance),
		nullString(record.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to append check record: %w", err)
	}
	return nil
}

// List returns records matching the filter, newest first.
func (s *HistoryStorage) List(ctx context.Context, filter models.HistoryFilter) ([]*models.CheckRecord, error) {
	query := "SELECT " + historyColumns + " FROM check_history"
	var args []interface{}
	if filter.WebsiteID != "" {
		query += " WHERE website_id = ?"
		args = append(args, filter.WebsiteID)
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list check history: %w", err)
	}
	defer rows.Close()

	var records []*models.CheckRecord
	for rows.Next() {
		record, err := scanCheckRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Latest returns the most recent record for a website or ErrNotFound.
func (s *HistoryStorage) Latest(ctx context.Context, websiteID string) (*models.CheckRecord, error) {
	row := s.db.DB().QueryRowContext(ctx,
		"SELECT "+historyColumns+` FROM check_history
		 WHERE website_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT 1`,
		websiteID)
	record, err := scanCheckRecord(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record for %s: %w", websiteID, err)
	}
	return record, nil
}

// CountSince returns the number of records newer than the given time.
func (s *HistoryStorage) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM check_history WHERE timestamp >= ?",
		since.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count check history: %w", err)
	}
	return count, nil
}

// DeleteByWebsite removes all records for a website being deleted.
func (s *HistoryStorage) DeleteByWebsite(ctx context.Context, websiteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.DB().ExecContext(ctx,
		"DELETE FROM check_history WHERE website_id = ?", websiteID)
	if err != nil {
		return fmt.Errorf("failed to delete history for %s: %w", websiteID, err)
	}
	return nil
}

// Prune removes records older than the retention window.
func (s *HistoryStorage) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	result, err := s.db.DB().ExecContext(ctx,
		"DELETE FROM check_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune check history: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		s.logger.Info().Int64("removed", rows).Msg("Pruned check history")
	}
	return int(rows), nil
}

func scanCheckRecord(row rowScanner) (*models.CheckRecord, error) {
	var record models.CheckRecord
	var timestamp int64
	var status string
	var isManual, isChangeReport int
	var crawl, brokenLinks, metaIssues, visual, blur, performance, errMsg sql.NullString

	err := row.Scan(&record.ID, &record.WebsiteID, &timestamp, &status,
		&isManual, &isChangeReport, &crawl, &brokenLinks, &metaIssues,
		&visual, &blur, &performance, &errMsg)
	if err != nil {
		return nil, err
	}

	record.Timestamp = time.UnixMilli(timestamp)
	record.Status = models.CheckStatus(status)
	record.IsManual = isManual != 0
	record.IsChangeReport = isChangeReport != 0
	record.ErrorMessage = errMsg.String

	unmarshalLenient(crawl, &record.Crawl)
	unmarshalLenient(brokenLinks, &record.BrokenLinks)
	unmarshalLenient(metaIssues, &record.MetaIssues)
	unmarshalLenient(visual, &record.Visual)
	unmarshalLenient(blur, &record.Blur)
	unmarshalLenient(performance, &record.Performance)

	return &record, nil
}
