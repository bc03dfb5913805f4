package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs database migrations. Migrations are additive only: new
// tables and new nullable columns, never destructive rewrites.
func (s *SQLiteDB) migrate() error {
	ctx := context.Background()

	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "initial_schema", up: migrateV1},
		{version: 2, name: "website_last_checked", up: migrateV2},
		{version: 3, name: "queue_result_payload", up: migrateV3},
	}

	for _, m := range migrations {
		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

func (s *SQLiteDB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteDB) runMigration(ctx context.Context, m migration) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
	if err != nil {
		return err
	}

	if count > 0 {
		return nil // Already applied
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s', 'now'))",
		m.version, m.name)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// migrateV1 creates the initial schema
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		// Websites catalog. List-valued and map-valued attributes are JSON
		// in TEXT columns; timestamps are unix seconds.
		`CREATE TABLE IF NOT EXISTS websites (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			cadence_minutes INTEGER NOT NULL DEFAULT 60,
			is_active INTEGER NOT NULL DEFAULT 1,
			tags TEXT,
			notification_recipients TEXT,
			crawl_enabled INTEGER NOT NULL DEFAULT 1,
			visual_enabled INTEGER NOT NULL DEFAULT 1,
			blur_enabled INTEGER NOT NULL DEFAULT 0,
			performance_enabled INTEGER NOT NULL DEFAULT 0,
			full_check_enabled INTEGER NOT NULL DEFAULT 0,
			max_crawl_depth INTEGER NOT NULL DEFAULT 2,
			render_delay_seconds INTEGER NOT NULL DEFAULT 3,
			visual_diff_threshold_percent REAL NOT NULL DEFAULT 5.0,
			capture_subpages INTEGER NOT NULL DEFAULT 1,
			exclude_page_keywords TEXT,
			baselines TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		// Check history. Append-only; phase payloads are JSON documents.
		// Timestamps are unix milliseconds so runs stay totally ordered.
		`CREATE TABLE IF NOT EXISTS check_history (
			id TEXT PRIMARY KEY,
			website_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL,
			is_manual INTEGER NOT NULL DEFAULT 0,
			is_change_report INTEGER NOT NULL DEFAULT 0,
			crawl_stats TEXT,
			broken_links TEXT,
			meta_issues TEXT,
			visual_summary TEXT,
			blur_summary TEXT,
			performance_summary TEXT,
			error_message TEXT
		)`,

		// Manual check queue. Timestamps are unix milliseconds to keep FIFO
		// ordering within a priority class.
		`CREATE TABLE IF NOT EXISTS manual_check_queue (
			id TEXT PRIMARY KEY,
			website_id TEXT NOT NULL,
			check_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			priority INTEGER NOT NULL DEFAULT 1,
			requested_by TEXT,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER,
			error_message TEXT
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_websites_active ON websites(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_history_website ON check_history(website_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_history_timestamp ON check_history(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_dequeue ON manual_check_queue(status, priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_website ON manual_check_queue(website_id, check_type, status)`,
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2 adds the last-checked timestamp to websites
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `ALTER TABLE websites ADD COLUMN last_checked_at INTEGER`)
	return err
}

// migrateV3 adds the serialized result payload to queue items
func migrateV3(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `ALTER TABLE manual_check_queue ADD COLUMN result_payload TEXT`)
	return err
}
