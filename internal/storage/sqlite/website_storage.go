package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// websiteColumns is the explicit select list shared by Get and List.
const websiteColumns = `id, url, name, cadence_minutes, is_active, tags,
	notification_recipients, crawl_enabled, visual_enabled, blur_enabled,
	performance_enabled, full_check_enabled, max_crawl_depth,
	render_delay_seconds, visual_diff_threshold_percent, capture_subpages,
	exclude_page_keywords, baselines, created_at, updated_at, last_checked_at`

// WebsiteStorage implements the catalog store over SQLite with a
// per-website read cache. Writes are serialized by a storage-level mutex;
// readers go through the cache or straight to the database.
type WebsiteStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger

	mu sync.Mutex // serializes writes

	cacheMu sync.RWMutex
	cache   map[string]*models.Website

	hooksMu     sync.Mutex
	deleteHooks []func(websiteID string)
}

// NewWebsiteStorage creates the catalog store.
func NewWebsiteStorage(db *SQLiteDB, logger arbor.ILogger) *WebsiteStorage {
	return &WebsiteStorage{
		db:     db,
		logger: logger,
		cache:  make(map[string]*models.Website),
	}
}

// OnDelete registers a hook fired after a website deletion. Hooks must be
// idempotent; they also fire on repeated deletes of the same id.
func (s *WebsiteStorage) OnDelete(hook func(websiteID string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.deleteHooks = append(s.deleteHooks, hook)
}

// InvalidateCache drops the cached entry for one website. Never drops the
// whole cache; baseline updates target single entries to avoid stampedes.
func (s *WebsiteStorage) InvalidateCache(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.cache, id)
}

// List returns websites matching the filter, oldest first.
func (s *WebsiteStorage) List(ctx context.Context, filter models.WebsiteFilter) ([]*models.Website, error) {
	query := "SELECT " + websiteColumns + " FROM websites"
	var conditions []string
	var args []interface{}

	if filter.Active != nil {
		conditions = append(conditions, "is_active = ?")
		args = append(args, boolToInt(*filter.Active))
	}
	if filter.Search != "" {
		conditions = append(conditions, "(url LIKE ? OR name LIKE ?)")
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list websites: %w", err)
	}
	defer rows.Close()

	var websites []*models.Website
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, err
		}
		// Tags are a JSON column, so tag filtering happens here.
		if filter.Tag != "" && !w.HasTag(filter.Tag) {
			continue
		}
		websites = append(websites, w)
	}
	return websites, rows.Err()
}

// Get returns a website by id, serving repeated reads from the cache.
func (s *WebsiteStorage) Get(ctx context.Context, id string) (*models.Website, error) {
	s.cacheMu.RLock()
	if cached, ok := s.cache[id]; ok {
		s.cacheMu.RUnlock()
		return cached.Clone(), nil
	}
	s.cacheMu.RUnlock()

	row := s.db.DB().QueryRowContext(ctx,
		"SELECT "+websiteColumns+" FROM websites WHERE id = ?", id)
	w, err := scanWebsite(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get website %s: %w", id, err)
	}

	s.cacheMu.Lock()
	s.cache[id] = w.Clone()
	s.cacheMu.Unlock()

	return w, nil
}

// Upsert replaces the website by id. created_at survives replacement;
// updated_at is set atomically with the row.
func (s *WebsiteStorage) Upsert(ctx context.Context, website *models.Website) error {
	if website.ID == "" {
		return fmt.Errorf("website id is required")
	}
	if err := website.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if website.CreatedAt.IsZero() {
		website.CreatedAt = now
	}
	website.UpdatedAt = now

	tags, err := marshalJSON(website.Tags)
	if err != nil {
		return fmt.Errorf("failed to serialize tags: %w", err)
	}
	recipients, err := marshalJSON(website.NotificationRecipients)
	if err != nil {
		return fmt.Errorf("failed to serialize recipients: %w", err)
	}
	keywords, err := marshalJSON(website.ExcludePageKeywords)
	if err != nil {
		return fmt.Errorf("failed to serialize exclude keywords: %w", err)
	}
	baselines, err := marshalJSON(website.Baselines)
	if err != nil {
		return fmt.Errorf("failed to serialize baselines: %w", err)
	}

	var lastChecked sql.NullInt64
	if website.LastCheckedAt != nil {
		lastChecked = sql.NullInt64{Int64: website.LastCheckedAt.Unix(), Valid: true}
	}

	query := `INSERT INTO websites (
		id, url, name, cadence_minutes, is_active, tags,
		notification_recipients, crawl_enabled, visual_enabled, blur_enabled,
		performance_enabled, full_check_enabled, max_crawl_depth,
		render_delay_seconds, visual_diff_threshold_percent, capture_subpages,
		exclude_page_keywords, baselines, created_at, updated_at, last_checked_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		url = excluded.url,
		name = excluded.name,
		cadence_minutes = excluded.cadence_minutes,
		is_active = excluded.is_active,
		tags = excluded.tags,
		notification_recipients = excluded.notification_recipients,
		crawl_enabled = excluded.crawl_enabled,
		visual_enabled = excluded.visual_enabled,
		blur_enabled = excluded.blur_enabled,
		performance_enabled = excluded.performance_enabled,
		full_check_enabled = excluded.full_check_enabled,
		max_crawl_depth = excluded.max_crawl_depth,
		render_delay_seconds = excluded.render_delay_seconds,
		visual_diff_threshold_percent = excluded.visual_diff_threshold_percent,
		capture_subpages = excluded.capture_subpages,
		exclude_page_keywords = excluded.exclude_page_keywords,
		baselines = excluded.baselines,
		updated_at = excluded.updated_at,
		last_checked_at = excluded.last_checked_at`

	_, err = s.db.DB().ExecContext(ctx, query,
		website.ID, website.URL, website.Name, website.CadenceMinutes,
		boolToInt(website.IsActive), nullString(tags), nullString(recipients),
		boolToInt(website.CrawlEnabled), boolToInt(website.VisualEnabled),
		boolToInt(website.BlurEnabled), boolToInt(website.PerformanceEnabled),
		boolToInt(website.FullCheckEnabled), website.MaxCrawlDepth,
		website.RenderDelaySeconds, website.VisualDiffThresholdPercent,
		boolToInt(website.CaptureSubpages), nullString(keywords),
		nullString(baselines), website.CreatedAt.Unix(), website.UpdatedAt.Unix(),
		lastChecked)
	if err != nil {
		return fmt.Errorf("failed to upsert website %s: %w", website.ID, err)
	}

	s.InvalidateCache(website.ID)
	return nil
}

// Delete removes a website and cascades to its history and queue rows in
// one transaction. Idempotent: deleting an absent id succeeds. Registered
// hooks fire afterwards so the scheduler and snapshot tree follow.
func (s *WebsiteStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM check_history WHERE website_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete history for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM manual_check_queue WHERE website_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete queue items for %s: %w", id, err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM websites WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete website %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of %s: %w", id, err)
	}

	s.InvalidateCache(id)

	if rows, _ := result.RowsAffected(); rows > 0 {
		s.logger.Info().Str("website_id", id).Msg("Website deleted with cascades")
	}

	s.hooksMu.Lock()
	hooks := append([]func(string)(nil), s.deleteHooks...)
	s.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(id)
	}

	return nil
}

// GetManualCheckConfig derives the flag set for a manual check request.
func (s *WebsiteStorage) GetManualCheckConfig(ctx context.Context, id string, checkType models.CheckType) (models.CheckConfig, error) {
	if !checkType.IsValid() {
		return models.CheckConfig{}, fmt.Errorf("invalid check type: %q", checkType)
	}
	website, err := s.Get(ctx, id)
	if err != nil {
		return models.CheckConfig{}, err
	}
	return models.ManualCheckConfig(checkType, website), nil
}

// GetAutomatedCheckConfig derives the flag set for a scheduled check.
func (s *WebsiteStorage) GetAutomatedCheckConfig(ctx context.Context, id string) (models.CheckConfig, error) {
	website, err := s.Get(ctx, id)
	if err != nil {
		return models.CheckConfig{}, err
	}
	return models.AutomatedCheckConfig(website), nil
}

// UpdateBaselines persists the whole baseline map in one statement. The
// map is serialized as a unit; partial baseline updates never hit the row.
func (s *WebsiteStorage) UpdateBaselines(ctx context.Context, id string, baselines map[string]models.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	serialized, err := marshalJSON(baselines)
	if err != nil {
		return fmt.Errorf("failed to serialize baselines: %w", err)
	}

	result, err := s.db.DB().ExecContext(ctx,
		"UPDATE websites SET baselines = ?, updated_at = ? WHERE id = ?",
		nullString(serialized), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update baselines for %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}

	s.InvalidateCache(id)
	return nil
}

// SetLastChecked records the completion time of the latest check.
func (s *WebsiteStorage) SetLastChecked(ctx context.Context, id string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.DB().ExecContext(ctx,
		"UPDATE websites SET last_checked_at = ?, updated_at = ? WHERE id = ?",
		checkedAt.Unix(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set last checked for %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}

	s.InvalidateCache(id)
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWebsite(row rowScanner) (*models.Website, error) {
	var w models.Website
	var isActive, crawlEnabled, visualEnabled, blurEnabled int
	var performanceEnabled, fullCheckEnabled, captureSubpages int
	var tags, recipients, keywords, baselines sql.NullString
	var createdAt, updatedAt int64
	var lastChecked sql.NullInt64

	err := row.Scan(&w.ID, &w.URL, &w.Name, &w.CadenceMinutes, &isActive,
		&tags, &recipients, &crawlEnabled, &visualEnabled, &blurEnabled,
		&performanceEnabled, &fullCheckEnabled, &w.MaxCrawlDepth,
		&w.RenderDelaySeconds, &w.VisualDiffThresholdPercent, &captureSubpages,
		&keywords, &baselines, &createdAt, &updatedAt, &lastChecked)
	if err != nil {
		return nil, err
	}

	w.IsActive = isActive != 0
	w.CrawlEnabled = crawlEnabled != 0
	w.VisualEnabled = visualEnabled != 0
	w.BlurEnabled = blurEnabled != 0
	w.PerformanceEnabled = performanceEnabled != 0
	w.FullCheckEnabled = fullCheckEnabled != 0
	w.CaptureSubpages = captureSubpages != 0

	unmarshalLenient(tags, &w.Tags)
	unmarshalLenient(recipients, &w.NotificationRecipients)
	unmarshalLenient(keywords, &w.ExcludePageKeywords)
	unmarshalLenient(baselines, &w.Baselines)

	w.CreatedAt = time.Unix(createdAt, 0)
	w.UpdatedAt = time.Unix(updatedAt, 0)
	if lastChecked.Valid {
		ts := time.Unix(lastChecked.Int64, 0)
		w.LastCheckedAt = &ts
	}

	return &w, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
