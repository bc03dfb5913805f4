package sqlite

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
)

// Manager aggregates the three stores backed by one SQLite file.
type Manager struct {
	db       *SQLiteDB
	websites *WebsiteStorage
	queue    *QueueStorage
	history  *HistoryStorage
}

// NewManager opens the database, runs migrations and wires the stores.
func NewManager(logger arbor.ILogger, databasePath string) (*Manager, error) {
	db, err := NewSQLiteDB(logger, databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return &Manager{
		db:       db,
		websites: NewWebsiteStorage(db, logger),
		queue:    NewQueueStorage(db, logger),
		history:  NewHistoryStorage(db, logger),
	}, nil
}

// Websites returns the catalog store.
func (m *Manager) Websites() interfaces.WebsiteStorage {
	return m.websites
}

// Queue returns the manual check queue store.
func (m *Manager) Queue() interfaces.QueueStorage {
	return m.queue
}

// History returns the check history store.
func (m *Manager) History() interfaces.HistoryStorage {
	return m.history
}

// Ping verifies the database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.Ping(ctx)
}

// Close closes the underlying database.
func (m *Manager) Close() error {
	return m.db.Close()
}
