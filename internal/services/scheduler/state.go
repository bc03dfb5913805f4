package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/models"
)

// stateStore persists the scheduler's job set snapshot to a JSON document.
// Writes go to a temp file then rename so readers never see a torn file.
type stateStore struct {
	path   string
	mu     sync.Mutex
	logger arbor.ILogger
}

func newStateStore(path string, logger arbor.ILogger) *stateStore {
	return &stateStore{path: path, logger: logger}
}

// Load reads the persisted state. A missing or corrupt file yields a fresh
// empty state rather than an error so a damaged file never blocks startup.
func (s *stateStore) Load() *models.SchedulerState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().
				Err(err).
				Str("path", s.path).
				Msg("Failed to read scheduler state, starting fresh")
		}
		return models.NewSchedulerState()
	}

	var state models.SchedulerState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn().
			Err(err).
			Str("path", s.path).
			Msg("Scheduler state file corrupt, starting fresh")
		return models.NewSchedulerState()
	}

	if state.ScheduledWebsites == nil {
		state.ScheduledWebsites = make(map[string]models.ScheduledWebsite)
	}

	return &state
}

// Save atomically rewrites the state document.
func (s *stateStore) Save(state *models.SchedulerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scheduler state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write scheduler state: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace scheduler state: %w", err)
	}

	return nil
}
