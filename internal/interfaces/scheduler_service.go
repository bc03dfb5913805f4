package interfaces

import (
	"github.com/ternarybob/vigil/internal/models"
)

// SchedulerService turns the active website catalog into a live set of
// timed jobs. At most one instance runs per data directory, enforced by a
// lock file.
type SchedulerService interface {
	// Start acquires the singleton lock, builds the job set from the
	// catalog and begins firing ticks. Fails with ErrLockHeld when another
	// live instance owns the lock, or ErrSchedulerDisabled when disabled by
	// configuration.
	Start() error

	// Stop cancels all jobs, releases the lock and persists final state.
	// The worker join is bounded.
	Stop() error

	// Status returns a snapshot of the live job set and error counters.
	Status() *models.SchedulerState

	// ForceReschedule clears and rebuilds the whole job set from the
	// catalog. Idempotent apart from last_schedule_at.
	ForceReschedule() error

	// RemoveWebsite drops the site's job and map entry and purges any
	// not-yet-run tick for it. Safe to call for unknown ids.
	RemoveWebsite(websiteID string)

	// IsRunning reports whether the scheduler holds the lock and is live.
	IsRunning() bool
}
