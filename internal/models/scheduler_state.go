package models

import "time"

// ScheduledWebsite is one entry in the scheduler's live job map.
type ScheduledWebsite struct {
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	CadenceMinutes int       `json:"cadence_minutes"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

// SchedulerState is the persisted snapshot of the scheduler core. It is
// rewritten on every job add/remove/error so a restart resumes from the
// last known job set.
type SchedulerState struct {
	LastScheduleAt        *time.Time                  `json:"last_schedule_at,omitempty"`
	ScheduledWebsites     map[string]ScheduledWebsite `json:"scheduled_websites"`
	ConsecutiveErrorCount int                         `json:"consecutive_error_count"`
	LastErrorAt           *time.Time                  `json:"last_error_at,omitempty"`
	IsRunning             bool                        `json:"is_running"`
}

// NewSchedulerState returns an empty state ready for use.
func NewSchedulerState() *SchedulerState {
	return &SchedulerState{
		ScheduledWebsites: make(map[string]ScheduledWebsite),
	}
}
