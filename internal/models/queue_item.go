package models

import "time"

// QueueStatus tracks a queue item through its lifecycle.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// Queue priorities. Manual submissions always beat scheduled ones.
const (
	PriorityScheduled = 0
	PriorityManual    = 1
)

// QueueItem is one requested check in the manual check queue.
type QueueItem struct {
	ID            string      `json:"id"`
	WebsiteID     string      `json:"website_id"`
	CheckType     CheckType   `json:"check_type"`
	Status        QueueStatus `json:"status"`
	Priority      int         `json:"priority"`
	RequestedBy   string      `json:"requested_by,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	ResultPayload string      `json:"result_payload,omitempty"`
}

// IsLive reports whether the item still occupies its (website, check_type)
// slot: pending and processing rows block duplicate submissions.
func (q *QueueItem) IsLive() bool {
	return q.Status == QueueStatusPending || q.Status == QueueStatusProcessing
}

// IsTerminal reports whether the item has finished. Terminal rows are
// immutable except for retention pruning.
func (q *QueueItem) IsTerminal() bool {
	return q.Status == QueueStatusCompleted || q.Status == QueueStatusFailed
}
