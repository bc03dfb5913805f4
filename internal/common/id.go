package common

import (
	"github.com/google/uuid"
)

// NewWebsiteID generates a unique website ID with the "site_" prefix
// Format: site_<uuid>
func NewWebsiteID() string {
	return "site_" + uuid.New().String()
}

// NewQueueItemID generates a unique queue item ID with the "chk_" prefix
// Format: chk_<uuid>
func NewQueueItemID() string {
	return "chk_" + uuid.New().String()
}

// NewCheckRecordID generates a unique history record ID with the "hist_" prefix
// Format: hist_<uuid>
func NewCheckRecordID() string {
	return "hist_" + uuid.New().String()
}
