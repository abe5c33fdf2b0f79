// Package models provides data model definitions for the offline sync core.
package models

import (
	"encoding/json"
	"time"
)

// UUID is a string alias used for record identifiers.
type UUID string

// SyncStatus represents the lifecycle status of a queued mutation.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusFailed     SyncStatus = "failed"
	SyncStatusConflict   SyncStatus = "conflict"
	SyncStatusAbandoned  SyncStatus = "abandoned"
)

// SyncOperation represents the kind of mutation awaiting remote application.
type SyncOperation string

const (
	OperationCreate SyncOperation = "create"
	OperationUpdate SyncOperation = "update"
	OperationDelete SyncOperation = "delete"
)

// SyncItem is a durable record of one pending local mutation.
type SyncItem struct {
	ID           UUID                   `json:"id"`
	ItemID       string                 `json:"item_id"`
	ItemType     string                 `json:"item_type"` // od_request, user_data, ...
	Operation    SyncOperation          `json:"operation"`
	Data         map[string]interface{} `json:"data"`
	Priority     int                    `json:"priority"` // higher = more urgent
	Status       SyncStatus             `json:"status"`
	RetryCount   int                    `json:"retry_count"`
	QueuedAt     int64                  `json:"queued_at"`     // unix seconds
	UpdatedAt    int64                  `json:"updated_at"`    // unix seconds, last transition
	LastRetryAt  int64                  `json:"last_retry_at"` // 0 = never retried
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// QueuedAtTime returns QueuedAt as time.Time.
func (s *SyncItem) QueuedAtTime() time.Time {
	return time.Unix(s.QueuedAt, 0)
}

// Terminal reports whether the item reached a state the worker will never
// pick up again without external intervention.
func (s *SyncItem) Terminal() bool {
	switch s.Status {
	case SyncStatusCompleted, SyncStatusConflict, SyncStatusAbandoned:
		return true
	}
	return false
}

// Marshal serializes the item for the persistent store.
func (s *SyncItem) Marshal() (json.RawMessage, error) {
	return json.Marshal(s)
}

// UnmarshalSyncItem deserializes a stored sync item.
func UnmarshalSyncItem(raw json.RawMessage) (*SyncItem, error) {
	var item SyncItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return &item, nil
}
