package models

import (
	"encoding/json"
	"time"
)

// OperationType classifies a user-facing pending action queued while offline.
type OperationType string

const (
	OperationTypeCreateRequest OperationType = "create_request"
	OperationTypeBulkApproval  OperationType = "bulk_approval"
	OperationTypeBulkRejection OperationType = "bulk_rejection"
	OperationTypeBulkExport    OperationType = "bulk_export"
)

// PendingOperation is the user-visible ledger entry for a queued action.
// Every operation is backed by at least one SyncItem; the operation entry is
// removed once all of its sync items complete.
type PendingOperation struct {
	ID        UUID                   `json:"id"`
	Type      OperationType          `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	QueueIDs  []string               `json:"queue_ids"`
	CreatedAt int64                  `json:"created_at"` // unix seconds
}

// CreatedAtTime returns CreatedAt as time.Time.
func (o *PendingOperation) CreatedAtTime() time.Time {
	return time.Unix(o.CreatedAt, 0)
}

// Marshal serializes the operation for the persistent store.
func (o *PendingOperation) Marshal() (json.RawMessage, error) {
	return json.Marshal(o)
}

// UnmarshalPendingOperation deserializes a stored pending operation.
func UnmarshalPendingOperation(raw json.RawMessage) (*PendingOperation, error) {
	var op PendingOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, err
	}
	return &op, nil
}
