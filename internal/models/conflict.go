package models

import (
	"encoding/json"
	"time"
)

// SyncConflict records a detected divergence between the locally queued
// mutation and the server-side state for one entity. It exists only while
// unresolved.
type SyncConflict struct {
	ItemID          string                 `json:"item_id"`
	ItemType        string                 `json:"item_type"`
	LocalData       map[string]interface{} `json:"local_data"`
	ServerData      map[string]interface{} `json:"server_data"`
	LocalTimestamp  int64                  `json:"local_timestamp"`  // unix seconds
	ServerTimestamp int64                  `json:"server_timestamp"` // unix seconds
	DetectedAt      int64                  `json:"detected_at"`      // unix seconds
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *SyncConflict) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}

// Marshal serializes the conflict for the persistent store.
func (c *SyncConflict) Marshal() (json.RawMessage, error) {
	return json.Marshal(c)
}

// UnmarshalSyncConflict deserializes a stored conflict.
func UnmarshalSyncConflict(raw json.RawMessage) (*SyncConflict, error) {
	var c SyncConflict
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
