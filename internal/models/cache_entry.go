package models

import (
	"encoding/json"
	"time"
)

// CacheEnvelope holds a cached value together with its bookkeeping metadata
// so diagnostics can be computed without a separate index.
type CacheEnvelope struct {
	Key            string                 `json:"key"`
	Value          json.RawMessage        `json:"value"`
	Category       string                 `json:"category"`
	CreatedAt      int64                  `json:"created_at"`       // unix millis
	LastAccessedAt int64                  `json:"last_accessed_at"` // unix millis
	ExpiresAt      int64                  `json:"expires_at"`       // unix millis, 0 = never
	AccessCount    int                    `json:"access_count"`
	SizeBytes      int                    `json:"size_bytes"`
	ETag           string                 `json:"etag,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Expired reports whether the entry is past its expiry at the given instant.
// Entries with ExpiresAt == 0 never expire.
func (e *CacheEnvelope) Expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixMilli() >= e.ExpiresAt
}

// Touch records a read at the given instant.
func (e *CacheEnvelope) Touch(now time.Time) {
	e.LastAccessedAt = now.UnixMilli()
	e.AccessCount++
}

// Marshal serializes the envelope for the persistent store.
func (e *CacheEnvelope) Marshal() (json.RawMessage, error) {
	return json.Marshal(e)
}

// UnmarshalCacheEnvelope deserializes a stored cache envelope.
func UnmarshalCacheEnvelope(raw json.RawMessage) (*CacheEnvelope, error) {
	var env CacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
