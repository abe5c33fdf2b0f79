package queue

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/models"
	"github.com/odtrack/core/internal/store"
)

// abandonedCountKey is the meta-collection key holding the running count of
// retry-exhausted items removed from the queue.
const abandonedCountKey = "queue_abandoned_count"

// Health summarizes the queue state for diagnostics screens.
type Health struct {
	Counts            map[models.SyncStatus]int `json:"counts"`
	Total             int                       `json:"total"`
	Abandoned         int                       `json:"abandoned"`
	IsHealthy         bool                      `json:"is_healthy"`
	AverageRetryCount float64                   `json:"average_retry_count"`
	ItemsByType       map[string]int            `json:"items_by_type"`
	OldestPendingAge  time.Duration             `json:"oldest_pending_age"`
}

// Analysis breaks the queue down by operation, type and priority.
type Analysis struct {
	OperationBreakdown map[models.SyncOperation]int `json:"operation_breakdown"`
	TypeBreakdown      map[string]int               `json:"type_breakdown"`
	PriorityBreakdown  map[int]int                  `json:"priority_breakdown"`
}

// QueueHealth computes status counts and a health verdict. The queue is
// unhealthy when failed items exceed a quarter of the total or any pending
// item is older than the staleness limit.
func (m *Manager) QueueHealth(ctx context.Context) (*Health, error) {
	items, err := m.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	abandoned, err := m.abandonedCount(ctx)
	if err != nil {
		return nil, err
	}

	h := &Health{
		Counts: map[models.SyncStatus]int{
			models.SyncStatusPending:    0,
			models.SyncStatusInProgress: 0,
			models.SyncStatusCompleted:  0,
			models.SyncStatusFailed:     0,
			models.SyncStatusConflict:   0,
		},
		Abandoned:   abandoned,
		ItemsByType: make(map[string]int),
	}

	now := time.Now()
	totalRetries := 0
	for _, item := range items {
		h.Counts[item.Status]++
		h.Total++
		h.ItemsByType[item.ItemType]++
		totalRetries += item.RetryCount

		if item.Status == models.SyncStatusPending {
			if age := now.Sub(item.QueuedAtTime()); age > h.OldestPendingAge {
				h.OldestPendingAge = age
			}
		}
	}

	if h.Total > 0 {
		h.AverageRetryCount = float64(totalRetries) / float64(h.Total)
	}

	failedShare := h.Counts[models.SyncStatusFailed] > h.Total/4
	stale := h.OldestPendingAge > m.cfg.StalenessLimit
	h.IsHealthy = !failedShare && !stale
	return h, nil
}

// AnalyzeQueue returns operation/type/priority breakdowns over all items.
func (m *Manager) AnalyzeQueue(ctx context.Context) (*Analysis, error) {
	items, err := m.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		OperationBreakdown: make(map[models.SyncOperation]int),
		TypeBreakdown:      make(map[string]int),
		PriorityBreakdown:  make(map[int]int),
	}
	for _, item := range items {
		a.OperationBreakdown[item.Operation]++
		a.TypeBreakdown[item.ItemType]++
		a.PriorityBreakdown[item.Priority]++
	}
	return a, nil
}

// abandonedCount reads the persisted abandoned counter.
func (m *Manager) abandonedCount(ctx context.Context) (int, error) {
	raw, ok, err := m.store.Get(ctx, store.CollectionMeta, abandonedCountKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var v struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "corrupt abandoned counter", err)
	}
	return v.Count, nil
}

// bumpAbandonedCount adds delta to the persisted abandoned counter.
func (m *Manager) bumpAbandonedCount(ctx context.Context, delta int) error {
	count, err := m.abandonedCount(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(map[string]int{"count": count + delta})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to serialize abandoned counter", err)
	}
	return m.store.Put(ctx, store.CollectionMeta, abandonedCountKey, raw)
}
