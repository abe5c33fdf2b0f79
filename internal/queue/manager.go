// Package queue provides the durable sync queue: priority ordering, status
// transitions and retry policy with exponential backoff for pending
// mutations awaiting remote application.
package queue

import (
	"context"
	"sort"
	"time"

	"github.com/odtrack/core/internal/config"
	apperrors "github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/logging"
	"github.com/odtrack/core/internal/models"
	"github.com/odtrack/core/internal/store"
	"github.com/odtrack/core/internal/uuid"
)

// PriorityUnset asks Enqueue to pick the default priority for the
// (itemType, operation) pair.
const PriorityUnset = -1

// defaultPriorities maps (itemType, operation) to a priority. Higher is more
// urgent. The zero itemType row holds the per-operation fallbacks.
var defaultPriorities = map[string]map[models.SyncOperation]int{
	"od_request": {
		models.OperationCreate: 10,
		models.OperationUpdate: 8,
		models.OperationDelete: 6,
	},
	"": {
		models.OperationCreate: 10,
		models.OperationUpdate: 5,
		models.OperationDelete: 6,
	},
}

// genericUpdatePriority applies to low-urgency item types such as user_data.
const genericUpdatePriority = 3

// lowUrgencyTypes get the generic update priority instead of the fallback.
var lowUrgencyTypes = map[string]bool{
	"user_data": true,
	"analytics": true,
}

// Manager owns the sync queue collection. All SyncItem mutation goes through
// its status-transition operations.
type Manager struct {
	store *store.Store
	cfg   config.QueueConfig
}

// NewManager creates a queue manager over an initialized store.
func NewManager(st *store.Store, cfg config.QueueConfig) *Manager {
	return &Manager{store: st, cfg: cfg}
}

// DefaultPriority returns the policy priority for an (itemType, operation)
// pair when the caller did not supply one.
func DefaultPriority(itemType string, operation models.SyncOperation) int {
	if operation == models.OperationUpdate && lowUrgencyTypes[itemType] {
		return genericUpdatePriority
	}
	if byOp, ok := defaultPriorities[itemType]; ok {
		if p, ok := byOp[operation]; ok {
			return p
		}
	}
	return defaultPriorities[""][operation]
}

// Enqueue persists a new pending mutation and returns its queue id. Pass
// PriorityUnset to let the (itemType, operation) policy table pick the
// priority.
func (m *Manager) Enqueue(ctx context.Context, itemID, itemType string, operation models.SyncOperation, data map[string]interface{}, priority int) (string, error) {
	if itemID == "" {
		return "", apperrors.New(apperrors.ErrValidation, "item id must not be empty")
	}
	if itemType == "" {
		return "", apperrors.New(apperrors.ErrValidation, "item type must not be empty")
	}
	switch operation {
	case models.OperationCreate, models.OperationUpdate, models.OperationDelete:
	default:
		return "", apperrors.Newf(apperrors.ErrValidation, "unknown operation %q", operation)
	}

	size, err := m.Size(ctx)
	if err != nil {
		return "", err
	}
	if size >= m.cfg.MaxSize {
		return "", apperrors.Newf(apperrors.ErrQueueFull, "queue is full (max size: %d)", m.cfg.MaxSize)
	}

	if priority == PriorityUnset {
		priority = DefaultPriority(itemType, operation)
	}

	now := time.Now().Unix()
	item := &models.SyncItem{
		ID:        models.UUID(uuid.New()),
		ItemID:    itemID,
		ItemType:  itemType,
		Operation: operation,
		Data:      data,
		Priority:  priority,
		Status:    models.SyncStatusPending,
		QueuedAt:  now,
		UpdatedAt: now,
	}

	if err := m.save(ctx, item); err != nil {
		return "", err
	}

	logging.Debug("Enqueued sync item", map[string]interface{}{
		"queue_id":  string(item.ID),
		"item_type": itemType,
		"operation": string(operation),
		"priority":  priority,
	})
	return string(item.ID), nil
}

// NextBatch returns up to batchSize pending items that are out of retry
// cooldown, ordered by priority descending then queue time ascending.
// Failed items whose cooldown elapsed and whose retry budget remains are
// re-flagged pending first.
func (m *Manager) NextBatch(ctx context.Context, batchSize int) ([]*models.SyncItem, error) {
	if batchSize <= 0 {
		return nil, apperrors.New(apperrors.ErrValidation, "batch size must be positive")
	}

	items, err := m.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var eligible []*models.SyncItem
	for _, item := range items {
		switch item.Status {
		case models.SyncStatusFailed:
			// Retry budget left and cooldown elapsed: back to pending.
			if item.RetryCount <= m.cfg.MaxRetries && m.cooldownElapsed(item, now) {
				item.Status = models.SyncStatusPending
				item.UpdatedAt = now.Unix()
				if err := m.save(ctx, item); err != nil {
					return nil, err
				}
				eligible = append(eligible, item)
			}
		case models.SyncStatusPending:
			if m.cooldownElapsed(item, now) {
				eligible = append(eligible, item)
			}
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if eligible[i].QueuedAt != eligible[j].QueuedAt {
			return eligible[i].QueuedAt < eligible[j].QueuedAt
		}
		return eligible[i].ID < eligible[j].ID
	})

	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}
	return eligible, nil
}

// cooldownElapsed reports whether the item is past its retry cooldown.
// Items that never failed have no cooldown.
func (m *Manager) cooldownElapsed(item *models.SyncItem, now time.Time) bool {
	if item.RetryCount == 0 || item.LastRetryAt == 0 {
		return true
	}
	cooldown := Backoff(item.RetryCount, m.cfg.RetryBackoffBase, m.cfg.RetryBackoffMax)
	return !now.Before(time.Unix(item.LastRetryAt, 0).Add(cooldown))
}

// Backoff returns the cooldown after retryCount failures: base doubled per
// attempt, capped at max. Monotonically non-decreasing in retryCount.
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 1 {
		return 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	d := base << uint(retryCount-1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// MarkInProgress transitions a pending item to in_progress.
func (m *Manager) MarkInProgress(ctx context.Context, queueID string) error {
	return m.transition(ctx, queueID, func(item *models.SyncItem, now time.Time) error {
		if item.Status != models.SyncStatusPending {
			return apperrors.Newf(apperrors.ErrInvalidState,
				"cannot start item %s in status %s", queueID, item.Status)
		}
		item.Status = models.SyncStatusInProgress
		return nil
	})
}

// MarkCompleted transitions an in_progress item to completed. Calling it on
// an already completed item is a no-op.
func (m *Manager) MarkCompleted(ctx context.Context, queueID string) error {
	return m.transition(ctx, queueID, func(item *models.SyncItem, now time.Time) error {
		if item.Status == models.SyncStatusCompleted {
			logging.Debug("Item already completed", map[string]interface{}{"queue_id": queueID})
			return errNoop
		}
		if item.Status != models.SyncStatusInProgress {
			return apperrors.Newf(apperrors.ErrInvalidState,
				"cannot complete item %s in status %s", queueID, item.Status)
		}
		item.Status = models.SyncStatusCompleted
		item.ErrorMessage = ""
		return nil
	})
}

// MarkFailed records a transient failure: retry count is bumped, the error
// message kept, and the item enters its cooldown window.
func (m *Manager) MarkFailed(ctx context.Context, queueID, errorMessage string) error {
	return m.transition(ctx, queueID, func(item *models.SyncItem, now time.Time) error {
		if item.Status != models.SyncStatusInProgress {
			return apperrors.Newf(apperrors.ErrInvalidState,
				"cannot fail item %s in status %s", queueID, item.Status)
		}
		item.Status = models.SyncStatusFailed
		item.RetryCount++
		item.LastRetryAt = now.Unix()
		item.ErrorMessage = errorMessage
		if item.RetryCount > m.cfg.MaxRetries {
			logging.Warn("Sync item exhausted its retry budget", map[string]interface{}{
				"queue_id":    queueID,
				"retry_count": item.RetryCount,
				"max_retries": m.cfg.MaxRetries,
			})
		}
		return nil
	})
}

// MarkConflicted transitions an in_progress item to conflict. Conflicted
// items are never auto-retried; they wait for external resolution.
func (m *Manager) MarkConflicted(ctx context.Context, queueID, reason string) error {
	return m.transition(ctx, queueID, func(item *models.SyncItem, now time.Time) error {
		if item.Status != models.SyncStatusInProgress {
			return apperrors.Newf(apperrors.ErrInvalidState,
				"cannot conflict item %s in status %s", queueID, item.Status)
		}
		item.Status = models.SyncStatusConflict
		item.ErrorMessage = reason
		return nil
	})
}

// errNoop signals a transition that should persist nothing and succeed.
var errNoop = apperrors.New(apperrors.ErrInternal, "noop transition")

// transition loads, mutates and persists one item.
func (m *Manager) transition(ctx context.Context, queueID string, fn func(*models.SyncItem, time.Time) error) error {
	item, err := m.GetItem(ctx, queueID)
	if err != nil {
		return err
	}
	now := time.Now()
	if err := fn(item, now); err != nil {
		if err == errNoop {
			return nil
		}
		return err
	}
	item.UpdatedAt = now.Unix()
	return m.save(ctx, item)
}

// GetItem returns the item with the given queue id.
func (m *Manager) GetItem(ctx context.Context, queueID string) (*models.SyncItem, error) {
	raw, ok, err := m.store.Get(ctx, store.CollectionSyncQueue, queueID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "queue item %s not found", queueID)
	}
	item, err := models.UnmarshalSyncItem(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "corrupt queue item", err)
	}
	return item, nil
}

// GetFailedItems returns every item currently in the failed status,
// including permanently failed ones awaiting manual retry or dismissal.
func (m *Manager) GetFailedItems(ctx context.Context) ([]*models.SyncItem, error) {
	items, err := m.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	var failed []*models.SyncItem
	for _, item := range items {
		if item.Status == models.SyncStatusFailed {
			failed = append(failed, item)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].QueuedAt < failed[j].QueuedAt })
	return failed, nil
}

// RemoveFailedItems deletes retry-exhausted failed items from the queue and
// counts them as abandoned. Returns the number removed.
func (m *Manager) RemoveFailedItems(ctx context.Context) (int, error) {
	items, err := m.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, item := range items {
		if item.Status != models.SyncStatusFailed || item.RetryCount <= m.cfg.MaxRetries {
			continue
		}
		if err := m.store.Delete(ctx, store.CollectionSyncQueue, string(item.ID)); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		if err := m.bumpAbandonedCount(ctx, removed); err != nil {
			return removed, err
		}
		logging.Info("Removed permanently failed sync items", map[string]interface{}{"count": removed})
	}
	return removed, nil
}

// ResetFailedItems returns every failed item to pending with a fresh retry
// budget. Used for manual "retry all" actions. Returns the number reset.
func (m *Manager) ResetFailedItems(ctx context.Context) (int, error) {
	items, err := m.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().Unix()
	reset := 0
	for _, item := range items {
		if item.Status != models.SyncStatusFailed {
			continue
		}
		item.Status = models.SyncStatusPending
		item.RetryCount = 0
		item.LastRetryAt = 0
		item.ErrorMessage = ""
		item.UpdatedAt = now
		if err := m.save(ctx, item); err != nil {
			return reset, err
		}
		reset++
	}

	if reset > 0 {
		logging.Info("Reset failed sync items for retry", map[string]interface{}{"count": reset})
	}
	return reset, nil
}

// CleanupOldItems removes completed items older than the retention window.
// Returns the number removed.
func (m *Manager) CleanupOldItems(ctx context.Context) (int, error) {
	items, err := m.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-m.cfg.Retention).Unix()
	removed := 0
	for _, item := range items {
		if item.Status != models.SyncStatusCompleted || item.UpdatedAt > cutoff {
			continue
		}
		if err := m.store.Delete(ctx, store.CollectionSyncQueue, string(item.ID)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Size returns the number of items currently in the queue collection.
func (m *Manager) Size(ctx context.Context) (int, error) {
	keys, err := m.store.Keys(ctx, store.CollectionSyncQueue)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Clear removes every item from the queue. Returns the number removed.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	return m.store.Clear(ctx, store.CollectionSyncQueue)
}

// save persists one item.
func (m *Manager) save(ctx context.Context, item *models.SyncItem) error {
	raw, err := item.Marshal()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to serialize queue item", err)
	}
	return m.store.Put(ctx, store.CollectionSyncQueue, string(item.ID), raw)
}

// loadAll returns a snapshot of every queue item.
func (m *Manager) loadAll(ctx context.Context) ([]*models.SyncItem, error) {
	keys, err := m.store.Keys(ctx, store.CollectionSyncQueue)
	if err != nil {
		return nil, err
	}

	items := make([]*models.SyncItem, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := m.store.Get(ctx, store.CollectionSyncQueue, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Deleted between snapshot and read; skip.
			continue
		}
		item, err := models.UnmarshalSyncItem(raw)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "corrupt queue item", err)
		}
		items = append(items, item)
	}
	return items, nil
}
