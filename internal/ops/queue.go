// Package ops provides the user-facing offline operation ledger: typed
// pending actions queued while offline, one level above raw sync items.
package ops

import (
	"context"
	"sort"
	"time"

	apperrors "github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/logging"
	"github.com/odtrack/core/internal/models"
	"github.com/odtrack/core/internal/queue"
	"github.com/odtrack/core/internal/store"
	"github.com/odtrack/core/internal/uuid"
)

// Queue records typed pending operations for UI display. Every entry is
// backed by at least one sync queue item; entries disappear once all their
// items complete.
type Queue struct {
	store *store.Store
	sync  *queue.Manager
}

// Statistics summarizes the pending ledger.
type Statistics struct {
	TotalPending     int                          `json:"total_pending"`
	ByType           map[models.OperationType]int `json:"by_type"`
	OldestPendingAge time.Duration                `json:"oldest_pending_age"`
}

// NewQueue creates the operation ledger over an initialized store and the
// sync queue manager that will carry its mutations.
func NewQueue(st *store.Store, sm *queue.Manager) *Queue {
	return &Queue{store: st, sync: sm}
}

// QueueCreateRequest records a new on-duty request made while offline and
// enqueues its create mutation. Returns the operation id.
func (q *Queue) QueueCreateRequest(ctx context.Context, entity map[string]interface{}) (string, error) {
	if len(entity) == 0 {
		return "", apperrors.New(apperrors.ErrValidation, "request entity must not be empty")
	}

	itemID, _ := entity["id"].(string)
	if itemID == "" {
		itemID = uuid.New()
		entity["id"] = itemID
	}

	queueID, err := q.sync.Enqueue(ctx, itemID, "od_request", models.OperationCreate, entity, queue.PriorityUnset)
	if err != nil {
		return "", err
	}

	return q.record(ctx, models.OperationTypeCreateRequest, entity, []string{queueID})
}

// QueueBulkApproval queues approval updates for a set of requests.
func (q *Queue) QueueBulkApproval(ctx context.Context, requestIDs []string, reason string) (string, error) {
	return q.queueBulkDecision(ctx, models.OperationTypeBulkApproval, "approved", requestIDs, reason)
}

// QueueBulkRejection queues rejection updates for a set of requests. The
// reason is mandatory, mirroring the server-side rejection contract.
func (q *Queue) QueueBulkRejection(ctx context.Context, requestIDs []string, reason string) (string, error) {
	if reason == "" {
		return "", apperrors.New(apperrors.ErrValidation, "rejection reason must not be empty")
	}
	return q.queueBulkDecision(ctx, models.OperationTypeBulkRejection, "rejected", requestIDs, reason)
}

func (q *Queue) queueBulkDecision(ctx context.Context, opType models.OperationType, status string, requestIDs []string, reason string) (string, error) {
	if len(requestIDs) == 0 {
		return "", apperrors.New(apperrors.ErrValidation, "request id list must not be empty")
	}

	queueIDs := make([]string, 0, len(requestIDs))
	for _, id := range requestIDs {
		if id == "" {
			return "", apperrors.New(apperrors.ErrValidation, "request id must not be empty")
		}
		data := map[string]interface{}{
			"id":     id,
			"status": status,
			"reason": reason,
		}
		queueID, err := q.sync.Enqueue(ctx, id, "od_request", models.OperationUpdate, data, queue.PriorityUnset)
		if err != nil {
			return "", err
		}
		queueIDs = append(queueIDs, queueID)
	}

	payload := map[string]interface{}{
		"request_ids": requestIDs,
		"status":      status,
		"reason":      reason,
	}
	return q.record(ctx, opType, payload, queueIDs)
}

// QueueBulkExport queues an export job request. Generating the export itself
// is a server concern; only the job request is carried by the queue.
func (q *Queue) QueueBulkExport(ctx context.Context, format string, filters map[string]interface{}) (string, error) {
	if format == "" {
		return "", apperrors.New(apperrors.ErrValidation, "export format must not be empty")
	}

	jobID := uuid.New()
	data := map[string]interface{}{
		"id":      jobID,
		"format":  format,
		"filters": filters,
	}
	queueID, err := q.sync.Enqueue(ctx, jobID, "export_job", models.OperationCreate, data, queue.PriorityUnset)
	if err != nil {
		return "", err
	}
	return q.record(ctx, models.OperationTypeBulkExport, data, []string{queueID})
}

// record persists the ledger entry.
func (q *Queue) record(ctx context.Context, opType models.OperationType, payload map[string]interface{}, queueIDs []string) (string, error) {
	op := &models.PendingOperation{
		ID:        models.UUID(uuid.New()),
		Type:      opType,
		Payload:   payload,
		QueueIDs:  queueIDs,
		CreatedAt: time.Now().Unix(),
	}

	raw, err := op.Marshal()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, "failed to serialize pending operation", err)
	}
	if err := q.store.Put(ctx, store.CollectionOperations, string(op.ID), raw); err != nil {
		return "", err
	}

	logging.Debug("Recorded pending operation", map[string]interface{}{
		"operation_id": string(op.ID),
		"type":         string(opType),
		"sync_items":   len(queueIDs),
	})
	return string(op.ID), nil
}

// GetPendingOperations returns the ledger snapshot, oldest first. Entries
// whose sync items all completed are reconciled away before returning, so
// the UI never shows an action that already synced.
func (q *Queue) GetPendingOperations(ctx context.Context) ([]*models.PendingOperation, error) {
	ops, err := q.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]*models.PendingOperation, 0, len(ops))
	for _, op := range ops {
		done, err := q.settled(ctx, op)
		if err != nil {
			return nil, err
		}
		if done {
			if err := q.store.Delete(ctx, store.CollectionOperations, string(op.ID)); err != nil {
				return nil, err
			}
			continue
		}
		pending = append(pending, op)
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt < pending[j].CreatedAt })
	return pending, nil
}

// GetPendingOperationsByType filters the reconciled ledger by type.
func (q *Queue) GetPendingOperationsByType(ctx context.Context, opType models.OperationType) ([]*models.PendingOperation, error) {
	ops, err := q.GetPendingOperations(ctx)
	if err != nil {
		return nil, err
	}
	filtered := ops[:0]
	for _, op := range ops {
		if op.Type == opType {
			filtered = append(filtered, op)
		}
	}
	return filtered, nil
}

// Reconcile sweeps the ledger eagerly, removing entries whose sync items all
// completed. Returns the number removed.
func (q *Queue) Reconcile(ctx context.Context) (int, error) {
	ops, err := q.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, op := range ops {
		done, err := q.settled(ctx, op)
		if err != nil {
			return removed, err
		}
		if done {
			if err := q.store.Delete(ctx, store.CollectionOperations, string(op.ID)); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// settled reports whether every sync item behind the operation completed.
// Items missing from the queue were completed and cleaned up.
func (q *Queue) settled(ctx context.Context, op *models.PendingOperation) (bool, error) {
	for _, queueID := range op.QueueIDs {
		item, err := q.sync.GetItem(ctx, queueID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return false, err
		}
		if item.Status != models.SyncStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// GetStatistics reports totals over the reconciled ledger.
func (q *Queue) GetStatistics(ctx context.Context) (*Statistics, error) {
	ops, err := q.GetPendingOperations(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{ByType: make(map[models.OperationType]int)}
	now := time.Now()
	for _, op := range ops {
		stats.TotalPending++
		stats.ByType[op.Type]++
		if age := now.Sub(op.CreatedAtTime()); age > stats.OldestPendingAge {
			stats.OldestPendingAge = age
		}
	}
	return stats, nil
}

// loadAll snapshots the raw ledger without reconciliation.
func (q *Queue) loadAll(ctx context.Context) ([]*models.PendingOperation, error) {
	keys, err := q.store.Keys(ctx, store.CollectionOperations)
	if err != nil {
		return nil, err
	}

	ops := make([]*models.PendingOperation, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := q.store.Get(ctx, store.CollectionOperations, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		op, err := models.UnmarshalPendingOperation(raw)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "corrupt pending operation", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
