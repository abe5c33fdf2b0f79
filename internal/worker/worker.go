package worker

import (
	"context"
	"sync"
	"time"

	"github.com/odtrack/core/internal/config"
	"github.com/odtrack/core/internal/conflict"
	apperrors "github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/events"
	"github.com/odtrack/core/internal/logging"
	"github.com/odtrack/core/internal/models"
	"github.com/odtrack/core/internal/queue"
)

// Worker drains the sync queue opportunistically: a periodic ticker and the
// connectivity stream both trigger batches, one batch in flight at a time.
type Worker struct {
	queue        *queue.Manager
	conflicts    *conflict.Tracker
	remote       RemoteSyncClient
	connectivity ConnectivityMonitor
	bus          *events.Bus
	cfg          config.WorkerConfig
	batchSize    int

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu                  sync.RWMutex
	isRunning           bool
	isConnected         bool
	syncInProgress      bool
	disposed            bool
	consecutiveFailures int
	lastSyncTime        time.Time
	totalSynced         int
	totalFailed         int
}

// SyncSummary reports one batch attempt.
type SyncSummary struct {
	ItemsSynced int       `json:"items_synced"`
	ItemsFailed int       `json:"items_failed"`
	Timestamp   time.Time `json:"timestamp"`
}

// Statistics is the worker state snapshot for diagnostics.
type Statistics struct {
	IsRunning           bool       `json:"is_running"`
	IsConnected         bool       `json:"is_connected"`
	SyncInProgress      bool       `json:"sync_in_progress"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSyncTime        *time.Time `json:"last_sync_time,omitempty"`
	TotalSynced         int        `json:"total_synced"`
	TotalFailed         int        `json:"total_failed"`
}

// New creates a Worker. Start must be called to begin processing.
func New(qm *queue.Manager, tracker *conflict.Tracker, remote RemoteSyncClient, monitor ConnectivityMonitor, bus *events.Bus, cfg config.WorkerConfig, batchSize int) *Worker {
	return &Worker{
		queue:        qm,
		conflicts:    tracker,
		remote:       remote,
		connectivity: monitor,
		bus:          bus,
		cfg:          cfg,
		batchSize:    batchSize,
		stopCh:       make(chan struct{}),
	}
}

// Start checks connectivity once and launches the trigger loop. Calling
// Start on a running or disposed worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.isRunning || w.disposed {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.mu.Unlock()

	online, err := w.connectivity.CheckConnectivity(ctx)
	if err != nil {
		logging.Warn("Initial connectivity check failed", map[string]interface{}{"error": err.Error()})
		online = false
	}
	w.setConnected(online)

	w.wg.Add(1)
	go w.loop(ctx)

	logging.Info("Background sync worker started", map[string]interface{}{
		"sync_interval": w.cfg.SyncInterval.String(),
		"batch_size":    w.batchSize,
	})
}

// loop waits on the ticker, the connectivity stream and shutdown signals.
func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.SyncInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case online, ok := <-w.connectivity.Changes():
			if !ok {
				// Stream failure degrades to offline rather than crashing.
				w.setConnected(false)
				logging.Warn("Connectivity stream closed, assuming offline")
				continue
			}
			wasOnline := w.IsConnected()
			w.setConnected(online)
			if online && !wasOnline {
				// Back online: drain immediately instead of waiting a tick.
				w.trySync(ctx)
			}

		case <-ticker.C:
			tick++
			if f := w.cfg.BackoffFactor; f > 1 && w.backingOff() && tick%f != 0 {
				continue
			}
			w.trySync(ctx)
		}
	}
}

// trySync runs one batch when online and no batch is in flight.
func (w *Worker) trySync(ctx context.Context) {
	if !w.IsConnected() {
		return
	}
	if _, err := w.processBatch(ctx); err != nil && !apperrors.Is(err, apperrors.ErrSyncFailed) {
		logging.Error("Sync batch failed", err)
	}
}

// processBatch draws one batch and drives each item through the remote
// client sequentially, preserving the priority order observed at draw time.
func (w *Worker) processBatch(ctx context.Context) (*SyncSummary, error) {
	w.mu.Lock()
	if w.syncInProgress {
		w.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncFailed, "sync already in progress")
	}
	w.syncInProgress = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.syncInProgress = false
		w.mu.Unlock()
	}()

	batch, err := w.queue.NextBatch(ctx, w.batchSize)
	if err != nil {
		return nil, err
	}

	summary := &SyncSummary{Timestamp: time.Now()}
	if len(batch) == 0 {
		return summary, nil
	}

	w.bus.Publish(events.TypeSyncStarted, map[string]interface{}{"batch_size": len(batch)})
	logging.Info("Processing sync batch", map[string]interface{}{"count": len(batch)})

	for _, item := range batch {
		select {
		case <-ctx.Done():
			// Stop drawing further items; already-started work finished.
			w.finishBatch(summary)
			return summary, nil
		case <-w.stopCh:
			w.finishBatch(summary)
			return summary, nil
		default:
		}

		if err := w.processItem(ctx, item); err != nil {
			summary.ItemsFailed++
		} else {
			summary.ItemsSynced++
		}
	}

	w.finishBatch(summary)
	return summary, nil
}

// processItem fully awaits one item's remote attempt before returning.
func (w *Worker) processItem(ctx context.Context, item *models.SyncItem) error {
	queueID := string(item.ID)

	if err := w.queue.MarkInProgress(ctx, queueID); err != nil {
		// Another path already moved the item on; skip without failing it.
		logging.Warn("Skipping item not in pending state", map[string]interface{}{
			"queue_id": queueID, "error": err.Error(),
		})
		return err
	}

	itemCtx, cancel := context.WithTimeout(ctx, w.cfg.ItemTimeout)
	outcome, err := w.remote.Apply(itemCtx, item)
	cancel()

	switch {
	case err != nil:
		if markErr := w.queue.MarkFailed(ctx, queueID, err.Error()); markErr != nil {
			return markErr
		}
		w.bus.Publish(events.TypeSyncItemFailed, map[string]interface{}{
			"queue_id": queueID, "item_type": item.ItemType, "error": err.Error(),
		})
		return err

	case outcome.Conflict:
		if markErr := w.queue.MarkConflicted(ctx, queueID, "remote state diverged"); markErr != nil {
			return markErr
		}
		c := &models.SyncConflict{
			ItemID:          item.ItemID,
			ItemType:        item.ItemType,
			LocalData:       item.Data,
			ServerData:      outcome.ServerData,
			LocalTimestamp:  item.QueuedAt,
			ServerTimestamp: outcome.ServerTimestamp,
			DetectedAt:      time.Now().Unix(),
		}
		if err := w.conflicts.StoreConflict(ctx, c); err != nil {
			return err
		}
		w.bus.Publish(events.TypeSyncConflict, map[string]interface{}{
			"queue_id": queueID, "item_id": item.ItemID, "item_type": item.ItemType,
		})
		return apperrors.New(apperrors.ErrSyncConflict, "conflict detected")

	default:
		if err := w.queue.MarkCompleted(ctx, queueID); err != nil {
			return err
		}
		w.bus.Publish(events.TypeSyncItemCompleted, map[string]interface{}{
			"queue_id": queueID, "item_type": item.ItemType,
		})
		return nil
	}
}

// finishBatch updates failure tracking and emits the completion event.
func (w *Worker) finishBatch(summary *SyncSummary) {
	w.mu.Lock()
	w.lastSyncTime = summary.Timestamp
	w.totalSynced += summary.ItemsSynced
	w.totalFailed += summary.ItemsFailed
	if summary.ItemsSynced > 0 {
		w.consecutiveFailures = 0
	} else if summary.ItemsFailed > 0 {
		w.consecutiveFailures++
	}
	failures := w.consecutiveFailures
	w.mu.Unlock()

	w.bus.Publish(events.TypeSyncCompleted, map[string]interface{}{
		"items_synced": summary.ItemsSynced,
		"items_failed": summary.ItemsFailed,
	})

	if failures >= w.cfg.FailureThreshold {
		logging.Warn("Consecutive sync failures, backing off trigger frequency",
			map[string]interface{}{"consecutive_failures": failures})
	}
}

// ForceSync bypasses the timer and immediately attempts one batch.
func (w *Worker) ForceSync(ctx context.Context) (*SyncSummary, error) {
	online, err := w.connectivity.CheckConnectivity(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncTransient, "connectivity check failed", err)
	}
	w.setConnected(online)
	if !online {
		return nil, apperrors.New(apperrors.ErrSyncTransient, "device is offline")
	}
	return w.processBatch(ctx)
}

// GetStatistics returns a snapshot of the worker state.
func (w *Worker) GetStatistics() Statistics {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := Statistics{
		IsRunning:           w.isRunning,
		IsConnected:         w.isConnected,
		SyncInProgress:      w.syncInProgress,
		ConsecutiveFailures: w.consecutiveFailures,
		TotalSynced:         w.totalSynced,
		TotalFailed:         w.totalFailed,
	}
	if !w.lastSyncTime.IsZero() {
		t := w.lastSyncTime
		stats.LastSyncTime = &t
	}
	return stats
}

// IsConnected reports the last observed online state.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isConnected
}

// IsRunning reports whether the trigger loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isRunning
}

func (w *Worker) setConnected(online bool) {
	w.mu.Lock()
	changed := w.isConnected != online
	w.isConnected = online
	w.mu.Unlock()

	if changed {
		logging.Info("Connectivity changed", map[string]interface{}{"is_connected": online})
		w.bus.Publish(events.TypeConnectivityChanged, map[string]interface{}{"is_connected": online})
	}
}

// backingOff reports whether the failure threshold has been hit.
func (w *Worker) backingOff() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.consecutiveFailures >= w.cfg.FailureThreshold
}

// Dispose stops the trigger loop and marks the worker stopped. Safe to call
// multiple times.
func (w *Worker) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	wasRunning := w.isRunning
	w.isRunning = false
	w.mu.Unlock()

	close(w.stopCh)
	if wasRunning {
		w.wg.Wait()
	}
	logging.Info("Background sync worker disposed")
}
