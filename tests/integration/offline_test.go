// Integration tests for the offline-first flow: every user-facing operation
// must work without network connectivity, then drain cleanly once it returns.
package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/odtrack/core/internal/cache"
	"github.com/odtrack/core/internal/config"
	"github.com/odtrack/core/internal/conflict"
	"github.com/odtrack/core/internal/events"
	"github.com/odtrack/core/internal/models"
	"github.com/odtrack/core/internal/ops"
	"github.com/odtrack/core/internal/queue"
	"github.com/odtrack/core/internal/store"
	"github.com/odtrack/core/internal/worker"
)

// engine bundles the full offline core over one store.
type engine struct {
	store   *store.Store
	queue   *queue.Manager
	cache   *cache.Manager
	tracker *conflict.Tracker
	ops     *ops.Queue
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		MaxSize:          1000,
		BatchSize:        20,
		MaxRetries:       3,
		RetryBackoffBase: time.Millisecond,
		RetryBackoffMax:  time.Second,
		Retention:        time.Hour,
		StalenessLimit:   time.Hour,
	}
}

// openEngine wires the core over dataDir, the way the daemon does at boot.
func openEngine(t *testing.T, dataDir string) *engine {
	t.Helper()
	st := store.New(dataDir)
	if err := st.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}

	qm := queue.NewManager(st, testQueueConfig())
	return &engine{
		store:   st,
		queue:   qm,
		cache:   cache.NewManager(st, config.CacheConfig{FallbackTTL: 30 * time.Minute}),
		tracker: conflict.NewTracker(st),
		ops:     ops.NewQueue(st, qm),
	}
}

// offlineMonitor is a switchable connectivity monitor.
type offlineMonitor struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
}

func newOfflineMonitor() *offlineMonitor {
	return &offlineMonitor{changes: make(chan bool, 4)}
}

func (m *offlineMonitor) CheckConnectivity(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online, nil
}

func (m *offlineMonitor) Changes() <-chan bool { return m.changes }

func (m *offlineMonitor) setOnline(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
}

// recordingRemote accepts every mutation and remembers what it saw.
type recordingRemote struct {
	mu      sync.Mutex
	applied []string
}

func (r *recordingRemote) Apply(ctx context.Context, item *models.SyncItem) (*worker.ApplyOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, item.ItemID)
	return &worker.ApplyOutcome{}, nil
}

func (r *recordingRemote) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

// TestOfflineRequestFlow walks the full offline journey: queue actions with
// no connectivity, read them back from cache and ledger, then drain once the
// network returns.
func TestOfflineRequestFlow(t *testing.T) {
	e := openEngine(t, t.TempDir())
	defer e.store.Close()
	ctx := context.Background()

	t.Log("Phase 1: queueing actions while offline...")

	var opID string
	t.Run("QueueWhileOffline", func(t *testing.T) {
		entity := map[string]interface{}{
			"student_id": "s42",
			"reason":     "tech fest",
			"from_date":  "2026-09-10",
			"to_date":    "2026-09-11",
		}
		id, err := e.ops.QueueCreateRequest(ctx, entity)
		if err != nil {
			t.Fatalf("Failed to queue create while offline: %v", err)
		}
		opID = id

		if _, err := e.ops.QueueBulkApproval(ctx, []string{"req-7", "req-8"}, "verified"); err != nil {
			t.Fatalf("Failed to queue bulk approval while offline: %v", err)
		}

		pending, err := e.ops.GetPendingOperations(ctx)
		if err != nil {
			t.Fatalf("Failed to read pending operations: %v", err)
		}
		if len(pending) != 2 {
			t.Fatalf("Expected 2 pending operations, got %d", len(pending))
		}
		t.Logf("Queued %d operations offline", len(pending))
	})

	t.Run("CacheReadsOffline", func(t *testing.T) {
		profile := map[string]interface{}{"name": "Priya", "role": "staff"}
		if err := e.cache.CacheUserProfile(ctx, "u1", profile); err != nil {
			t.Fatalf("Failed to cache profile: %v", err)
		}

		got, ok, err := e.cache.GetCachedUserProfile(ctx, "u1")
		if err != nil {
			t.Fatalf("Failed to read cached profile: %v", err)
		}
		if !ok || got["name"] != "Priya" {
			t.Errorf("Expected cached profile hit, got ok=%v %v", ok, got)
		}
	})

	t.Log("Phase 2: connectivity restored, draining the queue...")

	monitor := newOfflineMonitor()
	monitor.setOnline(true)
	remote := &recordingRemote{}
	bus := events.NewBus(64)
	defer bus.Close()

	w := worker.New(e.queue, e.tracker, remote, monitor, bus,
		config.WorkerConfig{
			SyncInterval:     time.Hour,
			FailureThreshold: 5,
			BackoffFactor:    4,
			ItemTimeout:      time.Second,
		}, 20)
	defer w.Dispose()

	summary, err := w.ForceSync(ctx)
	if err != nil {
		t.Fatalf("ForceSync failed: %v", err)
	}
	// One create plus two approval updates.
	if summary.ItemsSynced != 3 {
		t.Errorf("Expected 3 items synced, got %d", summary.ItemsSynced)
	}
	if remote.count() != 3 {
		t.Errorf("Expected 3 remote applies, got %d", remote.count())
	}

	t.Run("LedgerReconciles", func(t *testing.T) {
		pending, err := e.ops.GetPendingOperations(ctx)
		if err != nil {
			t.Fatalf("Failed to read pending operations: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("Expected empty ledger after drain, got %d (first op %s)", len(pending), opID)
		}
	})

	t.Run("QueueHealthy", func(t *testing.T) {
		h, err := e.queue.QueueHealth(ctx)
		if err != nil {
			t.Fatalf("QueueHealth failed: %v", err)
		}
		if !h.IsHealthy {
			t.Error("Expected healthy queue after drain")
		}
		if h.Counts[models.SyncStatusCompleted] != 3 {
			t.Errorf("Expected 3 completed items, got %d", h.Counts[models.SyncStatusCompleted])
		}
	})
}

// TestOfflinePersistenceAcrossRestart verifies queue, cache and conflicts
// all survive a full engine restart.
func TestOfflinePersistenceAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	t.Log("Phase 1: writing state...")
	e1 := openEngine(t, dataDir)

	queueID, err := e1.queue.Enqueue(ctx, "req-1", "od_request", models.OperationCreate,
		map[string]interface{}{"reason": "placement drive"}, queue.PriorityUnset)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := e1.cache.CacheODRequest(ctx, "req-1", map[string]interface{}{"status": "pending"}); err != nil {
		t.Fatalf("CacheODRequest failed: %v", err)
	}
	if err := e1.tracker.StoreConflict(ctx, &models.SyncConflict{
		ItemID:          "req-9",
		ItemType:        "od_request",
		LocalData:       map[string]interface{}{"status": "approved"},
		ServerData:      map[string]interface{}{"status": "rejected"},
		LocalTimestamp:  100,
		ServerTimestamp: 200,
		DetectedAt:      time.Now().Unix(),
	}); err != nil {
		t.Fatalf("StoreConflict failed: %v", err)
	}

	if err := e1.store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	t.Log("Phase 2: reopening engine...")
	e2 := openEngine(t, dataDir)
	defer e2.store.Close()

	item, err := e2.queue.GetItem(ctx, queueID)
	if err != nil {
		t.Fatalf("Queue item lost across restart: %v", err)
	}
	if item.Status != models.SyncStatusPending {
		t.Errorf("Expected pending item after restart, got %s", item.Status)
	}

	cached, ok, err := e2.cache.GetCachedODRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("Cache read failed after restart: %v", err)
	}
	if !ok || cached["status"] != "pending" {
		t.Errorf("Cache entry lost across restart: ok=%v %v", ok, cached)
	}

	conflicts, err := e2.tracker.GetUnresolvedConflicts(ctx)
	if err != nil {
		t.Fatalf("Conflict read failed after restart: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ItemID != "req-9" {
		t.Errorf("Conflict lost across restart: %v", conflicts)
	}

	t.Log("All state persisted across restart")
}

// TestOfflineConcurrentEnqueue verifies concurrent writers do not corrupt
// the queue.
func TestOfflineConcurrentEnqueue(t *testing.T) {
	e := openEngine(t, t.TempDir())
	defer e.store.Close()
	ctx := context.Background()

	const numGoroutines = 10
	const itemsPerGoroutine = 5

	var wg sync.WaitGroup
	errCh := make(chan error, numGoroutines*itemsPerGoroutine)

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for i := 0; i < itemsPerGoroutine; i++ {
				itemID := fmt.Sprintf("req-%d-%d", goroutineID, i)
				_, err := e.queue.Enqueue(ctx, itemID, "od_request", models.OperationCreate,
					map[string]interface{}{"n": i}, queue.PriorityUnset)
				if err != nil {
					errCh <- fmt.Errorf("goroutine %d item %d: %w", goroutineID, i, err)
				}
			}
		}(g)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent enqueue error: %v", err)
	}

	size, err := e.queue.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != numGoroutines*itemsPerGoroutine {
		t.Errorf("Expected %d items, got %d", numGoroutines*itemsPerGoroutine, size)
	}
	t.Logf("Successfully handled %d concurrent enqueues", size)
}

// TestOfflineEnqueuePerformance checks bulk offline queueing stays fast
// enough for batch UI actions.
func TestOfflineEnqueuePerformance(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping performance test in short mode")
	}

	e := openEngine(t, t.TempDir())
	defer e.store.Close()
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		itemID := fmt.Sprintf("req-%d", i)
		if _, err := e.queue.Enqueue(ctx, itemID, "od_request", models.OperationCreate,
			map[string]interface{}{"n": i}, queue.PriorityUnset); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	elapsed := time.Since(start)
	t.Logf("Enqueued 100 items in %v (avg %v per item)", elapsed, elapsed/100)

	if elapsed > 30*time.Second {
		t.Errorf("Bulk enqueue took %v, far beyond interactive expectations", elapsed)
	}
}
