package main

import (
	"encoding/json"
	"net/http"

	"github.com/odtrack/core/internal/cache"
	"github.com/odtrack/core/internal/conflict"
	"github.com/odtrack/core/internal/logging"
	"github.com/odtrack/core/internal/ops"
	"github.com/odtrack/core/internal/queue"
	"github.com/odtrack/core/internal/store"
	"github.com/odtrack/core/internal/worker"
)

// server bundles the core components behind the diagnostic endpoints.
type server struct {
	store      *store.Store
	queue      *queue.Manager
	cache      *cache.Manager
	conflicts  *conflict.Tracker
	operations *ops.Queue
	worker     *worker.Worker
	hub        *wsHub
}

func registerHandlers(mux *http.ServeMux, s *server) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/queue/failed", s.handleFailedItems)
	mux.HandleFunc("/api/queue/retry", s.handleRetryFailed)
	mux.HandleFunc("/api/conflicts", s.handleConflicts)
	mux.HandleFunc("/api/sync/now", s.handleSyncNow)
	mux.HandleFunc("/ws", s.hub.serveWS)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "odsyncd"})
}

// handleStatus aggregates worker, queue, cache and ledger diagnostics into
// one snapshot for admin screens.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	health, err := s.queue.QueueHealth(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics, err := s.cache.GetCachePerformanceMetrics(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	score, err := s.cache.GetCacheHealthScore(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	storeStats, err := s.store.Stats(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	opStats, err := s.operations.GetStatistics(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"worker":             s.worker.GetStatistics(),
		"queue_health":       health,
		"cache_metrics":      metrics,
		"cache_health_score": score,
		"store":              storeStats,
		"pending_operations": opStats,
	})
}

func (s *server) handleFailedItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items, err := s.queue.GetFailedItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"failed_items": items})
}

// handleRetryFailed implements the manual "retry all" action.
func (s *server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reset, err := s.queue.ResetFailedItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": reset})
}

func (s *server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conflicts, err := s.conflicts.GetUnresolvedConflicts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": conflicts})
}

func (s *server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.worker.ForceSync(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, err error) {
	logging.Error("Request failed", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
