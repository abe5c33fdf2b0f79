package cache

import (
	"context"
	"time"

	"github.com/odtrack/core/internal/logging"
)

// Recommended maintenance actions derived from cache metrics.
const (
	ActionHealthy     = "healthy"
	ActionExpandTTL   = "expand_ttl"
	ActionEvictHarder = "evict_more_aggressively"
)

// PerformanceMetrics summarizes cache effectiveness for diagnostics.
type PerformanceMetrics struct {
	TotalItems        int     `json:"total_items"`
	ActiveItems       int     `json:"active_items"`
	ExpiredItems      int     `json:"expired_items"`
	Hits              int     `json:"hits"`
	Misses            int     `json:"misses"`
	HitRate           float64 `json:"hit_rate"`         // 0..1
	CacheEfficiency   float64 `json:"cache_efficiency"` // active / total
	TotalSizeBytes    int     `json:"total_size_bytes"`
	RecommendedAction string  `json:"recommended_action"`
}

// OptimizeResult reports what OptimizeCache reclaimed.
type OptimizeResult struct {
	ExpiredCleaned   int  `json:"expired_cleaned"`
	StorageOptimized bool `json:"storage_optimized"`
}

// GetCachePerformanceMetrics computes hit rate and expiry ratios plus a
// simple recommended action: a low hit rate suggests expiring too early,
// a large expired share suggests sweeping more aggressively.
func (m *Manager) GetCachePerformanceMetrics(ctx context.Context) (*PerformanceMetrics, error) {
	envs, err := m.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	metrics := &PerformanceMetrics{}
	for _, env := range envs {
		metrics.TotalItems++
		metrics.TotalSizeBytes += env.SizeBytes
		if env.Expired(now) {
			metrics.ExpiredItems++
		} else {
			metrics.ActiveItems++
		}
	}

	metrics.Hits, metrics.Misses = m.hitStats()
	if lookups := metrics.Hits + metrics.Misses; lookups > 0 {
		metrics.HitRate = float64(metrics.Hits) / float64(lookups)
	}
	if metrics.TotalItems > 0 {
		metrics.CacheEfficiency = float64(metrics.ActiveItems) / float64(metrics.TotalItems)
	}

	switch {
	case metrics.TotalItems > 0 && metrics.CacheEfficiency < 0.5:
		metrics.RecommendedAction = ActionEvictHarder
	case metrics.Hits+metrics.Misses >= 10 && metrics.HitRate < 0.5:
		metrics.RecommendedAction = ActionExpandTTL
	default:
		metrics.RecommendedAction = ActionHealthy
	}
	return metrics, nil
}

// GetCacheHealthScore returns a 0..100 composite: 50 points for the fraction
// of unexpired entries, 30 for the hit rate, 20 for access recency.
func (m *Manager) GetCacheHealthScore(ctx context.Context) (int, error) {
	envs, err := m.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(envs) == 0 {
		// An empty cache is neutral, not sick.
		return 100, nil
	}

	now := time.Now()
	fresh := 0
	recentlyAccessed := 0
	recencyWindow := now.Add(-24 * time.Hour).UnixMilli()
	for _, env := range envs {
		if !env.Expired(now) {
			fresh++
		}
		if env.LastAccessedAt >= recencyWindow {
			recentlyAccessed++
		}
	}

	freshScore := 50.0 * float64(fresh) / float64(len(envs))
	recencyScore := 20.0 * float64(recentlyAccessed) / float64(len(envs))

	hitScore := 30.0
	hits, misses := m.hitStats()
	if lookups := hits + misses; lookups > 0 {
		hitScore = 30.0 * float64(hits) / float64(lookups)
	}

	score := int(freshScore + hitScore + recencyScore)
	if score > 100 {
		score = 100
	}
	return score, nil
}

// OptimizeCache sweeps expired entries and compacts the underlying store.
func (m *Manager) OptimizeCache(ctx context.Context) (*OptimizeResult, error) {
	cleaned, err := m.CleanupExpiredCache(ctx)
	if err != nil {
		return nil, err
	}

	result := &OptimizeResult{ExpiredCleaned: cleaned}
	if err := m.store.Optimize(ctx); err != nil {
		logging.Warn("Store compaction failed", map[string]interface{}{"error": err.Error()})
		return result, nil
	}
	result.StorageOptimized = true
	return result, nil
}

// ScheduleMaintenance runs the cleanup and optimize passes. Idempotent and
// safe to call on a timer.
func (m *Manager) ScheduleMaintenance(ctx context.Context) error {
	result, err := m.OptimizeCache(ctx)
	if err != nil {
		return err
	}
	logging.Info("Cache maintenance finished", map[string]interface{}{
		"expired_cleaned":   result.ExpiredCleaned,
		"storage_optimized": result.StorageOptimized,
	})
	return nil
}
