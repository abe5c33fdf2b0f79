package cache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/odtrack/core/internal/config"
	apperrors "github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/store"
)

func newTestCache(t *testing.T) *Manager {
	t.Helper()
	st := store.New(t.TempDir())
	if err := st.Initialize(context.Background()); err != nil {
		t.Fatalf("store Initialize failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewManager(st, config.CacheConfig{FallbackTTL: 30 * time.Minute})
}

func TestCacheRoundTrip(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	value := map[string]interface{}{"name": "Grace", "department": "CSE"}
	if err := m.CacheData(ctx, "user_profile_u1", value, Options{Category: CategoryUserProfile}); err != nil {
		t.Fatalf("CacheData failed: %v", err)
	}

	raw, ok, err := m.GetCachedData(ctx, "user_profile_u1", false)
	if err != nil {
		t.Fatalf("GetCachedData failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected cache hit")
	}

	var got map[string]interface{}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got["name"] != "Grace" {
		t.Errorf("Expected name Grace, got %v", got["name"])
	}
}

func TestCacheDataValidation(t *testing.T) {
	m := newTestCache(t)
	err := m.CacheData(context.Background(), "", "x", Options{})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got %v", err)
	}
}

func TestCacheMiss(t *testing.T) {
	m := newTestCache(t)
	_, ok, err := m.GetCachedData(context.Background(), "absent", false)
	if err != nil {
		t.Fatalf("GetCachedData failed: %v", err)
	}
	if ok {
		t.Error("Expected miss for absent key")
	}
}

// TestExpiry verifies an expired entry reads as a miss and gets reclaimed.
func TestExpiry(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	if err := m.CacheData(ctx, "temp_1", "data", Options{TTL: time.Millisecond}); err != nil {
		t.Fatalf("CacheData failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	_, ok, err := m.GetCachedData(ctx, "temp_1", false)
	if err != nil {
		t.Fatalf("GetCachedData failed: %v", err)
	}
	if ok {
		t.Error("Expected expired entry to miss")
	}

	cached, err := m.IsCached(ctx, "temp_1")
	if err != nil {
		t.Fatalf("IsCached failed: %v", err)
	}
	if cached {
		t.Error("Expected expired entry to be uncached")
	}
}

func TestNeverExpire(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	if err := m.CacheData(ctx, "pinned", "data", Options{TTL: NeverExpire}); err != nil {
		t.Fatalf("CacheData failed: %v", err)
	}

	env, ok, err := m.GetEnvelope(ctx, "pinned")
	if err != nil || !ok {
		t.Fatalf("GetEnvelope failed: ok=%v err=%v", ok, err)
	}
	if env.ExpiresAt != 0 {
		t.Errorf("Expected no expiry, got %d", env.ExpiresAt)
	}
}

// TestSlidingExpiration verifies a TTL-extending read pushes the expiry
// forward for sliding categories and leaves fixed ones alone.
func TestSlidingExpiration(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	m.CacheData(ctx, "user_profile_u1", "x", Options{Category: CategoryUserProfile})
	m.CacheData(ctx, "od_requests_r1", "y", Options{Category: CategoryODRequests})

	before, _, _ := m.GetEnvelope(ctx, "user_profile_u1")
	fixedBefore, _, _ := m.GetEnvelope(ctx, "od_requests_r1")

	time.Sleep(5 * time.Millisecond)
	if _, _, err := m.GetCachedData(ctx, "user_profile_u1", true); err != nil {
		t.Fatalf("GetCachedData failed: %v", err)
	}
	if _, _, err := m.GetCachedData(ctx, "od_requests_r1", true); err != nil {
		t.Fatalf("GetCachedData failed: %v", err)
	}

	after, _, _ := m.GetEnvelope(ctx, "user_profile_u1")
	if after.ExpiresAt <= before.ExpiresAt {
		t.Error("Sliding category expiry should move forward on access")
	}
	if after.AccessCount != 1 {
		t.Errorf("Expected access count 1, got %d", after.AccessCount)
	}
	if after.LastAccessedAt < before.LastAccessedAt {
		t.Error("LastAccessedAt should not move backward")
	}

	fixedAfter, _, _ := m.GetEnvelope(ctx, "od_requests_r1")
	if fixedAfter.ExpiresAt != fixedBefore.ExpiresAt {
		t.Error("Fixed-TTL category expiry must not move on access")
	}
	if fixedAfter.AccessCount != 1 {
		t.Errorf("Access bookkeeping applies to fixed categories too, got %d", fixedAfter.AccessCount)
	}
}

func TestRemoveCacheItem(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	m.CacheData(ctx, "k", "v", Options{})
	if err := m.RemoveCacheItem(ctx, "k"); err != nil {
		t.Fatalf("RemoveCacheItem failed: %v", err)
	}
	cached, _ := m.IsCached(ctx, "k")
	if cached {
		t.Error("Expected item to be removed")
	}
}

func TestClearCacheByCategory(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	m.CacheData(ctx, "timetable_u1", "a", Options{Category: CategoryTimetable})
	m.CacheData(ctx, "timetable_u2", "b", Options{Category: CategoryTimetable})
	m.CacheData(ctx, "user_profile_u1", "c", Options{Category: CategoryUserProfile})

	removed, err := m.ClearCacheByCategory(ctx, CategoryTimetable)
	if err != nil {
		t.Fatalf("ClearCacheByCategory failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	cached, _ := m.IsCached(ctx, "user_profile_u1")
	if !cached {
		t.Error("Other categories must survive")
	}
}

func TestCleanupExpiredCache(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	m.CacheData(ctx, "short", "a", Options{TTL: time.Millisecond})
	m.CacheData(ctx, "long", "b", Options{TTL: time.Hour})
	time.Sleep(20 * time.Millisecond)

	removed, err := m.CleanupExpiredCache(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredCache failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
	cached, _ := m.IsCached(ctx, "long")
	if !cached {
		t.Error("Unexpired entry must survive the sweep")
	}
}

func TestGetCacheItemsByCategory(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	m.CacheData(ctx, "analytics_r1", "a", Options{Category: CategoryAnalytics})
	m.CacheData(ctx, "analytics_r2", "b", Options{Category: CategoryAnalytics})

	byCategory, err := m.GetCacheItemsByCategory(ctx)
	if err != nil {
		t.Fatalf("GetCacheItemsByCategory failed: %v", err)
	}
	if len(byCategory[CategoryAnalytics]) != 2 {
		t.Errorf("Expected 2 analytics keys, got %d", len(byCategory[CategoryAnalytics]))
	}
}

// TestPreloadCriticalData verifies markers appear for uncached critical keys
// and that cached ones are left alone.
func TestPreloadCriticalData(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	// One critical key is already cached.
	m.CacheData(ctx, "user_profile_u1", "x", Options{Category: CategoryUserProfile})

	if err := m.PreloadCriticalData(ctx, "u1"); err != nil {
		t.Fatalf("PreloadCriticalData failed: %v", err)
	}

	// No marker for the cached key.
	cached, _ := m.IsCached(ctx, "preload_marker_user_profile_u1")
	if cached {
		t.Error("Cached critical key must not get a marker")
	}
	// Markers for the missing ones.
	for _, key := range []string{"preload_marker_timetable_u1", "preload_marker_staff_directory_all"} {
		cached, _ := m.IsCached(ctx, key)
		if !cached {
			t.Errorf("Expected marker %s", key)
		}
	}

	// Markers are temporary-category entries carrying the marker metadata.
	env, ok, _ := m.GetEnvelope(ctx, "preload_marker_timetable_u1")
	if !ok {
		t.Fatal("Marker envelope missing")
	}
	if env.Category != CategoryTemporary {
		t.Errorf("Expected temporary category, got %s", env.Category)
	}
	if !strings.Contains(string(env.Value), "preload_pending") {
		t.Errorf("Marker should carry pending status, got %s", env.Value)
	}
}

func TestPreloadValidation(t *testing.T) {
	m := newTestCache(t)
	if err := m.PreloadCriticalData(context.Background(), ""); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got %v", err)
	}
}

func TestWarmUpCache(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	if err := m.WarmUpCache(ctx, []string{"od_requests_recent"}); err != nil {
		t.Fatalf("WarmUpCache failed: %v", err)
	}
	cached, _ := m.IsCached(ctx, "warmup_marker_od_requests_recent")
	if !cached {
		t.Error("Expected warm-up marker")
	}

	if err := m.WarmUpCache(ctx, nil); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR for empty key set, got %v", err)
	}
}

func TestPerformanceMetrics(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	m.CacheData(ctx, "a", "x", Options{TTL: time.Hour})
	m.CacheData(ctx, "b", "y", Options{TTL: time.Millisecond})
	time.Sleep(20 * time.Millisecond)

	m.GetCachedData(ctx, "a", false)      // hit
	m.GetCachedData(ctx, "absent", false) // miss

	metrics, err := m.GetCachePerformanceMetrics(ctx)
	if err != nil {
		t.Fatalf("GetCachePerformanceMetrics failed: %v", err)
	}
	if metrics.TotalItems != 2 {
		t.Errorf("Expected 2 items, got %d", metrics.TotalItems)
	}
	if metrics.ExpiredItems != 1 || metrics.ActiveItems != 1 {
		t.Errorf("Expected 1 expired / 1 active, got %d / %d", metrics.ExpiredItems, metrics.ActiveItems)
	}
	if metrics.Hits != 1 || metrics.Misses != 1 {
		t.Errorf("Expected 1 hit / 1 miss, got %d / %d", metrics.Hits, metrics.Misses)
	}
	if metrics.HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %v", metrics.HitRate)
	}
	if metrics.CacheEfficiency != 0.5 {
		t.Errorf("Expected efficiency 0.5, got %v", metrics.CacheEfficiency)
	}
	if metrics.RecommendedAction != ActionHealthy {
		t.Errorf("Expected healthy verdict, got %s", metrics.RecommendedAction)
	}
	if metrics.TotalSizeBytes <= 0 {
		t.Error("Expected positive total size")
	}
}

func TestRecommendedActionEvictHarder(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	m.CacheData(ctx, "a", "x", Options{TTL: time.Millisecond})
	m.CacheData(ctx, "b", "y", Options{TTL: time.Millisecond})
	time.Sleep(20 * time.Millisecond)

	metrics, err := m.GetCachePerformanceMetrics(ctx)
	if err != nil {
		t.Fatalf("GetCachePerformanceMetrics failed: %v", err)
	}
	if metrics.RecommendedAction != ActionEvictHarder {
		t.Errorf("Expected evict verdict on all-expired cache, got %s", metrics.RecommendedAction)
	}
}

func TestHealthScore(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	score, err := m.GetCacheHealthScore(ctx)
	if err != nil {
		t.Fatalf("GetCacheHealthScore failed: %v", err)
	}
	if score != 100 {
		t.Errorf("Empty cache should score 100, got %d", score)
	}

	// One fresh, recently written entry with no lookups keeps a full score.
	m.CacheData(ctx, "a", "x", Options{TTL: time.Hour})
	score, _ = m.GetCacheHealthScore(ctx)
	if score != 100 {
		t.Errorf("Fresh cache should score 100, got %d", score)
	}

	// Expired entries drag the score down.
	m.CacheData(ctx, "b", "y", Options{TTL: time.Millisecond})
	time.Sleep(20 * time.Millisecond)
	score, _ = m.GetCacheHealthScore(ctx)
	if score >= 100 {
		t.Errorf("Expected degraded score with expired entries, got %d", score)
	}
}

func TestOptimizeCache(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	m.CacheData(ctx, "stale", "x", Options{TTL: time.Millisecond})
	time.Sleep(20 * time.Millisecond)

	result, err := m.OptimizeCache(ctx)
	if err != nil {
		t.Fatalf("OptimizeCache failed: %v", err)
	}
	if result.ExpiredCleaned != 1 {
		t.Errorf("Expected 1 cleaned, got %d", result.ExpiredCleaned)
	}
	if !result.StorageOptimized {
		t.Error("Expected storage optimization to run")
	}

	if err := m.ScheduleMaintenance(ctx); err != nil {
		t.Errorf("ScheduleMaintenance failed: %v", err)
	}
}

func TestResetMetrics(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	m.GetCachedData(ctx, "absent", false)
	m.ResetMetrics()

	metrics, _ := m.GetCachePerformanceMetrics(ctx)
	if metrics.Hits != 0 || metrics.Misses != 0 {
		t.Errorf("Expected zeroed counters, got %d / %d", metrics.Hits, metrics.Misses)
	}
}

func TestTypedHelpers(t *testing.T) {
	m := newTestCache(t)
	ctx := context.Background()

	data := map[string]interface{}{"status": "pending", "reason": "hackathon"}
	if err := m.CacheODRequest(ctx, "r1", data); err != nil {
		t.Fatalf("CacheODRequest failed: %v", err)
	}

	got, ok, err := m.GetCachedODRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("GetCachedODRequest failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected hit")
	}
	if got["status"] != "pending" {
		t.Errorf("Expected status pending, got %v", got["status"])
	}

	// Typed keys follow the category_id scheme.
	if key := Key(CategoryODRequests, "r1"); key != "od_requests_r1" {
		t.Errorf("Unexpected key %s", key)
	}
	env, ok, _ := m.GetEnvelope(ctx, "od_requests_r1")
	if !ok {
		t.Fatal("Expected envelope under composed key")
	}
	if env.Category != CategoryODRequests {
		t.Errorf("Expected od_requests category, got %s", env.Category)
	}

	if err := m.CacheUserProfile(ctx, "u1", map[string]interface{}{"name": "Ada"}); err != nil {
		t.Fatalf("CacheUserProfile failed: %v", err)
	}
	profile, ok, _ := m.GetCachedUserProfile(ctx, "u1")
	if !ok || profile["name"] != "Ada" {
		t.Errorf("Expected profile hit with name Ada, got ok=%v %v", ok, profile)
	}
}
