package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/odtrack/core/internal/config"
	apperrors "github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/logging"
	"github.com/odtrack/core/internal/models"
	"github.com/odtrack/core/internal/store"
)

// NeverExpire as a custom TTL makes an entry permanent.
const NeverExpire = time.Duration(-1)

// Manager owns the cache collection. Reads racing a sweep of the same key
// see either the old envelope or a clean miss; per-key writes in the store
// are atomic.
type Manager struct {
	store *store.Store
	cfg   config.CacheConfig

	// Hit/miss counters since process start.
	mu     sync.Mutex
	hits   int
	misses int
}

// Options qualifies a cache write.
type Options struct {
	Category string
	TTL      time.Duration // 0 = category default, NeverExpire = no expiry
	ETag     string
	Metadata map[string]interface{}
}

// NewManager creates a cache manager over an initialized store.
func NewManager(st *store.Store, cfg config.CacheConfig) *Manager {
	return &Manager{store: st, cfg: cfg}
}

// CacheData writes value under key together with its metadata envelope.
// The effective TTL is the custom TTL when given, else the category default,
// else the configured fallback.
func (m *Manager) CacheData(ctx context.Context, key string, value interface{}, opts Options) error {
	if key == "" {
		return apperrors.New(apperrors.ErrValidation, "cache key must not be empty")
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to serialize cache value", err)
	}

	now := time.Now()
	env := &models.CacheEnvelope{
		Key:            key,
		Value:          raw,
		Category:       opts.Category,
		CreatedAt:      now.UnixMilli(),
		LastAccessedAt: now.UnixMilli(),
		SizeBytes:      len(raw),
		ETag:           opts.ETag,
		Metadata:       opts.Metadata,
	}

	switch {
	case opts.TTL == NeverExpire:
		env.ExpiresAt = 0
	case opts.TTL > 0:
		env.ExpiresAt = now.Add(opts.TTL).UnixMilli()
	default:
		env.ExpiresAt = now.Add(TTLFor(opts.Category, m.cfg.FallbackTTL)).UnixMilli()
	}

	return m.save(ctx, env)
}

// GetCachedData returns the cached value for key, or absent on a miss.
// Expired entries count as misses and are reclaimed opportunistically.
// With extendTTL the access is recorded, and sliding-expiration categories
// get their expiry pushed forward by the category TTL.
func (m *Manager) GetCachedData(ctx context.Context, key string, extendTTL bool) (json.RawMessage, bool, error) {
	env, ok, err := m.load(ctx, key)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	if !ok {
		m.recordMiss()
		return nil, false, nil
	}
	if env.Expired(now) {
		m.recordMiss()
		// Reclaim in passing; a concurrent reader sees a clean miss.
		if err := m.store.Delete(ctx, store.CollectionCache, key); err != nil {
			logging.Warn("Failed to reclaim expired cache entry",
				map[string]interface{}{"key": key, "error": err.Error()})
		}
		return nil, false, nil
	}

	m.recordHit()

	if extendTTL {
		env.Touch(now)
		if Sliding(env.Category) {
			env.ExpiresAt = now.Add(TTLFor(env.Category, m.cfg.FallbackTTL)).UnixMilli()
		}
		if err := m.save(ctx, env); err != nil {
			return nil, false, err
		}
	}

	return env.Value, true, nil
}

// GetEnvelope returns the full envelope without touching access metadata or
// hit/miss counters. Expired entries read as absent.
func (m *Manager) GetEnvelope(ctx context.Context, key string) (*models.CacheEnvelope, bool, error) {
	env, ok, err := m.load(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if env.Expired(time.Now()) {
		return nil, false, nil
	}
	return env, true, nil
}

// IsCached reports whether key is present and unexpired.
func (m *Manager) IsCached(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.GetEnvelope(ctx, key)
	return ok, err
}

// RemoveCacheItem deletes one entry.
func (m *Manager) RemoveCacheItem(ctx context.Context, key string) error {
	return m.store.Delete(ctx, store.CollectionCache, key)
}

// ClearCacheByCategory removes every entry tagged with the category and
// returns the removed count.
func (m *Manager) ClearCacheByCategory(ctx context.Context, category string) (int, error) {
	envs, err := m.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, env := range envs {
		if env.Category != category {
			continue
		}
		if err := m.store.Delete(ctx, store.CollectionCache, env.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// CleanupExpiredCache sweeps the whole collection and removes expired
// entries. Safe to call concurrently with reads and writes.
func (m *Manager) CleanupExpiredCache(ctx context.Context) (int, error) {
	envs, err := m.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0
	for _, env := range envs {
		if !env.Expired(now) {
			continue
		}
		if err := m.store.Delete(ctx, store.CollectionCache, env.Key); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		logging.Debug("Expired cache sweep finished", map[string]interface{}{"removed": removed})
	}
	return removed, nil
}

// GetCacheItemsByCategory maps each category to its keys, for diagnostics.
func (m *Manager) GetCacheItemsByCategory(ctx context.Context) (map[string][]string, error) {
	envs, err := m.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string][]string)
	for _, env := range envs {
		byCategory[env.Category] = append(byCategory[env.Category], env.Key)
	}
	return byCategory, nil
}

// criticalKeys are the entries a signed-in user needs for the app to be
// useful offline.
func criticalKeys(userID string) []string {
	return []string{
		fmt.Sprintf("%s_%s", CategoryUserProfile, userID),
		fmt.Sprintf("%s_%s", CategoryTimetable, userID),
		fmt.Sprintf("%s_all", CategoryStaffDirectory),
	}
}

// PreloadCriticalData writes preload-marker entries for critical keys that
// are not cached yet, so a background fetcher knows what to populate.
// Already cached keys are left alone.
func (m *Manager) PreloadCriticalData(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.New(apperrors.ErrValidation, "user id must not be empty")
	}
	return m.writeMarkers(ctx, "preload", criticalKeys(userID))
}

// WarmUpCache writes warm-up markers for a caller-predicted key set.
func (m *Manager) WarmUpCache(ctx context.Context, predictedKeys []string) error {
	if len(predictedKeys) == 0 {
		return apperrors.New(apperrors.ErrValidation, "predicted key set must not be empty")
	}
	return m.writeMarkers(ctx, "warmup", predictedKeys)
}

// writeMarkers records fetch intent for each target key not already cached.
func (m *Manager) writeMarkers(ctx context.Context, kind string, targets []string) error {
	now := time.Now()
	for _, target := range targets {
		cached, err := m.IsCached(ctx, target)
		if err != nil {
			return err
		}
		if cached {
			continue
		}

		marker := map[string]interface{}{
			"target_key":   target,
			"requested_at": now.UnixMilli(),
			"status":       kind + "_pending",
		}
		markerKey := fmt.Sprintf("%s_marker_%s", kind, target)
		if err := m.CacheData(ctx, markerKey, marker, Options{
			Category: CategoryTemporary,
			Metadata: map[string]interface{}{"marker": kind},
		}); err != nil {
			return err
		}
	}
	return nil
}

// save persists an envelope.
func (m *Manager) save(ctx context.Context, env *models.CacheEnvelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to serialize cache envelope", err)
	}
	return m.store.Put(ctx, store.CollectionCache, env.Key, raw)
}

// load reads one envelope, absent-aware.
func (m *Manager) load(ctx context.Context, key string) (*models.CacheEnvelope, bool, error) {
	raw, ok, err := m.store.Get(ctx, store.CollectionCache, key)
	if err != nil || !ok {
		return nil, false, err
	}
	env, err := models.UnmarshalCacheEnvelope(raw)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage, "corrupt cache envelope", err)
	}
	return env, true, nil
}

// loadAll snapshots every envelope in the cache collection.
func (m *Manager) loadAll(ctx context.Context) ([]*models.CacheEnvelope, error) {
	keys, err := m.store.Keys(ctx, store.CollectionCache)
	if err != nil {
		return nil, err
	}

	envs := make([]*models.CacheEnvelope, 0, len(keys))
	for _, key := range keys {
		env, ok, err := m.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			envs = append(envs, env)
		}
	}
	return envs, nil
}

func (m *Manager) recordHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *Manager) recordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

// hitStats returns hits, misses since last reset.
func (m *Manager) hitStats() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

// ResetMetrics zeroes the hit/miss counters.
func (m *Manager) ResetMetrics() {
	m.mu.Lock()
	m.hits = 0
	m.misses = 0
	m.mu.Unlock()
}
