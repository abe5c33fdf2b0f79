package cache

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/odtrack/core/internal/errors"
)

// Typed wrappers over CacheData/GetCachedData. They exist to pin the key
// scheme ("{type}_{id}") and category tagging in one place so feature code
// and the preload markers address the same entries.

// Key builds the shared cache key for a typed entry.
func Key(category, id string) string {
	return fmt.Sprintf("%s_%s", category, id)
}

func (m *Manager) cacheTyped(ctx context.Context, category, id string, data map[string]interface{}) error {
	if id == "" {
		return apperrors.New(apperrors.ErrValidation, "id must not be empty")
	}
	return m.CacheData(ctx, Key(category, id), data, Options{Category: category})
}

func (m *Manager) getTyped(ctx context.Context, category, id string) (map[string]interface{}, bool, error) {
	raw, ok, err := m.GetCachedData(ctx, Key(category, id), Sliding(category))
	if err != nil || !ok {
		return nil, false, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage, "corrupt cached payload", err)
	}
	return data, true, nil
}

// CacheODRequest caches one on-duty request snapshot.
func (m *Manager) CacheODRequest(ctx context.Context, requestID string, data map[string]interface{}) error {
	return m.cacheTyped(ctx, CategoryODRequests, requestID, data)
}

// GetCachedODRequest returns a cached on-duty request.
func (m *Manager) GetCachedODRequest(ctx context.Context, requestID string) (map[string]interface{}, bool, error) {
	return m.getTyped(ctx, CategoryODRequests, requestID)
}

// CacheUserProfile caches a user profile snapshot.
func (m *Manager) CacheUserProfile(ctx context.Context, userID string, data map[string]interface{}) error {
	return m.cacheTyped(ctx, CategoryUserProfile, userID, data)
}

// GetCachedUserProfile returns a cached user profile.
func (m *Manager) GetCachedUserProfile(ctx context.Context, userID string) (map[string]interface{}, bool, error) {
	return m.getTyped(ctx, CategoryUserProfile, userID)
}

// CacheStaffDirectory caches the staff directory snapshot. Use "all" as the
// id for the full directory.
func (m *Manager) CacheStaffDirectory(ctx context.Context, id string, data map[string]interface{}) error {
	return m.cacheTyped(ctx, CategoryStaffDirectory, id, data)
}

// GetCachedStaffDirectory returns a cached staff directory snapshot.
func (m *Manager) GetCachedStaffDirectory(ctx context.Context, id string) (map[string]interface{}, bool, error) {
	return m.getTyped(ctx, CategoryStaffDirectory, id)
}

// CacheTimetable caches a user's timetable.
func (m *Manager) CacheTimetable(ctx context.Context, userID string, data map[string]interface{}) error {
	return m.cacheTyped(ctx, CategoryTimetable, userID, data)
}

// GetCachedTimetable returns a cached timetable.
func (m *Manager) GetCachedTimetable(ctx context.Context, userID string) (map[string]interface{}, bool, error) {
	return m.getTyped(ctx, CategoryTimetable, userID)
}

// CacheAnalytics caches an analytics snapshot under a report id.
func (m *Manager) CacheAnalytics(ctx context.Context, reportID string, data map[string]interface{}) error {
	return m.cacheTyped(ctx, CategoryAnalytics, reportID, data)
}

// GetCachedAnalytics returns a cached analytics snapshot.
func (m *Manager) GetCachedAnalytics(ctx context.Context, reportID string) (map[string]interface{}, bool, error) {
	return m.getTyped(ctx, CategoryAnalytics, reportID)
}
