// Package cache provides the category-aware TTL cache layered on the
// persistent store's cache collection.
package cache

import "time"

// Cache categories shared with the feature layers. A category groups keys
// under one default TTL policy.
const (
	CategoryUserProfile    = "user_profile"
	CategoryStaffDirectory = "staff_directory"
	CategoryTimetable      = "timetable"
	CategoryODRequests     = "od_requests"
	CategoryAnalytics      = "analytics"
	CategoryTemporary      = "temporary"
)

// categoryTTLs holds the default TTL per category. Slow-moving directory
// data lives long; request lists and analytics refresh often.
var categoryTTLs = map[string]time.Duration{
	CategoryUserProfile:    24 * time.Hour,
	CategoryStaffDirectory: 12 * time.Hour,
	CategoryTimetable:      6 * time.Hour,
	CategoryODRequests:     15 * time.Minute,
	CategoryAnalytics:      time.Hour,
	CategoryTemporary:      5 * time.Minute,
}

// slidingCategories use sliding expiration: a read with TTL extension pushes
// the expiry forward by the category TTL.
var slidingCategories = map[string]bool{
	CategoryUserProfile:    true,
	CategoryStaffDirectory: true,
	CategoryTimetable:      true,
}

// TTLFor resolves the effective TTL: the category default when known,
// otherwise the supplied fallback.
func TTLFor(category string, fallback time.Duration) time.Duration {
	if ttl, ok := categoryTTLs[category]; ok {
		return ttl
	}
	return fallback
}

// Sliding reports whether the category uses sliding expiration.
func Sliding(category string) bool {
	return slidingCategories[category]
}
