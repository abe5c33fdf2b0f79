// Package conflict provides bookkeeping and resolution strategies for
// detected local/remote data divergences.
package conflict

import (
	"context"
	"sort"

	apperrors "github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/logging"
	"github.com/odtrack/core/internal/models"
	"github.com/odtrack/core/internal/store"
)

// Tracker owns the conflicts collection. A conflict exists only while
// unresolved; at most one conflict is kept per item id, the latest detected
// divergence winning.
type Tracker struct {
	store *store.Store
}

// NewTracker creates a tracker over an initialized store.
func NewTracker(st *store.Store) *Tracker {
	return &Tracker{store: st}
}

// StoreConflict persists a detected conflict, replacing any earlier conflict
// recorded for the same item id.
func (t *Tracker) StoreConflict(ctx context.Context, c *models.SyncConflict) error {
	if c == nil || c.ItemID == "" {
		return apperrors.New(apperrors.ErrValidation, "conflict must carry an item id")
	}

	raw, err := c.Marshal()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to serialize conflict", err)
	}
	if err := t.store.Put(ctx, store.CollectionConflicts, c.ItemID, raw); err != nil {
		return err
	}

	logging.Info("Stored sync conflict", map[string]interface{}{
		"item_id":          c.ItemID,
		"item_type":        c.ItemType,
		"local_timestamp":  c.LocalTimestamp,
		"server_timestamp": c.ServerTimestamp,
	})
	return nil
}

// GetUnresolvedConflicts returns a snapshot of all stored conflicts, oldest
// detection first.
func (t *Tracker) GetUnresolvedConflicts(ctx context.Context) ([]*models.SyncConflict, error) {
	keys, err := t.store.Keys(ctx, store.CollectionConflicts)
	if err != nil {
		return nil, err
	}

	conflicts := make([]*models.SyncConflict, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := t.store.Get(ctx, store.CollectionConflicts, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		c, err := models.UnmarshalSyncConflict(raw)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "corrupt conflict record", err)
		}
		conflicts = append(conflicts, c)
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].DetectedAt < conflicts[j].DetectedAt
	})
	return conflicts, nil
}

// RemoveResolvedConflict drops the conflict for an item once a caller has
// applied its resolution.
func (t *Tracker) RemoveResolvedConflict(ctx context.Context, itemID string) error {
	if itemID == "" {
		return apperrors.New(apperrors.ErrValidation, "item id must not be empty")
	}
	return t.store.Delete(ctx, store.CollectionConflicts, itemID)
}

// ClearAllConflicts removes every stored conflict and returns the count.
func (t *Tracker) ClearAllConflicts(ctx context.Context) (int, error) {
	return t.store.Clear(ctx, store.CollectionConflicts)
}
