package conflict

import (
	"github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/logging"
	"github.com/odtrack/core/internal/models"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

const (
	ResolutionStrategyLastWriteWins ResolutionStrategy = "last_write_wins"
	ResolutionStrategyManual        ResolutionStrategy = "manual"
)

// ErrManualResolutionRequired is returned by Resolve under the manual
// strategy: the caller must pick a side itself.
var ErrManualResolutionRequired = errors.New(errors.ErrSyncConflict, "conflict requires manual resolution")

// Resolution is the outcome of resolving one conflict. The caller applies
// ChosenData, then calls Tracker.RemoveResolvedConflict.
type Resolution struct {
	ItemID     string                 `json:"item_id"`
	Winner     string                 `json:"winner"` // local or remote
	ChosenData map[string]interface{} `json:"chosen_data"`
	Strategy   ResolutionStrategy     `json:"strategy"`
}

// Resolver picks a winning side for a conflict. Nothing in the core invokes
// it automatically; resolution stays a caller decision.
type Resolver struct {
	strategy ResolutionStrategy
}

// NewResolver creates a Resolver with the given strategy.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	return &Resolver{strategy: strategy}
}

// Resolve decides the winning side of a conflict. Last-write-wins compares
// the local and server timestamps, local winning ties.
func (r *Resolver) Resolve(c *models.SyncConflict) (*Resolution, error) {
	if c == nil || c.ItemID == "" {
		return nil, errors.New(errors.ErrValidation, "conflict must carry an item id")
	}

	switch r.strategy {
	case ResolutionStrategyManual:
		return nil, ErrManualResolutionRequired
	case ResolutionStrategyLastWriteWins, "":
	default:
		return nil, errors.Newf(errors.ErrValidation, "unknown resolution strategy %q", r.strategy)
	}

	res := &Resolution{
		ItemID:   c.ItemID,
		Strategy: ResolutionStrategyLastWriteWins,
	}
	if c.LocalTimestamp >= c.ServerTimestamp {
		res.Winner = "local"
		res.ChosenData = c.LocalData
	} else {
		res.Winner = "remote"
		res.ChosenData = c.ServerData
	}

	logging.Info("Conflict resolved using last-write-wins", map[string]interface{}{
		"item_id":          c.ItemID,
		"winner":           res.Winner,
		"local_timestamp":  c.LocalTimestamp,
		"server_timestamp": c.ServerTimestamp,
	})
	return res, nil
}
