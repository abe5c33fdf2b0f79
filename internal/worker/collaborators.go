// Package worker provides the connectivity-reactive background driver that
// drains the sync queue through a remote collaborator.
package worker

import (
	"context"

	"github.com/odtrack/core/internal/models"
)

// ConnectivityMonitor reports whether the device is online. The core only
// distinguishes online from not online.
type ConnectivityMonitor interface {
	// CheckConnectivity returns the current online state.
	CheckConnectivity(ctx context.Context) (bool, error)

	// Changes streams online-state transitions. The channel is owned by the
	// monitor and stays open for its lifetime.
	Changes() <-chan bool
}

// ApplyOutcome is the remote side's answer to one queued mutation.
type ApplyOutcome struct {
	// Conflict is set when the remote state diverged after the mutation was
	// queued. ServerData/ServerTimestamp then carry the remote snapshot.
	Conflict        bool
	ServerData      map[string]interface{}
	ServerTimestamp int64
}

// RemoteSyncClient applies queued mutations server-side. A returned error
// means a transient failure and triggers the queue retry policy; conflicts
// are reported through the outcome, not the error.
type RemoteSyncClient interface {
	Apply(ctx context.Context, item *models.SyncItem) (*ApplyOutcome, error)
}
