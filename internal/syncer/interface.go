// Package syncer drives the end-to-end synchronization protocol between
// the local store and the remote catalog service.
package syncer

import (
	"context"
	"errors"

	"github.com/pokevault/pokevault/internal/schema"
)

// ErrSyncInFlight is returned by Sync when a cycle is already running.
// At most one sync cycle is active per process; a second start is
// rejected rather than run concurrently, so a queued mutation is never
// dispatched twice.
var ErrSyncInFlight = errors.New("sync already in progress")

// Syncer runs sync cycles against the remote catalog.
//
// A cycle has two phases. First the pending-mutation queue is drained in
// FIFO order: each entry is dispatched to the remote and removed on
// success; a failed entry stays queued for the next cycle and never
// aborts the batch. Then the authoritative remote snapshot is pulled and
// merged into the local store by the conflict resolver.
//
// Per-mutation failures are recoverable: the cycle still completes and
// reports them in the result. Only a failure of the drain/pull machinery
// itself (e.g. total network loss during the pull) ends the cycle in an
// error.
type Syncer interface {
	// Sync runs one full cycle: drain, pull, merge.
	//
	// Returns ErrSyncInFlight when a cycle is already running. Returns
	// a non-nil Result when the cycle completed, even if individual
	// mutations failed; the Result lists successful and failed entries.
	//
	// Example:
	//   result, err := s.Sync(ctx)
	Sync(ctx context.Context) (*Result, error)

	// DispatchAll dispatches externally supplied mutations without
	// touching the local queue. This is the request/response surface
	// for the cross-process bridge, whose caller owns its own queue.
	//
	// The same at-most-one-cycle guard applies.
	DispatchAll(ctx context.Context, mutations []*schema.Mutation) (*Result, error)

	// Subscribe registers an observer for progress events. Observers
	// are notified at each phase boundary: start, per-item progress
	// during the drain, completion with counts, or error. The returned
	// function unsubscribes.
	//
	// Observation is not required for correctness, only for a progress
	// UI.
	Subscribe(fn func(Progress)) (unsubscribe func())

	// InFlight reports whether a cycle is currently running.
	InFlight() bool
}
