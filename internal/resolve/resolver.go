// Package resolve merges remote catalog snapshots into the local store.
//
// The conflict model is last-write-wins by timestamp and nothing else:
// no field-level merge, no manual conflict UI. A remote record overwrites
// the local copy iff its updatedAt is strictly greater; a tie keeps the
// local copy. Records present locally but absent from the snapshot are
// left untouched - deletions are only ever applied through explicit
// queued delete mutations, never inferred from absence.
package resolve

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/pokevault/pokevault/internal/schema"
	"github.com/pokevault/pokevault/internal/store"
)

// Resolver applies remote snapshots to the local store.
type Resolver struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a Resolver. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[resolve] ", log.LstdFlags)
	}
	return &Resolver{
		store:  st,
		logger: logger,
	}
}

// Resolve merges a remote snapshot into the local store.
//
// For each remote entity: a record with no local counterpart is a new
// addition; a record whose updatedAt is strictly greater than the local
// copy's overwrites it; everything else keeps the local copy. Remote
// records whose id has an in-flight delete mutation (pendingDelete) are
// skipped entirely so a deleted entity is not resurrected before its
// delete reaches the remote.
//
// All staged updates are written in a single atomic batch via BulkPut.
// Returns the entities actually written, in snapshot order. Resolving
// the same snapshot twice is a no-op and returns an empty list.
func (r *Resolver) Resolve(ctx context.Context, collection string, local, remote []*schema.Entity, pendingDelete map[string]bool) ([]*schema.Entity, error) {
	byID := make(map[string]*schema.Entity, len(local))
	for _, e := range local {
		byID[e.ID] = e
	}

	var updates []*schema.Entity
	for _, serverItem := range remote {
		if pendingDelete[serverItem.ID] {
			r.logger.Printf("Skipping %s: delete in flight", serverItem.ID)
			continue
		}

		current, ok := byID[serverItem.ID]
		if !ok {
			updates = append(updates, serverItem)
			continue
		}
		// Strictly greater: ties favor the local copy.
		if serverItem.UpdatedAt > current.UpdatedAt {
			updates = append(updates, serverItem)
		}
	}

	if len(updates) == 0 {
		return nil, nil
	}

	if err := r.store.BulkPut(ctx, collection, updates); err != nil {
		return nil, fmt.Errorf("failed to apply merged snapshot: %w", err)
	}

	r.logger.Printf("Merged %d of %d remote records into %s", len(updates), len(remote), collection)
	return updates, nil
}
