// Package queue provides the pending-mutation queue for pokevault.
//
// The queue is an append-only log of user-initiated intents (create,
// update, delete) not yet confirmed by the remote catalog. Entries are
// drained in FIFO order by the sync orchestrator and removed only after
// the remote accepts them; a failed dispatch leaves the entry queued for
// the next cycle. The queue itself is the retry mechanism.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pokevault/pokevault/internal/schema"
	"github.com/pokevault/pokevault/internal/store"
)

// Queue manages pending mutations on top of the shared store handle.
type Queue struct {
	store *store.Store

	// now and newID are swappable for tests.
	now   func() time.Time
	newID func() string
}

// New creates a Queue over an opened store.
func New(st *store.Store) *Queue {
	return &Queue{
		store: st,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Prepare builds a fully-formed mutation (id and timestamp assigned,
// payload marshalled, validated) without persisting it. Callers that
// need the append to share a transaction with an entity write pass the
// result to store.PutWithMutation or store.DeleteWithMutation.
func (q *Queue) Prepare(entity string, typ schema.MutationType, payload any) (*schema.Mutation, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutation payload: %w", err)
	}

	m := &schema.Mutation{
		ID:        q.newID(),
		Entity:    entity,
		Type:      typ,
		Payload:   body,
		Timestamp: q.now().UnixMilli(),
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Enqueue assigns an id and timestamp, appends the mutation, and returns
// the stored record. Enqueue never silently fails: on error the mutation
// is not queued and the caller must treat its optimistic write as
// unsynced.
func (q *Queue) Enqueue(ctx context.Context, entity string, typ schema.MutationType, payload any) (*schema.Mutation, error) {
	m, err := q.Prepare(entity, typ, payload)
	if err != nil {
		return nil, err
	}

	if err := q.store.AppendMutation(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListPending returns all queued mutations in FIFO insertion order.
func (q *Queue) ListPending(ctx context.Context) ([]*schema.Mutation, error) {
	return q.store.ListMutations(ctx)
}

// Remove deletes a queue entry once the remote confirmed it.
func (q *Queue) Remove(ctx context.Context, mutationID string) error {
	return q.store.DeleteMutation(ctx, mutationID)
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) error {
	return q.store.ClearMutations(ctx)
}

// RecordFailure increments the attempt counter on a queue entry after a
// failed dispatch. The entry stays queued.
func (q *Queue) RecordFailure(ctx context.Context, mutationID string) error {
	return q.store.BumpMutationAttempts(ctx, mutationID)
}

// PendingDeleteIDs returns the entity ids with an in-flight delete
// mutation for the collection.
func (q *Queue) PendingDeleteIDs(ctx context.Context, collection string) (map[string]bool, error) {
	return q.store.PendingDeleteIDs(ctx, collection)
}

// SetClock overrides the timestamp source. Intended for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// SetIDSource overrides the id generator. Intended for tests.
func (q *Queue) SetIDSource(newID func() string) {
	q.newID = newID
}
