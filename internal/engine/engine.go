// Package engine ties the local store, mutation queue, remote client,
// and syncer together behind the operation surface the rest of the
// application (CLI commands, the sync bridge) programs against.
//
// Every write is optimistic: it lands in the local store and appends a
// queued mutation in the same transaction, so the caller never waits on
// the network and the two can never diverge.
package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/pokevault/pokevault/internal/queue"
	"github.com/pokevault/pokevault/internal/remote"
	"github.com/pokevault/pokevault/internal/schema"
	"github.com/pokevault/pokevault/internal/store"
	"github.com/pokevault/pokevault/internal/syncer"
)

// Config holds configuration for the engine.
type Config struct {
	// Collection is the local collection writes target (default: "items").
	Collection string

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// Engine is the application-facing facade over the offline-first core.
type Engine struct {
	store      *store.Store
	queue      *queue.Queue
	syncer     syncer.Syncer
	client     *remote.Client
	collection string
	logger     *log.Logger

	now func() time.Time
}

// New creates an Engine over an opened store and its collaborators.
//
// Example:
//
//	st, _ := store.Open(path)
//	q := queue.New(st)
//	s := syncer.New(st, q, client, resolve.New(st, nil), nil)
//	eng := engine.New(st, q, s, client, nil)
//	items, err := eng.ListEntities(ctx)
func New(st *store.Store, q *queue.Queue, s syncer.Syncer, client *remote.Client, cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Collection == "" {
		cfg.Collection = "items"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		store:      st,
		queue:      q,
		syncer:     s,
		client:     client,
		collection: cfg.Collection,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// ListEntities returns every entity in the collection, ordered by id.
func (e *Engine) ListEntities(ctx context.Context) ([]*schema.Entity, error) {
	return e.store.GetAll(ctx, e.collection)
}

// GetEntity returns one entity by id, or store.ErrNotFound.
func (e *Engine) GetEntity(ctx context.Context, id string) (*schema.Entity, error) {
	return e.store.Get(ctx, e.collection, id)
}

// UpsertEntity writes an entity locally and queues the matching
// create or update mutation, atomically. The entity's UpdatedAt is
// stamped with the current time and IsSynced is cleared; the caller's
// values for those fields are ignored.
//
// Whether the queued mutation is a create or an update is decided by
// whether the id already exists locally.
func (e *Engine) UpsertEntity(ctx context.Context, ent *schema.Entity) (*schema.Entity, error) {
	if ent == nil {
		return nil, &schema.ValidationError{Field: "entity", Reason: "must not be nil"}
	}

	stamped := ent.Clone()
	stamped.UpdatedAt = e.now().UnixMilli()
	stamped.IsSynced = false
	if err := stamped.Validate(); err != nil {
		return nil, err
	}

	typ := schema.MutationUpdate
	if _, err := e.store.Get(ctx, e.collection, stamped.ID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		typ = schema.MutationCreate
	}

	m, err := e.queue.Prepare(e.collection, typ, stamped)
	if err != nil {
		return nil, err
	}
	if err := e.store.PutWithMutation(ctx, e.collection, stamped, m); err != nil {
		return nil, err
	}

	e.logger.Printf("Queued %s for %s/%s", typ, e.collection, stamped.ID)
	return stamped, nil
}

// DeleteEntity removes an entity locally and queues the delete
// mutation, atomically. Returns store.ErrNotFound when the id does not
// exist locally.
func (e *Engine) DeleteEntity(ctx context.Context, id string) error {
	if _, err := e.store.Get(ctx, e.collection, id); err != nil {
		return err
	}

	m, err := e.queue.Prepare(e.collection, schema.MutationDelete, map[string]string{"id": id})
	if err != nil {
		return err
	}
	if err := e.store.DeleteWithMutation(ctx, e.collection, id, m); err != nil {
		return err
	}

	e.logger.Printf("Queued delete for %s/%s", e.collection, id)
	return nil
}

// PendingMutations returns the queued mutations in dispatch order.
func (e *Engine) PendingMutations(ctx context.Context) ([]*schema.Mutation, error) {
	return e.queue.ListPending(ctx)
}

// TriggerSync runs one full sync cycle. Returns syncer.ErrSyncInFlight
// when a cycle is already running.
func (e *Engine) TriggerSync(ctx context.Context) (*syncer.Result, error) {
	return e.syncer.Sync(ctx)
}

// PerformSync dispatches caller-supplied mutations without touching
// the local queue. This is the path for peers that drain their own
// queue and only need the network half.
func (e *Engine) PerformSync(ctx context.Context, mutations []*schema.Mutation) (*syncer.Result, error) {
	return e.syncer.DispatchAll(ctx, mutations)
}

// Online reports whether the remote catalog is reachable.
func (e *Engine) Online(ctx context.Context) bool {
	return e.client.Ping(ctx)
}

// SyncInFlight reports whether a sync cycle is currently running.
func (e *Engine) SyncInFlight() bool {
	return e.syncer.InFlight()
}

// Subscribe registers an observer for sync progress events. The
// returned function removes the observer.
func (e *Engine) Subscribe(fn func(syncer.Progress)) func() {
	return e.syncer.Subscribe(fn)
}

// Stats reports local bookkeeping counts for status displays.
type Stats struct {
	Entities int
	Pending  int
}

// Stats returns the current entity and pending-mutation counts.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	entities, err := e.store.EntityCount(ctx, e.collection)
	if err != nil {
		return nil, err
	}
	pending, err := e.store.MutationCount(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Entities: entities, Pending: pending}, nil
}

// SetClock overrides the timestamp source. For tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}
