package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pokevault/pokevault/internal/queue"
	"github.com/pokevault/pokevault/internal/remote"
	"github.com/pokevault/pokevault/internal/resolve"
	"github.com/pokevault/pokevault/internal/schema"
	"github.com/pokevault/pokevault/internal/store"
)

// Config holds configuration for the syncer.
type Config struct {
	// Collection is the local collection and mutation target name
	// (default: "items").
	Collection string

	// CatalogPath is the remote read path for snapshot pulls
	// (default: "/pokemon").
	CatalogPath string

	// PageLimit bounds how many records one cycle pulls (default: 150).
	PageLimit int

	// Logger for sync activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Collection:  "items",
		CatalogPath: "/pokemon",
		PageLimit:   150,
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// syncer implements the Syncer interface.
type syncer struct {
	store    *store.Store
	queue    *queue.Queue
	client   *remote.Client
	resolver *resolve.Resolver
	cfg      *Config
	logger   *log.Logger

	mu      sync.Mutex
	syncing bool

	obsMu     sync.Mutex
	observers map[int]func(Progress)
	nextObsID int

	now func() time.Time
}

// New creates a new Syncer instance.
//
// The store must be opened and have its schema initialized before
// passing to this function. If config is nil, DefaultConfig is used.
//
// Example:
//
//	st, err := store.Open(".pokevault/vault.db")
//	if err != nil {
//	    return err
//	}
//	if err := st.InitSchema(); err != nil {
//	    return err
//	}
//	s := syncer.New(st, queue.New(st), client, resolve.New(st, nil), nil)
func New(st *store.Store, q *queue.Queue, client *remote.Client, resolver *resolve.Resolver, cfg *Config) Syncer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Collection == "" {
		cfg.Collection = "items"
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "/pokemon"
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 150
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	return &syncer{
		store:     st,
		queue:     q,
		client:    client,
		resolver:  resolver,
		cfg:       cfg,
		logger:    cfg.Logger,
		observers: make(map[int]func(Progress)),
		now:       time.Now,
	}
}

// Sync implements Syncer.Sync.
func (s *syncer) Sync(ctx context.Context) (*Result, error) {
	if !s.begin() {
		return nil, ErrSyncInFlight
	}
	defer s.end()

	pending, err := s.queue.ListPending(ctx)
	if err != nil {
		s.fail(err)
		return nil, fmt.Errorf("failed to list pending mutations: %w", err)
	}

	s.notify(Progress{Status: StatusSyncing, Total: len(pending)})
	s.logger.Printf("Starting sync cycle: %d pending mutations", len(pending))

	result := &Result{Total: len(pending)}
	for i, m := range pending {
		if err := s.dispatch(ctx, m); err != nil {
			s.logger.Printf("Failed to sync mutation %s: %v", m.ID, err)
			result.Failed = append(result.Failed, FailedMutation{ID: m.ID, Error: err.Error()})
			if rerr := s.queue.RecordFailure(ctx, m.ID); rerr != nil {
				s.logger.Printf("Failed to record attempt for %s: %v", m.ID, rerr)
			}
		} else {
			if err := s.queue.Remove(ctx, m.ID); err != nil {
				s.fail(err)
				return nil, fmt.Errorf("failed to remove confirmed mutation %s: %w", m.ID, err)
			}
			result.Successful = append(result.Successful, m.ID)
		}

		s.notify(Progress{Status: StatusSyncing, Progress: i + 1, Total: len(pending)})
	}

	snapshot, nextCursor, err := s.pull(ctx)
	if err != nil {
		s.fail(err)
		return nil, fmt.Errorf("failed to pull remote snapshot: %w", err)
	}

	local, err := s.store.GetAll(ctx, s.cfg.Collection)
	if err != nil {
		s.fail(err)
		return nil, fmt.Errorf("failed to read local snapshot: %w", err)
	}

	pendingDelete, err := s.queue.PendingDeleteIDs(ctx, s.cfg.Collection)
	if err != nil {
		s.fail(err)
		return nil, fmt.Errorf("failed to read pending deletes: %w", err)
	}

	merged, err := s.resolver.Resolve(ctx, s.cfg.Collection, local, snapshot, pendingDelete)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	result.Merged = merged

	// Advance the pull cursor only once the merge landed.
	if err := s.store.SetSyncCursor(ctx, s.cfg.Collection, nextCursor); err != nil {
		s.logger.Printf("Warning: failed to persist sync cursor: %v", err)
	}

	s.notify(Progress{
		Status:     StatusCompleted,
		Total:      result.Total,
		Successful: len(result.Successful),
		Failed:     len(result.Failed),
	})
	s.logger.Printf("Sync cycle complete: applied=%d failed=%d merged=%d",
		len(result.Successful), len(result.Failed), len(merged))

	return result, nil
}

// DispatchAll implements Syncer.DispatchAll.
func (s *syncer) DispatchAll(ctx context.Context, mutations []*schema.Mutation) (*Result, error) {
	if !s.begin() {
		return nil, ErrSyncInFlight
	}
	defer s.end()

	s.notify(Progress{Status: StatusSyncing, Total: len(mutations)})

	result := &Result{Total: len(mutations)}
	for i, m := range mutations {
		if err := m.Validate(); err == nil {
			err = s.dispatch(ctx, m)
			if err == nil {
				result.Successful = append(result.Successful, m.ID)
			} else {
				result.Failed = append(result.Failed, FailedMutation{ID: m.ID, Error: err.Error()})
			}
		} else {
			result.Failed = append(result.Failed, FailedMutation{ID: m.ID, Error: err.Error()})
		}

		s.notify(Progress{Status: StatusSyncing, Progress: i + 1, Total: len(mutations)})
	}

	s.notify(Progress{
		Status:     StatusCompleted,
		Total:      result.Total,
		Successful: len(result.Successful),
		Failed:     len(result.Failed),
	})

	return result, nil
}

// dispatch sends one mutation to the remote catalog. The path is derived
// from the mutation's entity and, for update/delete, the payload id.
func (s *syncer) dispatch(ctx context.Context, m *schema.Mutation) error {
	switch m.Type {
	case schema.MutationCreate:
		if _, err := s.client.Post(ctx, "/api/"+m.Entity, m.Payload); err != nil {
			return err
		}
	case schema.MutationUpdate:
		id, err := m.PayloadID()
		if err != nil {
			return err
		}
		if _, err := s.client.Put(ctx, "/api/"+m.Entity+"/"+id, m.Payload); err != nil {
			return err
		}
	case schema.MutationDelete:
		id, err := m.PayloadID()
		if err != nil {
			return err
		}
		if _, err := s.client.Delete(ctx, "/api/"+m.Entity+"/"+id); err != nil {
			return err
		}
	default:
		return &schema.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown mutation type %q", m.Type)}
	}

	// The local copy now matches a confirmed remote copy.
	if m.Type != schema.MutationDelete {
		if id, err := m.PayloadID(); err == nil {
			if err := s.store.MarkSynced(ctx, m.Entity, id); err != nil {
				s.logger.Printf("Warning: failed to mark %s synced: %v", id, err)
			}
		}
	}
	return nil
}

// Subscribe implements Syncer.Subscribe.
func (s *syncer) Subscribe(fn func(Progress)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

// InFlight implements Syncer.InFlight.
func (s *syncer) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// begin takes the cycle flag. Returns false when a cycle is already
// running.
func (s *syncer) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing {
		return false
	}
	s.syncing = true
	return true
}

func (s *syncer) end() {
	s.mu.Lock()
	s.syncing = false
	s.mu.Unlock()
}

// fail notifies observers of a cycle-level error.
func (s *syncer) fail(err error) {
	s.notify(Progress{Status: StatusError, Error: err.Error()})
}

// notify delivers a progress event to all observers, synchronously and
// in subscription order, so event ordering matches emission order.
func (s *syncer) notify(p Progress) {
	s.obsMu.Lock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Progress), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}
