package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pokevault/pokevault/internal/queue"
	"github.com/pokevault/pokevault/internal/remote"
	"github.com/pokevault/pokevault/internal/resolve"
	"github.com/pokevault/pokevault/internal/schema"
	"github.com/pokevault/pokevault/internal/store"
	"github.com/pokevault/pokevault/internal/syncer"
)

// acceptAllRemote serves an empty catalog and accepts every mutation
// dispatch. Enough for engine-level tests that only exercise the local
// half plus a smoke sync.
func acceptAllRemote() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			_, _ = w.Write([]byte(`{"ok":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
}

func setupTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	srv := httptest.NewServer(acceptAllRemote())
	t.Cleanup(srv.Close)

	logger := log.New(os.Stderr, "[test-engine] ", 0)
	client, err := remote.New(&remote.Config{BaseURL: srv.URL, Timeout: 2 * time.Second, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	q := queue.New(st)
	s := syncer.New(st, q, client, resolve.New(st, logger), &syncer.Config{Logger: logger})
	return New(st, q, s, client, &Config{Logger: logger}), st
}

func TestUpsertEntityCreate(t *testing.T) {
	eng, st := setupTestEngine(t)
	ctx := context.Background()

	eng.SetClock(func() time.Time { return time.UnixMilli(12345) })

	got, err := eng.UpsertEntity(ctx, &schema.Entity{
		ID:        "25",
		Name:      "pikachu",
		Notes:     "starter",
		UpdatedAt: 1, // caller's stamp is ignored
		IsSynced:  true,
	})
	if err != nil {
		t.Fatalf("UpsertEntity failed: %v", err)
	}
	if got.UpdatedAt != 12345 {
		t.Errorf("expected stamped UpdatedAt 12345, got %d", got.UpdatedAt)
	}
	if got.IsSynced {
		t.Error("fresh local write must not be marked synced")
	}

	stored, err := st.Get(ctx, "items", "25")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Name != "pikachu" || stored.Notes != "starter" {
		t.Errorf("unexpected stored entity: %+v", stored)
	}

	pending, err := eng.PendingMutations(ctx)
	if err != nil {
		t.Fatalf("PendingMutations failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued mutation, got %d", len(pending))
	}
	if pending[0].Type != schema.MutationCreate {
		t.Errorf("first write must queue a create, got %s", pending[0].Type)
	}
	id, err := pending[0].PayloadID()
	if err != nil || id != "25" {
		t.Errorf("expected payload id 25, got %q (%v)", id, err)
	}
}

func TestUpsertEntityUpdate(t *testing.T) {
	eng, _ := setupTestEngine(t)
	ctx := context.Background()

	if _, err := eng.UpsertEntity(ctx, &schema.Entity{ID: "25", Name: "pikachu"}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if _, err := eng.UpsertEntity(ctx, &schema.Entity{ID: "25", Name: "raichu"}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	pending, err := eng.PendingMutations(ctx)
	if err != nil {
		t.Fatalf("PendingMutations failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 queued mutations, got %d", len(pending))
	}
	if pending[0].Type != schema.MutationCreate || pending[1].Type != schema.MutationUpdate {
		t.Errorf("expected create then update, got %s then %s", pending[0].Type, pending[1].Type)
	}

	got, err := eng.GetEntity(ctx, "25")
	if err != nil || got.Name != "raichu" {
		t.Errorf("expected latest write visible, got %+v (%v)", got, err)
	}
}

func TestUpsertEntityInvalid(t *testing.T) {
	eng, st := setupTestEngine(t)
	ctx := context.Background()

	var verr *schema.ValidationError
	if _, err := eng.UpsertEntity(ctx, &schema.Entity{Name: "no-id"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	count, _ := st.MutationCount(ctx)
	if count != 0 {
		t.Errorf("invalid write must not queue anything, got %d", count)
	}
}

func TestDeleteEntity(t *testing.T) {
	eng, st := setupTestEngine(t)
	ctx := context.Background()

	if _, err := eng.UpsertEntity(ctx, &schema.Entity{ID: "25", Name: "pikachu"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := eng.DeleteEntity(ctx, "25"); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}

	if _, err := st.Get(ctx, "items", "25"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected entity gone, got %v", err)
	}

	pending, _ := eng.PendingMutations(ctx)
	if len(pending) != 2 || pending[1].Type != schema.MutationDelete {
		t.Fatalf("expected queued delete, got %+v", pending)
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(pending[1].Payload, &payload); err != nil || payload.ID != "25" {
		t.Errorf("expected delete payload with id 25, got %s", pending[1].Payload)
	}
}

func TestDeleteEntityMissing(t *testing.T) {
	eng, _ := setupTestEngine(t)

	if err := eng.DeleteEntity(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTriggerSyncDrainsQueue(t *testing.T) {
	eng, st := setupTestEngine(t)
	ctx := context.Background()

	if _, err := eng.UpsertEntity(ctx, &schema.Entity{ID: "25", Name: "pikachu"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	result, err := eng.TriggerSync(ctx)
	if err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}
	if len(result.Successful) != 1 {
		t.Errorf("expected 1 dispatched mutation, got %+v", result)
	}

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 0 || stats.Entities != 1 {
		t.Errorf("expected drained queue and 1 entity, got %+v", stats)
	}

	got, err := st.Get(ctx, "items", "25")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.IsSynced {
		t.Error("dispatched entity must be marked synced")
	}
}

func TestOnline(t *testing.T) {
	eng, _ := setupTestEngine(t)
	if !eng.Online(context.Background()) {
		t.Error("expected online against a live test server")
	}

	srv := httptest.NewServer(acceptAllRemote())
	logger := log.New(os.Stderr, "[test-engine] ", 0)
	client, err := remote.New(&remote.Config{BaseURL: srv.URL, Timeout: time.Second, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	srv.Close()

	offline := &Engine{client: client}
	if offline.Online(context.Background()) {
		t.Error("expected offline against a closed server")
	}
}

func TestSubscribePassthrough(t *testing.T) {
	eng, _ := setupTestEngine(t)
	ctx := context.Background()

	var events []syncer.Progress
	unsub := eng.Subscribe(func(p syncer.Progress) { events = append(events, p) })
	defer unsub()

	if _, err := eng.TriggerSync(ctx); err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Status != syncer.StatusCompleted {
		t.Errorf("expected completion event via engine subscription, got %+v", events)
	}
}
