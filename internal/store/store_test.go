package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/pokevault/pokevault/internal/schema"
)

// setupTestStore creates a temporary store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return st
}


func testMutation(id, entity, typ, payload string) *schema.Mutation {
	return &schema.Mutation{
		ID:        id,
		Entity:    entity,
		Type:      schema.MutationType(typ),
		Payload:   json.RawMessage(payload),
		Timestamp: 1700000000000,
	}
}

func testEntity(id string, updatedAt int64) *schema.Entity {
	return &schema.Entity{ID: id, Name: "pokemon-" + id, Notes: "", UpdatedAt: updatedAt}
}

func TestPutAndGet(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	e := testEntity("25", 100)
	e.Attrs = json.RawMessage(`{"height":4,"weight":60}`)

	if err := st.Put(ctx, "items", e); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := st.Get(ctx, "items", "25")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "pokemon-25" || got.UpdatedAt != 100 {
		t.Errorf("unexpected entity: %+v", got)
	}
	if string(got.Attrs) != `{"height":4,"weight":60}` {
		t.Errorf("attrs not preserved: %s", got.Attrs)
	}
}

func TestGetNotFound(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.Get(context.Background(), "items", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutOverwritesEntirely(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	first := testEntity("1", 100)
	first.Attrs = json.RawMessage(`{"height":7}`)
	if err := st.Put(ctx, "items", first); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	second := testEntity("1", 200)
	if err := st.Put(ctx, "items", second); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := st.Get(ctx, "items", "1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UpdatedAt != 200 {
		t.Errorf("expected updatedAt 200, got %d", got.UpdatedAt)
	}
	if got.Attrs != nil {
		t.Errorf("expected attrs cleared by overwrite, got %s", got.Attrs)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, "items", testEntity("1", 100)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := st.Delete(ctx, "items", "1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := st.Delete(ctx, "items", "1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}

	count, err := st.EntityCount(ctx, "items")
	if err != nil {
		t.Fatalf("EntityCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 entities, got %d", count)
	}
}

func TestBulkPut(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	var batch []*schema.Entity
	for i := 1; i <= 5; i++ {
		batch = append(batch, testEntity(fmt.Sprintf("%d", i), int64(i*100)))
	}

	if err := st.BulkPut(ctx, "items", batch); err != nil {
		t.Fatalf("BulkPut failed: %v", err)
	}

	all, err := st.GetAll(ctx, "items")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("expected 5 entities, got %d", len(all))
	}
}

func TestBulkPutRejectsInvalidBatch(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	batch := []*schema.Entity{
		testEntity("1", 100),
		{Name: "no id"},
	}

	if err := st.BulkPut(ctx, "items", batch); err == nil {
		t.Fatal("expected validation error for batch with invalid entity")
	}

	// Nothing from the batch may be visible.
	count, err := st.EntityCount(ctx, "items")
	if err != nil {
		t.Fatalf("EntityCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 entities after rejected batch, got %d", count)
	}
}

func TestPutWithMutationAtomic(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	e := testEntity("1", 100)
	m := testMutation("m-1", "items", "update", `{"id":"1","name":"pokemon-1"}`)

	if err := st.PutWithMutation(ctx, "items", e, m); err != nil {
		t.Fatalf("PutWithMutation failed: %v", err)
	}

	if _, err := st.Get(ctx, "items", "1"); err != nil {
		t.Errorf("entity missing after PutWithMutation: %v", err)
	}

	pending, err := st.ListMutations(ctx)
	if err != nil {
		t.Fatalf("ListMutations failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "m-1" {
		t.Errorf("expected one queued mutation m-1, got %+v", pending)
	}
}

func TestPutWithMutationRollsBackOnDuplicate(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	m := testMutation("m-1", "items", "update", `{"id":"1"}`)
	if err := st.AppendMutation(ctx, m); err != nil {
		t.Fatalf("AppendMutation failed: %v", err)
	}

	// Same queue-entry id violates the UNIQUE constraint; the entity
	// write in the same transaction must roll back with it.
	err := st.PutWithMutation(ctx, "items", testEntity("9", 100), m)
	if err == nil {
		t.Fatal("expected constraint violation")
	}
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Errorf("expected *StorageError, got %T", err)
	}

	if _, err := st.Get(ctx, "items", "9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("entity write should have rolled back, got %v", err)
	}
}

func TestDeleteWithMutation(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, "items", testEntity("1", 100)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	m := testMutation("m-del", "items", "delete", `{"id":"1"}`)
	if err := st.DeleteWithMutation(ctx, "items", "1", m); err != nil {
		t.Fatalf("DeleteWithMutation failed: %v", err)
	}

	if _, err := st.Get(ctx, "items", "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected entity gone, got %v", err)
	}

	ids, err := st.PendingDeleteIDs(ctx, "items")
	if err != nil {
		t.Fatalf("PendingDeleteIDs failed: %v", err)
	}
	if !ids["1"] {
		t.Errorf("expected id 1 pending deletion, got %v", ids)
	}
}

func TestListMutationsFIFO(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		m := testMutation(fmt.Sprintf("m-%d", i), "items", "update", fmt.Sprintf(`{"id":"%d"}`, i))
		if err := st.AppendMutation(ctx, m); err != nil {
			t.Fatalf("AppendMutation %d failed: %v", i, err)
		}
	}

	// Remove the middle entry; order of the rest must hold.
	if err := st.DeleteMutation(ctx, "m-2"); err != nil {
		t.Fatalf("DeleteMutation failed: %v", err)
	}

	pending, err := st.ListMutations(ctx)
	if err != nil {
		t.Fatalf("ListMutations failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "m-1" || pending[1].ID != "m-3" {
		t.Errorf("unexpected FIFO order: %+v", pending)
	}
}

func TestBumpMutationAttempts(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	m := testMutation("m-1", "items", "update", `{"id":"1"}`)
	if err := st.AppendMutation(ctx, m); err != nil {
		t.Fatalf("AppendMutation failed: %v", err)
	}

	if err := st.BumpMutationAttempts(ctx, "m-1"); err != nil {
		t.Fatalf("BumpMutationAttempts failed: %v", err)
	}
	if err := st.BumpMutationAttempts(ctx, "m-1"); err != nil {
		t.Fatalf("second BumpMutationAttempts failed: %v", err)
	}

	pending, err := st.ListMutations(ctx)
	if err != nil {
		t.Fatalf("ListMutations failed: %v", err)
	}
	if pending[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", pending[0].Attempts)
	}
}

func TestSyncCursorRoundTrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	offset, err := st.SyncCursor(ctx, "items")
	if err != nil {
		t.Fatalf("SyncCursor failed: %v", err)
	}
	if offset != 0 {
		t.Errorf("expected fresh cursor 0, got %d", offset)
	}

	if err := st.SetSyncCursor(ctx, "items", 150); err != nil {
		t.Fatalf("SetSyncCursor failed: %v", err)
	}

	offset, err = st.SyncCursor(ctx, "items")
	if err != nil {
		t.Fatalf("SyncCursor failed: %v", err)
	}
	if offset != 150 {
		t.Errorf("expected cursor 150, got %d", offset)
	}
}
