package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pokevault/pokevault/internal/schema"
)

// ErrNotFound is returned by Get when no entity exists for the id.
var ErrNotFound = errors.New("entity not found")

const entityColumns = "id, name, notes, updated_at, is_synced, attrs"

// GetAll returns every entity in the collection, ordered by id.
func (s *Store) GetAll(ctx context.Context, collection string) ([]*schema.Entity, error) {
	query := `
	SELECT ` + entityColumns + `
	FROM items
	WHERE collection = ?
	ORDER BY id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, storageErr("get all", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// Get returns the entity with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (*schema.Entity, error) {
	query := `
	SELECT ` + entityColumns + `
	FROM items
	WHERE collection = ? AND id = ?
	`

	row := s.conn.QueryRowContext(ctx, query, collection, id)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return e, nil
}

// Put upserts a single entity. An existing row with the same id is
// overwritten entirely.
func (s *Store) Put(ctx context.Context, collection string, e *schema.Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entity: %w", err)
	}

	if _, err := s.conn.ExecContext(ctx, upsertEntitySQL, upsertEntityArgs(collection, e)...); err != nil {
		return storageErr("put", err)
	}
	return nil
}

// Delete removes the entity with the given id. No tombstone is kept;
// pending delete intents live in the mutation queue instead.
// Returns nil if the entity doesn't exist (idempotent).
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	query := `DELETE FROM items WHERE collection = ? AND id = ?`
	if _, err := s.conn.ExecContext(ctx, query, collection, id); err != nil {
		return storageErr("delete", err)
	}
	return nil
}

// BulkPut upserts many entities in a single transaction so a concurrent
// reader never observes a partially-merged snapshot.
func (s *Store) BulkPut(ctx context.Context, collection string, entities []*schema.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid entity %s: %w", e.ID, err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("bulk put", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertEntitySQL)
	if err != nil {
		return storageErr("bulk put", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		if _, err := stmt.ExecContext(ctx, upsertEntityArgs(collection, e)...); err != nil {
			return storageErr(fmt.Sprintf("bulk put %s", e.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("bulk put commit", err)
	}
	return nil
}

// PutWithMutation upserts an entity and appends the corresponding queued
// mutation in ONE transaction. This is the optimistic local write: the
// store must never end up updated without a queued mutation, or vice
// versa.
func (s *Store) PutWithMutation(ctx context.Context, collection string, e *schema.Entity, m *schema.Mutation) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entity: %w", err)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("put with mutation", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertEntitySQL, upsertEntityArgs(collection, e)...); err != nil {
		return storageErr("put with mutation", err)
	}
	if _, err := tx.ExecContext(ctx, appendMutationSQL, appendMutationArgs(m)...); err != nil {
		return storageErr("put with mutation", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("put with mutation commit", err)
	}
	return nil
}

// DeleteWithMutation removes an entity and appends the delete intent in
// ONE transaction, mirroring PutWithMutation.
func (s *Store) DeleteWithMutation(ctx context.Context, collection, id string, m *schema.Mutation) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("delete with mutation", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return storageErr("delete with mutation", err)
	}
	if _, err := tx.ExecContext(ctx, appendMutationSQL, appendMutationArgs(m)...); err != nil {
		return storageErr("delete with mutation", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("delete with mutation commit", err)
	}
	return nil
}

// MarkSynced flips the is_synced flag after the remote confirms the
// record. Returns nil if the entity no longer exists (it may have been
// deleted locally while the mutation was in flight).
func (s *Store) MarkSynced(ctx context.Context, collection, id string) error {
	query := `UPDATE items SET is_synced = 1 WHERE collection = ? AND id = ?`
	if _, err := s.conn.ExecContext(ctx, query, collection, id); err != nil {
		return storageErr("mark synced", err)
	}
	return nil
}

// EntityCount returns the number of entities in the collection.
func (s *Store) EntityCount(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM items WHERE collection = ?", collection).Scan(&count)
	if err != nil {
		return 0, storageErr("entity count", err)
	}
	return count, nil
}

const upsertEntitySQL = `
INSERT INTO items (collection, id, name, notes, updated_at, is_synced, attrs)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET
	name = excluded.name,
	notes = excluded.notes,
	updated_at = excluded.updated_at,
	is_synced = excluded.is_synced,
	attrs = excluded.attrs
`

func upsertEntityArgs(collection string, e *schema.Entity) []interface{} {
	var attrs sql.NullString
	if len(e.Attrs) > 0 {
		attrs = sql.NullString{String: string(e.Attrs), Valid: true}
	}
	return []interface{}{
		collection,
		e.ID,
		e.Name,
		e.Notes,
		e.UpdatedAt,
		boolToInt(e.IsSynced),
		attrs,
	}
}

// scanner abstracts *sql.Row and *sql.Rows for entity scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row scanner) (*schema.Entity, error) {
	var e schema.Entity
	var synced int
	var attrs sql.NullString

	err := row.Scan(
		&e.ID,
		&e.Name,
		&e.Notes,
		&e.UpdatedAt,
		&synced,
		&attrs,
	)
	if err != nil {
		return nil, err
	}

	e.IsSynced = synced != 0
	if attrs.Valid && attrs.String != "" {
		e.Attrs = []byte(attrs.String)
	}
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]*schema.Entity, error) {
	var entities []*schema.Entity

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, storageErr("scan entity", err)
		}
		entities = append(entities, e)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entities", err)
	}

	return entities, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
