package store

import (
	"context"
	"database/sql"

	"github.com/pokevault/pokevault/internal/schema"
)

const appendMutationSQL = `
INSERT INTO mutation_queue (id, entity, type, payload, timestamp, attempts)
VALUES (?, ?, ?, ?, ?, ?)
`

func appendMutationArgs(m *schema.Mutation) []interface{} {
	return []interface{}{
		m.ID,
		m.Entity,
		string(m.Type),
		string(m.Payload),
		m.Timestamp,
		m.Attempts,
	}
}

// AppendMutation appends a fully-formed mutation to the queue.
// The queue package assigns ids and timestamps before calling this.
func (s *Store) AppendMutation(ctx context.Context, m *schema.Mutation) error {
	if _, err := s.conn.ExecContext(ctx, appendMutationSQL, appendMutationArgs(m)...); err != nil {
		return storageErr("append mutation", err)
	}
	return nil
}

// ListMutations returns all queued mutations in FIFO insertion order.
func (s *Store) ListMutations(ctx context.Context) ([]*schema.Mutation, error) {
	query := `
	SELECT id, entity, type, payload, timestamp, attempts
	FROM mutation_queue
	ORDER BY seq ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list mutations", err)
	}
	defer rows.Close()

	var mutations []*schema.Mutation
	for rows.Next() {
		var m schema.Mutation
		var typ, payload string

		if err := rows.Scan(&m.ID, &m.Entity, &typ, &payload, &m.Timestamp, &m.Attempts); err != nil {
			return nil, storageErr("scan mutation", err)
		}

		m.Type = schema.MutationType(typ)
		m.Payload = []byte(payload)
		mutations = append(mutations, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate mutations", err)
	}

	return mutations, nil
}

// DeleteMutation removes a queue entry once the remote confirmed it.
// Returns nil if the entry doesn't exist (idempotent).
func (s *Store) DeleteMutation(ctx context.Context, mutationID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, mutationID); err != nil {
		return storageErr("delete mutation", err)
	}
	return nil
}

// ClearMutations empties the queue.
func (s *Store) ClearMutations(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM mutation_queue`); err != nil {
		return storageErr("clear mutations", err)
	}
	return nil
}

// BumpMutationAttempts increments the attempt counter after a failed
// dispatch. The entry itself stays queued for the next cycle.
func (s *Store) BumpMutationAttempts(ctx context.Context, mutationID string) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE mutation_queue SET attempts = attempts + 1 WHERE id = ?`, mutationID); err != nil {
		return storageErr("bump attempts", err)
	}
	return nil
}

// PendingDeleteIDs returns the entity ids targeted by queued delete
// mutations for the collection. The conflict resolver skips these so an
// in-flight delete is not resurrected by a remote snapshot.
func (s *Store) PendingDeleteIDs(ctx context.Context, collection string) (map[string]bool, error) {
	query := `
	SELECT payload
	FROM mutation_queue
	WHERE entity = ? AND type = ?
	`

	rows, err := s.conn.QueryContext(ctx, query, collection, string(schema.MutationDelete))
	if err != nil {
		return nil, storageErr("pending delete ids", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, storageErr("scan pending delete", err)
		}

		m := schema.Mutation{Payload: []byte(payload)}
		id, err := m.PayloadID()
		if err != nil {
			// Malformed payloads never made it past Validate on enqueue;
			// skip rather than fail the whole merge.
			continue
		}
		ids[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pending deletes", err)
	}

	return ids, nil
}

// MutationCount returns the number of queued mutations.
func (s *Store) MutationCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM mutation_queue").Scan(&count)
	if err != nil {
		return 0, storageErr("mutation count", err)
	}
	return count, nil
}

// SyncCursor returns the persisted pull cursor for the collection, or 0
// when no cycle has completed yet.
func (s *Store) SyncCursor(ctx context.Context, collection string) (int, error) {
	var value int
	err := s.conn.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM sync_meta WHERE key = ?`, cursorKey(collection)).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("sync cursor", err)
	}
	return value, nil
}

// SetSyncCursor persists the pull cursor for the collection.
func (s *Store) SetSyncCursor(ctx context.Context, collection string, offset int) error {
	query := `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, cursorKey(collection), offset); err != nil {
		return storageErr("set sync cursor", err)
	}
	return nil
}

func cursorKey(collection string) string {
	return "cursor:" + collection
}
