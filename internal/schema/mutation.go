package schema

import (
	"encoding/json"
	"fmt"
)

// MutationType identifies the kind of remote change a queued mutation
// represents.
type MutationType string

const (
	// MutationCreate creates a new record remotely (POST).
	MutationCreate MutationType = "create"

	// MutationUpdate overwrites an existing record remotely (PUT).
	MutationUpdate MutationType = "update"

	// MutationDelete removes a record remotely (DELETE).
	MutationDelete MutationType = "delete"
)

// Mutation is a pending intent to apply a local change remotely.
//
// Mutations are append-only: once enqueued they are never modified (except
// for the attempt counter) and are removed only after the remote confirms
// the change. Drain order is FIFO by insertion.
type Mutation struct {
	// ID is the queue-entry UUID, distinct from the entity id the
	// mutation targets.
	ID string `json:"id"`

	// Entity is the collection name the mutation targets, e.g. "items".
	Entity string `json:"entity"`

	// Type is one of create, update, delete.
	Type MutationType `json:"type"`

	// Payload is the entity snapshot for create/update, or {"id": ...}
	// for delete.
	Payload json.RawMessage `json:"payload"`

	// Timestamp records when the mutation was enqueued (unix millis).
	// Informational ordering only; conflict resolution never reads it.
	Timestamp int64 `json:"timestamp"`

	// Attempts counts failed dispatch attempts. Purely observational:
	// a failed mutation stays queued and is retried on the next cycle.
	Attempts int `json:"attempts,omitempty"`
}

// Validate checks if the Mutation has valid field values.
// Create/update payloads must be JSON objects carrying an "id";
// delete payloads must carry at least {"id": ...}.
func (m *Mutation) Validate() error {
	if m.Entity == "" {
		return &ValidationError{Field: "entity", Reason: "is required"}
	}
	switch m.Type {
	case MutationCreate, MutationUpdate, MutationDelete:
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("must be create, update or delete (got %q)", m.Type)}
	}
	if len(m.Payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "is required"}
	}
	if _, err := m.PayloadID(); err != nil {
		return err
	}
	return nil
}

// PayloadID extracts the target entity id from the mutation payload.
func (m *Mutation) PayloadID() (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(m.Payload, &probe); err != nil {
		return "", &ValidationError{Field: "payload", Reason: fmt.Sprintf("must be a JSON object: %v", err)}
	}
	if probe.ID == "" {
		return "", &ValidationError{Field: "payload", Reason: "must carry the target entity id"}
	}
	return probe.ID, nil
}
