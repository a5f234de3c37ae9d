// Package schema provides data structures for pokevault catalog records
// and queued mutations.
package schema

import (
	"encoding/json"
	"fmt"
)

// Entity represents a single catalog record as stored locally.
// The sync engine only interprets ID, UpdatedAt and IsSynced; everything
// else is domain payload carried through unchanged. Conflicts between
// local and remote copies are resolved last-write-wins on UpdatedAt.
type Entity struct {
	// ID uniquely identifies the record within its collection.
	// Remote-assigned catalog key, or a client-generated UUID for
	// records created while offline.
	ID string `json:"id"`

	// Name is the display name of the record.
	Name string `json:"name,omitempty"`

	// Notes holds free-form user notes.
	Notes string `json:"notes"`

	// UpdatedAt is a unix-millisecond timestamp. It is the sole conflict
	// discriminator: a strictly greater remote timestamp overwrites the
	// local copy, a tie keeps the local copy.
	UpdatedAt int64 `json:"updatedAt"`

	// IsSynced is true only when the local copy is known identical to a
	// confirmed remote copy.
	IsSynced bool `json:"isSynced"`

	// Attrs carries the remaining domain fields (sprites, stats,
	// abilities, ...) as an opaque JSON object. The sync engine never
	// looks inside it.
	Attrs json.RawMessage `json:"attrs,omitempty"`
}

// Validate checks if the Entity has valid field values.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if e.UpdatedAt < 0 {
		return &ValidationError{Field: "updatedAt", Reason: fmt.Sprintf("must not be negative (got %d)", e.UpdatedAt)}
	}
	if len(e.Attrs) > 0 && !json.Valid(e.Attrs) {
		return &ValidationError{Field: "attrs", Reason: "must be valid JSON"}
	}
	return nil
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Attrs != nil {
		c.Attrs = append(json.RawMessage(nil), e.Attrs...)
	}
	return &c
}
