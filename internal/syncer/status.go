package syncer

import "github.com/pokevault/pokevault/internal/schema"

// Status names the observable phase of a sync cycle.
type Status string

const (
	// StatusSyncing is emitted when a cycle starts and after each
	// drained mutation.
	StatusSyncing Status = "syncing"

	// StatusCompleted is emitted when a cycle finishes, regardless of
	// per-mutation failures.
	StatusCompleted Status = "completed"

	// StatusError is emitted when the cycle machinery itself failed.
	StatusError Status = "error"
)

// Progress is the event payload delivered to observers at phase
// boundaries.
type Progress struct {
	Status     Status `json:"status"`
	Progress   int    `json:"progress,omitempty"`
	Total      int    `json:"total,omitempty"`
	Successful int    `json:"successful,omitempty"`
	Failed     int    `json:"failed,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FailedMutation records one mutation that could not be applied remotely
// during a cycle. The entry remains queued.
type FailedMutation struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Result aggregates the outcome of one sync cycle.
type Result struct {
	// Successful lists the queue-entry ids applied and removed.
	Successful []string `json:"successful"`

	// Failed lists the queue-entry ids left queued, with their errors.
	Failed []FailedMutation `json:"failed"`

	// Total is the number of mutations the cycle attempted.
	Total int `json:"total"`

	// Merged lists the entities the conflict resolver actually wrote.
	Merged []*schema.Entity `json:"-"`
}
