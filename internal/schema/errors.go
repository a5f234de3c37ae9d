package schema

import "fmt"

// ValidationError reports a malformed entity or mutation before it reaches
// the store or the queue. The write that produced it did not happen.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
