package remote

import "fmt"

// RequestError reports a response with a non-2xx HTTP status. The request
// reached the remote catalog; retrying is the caller's decision.
type RequestError struct {
	Method string
	Path   string
	Status int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Status)
}

// NetworkError reports that no response was obtained at all: offline, DNS
// failure, or a timed-out request. A per-mutation NetworkError during a
// drain leaves the mutation queued; a pull-phase NetworkError aborts the
// cycle.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
