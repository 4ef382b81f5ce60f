package dispatch

import "fmt"

// ErrNoKeysAvailable is returned when the Active ring is empty on the
// very first attempt. Terminal, surfaced as 503 by the handler.
var ErrNoKeysAvailable = fmt.Errorf("dispatch: no upstream keys available")

// UpstreamError is the last non-200 response observed across all
// attempts, surfaced with its original status code and body.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("dispatch: upstream returned %d after exhausting retries", e.StatusCode)
}

// AllAttemptsFailedError is surfaced as 500 when every attempt failed
// without any attempt ending in an other-upstream (non-200, non-key-
// fault) response, e.g. the ring stayed empty past attempt 1, or every
// attempt was a transport error or a key fault. Cause is the last such
// failure.
type AllAttemptsFailedError struct {
	Cause error
}

func (e *AllAttemptsFailedError) Error() string {
	if e.Cause == nil {
		return "dispatch: all attempts failed"
	}
	return fmt.Sprintf("dispatch: all attempts failed: %v", e.Cause)
}

func (e *AllAttemptsFailedError) Unwrap() error { return e.Cause }

// StorageError wraps a repository failure. Engine.Dispatch does not
// return it: storage errors from the accounting side effects and from
// deactivation are logged and swallowed, and a failed ring rebuild
// inside Selector.Next is seen as an empty ring.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string { return fmt.Sprintf("dispatch: storage error: %v", e.Cause) }
func (e *StorageError) Unwrap() error { return e.Cause }
