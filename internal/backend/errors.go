package backend

import "fmt"

// TransportError describes any failed backend call: unreachable host,
// non-2xx status, unreadable body or a payload with no replies.
type TransportError struct {
	Op         string // "greeting" or "chat"
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
