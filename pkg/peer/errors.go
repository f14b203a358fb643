package peer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotOpen is returned by SendRequest when the connection is already closed.
	ErrNotOpen = errors.New("peer connection is not open")
	// ErrDisconnected rejects calls pending on a connection that went away.
	ErrDisconnected = errors.New("peer disconnected")
	// ErrDuplicateID is returned when a request id is already in flight on the connection.
	ErrDuplicateID = errors.New("duplicate request id")
	// ErrSessionInUse is returned by Registry.Add for a session id held by a live connection.
	ErrSessionInUse = errors.New("session id already connected")
)

// TimeoutError reports a call that received no response before its deadline.
type TimeoutError struct {
	ID      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Request timed out after %dms", e.Timeout.Milliseconds())
}
