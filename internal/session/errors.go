package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when a request is issued before the
	// handshake has completed or after the session stopped.
	ErrNotReady = errors.New("session: not ready")

	// ErrRequestTimeout is returned when the radio does not answer a
	// request within its deadline.
	ErrRequestTimeout = errors.New("session: request timed out")

	// ErrConnectionLost is returned to a request that was in flight when
	// the underlying link went away.
	ErrConnectionLost = errors.New("session: connection lost")

	// ErrMalformedResponse is returned when the radio answers with a
	// frame that does not decode to the expected shape.
	ErrMalformedResponse = errors.New("session: malformed response")
)

// DeviceError is a rejection reported by the radio firmware itself.
type DeviceError struct {
	Code byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("session: device rejected request (code %d)", e.Code)
}
