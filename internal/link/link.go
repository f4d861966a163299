// Package link defines the frame-link abstraction shared by the BLE and
// serial transports: a half-duplex byte link that carries whole protocol
// frames in both directions.
package link

import "context"

// State describes the current link status. Within one connection attempt
// the transitions are monotonic: Disconnected -> Connecting -> Connected ->
// Ready, with Failed reachable from Connecting.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Link is the transport seam the session core drives. Implementations must
// be safe for concurrent use.
type Link interface {
	// Connect establishes the physical link and performs whatever discovery
	// the medium requires. After a nil return the link is Ready.
	Connect(ctx context.Context) error
	// Disconnect tears the link down. Idempotent.
	Disconnect() error
	// Send writes one protocol frame.
	Send(frame []byte) error
	// Frames returns the inbound frame stream for the current connection.
	// The channel is closed when the link disconnects.
	Frames() <-chan []byte
	// State reports the current link state.
	State() State
	// OnStateChange registers a callback fired on every state transition.
	OnStateChange(fn func(State))
}
