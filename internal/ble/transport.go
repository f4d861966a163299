package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cpatterson/meshlink/internal/link"
)

// Options configures the BLE transport.
type Options struct {
	Address     string // exact device address; empty means scan
	NamePrefix  string // advertisement name prefix used when scanning
	FrameBuffer int    // inbound frame queue depth (default 64)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{FrameBuffer: 64}
}

// Transport owns the physical BLE link to the radio: scan, connect,
// characteristic discovery, outbound writes, and the inbound notification
// stream. One Transport serves one radio; reconnecting reuses it.
type Transport struct {
	adapter Adapter
	opts    Options

	mu        sync.Mutex
	conn      Connection
	writeChar Characteristic
	state     link.State
	frames    chan []byte
	closed    bool // frames channel closed for the current connection
	onState   func(link.State)
}

// NewTransport creates a transport over the given adapter.
func NewTransport(adapter Adapter, opts Options) *Transport {
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 64
	}
	return &Transport{
		adapter: adapter,
		opts:    opts,
		state:   link.StateDisconnected,
	}
}

var _ link.Link = (*Transport)(nil)

// Connect drives the link up: power on, locate the radio, connect,
// discover the two characteristics, and enable notifications. Fails with
// ErrDeviceNotFound, ErrServiceNotFound, ErrCharacteristicNotFound, or
// ErrConnectionFailed.
func (t *Transport) Connect(ctx context.Context) error {
	t.setState(link.StateConnecting)

	if err := t.adapter.Enable(); err != nil {
		return t.fail(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}

	address := t.opts.Address
	if address == "" {
		dev, err := t.adapter.Scan(ctx, ServiceUUID, t.opts.NamePrefix)
		if err != nil {
			return t.fail(fmt.Errorf("%w: %v", ErrDeviceNotFound, err))
		}
		slog.Info("[BLE] found radio", "name", dev.Name, "address", dev.Address, "rssi", dev.RSSI)
		address = dev.Address
	}

	conn, err := t.adapter.Connect(ctx, address)
	if err != nil {
		return t.fail(err)
	}
	t.setState(link.StateConnected)

	writeChar, err := conn.DiscoverCharacteristic(ServiceUUID, WriteCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return t.fail(err)
	}
	notifyChar, err := conn.DiscoverCharacteristic(ServiceUUID, NotifyCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return t.fail(err)
	}

	t.mu.Lock()
	t.conn = conn
	t.writeChar = writeChar
	t.frames = make(chan []byte, t.opts.FrameBuffer)
	t.closed = false
	t.mu.Unlock()

	// Each notification is one frame; push it without blocking the
	// hardware callback. The consumer drains via Frames().
	if err := notifyChar.Subscribe(t.push); err != nil {
		_ = conn.Disconnect()
		return t.fail(fmt.Errorf("%w: enable notifications: %v", ErrCharacteristicNotFound, err))
	}

	conn.OnDisconnect(func() {
		slog.Warn("[BLE] link dropped", "address", address)
		t.teardown()
	})

	t.setState(link.StateReady)
	slog.Info("[BLE] link ready", "address", address)
	return nil
}

// push appends one inbound frame to the stream. The queue is bounded;
// when full the oldest frame is dropped so the hardware callback never
// blocks on a slow consumer.
func (t *Transport) push(data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.frames == nil {
		return
	}
	select {
	case t.frames <- frame:
	default:
		select {
		case <-t.frames:
			slog.Warn("[BLE] inbound queue full, dropping oldest frame")
		default:
		}
		select {
		case t.frames <- frame:
		default:
		}
	}
}

// Frames returns the inbound frame stream for the current connection.
// The channel is created per connection and closed on disconnect.
func (t *Transport) Frames() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Send writes one frame to the radio.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	writeChar := t.writeChar
	t.mu.Unlock()

	if writeChar == nil {
		return ErrNotConnected
	}
	if err := writeChar.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Disconnect tears the link down. Safe to call repeatedly.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Disconnect()
	}
	t.teardown()
	return nil
}

// teardown closes out the current connection exactly once.
func (t *Transport) teardown() {
	t.mu.Lock()
	if t.conn == nil && t.closed {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.writeChar = nil
	if t.frames != nil && !t.closed {
		close(t.frames)
		t.closed = true
	}
	t.mu.Unlock()
	t.setState(link.StateDisconnected)
}

// State reports the current link state.
func (t *Transport) State() link.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnStateChange registers a callback fired on every state transition.
func (t *Transport) OnStateChange(fn func(link.State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *Transport) setState(s link.State) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) fail(err error) error {
	t.setState(link.StateFailed)
	return err
}
