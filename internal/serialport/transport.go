// Package serialport provides the USB-serial link to a companion mesh
// radio. The protocol is the same as over BLE, but serial is a raw byte
// stream, so frames carry explicit delimit-and-length headers: the client
// writes '<' + u16 length + payload, the radio answers '>' + u16 length +
// payload, lengths little-endian.
package serialport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/cpatterson/meshlink/internal/link"
)

const (
	outboundMarker = 0x3c // '<'
	inboundMarker  = 0x3e // '>'
	maxFrameLen    = 4096
)

var (
	ErrNotConnected = errors.New("serialport: not connected")
	ErrOpenFailed   = errors.New("serialport: open failed")
	ErrFrameTooBig  = errors.New("serialport: frame too large")
)

// Options configures the serial transport.
type Options struct {
	Port        string // e.g. /dev/ttyACM0
	BaudRate    int    // default 115200
	FrameBuffer int    // inbound frame queue depth (default 64)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{BaudRate: 115200, FrameBuffer: 64}
}

// Transport owns a serial link to the radio and frames the byte stream.
type Transport struct {
	opts Options
	open func(port string, baud int) (io.ReadWriteCloser, error)

	mu      sync.Mutex
	stream  io.ReadWriteCloser
	frames  chan []byte
	closed  bool
	state   link.State
	onState func(link.State)
}

// NewTransport creates a serial transport for the configured port.
func NewTransport(opts Options) *Transport {
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 64
	}
	return &Transport{
		opts:  opts,
		open:  openSerial,
		state: link.StateDisconnected,
	}
}

var _ link.Link = (*Transport)(nil)

func openSerial(port string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(port, &serial.Mode{BaudRate: baud})
}

// Connect opens the port and starts the frame reader. Serial needs no
// discovery step, so a successful open goes straight to Ready.
func (t *Transport) Connect(ctx context.Context) error {
	t.setState(link.StateConnecting)

	stream, err := t.open(t.opts.Port, t.opts.BaudRate)
	if err != nil {
		t.setState(link.StateFailed)
		return fmt.Errorf("%w: %s: %v", ErrOpenFailed, t.opts.Port, err)
	}

	t.mu.Lock()
	t.stream = stream
	t.frames = make(chan []byte, t.opts.FrameBuffer)
	t.closed = false
	t.mu.Unlock()

	t.setState(link.StateConnected)
	go t.readLoop(stream)
	t.setState(link.StateReady)
	slog.Info("[Serial] link ready", "port", t.opts.Port, "baud", t.opts.BaudRate)
	return nil
}

// readLoop reassembles frames from the stream until it errors or closes.
func (t *Transport) readLoop(stream io.Reader) {
	for {
		frame, err := readFrame(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				slog.Warn("[Serial] read failed", "error", err)
			}
			t.teardown()
			return
		}
		t.push(frame)
	}
}

// readFrame reads one '>' + u16 length + payload frame, skipping stray
// bytes until a marker is seen.
func readFrame(r io.Reader) ([]byte, error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		if b[0] == inboundMarker {
			break
		}
	}

	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(head[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooBig, n)
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (t *Transport) push(frame []byte) {
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
			slog.Warn("[Serial] inbound queue full, dropping oldest frame")
		default:
		}
		select {
		case t.frames <- frame:
		default:
		}
	}
}

// Frames returns the inbound frame stream for the current connection.
func (t *Transport) Frames() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Send writes one frame with the outbound header.
func (t *Transport) Send(frame []byte) error {
	if len(frame) > maxFrameLen {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooBig, len(frame))
	}

	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return ErrNotConnected
	}

	buf := make([]byte, 3+len(frame))
	buf[0] = outboundMarker
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(frame)))
	copy(buf[3:], frame)
	// The write happens outside the lock so a stalled port cannot block
	// the read loop's teardown.
	if _, err := stream.Write(buf); err != nil {
		return fmt.Errorf("serialport: write: %w", err)
	}
	return nil
}

// Disconnect closes the port. Safe to call repeatedly.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	t.teardown()
	return nil
}

func (t *Transport) teardown() {
	t.mu.Lock()
	if t.stream == nil && t.closed {
		t.mu.Unlock()
		return
	}
	t.stream = nil
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
