// Package session drives a companion radio over a frame link. It owns the
// connection lifecycle, performs the application handshake, correlates
// request frames with their responses, and fans unsolicited events out to
// subscribers.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cpatterson/meshlink/internal/link"
	"github.com/cpatterson/meshlink/internal/protocol"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultSyncTimeout    = 30 * time.Second
	defaultEventBuffer    = 64
)

// Options configures a Session.
type Options struct {
	// ClientID identifies this client to the radio during the handshake.
	// Longer values are truncated on the wire.
	ClientID string

	// RequestTimeout bounds single-response requests. Zero means 5s.
	RequestTimeout time.Duration

	// SyncTimeout bounds multi-frame transfers such as the contact list.
	// Zero means 30s.
	SyncTimeout time.Duration

	// EventBuffer is the per-subscriber queue depth. Zero means 64.
	EventBuffer int
}

// pending is the single in-flight request slot. deliver reports whether the
// event was consumed by the request and whether the request is finished;
// fail resolves the request with an error instead of an event.
type pending struct {
	deliver func(ev protocol.Event) (consumed, finished bool)
	fail    func(err error)
	done    chan struct{}
}

// Session multiplexes one half-duplex radio link: at most one request is
// outstanding at a time, and every frame that is not claimed by the pending
// request is published to event subscribers.
type Session struct {
	lnk  link.Link
	opts Options

	reqMu sync.Mutex // serializes request issuers

	mu      sync.Mutex
	state   link.State
	pending *pending
	self    protocol.SelfInfo
	running bool

	bus      *bus
	onState  []func(link.State)
	loopDone chan struct{}
}

// New wraps a frame link. The link must be unconnected; Start drives it.
func New(lnk link.Link, opts Options) *Session {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	return &Session{
		lnk:   lnk,
		opts:  opts,
		state: link.StateDisconnected,
		bus:   newBus(opts.EventBuffer),
	}
}

// Start connects the link, starts the dispatch loop and performs the
// application handshake. The session is Ready on return.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("session: already started")
	}
	s.running = true
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	s.setState(link.StateConnecting)
	if err := s.lnk.Connect(ctx); err != nil {
		s.setState(link.StateFailed)
		s.markStopped()
		return fmt.Errorf("connecting link: %w", err)
	}
	s.setState(link.StateConnected)

	go s.run()

	self, err := s.handshake(ctx)
	if err != nil {
		s.lnk.Disconnect()
		<-s.loopDone
		s.setState(link.StateFailed)
		s.markStopped()
		return fmt.Errorf("handshake: %w", err)
	}

	s.mu.Lock()
	s.self = self
	s.mu.Unlock()
	s.setState(link.StateReady)
	slog.Info("[Session] ready",
		"node", self.Name,
		"freq_khz", self.RadioFreqKHz,
		"sf", self.RadioSF)
	return nil
}

// Stop tears the session down. Any in-flight request fails with
// ErrConnectionLost and all event subscriptions are closed.
func (s *Session) Stop() {
	s.mu.Lock()
	running := s.running
	done := s.loopDone
	s.mu.Unlock()
	if !running {
		return
	}
	s.lnk.Disconnect()
	if done != nil {
		<-done
	}
}

// SelfInfo returns the node identity captured during the handshake.
func (s *Session) SelfInfo() protocol.SelfInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// State returns the current session state.
func (s *Session) State() link.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers a callback invoked on every state transition.
func (s *Session) OnStateChange(fn func(link.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = append(s.onState, fn)
}

// Events returns a subscription to unsolicited radio events. The channel
// closes when the session ends; cancel releases the subscription early.
func (s *Session) Events() (<-chan protocol.Event, func()) {
	return s.bus.subscribe()
}

func (s *Session) setState(st link.State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	callbacks := make([]func(link.State), len(s.onState))
	copy(callbacks, s.onState)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(st)
	}
}

func (s *Session) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// run drains link frames until the link closes its stream, then fails any
// outstanding request and ends all subscriptions.
func (s *Session) run() {
	defer close(s.loopDone)
	for frame := range s.lnk.Frames() {
		ev, err := protocol.Decode(frame)
		if err != nil {
			slog.Warn("[Session] dropping undecodable frame", "error", err)
			// The radio answers the outstanding request with garbage;
			// surface that rather than letting the request time out.
			s.failPending(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
			continue
		}
		s.dispatch(ev)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.failPending(ErrConnectionLost)
	s.setState(link.StateDisconnected)
	s.bus.close()
	slog.Info("[Session] link closed")
}

// failPending resolves the outstanding request, if any, with err.
func (s *Session) failPending(err error) {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p != nil {
		p.fail(err)
		close(p.done)
	}
}

func (s *Session) dispatch(ev protocol.Event) {
	s.mu.Lock()
	p := s.pending
	if p != nil {
		consumed, finished := p.deliver(ev)
		if finished {
			s.pending = nil
		}
		s.mu.Unlock()
		if finished {
			close(p.done)
		}
		if consumed {
			return
		}
	} else {
		s.mu.Unlock()
	}
	s.bus.publish(ev)
}

// install registers p as the pending request and sends the frame. The
// caller must hold reqMu.
func (s *Session) install(p *pending, frame []byte) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.pending = p
	s.mu.Unlock()

	if err := s.lnk.Send(frame); err != nil {
		s.clearPending(p)
		return fmt.Errorf("sending request: %w", err)
	}
	return nil
}

// clearPending removes p if it is still installed, so a late response is
// treated as unsolicited rather than resolving a finished request.
func (s *Session) clearPending(p *pending) {
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mu.Unlock()
}

// await blocks until the pending request finishes, times out or the
// session ends.
func (s *Session) await(ctx context.Context, p *pending, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		s.clearPending(p)
		// The dispatch loop may have finished the request between the
		// timer firing and the slot being cleared.
		select {
		case <-p.done:
			return nil
		default:
		}
		return ErrRequestTimeout
	case <-ctx.Done():
		s.clearPending(p)
		select {
		case <-p.done:
			return nil
		default:
		}
		return ctx.Err()
	}
}

// request issues frame and waits for the first event matching match.
// A device error response resolves the request with DeviceError.
func (s *Session) request(ctx context.Context, frame []byte, timeout time.Duration, match func(protocol.Event) bool) (protocol.Event, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	var (
		result protocol.Event
		rerr   error
	)
	p := &pending{done: make(chan struct{})}
	p.fail = func(err error) { rerr = err }
	p.deliver = func(ev protocol.Event) (bool, bool) {
		if e, ok := ev.(protocol.ErrResponse); ok {
			rerr = &DeviceError{Code: e.ErrCode}
			return true, true
		}
		if match(ev) {
			result = ev
			return true, true
		}
		return false, false
	}

	if err := s.install(p, frame); err != nil {
		return nil, err
	}
	if err := s.await(ctx, p, timeout); err != nil {
		return nil, err
	}
	return result, rerr
}

// requestStream issues frame and feeds every matching event to accept
// until it reports completion. Used for multi-frame transfers.
func (s *Session) requestStream(ctx context.Context, frame []byte, timeout time.Duration, accept func(protocol.Event) (consumed, finished bool, err error)) error {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	var rerr error
	p := &pending{done: make(chan struct{})}
	p.fail = func(err error) { rerr = err }
	p.deliver = func(ev protocol.Event) (bool, bool) {
		if e, ok := ev.(protocol.ErrResponse); ok {
			rerr = &DeviceError{Code: e.ErrCode}
			return true, true
		}
		consumed, finished, err := accept(ev)
		if err != nil {
			rerr = err
			return consumed, true
		}
		return consumed, finished
	}

	if err := s.install(p, frame); err != nil {
		return err
	}
	if err := s.await(ctx, p, timeout); err != nil {
		return err
	}
	return rerr
}

// handshake announces the client and waits for the node identity frame.
func (s *Session) handshake(ctx context.Context) (protocol.SelfInfo, error) {
	ev, err := s.request(ctx, protocol.AppStart(s.opts.ClientID), s.opts.RequestTimeout, func(ev protocol.Event) bool {
		_, ok := ev.(protocol.SelfInfo)
		return ok
	})
	if err != nil {
		return protocol.SelfInfo{}, err
	}
	return ev.(protocol.SelfInfo), nil
}
