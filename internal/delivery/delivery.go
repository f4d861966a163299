// Package delivery layers retry, acknowledgement tracking and duplicate
// suppression on top of the session's fire-and-forget message sends. A send
// either produces a delivery receipt or a terminal failure; it is never
// left hanging.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cpatterson/meshlink/internal/protocol"
)

// Sender is the slice of the session the engine drives.
type Sender interface {
	SendMessage(ctx context.Context, dest [protocol.KeyPrefixLen]byte, attempt byte, text string) (protocol.MessageSent, error)
	ResetPath(ctx context.Context, dest [protocol.KeyPrefixLen]byte) error
}

// Policy configures the retry behaviour.
type Policy struct {
	// MaxAttempts is the total send budget per message.
	MaxAttempts int
	// FloodAfter is how many routed attempts are made before falling back
	// to flood routing.
	FloodAfter int
	// MaxFloodAttempts bounds the flood attempts within MaxAttempts.
	MaxFloodAttempts int
	// MinTimeout is the floor for the per-attempt ack wait; the firmware's
	// round-trip estimate is used when it is larger.
	MinTimeout time.Duration
	// SweepInterval is how often Run scans for expired ack entries.
	SweepInterval time.Duration
}

// DefaultPolicy returns the stock retry policy: four attempts, the last
// two flooded, five second minimum ack wait.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      4,
		FloodAfter:       2,
		MaxFloodAttempts: 2,
		MinTimeout:       5 * time.Second,
		SweepInterval:    30 * time.Second,
	}
}

// Receipt reports a confirmed delivery.
type Receipt struct {
	AckCode   uint32
	Attempts  int
	Flooded   bool
	RoundTrip time.Duration
}

// Error is the terminal failure after the attempt budget is exhausted.
type Error struct {
	Attempts int
	LastErr  error
}

func (e *Error) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("delivery: failed after %d attempts: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("delivery: no acknowledgement after %d attempts", e.Attempts)
}

func (e *Error) Unwrap() error { return e.LastErr }

type ackResult struct {
	roundTrip time.Duration
}

// pendingAck is one outstanding acknowledgement wait. delivered flips to
// true exactly once; a late or repeated ack for the same code is ignored.
type pendingAck struct {
	sentAt    time.Time
	deadline  time.Time
	delivered bool
	ch        chan ackResult
}

// Engine tracks acknowledgement-pending sends and replays them per Policy.
type Engine struct {
	sender Sender
	policy Policy
	dedup  *Deduper

	mu      sync.Mutex
	pending map[uint32]*pendingAck
}

// NewEngine builds a delivery engine over a sender. Zero policy fields are
// filled from DefaultPolicy.
func NewEngine(sender Sender, policy Policy) *Engine {
	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.FloodAfter <= 0 {
		policy.FloodAfter = def.FloodAfter
	}
	if policy.MaxFloodAttempts <= 0 {
		policy.MaxFloodAttempts = def.MaxFloodAttempts
	}
	if policy.MinTimeout <= 0 {
		policy.MinTimeout = def.MinTimeout
	}
	if policy.SweepInterval <= 0 {
		policy.SweepInterval = def.SweepInterval
	}
	return &Engine{
		sender:  sender,
		policy:  policy,
		dedup:   NewDeduper(),
		pending: make(map[uint32]*pendingAck),
	}
}

// Dedup exposes the engine's duplicate-suppression cache for inbound
// message processing.
func (e *Engine) Dedup() *Deduper { return e.dedup }

// Send delivers a direct message or reports terminal failure. Every
// message gets the full MaxAttempts budget: routed attempts first, then up
// to MaxFloodAttempts flooded ones (the path is dropped on the first flood
// so the mesh rediscovers a route), then routed again over whatever the
// rediscovery produced.
func (e *Engine) Send(ctx context.Context, dest [protocol.KeyPrefixLen]byte, text string) (Receipt, error) {
	var lastErr error
	floodsUsed := 0

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		flood := attempt > e.policy.FloodAfter && floodsUsed < e.policy.MaxFloodAttempts
		if flood {
			floodsUsed++
			if floodsUsed == 1 {
				// Dropping the stale path makes the firmware flood and
				// piggybacks path rediscovery on the attempt.
				if err := e.sender.ResetPath(ctx, dest); err != nil {
					slog.Warn("[Delivery] path reset failed", "error", err)
				}
			}
		}

		sent, err := e.sender.SendMessage(ctx, dest, byte(attempt-1), text)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return Receipt{}, ctx.Err()
			}
			continue
		}
		if sent.Result == protocol.SendResultFailed {
			// Firmware never queued it, so no ack is coming; retry
			// without burning the ack timeout.
			lastErr = fmt.Errorf("radio rejected send on attempt %d", attempt)
			slog.Debug("[Delivery] send rejected", "attempt", attempt)
			continue
		}

		timeout := e.ackTimeout(sent.EstTimeout)
		res, ok, err := e.awaitAck(ctx, sent.AckCode, timeout)
		if err != nil {
			return Receipt{}, err
		}
		if ok {
			return Receipt{
				AckCode:   sent.AckCode,
				Attempts:  attempt,
				Flooded:   flood,
				RoundTrip: res.roundTrip,
			}, nil
		}
		slog.Debug("[Delivery] attempt unacknowledged",
			"attempt", attempt, "flood", flood, "ack_code", sent.AckCode)
	}
	return Receipt{}, &Error{Attempts: e.policy.MaxAttempts, LastErr: lastErr}
}

// ackTimeout applies the configured floor to the firmware's estimate.
func (e *Engine) ackTimeout(estMillis uint32) time.Duration {
	est := time.Duration(estMillis) * time.Millisecond
	if est < e.policy.MinTimeout {
		return e.policy.MinTimeout
	}
	return est
}

// awaitAck registers a pending entry for ackCode and waits for Confirm,
// the timeout or context cancellation. ok reports whether the ack arrived.
func (e *Engine) awaitAck(ctx context.Context, ackCode uint32, timeout time.Duration) (ackResult, bool, error) {
	now := time.Now()
	p := &pendingAck{
		sentAt:   now,
		deadline: now.Add(timeout),
		ch:       make(chan ackResult, 1),
	}
	e.mu.Lock()
	e.pending[ackCode] = p
	e.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-p.ch:
		return res, true, nil
	case <-timer.C:
		e.expire(ackCode, p)
		// Confirm may have won the race just before expiry.
		select {
		case res := <-p.ch:
			return res, true, nil
		default:
		}
		return ackResult{}, false, nil
	case <-ctx.Done():
		e.expire(ackCode, p)
		return ackResult{}, false, ctx.Err()
	}
}

// expire removes p if it is still the registered entry for ackCode, so an
// ack arriving after failure was reported cannot resurrect the send.
func (e *Engine) expire(ackCode uint32, p *pendingAck) {
	e.mu.Lock()
	if cur, ok := e.pending[ackCode]; ok && cur == p {
		delete(e.pending, ackCode)
	}
	e.mu.Unlock()
}

// Confirm resolves the pending send matching a DeliveryConfirmed push. It
// reports whether the ack matched a live entry; stale and duplicate acks
// return false and have no effect.
func (e *Engine) Confirm(ev protocol.DeliveryConfirmed) bool {
	e.mu.Lock()
	p, ok := e.pending[ev.AckCode]
	if !ok || p.delivered {
		e.mu.Unlock()
		return false
	}
	p.delivered = true
	delete(e.pending, ev.AckCode)
	e.mu.Unlock()

	p.ch <- ackResult{roundTrip: time.Duration(ev.RoundTripMs) * time.Millisecond}
	return true
}

// Sweep drops pending entries whose deadline passed without an ack and
// returns how many were removed. Normally the per-attempt wait cleans up
// after itself; the sweep catches entries orphaned by cancellation.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for code, p := range e.pending {
		if !p.delivered && now.After(p.deadline) {
			delete(e.pending, code)
			n++
		}
	}
	return n
}

// Run executes the periodic expiry sweep until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.policy.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := e.Sweep(now); n > 0 {
				slog.Debug("[Delivery] expired stale ack entries", "count", n)
			}
		}
	}
}
