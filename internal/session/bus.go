package session

import (
	"sync"

	"github.com/cpatterson/meshlink/internal/protocol"
)

// subscriber holds one bounded event queue.
type subscriber struct {
	ch chan protocol.Event
}

// bus fans decoded mesh events out to all subscribers in wire-arrival
// order. Each subscriber gets a bounded buffer; when a slow consumer's
// buffer fills, its oldest event is dropped so the dispatch loop never
// blocks.
type bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
}

func newBus(buffer int) *bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &bus{subs: make(map[*subscriber]struct{}), buffer: buffer}
}

// subscribe registers a consumer. The returned cancel function removes the
// subscription and closes its channel; it is safe to call more than once.
func (b *bus) subscribe() (<-chan protocol.Event, func()) {
	s := &subscriber{ch: make(chan protocol.Event, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[s]
			delete(b.subs, s)
			b.mu.Unlock()
			if ok {
				close(s.ch)
			}
		})
	}
	return s.ch, cancel
}

// publish delivers ev to every subscriber, dropping each receiver's oldest
// queued event if its buffer is full.
func (b *bus) publish(ev protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// close terminates every subscription so consumers observe end-of-session.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}
