package delivery

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/cpatterson/meshlink/internal/protocol"
)

// Flood routing commonly delivers the same message more than once, so
// inbound messages are checked against a bounded per-sender cache before
// being surfaced. Each contact and each channel gets its own fixed-capacity
// FIFO ring; eviction is strictly oldest-first, never recency-based.
const (
	contactRingCap = 50
	channelRingCap = 100
)

type dedupKey struct {
	timestamp uint32
	text      string
}

// ring is a fixed-capacity FIFO set. A duplicate insert does not evict.
type ring struct {
	cap  int
	keys []dedupKey
	set  map[dedupKey]struct{}
}

func newRing(cap int) *ring {
	return &ring{
		cap:  cap,
		keys: make([]dedupKey, 0, cap),
		set:  make(map[dedupKey]struct{}, cap),
	}
}

// seen inserts k and reports whether it was already present.
func (r *ring) seen(k dedupKey) bool {
	if _, dup := r.set[k]; dup {
		return true
	}
	if len(r.keys) == r.cap {
		oldest := r.keys[0]
		delete(r.set, oldest)
		copy(r.keys, r.keys[1:])
		r.keys = r.keys[:len(r.keys)-1]
	}
	r.keys = append(r.keys, k)
	r.set[k] = struct{}{}
	return false
}

// Deduper holds one ring per message source.
type Deduper struct {
	mu      sync.Mutex
	buckets map[string]*ring
}

func NewDeduper() *Deduper {
	return &Deduper{buckets: make(map[string]*ring)}
}

func (d *Deduper) seen(bucket string, cap int, k dedupKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.buckets[bucket]
	if !ok {
		r = newRing(cap)
		d.buckets[bucket] = r
	}
	return r.seen(k)
}

// SeenContactMessage records a direct message and reports whether it is a
// duplicate of one already seen from the same sender.
func (d *Deduper) SeenContactMessage(msg protocol.ContactMessage) bool {
	bucket := "c:" + hex.EncodeToString(msg.SenderPrefix[:])
	return d.seen(bucket, contactRingCap, dedupKey{timestamp: msg.Timestamp, text: msg.Text})
}

// SeenChannelMessage records a channel message and reports whether it is a
// duplicate of one already seen on the same channel.
func (d *Deduper) SeenChannelMessage(msg protocol.ChannelMessage) bool {
	bucket := fmt.Sprintf("ch:%d", msg.Channel)
	return d.seen(bucket, channelRingCap, dedupKey{timestamp: msg.Timestamp, text: msg.Text})
}
