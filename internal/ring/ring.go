// Package ring implements the bounded, single-producer reply ring shared by
// the GATT handler (spec §4.4) and the mgmt dispatcher (spec §4.8). Put never
// blocks the reader: once full it drops the oldest quarter of entries rather
// than stall the component that feeds it.
package ring

import (
	"context"
	"sync"
)

// DropObserver is notified whenever Put drops entries to make room. Metrics
// collectors implement this; nil disables the callback.
type DropObserver interface {
	OnDrop(count int)
}

// Ring is a bounded FIFO of byte slices, safe for one producer and many
// concurrent consumers racing to Get the next entry.
type Ring struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      [][]byte
	cap      int
	closed   bool
	observer DropObserver
}

// New returns a ring with the given capacity. capacity must be positive.
func New(capacity int, observer DropObserver) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring{cap: capacity, observer: observer}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Put appends an entry, waking one waiting consumer. If the ring is full,
// the oldest 25% of entries (minimum 1) are dropped to make room, matching
// the mgmt dispatcher's reader-never-stalls requirement.
func (r *Ring) Put(entry []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if len(r.buf) >= r.cap {
		drop := r.cap / 4
		if drop < 1 {
			drop = 1
		}
		if drop > len(r.buf) {
			drop = len(r.buf)
		}
		r.buf = append([][]byte{}, r.buf[drop:]...)
		if r.observer != nil {
			r.observer.OnDrop(drop)
		}
	}
	r.buf = append(r.buf, entry)
	r.cond.Signal()
}

// Get blocks until an entry is available, the context is done, or the ring
// is closed. It returns ok=false on context cancellation or closure.
func (r *Ring) Get(ctx context.Context) (entry []byte, ok bool) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		r.cond.Broadcast()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) == 0 && !r.closed {
		select {
		case <-done:
			return nil, false
		default:
		}
		r.cond.Wait()
	}
	if len(r.buf) == 0 {
		return nil, false
	}
	entry = r.buf[0]
	r.buf = r.buf[1:]
	return entry, true
}

// Close marks the ring closed and wakes every blocked consumer; further
// Puts are silently discarded and Gets return ok=false once drained.
func (r *Ring) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Len reports the current number of buffered entries (for metrics/tests).
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
