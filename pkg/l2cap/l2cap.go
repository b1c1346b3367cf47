// Package l2cap implements the L2CAP byte-stream transport (SPEC_FULL.md
// component C3): a stream-oriented bearer bound to a device index and
// channel, with timeout-bounded reads, mutex-serialized writes, and an
// idempotent close that unblocks a pending reader.
package l2cap

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ATTChannelCID is the fixed L2CAP channel identifier for the ATT bearer
// over LE (Bluetooth Core Spec Vol 3, Part F, 3.2.1).
const ATTChannelCID = 0x0004

// ErrDisconnected is returned by Read/Write once the transport has been
// closed; it is never sent over the wire.
var ErrDisconnected = errors.New("l2cap: disconnected")

// ErrTimeout is returned by Read when no data arrives before the deadline.
var ErrTimeout = errors.New("l2cap: read timeout")

// Transport is the byte-stream bearer contract every GATT/HCI handler
// depends on. Implementations: *Socket (Linux raw AF_BLUETOOTH socket) and
// *Fake (in-memory, for tests).
type Transport interface {
	// Read blocks for at most timeout for one inbound PDU frame, or
	// returns ErrTimeout. A zero timeout means no deadline.
	Read(timeout time.Duration) ([]byte, error)
	// Write sends one outbound frame. Concurrent callers are serialized.
	Write(frame []byte) error
	// Close is idempotent; it unblocks any reader blocked in Read and
	// causes subsequent Read/Write calls to fail with ErrDisconnected.
	Close() error
	// IsInterrupted reports whether Close has been called. Call sites
	// poll it between blocking operations per spec.md §4.3.
	IsInterrupted() bool
}

// Fake is an in-memory Transport backed by channels, used by pkg/gatt's
// tests and any caller that wants to drive the protocol engine without a
// kernel socket.
type Fake struct {
	inbound  chan []byte
	outbound chan []byte

	mu       sync.Mutex
	writeMu  sync.Mutex
	closed   bool
	closeCh  chan struct{}
}

// NewFake constructs a Fake transport with the given inbound queue depth.
func NewFake(inboundDepth int) *Fake {
	return &Fake{
		inbound:  make(chan []byte, inboundDepth),
		outbound: make(chan []byte, inboundDepth),
		closeCh:  make(chan struct{}),
	}
}

// Deliver injects frame as if it had arrived from the peer. It is the test
// harness's counterpart to Write.
func (f *Fake) Deliver(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.inbound <- frame:
	default:
	}
}

// Sent returns the channel of frames written via Write, for assertions in
// tests driving a peripheral-role handler against this transport.
func (f *Fake) Sent() <-chan []byte { return f.outbound }

func (f *Fake) Read(timeout time.Duration) ([]byte, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case frame, ok := <-f.inbound:
		if !ok {
			return nil, ErrDisconnected
		}
		return frame, nil
	case <-f.closeCh:
		return nil, ErrDisconnected
	case <-deadline:
		return nil, ErrTimeout
	}
}

func (f *Fake) Write(frame []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return ErrDisconnected
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case f.outbound <- cp:
	default:
	}
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.closeCh)
	close(f.inbound)
	return nil
}

func (f *Fake) IsInterrupted() bool {
	select {
	case <-f.closeCh:
		return true
	default:
		return false
	}
}

// ReadContext adapts Read to a context.Context deadline, for callers that
// prefer to propagate cancellation rather than compute a duration.
func ReadContext(ctx context.Context, t Transport) ([]byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return t.Read(0)
	}
	timeout := time.Until(deadline)
	if timeout <= 0 {
		return nil, ErrTimeout
	}
	return t.Read(timeout)
}
