// Package metrics defines the optional instrumentation surfaces
// SPEC_FULL.md's ambient stack calls for (component A3): reply-ring
// occupancy/drops, command round-trip latency, and adapter counts.
// Both interfaces are optional — callers pass nil to disable collection
// with zero overhead, the same "interface + nil disables" shape the
// GATT and mgmt packages already use for internal/ring's DropObserver.
package metrics

import "time"

// BTMetrics reports instrumentation for pkg/gatt's per-connection
// Handler (C4): command latency and reply-ring health.
type BTMetrics interface {
	// RecordCommand records a completed ATT request/response round
	// trip. opcode is the request's mnemonic (e.g. "ReadReq",
	// "WriteReq"); err is the error returned to the caller, if any.
	RecordCommand(opcode string, duration time.Duration, err error)

	// RecordReplyRingDrop is called whenever the reply ring drops
	// entries to make room for new ones (internal/ring.DropObserver).
	RecordReplyRingDrop(count int)

	// RecordReplyRingDepth reports the ring's occupancy immediately
	// after a Put, for gauge-style tracking of queuing pressure.
	RecordReplyRingDepth(depth int)
}

// MgmtMetrics reports instrumentation for pkg/mgmt's Dispatcher (C8):
// command latency, reply-ring health, and the live adapter count.
type MgmtMetrics interface {
	// RecordCommand records a completed mgmt command/reply round trip.
	// opcode is the command's mnemonic (e.g. "SetPowered").
	RecordCommand(opcode string, duration time.Duration, err error)

	// RecordReplyRingDrop is called whenever the reply ring drops
	// entries to make room for new ones.
	RecordReplyRingDrop(count int)

	// SetAdapterCount reports the number of adapters currently tracked
	// by the dispatcher's adapter set.
	SetAdapterCount(count int)
}
