// Package hci implements the raw HCI socket (SPEC_FULL.md component C6):
// command/event framing over the kernel's raw Bluetooth HCI user channel,
// sharing the read-timeout/write-mutex/interrupt-on-close contract defined
// by pkg/l2cap's Transport.
package hci

import (
	"time"

	"github.com/arlojames/btstack/pkg/l2cap"
)

// Channel selects which HCI socket channel to bind: the raw channel
// delivers every HCI event unfiltered, the user channel exclusively owns
// the controller and bypasses the kernel's own HCI state machine.
type Channel uint16

const (
	ChannelRaw     Channel = 0
	ChannelUser    Channel = 1
	ChannelControl Channel = 3 // HCI_CHANNEL_CONTROL: the mgmt protocol's socket
)

// DevNone is the dev_id bound when opening a channel not scoped to a
// specific controller, e.g. ChannelControl for the mgmt interface.
const DevNone = 0xFFFF

// Filter composes the {type_mask, event_mask, opcode} bitfields the kernel
// HCI_FILTER socket option consumes (linux/hci.h struct hci_filter).
type Filter struct {
	TypeMask  uint32
	EventMask [2]uint32
	Opcode    uint16
}

// filterBit returns the bit position for a packet type in TypeMask (packet
// type values are 1-indexed in the kernel's hci_filter convention).
func filterBit(packetType uint8) uint32 { return 1 << packetType }

// SetPacketType enables packetType in the filter's TypeMask.
func (f *Filter) SetPacketType(packetType uint8) { f.TypeMask |= filterBit(packetType) }

// SetEvent enables event (0-63) in the filter's EventMask.
func (f *Filter) SetEvent(event uint8) {
	if event < 32 {
		f.EventMask[0] |= 1 << event
	} else {
		f.EventMask[1] |= 1 << (event - 32)
	}
}

// HCI event codes referenced by the command/event correlation layer
// (Bluetooth Core Spec Vol 4, Part E, 7.7).
const (
	EventCommandComplete uint8 = 0x0E
	EventCommandStatus   uint8 = 0x0F
)

// Socket is the HCI transport contract, sharing pkg/l2cap.Transport's
// Read/Write/Close/IsInterrupted shape (spec.md §4.6: "like C3 with a
// shared write mutex").
type Socket interface {
	l2cap.Transport
}

// NewFake returns an in-memory HCI socket for tests, reusing pkg/l2cap's
// Fake transport since the framing contract is identical at this layer —
// only the kernel-facing bind/filter setup differs between C3 and C6.
func NewFake(inboundDepth int) Socket { return l2cap.NewFake(inboundDepth) }

// ReadFor is a convenience wrapper matching spec.md's read(buf, timeout)
// phrasing for callers that do not need the full Transport interface.
func ReadFor(s Socket, timeout time.Duration) ([]byte, error) { return s.Read(timeout) }
