// Package gattdb implements the local GATT server database (SPEC_FULL.md
// component C5): a service/characteristic/descriptor tree with handles
// assigned in a single publication pass, CCCD value encode/decode, and a
// deduplicated, insertion-ordered listener registry.
package gattdb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arlojames/btstack/pkg/att"
)

// Mode selects how a handler's request dispatch treats the database.
type Mode int

const (
	// NOP rejects every read/write with AttributeNotFound; used for
	// connections that should expose no local attributes at all.
	NOP Mode = iota
	// DB serves requests from this process's own attribute tree.
	DB
	// FWD forwards requests to another device's database. Out of scope
	// for this implementation (spec.md §1 Out of scope); Database
	// exposes the constant so callers can detect and reject it early
	// rather than silently miscompile a forwarding proxy.
	FWD
)

// Handle is a GATT attribute handle. 0 is invalid; 0xFFFF is the maximum.
type Handle = uint16

const (
	InvalidHandle Handle = 0x0000
	MaxHandle     Handle = 0xFFFF
)

// Descriptor is a leaf attribute under a Characteristic.
type Descriptor struct {
	Handle Handle
	UUID   att.UUID
	Value  []byte

	parent *Characteristic
}

// Characteristic owns an ordered list of descriptors and a cached value.
type Characteristic struct {
	DeclHandle  Handle // the characteristic declaration attribute
	ValueHandle Handle // the value attribute, declared immediately after
	EndHandle   Handle // last handle owned transitively by this characteristic

	UUID       att.UUID
	Properties uint8
	Value      []byte
	Variable   bool // false ⇒ fixed-length value

	Descriptors []*Descriptor

	cccdIndex int // index into Descriptors, or -1 if absent
	userDescIndex int

	parent *Service
}

// Characteristic property bits (Bluetooth Core Spec Vol 3, Part G, 3.3.1.1).
const (
	PropBroadcast       uint8 = 1 << 0
	PropRead            uint8 = 1 << 1
	PropWriteNoAck      uint8 = 1 << 2
	PropWriteWithAck    uint8 = 1 << 3
	PropNotify          uint8 = 1 << 4
	PropIndicate        uint8 = 1 << 5
	PropAuthSignedWrite uint8 = 1 << 6
	PropExtProps        uint8 = 1 << 7
)

// Service owns an ordered list of characteristics.
type Service struct {
	Handle    Handle // the service declaration attribute
	EndHandle Handle // last handle assigned within this service
	UUID      att.UUID
	Primary   bool

	Characteristics []*Characteristic
}

// CCCDState is decoded Client Characteristic Configuration state:
// bit 0 enables notifications, bit 1 enables indications.
type CCCDState struct {
	NotifyEnabled   bool
	IndicateEnabled bool
}

const (
	cccdBitNotify   uint16 = 1 << 0
	cccdBitIndicate uint16 = 1 << 1
)

// DecodeCCCD unpacks a raw little-endian CCCD value.
func DecodeCCCD(raw []byte) (CCCDState, error) {
	if len(raw) != 2 {
		return CCCDState{}, fmt.Errorf("gattdb: %w: cccd must be 2 bytes, got %d", att.ErrInvalidFormat, len(raw))
	}
	v := uint16(raw[0]) | uint16(raw[1])<<8
	return CCCDState{
		NotifyEnabled:   v&cccdBitNotify != 0,
		IndicateEnabled: v&cccdBitIndicate != 0,
	}, nil
}

// EncodeCCCD packs a CCCDState back to its 2-byte wire form.
func EncodeCCCD(s CCCDState) []byte {
	var v uint16
	if s.NotifyEnabled {
		v |= cccdBitNotify
	}
	if s.IndicateEnabled {
		v |= cccdBitIndicate
	}
	return []byte{byte(v), byte(v >> 8)}
}

// Listener receives server-role callbacks. Every method may be called
// concurrently with others in the registry (fan-out iterates a snapshot);
// implementations must not block. Per spec.md §4.4, exactly one listener
// interface serves the server role — gatt.Listener is the client-role
// analogue.
type Listener interface {
	// ReadCharacteristicValue is consulted before a read is served; a
	// false return rejects the request with NoReadPerm.
	ReadCharacteristicValue(connAddr string, s *Service, c *Characteristic) bool
	// ReadDescriptorValue is the descriptor-scoped analogue.
	ReadDescriptorValue(connAddr string, s *Service, c *Characteristic, d *Descriptor) bool
	// WriteCharacteristicValue is consulted before a write is applied; a
	// false return rejects the request with NoWritePerm.
	WriteCharacteristicValue(connAddr string, s *Service, c *Characteristic, value []byte, offset int) bool
	WriteDescriptorValue(connAddr string, s *Service, c *Characteristic, d *Descriptor, value []byte, offset int) bool
	// WriteCharacteristicValueDone/WriteDescriptorValueDone fire after
	// the write has been applied to the stored value.
	WriteCharacteristicValueDone(connAddr string, s *Service, c *Characteristic)
	WriteDescriptorValueDone(connAddr string, s *Service, c *Characteristic, d *Descriptor)
	// ClientCharConfigChanged fires after a successful CCCD write.
	ClientCharConfigChanged(connAddr string, s *Service, c *Characteristic, d *Descriptor, notifyEnabled, indicateEnabled bool)
}

// Database is the server-role attribute tree.
type Database struct {
	mode Mode

	mu       sync.RWMutex
	services []*Service

	listenersMu sync.Mutex
	listeners   []Listener // copy-on-write, identity-deduplicated, insertion order
}

// New constructs a Database in the given mode.
func New(mode Mode) *Database { return &Database{mode: mode} }

// Mode returns the database's operating mode.
func (d *Database) Mode() Mode { return d.mode }

// AddService appends a service to the tree in declaration order. Handles
// are not assigned until SetHandles is called.
func (d *Database) AddService(s *Service) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range s.Characteristics {
		c.parent = s
		c.cccdIndex = -1
		c.userDescIndex = -1
		for i, desc := range c.Descriptors {
			desc.parent = c
			switch {
			case desc.UUID.Equal(att.ClientCharacteristicConfigUUID):
				c.cccdIndex = i
			case desc.UUID.Equal(att.CharacteristicUserDescUUID):
				c.userDescIndex = i
			}
		}
	}
	d.services = append(d.services, s)
}

// SetHandles assigns every handle in the tree in a single pass: a counter
// starting at 1 walks services in declaration order, assigning the service
// handle, then per characteristic the declaration handle, value handle,
// then each descriptor handle. The service's EndHandle is the last handle
// assigned within it. Returns the total handle count.
func (d *Database) SetHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var next Handle = 1
	for _, s := range d.services {
		s.Handle = next
		next++
		for _, c := range s.Characteristics {
			c.DeclHandle = next
			next++
			c.ValueHandle = next
			next++
			for _, desc := range c.Descriptors {
				desc.Handle = next
				next++
			}
			c.EndHandle = next - 1
		}
		s.EndHandle = next - 1
	}
	return int(next) - 1
}

// FindService returns the first service matching uuid.
func (d *Database) FindService(uuid att.UUID) (*Service, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.services {
		if s.UUID.Equal(uuid) {
			return s, true
		}
	}
	return nil, false
}

// FindChar returns the characteristic matching charUUID within the first
// service matching serviceUUID.
func (d *Database) FindChar(serviceUUID, charUUID att.UUID) (*Service, *Characteristic, bool) {
	s, ok := d.FindService(serviceUUID)
	if !ok {
		return nil, nil, false
	}
	for _, c := range s.Characteristics {
		if c.UUID.Equal(charUUID) {
			return s, c, true
		}
	}
	return nil, nil, false
}

// FindCharByValueHandle locates the characteristic whose value handle is
// h; descriptor handles do not match.
func (d *Database) FindCharByValueHandle(h Handle) (*Service, *Characteristic, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.services {
		for _, c := range s.Characteristics {
			if c.ValueHandle == h {
				return s, c, true
			}
		}
	}
	return nil, nil, false
}

// FindAttribute locates whichever service/characteristic/descriptor owns
// handle h, covering declaration, value, and descriptor handles alike.
func (d *Database) FindAttribute(h Handle) (s *Service, c *Characteristic, desc *Descriptor, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, svc := range d.services {
		if svc.Handle == h {
			return svc, nil, nil, true
		}
		for _, ch := range svc.Characteristics {
			if ch.DeclHandle == h || ch.ValueHandle == h {
				return svc, ch, nil, true
			}
			for _, d2 := range ch.Descriptors {
				if d2.Handle == h {
					return svc, ch, d2, true
				}
			}
		}
	}
	return nil, nil, nil, false
}

// FindCCCD returns the CCCD descriptor of the characteristic matching
// charUUID within the service matching serviceUUID, if present.
func (d *Database) FindCCCD(serviceUUID, charUUID att.UUID) (*Descriptor, bool) {
	_, c, ok := d.FindChar(serviceUUID, charUUID)
	if !ok || c.cccdIndex < 0 {
		return nil, false
	}
	return c.Descriptors[c.cccdIndex], true
}

// ResetCCCD zeroes the stored CCCD value for the characteristic matching
// charUUID within the service matching serviceUUID.
func (d *Database) ResetCCCD(serviceUUID, charUUID att.UUID) error {
	desc, ok := d.FindCCCD(serviceUUID, charUUID)
	if !ok {
		return fmt.Errorf("gattdb: no cccd for characteristic %s in service %s", charUUID, serviceUUID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	desc.Value = []byte{0x00, 0x00}
	return nil
}

// ServicesInHandleOrder returns every service sorted ascending by handle,
// used by the iterate-by-handle request handlers (Read-By-Type,
// Read-By-Group-Type, Find-By-Type-Value).
func (d *Database) ServicesInHandleOrder() []*Service {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Service, len(d.services))
	copy(out, d.services)
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// AddListener registers l if it is not already present (identity
// comparison), copy-on-write so concurrent fan-out sees a stable snapshot.
func (d *Database) AddListener(l Listener) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	for _, existing := range d.listeners {
		if existing == l {
			return
		}
	}
	next := make([]Listener, len(d.listeners)+1)
	copy(next, d.listeners)
	next[len(d.listeners)] = l
	d.listeners = next
}

// RemoveListener unregisters l if present.
func (d *Database) RemoveListener(l Listener) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	next := make([]Listener, 0, len(d.listeners))
	for _, existing := range d.listeners {
		if existing != l {
			next = append(next, existing)
		}
	}
	d.listeners = next
}

// Listeners returns a stable snapshot of the registry in insertion order.
func (d *Database) Listeners() []Listener {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	return d.listeners
}
