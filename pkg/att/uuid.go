package att

import (
	"fmt"

	"github.com/google/uuid"
)

// UUID is a GATT attribute type: either a 16-bit Bluetooth-assigned number
// or a full 128-bit UUID. Bluetooth serializes UUID128 LSB-first on the
// wire, the reverse of RFC 4122's big-endian byte order that
// github.com/google/uuid.UUID uses for String()/Parse() — AppendLE and
// ParseUUID128LE below account for that explicitly rather than leaving it
// implicit in byte-slicing.
type UUID struct {
	short    uint16
	full     uuid.UUID
	is128bit bool
}

// bluetoothBase is the Bluetooth SIG base UUID; a 16-bit UUID u expands to
// bluetoothBase with bytes 2-3 replaced by u.
var bluetoothBase = uuid.MustParse("00000000-0000-1000-8000-00805F9B34FB")

// UUID16 constructs a UUID from a 16-bit Bluetooth-assigned number.
func UUID16(v uint16) UUID { return UUID{short: v} }

// UUID128 constructs a UUID from a full 128-bit value.
func UUID128(v uuid.UUID) UUID { return UUID{full: v, is128bit: true} }

// Is128Bit reports whether u carries a full 128-bit value.
func (u UUID) Is128Bit() bool { return u.is128bit }

// Short returns the 16-bit value and true if u is a 16-bit UUID.
func (u UUID) Short() (uint16, bool) { return u.short, !u.is128bit }

// Full expands u to its full 128-bit form, substituting the Bluetooth base
// UUID's reserved 16 bits when u is itself 16-bit.
func (u UUID) Full() uuid.UUID {
	if u.is128bit {
		return u.full
	}
	full := bluetoothBase
	full[2] = byte(u.short >> 8)
	full[3] = byte(u.short)
	return full
}

func (u UUID) String() string {
	if !u.is128bit {
		return fmt.Sprintf("0x%04X", u.short)
	}
	return u.full.String()
}

// Equal reports whether two UUIDs denote the same attribute type,
// regardless of whether one is expressed in 16-bit or 128-bit form.
func (u UUID) Equal(other UUID) bool {
	return u.Full() == other.Full()
}

// AppendLE appends u's wire representation (2 or 16 bytes, LSB-first) to
// dst and returns the extended slice.
func (u UUID) AppendLE(dst []byte) []byte {
	if !u.is128bit {
		return append(dst, byte(u.short), byte(u.short>>8))
	}
	// uuid.UUID stores bytes in RFC 4122 (big-endian) order; Bluetooth
	// puts the least-significant octet first.
	b := u.full
	for i := len(b) - 1; i >= 0; i-- {
		dst = append(dst, b[i])
	}
	return dst
}

// ParseUUID16LE reads a 2-byte little-endian UUID16 from b.
func ParseUUID16LE(b []byte) (UUID, error) {
	if len(b) != 2 {
		return UUID{}, fmt.Errorf("att: %w: uuid16 needs 2 bytes, got %d", ErrUnsupportedUUID, len(b))
	}
	return UUID16(uint16(b[0]) | uint16(b[1])<<8), nil
}

// ParseUUID128LE reads a 16-byte little-endian (Bluetooth order) UUID128
// from b and converts it to RFC 4122 big-endian form for storage.
func ParseUUID128LE(b []byte) (UUID, error) {
	if len(b) != 16 {
		return UUID{}, fmt.Errorf("att: %w: uuid128 needs 16 bytes, got %d", ErrUnsupportedUUID, len(b))
	}
	var full uuid.UUID
	for i := 0; i < 16; i++ {
		full[i] = b[15-i]
	}
	return UUID128(full), nil
}

// ParseUUIDLE parses either a 2-byte or 16-byte little-endian UUID.
func ParseUUIDLE(b []byte) (UUID, error) {
	switch len(b) {
	case 2:
		return ParseUUID16LE(b)
	case 16:
		return ParseUUID128LE(b)
	default:
		return UUID{}, fmt.Errorf("att: %w: got %d bytes", ErrUnsupportedUUID, len(b))
	}
}

// Well-known GATT UUIDs used by the discovery and server-DB layers.
var (
	PrimaryServiceUUID   = UUID16(0x2800)
	SecondaryServiceUUID = UUID16(0x2801)
	IncludeUUID          = UUID16(0x2802)
	CharacteristicUUID   = UUID16(0x2803)

	ClientCharacteristicConfigUUID = UUID16(0x2902)
	CharacteristicUserDescUUID     = UUID16(0x2901)
	ServerCharacteristicConfigUUID = UUID16(0x2903)
)
