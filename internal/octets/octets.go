// Package octets implements the owned, length-checked little-endian byte
// buffer used as the backing storage for every ATT, mgmt and EIR frame in
// btstack. A Buffer owns its storage; a View only ever borrows from one.
package octets

import (
	"encoding/binary"
	"fmt"
)

// Buffer is a resizable, little-endian byte container with bounds-checked
// accessors. The zero value is not usable; construct with New or Wrap.
type Buffer struct {
	data []byte
	size int
}

// New allocates a zero-filled buffer with the given capacity and size.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity), size: capacity}
}

// Wrap copies src into a new buffer of exactly len(src) bytes.
func Wrap(src []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(src)), size: len(src)}
	copy(b.data, src)
	return b
}

// Len returns the current logical size of the buffer.
func (b *Buffer) Len() int { return b.size }

// Cap returns the maximum size the buffer may be resized to.
func (b *Buffer) Cap() int { return len(b.data) }

// Bytes returns the logical content of the buffer. The caller must not
// retain the slice past the buffer's next mutation.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// Resize changes the logical size without exceeding capacity.
func (b *Buffer) Resize(size int) error {
	if size < 0 || size > len(b.data) {
		return fmt.Errorf("octets: resize %d exceeds capacity %d", size, len(b.data))
	}
	b.size = size
	return nil
}

func (b *Buffer) checkBounds(offset, width int) error {
	if offset < 0 || width < 0 || offset+width > b.size {
		return fmt.Errorf("octets: index out of range: offset=%d width=%d size=%d", offset, width, b.size)
	}
	return nil
}

// GetUint8 reads a single byte at offset.
func (b *Buffer) GetUint8(offset int) (uint8, error) {
	if err := b.checkBounds(offset, 1); err != nil {
		return 0, err
	}
	return b.data[offset], nil
}

// PutUint8 writes a single byte at offset.
func (b *Buffer) PutUint8(offset int, v uint8) error {
	if err := b.checkBounds(offset, 1); err != nil {
		return err
	}
	b.data[offset] = v
	return nil
}

// GetUint16 reads a little-endian uint16 at offset.
func (b *Buffer) GetUint16(offset int) (uint16, error) {
	if err := b.checkBounds(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b.data[offset:]), nil
}

// PutUint16 writes a little-endian uint16 at offset.
func (b *Buffer) PutUint16(offset int, v uint16) error {
	if err := b.checkBounds(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b.data[offset:], v)
	return nil
}

// GetUint32 reads a little-endian uint32 at offset.
func (b *Buffer) GetUint32(offset int) (uint32, error) {
	if err := b.checkBounds(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.data[offset:]), nil
}

// PutUint32 writes a little-endian uint32 at offset.
func (b *Buffer) PutUint32(offset int, v uint32) error {
	if err := b.checkBounds(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.data[offset:], v)
	return nil
}

// View returns a read-only, zero-copy slice [offset, offset+length). The
// returned slice aliases the buffer's storage and must not outlive it.
func (b *Buffer) View(offset, length int) ([]byte, error) {
	if err := b.checkBounds(offset, length); err != nil {
		return nil, err
	}
	return b.data[offset : offset+length : offset+length], nil
}

// PutBytes copies src into the buffer starting at offset.
func (b *Buffer) PutBytes(offset int, src []byte) error {
	if err := b.checkBounds(offset, len(src)); err != nil {
		return err
	}
	copy(b.data[offset:], src)
	return nil
}

// Move transfers ownership of the backing storage to the caller and leaves
// the buffer empty. Used when a PDU hands its bytes to a socket write.
func (b *Buffer) Move() []byte {
	out := b.data[:b.size]
	b.data = nil
	b.size = 0
	return out
}
