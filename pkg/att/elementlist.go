package att

import (
	"fmt"

	"github.com/arlojames/btstack/internal/octets"
)

// ElementListBuilder constructs a Read-By-Type or Read-By-Group-Type
// response: {op, element_size:u8, element[N]}. Every element in a single
// response shares one fixed width, so elements are filled by index into a
// pre-sized buffer and the frame is only ever finalized once — per spec.md
// Open Question #3, the element count is never an independently settable
// field, it falls out of Finalize resizing the buffer to
// value_offset + elementSize*n; ElementCount verifies divisibility on parse.
type ElementListBuilder struct {
	buf          *octets.Buffer
	op           Opcode
	groupType    bool // true for Read-By-Group-Type (4-byte handle prefix)
	prefixWidth  int
	valueWidth   int
	elementSize  int
	maxElements  int
}

// NewReadByTypeRspBuilder starts a Read-By-Type-Rsp builder. valueWidth is
// the fixed attribute value size every element in this response carries;
// maxElements bounds the buffer to the negotiated MTU.
func NewReadByTypeRspBuilder(valueWidth, maxElements int) *ElementListBuilder {
	return newElementListBuilder(OpReadByTypeRsp, false, 2, valueWidth, maxElements)
}

// NewReadByGroupTypeRspBuilder starts a Read-By-Group-Type-Rsp builder.
func NewReadByGroupTypeRspBuilder(valueWidth, maxElements int) *ElementListBuilder {
	return newElementListBuilder(OpReadByGroupTypeRsp, true, 4, valueWidth, maxElements)
}

func newElementListBuilder(op Opcode, groupType bool, prefixWidth, valueWidth, maxElements int) *ElementListBuilder {
	elementSize := prefixWidth + valueWidth
	capacity := 2 + elementSize*maxElements
	buf := octets.New(capacity)
	_ = buf.PutUint8(0, uint8(op))
	_ = buf.PutUint8(1, uint8(elementSize))
	return &ElementListBuilder{
		buf:         buf,
		op:          op,
		groupType:   groupType,
		prefixWidth: prefixWidth,
		valueWidth:  valueWidth,
		elementSize: elementSize,
		maxElements: maxElements,
	}
}

func (e *ElementListBuilder) elementOffset(i int) (int, error) {
	if i < 0 || i >= e.maxElements {
		return 0, fmt.Errorf("att: %w: element %d out of range [0,%d)", ErrIndexOutOfRange, i, e.maxElements)
	}
	return 2 + i*e.elementSize, nil
}

// SetElementHandle sets element i's attribute handle.
func (e *ElementListBuilder) SetElementHandle(i int, handle uint16) error {
	off, err := e.elementOffset(i)
	if err != nil {
		return err
	}
	return e.buf.PutUint16(off, handle)
}

// SetElementEndHandle sets element i's group end handle. Only valid for a
// Read-By-Group-Type-Rsp builder.
func (e *ElementListBuilder) SetElementEndHandle(i int, endHandle uint16) error {
	if !e.groupType {
		return fmt.Errorf("att: %w: end handle only valid for group-type responses", ErrInvalidFormat)
	}
	off, err := e.elementOffset(i)
	if err != nil {
		return err
	}
	return e.buf.PutUint16(off+2, endHandle)
}

// SetElementValue sets element i's attribute value. value must be exactly
// this builder's fixed value width.
func (e *ElementListBuilder) SetElementValue(i int, value []byte) error {
	if len(value) != e.valueWidth {
		return fmt.Errorf("att: %w: element value is %d bytes, want %d", ErrElementSizeMismatch, len(value), e.valueWidth)
	}
	off, err := e.elementOffset(i)
	if err != nil {
		return err
	}
	return e.buf.PutBytes(off+e.prefixWidth, value)
}

// Finalize resizes the frame to carry exactly n elements and returns the
// completed PDU. n must be between 1 and the builder's maxElements.
func (e *ElementListBuilder) Finalize(n int) (*PDU, error) {
	if n <= 0 || n > e.maxElements {
		return nil, fmt.Errorf("att: %w: element count %d out of range [1,%d]", ErrIndexOutOfRange, n, e.maxElements)
	}
	size := 2 + e.elementSize*n
	if err := e.buf.Resize(size); err != nil {
		return nil, err
	}
	return &PDU{buf: e.buf, opcode: e.op}, nil
}

// ElementSize returns a parsed Read-By-Type-Rsp or Read-By-Group-Type-Rsp's
// per-element width, as declared in byte 1 of the frame.
func (p *PDU) ElementSize() (int, error) {
	if err := p.CheckOpcode(OpReadByTypeRsp, OpReadByGroupTypeRsp); err != nil {
		return 0, err
	}
	sz, err := p.buf.GetUint8(1)
	if err != nil {
		return 0, err
	}
	return int(sz), nil
}

// ElementCount returns the number of elements in a parsed Read-By-Type-Rsp
// or Read-By-Group-Type-Rsp, verifying the value field divides evenly by
// the declared element size.
func (p *PDU) ElementCount() (int, error) {
	elemSize, err := p.ElementSize()
	if err != nil {
		return 0, err
	}
	if elemSize <= 0 {
		return 0, fmt.Errorf("att: %w: element size must be positive", ErrInvalidFormat)
	}
	valSize, err := p.ValueSize()
	if err != nil {
		return 0, err
	}
	if valSize%elemSize != 0 {
		return 0, fmt.Errorf("att: %w: value size %d not divisible by element size %d", ErrElementSizeMismatch, valSize, elemSize)
	}
	return valSize / elemSize, nil
}

// Element decodes element i of a parsed Read-By-Type-Rsp or
// Read-By-Group-Type-Rsp. endHandle is only meaningful (and non-zero) for
// Read-By-Group-Type-Rsp.
func (p *PDU) Element(i int) (handle uint16, endHandle uint16, value []byte, err error) {
	elemSize, err := p.ElementSize()
	if err != nil {
		return 0, 0, nil, err
	}
	count, err := p.ElementCount()
	if err != nil {
		return 0, 0, nil, err
	}
	if i < 0 || i >= count {
		return 0, 0, nil, fmt.Errorf("att: %w: element %d out of range [0,%d)", ErrIndexOutOfRange, i, count)
	}
	base := 2 + i*elemSize
	handle, err = p.buf.GetUint16(base)
	if err != nil {
		return 0, 0, nil, err
	}
	prefixWidth := 2
	if p.opcode == OpReadByGroupTypeRsp {
		prefixWidth = 4
		endHandle, err = p.buf.GetUint16(base + 2)
		if err != nil {
			return 0, 0, nil, err
		}
	}
	value, err = p.buf.View(base+prefixWidth, elemSize-prefixWidth)
	if err != nil {
		return 0, 0, nil, err
	}
	return handle, endHandle, value, nil
}

// NewReadByTypeReq builds a Read By Type Request.
func NewReadByTypeReq(startHandle, endHandle uint16, attrType UUID) *PDU {
	encoded := attrType.AppendLE(nil)
	p := newFrame(OpReadByTypeReq, 5+len(encoded))
	_ = p.buf.PutUint16(1, startHandle)
	_ = p.buf.PutUint16(3, endHandle)
	_ = p.buf.PutBytes(5, encoded)
	return p
}

// NewReadByGroupTypeReq builds a Read By Group Type Request.
func NewReadByGroupTypeReq(startHandle, endHandle uint16, groupType UUID) *PDU {
	encoded := groupType.AppendLE(nil)
	p := newFrame(OpReadByGroupTypeReq, 5+len(encoded))
	_ = p.buf.PutUint16(1, startHandle)
	_ = p.buf.PutUint16(3, endHandle)
	_ = p.buf.PutBytes(5, encoded)
	return p
}

// AttributeType decodes the attribute/group type UUID carried by a parsed
// Read-By-Type-Req or Read-By-Group-Type-Req (the bytes following the
// start/end handle pair).
func (p *PDU) AttributeType() (UUID, error) {
	if err := p.CheckOpcode(OpReadByTypeReq, OpReadByGroupTypeReq); err != nil {
		return UUID{}, err
	}
	raw, err := p.Value()
	if err != nil {
		return UUID{}, err
	}
	return ParseUUIDLE(raw)
}

// FindByTypeValueParams decodes a parsed Find-By-Type-Value Request:
// {start, end, attr_type:u16, attr_value}.
func (p *PDU) FindByTypeValueParams() (start, end uint16, attrType uint16, attrValue []byte, err error) {
	if err = p.CheckOpcode(OpFindByTypeValueReq); err != nil {
		return
	}
	start, end, err = p.HandleRange()
	if err != nil {
		return
	}
	raw, err := p.Value()
	if err != nil {
		return
	}
	if len(raw) < 2 {
		err = fmt.Errorf("att: %w: find-by-type-value request too short", ErrInvalidPDU)
		return
	}
	attrType = uint16(raw[0]) | uint16(raw[1])<<8
	attrValue = raw[2:]
	return
}

// NewFindByTypeValueRsp builds a Find-By-Type-Value Response: a list of
// fixed-width {handle:u16, group_end_handle:u16} pairs.
func NewFindByTypeValueRsp(handles [][2]uint16) *PDU {
	p := newFrame(OpFindByTypeValueRsp, 1+4*len(handles))
	for i, pair := range handles {
		off := 1 + 4*i
		_ = p.buf.PutUint16(off, pair[0])
		_ = p.buf.PutUint16(off+2, pair[1])
	}
	return p
}

// FindByTypeValueElement decodes element i of a parsed Find-By-Type-Value
// Response.
func (p *PDU) FindByTypeValueElement(i int) (handle, groupEndHandle uint16, err error) {
	if err = p.CheckOpcode(OpFindByTypeValueRsp); err != nil {
		return
	}
	valSize, err := p.ValueSize()
	if err != nil {
		return
	}
	if valSize%4 != 0 {
		err = fmt.Errorf("att: %w: value size %d not divisible by 4", ErrElementSizeMismatch, valSize)
		return
	}
	count := valSize / 4
	if i < 0 || i >= count {
		err = fmt.Errorf("att: %w: element %d out of range [0,%d)", ErrIndexOutOfRange, i, count)
		return
	}
	base := 1 + 4*i
	handle, err = p.buf.GetUint16(base)
	if err != nil {
		return
	}
	groupEndHandle, err = p.buf.GetUint16(base + 2)
	return
}

// NewFindInformationReq builds a Find Information Request.
func NewFindInformationReq(startHandle, endHandle uint16) *PDU {
	p := newFrame(OpFindInformationReq, 5)
	_ = p.buf.PutUint16(1, startHandle)
	_ = p.buf.PutUint16(3, endHandle)
	return p
}

// HandleRange decodes the start/end handle pair carried by any of the
// *-by-type/group-type/find-information request PDUs.
func (p *PDU) HandleRange() (start, end uint16, err error) {
	start, err = p.buf.GetUint16(1)
	if err != nil {
		return 0, 0, err
	}
	end, err = p.buf.GetUint16(3)
	return start, end, err
}

// Find Information Response format-byte values (Bluetooth Core Spec Vol 3,
// Part F, 3.4.3.2): 0x01 selects 16-bit UUID elements, 0x02 selects
// 128-bit UUID elements.
const (
	FindInfoFormat16Bit  uint8 = 0x01
	FindInfoFormat128Bit uint8 = 0x02
)

// FindInformationRspBuilder constructs a Find-Information-Rsp. All
// elements share one UUID width, selected by the format byte.
type FindInformationRspBuilder struct {
	buf         *octets.Buffer
	format      uint8
	uuidWidth   int
	elementSize int
	maxElements int
}

// NewFindInformationRspBuilder starts a builder for the given UUID format
// (FindInfoFormat16Bit or FindInfoFormat128Bit).
func NewFindInformationRspBuilder(format uint8, maxElements int) (*FindInformationRspBuilder, error) {
	var uuidWidth int
	switch format {
	case FindInfoFormat16Bit:
		uuidWidth = 2
	case FindInfoFormat128Bit:
		uuidWidth = 16
	default:
		return nil, fmt.Errorf("att: %w: format byte 0x%02x", ErrInvalidFormat, format)
	}
	elementSize := 2 + uuidWidth
	buf := octets.New(2 + elementSize*maxElements)
	_ = buf.PutUint8(0, uint8(OpFindInformationRsp))
	_ = buf.PutUint8(1, format)
	return &FindInformationRspBuilder{buf: buf, format: format, uuidWidth: uuidWidth, elementSize: elementSize, maxElements: maxElements}, nil
}

// SetElement sets element i's handle and attribute type UUID.
func (b *FindInformationRspBuilder) SetElement(i int, handle uint16, u UUID) error {
	if i < 0 || i >= b.maxElements {
		return fmt.Errorf("att: %w: element %d out of range [0,%d)", ErrIndexOutOfRange, i, b.maxElements)
	}
	if (b.uuidWidth == 2) == u.Is128Bit() {
		return fmt.Errorf("att: %w: uuid width mismatch for format 0x%02x", ErrUnsupportedUUID, b.format)
	}
	off := 2 + i*b.elementSize
	if err := b.buf.PutUint16(off, handle); err != nil {
		return err
	}
	encoded := u.AppendLE(make([]byte, 0, b.uuidWidth))
	return b.buf.PutBytes(off+2, encoded)
}

// Finalize resizes the frame to carry exactly n elements.
func (b *FindInformationRspBuilder) Finalize(n int) (*PDU, error) {
	if n <= 0 || n > b.maxElements {
		return nil, fmt.Errorf("att: %w: element count %d out of range [1,%d]", ErrIndexOutOfRange, n, b.maxElements)
	}
	size := 2 + b.elementSize*n
	if err := b.buf.Resize(size); err != nil {
		return nil, err
	}
	return &PDU{buf: b.buf, opcode: OpFindInformationRsp}, nil
}

// FindInformationFormat returns a parsed Find-Information-Rsp's format byte.
func (p *PDU) FindInformationFormat() (uint8, error) {
	if err := p.CheckOpcode(OpFindInformationRsp); err != nil {
		return 0, err
	}
	return p.buf.GetUint8(1)
}

// FindInformationElement decodes element i of a parsed Find-Information-Rsp.
func (p *PDU) FindInformationElement(i int) (handle uint16, u UUID, err error) {
	format, err := p.FindInformationFormat()
	if err != nil {
		return 0, UUID{}, err
	}
	var uuidWidth int
	switch format {
	case FindInfoFormat16Bit:
		uuidWidth = 2
	case FindInfoFormat128Bit:
		uuidWidth = 16
	default:
		return 0, UUID{}, fmt.Errorf("att: %w: format byte 0x%02x", ErrInvalidFormat, format)
	}
	elemSize := 2 + uuidWidth
	valSize, err := p.ValueSize()
	if err != nil {
		return 0, UUID{}, err
	}
	if valSize%elemSize != 0 {
		return 0, UUID{}, fmt.Errorf("att: %w: value size %d not divisible by element size %d", ErrElementSizeMismatch, valSize, elemSize)
	}
	count := valSize / elemSize
	if i < 0 || i >= count {
		return 0, UUID{}, fmt.Errorf("att: %w: element %d out of range [0,%d)", ErrIndexOutOfRange, i, count)
	}
	base := 2 + i*elemSize
	handle, err = p.buf.GetUint16(base)
	if err != nil {
		return 0, UUID{}, err
	}
	raw, err := p.buf.View(base+2, uuidWidth)
	if err != nil {
		return 0, UUID{}, err
	}
	u, err = ParseUUIDLE(raw)
	return handle, u, err
}
