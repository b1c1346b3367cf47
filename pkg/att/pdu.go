package att

import (
	"fmt"

	"github.com/arlojames/btstack/internal/octets"
)

// PDU is a parsed or constructed ATT frame: {opcode, param, auth_sig}. It
// owns its backing storage (internal/octets.Buffer); any Value()/element
// byte slice it returns is a zero-copy view into that storage and must not
// outlive the PDU.
type PDU struct {
	buf    *octets.Buffer
	opcode Opcode
}

// valueOffset returns the PDU-type-specific offset (from the start of the
// frame, including the opcode byte) at which the value field begins. This
// mirrors spec.md §4.2: 1 for plain responses, 3 for handle-prefixed PDUs,
// 5 for PDUs carrying both a handle and a 16-bit offset field.
func valueOffset(op Opcode) (int, error) {
	switch op.Method() {
	case OpErrorRsp:
		return 5, nil // {op, caused_op, caused_handle, code} — fixed, no value tail
	case OpExchangeMTUReq, OpExchangeMTURsp:
		return 1, nil
	case OpFindInformationReq:
		return 5, nil
	case OpFindInformationRsp:
		return 2, nil
	case OpFindByTypeValueReq:
		return 5, nil
	case OpFindByTypeValueRsp:
		return 1, nil
	case OpReadByTypeReq, OpReadByGroupTypeReq:
		return 5, nil
	case OpReadByTypeRsp, OpReadByGroupTypeRsp:
		return 2, nil
	case OpReadReq:
		return 3, nil
	case OpReadRsp:
		return 1, nil
	case OpReadBlobReq:
		return 5, nil
	case OpReadBlobRsp:
		return 1, nil
	case OpReadMultipleReq, OpReadMultipleRsp:
		return 1, nil
	case OpWriteReq:
		return 3, nil
	case OpWriteRsp:
		return 1, nil
	case OpPrepareWriteReq, OpPrepareWriteRsp:
		return 5, nil
	case OpExecuteWriteReq:
		return 1, nil
	case OpExecuteWriteRsp:
		return 1, nil
	case OpHandleValueNtf, OpHandleValueInd:
		return 3, nil
	case OpHandleValueCfm:
		return 1, nil
	case OpUndefined:
		return 1, nil
	default:
		return 0, fmt.Errorf("att: %w: unknown opcode 0x%02x", ErrInvalidPDU, uint8(op))
	}
}

// minSize is the smallest legal frame size for op, used to reject truncated
// frames during Parse.
func minSize(op Opcode) (int, error) {
	switch op.Method() {
	case OpErrorRsp:
		return 5, nil
	case OpExchangeMTUReq, OpExchangeMTURsp:
		return 3, nil
	case OpFindInformationReq:
		return 5, nil
	case OpFindInformationRsp:
		return 2, nil
	case OpFindByTypeValueReq:
		return 7, nil
	case OpFindByTypeValueRsp:
		return 5, nil
	case OpReadByTypeReq, OpReadByGroupTypeReq:
		return 7, nil
	case OpReadByTypeRsp, OpReadByGroupTypeRsp:
		return 4, nil
	case OpReadReq:
		return 3, nil
	case OpReadRsp:
		return 1, nil
	case OpReadBlobReq:
		return 5, nil
	case OpReadBlobRsp:
		return 1, nil
	case OpReadMultipleReq:
		return 5, nil
	case OpReadMultipleRsp:
		return 1, nil
	case OpWriteReq:
		return 3, nil
	case OpWriteRsp:
		return 1, nil
	case OpPrepareWriteReq, OpPrepareWriteRsp:
		return 5, nil
	case OpExecuteWriteReq:
		return 2, nil
	case OpExecuteWriteRsp:
		return 1, nil
	case OpHandleValueNtf, OpHandleValueInd:
		return 3, nil
	case OpHandleValueCfm:
		return 1, nil
	case OpUndefined:
		return 1, nil
	default:
		return 0, fmt.Errorf("att: %w: unknown opcode 0x%02x", ErrInvalidPDU, uint8(op))
	}
}

// Parse reads raw as an ATT PDU, dispatching on its opcode. Unknown opcodes
// produce an opaque PDU retaining the raw bytes (spec.md Open Question:
// PDU_UNDEFINED and any opcode this codec does not know are preserved for
// debugging rather than rejected outright — only truncated *known* opcodes
// are an error).
func Parse(raw []byte) (*PDU, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("att: %w: empty frame", ErrInvalidPDU)
	}
	op := Opcode(raw[0])
	p := &PDU{buf: octets.Wrap(raw), opcode: op}

	want, err := minSize(op)
	if err != nil {
		// Unknown opcode: keep it as an opaque PDU rather than failing.
		return p, nil
	}
	if len(raw) < want {
		return nil, fmt.Errorf("att: %w: %s needs >= %d bytes, got %d", ErrInvalidPDU, op, want, len(raw))
	}
	return p, nil
}

// Opcode returns the PDU's opcode byte.
func (p *PDU) Opcode() Opcode { return p.opcode }

// Size returns the total frame size including the opcode byte and any
// authentication signature tail.
func (p *PDU) Size() int { return p.buf.Len() }

// Bytes returns the raw frame bytes (opcode, params, and signature tail).
func (p *PDU) Bytes() []byte { return p.buf.Bytes() }

// AuthSigSize returns 12 if the opcode's auth-signature-flag bit is set,
// else 0. The signature itself is never parsed; it is only accounted for
// when computing offsets/sizes of the fields that precede it.
func (p *PDU) AuthSigSize() int {
	if p.opcode.HasAuthSignature() {
		return 12
	}
	return 0
}

// ParamSize is the size of the PDU excluding the opcode byte and any
// trailing authentication signature.
func (p *PDU) ParamSize() int { return p.Size() - p.AuthSigSize() - 1 }

// ValueOffset is the PDU-type-specific byte offset, from the start of the
// frame, at which the value field begins.
func (p *PDU) ValueOffset() (int, error) { return valueOffset(p.opcode) }

// ValueSize is the length of the value field, excluding the auth signature.
func (p *PDU) ValueSize() (int, error) {
	off, err := p.ValueOffset()
	if err != nil {
		return 0, err
	}
	size := p.Size() - p.AuthSigSize() - off
	if size < 0 {
		return 0, fmt.Errorf("att: %w: negative value size", ErrInvalidPDU)
	}
	return size, nil
}

// Value returns a zero-copy view of the value field.
func (p *PDU) Value() ([]byte, error) {
	off, err := p.ValueOffset()
	if err != nil {
		return nil, err
	}
	size, err := p.ValueSize()
	if err != nil {
		return nil, err
	}
	return p.buf.View(off, size)
}

// CheckOpcode validates that the PDU's opcode is one of the expected set —
// callers pass two opcodes for variants that serve both request and
// response roles (MTU exchange's single accessor, notification vs.
// indication, read vs. blob-read response).
func (p *PDU) CheckOpcode(expected ...Opcode) error {
	for _, e := range expected {
		if p.opcode == e {
			return nil
		}
	}
	return fmt.Errorf("att: %w: got %s, want one of %v", ErrInvalidPDU, p.opcode, expected)
}

// Handle returns the 16-bit attribute handle for handle-prefixed PDUs
// (those whose ValueOffset is 3 or 5: Read/Write Req, Prepare Write
// Req/Rsp, Handle-Value Ntf/Ind).
func (p *PDU) Handle() (uint16, error) {
	off, err := p.ValueOffset()
	if err != nil {
		return 0, err
	}
	if off != 3 && off != 5 {
		return 0, fmt.Errorf("att: %w: %s has no handle field", ErrInvalidPDU, p.opcode)
	}
	return p.buf.GetUint16(1)
}

// Offset returns the 16-bit value-offset field for PDUs whose ValueOffset
// is 5 (Read Blob Req, Prepare Write Req/Rsp).
func (p *PDU) Offset() (uint16, error) {
	off, err := p.ValueOffset()
	if err != nil {
		return 0, err
	}
	if off != 5 {
		return 0, fmt.Errorf("att: %w: %s has no offset field", ErrInvalidPDU, p.opcode)
	}
	return p.buf.GetUint16(3)
}

func newFrame(op Opcode, size int) *PDU {
	buf := octets.New(size)
	_ = buf.PutUint8(0, uint8(op))
	return &PDU{buf: buf, opcode: op}
}

// NewErrorRsp builds an ATT Error Response.
func NewErrorRsp(causedOpcode Opcode, causedHandle uint16, code ErrorCode) *PDU {
	p := newFrame(OpErrorRsp, 5)
	_ = p.buf.PutUint8(1, uint8(causedOpcode))
	_ = p.buf.PutUint16(2, causedHandle)
	_ = p.buf.PutUint8(4, uint8(code))
	return p
}

// ErrorInfo decodes an Error Response's fields.
func (p *PDU) ErrorInfo() (causedOpcode Opcode, causedHandle uint16, code ErrorCode, err error) {
	if err = p.CheckOpcode(OpErrorRsp); err != nil {
		return
	}
	b, err := p.buf.GetUint8(1)
	if err != nil {
		return
	}
	causedOpcode = Opcode(b)
	causedHandle, err = p.buf.GetUint16(2)
	if err != nil {
		return
	}
	c, err := p.buf.GetUint8(4)
	code = ErrorCode(c)
	return
}

// AsError converts an Error Response PDU into an *Error, or nil if p is not
// one.
func (p *PDU) AsError() *Error {
	if p.opcode != OpErrorRsp {
		return nil
	}
	causedOp, causedHandle, code, err := p.ErrorInfo()
	if err != nil {
		return nil
	}
	return &Error{CausedOpcode: causedOp, CausedHandle: causedHandle, Code: code}
}

// NewExchangeMTUReq builds an Exchange MTU Request.
func NewExchangeMTUReq(mtu uint16) *PDU {
	p := newFrame(OpExchangeMTUReq, 3)
	_ = p.buf.PutUint16(1, mtu)
	return p
}

// NewExchangeMTURsp builds an Exchange MTU Response.
func NewExchangeMTURsp(mtu uint16) *PDU {
	p := newFrame(OpExchangeMTURsp, 3)
	_ = p.buf.PutUint16(1, mtu)
	return p
}

// MTU decodes the MTU field of an Exchange MTU Req/Rsp.
func (p *PDU) MTU() (uint16, error) {
	if err := p.CheckOpcode(OpExchangeMTUReq, OpExchangeMTURsp); err != nil {
		return 0, err
	}
	return p.buf.GetUint16(1)
}

// NewReadReq builds a Read Request.
func NewReadReq(handle uint16) *PDU {
	p := newFrame(OpReadReq, 3)
	_ = p.buf.PutUint16(1, handle)
	return p
}

// NewReadRsp builds a Read Response.
func NewReadRsp(value []byte) *PDU {
	p := newFrame(OpReadRsp, 1+len(value))
	_ = p.buf.PutBytes(1, value)
	return p
}

// NewReadBlobReq builds a Read Blob Request.
func NewReadBlobReq(handle, offset uint16) *PDU {
	p := newFrame(OpReadBlobReq, 5)
	_ = p.buf.PutUint16(1, handle)
	_ = p.buf.PutUint16(3, offset)
	return p
}

// NewReadBlobRsp builds a Read Blob Response.
func NewReadBlobRsp(value []byte) *PDU {
	p := newFrame(OpReadBlobRsp, 1+len(value))
	_ = p.buf.PutBytes(1, value)
	return p
}

// NewWriteReq builds a Write Request.
func NewWriteReq(handle uint16, value []byte) *PDU {
	p := newFrame(OpWriteReq, 3+len(value))
	_ = p.buf.PutUint16(1, handle)
	_ = p.buf.PutBytes(3, value)
	return p
}

// NewWriteCmd builds a Write Command (no reply expected).
func NewWriteCmd(handle uint16, value []byte) *PDU {
	p := newFrame(OpWriteCmd, 3+len(value))
	_ = p.buf.PutUint16(1, handle)
	_ = p.buf.PutBytes(3, value)
	return p
}

// NewWriteRsp builds an (empty-value) Write Response.
func NewWriteRsp() *PDU { return newFrame(OpWriteRsp, 1) }

// NewPrepareWriteReq builds a Prepare Write Request.
func NewPrepareWriteReq(handle, offset uint16, value []byte) *PDU {
	p := newFrame(OpPrepareWriteReq, 5+len(value))
	_ = p.buf.PutUint16(1, handle)
	_ = p.buf.PutUint16(3, offset)
	_ = p.buf.PutBytes(5, value)
	return p
}

// NewPrepareWriteRsp builds a Prepare Write Response echoing the queued
// chunk.
func NewPrepareWriteRsp(handle, offset uint16, value []byte) *PDU {
	p := newFrame(OpPrepareWriteRsp, 5+len(value))
	_ = p.buf.PutUint16(1, handle)
	_ = p.buf.PutUint16(3, offset)
	_ = p.buf.PutBytes(5, value)
	return p
}

// Execute Write flags.
const (
	ExecuteWriteCancel uint8 = 0x00
	ExecuteWriteFlush  uint8 = 0x01
)

// NewExecuteWriteReq builds an Execute Write Request.
func NewExecuteWriteReq(flags uint8) *PDU {
	p := newFrame(OpExecuteWriteReq, 2)
	_ = p.buf.PutUint8(1, flags)
	return p
}

// ExecuteWriteFlags decodes the flags field of an Execute Write Request.
func (p *PDU) ExecuteWriteFlags() (uint8, error) {
	if err := p.CheckOpcode(OpExecuteWriteReq); err != nil {
		return 0, err
	}
	return p.buf.GetUint8(1)
}

// NewExecuteWriteRsp builds an Execute Write Response.
func NewExecuteWriteRsp() *PDU { return newFrame(OpExecuteWriteRsp, 1) }

// NewHandleValueNtf builds a Handle-Value Notification.
func NewHandleValueNtf(handle uint16, value []byte) *PDU {
	p := newFrame(OpHandleValueNtf, 3+len(value))
	_ = p.buf.PutUint16(1, handle)
	_ = p.buf.PutBytes(3, value)
	return p
}

// NewHandleValueInd builds a Handle-Value Indication.
func NewHandleValueInd(handle uint16, value []byte) *PDU {
	p := newFrame(OpHandleValueInd, 3+len(value))
	_ = p.buf.PutUint16(1, handle)
	_ = p.buf.PutBytes(3, value)
	return p
}

// NewHandleValueCfm builds a Handle-Value Confirmation (no payload).
func NewHandleValueCfm() *PDU { return newFrame(OpHandleValueCfm, 1) }
