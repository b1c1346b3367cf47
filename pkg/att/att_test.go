package att

import (
	"testing"

	"github.com/google/uuid"
)

func TestOpcodeMethodAndFlags(t *testing.T) {
	if OpWriteCmd.Method() != OpWriteReq {
		t.Fatalf("WriteCmd method = %s, want WriteReq", OpWriteCmd.Method())
	}
	if !OpWriteCmd.IsCommand() {
		t.Fatal("WriteCmd should carry the command flag")
	}
	if !OpSignedWriteCmd.HasAuthSignature() {
		t.Fatal("SignedWriteCmd should carry the auth signature flag")
	}
}

func TestExchangeMTURoundTrip(t *testing.T) {
	req := NewExchangeMTUReq(247)
	parsed, err := Parse(req.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	mtu, err := parsed.MTU()
	if err != nil {
		t.Fatalf("MTU: %v", err)
	}
	if mtu != 247 {
		t.Fatalf("mtu = %d, want 247", mtu)
	}
}

func TestExchangeMTUBoundaries(t *testing.T) {
	for _, mtu := range []uint16{23, 513} {
		p := NewExchangeMTURsp(mtu)
		parsed, err := Parse(p.Bytes())
		if err != nil {
			t.Fatalf("Parse(%d): %v", mtu, err)
		}
		got, err := parsed.MTU()
		if err != nil || got != mtu {
			t.Fatalf("MTU(%d) = %d, %v", mtu, got, err)
		}
	}
}

func TestReadRspValueRoundTrip(t *testing.T) {
	value := []byte{0x01, 0x02, 0x03, 0x04}
	p := NewReadRsp(value)
	parsed, err := Parse(p.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := parsed.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if string(got) != string(value) {
		t.Fatalf("value = %v, want %v", got, value)
	}
}

func TestReadBlobRoundTrip(t *testing.T) {
	req := NewReadBlobReq(0x0042, 22)
	parsed, err := Parse(req.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	h, err := parsed.Handle()
	if err != nil || h != 0x0042 {
		t.Fatalf("Handle = %d, %v", h, err)
	}
	off, err := parsed.Offset()
	if err != nil || off != 22 {
		t.Fatalf("Offset = %d, %v", off, err)
	}
}

func TestWriteReqRoundTrip(t *testing.T) {
	value := []byte("hello")
	req := NewWriteReq(0x0010, value)
	parsed, err := Parse(req.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	h, err := parsed.Handle()
	if err != nil || h != 0x0010 {
		t.Fatalf("Handle = %d, %v", h, err)
	}
	got, err := parsed.Value()
	if err != nil || string(got) != string(value) {
		t.Fatalf("Value = %q, %v", got, err)
	}
}

func TestErrorRspRoundTrip(t *testing.T) {
	p := NewErrorRsp(OpReadReq, 0x0007, ErrInvalidHandle)
	parsed, err := Parse(p.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	causedOp, causedHandle, code, err := parsed.ErrorInfo()
	if err != nil {
		t.Fatalf("ErrorInfo: %v", err)
	}
	if causedOp != OpReadReq || causedHandle != 0x0007 || code != ErrInvalidHandle {
		t.Fatalf("got (%s,%d,%s)", causedOp, causedHandle, code)
	}
	attErr := parsed.AsError()
	if attErr == nil {
		t.Fatal("AsError returned nil")
	}
	if attErr.Code8() != uint8(ErrInvalidHandle) {
		t.Fatalf("Code8 = %d", attErr.Code8())
	}
}

func TestPrepareExecuteWriteRoundTrip(t *testing.T) {
	value := []byte{0xAA, 0xBB}
	p := NewPrepareWriteReq(0x0020, 4, value)
	parsed, err := Parse(p.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	h, _ := parsed.Handle()
	off, _ := parsed.Offset()
	got, err := parsed.Value()
	if h != 0x0020 || off != 4 || err != nil || string(got) != string(value) {
		t.Fatalf("got handle=%d offset=%d value=%v err=%v", h, off, got, err)
	}

	exec := NewExecuteWriteReq(ExecuteWriteFlush)
	parsedExec, err := Parse(exec.Bytes())
	if err != nil {
		t.Fatalf("Parse exec: %v", err)
	}
	flags, err := parsedExec.ExecuteWriteFlags()
	if err != nil || flags != ExecuteWriteFlush {
		t.Fatalf("flags = %d, %v", flags, err)
	}
}

func TestHandleValueNotificationAndIndication(t *testing.T) {
	ntf := NewHandleValueNtf(0x0030, []byte{0x01})
	parsed, err := Parse(ntf.Bytes())
	if err != nil {
		t.Fatalf("Parse ntf: %v", err)
	}
	if err := parsed.CheckOpcode(OpHandleValueNtf, OpHandleValueInd); err != nil {
		t.Fatalf("CheckOpcode: %v", err)
	}

	ind := NewHandleValueInd(0x0031, []byte{0x02})
	parsedInd, err := Parse(ind.Bytes())
	if err != nil {
		t.Fatalf("Parse ind: %v", err)
	}
	if err := parsedInd.CheckOpcode(OpHandleValueNtf, OpHandleValueInd); err != nil {
		t.Fatalf("CheckOpcode: %v", err)
	}

	cfm := NewHandleValueCfm()
	if cfm.Opcode() != OpHandleValueCfm {
		t.Fatalf("cfm opcode = %s", cfm.Opcode())
	}
}

func TestReadByTypeRspElementRoundTrip(t *testing.T) {
	b := NewReadByTypeRspBuilder(2, 4)
	values := [][]byte{{0x00, 0x01}, {0x00, 0x02}, {0x00, 0x03}}
	for i, v := range values {
		if err := b.SetElementHandle(i, uint16(0x10+i)); err != nil {
			t.Fatalf("SetElementHandle(%d): %v", i, err)
		}
		if err := b.SetElementValue(i, v); err != nil {
			t.Fatalf("SetElementValue(%d): %v", i, err)
		}
	}
	pdu, err := b.Finalize(len(values))
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	parsed, err := Parse(pdu.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	count, err := parsed.ElementCount()
	if err != nil || count != len(values) {
		t.Fatalf("ElementCount = %d, %v", count, err)
	}
	for i := range values {
		handle, _, value, err := parsed.Element(i)
		if err != nil {
			t.Fatalf("Element(%d): %v", i, err)
		}
		if handle != uint16(0x10+i) {
			t.Fatalf("Element(%d) handle = %d", i, handle)
		}
		if string(value) != string(values[i]) {
			t.Fatalf("Element(%d) value = %v, want %v", i, value, values[i])
		}
	}
}

func TestReadByGroupTypeRspElementRoundTrip(t *testing.T) {
	b := NewReadByGroupTypeRspBuilder(2, 2)
	if err := b.SetElementHandle(0, 1); err != nil {
		t.Fatal(err)
	}
	if err := b.SetElementEndHandle(0, 5); err != nil {
		t.Fatal(err)
	}
	if err := b.SetElementValue(0, []byte{0x28, 0x00}); err != nil {
		t.Fatal(err)
	}
	pdu, err := b.Finalize(1)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	parsed, err := Parse(pdu.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	handle, endHandle, value, err := parsed.Element(0)
	if err != nil {
		t.Fatalf("Element(0): %v", err)
	}
	if handle != 1 || endHandle != 5 || string(value) != string([]byte{0x28, 0x00}) {
		t.Fatalf("got handle=%d end=%d value=%v", handle, endHandle, value)
	}
}

func TestElementListDivisibilityIsVerified(t *testing.T) {
	b := NewReadByTypeRspBuilder(2, 1)
	_ = b.SetElementHandle(0, 1)
	_ = b.SetElementValue(0, []byte{0x00, 0x01})
	pdu, err := b.Finalize(1)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// Corrupt the frame to an indivisible value length and confirm ElementCount rejects it.
	raw := pdu.Bytes()
	truncated := raw[:len(raw)-1]
	parsed, err := Parse(truncated)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := parsed.ElementCount(); err == nil {
		t.Fatal("expected divisibility error for truncated element list")
	}
}

func TestFindInformationRoundTrip16Bit(t *testing.T) {
	req := NewFindInformationReq(1, 0xFFFF)
	parsed, err := Parse(req.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	start, end, err := parsed.HandleRange()
	if err != nil || start != 1 || end != 0xFFFF {
		t.Fatalf("HandleRange = (%d,%d), %v", start, end, err)
	}

	b, err := NewFindInformationRspBuilder(FindInfoFormat16Bit, 2)
	if err != nil {
		t.Fatalf("NewFindInformationRspBuilder: %v", err)
	}
	if err := b.SetElement(0, 0x10, CharacteristicUUID); err != nil {
		t.Fatalf("SetElement: %v", err)
	}
	rsp, err := b.Finalize(1)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	parsedRsp, err := Parse(rsp.Bytes())
	if err != nil {
		t.Fatalf("Parse rsp: %v", err)
	}
	format, err := parsedRsp.FindInformationFormat()
	if err != nil || format != FindInfoFormat16Bit {
		t.Fatalf("format = %d, %v", format, err)
	}
	handle, u, err := parsedRsp.FindInformationElement(0)
	if err != nil {
		t.Fatalf("FindInformationElement: %v", err)
	}
	if handle != 0x10 || !u.Equal(CharacteristicUUID) {
		t.Fatalf("got handle=%d uuid=%s", handle, u)
	}
}

func TestFindInformationRoundTrip128Bit(t *testing.T) {
	custom := UUID128(uuid.MustParse("12345678-1234-5678-1234-56789abcdef0"))
	b, err := NewFindInformationRspBuilder(FindInfoFormat128Bit, 1)
	if err != nil {
		t.Fatalf("NewFindInformationRspBuilder: %v", err)
	}
	if err := b.SetElement(0, 0x20, custom); err != nil {
		t.Fatalf("SetElement: %v", err)
	}
	rsp, err := b.Finalize(1)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	parsed, err := Parse(rsp.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	handle, u, err := parsed.FindInformationElement(0)
	if err != nil {
		t.Fatalf("FindInformationElement: %v", err)
	}
	if handle != 0x20 || !u.Equal(custom) {
		t.Fatalf("got handle=%d uuid=%s, want %s", handle, u, custom)
	}
}

func TestUUIDWireOrderRoundTrip(t *testing.T) {
	short := UUID16(0x180D)
	buf := short.AppendLE(nil)
	if len(buf) != 2 {
		t.Fatalf("uuid16 wire length = %d", len(buf))
	}
	parsedShort, err := ParseUUIDLE(buf)
	if err != nil || !parsedShort.Equal(short) {
		t.Fatalf("round trip uuid16 failed: %v", err)
	}

	full := UUID128(uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	buf128 := full.AppendLE(nil)
	if len(buf128) != 16 {
		t.Fatalf("uuid128 wire length = %d", len(buf128))
	}
	parsedFull, err := ParseUUIDLE(buf128)
	if err != nil || !parsedFull.Equal(full) {
		t.Fatalf("round trip uuid128 failed: %v", err)
	}
}

func TestUndefinedOpcodeIsOpaqueNotFatal(t *testing.T) {
	raw := []byte{0xF0, 0x01, 0x02}
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse of unknown opcode should not fail: %v", err)
	}
	if p.Opcode() != Opcode(0xF0) {
		t.Fatalf("opcode = %s", p.Opcode())
	}
}

func TestTruncatedKnownOpcodeIsRejected(t *testing.T) {
	// A Read Request needs 3 bytes (opcode + 2-byte handle).
	raw := []byte{uint8(OpReadReq), 0x01}
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for truncated Read Request")
	}
}
