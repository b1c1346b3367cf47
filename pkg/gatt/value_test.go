package gatt

import (
	"testing"

	"github.com/arlojames/btstack/pkg/att"
	"github.com/arlojames/btstack/pkg/gattdb"
)

func TestReadValueSingleReadWhenExpectedLengthZero(t *testing.T) {
	h, fake := newTestHandler(t)
	go func() {
		expectRequest(t, fake, att.OpReadReq)
		fake.Deliver(att.NewReadRsp([]byte("short")).Bytes())
	}()

	value, err := h.ReadValue(0x10, 0)
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	if string(value) != "short" {
		t.Fatalf("value = %q", value)
	}
}

func TestReadValueChainsBlobsUntilEmptyReply(t *testing.T) {
	h, fake := newTestHandler(t)
	h.usedMTU = 8 // used-1 = 7 bytes per full chunk

	go func() {
		expectRequest(t, fake, att.OpReadReq)
		fake.Deliver(att.NewReadRsp([]byte("1234567")).Bytes()) // exactly used-1, more to come

		expectRequest(t, fake, att.OpReadBlobReq)
		fake.Deliver(att.NewReadBlobRsp([]byte("end")).Bytes()) // short but non-empty: keep chaining

		expectRequest(t, fake, att.OpReadBlobReq)
		fake.Deliver(att.NewReadBlobRsp(nil).Bytes()) // empty: terminal
	}()

	value, err := h.ReadValue(0x10, -1)
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	if string(value) != "1234567end" {
		t.Fatalf("value = %q", value)
	}
}

func TestReadValueStopsAtExpectedLength(t *testing.T) {
	h, fake := newTestHandler(t)
	h.usedMTU = 8

	go func() {
		expectRequest(t, fake, att.OpReadReq)
		fake.Deliver(att.NewReadRsp([]byte("1234567")).Bytes())

		expectRequest(t, fake, att.OpReadBlobReq)
		fake.Deliver(att.NewReadBlobRsp([]byte("XYZ")).Bytes())
	}()

	value, err := h.ReadValue(0x10, 9)
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	if string(value) != "1234567XY" {
		t.Fatalf("value = %q", value)
	}
}

func TestReadValueInvalidOffsetReturnsAccumulatedValue(t *testing.T) {
	h, fake := newTestHandler(t)
	h.usedMTU = 8

	go func() {
		expectRequest(t, fake, att.OpReadReq)
		fake.Deliver(att.NewReadRsp([]byte("1234567")).Bytes())

		expectRequest(t, fake, att.OpReadBlobReq)
		fake.Deliver(att.NewErrorRsp(att.OpReadBlobReq, 0x10, att.ErrInvalidOffset).Bytes())
	}()

	value, err := h.ReadValue(0x10, -1)
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	if string(value) != "1234567" {
		t.Fatalf("value = %q", value)
	}
}

func TestWriteCharacteristicValueRejectsOversizedPayload(t *testing.T) {
	h, _ := newTestHandler(t)
	h.usedMTU = 23 // used-3 = 20

	err := h.WriteCharacteristicValue(0x10, make([]byte, 21))
	if err == nil {
		t.Fatal("expected ErrValueTooLarge")
	}
}

func TestWriteCharacteristicValueRoundTrip(t *testing.T) {
	h, fake := newTestHandler(t)
	h.usedMTU = 185

	go func() {
		req := expectRequest(t, fake, att.OpWriteReq)
		handle, _ := req.Handle()
		if handle != 0x20 {
			t.Errorf("handle = %d, want 0x20", handle)
		}
		fake.Deliver(att.NewWriteRsp().Bytes())
	}()

	if err := h.WriteCharacteristicValue(0x20, []byte("v")); err != nil {
		t.Fatalf("WriteCharacteristicValue: %v", err)
	}
}

func TestWriteClientCharConfigRefusesUnsupportedNotify(t *testing.T) {
	h, _ := newTestHandler(t)
	ch := &gattdb.Characteristic{UUID: testCharUUID, Properties: gattdb.PropRead}

	if err := h.WriteClientCharConfig(ch, 0x21, true, false); err == nil {
		t.Fatal("expected error for unsupported notify")
	}
}

func TestWriteClientCharConfigEnablesNotify(t *testing.T) {
	h, fake := newTestHandler(t)
	h.usedMTU = 185
	ch := &gattdb.Characteristic{UUID: testCharUUID, Properties: gattdb.PropNotify}

	go func() {
		req := expectRequest(t, fake, att.OpWriteReq)
		value, _ := req.Value()
		state, err := gattdb.DecodeCCCD(value)
		if err != nil || !state.NotifyEnabled {
			t.Errorf("cccd state = %+v err=%v", state, err)
		}
		fake.Deliver(att.NewWriteRsp().Bytes())
	}()

	if err := h.WriteClientCharConfig(ch, 0x21, true, false); err != nil {
		t.Fatalf("WriteClientCharConfig: %v", err)
	}
}
