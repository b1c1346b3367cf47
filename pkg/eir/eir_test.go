package eir

import (
	"encoding/binary"
	"testing"

	"github.com/arlojames/btstack/pkg/att"
)

func buildElem(adType Type, payload []byte) []byte {
	out := []byte{byte(1 + len(payload)), byte(adType)}
	return append(out, payload...)
}

func TestDecodeFlagsAndName(t *testing.T) {
	var data []byte
	data = append(data, buildElem(TypeFlags, []byte{0x06})...)
	data = append(data, buildElem(TypeNameComplete, []byte("widget"))...)

	r := &Report{}
	count := Decode(r, data)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if !r.Is(MaskFlags) || r.Flags != 0x06 {
		t.Fatalf("flags = %v mask=%v", r.Flags, r.Mask)
	}
	if !r.Is(MaskName) || r.Name != "widget" {
		t.Fatalf("name = %q", r.Name)
	}
}

func TestDecodeServiceUUID16Complete(t *testing.T) {
	payload := []byte{0x0F, 0x18, 0x0A, 0x18} // battery + device info, LE
	data := buildElem(TypeUUID16Complete, payload)

	r := &Report{}
	Decode(r, data)
	if !r.ServicesComplete {
		t.Fatal("expected complete flag set")
	}
	if len(r.ServiceUUIDs) != 2 {
		t.Fatalf("uuids = %v", r.ServiceUUIDs)
	}
	if short, ok := r.ServiceUUIDs[0].Short(); !ok || short != 0x180F {
		t.Fatalf("first uuid = %v", r.ServiceUUIDs[0])
	}
}

func TestDecodeManufacturerData(t *testing.T) {
	payload := []byte{0x4C, 0x00, 0x02, 0x15, 0xAA, 0xBB}
	data := buildElem(TypeManufacturerData, payload)

	r := &Report{}
	Decode(r, data)
	if r.ManufData == nil {
		t.Fatal("expected manufacturer data")
	}
	if r.ManufData.CompanyID != 0x004C {
		t.Fatalf("company = 0x%04X", r.ManufData.CompanyID)
	}
	if len(r.ManufData.Data) != 4 {
		t.Fatalf("data = %v", r.ManufData.Data)
	}
}

func TestDecodeUnknownElementIsSkipped(t *testing.T) {
	data := buildElem(Type(0x77), []byte{0x01, 0x02, 0x03})
	r := &Report{}
	count := Decode(r, data)
	if count != 1 {
		t.Fatalf("count = %d, want 1 (unknown element still consumed, just not stored)", count)
	}
	if r.Mask != 0 {
		t.Fatalf("mask = %v, want 0", r.Mask)
	}
}

func TestDecodeZeroLengthTerminatesEarly(t *testing.T) {
	var data []byte
	data = append(data, buildElem(TypeFlags, []byte{0x01})...)
	data = append(data, 0x00) // terminator
	data = append(data, buildElem(TypeNameComplete, []byte("unreachable"))...)

	r := &Report{}
	count := Decode(r, data)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if r.Is(MaskName) {
		t.Fatal("name should not have been parsed past the terminator")
	}
}

func TestDecodeTruncatedElementAbortsWithPartialResults(t *testing.T) {
	var data []byte
	data = append(data, buildElem(TypeFlags, []byte{0x01})...)
	data = append(data, 0x05, byte(TypeNameComplete), 'a', 'b') // declares 5, only has 2

	r := &Report{}
	count := Decode(r, data)
	if count != 1 {
		t.Fatalf("count = %d, want 1 (only the well-formed element)", count)
	}
}

func buildAdvReport(evtType EventType, addrType uint8, addr [6]byte, adData []byte, rssi int8) []byte {
	out := []byte{byte(evtType), addrType}
	out = append(out, addr[:]...)
	out = append(out, byte(len(adData)))
	out = append(out, adData...)
	out = append(out, byte(rssi))
	return out
}

func TestReadAdvertisingReportsSingle(t *testing.T) {
	adData := buildElem(TypeNameComplete, []byte("dev"))
	body := buildAdvReport(EventAdvInd, 0x00, [6]byte{1, 2, 3, 4, 5, 6}, adData, -40)
	frame := append([]byte{0x01}, body...)

	reports, err := ReadAdvertisingReports(frame)
	if err != nil {
		t.Fatalf("ReadAdvertisingReports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	r := reports[0]
	if r.EvtType != EventAdvInd || r.Address != [6]byte{1, 2, 3, 4, 5, 6} || r.RSSI != -40 {
		t.Fatalf("report = %+v", r)
	}
	if r.Name != "dev" {
		t.Fatalf("name = %q", r.Name)
	}
}

func TestReadAdvertisingReportsTruncatedDropsPartial(t *testing.T) {
	good := buildAdvReport(EventAdvInd, 0x00, [6]byte{1, 2, 3, 4, 5, 6}, nil, -50)
	frame := append([]byte{0x02}, good...) // declares 2 reports, only ships 1
	frame = append(frame, 0x00, 0x01)      // partial second report header, too short

	reports, err := ReadAdvertisingReports(frame)
	if err != nil {
		t.Fatalf("ReadAdvertisingReports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1 (partial second report dropped)", len(reports))
	}
}

func TestReadAdvertisingReportsRejectsZeroCount(t *testing.T) {
	if _, err := ReadAdvertisingReports([]byte{0x00}); err == nil {
		t.Fatal("expected error for zero report count")
	}
}

func TestReadExtendedAdvertisingReportsSingle(t *testing.T) {
	var body []byte
	extType := make([]byte, 2)
	binary.LittleEndian.PutUint16(extType, extLegacyPDU|extFlagConnectable|extFlagScannable)
	body = append(body, extType...)
	body = append(body, 0x00)            // addr_type
	body = append(body, 1, 2, 3, 4, 5, 6) // address
	body = append(body, 0x01)            // primary_phy
	body = append(body, 0x00)            // secondary_phy
	body = append(body, 0x00)            // sid
	body = append(body, byte(int8(-20))) // tx_power
	body = append(body, byte(int8(-60))) // rssi
	body = append(body, 0xFF, 0xFF)      // periodic interval (none)
	body = append(body, 0x00)            // direct addr type
	body = append(body, 0, 0, 0, 0, 0, 0) // direct addr
	adData := buildElem(TypeTxPowerLevel, []byte{0x05})
	body = append(body, byte(len(adData)))
	body = append(body, adData...)

	frame := append([]byte{0x01}, body...)
	reports, err := ReadExtendedAdvertisingReports(frame)
	if err != nil {
		t.Fatalf("ReadExtendedAdvertisingReports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	r := reports[0]
	// The AD TX Power Level element (5) is decoded after the header's
	// tx_power (-20) and replaces it.
	if r.EvtType != EventAdvInd || r.TxPower != 5 || r.RSSI != -60 {
		t.Fatalf("report = %+v", r)
	}
	if !r.Is(MaskTxPower) {
		t.Fatal("expected AD-embedded tx power to be decoded too")
	}
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	src := &Report{
		Flags:        0x06,
		Name:         "widget",
		ServiceUUIDs: []att.UUID{att.UUID16(0x180F)},
		TxPower:      -12,
	}
	buf := make([]byte, 64)
	n := Encode(src, MaskFlags|MaskName|MaskServiceUUID|MaskTxPower, buf)
	if n == 0 {
		t.Fatal("expected non-zero encoded length")
	}

	dst := &Report{}
	Decode(dst, buf[:n])
	if dst.Flags != src.Flags || dst.Name != src.Name || dst.TxPower != src.TxPower {
		t.Fatalf("decoded = %+v", dst)
	}
	if len(dst.ServiceUUIDs) != 1 {
		t.Fatalf("service uuids = %v", dst.ServiceUUIDs)
	}
}

func TestEncodeStopsOnOverflowWithoutPanicking(t *testing.T) {
	src := &Report{Name: "this name is much too long to fit in four bytes"}
	buf := make([]byte, 4)
	n := Encode(src, MaskName, buf)
	if n != 0 {
		t.Fatalf("n = %d, want 0 (element did not fit, nothing written)", n)
	}
}
