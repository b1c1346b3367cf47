// Package eir decodes and encodes HCI Extended Inquiry Response / AD
// (advertising data) records (SPEC_FULL.md component C9): the TLV format
// carried inside LE Advertising Report and Extended Advertising Report
// HCI events, plus the inverse serialization used when building local
// advertising data.
package eir

import (
	"encoding/binary"
	"fmt"

	"github.com/arlojames/btstack/pkg/att"
)

// Type is a single AD/EIR structure's type octet (Bluetooth GAP assigned
// numbers).
type Type uint8

const (
	TypeFlags              Type = 0x01
	TypeUUID16Incomplete    Type = 0x02
	TypeUUID16Complete      Type = 0x03
	TypeUUID32Incomplete    Type = 0x04
	TypeUUID32Complete      Type = 0x05
	TypeUUID128Incomplete   Type = 0x06
	TypeUUID128Complete     Type = 0x07
	TypeNameShort           Type = 0x08
	TypeNameComplete        Type = 0x09
	TypeTxPowerLevel        Type = 0x0A
	TypeClassOfDevice       Type = 0x0D
	TypeSSPHashC192         Type = 0x0E
	TypeSSPRandomizerR192   Type = 0x0F
	TypeDeviceID            Type = 0x10
	TypeSlaveConnIvalRange  Type = 0x12
	TypeAppearance          Type = 0x19
	TypeManufacturerData    Type = 0xFF
)

// EventType is the LE Advertising Report event_type octet classifying the
// PDU that carried a report (legacy advertising, HCI LE Meta event 0x02).
type EventType uint8

const (
	EventAdvInd        EventType = 0x00
	EventAdvDirectInd   EventType = 0x01
	EventAdvScanInd     EventType = 0x02
	EventAdvNonconnInd  EventType = 0x03
	EventScanRsp        EventType = 0x04
)

// DataMask identifies which fields of a Report are populated, returned by
// Decode so callers can distinguish "absent" from "zero" and used by
// Encode to select which fields to serialize.
type DataMask uint32

const (
	MaskEvtType DataMask = 1 << iota
	MaskExtEvtType
	MaskAddrType
	MaskAddr
	MaskFlags
	MaskName
	MaskNameShort
	MaskRSSI
	MaskTxPower
	MaskManufData
	MaskDeviceClass
	MaskAppearance
	MaskHash
	MaskRandomizer
	MaskDeviceID
	MaskConnInterval
	MaskServiceUUID
)

// ManufacturerData is a single company-ID-tagged manufacturer-specific
// data blob.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// DeviceID is the four-field Device ID Profile record (source/vendor/
// product/version).
type DeviceID struct {
	Source  uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// ConnIntervalRange is the Slave Connection Interval Range AD structure,
// in 1.25ms units per the Core spec.
type ConnIntervalRange struct {
	Min uint16
	Max uint16
}

// Report is a single decoded advertising/EIR report: either an inbound
// LE Advertising Report (read_ad_reports) or Extended Advertising Report
// (read_ext_ad_reports) entry, or the payload a peer's scan/EIR data
// decodes into.
type Report struct {
	Mask DataMask

	EvtType    EventType
	ExtEvtType uint16
	AddrType   uint8
	Address    [6]byte
	RSSI       int8

	Flags             uint8
	Name              string
	ShortName         string
	TxPower           int8
	DeviceClass       uint32
	Appearance        uint16
	Hash              [16]byte
	Randomizer        [16]byte
	DeviceIDInfo      DeviceID
	ConnInterval      ConnIntervalRange
	ManufData         *ManufacturerData
	ServiceUUIDs      []att.UUID
	ServiceUUID32s    []uint32
	ServicesComplete  bool
}

func (r *Report) set(m DataMask) { r.Mask |= m }

// Is reports whether m's bits are all present in the report.
func (r *Report) Is(m DataMask) bool { return r.Mask&m == m }

// nextElem walks one {len, type, data} AD structure starting at offset,
// mirroring direct_bt's next_data_elem: a zero length byte ends the
// significant part, and a length that would overrun data aborts parsing.
// Returns the next offset, or -1 at end-of-data, or -2 on overrun.
func nextElem(data []byte, offset int) (elemType Type, elemData []byte, next int) {
	if offset >= len(data) {
		return 0, nil, -1
	}
	length := int(data[offset])
	if length == 0 {
		return 0, nil, -1
	}
	if offset+1+length > len(data) {
		return 0, nil, -2
	}
	elemType = Type(data[offset+1])
	elemData = data[offset+2 : offset+1+length]
	next = offset + 1 + length
	return elemType, elemData, next
}

// Decode parses a single EIR/AD-structure TLV blob (the payload already
// separated from its enclosing advertising-report envelope) into r,
// returning the count of elements parsed. Elements of unrecognized type
// are silently skipped, matching direct_bt's read_data default case.
func Decode(r *Report, data []byte) int {
	count := 0
	offset := 0
	for {
		elemType, elemData, next := nextElem(data, offset)
		if next == -1 || next == -2 {
			break
		}
		offset = next
		count++

		switch elemType {
		case TypeFlags:
			if len(elemData) >= 1 {
				r.Flags = elemData[0]
				r.set(MaskFlags)
			}
		case TypeUUID16Incomplete, TypeUUID16Complete:
			r.ServicesComplete = elemType == TypeUUID16Complete
			for i := 0; i+2 <= len(elemData); i += 2 {
				u, err := att.ParseUUID16LE(elemData[i : i+2])
				if err == nil {
					r.ServiceUUIDs = append(r.ServiceUUIDs, u)
				}
			}
			r.set(MaskServiceUUID)
		case TypeUUID32Incomplete, TypeUUID32Complete:
			r.ServicesComplete = elemType == TypeUUID32Complete
			for i := 0; i+4 <= len(elemData); i += 4 {
				r.ServiceUUID32s = append(r.ServiceUUID32s, binary.LittleEndian.Uint32(elemData[i:i+4]))
			}
			r.set(MaskServiceUUID)
		case TypeUUID128Incomplete, TypeUUID128Complete:
			r.ServicesComplete = elemType == TypeUUID128Complete
			for i := 0; i+16 <= len(elemData); i += 16 {
				u, err := att.ParseUUID128LE(elemData[i : i+16])
				if err == nil {
					r.ServiceUUIDs = append(r.ServiceUUIDs, u)
				}
			}
			r.set(MaskServiceUUID)
		case TypeNameShort:
			r.ShortName = string(elemData)
			r.set(MaskNameShort)
		case TypeNameComplete:
			r.Name = string(elemData)
			r.set(MaskName)
		case TypeTxPowerLevel:
			if len(elemData) >= 1 {
				r.TxPower = int8(elemData[0])
				r.set(MaskTxPower)
			}
		case TypeClassOfDevice:
			if len(elemData) >= 3 {
				r.DeviceClass = uint32(elemData[0]) | uint32(elemData[1])<<8 | uint32(elemData[2])<<16
				r.set(MaskDeviceClass)
			}
		case TypeDeviceID:
			if len(elemData) >= 8 {
				r.DeviceIDInfo = DeviceID{
					Source:  binary.LittleEndian.Uint16(elemData[0:2]),
					Vendor:  binary.LittleEndian.Uint16(elemData[2:4]),
					Product: binary.LittleEndian.Uint16(elemData[4:6]),
					Version: binary.LittleEndian.Uint16(elemData[6:8]),
				}
				r.set(MaskDeviceID)
			}
		case TypeSlaveConnIvalRange:
			if len(elemData) >= 4 {
				r.ConnInterval = ConnIntervalRange{
					Min: binary.LittleEndian.Uint16(elemData[0:2]),
					Max: binary.LittleEndian.Uint16(elemData[2:4]),
				}
				r.set(MaskConnInterval)
			}
		case TypeAppearance:
			if len(elemData) >= 2 {
				r.Appearance = binary.LittleEndian.Uint16(elemData[0:2])
				r.set(MaskAppearance)
			}
		case TypeSSPHashC192:
			if len(elemData) >= 16 {
				copy(r.Hash[:], elemData[:16])
				r.set(MaskHash)
			}
		case TypeSSPRandomizerR192:
			if len(elemData) >= 16 {
				copy(r.Randomizer[:], elemData[:16])
				r.set(MaskRandomizer)
			}
		case TypeManufacturerData:
			if len(elemData) >= 2 {
				companyID := binary.LittleEndian.Uint16(elemData[0:2])
				var payload []byte
				if len(elemData) > 2 {
					payload = append([]byte(nil), elemData[2:]...)
				}
				r.ManufData = &ManufacturerData{CompanyID: companyID, Data: payload}
				r.set(MaskManufData)
			}
		default:
			// Unrecognized element types are skipped without error, per
			// direct_bt's read_data default case.
		}
	}
	return count
}

// maxReports bounds how many reports a single HCI event may legally
// enumerate (Core spec caps this well below the type's 0xFF range; both
// direct_bt readers reject anything above 0x19).
const maxReports = 0x19

// ReadAdvertisingReports decodes a legacy LE Advertising Report event
// payload (HCI LE Meta subevent 0x02): {num_reports:u8, then per-report
// {evt_type:u8, addr_type:u8, address:6, data_len:u8, data[data_len],
// rssi:i8}}. A report whose declared data_len would run past the buffer
// aborts and returns every report successfully parsed so far.
func ReadAdvertisingReports(data []byte) ([]*Report, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("eir: advertising report event too short")
	}
	numReports := int(data[0])
	if numReports == 0 || numReports > maxReports {
		return nil, fmt.Errorf("eir: invalid report count %d", numReports)
	}
	reports := make([]*Report, 0, numReports)
	offset := 1
	for i := 0; i < numReports; i++ {
		const fixedHdr = 1 + 1 + 6 + 1
		if offset+fixedHdr > len(data) {
			return reports, nil
		}
		r := &Report{}
		r.EvtType = EventType(data[offset])
		r.set(MaskEvtType)
		offset++
		r.AddrType = data[offset]
		r.set(MaskAddrType)
		offset++
		copy(r.Address[:], data[offset:offset+6])
		r.set(MaskAddr)
		offset += 6
		adDataLen := int(data[offset])
		offset++

		if offset+adDataLen+1 > len(data) {
			return reports, nil
		}
		if adDataLen > 0 {
			Decode(r, data[offset:offset+adDataLen])
			offset += adDataLen
		}
		r.RSSI = int8(data[offset])
		r.set(MaskRSSI)
		offset++

		reports = append(reports, r)
	}
	return reports, nil
}

// Extended Advertising Report Event_Type bitfield positions (Core spec
// HCI LE Extended Advertising Report, Event_Type).
const (
	extFlagConnectable = 1 << 0
	extFlagScannable   = 1 << 1
	extFlagDirected    = 1 << 2
	extFlagScanRsp     = 1 << 3
	extLegacyPDU       = 1 << 4
)

// legacyEventType maps the Connectable/Scannable/Directed/Scan_Response
// bits of a legacy-PDU extended report back to the classic single-byte
// AD_PDU_Type a pre-5.0 LE Advertising Report would have carried.
func legacyEventType(extType uint16) EventType {
	scanRsp := extType&extFlagScanRsp != 0
	connectable := extType&extFlagConnectable != 0
	scannable := extType&extFlagScannable != 0
	directed := extType&extFlagDirected != 0
	switch {
	case scanRsp:
		return EventScanRsp
	case connectable && directed:
		return EventAdvDirectInd
	case connectable && scannable:
		return EventAdvInd
	case scannable:
		return EventAdvScanInd
	default:
		return EventAdvNonconnInd
	}
}

// ReadExtendedAdvertisingReports decodes an LE Extended Advertising
// Report event payload (HCI LE Meta subevent 0x0D): {num_reports:u8, then
// per-report {event_type:u16, addr_type:u8, address:6, primary_phy:u8,
// secondary_phy:u8, sid:u8, tx_power:i8, rssi:i8, periodic_interval:u16,
// direct_addr_type:u8, direct_addr:6, data_len:u8, data[data_len]}}.
func ReadExtendedAdvertisingReports(data []byte) ([]*Report, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("eir: ext advertising report event too short")
	}
	numReports := int(data[0])
	if numReports == 0 || numReports > maxReports {
		return nil, fmt.Errorf("eir: invalid report count %d", numReports)
	}
	reports := make([]*Report, 0, numReports)
	offset := 1
	for i := 0; i < numReports; i++ {
		const fixedHdr = 2 + 1 + 6 + 1 + 1 + 1 + 1 + 1 + 2 + 1 + 6 + 1
		if offset+fixedHdr > len(data) {
			return reports, nil
		}
		r := &Report{}

		extType := binary.LittleEndian.Uint16(data[offset : offset+2])
		r.ExtEvtType = extType
		r.set(MaskExtEvtType)
		if extType&extLegacyPDU != 0 {
			r.EvtType = legacyEventType(extType)
			r.set(MaskEvtType)
		}
		offset += 2

		r.AddrType = data[offset]
		r.set(MaskAddrType)
		offset++

		copy(r.Address[:], data[offset:offset+6])
		r.set(MaskAddr)
		offset += 6

		offset++ // primary_phy
		offset++ // secondary_phy
		offset++ // advertising_sid

		r.TxPower = int8(data[offset])
		r.set(MaskTxPower)
		offset++

		r.RSSI = int8(data[offset])
		r.set(MaskRSSI)
		offset++

		offset += 2 // periodic_advertising_interval

		offset++     // direct_address_type
		offset += 6  // direct_address

		adDataLen := int(data[offset])
		offset++

		if offset+adDataLen > len(data) {
			return reports, nil
		}
		if adDataLen > 0 {
			Decode(r, data[offset:offset+adDataLen])
			offset += adDataLen
		}

		reports = append(reports, r)
	}
	return reports, nil
}

// Encode serializes the fields selected by mask into buffer, stopping and
// returning the number of bytes written so far the moment any structure
// would overflow capacity (direct_bt's write_data out-of-buffer drop
// policy — a truncated serialization is preferred over a panic or a
// partially-written structure).
func Encode(r *Report, mask DataMask, buffer []byte) int {
	count := 0
	write := func(adType Type, payload []byte) bool {
		adSize := 1 + len(payload)
		if count+1+adSize > len(buffer) {
			return false
		}
		buffer[count] = byte(adSize)
		buffer[count+1] = byte(adType)
		copy(buffer[count+2:], payload)
		count += 1 + adSize
		return true
	}

	if mask&MaskFlags != 0 {
		if !write(TypeFlags, []byte{r.Flags}) {
			return count
		}
	}
	if mask&MaskName != 0 && r.Name != "" {
		if !write(TypeNameComplete, []byte(r.Name)) {
			return count
		}
	} else if mask&MaskNameShort != 0 && r.ShortName != "" {
		if !write(TypeNameShort, []byte(r.ShortName)) {
			return count
		}
	}
	if mask&MaskManufData != 0 && r.ManufData != nil {
		payload := make([]byte, 2+len(r.ManufData.Data))
		binary.LittleEndian.PutUint16(payload[0:2], r.ManufData.CompanyID)
		copy(payload[2:], r.ManufData.Data)
		if !write(TypeManufacturerData, payload) {
			return count
		}
	}
	if mask&MaskServiceUUID != 0 && len(r.ServiceUUIDs) > 0 {
		var uuid16s, uuid128s []att.UUID
		for _, u := range r.ServiceUUIDs {
			if u.Is128Bit() {
				uuid128s = append(uuid128s, u)
			} else {
				uuid16s = append(uuid16s, u)
			}
		}
		if len(uuid16s) > 0 {
			var payload []byte
			for _, u := range uuid16s {
				payload = u.AppendLE(payload)
			}
			t := TypeUUID16Incomplete
			if r.ServicesComplete {
				t = TypeUUID16Complete
			}
			if !write(t, payload) {
				return count
			}
		}
		if len(uuid128s) > 0 {
			var payload []byte
			for _, u := range uuid128s {
				payload = u.AppendLE(payload)
			}
			t := TypeUUID128Incomplete
			if r.ServicesComplete {
				t = TypeUUID128Complete
			}
			if !write(t, payload) {
				return count
			}
		}
	}
	if mask&MaskConnInterval != 0 {
		payload := make([]byte, 4)
		binary.LittleEndian.PutUint16(payload[0:2], r.ConnInterval.Min)
		binary.LittleEndian.PutUint16(payload[2:4], r.ConnInterval.Max)
		if !write(TypeSlaveConnIvalRange, payload) {
			return count
		}
	}
	if mask&MaskTxPower != 0 {
		if !write(TypeTxPowerLevel, []byte{byte(r.TxPower)}) {
			return count
		}
	}
	return count
}
