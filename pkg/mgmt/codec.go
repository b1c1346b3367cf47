package mgmt

import (
	"errors"
	"fmt"

	"github.com/arlojames/btstack/internal/octets"
)

// NoIndex is the dev_id sentinel meaning "no adapter" — used by commands
// and events that are not adapter-scoped (version/index-list queries).
const NoIndex uint16 = 0xFFFF

// Sentinel errors for codec/protocol failures.
var (
	ErrInvalidPDU      = errors.New("mgmt: invalid PDU")
	ErrParamTooShort   = errors.New("mgmt: param too short")
	ErrUnknownAddrType = errors.New("mgmt: unknown address type")
)

// headerSize is {opcode:u16, dev_id:u16, param_len:u16}.
const headerSize = 6

// PDU is a parsed or constructed mgmt frame: {opcode, dev_id, param_len,
// param}. Like pkg/att.PDU it wraps an owned octets.Buffer.
type PDU struct {
	buf *octets.Buffer
}

// Parse reads raw as a mgmt frame, validating the declared param_len
// against the actual buffer length.
func Parse(raw []byte) (*PDU, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("mgmt: %w: need >= %d bytes, got %d", ErrInvalidPDU, headerSize, len(raw))
	}
	buf := octets.Wrap(raw)
	paramLen, err := buf.GetUint16(4)
	if err != nil {
		return nil, err
	}
	if int(paramLen) != len(raw)-headerSize {
		return nil, fmt.Errorf("mgmt: %w: declared param_len %d, actual %d", ErrInvalidPDU, paramLen, len(raw)-headerSize)
	}
	return &PDU{buf: buf}, nil
}

// newCommand allocates a command frame with capacity for paramSize bytes
// of parameters.
func newCommand(op CommandOpcode, devID uint16, paramSize int) *PDU {
	buf := octets.New(headerSize + paramSize)
	_ = buf.PutUint16(0, uint16(op))
	_ = buf.PutUint16(2, devID)
	_ = buf.PutUint16(4, uint16(paramSize))
	return &PDU{buf: buf}
}

// Bytes returns the raw frame.
func (p *PDU) Bytes() []byte { return p.buf.Bytes() }

// CommandOpcode reads the frame's opcode field as a command opcode.
func (p *PDU) CommandOpcode() (CommandOpcode, error) {
	v, err := p.buf.GetUint16(0)
	return CommandOpcode(v), err
}

// EventOpcode reads the frame's opcode field as an event opcode.
func (p *PDU) EventOpcode() (EventOpcode, error) {
	v, err := p.buf.GetUint16(0)
	return EventOpcode(v), err
}

// DevID returns the frame's dev_id field.
func (p *PDU) DevID() (uint16, error) { return p.buf.GetUint16(2) }

// ParamLen returns the declared parameter length.
func (p *PDU) ParamLen() (uint16, error) { return p.buf.GetUint16(4) }

// Param returns a zero-copy view of the parameter bytes.
func (p *PDU) Param() ([]byte, error) {
	n, err := p.ParamLen()
	if err != nil {
		return nil, err
	}
	return p.buf.View(headerSize, int(n))
}

func (p *PDU) checkParamMin(want int) ([]byte, error) {
	param, err := p.Param()
	if err != nil {
		return nil, err
	}
	if len(param) < want {
		return nil, fmt.Errorf("mgmt: %w: need >= %d bytes, got %d", ErrParamTooShort, want, len(param))
	}
	return param, nil
}

// --- Simple commands (bool/uint8 parameter) ---

func newBoolCommand(op CommandOpcode, devID uint16, v bool) *PDU {
	p := newCommand(op, devID, 1)
	b := uint8(0)
	if v {
		b = 1
	}
	_ = p.buf.PutUint8(headerSize, b)
	return p
}

// NewSetPowered builds SET_POWERED.
func NewSetPowered(devID uint16, on bool) *PDU { return newBoolCommand(OpSetPowered, devID, on) }

// NewSetConnectable builds SET_CONNECTABLE.
func NewSetConnectable(devID uint16, on bool) *PDU {
	return newBoolCommand(OpSetConnectable, devID, on)
}

// NewSetFastConnectable builds SET_FAST_CONNECTABLE.
func NewSetFastConnectable(devID uint16, on bool) *PDU {
	return newBoolCommand(OpSetFastConnectable, devID, on)
}

// NewSetSSP builds SET_SSP.
func NewSetSSP(devID uint16, on bool) *PDU { return newBoolCommand(OpSetSSP, devID, on) }

// NewSetBREDR builds SET_BREDR.
func NewSetBREDR(devID uint16, on bool) *PDU { return newBoolCommand(OpSetBREDR, devID, on) }

// NewSetLE builds SET_LE.
func NewSetLE(devID uint16, on bool) *PDU { return newBoolCommand(OpSetLE, devID, on) }

// NewSetAdvertising builds SET_ADVERTISING (0x00 off, 0x01 connectable adv,
// 0x02 non-connectable adv).
func NewSetAdvertising(devID uint16, mode uint8) *PDU {
	p := newCommand(OpSetAdvertising, devID, 1)
	_ = p.buf.PutUint8(headerSize, mode)
	return p
}

// --- No-parameter commands ---

func newEmptyCommand(op CommandOpcode, devID uint16) *PDU { return newCommand(op, devID, 0) }

// NewReadVersion builds READ_VERSION (dev_id = NoIndex).
func NewReadVersion() *PDU { return newEmptyCommand(OpReadVersion, NoIndex) }

// NewReadIndexList builds READ_INDEX_LIST (dev_id = NoIndex).
func NewReadIndexList() *PDU { return newEmptyCommand(OpReadIndexList, NoIndex) }

// NewReadInfo builds READ_INFO for a specific adapter.
func NewReadInfo(devID uint16) *PDU { return newEmptyCommand(OpReadInfo, devID) }

// NewRemoveDeviceWhitelist builds REMOVE_DEVICE_WHITELIST with an empty
// (wildcard) address, clearing every whitelist entry (spec.md §4.8 step 4).
func NewRemoveDeviceWhitelist(devID uint16) *PDU {
	p := newCommand(OpRemoveDeviceWhitelist, devID, 7)
	return p
}

// --- READ_INFO reply ---

// AdapterInfo is the decoded READ_INFO/READ_EXT_INFO reply payload.
type AdapterInfo struct {
	DevID             uint16
	Address           [6]byte
	Version            uint8
	Manufacturer        uint16
	SupportedSettings   Settings
	CurrentSettings     Settings
	DevClass            [3]byte
	Name                string
	ShortName           string
}

// ParseAdapterInfo decodes a READ_INFO reply's parameter bytes:
// {address:6, version:u8, manufacturer:u16, supported:u32, current:u32,
// dev_class:3, name:249, short_name:11}.
func ParseAdapterInfo(devID uint16, param []byte) (AdapterInfo, error) {
	const fixedSize = 6 + 1 + 2 + 4 + 4 + 3 + 249 + 11
	if len(param) < fixedSize {
		return AdapterInfo{}, fmt.Errorf("mgmt: %w: adapter info needs %d bytes, got %d", ErrParamTooShort, fixedSize, len(param))
	}
	buf := octets.Wrap(param)
	var info AdapterInfo
	info.DevID = devID
	addr, err := buf.View(0, 6)
	if err != nil {
		return AdapterInfo{}, err
	}
	copy(info.Address[:], addr)
	ver, err := buf.GetUint8(6)
	if err != nil {
		return AdapterInfo{}, err
	}
	info.Version = ver
	manuf, err := buf.GetUint16(7)
	if err != nil {
		return AdapterInfo{}, err
	}
	info.Manufacturer = manuf
	supported, err := buf.GetUint32(9)
	if err != nil {
		return AdapterInfo{}, err
	}
	info.SupportedSettings = Settings(supported)
	current, err := buf.GetUint32(13)
	if err != nil {
		return AdapterInfo{}, err
	}
	info.CurrentSettings = Settings(current)
	devClass, err := buf.View(17, 3)
	if err != nil {
		return AdapterInfo{}, err
	}
	copy(info.DevClass[:], devClass)
	name, err := buf.View(20, 249)
	if err != nil {
		return AdapterInfo{}, err
	}
	info.Name = cString(name)
	shortName, err := buf.View(269, 11)
	if err != nil {
		return AdapterInfo{}, err
	}
	info.ShortName = cString(shortName)
	return info, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// --- CMD_COMPLETE / CMD_STATUS ---

// CmdComplete decodes a CMD_COMPLETE event's fixed header:
// {cmd_opcode:u16, status:u8, data[]}. data is the per-command reply
// payload (e.g. an AdapterInfo for READ_INFO).
func (p *PDU) CmdComplete() (cmdOpcode CommandOpcode, status Status, data []byte, err error) {
	param, err := p.checkParamMin(3)
	if err != nil {
		return 0, 0, nil, err
	}
	cmdOpcode = CommandOpcode(uint16(param[0]) | uint16(param[1])<<8)
	status = Status(param[2])
	data = param[3:]
	return cmdOpcode, status, data, nil
}

// CmdStatus decodes a CMD_STATUS event: {cmd_opcode:u16, status:u8}.
func (p *PDU) CmdStatus() (cmdOpcode CommandOpcode, status Status, err error) {
	param, err := p.checkParamMin(3)
	if err != nil {
		return 0, 0, err
	}
	cmdOpcode = CommandOpcode(uint16(param[0]) | uint16(param[1])<<8)
	status = Status(param[2])
	return cmdOpcode, status, nil
}

// NewSettings decodes a NEW_SETTINGS event's {settings:u32} payload.
func (p *PDU) NewSettings() (Settings, error) {
	param, err := p.checkParamMin(4)
	if err != nil {
		return 0, err
	}
	v := uint32(param[0]) | uint32(param[1])<<8 | uint32(param[2])<<16 | uint32(param[3])<<24
	return Settings(v), nil
}

// AddressType distinguishes BR/EDR from the two LE address kinds.
type AddressType uint8

const (
	AddrBREDR       AddressType = 0x00
	AddrLEPublic    AddressType = 0x01
	AddrLERandom    AddressType = 0x02
)

// DeviceConnected decodes a DEVICE_CONNECTED event:
// {address:6, addr_type:u8, flags:u32, eir_len:u16, eir[]}.
func (p *PDU) DeviceConnected() (addr [6]byte, addrType AddressType, flags uint32, eir []byte, err error) {
	param, err := p.checkParamMin(13)
	if err != nil {
		return addr, 0, 0, nil, err
	}
	copy(addr[:], param[0:6])
	addrType = AddressType(param[6])
	flags = uint32(param[7]) | uint32(param[8])<<8 | uint32(param[9])<<16 | uint32(param[10])<<24
	eirLen := int(param[11]) | int(param[12])<<8
	if len(param) < 13+eirLen {
		return addr, 0, 0, nil, fmt.Errorf("mgmt: %w: eir_len %d exceeds payload", ErrParamTooShort, eirLen)
	}
	eir = param[13 : 13+eirLen]
	return addr, addrType, flags, eir, nil
}

// DeviceDisconnected decodes a DEVICE_DISCONNECTED event:
// {address:6, addr_type:u8, reason:u8}.
func (p *PDU) DeviceDisconnected() (addr [6]byte, addrType AddressType, reason uint8, err error) {
	param, err := p.checkParamMin(8)
	if err != nil {
		return addr, 0, 0, err
	}
	copy(addr[:], param[0:6])
	addrType = AddressType(param[6])
	reason = param[7]
	return addr, addrType, reason, nil
}

// ConnectFailed decodes a CONNECT_FAILED event: {address:6, addr_type:u8,
// status:u8}.
func (p *PDU) ConnectFailed() (addr [6]byte, addrType AddressType, status Status, err error) {
	param, err := p.checkParamMin(8)
	if err != nil {
		return addr, 0, 0, err
	}
	copy(addr[:], param[0:6])
	addrType = AddressType(param[6])
	status = Status(param[7])
	return addr, addrType, status, nil
}

// KeyStoreHint selects whether upper layers should persist a newly
// received key record, carried as the trailing byte of every NEW_*_KEY
// event.
type KeyStoreHint uint8

const (
	StoreHintNo  KeyStoreHint = 0x00
	StoreHintYes KeyStoreHint = 0x01
)

// LongTermKey decodes a NEW_LONG_TERM_KEY event:
// {address:6, addr_type:u8, store_hint:u8, key:{...25 bytes...}}.
func (p *PDU) LongTermKey() (addr [6]byte, addrType AddressType, storeHint KeyStoreHint, key []byte, err error) {
	param, err := p.checkParamMin(8)
	if err != nil {
		return addr, 0, 0, nil, err
	}
	copy(addr[:], param[0:6])
	addrType = AddressType(param[6])
	storeHint = KeyStoreHint(param[7])
	key = param[8:]
	return addr, addrType, storeHint, key, nil
}

// LinkKey decodes a NEW_LINK_KEY event: {store_hint:u8, address:6,
// addr_type:u8, key:{...}}.
func (p *PDU) LinkKey() (storeHint KeyStoreHint, addr [6]byte, key []byte, err error) {
	param, err := p.checkParamMin(8)
	if err != nil {
		return 0, addr, nil, err
	}
	storeHint = KeyStoreHint(param[0])
	copy(addr[:], param[1:7])
	key = param[8:]
	return storeHint, addr, key, nil
}

// IRK decodes a NEW_IRK event: {address:6, addr_type:u8, irk[16]}.
func (p *PDU) IRK() (addr [6]byte, addrType AddressType, irk []byte, err error) {
	param, err := p.checkParamMin(7 + 16)
	if err != nil {
		return addr, 0, nil, err
	}
	copy(addr[:], param[0:6])
	addrType = AddressType(param[6])
	irk = param[7:23]
	return addr, addrType, irk, nil
}

// CSRK decodes a NEW_CSRK event: {address:6, addr_type:u8, store_hint:u8,
// csrk[16]}.
func (p *PDU) CSRK() (addr [6]byte, addrType AddressType, storeHint KeyStoreHint, csrk []byte, err error) {
	param, err := p.checkParamMin(8 + 16)
	if err != nil {
		return addr, 0, 0, nil, err
	}
	copy(addr[:], param[0:6])
	addrType = AddressType(param[6])
	storeHint = KeyStoreHint(param[7])
	csrk = param[8:24]
	return addr, addrType, storeHint, csrk, nil
}
