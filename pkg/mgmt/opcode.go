// Package mgmt implements the kernel management control channel codec and
// dispatcher (SPEC_FULL.md components C7/C8): the mgmt command/event frame
// format, per-opcode typed accessors, a reader thread with a bounded reply
// ring, and the adapter lifecycle/hotplug sequence described in spec.md
// §4.8.
package mgmt

import "fmt"

// CommandOpcode identifies an outbound management command (Linux
// Bluetooth mgmt-api.txt / direct_bt's MgmtCommand::Opcode).
type CommandOpcode uint16

const (
	OpReadVersion           CommandOpcode = 0x0001
	OpReadCommands          CommandOpcode = 0x0002
	OpReadIndexList         CommandOpcode = 0x0003
	OpReadInfo              CommandOpcode = 0x0004
	OpSetPowered            CommandOpcode = 0x0005
	OpSetDiscoverable       CommandOpcode = 0x0006
	OpSetConnectable        CommandOpcode = 0x0007
	OpSetFastConnectable    CommandOpcode = 0x0008
	OpSetBondable           CommandOpcode = 0x0009
	OpSetLinkSecurity       CommandOpcode = 0x000A
	OpSetSSP                CommandOpcode = 0x000B
	OpSetHS                 CommandOpcode = 0x000C
	OpSetLE                 CommandOpcode = 0x000D
	OpSetDevClass           CommandOpcode = 0x000E
	OpSetLocalName          CommandOpcode = 0x000F
	OpAddUUID               CommandOpcode = 0x0010
	OpRemoveUUID            CommandOpcode = 0x0011
	OpLoadLinkKeys          CommandOpcode = 0x0012
	OpLoadLongTermKeys      CommandOpcode = 0x0013
	OpDisconnect            CommandOpcode = 0x0014
	OpGetConnections        CommandOpcode = 0x0015
	OpPinCodeReply          CommandOpcode = 0x0016
	OpPinCodeNegReply       CommandOpcode = 0x0017
	OpSetIOCapability       CommandOpcode = 0x0018
	OpPairDevice            CommandOpcode = 0x0019
	OpCancelPairDevice      CommandOpcode = 0x001A
	OpUnpairDevice          CommandOpcode = 0x001B
	OpUserConfirmReply      CommandOpcode = 0x001C
	OpUserConfirmNegReply   CommandOpcode = 0x001D
	OpUserPasskeyReply      CommandOpcode = 0x001E
	OpUserPasskeyNegReply   CommandOpcode = 0x001F
	OpReadLocalOOBData      CommandOpcode = 0x0020
	OpAddRemoteOOBData      CommandOpcode = 0x0021
	OpRemoveRemoteOOBData   CommandOpcode = 0x0022
	OpStartDiscovery        CommandOpcode = 0x0023
	OpStopDiscovery         CommandOpcode = 0x0024
	OpConfirmName           CommandOpcode = 0x0025
	OpBlockDevice           CommandOpcode = 0x0026
	OpUnblockDevice         CommandOpcode = 0x0027
	OpSetDeviceID           CommandOpcode = 0x0028
	OpSetAdvertising        CommandOpcode = 0x0029
	OpSetBREDR              CommandOpcode = 0x002A
	OpSetStaticAddress      CommandOpcode = 0x002B
	OpSetScanParams         CommandOpcode = 0x002C
	OpSetSecureConn         CommandOpcode = 0x002D
	OpSetDebugKeys          CommandOpcode = 0x002E
	OpSetPrivacy            CommandOpcode = 0x002F
	OpLoadIRKs              CommandOpcode = 0x0030
	OpGetConnInfo           CommandOpcode = 0x0031
	OpGetClockInfo          CommandOpcode = 0x0032
	OpAddDeviceWhitelist    CommandOpcode = 0x0033
	OpRemoveDeviceWhitelist CommandOpcode = 0x0034
	OpLoadConnParam         CommandOpcode = 0x0035
	OpReadUnconfIndexList   CommandOpcode = 0x0036
	OpReadConfigInfo        CommandOpcode = 0x0037
	OpSetExternalConfig     CommandOpcode = 0x0038
	OpSetPublicAddress      CommandOpcode = 0x0039
	OpStartServiceDiscovery CommandOpcode = 0x003A
	OpReadLocalOOBExtData   CommandOpcode = 0x003B
	OpReadExtIndexList      CommandOpcode = 0x003C
	OpReadAdvFeatures       CommandOpcode = 0x003D
	OpAddAdvertising        CommandOpcode = 0x003E
	OpRemoveAdvertising     CommandOpcode = 0x003F
	OpGetAdvSizeInfo        CommandOpcode = 0x0040
	OpStartLimitedDiscovery CommandOpcode = 0x0041
	OpReadExtInfo           CommandOpcode = 0x0042
	OpSetAppearance         CommandOpcode = 0x0043
	OpGetPhyConfiguration   CommandOpcode = 0x0044
	OpSetPhyConfiguration   CommandOpcode = 0x0045
	OpSetBlockedKeys        CommandOpcode = 0x0046
	OpSetWidebandSpeech     CommandOpcode = 0x0047
	OpGetConnInfoV2         CommandOpcode = 0x0048
)

func (o CommandOpcode) String() string {
	switch o {
	case OpReadVersion:
		return "ReadVersion"
	case OpReadCommands:
		return "ReadCommands"
	case OpReadIndexList:
		return "ReadIndexList"
	case OpReadInfo:
		return "ReadInfo"
	case OpSetPowered:
		return "SetPowered"
	case OpSetDiscoverable:
		return "SetDiscoverable"
	case OpSetConnectable:
		return "SetConnectable"
	case OpSetFastConnectable:
		return "SetFastConnectable"
	case OpSetBondable:
		return "SetBondable"
	case OpSetLinkSecurity:
		return "SetLinkSecurity"
	case OpSetSSP:
		return "SetSSP"
	case OpSetHS:
		return "SetHS"
	case OpSetLE:
		return "SetLE"
	case OpSetDevClass:
		return "SetDevClass"
	case OpSetLocalName:
		return "SetLocalName"
	case OpLoadLinkKeys:
		return "LoadLinkKeys"
	case OpLoadLongTermKeys:
		return "LoadLongTermKeys"
	case OpDisconnect:
		return "Disconnect"
	case OpPinCodeReply:
		return "PinCodeReply"
	case OpPinCodeNegReply:
		return "PinCodeNegReply"
	case OpPairDevice:
		return "PairDevice"
	case OpCancelPairDevice:
		return "CancelPairDevice"
	case OpUnpairDevice:
		return "UnpairDevice"
	case OpUserConfirmReply:
		return "UserConfirmReply"
	case OpUserConfirmNegReply:
		return "UserConfirmNegReply"
	case OpUserPasskeyReply:
		return "UserPasskeyReply"
	case OpUserPasskeyNegReply:
		return "UserPasskeyNegReply"
	case OpStartDiscovery:
		return "StartDiscovery"
	case OpStopDiscovery:
		return "StopDiscovery"
	case OpSetAdvertising:
		return "SetAdvertising"
	case OpSetBREDR:
		return "SetBREDR"
	case OpSetSecureConn:
		return "SetSecureConn"
	case OpSetPrivacy:
		return "SetPrivacy"
	case OpLoadIRKs:
		return "LoadIRKs"
	case OpGetConnInfo:
		return "GetConnInfo"
	case OpAddDeviceWhitelist:
		return "AddDeviceWhitelist"
	case OpRemoveDeviceWhitelist:
		return "RemoveDeviceWhitelist"
	case OpLoadConnParam:
		return "LoadConnParam"
	default:
		return "Unknown"
	}
}

// EventOpcode identifies an inbound management event
// (direct_bt's MgmtEvent::Opcode).
type EventOpcode uint16

const (
	EvInvalid              EventOpcode = 0x0000
	EvCmdComplete          EventOpcode = 0x0001
	EvCmdStatus            EventOpcode = 0x0002
	EvControllerError      EventOpcode = 0x0003
	EvIndexAdded           EventOpcode = 0x0004
	EvIndexRemoved         EventOpcode = 0x0005
	EvNewSettings          EventOpcode = 0x0006
	EvClassOfDevChanged    EventOpcode = 0x0007
	EvLocalNameChanged     EventOpcode = 0x0008
	EvNewLinkKey           EventOpcode = 0x0009
	EvNewLongTermKey       EventOpcode = 0x000A
	EvDeviceConnected      EventOpcode = 0x000B
	EvDeviceDisconnected   EventOpcode = 0x000C
	EvConnectFailed        EventOpcode = 0x000D
	EvPinCodeRequest       EventOpcode = 0x000E
	EvUserConfirmRequest   EventOpcode = 0x000F
	EvUserPasskeyRequest   EventOpcode = 0x0010
	EvAuthFailed           EventOpcode = 0x0011
	EvDeviceFound          EventOpcode = 0x0012
	EvDiscovering          EventOpcode = 0x0013
	EvDeviceBlocked        EventOpcode = 0x0014
	EvDeviceUnblocked      EventOpcode = 0x0015
	EvDeviceUnpaired       EventOpcode = 0x0016
	EvPasskeyNotify        EventOpcode = 0x0017
	EvNewIRK               EventOpcode = 0x0018
	EvNewCSRK              EventOpcode = 0x0019
	EvDeviceWhitelistAdded EventOpcode = 0x001A
	EvDeviceWhitelistRem   EventOpcode = 0x001B
	EvNewConnParam         EventOpcode = 0x001C
	EvUnconfIndexAdded     EventOpcode = 0x001D
	EvUnconfIndexRemoved   EventOpcode = 0x001E
	EvNewConfigOptions     EventOpcode = 0x001F
	EvExtIndexAdded        EventOpcode = 0x0020
	EvExtIndexRemoved      EventOpcode = 0x0021
	EvLocalOOBDataUpdated  EventOpcode = 0x0022
	EvAdvertisingAdded     EventOpcode = 0x0023
	EvAdvertisingRemoved   EventOpcode = 0x0024
	EvExtInfoChanged       EventOpcode = 0x0025
)

func (o EventOpcode) String() string {
	switch o {
	case EvInvalid:
		return "Invalid"
	case EvCmdComplete:
		return "CmdComplete"
	case EvCmdStatus:
		return "CmdStatus"
	case EvControllerError:
		return "ControllerError"
	case EvIndexAdded:
		return "IndexAdded"
	case EvIndexRemoved:
		return "IndexRemoved"
	case EvNewSettings:
		return "NewSettings"
	case EvClassOfDevChanged:
		return "ClassOfDevChanged"
	case EvLocalNameChanged:
		return "LocalNameChanged"
	case EvNewLinkKey:
		return "NewLinkKey"
	case EvNewLongTermKey:
		return "NewLongTermKey"
	case EvDeviceConnected:
		return "DeviceConnected"
	case EvDeviceDisconnected:
		return "DeviceDisconnected"
	case EvConnectFailed:
		return "ConnectFailed"
	case EvPinCodeRequest:
		return "PinCodeRequest"
	case EvUserConfirmRequest:
		return "UserConfirmRequest"
	case EvUserPasskeyRequest:
		return "UserPasskeyRequest"
	case EvAuthFailed:
		return "AuthFailed"
	case EvDeviceFound:
		return "DeviceFound"
	case EvDiscovering:
		return "Discovering"
	case EvDeviceBlocked:
		return "DeviceBlocked"
	case EvDeviceUnblocked:
		return "DeviceUnblocked"
	case EvDeviceUnpaired:
		return "DeviceUnpaired"
	case EvPasskeyNotify:
		return "PasskeyNotify"
	case EvNewIRK:
		return "NewIRK"
	case EvNewCSRK:
		return "NewCSRK"
	case EvDeviceWhitelistAdded:
		return "DeviceWhitelistAdded"
	case EvDeviceWhitelistRem:
		return "DeviceWhitelistRemoved"
	case EvNewConnParam:
		return "NewConnParam"
	case EvExtIndexAdded:
		return "ExtIndexAdded"
	case EvExtIndexRemoved:
		return "ExtIndexRemoved"
	default:
		return "Unknown"
	}
}

// Status is the single-byte command-completion result carried by
// CMD_COMPLETE/CMD_STATUS events (Linux mgmt-api.txt Status Codes).
type Status uint8

const (
	StatusSuccess          Status = 0x00
	StatusUnknownCommand   Status = 0x01
	StatusNotConnected     Status = 0x02
	StatusFailed           Status = 0x03
	StatusConnectFailed    Status = 0x04
	StatusAuthFailed       Status = 0x05
	StatusNotPaired        Status = 0x06
	StatusNoResources      Status = 0x07
	StatusTimeout          Status = 0x08
	StatusAlreadyConnected Status = 0x09
	StatusBusy             Status = 0x0A
	StatusRejected         Status = 0x0B
	StatusNotSupported     Status = 0x0C
	StatusInvalidParams    Status = 0x0D
	StatusDisconnected     Status = 0x0E
	StatusNotPowered       Status = 0x0F
	StatusCancelled        Status = 0x10
	StatusInvalidIndex     Status = 0x11
	StatusRFKilled         Status = 0x12
	StatusAlreadyPaired    Status = 0x13
	StatusPermissionDenied Status = 0x14
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "mgmt error status"
}

// Settings is the bitset carried by READ_INFO and NEW_SETTINGS.
type Settings uint32

const (
	SettingPowered         Settings = 1 << 0
	SettingConnectable     Settings = 1 << 1
	SettingFastConnectable Settings = 1 << 2
	SettingDiscoverable    Settings = 1 << 3
	SettingBondable        Settings = 1 << 4
	SettingLinkSecurity    Settings = 1 << 5
	SettingSSP             Settings = 1 << 6
	SettingBREDR           Settings = 1 << 7
	SettingHS              Settings = 1 << 8
	SettingLE              Settings = 1 << 9
	SettingAdvertising     Settings = 1 << 10
	SettingSecureConn      Settings = 1 << 11
	SettingDebugKeys       Settings = 1 << 12
	SettingPrivacy         Settings = 1 << 13
	SettingConfiguration   Settings = 1 << 14
	SettingStaticAddress   Settings = 1 << 15
	SettingPhyConfig       Settings = 1 << 16
)

// BTMode selects which radios an adapter should enable during
// initialization (spec.md §4.8 step 2).
type BTMode int

const (
	BTModeLE BTMode = iota
	BTModeBREDR
	BTModeDual
)

// String renders a BTMode the way config files and logs expect to see
// it: "LE", "BREDR", or "DUAL".
func (m BTMode) String() string {
	switch m {
	case BTModeLE:
		return "LE"
	case BTModeBREDR:
		return "BREDR"
	case BTModeDual:
		return "DUAL"
	default:
		return fmt.Sprintf("BTMode(%d)", int(m))
	}
}

// MarshalYAML renders m using String so SaveConfig round-trips back
// through the LE/BREDR/DUAL decode hook instead of a bare integer.
func (m BTMode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}
