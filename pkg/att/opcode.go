// Package att implements the Attribute Protocol PDU codec: the little-endian,
// 1-byte-opcode, variable-length frame format ATT uses over an L2CAP bearer,
// and the typed constructors/accessors for every PDU variant spec.md
// enumerates. Parsing never panics; every failure mode returns an error.
package att

// Opcode identifies an ATT PDU's method and framing bits.
//
// Bits [0:5] select the method, bit 6 flags a command (no reply expected)
// and bit 7 flags a trailing 12-byte authentication signature.
type Opcode uint8

const (
	MethodMask        Opcode = 0x3F
	CommandFlag       Opcode = 0x40
	AuthSignatureFlag Opcode = 0x80
)

// Method returns the opcode with the command/auth-signature bits masked off,
// so a request and its signed/unsigned command variants compare equal.
func (o Opcode) Method() Opcode { return o & MethodMask }

// IsCommand reports whether the peer expects no reply to this PDU.
func (o Opcode) IsCommand() bool { return o&CommandFlag != 0 }

// HasAuthSignature reports whether a 12-byte signature trails the PDU.
func (o Opcode) HasAuthSignature() bool { return o&AuthSignatureFlag != 0 }

// The complete ATT opcode enumeration (Bluetooth Core Spec Vol 3, Part F).
const (
	OpUndefined Opcode = 0x00 // pseudo opcode: "no ATT PDU", never sent on the wire

	OpErrorRsp Opcode = 0x01

	OpExchangeMTUReq Opcode = 0x02
	OpExchangeMTURsp Opcode = 0x03

	OpFindInformationReq Opcode = 0x04
	OpFindInformationRsp Opcode = 0x05

	OpFindByTypeValueReq Opcode = 0x06
	OpFindByTypeValueRsp Opcode = 0x07

	OpReadByTypeReq Opcode = 0x08
	OpReadByTypeRsp Opcode = 0x09

	OpReadReq Opcode = 0x0A
	OpReadRsp Opcode = 0x0B

	OpReadBlobReq Opcode = 0x0C
	OpReadBlobRsp Opcode = 0x0D

	OpReadMultipleReq Opcode = 0x0E
	OpReadMultipleRsp Opcode = 0x0F

	OpReadByGroupTypeReq Opcode = 0x10
	OpReadByGroupTypeRsp Opcode = 0x11

	OpWriteReq Opcode = 0x12
	OpWriteRsp Opcode = 0x13
	OpWriteCmd Opcode = OpWriteReq + CommandFlag // 0x52

	OpPrepareWriteReq Opcode = 0x16
	OpPrepareWriteRsp Opcode = 0x17

	OpExecuteWriteReq Opcode = 0x18
	OpExecuteWriteRsp Opcode = 0x19

	OpHandleValueNtf Opcode = 0x1B
	OpHandleValueInd Opcode = 0x1D
	OpHandleValueCfm Opcode = 0x1E

	OpReadMultipleVariableReq Opcode = 0x20
	OpReadMultipleVariableRsp Opcode = 0x21

	OpMultipleHandleValueNtf Opcode = 0x23

	OpSignedWriteCmd Opcode = OpWriteReq + CommandFlag + AuthSignatureFlag // 0xD2
)

// OpcodeType classifies a PDU for dispatch purposes, per the direct_bt
// original source's own Opcode/OpcodeType split (spec.md Design Notes:
// "virtual dispatch on PDU variants ... tagged sum type").
type OpcodeType uint8

const (
	TypeUndefined OpcodeType = iota
	TypeRequest
	TypeResponse
	TypeNotification
	TypeIndication
	TypeCommand
)

// ClassifyOpcode returns the dispatch class of op.
func ClassifyOpcode(op Opcode) OpcodeType {
	if op.IsCommand() {
		return TypeCommand
	}
	switch op {
	case OpUndefined:
		return TypeUndefined
	case OpHandleValueNtf, OpMultipleHandleValueNtf:
		return TypeNotification
	case OpHandleValueInd:
		return TypeIndication
	case OpErrorRsp,
		OpExchangeMTURsp,
		OpFindInformationRsp,
		OpFindByTypeValueRsp,
		OpReadByTypeRsp,
		OpReadRsp,
		OpReadBlobRsp,
		OpReadMultipleRsp,
		OpReadByGroupTypeRsp,
		OpWriteRsp,
		OpPrepareWriteRsp,
		OpExecuteWriteRsp,
		OpReadMultipleVariableRsp,
		OpHandleValueCfm:
		return TypeResponse
	case OpExchangeMTUReq,
		OpFindInformationReq,
		OpFindByTypeValueReq,
		OpReadByTypeReq,
		OpReadReq,
		OpReadBlobReq,
		OpReadMultipleReq,
		OpReadByGroupTypeReq,
		OpWriteReq,
		OpPrepareWriteReq,
		OpExecuteWriteReq,
		OpReadMultipleVariableReq:
		return TypeRequest
	default:
		return TypeUndefined
	}
}

// pairedResponse maps a request opcode to the response opcode spec.md's
// CheckOpcode must also accept: MTU exchange, read vs. blob-read response,
// and notification vs. indication share validation logic in the handler.
var pairedResponse = map[Opcode]Opcode{
	OpExchangeMTUReq: OpExchangeMTURsp,
	OpReadReq:        OpReadRsp,
	OpReadBlobReq:    OpReadBlobRsp,
}

// ExpectedResponse returns the response opcode a request expects, and true
// if req is in fact a request opcode.
func ExpectedResponse(req Opcode) (Opcode, bool) {
	switch req.Method() {
	case OpExchangeMTUReq:
		return OpExchangeMTURsp, true
	case OpFindInformationReq:
		return OpFindInformationRsp, true
	case OpFindByTypeValueReq:
		return OpFindByTypeValueRsp, true
	case OpReadByTypeReq:
		return OpReadByTypeRsp, true
	case OpReadReq:
		return OpReadRsp, true
	case OpReadBlobReq:
		return OpReadBlobRsp, true
	case OpReadMultipleReq:
		return OpReadMultipleRsp, true
	case OpReadByGroupTypeReq:
		return OpReadByGroupTypeRsp, true
	case OpWriteReq:
		return OpWriteRsp, true
	case OpPrepareWriteReq:
		return OpPrepareWriteRsp, true
	case OpExecuteWriteReq:
		return OpExecuteWriteRsp, true
	case OpReadMultipleVariableReq:
		return OpReadMultipleVariableRsp, true
	default:
		return OpUndefined, false
	}
}

func (o Opcode) String() string {
	switch o {
	case OpUndefined:
		return "Undefined"
	case OpErrorRsp:
		return "ErrorRsp"
	case OpExchangeMTUReq:
		return "ExchangeMTUReq"
	case OpExchangeMTURsp:
		return "ExchangeMTURsp"
	case OpFindInformationReq:
		return "FindInformationReq"
	case OpFindInformationRsp:
		return "FindInformationRsp"
	case OpFindByTypeValueReq:
		return "FindByTypeValueReq"
	case OpFindByTypeValueRsp:
		return "FindByTypeValueRsp"
	case OpReadByTypeReq:
		return "ReadByTypeReq"
	case OpReadByTypeRsp:
		return "ReadByTypeRsp"
	case OpReadReq:
		return "ReadReq"
	case OpReadRsp:
		return "ReadRsp"
	case OpReadBlobReq:
		return "ReadBlobReq"
	case OpReadBlobRsp:
		return "ReadBlobRsp"
	case OpReadMultipleReq:
		return "ReadMultipleReq"
	case OpReadMultipleRsp:
		return "ReadMultipleRsp"
	case OpReadByGroupTypeReq:
		return "ReadByGroupTypeReq"
	case OpReadByGroupTypeRsp:
		return "ReadByGroupTypeRsp"
	case OpWriteReq:
		return "WriteReq"
	case OpWriteRsp:
		return "WriteRsp"
	case OpWriteCmd:
		return "WriteCmd"
	case OpPrepareWriteReq:
		return "PrepareWriteReq"
	case OpPrepareWriteRsp:
		return "PrepareWriteRsp"
	case OpExecuteWriteReq:
		return "ExecuteWriteReq"
	case OpExecuteWriteRsp:
		return "ExecuteWriteRsp"
	case OpHandleValueNtf:
		return "HandleValueNtf"
	case OpHandleValueInd:
		return "HandleValueInd"
	case OpHandleValueCfm:
		return "HandleValueCfm"
	case OpSignedWriteCmd:
		return "SignedWriteCmd"
	default:
		return "Unknown"
	}
}
