package gatt

import (
	"fmt"

	"github.com/arlojames/btstack/internal/logger"
	"github.com/arlojames/btstack/pkg/att"
	"github.com/arlojames/btstack/pkg/gattdb"
)

// exchangeMTU sends Exchange-MTU-Req with the local maximum. The
// clientMTUExchanged flag is set regardless of outcome so InitClientGatt
// never re-attempts negotiation on a later call (spec.md §4.4 "MTU
// negotiation").
func (h *Handler) exchangeMTU() {
	h.initMu.Lock()
	h.clientMTUExchanged = true
	h.initMu.Unlock()

	reply, err := h.sendWithReply(att.NewExchangeMTUReq(h.cfg.ClientMaxMTU), h.initialConnectTimeout())
	used := uint16(23)
	if err != nil {
		logger.Warn("gatt: MTU exchange failed, using default MTU", "error", err)
	} else if reply.Opcode() != att.OpExchangeMTURsp {
		logger.Warn("gatt: MTU exchange rejected, using default MTU")
	} else if serverMTU, err := reply.MTU(); err == nil {
		used = minU16(h.cfg.ClientMaxMTU, serverMTU)
		used = clampU16(used, 23, 513)
	}

	h.initMu.Lock()
	h.usedMTU = used
	h.initMu.Unlock()
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func clampU16(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// discoverPrimaryServices walks the full 16-bit handle space with
// Read-By-Group-Type-Req for the Primary Service declaration UUID,
// advancing start to last_end+1 after each response and terminating when
// start exceeds 0xFFFF or the server replies AttributeNotFound.
func (h *Handler) discoverPrimaryServices() ([]*gattdb.Service, error) {
	var services []*gattdb.Service
	start := uint16(1)
	for {
		reply, err := h.sendWithReply(att.NewReadByGroupTypeReq(start, gattdb.MaxHandle, att.PrimaryServiceUUID), h.readTimeout())
		if err != nil {
			return nil, err
		}
		if reply.Opcode() == att.OpErrorRsp {
			_, _, code, _ := reply.ErrorInfo()
			if code == att.ErrAttributeNotFound {
				break
			}
			return nil, reply.AsError()
		}
		count, err := reply.ElementCount()
		if err != nil {
			return nil, err
		}
		var lastEnd uint16
		for i := 0; i < count; i++ {
			handle, endHandle, value, err := reply.Element(i)
			if err != nil {
				return nil, err
			}
			uuid, err := att.ParseUUIDLE(value)
			if err != nil {
				return nil, fmt.Errorf("gatt: service uuid: %w", err)
			}
			services = append(services, &gattdb.Service{
				Handle:    handle,
				EndHandle: endHandle,
				UUID:      uuid,
				Primary:   true,
			})
			lastEnd = endHandle
		}
		if count == 0 || lastEnd == gattdb.MaxHandle {
			break
		}
		start = lastEnd + 1
	}
	return services, nil
}

// discoverCharacteristics walks svc's handle range with Read-By-Type-Req
// for the Characteristic Declaration UUID, decoding each element's
// {properties:u8, value_handle:u16, char_uuid}. A characteristic's
// EndHandle is the handle preceding the next characteristic's
// declaration handle, or the service's EndHandle for the last one.
func (h *Handler) discoverCharacteristics(svc *gattdb.Service) error {
	start := svc.Handle + 1
	for start <= svc.EndHandle {
		reply, err := h.sendWithReply(att.NewReadByTypeReq(start, svc.EndHandle, att.CharacteristicUUID), h.readTimeout())
		if err != nil {
			return err
		}
		if reply.Opcode() == att.OpErrorRsp {
			_, _, code, _ := reply.ErrorInfo()
			if code == att.ErrAttributeNotFound {
				break
			}
			return reply.AsError()
		}
		count, err := reply.ElementCount()
		if err != nil {
			return err
		}
		if count == 0 {
			break
		}
		var lastDeclHandle uint16
		for i := 0; i < count; i++ {
			declHandle, _, value, err := reply.Element(i)
			if err != nil {
				return err
			}
			if len(value) < 3 {
				return fmt.Errorf("gatt: %w: characteristic declaration too short", att.ErrInvalidFormat)
			}
			props := value[0]
			valueHandle := uint16(value[1]) | uint16(value[2])<<8
			uuid, err := att.ParseUUIDLE(value[3:])
			if err != nil {
				return fmt.Errorf("gatt: characteristic uuid: %w", err)
			}
			if len(svc.Characteristics) > 0 {
				prev := svc.Characteristics[len(svc.Characteristics)-1]
				prev.EndHandle = declHandle - 1
			}
			svc.Characteristics = append(svc.Characteristics, &gattdb.Characteristic{
				DeclHandle:  declHandle,
				ValueHandle: valueHandle,
				EndHandle:   svc.EndHandle,
				UUID:        uuid,
				Properties:  props,
			})
			lastDeclHandle = declHandle
		}
		if lastDeclHandle >= svc.EndHandle {
			break
		}
		start = lastDeclHandle + 1
	}
	return nil
}

// discoverDescriptors walks [value_handle+1, char.EndHandle] with
// Find-Information-Req and records every descriptor it finds; the CCCD
// (0x2902) and User Description (0x2901) positions are indexed later, by
// gattdb's AddService.
func (h *Handler) discoverDescriptors(ch *gattdb.Characteristic) error {
	start := ch.ValueHandle + 1
	if start > ch.EndHandle {
		return nil
	}
	for start <= ch.EndHandle {
		reply, err := h.sendWithReply(att.NewFindInformationReq(start, ch.EndHandle), h.readTimeout())
		if err != nil {
			return err
		}
		if reply.Opcode() == att.OpErrorRsp {
			_, _, code, _ := reply.ErrorInfo()
			if code == att.ErrAttributeNotFound {
				break
			}
			return reply.AsError()
		}
		format, err := reply.FindInformationFormat()
		if err != nil {
			return err
		}
		width := 2
		if format == att.FindInfoFormat128Bit {
			width = 16
		}
		valSize, err := reply.ValueSize()
		if err != nil {
			return err
		}
		elemSize := 2 + width
		if elemSize == 0 || valSize%elemSize != 0 {
			return fmt.Errorf("gatt: %w: find-information value size mismatch", att.ErrElementSizeMismatch)
		}
		count := valSize / elemSize
		if count == 0 {
			break
		}
		var lastHandle uint16
		for i := 0; i < count; i++ {
			handle, uuid, err := reply.FindInformationElement(i)
			if err != nil {
				return err
			}
			desc := &gattdb.Descriptor{Handle: handle, UUID: uuid}
			ch.Descriptors = append(ch.Descriptors, desc)
			lastHandle = handle
		}
		if lastHandle >= ch.EndHandle {
			break
		}
		start = lastHandle + 1
	}
	return nil
}
