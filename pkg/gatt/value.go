package gatt

import (
	"fmt"

	"github.com/arlojames/btstack/pkg/att"
	"github.com/arlojames/btstack/pkg/gattdb"
)

// ReadValue reads the attribute at handle. expectedLength selects the
// read strategy (spec.md §4.4):
//
//   - 0:  a single Read-Req/Rsp.
//   - <0: Read-Req/Rsp, then Read-Blob-Req chained from the current
//     length until a reply comes back with a zero-length value, or an
//     INVALID_OFFSET error.
//   - >0: the same chaining, but stopping once expectedLength bytes have
//     been accumulated rather than waiting for the empty reply.
func (h *Handler) ReadValue(handle uint16, expectedLength int) ([]byte, error) {
	reply, err := h.sendWithReply(att.NewReadReq(handle), h.readTimeout())
	if err != nil {
		return nil, err
	}
	if reply.Opcode() == att.OpErrorRsp {
		return nil, reply.AsError()
	}
	value, err := reply.Value()
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), value...)

	if expectedLength == 0 {
		return out, nil
	}

	for {
		if expectedLength > 0 && len(out) >= expectedLength {
			return out[:expectedLength], nil
		}
		blobReply, err := h.sendWithReply(att.NewReadBlobReq(handle, uint16(len(out))), h.readTimeout())
		if err != nil {
			return nil, err
		}
		if blobReply.Opcode() == att.OpErrorRsp {
			causedErr := blobReply.AsError()
			if causedErr != nil && causedErr.Code == att.ErrInvalidOffset {
				return out, nil
			}
			return nil, causedErr
		}
		chunk, err := blobReply.Value()
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
	}
}

// WriteCharacteristicValue issues a Write-Req and waits for the
// Write-Rsp. The client path does not fragment: value must fit within
// used_mtu-3.
func (h *Handler) WriteCharacteristicValue(handle uint16, value []byte) error {
	if err := h.checkWriteFits(value); err != nil {
		return err
	}
	reply, err := h.sendWithReply(att.NewWriteReq(handle, value), h.writeTimeout())
	if err != nil {
		return err
	}
	if reply.Opcode() == att.OpErrorRsp {
		return reply.AsError()
	}
	return nil
}

// WriteCharacteristicValueNoResp issues a Write-Cmd; no reply is
// expected or waited for.
func (h *Handler) WriteCharacteristicValueNoResp(handle uint16, value []byte) error {
	if err := h.checkWriteFits(value); err != nil {
		return err
	}
	return h.send(att.NewWriteCmd(handle, value))
}

func (h *Handler) checkWriteFits(value []byte) error {
	used := int(h.UsedMTU())
	if used == 0 {
		used = 23
	}
	if len(value) > used-3 {
		return fmt.Errorf("gatt: %w: %d bytes > mtu-3=%d", ErrValueTooLarge, len(value), used-3)
	}
	return nil
}

// WriteClientCharConfig writes a characteristic's CCCD to enable/disable
// notifications and indications, refusing if the characteristic's
// properties don't advertise the requested mode.
func (h *Handler) WriteClientCharConfig(ch *gattdb.Characteristic, cccdHandle uint16, notify, indicate bool) error {
	if notify && ch.Properties&gattdb.PropNotify == 0 {
		return fmt.Errorf("gatt: characteristic %s does not support notifications", ch.UUID)
	}
	if indicate && ch.Properties&gattdb.PropIndicate == 0 {
		return fmt.Errorf("gatt: characteristic %s does not support indications", ch.UUID)
	}
	raw := gattdb.EncodeCCCD(gattdb.CCCDState{NotifyEnabled: notify, IndicateEnabled: indicate})
	return h.WriteCharacteristicValue(cccdHandle, raw)
}
