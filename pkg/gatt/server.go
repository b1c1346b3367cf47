package gatt

import (
	"fmt"
	"sort"

	"github.com/arlojames/btstack/pkg/att"
	"github.com/arlojames/btstack/pkg/gattdb"
)

// dispatchServerRequest serves an inbound request/command PDU against
// serverDB. With no serverDB configured, every request is rejected
// AttributeNotFound and commands are silently dropped, matching
// gattdb.NOP's semantics.
func (h *Handler) dispatchServerRequest(pdu *att.PDU) {
	reply := h.handleRequest(pdu)
	if reply == nil {
		return
	}
	h.sendBestEffort(reply)
}

func (h *Handler) handleRequest(pdu *att.PDU) *att.PDU {
	if h.serverDB == nil || h.serverDB.Mode() != gattdb.DB {
		if pdu.Opcode().IsCommand() {
			return nil
		}
		return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrAttributeNotFound)
	}

	switch pdu.Opcode() {
	case att.OpExchangeMTUReq:
		return h.serveExchangeMTU(pdu)
	case att.OpFindInformationReq:
		return h.serveFindInformation(pdu)
	case att.OpFindByTypeValueReq:
		return h.serveFindByTypeValue(pdu)
	case att.OpReadByTypeReq:
		return h.serveReadByType(pdu)
	case att.OpReadByGroupTypeReq:
		return h.serveReadByGroupType(pdu)
	case att.OpReadReq:
		return h.serveRead(pdu, false)
	case att.OpReadBlobReq:
		return h.serveRead(pdu, true)
	case att.OpWriteReq:
		return h.serveWrite(pdu, true)
	case att.OpWriteCmd:
		return h.serveWrite(pdu, false)
	case att.OpPrepareWriteReq:
		return h.servePrepareWrite(pdu)
	case att.OpExecuteWriteReq:
		return h.serveExecuteWrite(pdu)
	case att.OpHandleValueCfm:
		return nil // acknowledges our own indication; nothing to do
	default:
		if pdu.Opcode().IsCommand() {
			return nil
		}
		return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrUnsupportedRequest)
	}
}

func (h *Handler) serveExchangeMTU(pdu *att.PDU) *att.PDU {
	clientMTU, err := pdu.MTU()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrInvalidPDUCode)
	}
	used := clampU16(minU16(clientMTU, h.cfg.ClientMaxMTU), 23, 513)
	h.initMu.Lock()
	h.usedMTU = used
	h.initMu.Unlock()
	return att.NewExchangeMTURsp(h.cfg.ClientMaxMTU)
}

// serveFindInformation answers over the server database's declared
// attributes: service/characteristic declarations plus descriptors,
// packed as same-width elements truncated at the first width change
// (spec.md §4.4 "server-side ... same-width-element-packing").
func (h *Handler) serveFindInformation(pdu *att.PDU) *att.PDU {
	start, end, err := pdu.HandleRange()
	if err != nil || start == 0 || start > end {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrInvalidPDUCode)
	}

	type elem struct {
		handle uint16
		uuid   att.UUID
	}
	var elems []elem
	for _, s := range h.serverDB.ServicesInHandleOrder() {
		for h2, u := range attributeUUIDsInRange(s, start, end) {
			elems = append(elems, elem{handle: h2, uuid: u})
		}
	}
	sort.Slice(elems, func(i, j int) bool { return elems[i].handle < elems[j].handle })
	if len(elems) == 0 {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrAttributeNotFound)
	}

	format := uint8(att.FindInfoFormat16Bit)
	if elems[0].uuid.Is128Bit() {
		format = att.FindInfoFormat128Bit
	}
	n := 0
	for _, e := range elems {
		if e.uuid.Is128Bit() != (format == att.FindInfoFormat128Bit) {
			break
		}
		n++
	}
	builder, err := att.NewFindInformationRspBuilder(format, n)
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrUnlikely)
	}
	for i := 0; i < n; i++ {
		_ = builder.SetElement(i, elems[i].handle, elems[i].uuid)
	}
	out, err := builder.Finalize(n)
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrUnlikely)
	}
	return out
}

// attributeUUIDsInRange yields every handle/UUID pair this service tree
// declares within [start,end]: the service declaration itself, each
// characteristic declaration and value, and each descriptor.
func attributeUUIDsInRange(s *gattdb.Service, start, end uint16) map[uint16]att.UUID {
	out := make(map[uint16]att.UUID)
	add := func(h uint16, u att.UUID) {
		if h >= start && h <= end {
			out[h] = u
		}
	}
	declType := att.PrimaryServiceUUID
	if !s.Primary {
		declType = att.SecondaryServiceUUID
	}
	add(s.Handle, declType)
	for _, c := range s.Characteristics {
		add(c.DeclHandle, att.CharacteristicUUID)
		add(c.ValueHandle, c.UUID)
		for _, d := range c.Descriptors {
			add(d.Handle, d.UUID)
		}
	}
	return out
}

func (h *Handler) serveReadByType(pdu *att.PDU) *att.PDU {
	start, end, err := pdu.HandleRange()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrInvalidPDUCode)
	}
	attrType, err := pdu.AttributeType()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrInvalidPDUCode)
	}

	type found struct {
		handle uint16
		value  []byte
	}
	var matches []found
	if attrType.Equal(att.CharacteristicUUID) {
		for _, s := range h.serverDB.ServicesInHandleOrder() {
			for _, c := range s.Characteristics {
				if c.DeclHandle < start || c.DeclHandle > end {
					continue
				}
				valBytes := make([]byte, 3)
				valBytes[0] = c.Properties
				valBytes[1] = byte(c.ValueHandle)
				valBytes[2] = byte(c.ValueHandle >> 8)
				valBytes = c.UUID.AppendLE(valBytes)
				matches = append(matches, found{handle: c.DeclHandle, value: valBytes})
			}
		}
	} else {
		// Characteristic value read-by-type: find the value attribute
		// within range whose type matches attrType and consult the
		// read listener chain.
		for _, s := range h.serverDB.ServicesInHandleOrder() {
			for _, c := range s.Characteristics {
				if c.ValueHandle < start || c.ValueHandle > end || !c.UUID.Equal(attrType) {
					continue
				}
				if !h.consultReadListeners(s, c, nil) {
					return att.NewErrorRsp(pdu.Opcode(), c.ValueHandle, att.ErrNoReadPerm)
				}
				matches = append(matches, found{handle: c.ValueHandle, value: c.Value})
			}
		}
	}
	if len(matches) == 0 {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrAttributeNotFound)
	}

	width := len(matches[0].value)
	n := 0
	for _, m := range matches {
		if len(m.value) != width {
			break
		}
		n++
	}
	builder := att.NewReadByTypeRspBuilder(width, n)
	for i := 0; i < n; i++ {
		_ = builder.SetElementHandle(i, matches[i].handle)
		_ = builder.SetElementValue(i, matches[i].value)
	}
	out, err := builder.Finalize(n)
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrUnlikely)
	}
	return out
}

func (h *Handler) serveReadByGroupType(pdu *att.PDU) *att.PDU {
	start, end, err := pdu.HandleRange()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrInvalidPDUCode)
	}
	groupType, err := pdu.AttributeType()
	if err != nil || !groupType.Equal(att.PrimaryServiceUUID) {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrUnsupportedGroupType)
	}

	type found struct {
		handle, endHandle uint16
		value             []byte
	}
	var matches []found
	for _, s := range h.serverDB.ServicesInHandleOrder() {
		if s.Handle < start || s.Handle > end || !s.Primary {
			continue
		}
		matches = append(matches, found{handle: s.Handle, endHandle: s.EndHandle, value: s.UUID.AppendLE(nil)})
	}
	if len(matches) == 0 {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrAttributeNotFound)
	}

	width := len(matches[0].value)
	n := 0
	for _, m := range matches {
		if len(m.value) != width {
			break
		}
		n++
	}
	builder := att.NewReadByGroupTypeRspBuilder(width, n)
	for i := 0; i < n; i++ {
		_ = builder.SetElementHandle(i, matches[i].handle)
		_ = builder.SetElementEndHandle(i, matches[i].endHandle)
		_ = builder.SetElementValue(i, matches[i].value)
	}
	out, err := builder.Finalize(n)
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrUnlikely)
	}
	return out
}

func (h *Handler) serveFindByTypeValue(pdu *att.PDU) *att.PDU {
	start, end, attrType, attrValue, err := pdu.FindByTypeValueParams()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrInvalidPDUCode)
	}
	var pairs [][2]uint16
	if attrType == uint16(0x2800) { // Primary Service
		for _, s := range h.serverDB.ServicesInHandleOrder() {
			if s.Handle < start || s.Handle > end || !s.Primary {
				continue
			}
			encoded := s.UUID.AppendLE(nil)
			if !bytesEqual(encoded, attrValue) {
				continue
			}
			pairs = append(pairs, [2]uint16{s.Handle, s.EndHandle})
		}
	}
	if len(pairs) == 0 {
		return att.NewErrorRsp(pdu.Opcode(), start, att.ErrAttributeNotFound)
	}
	return att.NewFindByTypeValueRsp(pairs)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (h *Handler) serveRead(pdu *att.PDU, blob bool) *att.PDU {
	handle, err := pdu.Handle()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrInvalidPDUCode)
	}
	var offset int
	if blob {
		off, err := pdu.Offset()
		if err != nil {
			return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrInvalidPDUCode)
		}
		offset = int(off)
	}

	s, c, desc, ok := h.serverDB.FindAttribute(handle)
	if !ok {
		return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrAttributeNotFound)
	}
	if !h.consultReadListeners(s, c, desc) {
		return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrNoReadPerm)
	}

	value := attributeValue(c, desc)
	if offset > len(value) {
		return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrInvalidOffset)
	}
	used := int(h.UsedMTU())
	if used == 0 {
		used = 23
	}
	end := offset + (used - 1)
	if end > len(value) {
		end = len(value)
	}
	slice := value[offset:end]
	if blob {
		return att.NewReadBlobRsp(slice)
	}
	return att.NewReadRsp(slice)
}

func attributeValue(c *gattdb.Characteristic, desc *gattdb.Descriptor) []byte {
	if desc != nil {
		return desc.Value
	}
	return c.Value
}

func (h *Handler) consultReadListeners(s *gattdb.Service, c *gattdb.Characteristic, desc *gattdb.Descriptor) bool {
	for _, l := range h.serverDB.Listeners() {
		var ok bool
		if desc != nil {
			ok = l.ReadDescriptorValue(h.peerAddr, s, c, desc)
		} else {
			ok = l.ReadCharacteristicValue(h.peerAddr, s, c)
		}
		if !ok {
			return false
		}
	}
	return true
}

func (h *Handler) consultWriteListeners(s *gattdb.Service, c *gattdb.Characteristic, desc *gattdb.Descriptor, value []byte, offset int) bool {
	for _, l := range h.serverDB.Listeners() {
		var ok bool
		if desc != nil {
			ok = l.WriteDescriptorValue(h.peerAddr, s, c, desc, value, offset)
		} else {
			ok = l.WriteCharacteristicValue(h.peerAddr, s, c, value, offset)
		}
		if !ok {
			return false
		}
	}
	return true
}

func (h *Handler) notifyWriteDone(s *gattdb.Service, c *gattdb.Characteristic, desc *gattdb.Descriptor) {
	for _, l := range h.serverDB.Listeners() {
		if desc != nil {
			l.WriteDescriptorValueDone(h.peerAddr, s, c, desc)
		} else {
			l.WriteCharacteristicValueDone(h.peerAddr, s, c)
		}
	}
}

// serveWrite handles both Write-Req (isRequest=true, reply required) and
// Write-Cmd (isRequest=false, no reply): write_*_value listener chain →
// (if all true) apply value → write_*_value_done. A CCCD write also fans
// out client_char_config_changed.
func (h *Handler) serveWrite(pdu *att.PDU, isRequest bool) *att.PDU {
	handle, err := pdu.Handle()
	if err != nil {
		if isRequest {
			return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrInvalidPDUCode)
		}
		return nil
	}
	value, err := pdu.Value()
	if err != nil {
		if isRequest {
			return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrInvalidPDUCode)
		}
		return nil
	}

	s, c, desc, ok := h.serverDB.FindAttribute(handle)
	if !ok {
		if isRequest {
			return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrAttributeNotFound)
		}
		return nil
	}
	if !h.consultWriteListeners(s, c, desc, value, 0) {
		if isRequest {
			return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrNoWritePerm)
		}
		return nil
	}

	h.applyWrite(c, desc, value, 0)
	h.notifyWriteDone(s, c, desc)

	if desc != nil && desc.UUID.Equal(att.ClientCharacteristicConfigUUID) {
		state, err := gattdb.DecodeCCCD(desc.Value)
		if err == nil {
			for _, l := range h.serverDB.Listeners() {
				l.ClientCharConfigChanged(h.peerAddr, s, c, desc, state.NotifyEnabled, state.IndicateEnabled)
			}
		}
	}

	if isRequest {
		return att.NewWriteRsp()
	}
	return nil
}

func (h *Handler) applyWrite(c *gattdb.Characteristic, desc *gattdb.Descriptor, value []byte, offset int) {
	target := &c.Value
	if desc != nil {
		target = &desc.Value
	}
	next := make([]byte, offset+len(value))
	copy(next, *target)
	copy(next[offset:], value)
	*target = next
}

func (h *Handler) servePrepareWrite(pdu *att.PDU) *att.PDU {
	handle, err := pdu.Handle()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrInvalidPDUCode)
	}
	offset, err := pdu.Offset()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrInvalidPDUCode)
	}
	value, err := pdu.Value()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrInvalidPDUCode)
	}

	if _, _, _, ok := h.serverDB.FindAttribute(handle); !ok {
		return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrAttributeNotFound)
	}

	h.prepareMu.Lock()
	if err := h.enqueuePrepareLocked(handle, int(offset), value); err != nil {
		h.prepareQueue = nil
		h.prepareMu.Unlock()
		return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrInvalidOffset)
	}
	h.prepareMu.Unlock()

	return att.NewPrepareWriteRsp(handle, offset, value)
}

// enqueuePrepareLocked appends a chunk to the per-handle prepare queue,
// requiring contiguity with whatever has already been queued for that
// handle: a gap is rejected with INVALID_OFFSET (spec.md §4.4 "Prepare
// Write ... contiguous-chunk queue with gap").
func (h *Handler) enqueuePrepareLocked(handle uint16, offset int, value []byte) error {
	wantOffset := 0
	for _, e := range h.prepareQueue {
		if e.handle == handle {
			wantOffset += len(e.value)
		}
	}
	if offset != wantOffset {
		return fmt.Errorf("gatt: prepare write offset %d, want %d", offset, wantOffset)
	}
	h.prepareQueue = append(h.prepareQueue, prepareEntry{handle: handle, offset: offset, value: append([]byte(nil), value...)})
	return nil
}

func (h *Handler) serveExecuteWrite(pdu *att.PDU) *att.PDU {
	flags, err := pdu.ExecuteWriteFlags()
	if err != nil {
		return att.NewErrorRsp(pdu.Opcode(), 0, att.ErrInvalidPDUCode)
	}

	h.prepareMu.Lock()
	queue := h.prepareQueue
	h.prepareQueue = nil
	h.prepareMu.Unlock()

	if flags == att.ExecuteWriteCancel {
		return att.NewExecuteWriteRsp()
	}

	byHandle := make(map[uint16][]byte)
	order := make([]uint16, 0, len(queue))
	for _, e := range queue {
		if _, seen := byHandle[e.handle]; !seen {
			order = append(order, e.handle)
		}
		byHandle[e.handle] = append(byHandle[e.handle], e.value...)
	}
	for _, handle := range order {
		s, c, desc, ok := h.serverDB.FindAttribute(handle)
		if !ok {
			continue
		}
		value := byHandle[handle]
		if !h.consultWriteListeners(s, c, desc, value, 0) {
			return att.NewErrorRsp(pdu.Opcode(), handle, att.ErrNoWritePerm)
		}
		h.applyWrite(c, desc, value, 0)
		h.notifyWriteDone(s, c, desc)
	}
	return att.NewExecuteWriteRsp()
}
