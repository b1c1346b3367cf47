package gatt

import (
	"context"
	"fmt"
	"time"

	"github.com/arlojames/btstack/internal/logger"
	"github.com/arlojames/btstack/pkg/att"
	"github.com/arlojames/btstack/pkg/l2cap"
)

func (h *Handler) readerLoop() {
	defer h.readerWG.Done()
	defer close(h.readerDone)
	for {
		if h.IsClosed() {
			return
		}
		raw, err := h.transport.Read(0)
		if err != nil {
			if h.IsClosed() {
				return
			}
			if err == l2cap.ErrTimeout {
				continue
			}
			h.onIOError()
			return
		}
		if h.cfg.DebugData {
			logger.Debug("gatt: rx", "bytes", len(raw))
		}
		pdu, err := att.Parse(raw)
		if err != nil {
			logger.Warn("gatt: dropping malformed PDU", "error", err)
			continue
		}
		h.dispatch(pdu)
	}
}

func (h *Handler) dispatch(pdu *att.PDU) {
	switch att.ClassifyOpcode(pdu.Opcode()) {
	case att.TypeResponse:
		h.replyRing.Put(pdu.Bytes())
		if h.metrics != nil {
			h.metrics.RecordReplyRingDepth(h.replyRing.Len())
		}
	case att.TypeNotification:
		h.onReaderGoroutine.Store(true)
		h.dispatchNotification(pdu)
		h.onReaderGoroutine.Store(false)
	case att.TypeIndication:
		h.onReaderGoroutine.Store(true)
		h.dispatchIndication(pdu)
		h.onReaderGoroutine.Store(false)
	case att.TypeRequest, att.TypeCommand:
		h.onReaderGoroutine.Store(true)
		h.dispatchServerRequest(pdu)
		h.onReaderGoroutine.Store(false)
	default:
		if !pdu.Opcode().IsCommand() {
			h.sendBestEffort(att.NewErrorRsp(pdu.Opcode(), 0, att.ErrUnsupportedRequest))
		}
	}
}

// onIOError runs the I/O-error failure path: disconnect and fail every
// pending waiter with ErrDisconnected (spec.md §4.4 "Failure semantics").
// The reply ring's own Close (invoked by Handler.Close) already wakes
// blocked Gets with ok=false, which sendWithReply surfaces as
// ErrDisconnected once IsClosed is observed.
func (h *Handler) onIOError() {
	logger.Warn("gatt: transport I/O error, disconnecting", "peer", h.peerAddr)
	_ = h.Close()
}

func (h *Handler) sendBestEffort(pdu *att.PDU) {
	if err := h.send(pdu); err != nil {
		logger.Warn("gatt: best-effort send failed", "opcode", pdu.Opcode(), "error", err)
	}
}

// send writes pdu directly, refusing if the ATT payload would exceed the
// negotiated MTU's headroom or the connection is not usable.
func (h *Handler) send(pdu *att.PDU) error {
	if h.IsClosed() {
		return ErrDisconnected
	}
	used := h.UsedMTU()
	if used > 0 && pdu.Size() > int(used)-1 {
		return fmt.Errorf("gatt: %w: %d bytes > mtu-1=%d", ErrValueTooLarge, pdu.Size(), used-1)
	}
	if err := h.transport.Write(pdu.Bytes()); err != nil {
		return fmt.Errorf("gatt: write: %w", err)
	}
	return nil
}

// sendWithReply sends pdu, serialized against every other in-flight
// command on this connection, and blocks on the reply ring until a
// response whose opcode matches pdu's method (or an error response with
// a matching caused-opcode) is dequeued. Mismatched replies are dropped
// and the wait resumes until the deadline; after maxReplyMismatchRetry
// discards (bounded by the ring's own capacity, since a matching reply
// can never sit behind more unrelated traffic than the ring holds) the
// call fails with ErrTimeout.
func (h *Handler) sendWithReply(pdu *att.PDU, timeout time.Duration) (reply *att.PDU, err error) {
	start := time.Now()
	opcode := pdu.Opcode().String()
	defer func() {
		if h.metrics != nil {
			h.metrics.RecordCommand(opcode, time.Since(start), err)
		}
	}()

	if h.IsClosed() {
		return nil, ErrDisconnected
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	wantMethod := pdu.Opcode().Method()
	expected, isRequest := att.ExpectedResponse(wantMethod)
	if !isRequest {
		return nil, fmt.Errorf("gatt: %s is not a request opcode", pdu.Opcode())
	}

	if err := h.send(pdu); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for attempt := 0; attempt < h.cfg.maxReplyMismatchRetry(); attempt++ {
		raw, ok := h.replyRing.Get(ctx)
		if !ok {
			if h.IsClosed() {
				return nil, ErrDisconnected
			}
			return nil, ErrTimeout
		}
		reply, err := att.Parse(raw)
		if err != nil {
			continue
		}
		if reply.Opcode() == att.OpErrorRsp {
			causedOp, _, _, err := reply.ErrorInfo()
			if err == nil && causedOp.Method() == wantMethod {
				return reply, nil
			}
			continue
		}
		if reply.Opcode() == expected {
			return reply, nil
		}
		// Mismatched reply: discard and keep waiting.
	}
	return nil, ErrTimeout
}

// Notify registers l to receive notification/indication callbacks for
// value handle h. Multiple listeners may register for the same handle.
func (h *Handler) Notify(handle uint16, l Listener) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	existing := h.listeners[handle]
	next := make([]Listener, len(existing)+1)
	copy(next, existing)
	next[len(existing)] = l
	h.listeners[handle] = next
}

func (h *Handler) listenersFor(handle uint16) []Listener {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	return h.listeners[handle]
}

func (h *Handler) dispatchNotification(pdu *att.PDU) {
	handle, err := pdu.Handle()
	if err != nil {
		return
	}
	value, err := pdu.Value()
	if err != nil {
		return
	}
	for _, l := range h.listenersFor(handle) {
		h.invokeListener(func() { l.HandleNotification(handle, value) })
	}
}

func (h *Handler) dispatchIndication(pdu *att.PDU) {
	handle, err := pdu.Handle()
	if err != nil {
		return
	}
	value, err := pdu.Value()
	if err != nil {
		return
	}
	for _, l := range h.listenersFor(handle) {
		h.invokeListener(func() { l.HandleIndication(handle, value) })
	}
	if h.cfg.SendIndicationConfirmation {
		h.sendBestEffort(att.NewHandleValueCfm())
	}
}

// invokeListener runs cb, converting a panic into a logged error so one
// misbehaving listener never prevents the rest of the fan-out from
// running, mirroring pkg/mgmt.Dispatcher.invokeCallback.
func (h *Handler) invokeListener(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("gatt: notification listener panicked", "panic", r)
		}
	}()
	cb()
}
