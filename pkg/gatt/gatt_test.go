package gatt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arlojames/btstack/pkg/att"
	"github.com/arlojames/btstack/pkg/l2cap"
)

// fakeMetrics records calls for assertion without pulling in the
// Prometheus backend; pkg/metrics/prometheus has its own collector tests.
type fakeMetrics struct {
	mu       sync.Mutex
	commands []string
	drops    int
	depth    int
}

func (m *fakeMetrics) RecordCommand(opcode string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, opcode)
}

func (m *fakeMetrics) RecordReplyRingDrop(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops += count
}

func (m *fakeMetrics) RecordReplyRingDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = depth
}

func testConfig() Config {
	return Config{
		ReadTimeout:  50 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
		InitTimeout:  50 * time.Millisecond,
		RingSize:     32,
		ClientMaxMTU: 185,
	}
}

func newTestHandler(t *testing.T) (*Handler, *l2cap.Fake) {
	t.Helper()
	fake := l2cap.NewFake(32)
	h := New(fake, "AA:BB:CC:DD:EE:FF", 0, nil, testConfig())
	h.Start()
	t.Cleanup(func() { _ = h.Close() })
	return h, fake
}

func TestExchangeMTUClampsToPeerMinimum(t *testing.T) {
	h, fake := newTestHandler(t)

	go func() {
		req := <-fake.Sent()
		pdu, err := att.Parse(req)
		if err != nil || pdu.Opcode() != att.OpExchangeMTUReq {
			t.Errorf("unexpected request: %v %v", pdu, err)
			return
		}
		fake.Deliver(att.NewExchangeMTURsp(100).Bytes())
	}()

	h.exchangeMTU()

	if got := h.UsedMTU(); got != 100 {
		t.Fatalf("UsedMTU() = %d, want 100", got)
	}
}

func TestExchangeMTUFallsBackOnTimeout(t *testing.T) {
	h, _ := newTestHandler(t)
	h.exchangeMTU() // no peer reply ever arrives
	if got := h.UsedMTU(); got != 23 {
		t.Fatalf("UsedMTU() = %d, want 23 default", got)
	}
}

func TestInitClientGattIsIdempotent(t *testing.T) {
	h, fake := newTestHandler(t)

	go func() {
		req := <-fake.Sent() // exchange MTU
		pdu, _ := att.Parse(req)
		if pdu.Opcode() != att.OpExchangeMTUReq {
			t.Errorf("expected exchange mtu req, got %v", pdu.Opcode())
		}
		fake.Deliver(att.NewExchangeMTURsp(185).Bytes())

		req = <-fake.Sent() // primary service discovery
		pdu, _ = att.Parse(req)
		if pdu.Opcode() != att.OpReadByGroupTypeReq {
			t.Errorf("expected read-by-group-type req, got %v", pdu.Opcode())
		}
		fake.Deliver(att.NewErrorRsp(att.OpReadByGroupTypeReq, 1, att.ErrAttributeNotFound).Bytes())
	}()

	if err := h.InitClientGatt(context.Background()); err != nil {
		t.Fatalf("InitClientGatt: %v", err)
	}
	if !h.initialized {
		t.Fatal("expected initialized=true")
	}

	// Second call must not send anything further.
	if err := h.InitClientGatt(context.Background()); err != nil {
		t.Fatalf("second InitClientGatt: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fake := l2cap.NewFake(4)
	h := New(fake, "peer", 0, nil, testConfig())
	h.Start()

	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !h.IsClosed() {
		t.Fatal("expected IsClosed() true")
	}
}

// TestCloseFromListenerDoesNotDeadlock mirrors pkg/mgmt's equivalent:
// a notification listener invoked on the reader goroutine calls Close
// synchronously; Close must detect the reentrancy and skip waiting on
// the reader goroutine it is itself running on.
func TestCloseFromListenerDoesNotDeadlock(t *testing.T) {
	fake := l2cap.NewFake(4)
	h := New(fake, "peer", 0, nil, testConfig())
	h.Start()

	done := make(chan error, 1)
	h.Notify(0x10, ListenerFuncs{
		OnNotify: func(handle uint16, value []byte) {
			done <- h.Close()
		},
	})

	fake.Deliver(att.NewHandleValueNtf(0x10, []byte{0x01}).Bytes())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close from listener: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close from listener deadlocked")
	}
	if !h.IsClosed() {
		t.Fatal("expected IsClosed() true")
	}
}

func TestNotifyFanOutToMultipleListeners(t *testing.T) {
	fake := l2cap.NewFake(4)
	h := New(fake, "peer", 0, nil, testConfig())
	h.Start()
	defer h.Close()

	gotA := make(chan []byte, 1)
	gotB := make(chan []byte, 1)
	h.Notify(0x20, ListenerFuncs{OnNotify: func(_ uint16, v []byte) { gotA <- v }})
	h.Notify(0x20, ListenerFuncs{OnNotify: func(_ uint16, v []byte) { gotB <- v }})

	fake.Deliver(att.NewHandleValueNtf(0x20, []byte{0xAB}).Bytes())

	select {
	case v := <-gotA:
		if len(v) != 1 || v[0] != 0xAB {
			t.Fatalf("listener A got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("listener A never invoked")
	}
	select {
	case v := <-gotB:
		if len(v) != 1 || v[0] != 0xAB {
			t.Fatalf("listener B got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("listener B never invoked")
	}
}

func TestNewWithMetricsRecordsCommandLatency(t *testing.T) {
	fake := l2cap.NewFake(4)
	fm := &fakeMetrics{}
	h := NewWithMetrics(fake, "peer", 0, nil, testConfig(), fm)
	h.Start()
	defer h.Close()

	go func() {
		req := <-fake.Sent()
		pdu, _ := att.Parse(req)
		if pdu.Opcode() != att.OpExchangeMTUReq {
			t.Errorf("expected exchange mtu req, got %v", pdu.Opcode())
		}
		fake.Deliver(att.NewExchangeMTURsp(100).Bytes())
	}()

	h.exchangeMTU()

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if len(fm.commands) != 1 || fm.commands[0] != att.OpExchangeMTUReq.String() {
		t.Fatalf("commands = %v", fm.commands)
	}
}

func TestIndicationSendsAutoConfirmation(t *testing.T) {
	fake := l2cap.NewFake(4)
	cfg := testConfig()
	cfg.SendIndicationConfirmation = true
	h := New(fake, "peer", 0, nil, cfg)
	h.Start()
	defer h.Close()

	got := make(chan []byte, 1)
	h.Notify(0x30, ListenerFuncs{OnIndicate: func(_ uint16, v []byte) { got <- v }})

	fake.Deliver(att.NewHandleValueInd(0x30, []byte{0x01}).Bytes())

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("indication listener never invoked")
	}

	select {
	case frame := <-fake.Sent():
		pdu, err := att.Parse(frame)
		if err != nil || pdu.Opcode() != att.OpHandleValueCfm {
			t.Fatalf("expected handle-value-cfm, got %v %v", pdu, err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected automatic handle-value-cfm")
	}
}
