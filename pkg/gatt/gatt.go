// Package gatt implements the GATT client and server protocol engine
// (SPEC_FULL.md component C4): MTU negotiation, service/characteristic/
// descriptor discovery, long read/write, notification and indication
// fan-out, and peripheral-role request dispatch against a local
// pkg/gattdb.Database, all driven over one pkg/l2cap.Transport per
// connection.
package gatt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arlojames/btstack/internal/logger"
	"github.com/arlojames/btstack/internal/ring"
	"github.com/arlojames/btstack/pkg/att"
	"github.com/arlojames/btstack/pkg/gattdb"
	"github.com/arlojames/btstack/pkg/l2cap"
	"github.com/arlojames/btstack/pkg/metrics"
)

// ErrTimeout is returned when no matching reply arrives before the
// applicable deadline. The handler remains usable after a per-request
// timeout.
var ErrTimeout = errors.New("gatt: command timeout")

// ErrDisconnected is returned once the handler has been closed or the
// transport has failed.
var ErrDisconnected = errors.New("gatt: disconnected")

// ErrValueTooLarge is returned by send/Write when the ATT payload exceeds
// the negotiated MTU's headroom.
var ErrValueTooLarge = errors.New("gatt: value exceeds negotiated MTU")

// Config holds the tunables spec.md §6 exposes as environment variables.
type Config struct {
	ReadTimeout  time.Duration // gatt.cmd.read.timeout, default/floor 550ms
	WriteTimeout time.Duration // gatt.cmd.write.timeout, default/floor 550ms
	InitTimeout  time.Duration // gatt.cmd.init.timeout, default 2500ms, floor 2000ms
	RingSize     int           // gatt.ringsize, default 128
	DebugData    bool          // debug.gatt.data

	// ClientMaxMTU is the local maximum MTU offered during exchange.
	ClientMaxMTU uint16 // default 513 (512+1)

	// SendIndicationConfirmation, when false, opts out of the automatic
	// Handle-Value-Confirmation this handler would otherwise send after
	// dispatching an indication to listeners.
	SendIndicationConfirmation bool
}

// minReadWriteTimeout is the floor direct_bt documents: 500ms is the
// minimum LE connection supervision timeout, plus headroom.
const minReadWriteTimeout = 550 * time.Millisecond

const minInitTimeout = 2000 * time.Millisecond

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:                minReadWriteTimeout,
		WriteTimeout:               minReadWriteTimeout,
		InitTimeout:                2500 * time.Millisecond,
		RingSize:                   128,
		ClientMaxMTU:               513,
		SendIndicationConfirmation: true,
	}
}

func (c Config) normalize() Config {
	if c.ReadTimeout < minReadWriteTimeout {
		c.ReadTimeout = minReadWriteTimeout
	}
	if c.WriteTimeout < minReadWriteTimeout {
		c.WriteTimeout = minReadWriteTimeout
	}
	if c.InitTimeout < minInitTimeout {
		c.InitTimeout = minInitTimeout
	}
	if c.RingSize <= 0 {
		c.RingSize = 128
	}
	if c.ClientMaxMTU < 23 {
		c.ClientMaxMTU = 513
	}
	return c
}

func (c Config) maxReplyMismatchRetry() int { return c.RingSize }

// Listener receives client-role notification/indication callbacks. It is
// the client-role analogue of gattdb.Listener; registered per value
// handle via Handler.Notify.
type Listener interface {
	HandleNotification(handle uint16, value []byte)
	HandleIndication(handle uint16, value []byte)
}

// ListenerFuncs adapts two plain functions into a Listener.
type ListenerFuncs struct {
	OnNotify  func(handle uint16, value []byte)
	OnIndicate func(handle uint16, value []byte)
}

func (l ListenerFuncs) HandleNotification(handle uint16, value []byte) {
	if l.OnNotify != nil {
		l.OnNotify(handle, value)
	}
}

func (l ListenerFuncs) HandleIndication(handle uint16, value []byte) {
	if l.OnIndicate != nil {
		l.OnIndicate(handle, value)
	}
}

type prepareEntry struct {
	handle Handle
	offset int
	value  []byte
}

// Handle is a GATT attribute handle, aliasing gattdb's definition.
type Handle = gattdb.Handle

// Handler is the per-connection GATT protocol engine (C4): one handler
// owns the client-role discovered attribute cache for the remote peer
// and, when serverDB is non-nil, also serves the peer's requests against
// this process's local database.
type Handler struct {
	transport          l2cap.Transport
	cfg                Config
	supervisionTimeout time.Duration
	peerAddr           string

	serverDB *gattdb.Database // nil: this connection serves nothing locally
	metrics  metrics.BTMetrics // nil: no collector, zero overhead

	replyRing *ring.Ring
	sendMu    sync.Mutex

	readerWG   sync.WaitGroup
	readerDone chan struct{}
	closeOnce  sync.Once
	closed     chan struct{}

	// onReaderGoroutine mirrors pkg/mgmt's Dispatcher field: set only
	// while the reader goroutine is synchronously inside a dispatched
	// notification/indication callback, so Close can detect reentrancy
	// and skip waiting on itself.
	onReaderGoroutine atomic.Bool

	initMu              sync.Mutex
	initialized         bool
	clientMTUExchanged  bool
	usedMTU             uint16

	discoveredMu sync.Mutex
	discovered   *gattdb.Database // client-side cache of the peer's tree

	listenersMu sync.Mutex
	listeners   map[uint16][]Listener // by value handle, copy-on-write per key

	prepareMu    sync.Mutex
	prepareQueue []prepareEntry
}

// New constructs a Handler over an already-open ATT transport. It does
// not start the reader; call Start. serverDB may be nil if this
// connection should serve no local attributes.
func New(transport l2cap.Transport, peerAddr string, supervisionTimeout time.Duration, serverDB *gattdb.Database, cfg Config) *Handler {
	return NewWithMetrics(transport, peerAddr, supervisionTimeout, serverDB, cfg, nil)
}

// NewWithMetrics is New plus an optional metrics.BTMetrics collector for
// reply-ring occupancy/drops and command latency. Pass nil for the same
// behavior as New.
func NewWithMetrics(transport l2cap.Transport, peerAddr string, supervisionTimeout time.Duration, serverDB *gattdb.Database, cfg Config, m metrics.BTMetrics) *Handler {
	cfg = cfg.normalize()
	return &Handler{
		transport:          transport,
		cfg:                cfg,
		supervisionTimeout: supervisionTimeout,
		peerAddr:           peerAddr,
		serverDB:           serverDB,
		metrics:            m,
		replyRing:          ring.New(cfg.RingSize, dropObserver{m}),
		readerDone:         make(chan struct{}),
		closed:             make(chan struct{}),
		discovered:         gattdb.New(gattdb.DB),
		listeners:          make(map[uint16][]Listener),
	}
}

// dropObserver bridges internal/ring.DropObserver to the optional
// metrics collector, logging unconditionally and recording to m only
// when non-nil.
type dropObserver struct{ m metrics.BTMetrics }

func (d dropObserver) OnDrop(count int) {
	logger.Warn("gatt reply ring overflow, dropped oldest entries", "count", count)
	if d.m != nil {
		d.m.RecordReplyRingDrop(count)
	}
}

// Start launches the reader goroutine. Call once per Handler.
func (h *Handler) Start() {
	h.readerWG.Add(1)
	go h.readerLoop()
}

// PeerAddress returns the Bluetooth address this handler is bound to.
func (h *Handler) PeerAddress() string { return h.peerAddr }

// UsedMTU returns the negotiated ATT MTU (0 before MTU exchange).
func (h *Handler) UsedMTU() uint16 {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	return h.usedMTU
}

// Discovered returns the client-side attribute cache populated by
// InitClientGatt.
func (h *Handler) Discovered() *gattdb.Database { return h.discovered }

// IsClosed reports whether Close has completed or is in progress.
func (h *Handler) IsClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func (h *Handler) readTimeout() time.Duration {
	return maxDuration(h.supervisionTimeout+50*time.Millisecond, h.cfg.ReadTimeout)
}

func (h *Handler) writeTimeout() time.Duration {
	return maxDuration(h.supervisionTimeout+50*time.Millisecond, h.cfg.WriteTimeout)
}

func (h *Handler) initialConnectTimeout() time.Duration {
	want := maxDuration(2*h.supervisionTimeout, h.cfg.InitTimeout)
	return minDuration(10*time.Second, want)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// InitClientGatt performs MTU exchange followed by primary-service,
// characteristic and descriptor discovery, idempotently: a second call
// reports success immediately without redoing any of it. If any step
// fails the handler remains uninitialized and a later call may retry.
func (h *Handler) InitClientGatt(ctx context.Context) error {
	h.initMu.Lock()
	if h.initialized {
		h.initMu.Unlock()
		return nil
	}
	mtuExchanged := h.clientMTUExchanged
	h.initMu.Unlock()

	if !mtuExchanged {
		h.exchangeMTU()
	}

	services, err := h.discoverPrimaryServices()
	if err != nil {
		return err
	}
	for _, svc := range services {
		if err := h.discoverCharacteristics(svc); err != nil {
			return err
		}
		for _, ch := range svc.Characteristics {
			if err := h.discoverDescriptors(ch); err != nil {
				return err
			}
		}
		h.discoveredMu.Lock()
		h.discovered.AddService(svc)
		h.discoveredMu.Unlock()
	}

	h.initMu.Lock()
	h.initialized = true
	h.initMu.Unlock()
	return nil
}

// Disconnect tears down the connection: closes the transport, stops the
// reader, and fails every in-flight send_with_reply waiter with
// ErrDisconnected. requestDeviceDisconnect is accepted for parity with
// the higher-level device lifecycle (spec.md §4.4 "disconnect"); this
// package has no device-level control channel of its own, so callers
// that need the mgmt-level disconnect issue it themselves before or
// after calling this.
func (h *Handler) Disconnect(requestDeviceDisconnect bool) error {
	return h.Close()
}

// Close is idempotent and safe to call from any goroutine including the
// reader (e.g. from within a notification callback), mirroring
// pkg/mgmt.Dispatcher.Close's reentrancy handling.
func (h *Handler) Close() error {
	calledFromReader := h.onReaderGoroutine.Load()

	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		h.replyRing.Close()
		err = h.transport.Close()
	})
	if calledFromReader {
		return err
	}
	h.readerWG.Wait()
	return err
}
