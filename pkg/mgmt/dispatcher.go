package mgmt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arlojames/btstack/internal/logger"
	"github.com/arlojames/btstack/internal/ring"
	"github.com/arlojames/btstack/pkg/metrics"
)

// Socket is the control-channel transport a Dispatcher reads/writes
// through. It shares pkg/l2cap.Transport's Read/Write/Close/IsInterrupted
// shape; mgmt does not import l2cap to avoid a spurious dependency
// between two otherwise-independent protocol layers.
type Socket interface {
	Read(timeout time.Duration) ([]byte, error)
	Write(frame []byte) error
	Close() error
	IsInterrupted() bool
}

// Config holds the tunables spec.md §6 exposes as environment variables.
type Config struct {
	ReaderTimeout time.Duration // mgmt.reader.timeout, default 10s
	CmdTimeout    time.Duration // mgmt.cmd.timeout, default 3s
	RingSize      int           // mgmt.ringsize, default 64, bounds [64,1024]
	BTMode        BTMode        // mgmt.btmode, default LE
	DebugEvents   bool          // debug.mgmt.event
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		ReaderTimeout: 10 * time.Second,
		CmdTimeout:    3 * time.Second,
		RingSize:      64,
		BTMode:        BTModeLE,
	}
}

// maxReplyMismatchRetry bounds how many non-matching replies
// send_with_reply will discard before giving up, per spec.md §4.4/§4.8 —
// it is bounded by the ring's capacity since a matching reply cannot be
// behind more than a full ring of unrelated traffic.
func (c Config) maxReplyMismatchRetry() int { return c.RingSize }

// AdapterSetCallback is invoked once per adapter becoming present/absent,
// and replayed for every already-present adapter immediately upon
// registration (spec.md §4.8 "Adapter set change fan-out").
type AdapterSetCallback func(added bool, info AdapterInfo)

// EventCallback receives a raw event PDU dispatched outside the
// CMD_COMPLETE/CMD_STATUS/INDEX_ADDED/INDEX_REMOVED fast paths.
type EventCallback func(*PDU)

type eventSub struct {
	op    EventOpcode
	devID *uint16 // nil = all adapters
	cb    EventCallback
}

// Dispatcher is the mgmt request/reply correlator and event fan-out
// engine (C8). One reader goroutine polls the socket; CMD_COMPLETE/
// CMD_STATUS go to a bounded reply ring, INDEX_ADDED/REMOVED run on
// detached goroutines, everything else dispatches synchronously on the
// reader.
type Dispatcher struct {
	socket  Socket
	cfg     Config
	metrics metrics.MgmtMetrics // nil: no collector, zero overhead

	replyRing *ring.Ring
	sendMu    sync.Mutex // serializes the whole process's in-flight command

	adaptersMu sync.Mutex
	adapters   map[uint16]AdapterInfo // copy never shared outward except by value

	subsMu sync.Mutex
	subs   []eventSub // copy-on-write

	setCallbacksMu sync.Mutex
	setCallbacks   []AdapterSetCallback // copy-on-write

	readerWG   sync.WaitGroup
	readerDone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	// onReaderGoroutine is set only while the reader goroutine is
	// synchronously inside a dispatched callback (there is exactly one
	// reader, and it is the only goroutine that ever sets this), so
	// Close observing it true means Close was invoked from the reader
	// task itself (spec.md §4.8 "Shutdown").
	onReaderGoroutine atomic.Bool
}

// dropObserver bridges internal/ring.DropObserver to the optional
// metrics collector, logging unconditionally and recording to m only
// when non-nil.
type dropObserver struct{ m metrics.MgmtMetrics }

func (d dropObserver) OnDrop(count int) {
	logger.Warn("mgmt reply ring overflow, dropped oldest entries", "count", count)
	if d.m != nil {
		d.m.RecordReplyRingDrop(count)
	}
}

// New constructs a Dispatcher over an already-open mgmt control socket.
// It does not start the reader; call Start.
func New(socket Socket, cfg Config) *Dispatcher {
	return NewWithMetrics(socket, cfg, nil)
}

// NewWithMetrics is New plus an optional metrics.MgmtMetrics collector
// for reply-ring occupancy/drops, command latency, and adapter count.
// Pass nil for the same behavior as New.
func NewWithMetrics(socket Socket, cfg Config, m metrics.MgmtMetrics) *Dispatcher {
	if cfg.RingSize < 64 {
		cfg.RingSize = 64
	}
	if cfg.RingSize > 1024 {
		cfg.RingSize = 1024
	}
	d := &Dispatcher{
		socket:     socket,
		cfg:        cfg,
		metrics:    m,
		replyRing:  ring.New(cfg.RingSize, dropObserver{m}),
		adapters:   make(map[uint16]AdapterInfo),
		readerDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	return d
}

// Start launches the reader goroutine and performs startup adapter
// enumeration (READ_INDEX_LIST, then READ_INFO + init sequence for each
// present adapter), per spec.md §4.8.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.readerWG.Add(1)
	go d.readerLoop()

	reply, err := d.sendWithReply(NewReadIndexList(), d.cfg.CmdTimeout)
	if err != nil {
		return fmt.Errorf("mgmt: startup READ_INDEX_LIST: %w", err)
	}
	_, status, data, err := reply.CmdComplete()
	if err != nil {
		return err
	}
	if status != StatusSuccess {
		return fmt.Errorf("mgmt: READ_INDEX_LIST status=%v", status)
	}
	if len(data) < 2 {
		return fmt.Errorf("mgmt: %w: index list too short", ErrParamTooShort)
	}
	count := int(data[0]) | int(data[1])<<8
	if len(data) < 2+count*2 {
		return fmt.Errorf("mgmt: %w: index list truncated", ErrParamTooShort)
	}
	for i := 0; i < count; i++ {
		devID := uint16(data[2+i*2]) | uint16(data[3+i*2])<<8
		d.onIndexAdded(ctx, devID)
	}
	return nil
}

func (d *Dispatcher) readerLoop() {
	defer d.readerWG.Done()
	defer close(d.readerDone)
	for {
		if d.IsClosed() {
			return
		}
		raw, err := d.socket.Read(d.cfg.ReaderTimeout)
		if err != nil {
			if d.IsClosed() {
				return
			}
			continue // timeout or transient read error: poll again
		}
		p, err := Parse(raw)
		if err != nil {
			logger.Warn("mgmt: dropping malformed frame", "error", err)
			continue
		}
		d.dispatch(p)
	}
}

func (d *Dispatcher) dispatch(p *PDU) {
	op, err := p.EventOpcode()
	if err != nil {
		return
	}
	switch op {
	case EvCmdComplete, EvCmdStatus:
		d.replyRing.Put(p.Bytes())
	case EvIndexAdded:
		devID, _ := p.DevID()
		go d.onIndexAdded(context.Background(), devID)
	case EvIndexRemoved:
		devID, _ := p.DevID()
		go d.onIndexRemoved(devID)
	default:
		d.onReaderGoroutine.Store(true)
		d.invokeSubscribers(op, p)
		d.onReaderGoroutine.Store(false)
	}
}

func (d *Dispatcher) invokeSubscribers(op EventOpcode, p *PDU) {
	devID, _ := p.DevID()
	d.subsMu.Lock()
	snapshot := d.subs
	d.subsMu.Unlock()
	for _, s := range snapshot {
		if s.op != op {
			continue
		}
		if s.devID != nil && *s.devID != devID {
			continue
		}
		d.invokeCallback(s.cb, p)
	}
}

// invokeCallback runs cb, converting a panic into a logged error so one
// misbehaving listener never prevents the rest of the list from running
// (spec.md §4.8 "Callback invocation").
func (d *Dispatcher) invokeCallback(cb EventCallback, p *PDU) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("mgmt: event callback panicked", "panic", r)
		}
	}()
	cb(p)
}

// Subscribe registers cb for events of op. If devID is non-nil, cb only
// fires for that adapter.
func (d *Dispatcher) Subscribe(op EventOpcode, devID *uint16, cb EventCallback) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	next := make([]eventSub, len(d.subs)+1)
	copy(next, d.subs)
	next[len(d.subs)] = eventSub{op: op, devID: devID, cb: cb}
	d.subs = next
}

// ErrTimeout is returned by sendWithReply when no matching reply arrives
// before the deadline.
var ErrTimeout = errors.New("mgmt: command timeout")

// ErrDisconnected is returned once the dispatcher has been closed.
var ErrDisconnected = errors.New("mgmt: disconnected")

// sendWithReply writes cmd and blocks for a matching CMD_COMPLETE/
// CMD_STATUS reply, serialized against every other in-flight command
// process-wide (spec.md §4.8 "holds a single reply mutex").
func (d *Dispatcher) sendWithReply(cmd *PDU, timeout time.Duration) (reply *PDU, err error) {
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			opcode, opErr := cmd.CommandOpcode()
			if opErr != nil {
				return
			}
			d.metrics.RecordCommand(opcode.String(), time.Since(start), err)
		}
	}()

	if d.IsClosed() {
		return nil, ErrDisconnected
	}
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	wantOp, err := cmd.CommandOpcode()
	if err != nil {
		return nil, err
	}
	wantDevID, err := cmd.DevID()
	if err != nil {
		return nil, err
	}

	if err := d.socket.Write(cmd.Bytes()); err != nil {
		return nil, fmt.Errorf("mgmt: write: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for attempt := 0; attempt < d.cfg.maxReplyMismatchRetry(); attempt++ {
		raw, ok := d.replyRing.Get(ctx)
		if !ok {
			if d.IsClosed() {
				return nil, ErrDisconnected
			}
			return nil, ErrTimeout
		}
		reply, err := Parse(raw)
		if err != nil {
			continue
		}
		replyDevID, err := reply.DevID()
		if err != nil || replyDevID != wantDevID {
			continue
		}
		evOp, err := reply.EventOpcode()
		if err != nil {
			continue
		}
		switch evOp {
		case EvCmdComplete:
			cmdOp, _, _, err := reply.CmdComplete()
			if err == nil && cmdOp == wantOp {
				return reply, nil
			}
		case EvCmdStatus:
			cmdOp, _, err := reply.CmdStatus()
			if err == nil && cmdOp == wantOp {
				return reply, nil
			}
		}
		// Mismatched reply: discard and keep waiting.
	}
	return nil, ErrTimeout
}

// SendWithReply is the exported form, used by callers building their own
// commands outside the adapter-init sequence (e.g. pairing flows).
func (d *Dispatcher) SendWithReply(cmd *PDU, timeout time.Duration) (*PDU, error) {
	return d.sendWithReply(cmd, timeout)
}

// onIndexAdded runs the full adapter initialization sequence from
// spec.md §4.8 on its own goroutine so the reader is never blocked
// waiting on it.
func (d *Dispatcher) onIndexAdded(ctx context.Context, devID uint16) {
	info, err := d.readInfo(devID)
	if err != nil {
		logger.Warn("mgmt: READ_INFO failed during adapter init", "dev_id", devID, "error", err)
		return
	}

	d.applyBTMode(devID, d.cfg.BTMode)
	d.sendBestEffort(NewSetConnectable(devID, false))
	d.sendBestEffort(NewSetFastConnectable(devID, false))
	d.sendBestEffort(NewRemoveDeviceWhitelist(devID))
	if _, err := d.sendWithReply(NewSetPowered(devID, true), d.cfg.CmdTimeout); err != nil {
		logger.Warn("mgmt: SET_POWERED failed", "dev_id", devID, "error", err)
	}

	info, err = d.readInfo(devID)
	if err != nil {
		logger.Warn("mgmt: re-READ_INFO failed after power-on", "dev_id", devID, "error", err)
		return
	}

	d.adaptersMu.Lock()
	next := make(map[uint16]AdapterInfo, len(d.adapters)+1)
	for k, v := range d.adapters {
		next[k] = v
	}
	next[devID] = info
	d.adapters = next
	count := len(next)
	d.adaptersMu.Unlock()

	if d.metrics != nil {
		d.metrics.SetAdapterCount(count)
	}
	d.fanOutAdapterSet(true, info)
}

func (d *Dispatcher) onIndexRemoved(devID uint16) {
	d.adaptersMu.Lock()
	info, ok := d.adapters[devID]
	count := len(d.adapters)
	if ok {
		next := make(map[uint16]AdapterInfo, len(d.adapters))
		for k, v := range d.adapters {
			if k != devID {
				next[k] = v
			}
		}
		d.adapters = next
		count = len(next)
	}
	d.adaptersMu.Unlock()
	if ok {
		if d.metrics != nil {
			d.metrics.SetAdapterCount(count)
		}
		d.fanOutAdapterSet(false, info)
	}
}

func (d *Dispatcher) readInfo(devID uint16) (AdapterInfo, error) {
	reply, err := d.sendWithReply(NewReadInfo(devID), d.cfg.CmdTimeout)
	if err != nil {
		return AdapterInfo{}, err
	}
	_, status, data, err := reply.CmdComplete()
	if err != nil {
		return AdapterInfo{}, err
	}
	if status != StatusSuccess {
		return AdapterInfo{}, fmt.Errorf("mgmt: READ_INFO status=%v", status)
	}
	return ParseAdapterInfo(devID, data)
}

func (d *Dispatcher) applyBTMode(devID uint16, mode BTMode) {
	switch mode {
	case BTModeLE:
		d.sendBestEffort(NewSetLE(devID, true))
		d.sendBestEffort(NewSetBREDR(devID, false))
		d.sendBestEffort(NewSetSSP(devID, false))
	case BTModeBREDR:
		d.sendBestEffort(NewSetLE(devID, false))
		d.sendBestEffort(NewSetBREDR(devID, true))
		d.sendBestEffort(NewSetSSP(devID, true))
	case BTModeDual:
		d.sendBestEffort(NewSetLE(devID, true))
		d.sendBestEffort(NewSetBREDR(devID, true))
		d.sendBestEffort(NewSetSSP(devID, true))
	}
}

func (d *Dispatcher) sendBestEffort(cmd *PDU) {
	if _, err := d.sendWithReply(cmd, d.cfg.CmdTimeout); err != nil {
		op, _ := cmd.CommandOpcode()
		logger.Warn("mgmt: adapter init command failed", "opcode", op, "error", err)
	}
}

// RegisterAdapterSetCallback registers cb and immediately replays every
// currently-tracked adapter as added=true, per spec.md §4.8.
func (d *Dispatcher) RegisterAdapterSetCallback(cb AdapterSetCallback) {
	d.setCallbacksMu.Lock()
	next := make([]AdapterSetCallback, len(d.setCallbacks)+1)
	copy(next, d.setCallbacks)
	next[len(d.setCallbacks)] = cb
	d.setCallbacks = next
	d.setCallbacksMu.Unlock()

	snapshot := d.adaptersSnapshot()
	for _, info := range snapshot {
		cb(true, info)
	}
}

func (d *Dispatcher) fanOutAdapterSet(added bool, info AdapterInfo) {
	d.setCallbacksMu.Lock()
	snapshot := d.setCallbacks
	d.setCallbacksMu.Unlock()
	for _, cb := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("mgmt: adapter-set callback panicked", "panic", r)
				}
			}()
			cb(added, info)
		}()
	}
}

// Adapters returns a snapshot of every currently-tracked adapter,
// ordered by dev_id (spec.md §4.8 requires a stable, ascending replay
// order; Go map iteration order is not guaranteed).
func (d *Dispatcher) Adapters() []AdapterInfo {
	return d.adaptersSnapshot()
}

func (d *Dispatcher) adaptersSnapshot() []AdapterInfo {
	d.adaptersMu.Lock()
	out := make([]AdapterInfo, 0, len(d.adapters))
	for _, info := range d.adapters {
		out = append(out, info)
	}
	d.adaptersMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DevID < out[j].DevID })
	return out
}

// IsClosed reports whether Close has completed or is in progress.
func (d *Dispatcher) IsClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// Close is idempotent and safe to call from any goroutine including the
// reader. It removes whitelist entries and powers down every tracked
// adapter, clears callback registrations, closes the socket (interrupting
// the reader), and waits for the reader to exit — unless called from the
// reader itself, in which case it signals and returns without waiting
// (spec.md §4.8 "Shutdown").
func (d *Dispatcher) Close() error {
	calledFromReader := d.onReaderGoroutine.Load()

	var err error
	d.closeOnce.Do(func() {
		// Powering down adapters needs a round trip through the reply
		// ring that only the reader goroutine fills; skip it when
		// Close is invoked from the reader itself (e.g. from an event
		// callback), since that round trip could never complete.
		if !calledFromReader {
			for _, info := range d.Adapters() {
				d.sendBestEffort(NewRemoveDeviceWhitelist(info.DevID))
				d.sendBestEffort(NewSetPowered(info.DevID, false))
			}
		}

		d.subsMu.Lock()
		d.subs = nil
		d.subsMu.Unlock()
		d.setCallbacksMu.Lock()
		d.setCallbacks = nil
		d.setCallbacksMu.Unlock()

		close(d.closed)
		d.replyRing.Close()
		err = d.socket.Close()
	})
	if calledFromReader {
		return err
	}
	d.readerWG.Wait()
	return err
}
