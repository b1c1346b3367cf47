//go:build linux

package l2cap

import (
	"encoding/binary"
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux Bluetooth socket family/protocol constants. golang.org/x/sys/unix
// does not define these (it carries only the generic socket-layer
// constants), so they are reproduced here from <bluetooth/bluetooth.h> and
// <bluetooth/l2cap.h>.
const (
	afBluetooth = 31 // AF_BLUETOOTH
	btProtoL2CAP = 0 // BTPROTO_L2CAP
)

// sockaddrL2 mirrors struct sockaddr_l2 from <bluetooth/l2cap.h>:
//
//	sa_family_t l2_family;
//	__le16      l2_psm;
//	bdaddr_t    l2_bdaddr;   // 6 bytes
//	__le16      l2_cid;
//	__u8        l2_bdaddr_type;
type sockaddrL2 struct {
	family      uint16
	psm         uint16
	bdaddr      [6]byte
	cid         uint16
	bdaddrType  uint8
	_           uint8 // padding to match the kernel struct's alignment
}

func (a *sockaddrL2) raw() []byte {
	buf := make([]byte, unsafe.Sizeof(*a))
	binary.LittleEndian.PutUint16(buf[0:2], a.family)
	binary.LittleEndian.PutUint16(buf[2:4], a.psm)
	copy(buf[4:10], a.bdaddr[:])
	binary.LittleEndian.PutUint16(buf[10:12], a.cid)
	buf[12] = a.bdaddrType
	return buf
}

func bind(fd int, addr *sockaddrL2) error {
	raw := addr.raw()
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&raw[0])), uintptr(len(raw)))
	if errno != 0 {
		return errno
	}
	return nil
}

func connect(fd int, addr *sockaddrL2) error {
	raw := addr.raw()
	_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd), uintptr(unsafe.Pointer(&raw[0])), uintptr(len(raw)))
	if errno != 0 {
		return errno
	}
	return nil
}

// parseAddr reverses a colon-separated Bluetooth address string
// ("AA:BB:CC:DD:EE:FF") into the little-endian 6-byte bdaddr_t wire form.
func parseAddr(s string) ([6]byte, error) {
	var out [6]byte
	var parts [6]uint8
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&parts[5], &parts[4], &parts[3], &parts[2], &parts[1], &parts[0])
	if err != nil || n != 6 {
		return out, fmt.Errorf("l2cap: invalid bluetooth address %q", s)
	}
	for i, b := range parts {
		out[i] = b
	}
	return out, nil
}

// Socket is a Linux raw L2CAP socket bound to a specific adapter (by
// Bluetooth address) and the fixed ATT CID.
type Socket struct {
	fd int

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens an L2CAP CID 0x0004 connection from localAddr to peerAddr
// (both "AA:BB:CC:DD:EE:FF" form), for the LE transport.
func Dial(localAddr, peerAddr string, peerAddrType uint8) (*Socket, error) {
	fd, err := unix.Socket(afBluetooth, unix.SOCK_SEQPACKET, btProtoL2CAP)
	if err != nil {
		return nil, fmt.Errorf("l2cap: socket: %w", err)
	}

	local, err := parseAddr(localAddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := bind(fd, &sockaddrL2{family: afBluetooth, cid: ATTChannelCID, bdaddr: local}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap: bind: %w", err)
	}

	peer, err := parseAddr(peerAddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := connect(fd, &sockaddrL2{family: afBluetooth, cid: ATTChannelCID, bdaddr: peer, bdaddrType: peerAddrType}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap: connect: %w", err)
	}

	return &Socket{fd: fd, closed: make(chan struct{})}, nil
}

// FromFD wraps an already-connected L2CAP socket file descriptor, e.g. one
// accepted via a listening socket not modeled by this package.
func FromFD(fd int) *Socket {
	return &Socket{fd: fd, closed: make(chan struct{})}
}

// Listener is a bound, listening L2CAP CID 0x0004 socket. It accepts
// incoming ATT bearer connections for the peripheral (server) role.
type Listener struct {
	fd int

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds a listening L2CAP socket on localAddr ("AA:BB:CC:DD:EE:FF")
// at the fixed ATT CID, backlog connections up to backlog deep.
func Listen(localAddr string, backlog int) (*Listener, error) {
	fd, err := unix.Socket(afBluetooth, unix.SOCK_SEQPACKET, btProtoL2CAP)
	if err != nil {
		return nil, fmt.Errorf("l2cap: socket: %w", err)
	}

	local, err := parseAddr(localAddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := bind(fd, &sockaddrL2{family: afBluetooth, cid: ATTChannelCID, bdaddr: local}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap: listen: %w", err)
	}

	return &Listener{fd: fd, closed: make(chan struct{})}, nil
}

// Accept blocks until a peer connects and returns the accepted connection
// as a Socket, along with the peer's Bluetooth address.
func (l *Listener) Accept() (*Socket, string, error) {
	if l.IsClosed() {
		return nil, "", ErrDisconnected
	}
	nfd, sa, err := unix.Accept(l.fd)
	if err != nil {
		if l.IsClosed() {
			return nil, "", ErrDisconnected
		}
		return nil, "", fmt.Errorf("l2cap: accept: %w", err)
	}
	peer := peerAddrFromSockaddr(sa)
	return &Socket{fd: nfd, closed: make(chan struct{})}, peer, nil
}

// peerAddrFromSockaddr renders a Bluetooth sockaddr back into
// "AA:BB:CC:DD:EE:FF" form, best-effort; an unrecognized sockaddr type
// yields an empty string rather than an error since the connection itself
// is still usable.
func peerAddrFromSockaddr(sa unix.Sockaddr) string {
	raw, ok := sa.(*unix.SockaddrL2)
	if !ok {
		return ""
	}
	b := raw.Addr
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[5], b[4], b[3], b[2], b[1], b[0])
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = unix.Close(l.fd)
	})
	return err
}

// IsClosed reports whether Close has been called.
func (l *Listener) IsClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (s *Socket) Read(timeout time.Duration) ([]byte, error) {
	if s.IsInterrupted() {
		return nil, ErrDisconnected
	}
	if timeout > 0 {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return nil, fmt.Errorf("l2cap: set read timeout: %w", err)
		}
	}

	buf := make([]byte, 517) // max ATT MTU (512+1) + opcode headroom
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if s.IsInterrupted() || err == unix.EBADF {
			return nil, ErrDisconnected
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrTimeout
		}
		if err == syscall.EINTR {
			// Close() signaled this reader; treat exactly like a
			// post-close read per spec.md §4.3.
			if s.IsInterrupted() {
				return nil, ErrDisconnected
			}
		}
		return nil, fmt.Errorf("l2cap: read: %w", err)
	}
	return buf[:n], nil
}

func (s *Socket) Write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.IsInterrupted() {
		return ErrDisconnected
	}
	_, err := unix.Write(s.fd, frame)
	if err != nil {
		return fmt.Errorf("l2cap: write: %w", err)
	}
	return nil
}

func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = unix.Close(s.fd)
	})
	return err
}

func (s *Socket) IsInterrupted() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
