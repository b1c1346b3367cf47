//go:build linux

package hci

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/arlojames/btstack/pkg/l2cap"
	"golang.org/x/sys/unix"
)

// Linux HCI socket family/protocol constants, reproduced locally because
// golang.org/x/sys/unix does not carry Bluetooth-specific values (see
// pkg/l2cap/socket_linux.go for the same situation with L2CAP).
const (
	afBluetooth  = 31 // AF_BLUETOOTH
	btProtoHCI   = 1  // BTPROTO_HCI
	solHCI       = 0  // SOL_HCI
	hciFilterOpt = 2  // HCI_FILTER socket option
)

// sockaddrHCI mirrors struct sockaddr_hci from <bluetooth/hci.h>:
//
//	sa_family_t hci_family;
//	unsigned short hci_dev;
//	unsigned short hci_channel;
type sockaddrHCI struct {
	family  uint16
	devID   uint16
	channel uint16
}

func (a *sockaddrHCI) raw() []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:2], a.family)
	binary.LittleEndian.PutUint16(buf[2:4], a.devID)
	binary.LittleEndian.PutUint16(buf[4:6], a.channel)
	return buf
}

func bind(fd int, addr *sockaddrHCI) error {
	raw := addr.raw()
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&raw[0])), uintptr(len(raw)))
	if errno != 0 {
		return errno
	}
	return nil
}

// filterBytes packs a Filter into the kernel's struct hci_filter layout:
// {type_mask:u32, event_mask[2]u32, opcode:u16}.
func filterBytes(f Filter) []byte {
	buf := make([]byte, 14)
	binary.LittleEndian.PutUint32(buf[0:4], f.TypeMask)
	binary.LittleEndian.PutUint32(buf[4:8], f.EventMask[0])
	binary.LittleEndian.PutUint32(buf[8:12], f.EventMask[1])
	binary.LittleEndian.PutUint16(buf[12:14], f.Opcode)
	return buf
}

// RawSocket is a Linux raw HCI socket bound to a device index and channel.
type RawSocket struct {
	fd int

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Open binds a raw HCI socket to devID on the given channel.
func Open(devID int, channel Channel) (*RawSocket, error) {
	fd, err := unix.Socket(afBluetooth, unix.SOCK_RAW, btProtoHCI)
	if err != nil {
		return nil, fmt.Errorf("hci: socket: %w", err)
	}
	if err := bind(fd, &sockaddrHCI{family: afBluetooth, devID: uint16(devID), channel: uint16(channel)}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hci: bind dev %d channel %d: %w", devID, channel, err)
	}
	return &RawSocket{fd: fd, closed: make(chan struct{})}, nil
}

// SetFilter installs f as the socket's HCI_FILTER option.
func (s *RawSocket) SetFilter(f Filter) error {
	raw := filterBytes(f)
	return unix.SetsockoptString(s.fd, solHCI, hciFilterOpt, string(raw))
}

func (s *RawSocket) Read(timeout time.Duration) ([]byte, error) {
	if s.IsInterrupted() {
		return nil, l2cap.ErrDisconnected
	}
	if timeout > 0 {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return nil, fmt.Errorf("hci: set read timeout: %w", err)
		}
	}
	buf := make([]byte, 1024) // HCI event/ACL frames are well under this
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if s.IsInterrupted() {
			return nil, l2cap.ErrDisconnected
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, l2cap.ErrTimeout
		}
		return nil, fmt.Errorf("hci: read: %w", err)
	}
	return buf[:n], nil
}

func (s *RawSocket) Write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.IsInterrupted() {
		return l2cap.ErrDisconnected
	}
	if _, err := unix.Write(s.fd, frame); err != nil {
		return fmt.Errorf("hci: write: %w", err)
	}
	return nil
}

func (s *RawSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = unix.Close(s.fd)
	})
	return err
}

func (s *RawSocket) IsInterrupted() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
