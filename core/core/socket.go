//go:build linux

package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"unsafe"

	terrr "github.com/touka-aoi/solo-server/core/errors"
	"golang.org/x/sys/unix"
)

type sockAddr struct {
	Family uint16
	Data   [14]byte
}

type Socket struct {
	Fd int32
}

func CreateTCPSocket() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		slog.Error("Failed to create socket", "err", err)
		return nil, &terrr.SetupError{Op: "socket", Err: fmt.Errorf("%w: %w", terrr.ErrSocket, err)}
	}

	opVal := int32(1)
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, uintptr(unsafe.Pointer(&opVal)), unsafe.Sizeof(opVal), 0)
	if errno != 0 {
		slog.Error("Failed to set socket option", "errno", errno, "err", errno.Error())
		unix.Close(fd)
		return nil, &terrr.SetupError{Op: "setsockopt", Err: errno}
	}

	return &Socket{Fd: int32(fd)}, nil
}

func (s *Socket) Bind(address netip.AddrPort) error {
	// https://man7.org/linux/man-pages/man2/bind.2.html
	sockaddr := sockAddr{
		Family: unix.AF_INET,
	}

	binary.BigEndian.PutUint16(sockaddr.Data[:], address.Port())

	addr := address.Addr().AsSlice()
	for i := 0; i < len(addr); i++ {
		sockaddr.Data[2+i] = addr[i]
	}

	res, _, errno := unix.Syscall6(
		unix.SYS_BIND,
		uintptr(s.Fd),
		uintptr(unsafe.Pointer(&sockaddr)),
		uintptr(unsafe.Sizeof(sockaddr)),
		0,
		0,
		0)

	if res != 0 {
		return &terrr.SetupError{Op: "bind", Err: fmt.Errorf("%w: %s: %w", terrr.ErrBind, address, errno)}
	}

	return nil
}

func (s *Socket) Listen(backlog int) error {
	res, _, errno := unix.Syscall6(
		unix.SYS_LISTEN,
		uintptr(s.Fd),
		uintptr(backlog),
		0,
		0,
		0,
		0)

	if res != 0 {
		slog.Error("Failed to listen", "errno", errno, "err", errno.Error())
		return &terrr.SetupError{Op: "listen", Err: errno}
	}

	return nil
}

func (s *Socket) SetNonblock() error {
	if err := unix.SetNonblock(int(s.Fd), true); err != nil {
		return &terrr.SetupError{Op: "nonblock", Err: err}
	}
	return nil
}

// Accept returns terrr.ErrWouldBlock when the accept queue is empty.
// Accepted descriptors are already non-blocking.
// A connection reset while still queued is skipped.
func (s *Socket) Accept() (int32, error) {
	for {
		fd, _, err := unix.Accept4(int(s.Fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return int32(fd), nil
		case errors.Is(err, unix.EAGAIN):
			return -1, terrr.ErrWouldBlock
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		default:
			return -1, err
		}
	}
}

func CloseFd(fd int32) error {
	return unix.Close(int(fd))
}

// Port reports the bound port, which differs from the requested one when
// the socket was bound to port 0.
func (s *Socket) Port() (int, error) {
	sa, err := unix.Getsockname(int(s.Fd))
	if err != nil {
		return 0, err
	}
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return addr.Port, nil
	case *unix.SockaddrInet6:
		return addr.Port, nil
	}
	return 0, unix.EAFNOSUPPORT
}

// Close closes the descriptor once. Later calls are no-ops.
func (s *Socket) Close() error {
	if s.Fd < 0 {
		return nil
	}
	fd := s.Fd
	s.Fd = -1
	res, _, errno := unix.Syscall6(unix.SYS_CLOSE, uintptr(fd), 0, 0, 0, 0, 0)
	if res != 0 {
		return errno
	}
	return nil
}

// SockAddrs returns the local and remote address of a connected descriptor.
func SockAddrs(fd int32) (netip.AddrPort, netip.AddrPort, error) {
	localSockAddr, err := unix.Getsockname(int(fd))
	if err != nil {
		return netip.AddrPort{}, netip.AddrPort{}, err
	}

	remoteSockAddr, err := unix.Getpeername(int(fd))
	if err != nil {
		return netip.AddrPort{}, netip.AddrPort{}, err
	}

	localAddrPort, err := toAddrPort(localSockAddr)
	if err != nil {
		return netip.AddrPort{}, netip.AddrPort{}, err
	}
	remoteAddrPort, err := toAddrPort(remoteSockAddr)
	if err != nil {
		return netip.AddrPort{}, netip.AddrPort{}, err
	}
	return localAddrPort, remoteAddrPort, nil
}

func toAddrPort(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(addr.Addr), uint16(addr.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(addr.Addr), uint16(addr.Port)), nil
	default:
		return netip.AddrPort{}, unix.EAFNOSUPPORT
	}
}
