//go:build linux

package engine

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/touka-aoi/solo-server/core/core"
	terrr "github.com/touka-aoi/solo-server/core/errors"
	"golang.org/x/sys/unix"
)

// DefaultBacklog matches the kernel's SOMAXCONN so connection bursts are
// queued rather than dropped.
const DefaultBacklog = unix.SOMAXCONN

// Listener is the accepting side of the server. AcceptOne returns
// terrr.ErrWouldBlock once the backlog is drained.
type Listener interface {
	Fd() int32
	Port() int
	AcceptOne() (int32, error)
	Close() error
}

type TCPListener struct {
	socket *core.Socket
	port   int
}

var _ Listener = (*TCPListener)(nil)

// Listen creates a non-blocking TCP listener bound to the wildcard address.
// Port 0 binds an ephemeral port; see Port.
func Listen(port, backlog int) (*TCPListener, error) {
	if port < 0 || port > 65535 {
		return nil, &terrr.SetupError{Op: "bind", Err: fmt.Errorf("%w: port %d out of range", terrr.ErrBind, port)}
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	s, err := core.CreateTCPSocket()
	if err != nil {
		return nil, err
	}

	addr := netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port))
	if err := s.Bind(addr); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Listen(backlog); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.SetNonblock(); err != nil {
		s.Close()
		return nil, err
	}

	bound, err := s.Port()
	if err != nil {
		s.Close()
		return nil, &terrr.SetupError{Op: "getsockname", Err: err}
	}

	return &TCPListener{
		socket: s,
		port:   bound,
	}, nil
}

// AcceptOne performs a single non-blocking accept. It returns
// terrr.ErrWouldBlock when nothing is pending; any other failure wraps
// terrr.ErrAccept.
func (l *TCPListener) AcceptOne() (int32, error) {
	fd, err := l.socket.Accept()
	if err != nil {
		if errors.Is(err, terrr.ErrWouldBlock) {
			return -1, err
		}
		return -1, fmt.Errorf("%w: %w", terrr.ErrAccept, err)
	}
	return fd, nil
}

func (l *TCPListener) Port() int {
	return l.port
}

func (l *TCPListener) Close() error {
	err := l.socket.Close()
	if err != nil {
		return err
	}
	return nil
}

func (l *TCPListener) Fd() int32 {
	return l.socket.Fd
}
