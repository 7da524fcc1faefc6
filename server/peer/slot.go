//go:build linux

package peer

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const RecvBufferSize = 4096

type RecvResult int

const (
	RecvWouldBlock RecvResult = iota
	RecvData
	RecvPeerClosed
	RecvError
)

var recvResultName = map[RecvResult]string{
	RecvWouldBlock: "would-block",
	RecvData:       "data",
	RecvPeerClosed: "peer-closed",
	RecvError:      "error",
}

func (r RecvResult) String() string {
	return recvResultName[r]
}

// Slot owns at most one connection. It does not reject overflow itself:
// when Install returns false the caller still owns the descriptor and must
// close it.
type Slot struct {
	peer *Peer
	buf  [RecvBufferSize]byte
	// beforeClose runs with the descriptor still open, e.g. to drop it
	// from a poller.
	beforeClose func(fd int32)
}

func NewSlot(beforeClose func(fd int32)) *Slot {
	return &Slot{beforeClose: beforeClose}
}

func (s *Slot) Install(p *Peer) bool {
	if s.peer != nil || p == nil {
		return false
	}
	p.setState(StateActive)
	s.peer = p
	return true
}

func (s *Slot) Occupied() bool {
	return s.peer != nil
}

func (s *Slot) Peer() *Peer {
	return s.peer
}

// Fd returns the occupied descriptor, or -1 when the slot is empty.
func (s *Slot) Fd() int32 {
	if s.peer == nil {
		return -1
	}
	return s.peer.fd
}

// Receive performs one non-blocking read of up to RecvBufferSize bytes.
// On RecvPeerClosed and RecvError the slot is already empty and the
// descriptor closed when Receive returns.
func (s *Slot) Receive() (RecvResult, int, error) {
	if s.peer == nil {
		return RecvWouldBlock, 0, nil
	}

	n, err := unix.Read(int(s.peer.fd), s.buf[:])
	switch {
	case err == nil && n > 0:
		s.peer.markRead(n)
		s.peer.setState(StateActive)
		return RecvData, n, nil
	case err == nil:
		if _, cerr := s.Evict(); cerr != nil {
			return RecvPeerClosed, 0, cerr
		}
		return RecvPeerClosed, 0, nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		s.peer.setState(StateIdle)
		return RecvWouldBlock, 0, nil
	default:
		readErr := fmt.Errorf("read fd %d: %w", s.peer.fd, err)
		if _, cerr := s.Evict(); cerr != nil {
			return RecvError, 0, errors.Join(readErr, cerr)
		}
		return RecvError, 0, readErr
	}
}

// Evict closes and empties the slot. It returns the evicted peer, or nil
// when the slot was already empty.
func (s *Slot) Evict() (*Peer, error) {
	p := s.peer
	if p == nil {
		return nil, nil
	}
	s.peer = nil
	if s.beforeClose != nil {
		s.beforeClose(p.fd)
	}
	p.setState(StateClosed)
	if err := unix.Close(int(p.fd)); err != nil {
		return p, fmt.Errorf("close fd %d: %w", p.fd, err)
	}
	return p, nil
}
