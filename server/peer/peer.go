package peer

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Peer struct {
	SessionID  string
	fd         int32
	localAddr  netip.AddrPort
	remoteAddr netip.AddrPort
	acceptedAt time.Time
	status     atomic.Int32
	lastActive atomic.Int64
	received   atomic.Int64
}

func NewPeer(fd int32, localAddr netip.AddrPort, remoteAddr netip.AddrPort) *Peer {
	sessionID := uuid.NewString()
	p := &Peer{
		SessionID:  sessionID,
		fd:         fd,
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		acceptedAt: time.Now(),
	}
	p.lastActive.Store(p.acceptedAt.UnixNano())
	return p
}

func (p *Peer) Fd() int32 {
	return p.fd
}

func (p *Peer) LocalAddr() netip.AddrPort {
	return p.localAddr
}

func (p *Peer) RemoteAddr() netip.AddrPort {
	return p.remoteAddr
}

func (p *Peer) Status() string {
	s := p.status.Load()
	return ConnState(s).String()
}

func (p *Peer) State() ConnState {
	return ConnState(p.status.Load())
}

func (p *Peer) setState(s ConnState) {
	p.status.Store(int32(s))
}

// BytesReceived is the total read from this peer since it was accepted.
func (p *Peer) BytesReceived() int64 {
	return p.received.Load()
}

func (p *Peer) AcceptedAt() time.Time {
	return p.acceptedAt
}

// LastActivity is the time of the last read that returned data, or the
// accept time if there was none.
func (p *Peer) LastActivity() time.Time {
	return time.Unix(0, p.lastActive.Load())
}

func (p *Peer) markRead(n int) {
	p.received.Add(int64(n))
	p.lastActive.Store(time.Now().UnixNano())
}
