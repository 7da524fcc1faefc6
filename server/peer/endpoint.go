package peer

import (
	"net/netip"
	"time"
)

// Endpoint is the read-only view of a connection handed to reporters.
type Endpoint interface {
	Fd() int32
	LocalAddr() netip.AddrPort
	RemoteAddr() netip.AddrPort
	Status() string
	BytesReceived() int64
	AcceptedAt() time.Time
	LastActivity() time.Time
}

var _ Endpoint = (*Peer)(nil)
