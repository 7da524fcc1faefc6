package engine

import (
	"time"

	"github.com/touka-aoi/solo-server/core/event"
)

// Poller waits for readiness on a set of watched descriptors.
type Poller interface {
	Watch(fd int32, eventType event.EventType) error
	Unwatch(fd int32) error
	// Wait blocks until a watched descriptor is readable or timeout elapses.
	// A timeout <= 0 blocks indefinitely. Interruption by a signal is
	// reported as terrr.ErrInterrupted.
	Wait(timeout time.Duration) ([]*NetEvent, error)
	Close() error
}
