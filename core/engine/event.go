package engine

import (
	"github.com/touka-aoi/solo-server/core/event"
)

// NetEvent is one descriptor reported ready by a Poller.
type NetEvent struct {
	EventType event.EventType
	Fd        int32
}
