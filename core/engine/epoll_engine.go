//go:build linux

package engine

import (
	"errors"
	"math"
	"time"

	terrr "github.com/touka-aoi/solo-server/core/errors"
	"github.com/touka-aoi/solo-server/core/event"
	"golang.org/x/sys/unix"
)

const maxEvents = 16

// EpollPoller is a level-triggered Poller. A descriptor stays ready until
// the caller consumes it, so a partially drained accept queue is reported
// again on the next Wait.
type EpollPoller struct {
	epfd    int
	watched map[int32]event.EventType
	events  [maxEvents]unix.EpollEvent
}

func NewEpollPoller() (*EpollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollPoller{
		epfd:    epfd,
		watched: make(map[int32]event.EventType),
	}, nil
}

func (e *EpollPoller) Watch(fd int32, eventType event.EventType) error {
	if _, ok := e.watched[fd]; ok {
		return nil
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: fd}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return err
	}
	e.watched[fd] = eventType
	return nil
}

// Unwatch must run before fd is closed so that a reused descriptor number
// never inherits a stale registration.
func (e *EpollPoller) Unwatch(fd int32) error {
	if _, ok := e.watched[fd]; !ok {
		return nil
	}
	delete(e.watched, fd)
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return err
	}
	return nil
}

// waitMillis converts a wait timeout to epoll_wait's argument. Non-positive
// means block; anything else is at least 1ms and at most MaxInt32 ms.
func waitMillis(timeout time.Duration) int {
	if timeout <= 0 {
		return -1
	}
	msec := timeout.Milliseconds()
	switch {
	case msec < 1:
		return 1
	case msec > math.MaxInt32:
		return math.MaxInt32
	}
	return int(msec)
}

func (e *EpollPoller) Wait(timeout time.Duration) ([]*NetEvent, error) {
	n, err := unix.EpollWait(e.epfd, e.events[:], waitMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, terrr.ErrInterrupted
		}
		return nil, err
	}

	netEvents := make([]*NetEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := e.events[i]
		eventType, ok := e.watched[ev.Fd]
		if !ok {
			continue
		}
		netEvents = append(netEvents, &NetEvent{
			EventType: eventType,
			Fd:        ev.Fd,
		})
	}
	return netEvents, nil
}

func (e *EpollPoller) Close() error {
	if e.epfd < 0 {
		return nil
	}
	epfd := e.epfd
	e.epfd = -1
	clear(e.watched)
	return unix.Close(epfd)
}
