//go:build linux

package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	terrr "github.com/touka-aoi/solo-server/core/errors"
	"github.com/touka-aoi/solo-server/core/event"
)

func newPoller(t *testing.T) *EpollPoller {
	t.Helper()
	p, err := NewEpollPoller()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// wait retries when a runtime signal interrupts epoll_wait.
func wait(t *testing.T, p *EpollPoller, timeout time.Duration) []*NetEvent {
	t.Helper()
	for {
		events, err := p.Wait(timeout)
		if errors.Is(err, terrr.ErrInterrupted) {
			continue
		}
		require.NoError(t, err)
		return events
	}
}

func TestEpollPoller_TimeoutWithoutEvents(t *testing.T) {
	p := newPoller(t)

	events := wait(t, p, 10*time.Millisecond)
	assert.Empty(t, events)
}

func TestEpollPoller_ReportsReadable(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	require.NoError(t, p.Watch(int32(a), event.EVENT_TYPE_READ))
	_, err := unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	events := wait(t, p, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, int32(a), events[0].Fd)
	assert.Equal(t, event.EVENT_TYPE_READ, events[0].EventType)
}

func TestEpollPoller_LevelTriggered(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	require.NoError(t, p.Watch(int32(a), event.EVENT_TYPE_READ))
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	for range 2 {
		events := wait(t, p, time.Second)
		assert.Len(t, events, 1, "unconsumed data must be reported again")
	}
}

func TestEpollPoller_ReportsPeerShutdownAsRead(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	require.NoError(t, p.Watch(int32(a), event.EVENT_TYPE_READ))
	require.NoError(t, unix.Shutdown(b, unix.SHUT_WR))

	events := wait(t, p, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, event.EVENT_TYPE_READ, events[0].EventType, "the read sees end of stream")
}

func TestWaitMillis(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    int
	}{
		{"zero blocks", 0, -1},
		{"negative blocks", -time.Second, -1},
		{"sub-millisecond rounds up", 100 * time.Microsecond, 1},
		{"plain", 250 * time.Millisecond, 250},
		{"int32 limit", time.Duration(math.MaxInt32) * time.Millisecond, math.MaxInt32},
		{"beyond int32 is clamped", 30 * 24 * time.Hour, math.MaxInt32},
		{"max duration is clamped", time.Duration(math.MaxInt64), math.MaxInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, waitMillis(tt.timeout))
		})
	}
}

func TestEpollPoller_Unwatch(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	require.NoError(t, p.Watch(int32(a), event.EVENT_TYPE_READ))
	require.NoError(t, p.Watch(int32(a), event.EVENT_TYPE_READ), "watching twice is a no-op")
	require.NoError(t, p.Unwatch(int32(a)))
	require.NoError(t, p.Unwatch(int32(a)), "unwatching twice is a no-op")

	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	events := wait(t, p, 10*time.Millisecond)
	assert.Empty(t, events)
}

func TestEpollPoller_CloseOnce(t *testing.T) {
	p, err := NewEpollPoller()
	require.NoError(t, err)

	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}
