//go:build linux

package latch

import (
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newLatch(t *testing.T) *Latch {
	t.Helper()
	l, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func readable(t *testing.T, fd int32, timeout time.Duration) bool {
	t.Helper()
	fds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		return n == 1
	}
}

func TestLatch_DrainClears(t *testing.T) {
	l := newLatch(t)

	assert.False(t, l.Drain(), "fresh latch must not be set")

	l.Raise()
	assert.True(t, l.Drain())
	assert.False(t, l.Drain(), "drain must clear the latch")
}

func TestLatch_RaisesCoalesce(t *testing.T) {
	l := newLatch(t)

	l.Raise()
	l.Raise()
	l.Raise()
	assert.True(t, l.Drain())
	assert.False(t, l.Drain())
}

func TestLatch_RaiseMakesFdReadable(t *testing.T) {
	l := newLatch(t)

	assert.False(t, readable(t, l.Fd(), 0))

	l.Raise()
	assert.True(t, readable(t, l.Fd(), time.Second))

	require.NoError(t, l.Reset())
	assert.False(t, readable(t, l.Fd(), 0), "reset must consume the wakeup")
	assert.True(t, l.Drain(), "reset must not touch the flag")
}

// A raise that lands between Reset and Drain is seen by Drain and also
// leaves the fd readable, so the next wait returns at once.
func TestLatch_RaiseBetweenResetAndDrain(t *testing.T) {
	l := newLatch(t)

	require.NoError(t, l.Reset())
	l.Raise()
	assert.True(t, l.Drain())
	assert.True(t, readable(t, l.Fd(), 0))
}

// A raise after Drain must not be lost: the flag stays set for the next
// iteration and the fd wakes the wait.
func TestLatch_RaiseAfterDrainIsNotLost(t *testing.T) {
	l := newLatch(t)

	require.NoError(t, l.Reset())
	assert.False(t, l.Drain())
	l.Raise()

	assert.True(t, readable(t, l.Fd(), time.Second))
	require.NoError(t, l.Reset())
	assert.True(t, l.Drain())
}

func TestLatch_WakeDoesNotSet(t *testing.T) {
	l := newLatch(t)

	l.Wake()
	assert.True(t, readable(t, l.Fd(), time.Second))
	assert.False(t, l.Drain())
}

func TestLatch_ResetWithoutWakeup(t *testing.T) {
	l := newLatch(t)
	assert.NoError(t, l.Reset())
}

func TestLatch_NotifyForwardsSignal(t *testing.T) {
	l := newLatch(t)

	stop := l.Notify(syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	assert.Eventually(t, l.Drain, 2*time.Second, 5*time.Millisecond)
	assert.True(t, readable(t, l.Fd(), time.Second))
}

func TestLatch_StopIsIdempotent(t *testing.T) {
	l := newLatch(t)

	stop := l.Notify(syscall.SIGUSR2)
	stop()
	assert.NotPanics(t, stop)
}

func TestLatch_CloseOnce(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
	assert.NotPanics(t, l.Wake)
}

func TestLatch_StopThenCloseLeavesReusedFdAlone(t *testing.T) {
	// Keep SIGUSR1 caught after the latch lets go of it.
	keep := make(chan os.Signal, 1)
	signal.Notify(keep, syscall.SIGUSR1)
	defer signal.Stop(keep)

	for range 20 {
		l, err := New()
		require.NoError(t, err)
		stop := l.Notify(syscall.SIGUSR1)

		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
		<-keep
		stop()
		l.Drain()
		require.NoError(t, l.Close())

		// The next descriptor usually reuses the eventfd's number.
		var pipe [2]int
		require.NoError(t, unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC))

		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
		<-keep

		var buf [8]byte
		_, err = unix.Read(pipe[0], buf[:])
		assert.ErrorIs(t, err, unix.EAGAIN, "nothing may write after stop and Close")
		assert.False(t, l.Drain(), "stopped forwarder must not raise")
		unix.Close(pipe[0])
		unix.Close(pipe[1])
	}
}
