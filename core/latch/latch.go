//go:build linux

// Package latch carries asynchronous signal delivery into the event loop.
//
// A Latch is a single boolean raised by the signal forwarder and consumed by
// the loop, paired with an eventfd that the loop watches so that a raise
// after the last Drain always wakes the next wait.
package latch

import (
	"encoding/binary"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

type Latch struct {
	set    atomic.Bool
	fd     int
	closed atomic.Bool
	one    [8]byte
}

func New() (*Latch, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	l := &Latch{fd: fd}
	binary.NativeEndian.PutUint64(l.one[:], 1)
	return l, nil
}

// Raise sets the latch and wakes the watcher. It must stay free of locks
// and allocation; the flag is published before the wakeup.
func (l *Latch) Raise() {
	l.set.Store(true)
	l.Wake()
}

// Wake makes Fd readable without setting the latch.
func (l *Latch) Wake() {
	if l.closed.Load() {
		return
	}
	// EAGAIN only happens when the counter is saturated, which is already readable.
	_, _ = unix.Write(l.fd, l.one[:])
}

// Drain reports whether the latch was set and clears it.
func (l *Latch) Drain() bool {
	return l.set.Swap(false)
}

// Reset consumes pending wakeups. Call it before Drain.
func (l *Latch) Reset() error {
	var buf [8]byte
	_, err := unix.Read(l.fd, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	return nil
}

func (l *Latch) Fd() int32 {
	return int32(l.fd)
}

// Notify forwards the given signals, SIGHUP when none are given, to Raise
// until stop is called. stop returns after the forwarder has exited, so the
// latch can be closed right after it.
func (l *Latch) Notify(sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGHUP}
	}
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sigs...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ch:
				l.Raise()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			wg.Wait()
		})
	}
}

// Close releases the eventfd once. Every goroutine that may still call
// Raise or Wake has to be stopped first; Notify's stop does that for the
// forwarder.
func (l *Latch) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return unix.Close(l.fd)
}
