//go:build linux

package server

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/touka-aoi/solo-server/core/core"
	"github.com/touka-aoi/solo-server/core/engine"
	terrr "github.com/touka-aoi/solo-server/core/errors"
	"github.com/touka-aoi/solo-server/core/event"
	"github.com/touka-aoi/solo-server/core/latch"
	"github.com/touka-aoi/solo-server/server/peer"
)

type NetworkServerConfig struct {
	Port    int
	Backlog int
	// WaitTimeout bounds each readiness wait. Zero blocks until an event.
	WaitTimeout time.Duration
}

// Accept failures other than an empty backlog (EMFILE, ENOBUFS, ...) leave
// the level-triggered listener ready. The listener is taken out of the watch
// set for a doubling delay between these bounds.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

type SrvStatus int

const (
	Idle SrvStatus = iota
	Running
	Stopped
)

var stateName = map[SrvStatus]string{
	Idle:    "idle",
	Running: "running",
	Stopped: "stopped",
}

func (s SrvStatus) String() string {
	return stateName[s]
}

// NetworkServer serves a single client connection at a time from one
// goroutine. Only the latch is shared with other goroutines.
type NetworkServer struct {
	poller   engine.Poller
	listener engine.Listener
	latch    *latch.Latch
	slot     *peer.Slot
	config   NetworkServerConfig
	reporter Reporter
	status   atomic.Int32
	closed   bool

	acceptDelay  time.Duration
	acceptResume time.Time
}

// NewNetworkServer takes ownership of poller and l; both are closed by Close.
func NewNetworkServer(poller engine.Poller, l *latch.Latch, config NetworkServerConfig, reporter Reporter) *NetworkServer {
	if reporter == nil {
		reporter = NewLogReporter(nil, nil, "")
	}
	ns := &NetworkServer{
		poller:   poller,
		latch:    l,
		config:   config,
		reporter: reporter,
	}
	ns.slot = peer.NewSlot(func(fd int32) {
		if err := ns.poller.Unwatch(fd); err != nil {
			slog.Warn("Failed to unwatch peer", "fd", fd, "error", err)
		}
	})
	return ns
}

func (ns *NetworkServer) Listen(ctx context.Context) error {
	listener, err := engine.Listen(ns.config.Port, ns.config.Backlog)
	if err != nil {
		return err
	}
	ns.listener = listener

	if err := ns.poller.Watch(listener.Fd(), event.EVENT_TYPE_ACCEPT); err != nil {
		slog.ErrorContext(ctx, "Failed to watch listener", "error", err)
		return &terrr.SetupError{Op: "watch", Err: err}
	}
	if err := ns.poller.Watch(ns.latch.Fd(), event.EVENT_TYPE_WAKE); err != nil {
		slog.ErrorContext(ctx, "Failed to watch signal latch", "error", err)
		return &terrr.SetupError{Op: "watch", Err: err}
	}

	slog.InfoContext(ctx, "Listening on", "port", listener.Port())
	return nil
}

// Port is the bound port, valid after Listen.
func (ns *NetworkServer) Port() int {
	if ns.listener == nil {
		return 0
	}
	return ns.listener.Port()
}

func (ns *NetworkServer) Status() SrvStatus {
	return SrvStatus(ns.status.Load())
}

// Serve runs the event loop until ctx is cancelled (nil) or the readiness
// wait fails (*terrr.FatalWaitError). It does not release resources; call
// Close afterwards.
func (ns *NetworkServer) Serve(ctx context.Context) error {
	if ns.listener == nil {
		return errors.New("serve called before listen")
	}
	ns.status.Store(int32(Running))
	defer ns.status.Store(int32(Stopped))

	woken := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(woken)
		ns.latch.Wake()
	})
	defer func() {
		// A wake that already started must finish before the caller
		// can Close the latch.
		if !stop() {
			<-woken
		}
	}()

	for {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Event loop stopping", "reason", context.Cause(ctx))
			return nil
		}

		ns.resumeAccept(ctx)
		netEvents, waitErr := ns.poller.Wait(ns.waitTimeout())

		ns.drainSignal(ctx)

		if waitErr != nil {
			if errors.Is(waitErr, terrr.ErrInterrupted) {
				continue
			}
			slog.ErrorContext(ctx, "Failed to wait event", "error", waitErr)
			return &terrr.FatalWaitError{Err: waitErr}
		}

		var acceptReady bool
		readyFd := int32(-1)
		for netEvent := range slices.Values(netEvents) {
			switch netEvent.EventType {
			case event.EVENT_TYPE_ACCEPT:
				acceptReady = true
			case event.EVENT_TYPE_READ:
				readyFd = netEvent.Fd
			case event.EVENT_TYPE_WAKE:
				// handled by drainSignal
			default:
				slog.WarnContext(ctx, "Unknown event type", "type", netEvent.EventType, "fd", netEvent.Fd)
			}
		}

		if acceptReady {
			ns.handleAccept(ctx)
		}

		if readyFd >= 0 && ns.slot.Occupied() && ns.slot.Fd() == readyFd {
			ns.handleRead(ctx)
		}
	}
}

func (ns *NetworkServer) drainSignal(ctx context.Context) {
	// Reset first: a raise after this point leaves the eventfd readable
	// for the next wait even if Drain below already saw the flag.
	if err := ns.latch.Reset(); err != nil {
		slog.WarnContext(ctx, "Failed to reset signal latch", "error", err)
	}
	if ns.latch.Drain() {
		ns.reporter.OnSignal(ctx)
	}
}

// handleAccept drains the accept queue. Anything beyond the connection
// that fits in the slot is closed right away.
func (ns *NetworkServer) handleAccept(ctx context.Context) {
	for {
		newFd, err := ns.listener.AcceptOne()
		if err != nil {
			if !errors.Is(err, terrr.ErrWouldBlock) {
				ns.pauseAccept(ctx, err)
			}
			return
		}
		ns.acceptDelay = 0

		localAddr, remoteAddr, err := core.SockAddrs(newFd)
		if err != nil {
			slog.DebugContext(ctx, "Failed to get peer name", "fd", newFd, "error", err)
		}
		connPeer := peer.NewPeer(newFd, localAddr, remoteAddr)
		ns.reporter.OnAccept(ctx, connPeer)

		if !ns.slot.Install(connPeer) {
			if err := core.CloseFd(newFd); err != nil {
				slog.WarnContext(ctx, "Failed to close rejected connection", "fd", newFd, "error", err)
			}
			ns.reporter.OnReject(ctx, connPeer)
			continue
		}

		if err := ns.poller.Watch(newFd, event.EVENT_TYPE_READ); err != nil {
			slog.ErrorContext(ctx, "Failed to register read operation", "fd", newFd, "error", err)
			if _, cerr := ns.slot.Evict(); cerr != nil {
				slog.WarnContext(ctx, "Failed to close peer", "fd", newFd, "error", cerr)
			}
			continue
		}
		ns.reporter.OnInstall(ctx, connPeer)
	}
}

func (ns *NetworkServer) pauseAccept(ctx context.Context, err error) {
	if ns.acceptDelay == 0 {
		ns.acceptDelay = minAcceptDelay
	} else {
		ns.acceptDelay = min(2*ns.acceptDelay, maxAcceptDelay)
	}
	ns.acceptResume = time.Now().Add(ns.acceptDelay)
	slog.ErrorContext(ctx, "Failed to accept connection", "error", err, "retryIn", ns.acceptDelay)

	if err := ns.poller.Unwatch(ns.listener.Fd()); err != nil {
		slog.WarnContext(ctx, "Failed to unwatch listener", "error", err)
	}
}

// resumeAccept puts the listener back into the watch set once its delay
// has passed.
func (ns *NetworkServer) resumeAccept(ctx context.Context) {
	if ns.acceptResume.IsZero() || time.Now().Before(ns.acceptResume) {
		return
	}
	if err := ns.poller.Watch(ns.listener.Fd(), event.EVENT_TYPE_ACCEPT); err != nil {
		ns.pauseAccept(ctx, err)
		return
	}
	ns.acceptResume = time.Time{}
}

// waitTimeout is the configured timeout, shortened so that a paused
// listener is resumed on time.
func (ns *NetworkServer) waitTimeout() time.Duration {
	timeout := ns.config.WaitTimeout
	if ns.acceptResume.IsZero() {
		return timeout
	}
	remaining := max(time.Until(ns.acceptResume), time.Millisecond)
	if timeout <= 0 || remaining < timeout {
		return remaining
	}
	return timeout
}

func (ns *NetworkServer) handleRead(ctx context.Context) {
	connPeer := ns.slot.Peer()

	result, n, err := ns.slot.Receive()
	switch result {
	case peer.RecvData:
		ns.reporter.OnData(ctx, connPeer, n)
	case peer.RecvPeerClosed:
		if err != nil {
			slog.WarnContext(ctx, "Failed to close peer", "fd", connPeer.Fd(), "error", err)
		}
		ns.reporter.OnClose(ctx, connPeer, nil)
	case peer.RecvError:
		ns.reporter.OnClose(ctx, connPeer, err)
	case peer.RecvWouldBlock:
	}
}

// Close evicts the active connection and closes the listener, the latch
// and the poller. It is safe to call more than once.
func (ns *NetworkServer) Close(ctx context.Context) error {
	if ns.closed {
		return nil
	}
	ns.closed = true

	var errs []error
	evicted, err := ns.slot.Evict()
	if err != nil {
		errs = append(errs, err)
	}
	if evicted != nil {
		ns.reporter.OnClose(ctx, evicted, nil)
	}

	if ns.listener != nil {
		if err := ns.poller.Unwatch(ns.listener.Fd()); err != nil {
			errs = append(errs, err)
		}
		if err := ns.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ns.poller.Unwatch(ns.latch.Fd()); err != nil {
		errs = append(errs, err)
	}
	if err := ns.latch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := ns.poller.Close(); err != nil {
		errs = append(errs, err)
	}

	slog.InfoContext(ctx, "Server closed")
	return errors.Join(errs...)
}
