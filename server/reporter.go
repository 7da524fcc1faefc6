package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/touka-aoi/solo-server/server/peer"
)

// Reporter receives the loop's observable events. Calls are made from the
// event loop goroutine only.
type Reporter interface {
	// OnAccept is called for every accepted descriptor, before it is
	// installed or rejected.
	OnAccept(ctx context.Context, ep peer.Endpoint)
	OnInstall(ctx context.Context, p *peer.Peer)
	// OnReject is called when an accepted descriptor was closed because the
	// slot was occupied. It is informational, not a fault.
	OnReject(ctx context.Context, ep peer.Endpoint)
	OnData(ctx context.Context, ep peer.Endpoint, n int)
	// OnClose is called when the active connection leaves the slot. err is
	// nil for a peer close or shutdown.
	OnClose(ctx context.Context, ep peer.Endpoint, err error)
	OnSignal(ctx context.Context)
}

type LogReporter struct {
	logger  *slog.Logger
	metrics *Metrics
	signal  string
}

// NewLogReporter reports through logger and, when metrics is non-nil,
// updates the counters. signalName is used in the signal line.
func NewLogReporter(logger *slog.Logger, metrics *Metrics, signalName string) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	if signalName == "" {
		signalName = "SIGHUP"
	}
	return &LogReporter{logger: logger, metrics: metrics, signal: signalName}
}

func (r *LogReporter) OnAccept(ctx context.Context, ep peer.Endpoint) {
	r.logger.InfoContext(ctx, "New connection", "fd", ep.Fd(), "remoteAddr", ep.RemoteAddr())
}

var _ Reporter = (*LogReporter)(nil)

func (r *LogReporter) OnReject(ctx context.Context, ep peer.Endpoint) {
	r.logger.InfoContext(ctx, "Connection rejected, slot occupied", "fd", ep.Fd(), "remoteAddr", ep.RemoteAddr())
	if r.metrics != nil {
		r.metrics.rejected()
	}
}

func (r *LogReporter) OnData(ctx context.Context, ep peer.Endpoint, n int) {
	r.logger.InfoContext(ctx, "Received data", "fd", ep.Fd(), "bytes", n)
	if r.metrics != nil {
		r.metrics.received(n)
	}
}

func (r *LogReporter) OnClose(ctx context.Context, ep peer.Endpoint, err error) {
	attrs := []any{
		"fd", ep.Fd(),
		"totalBytes", ep.BytesReceived(),
		"duration", time.Since(ep.AcceptedAt()).Round(time.Millisecond),
		"lastActive", ep.LastActivity().Format(time.RFC3339Nano),
	}
	if err != nil {
		r.logger.WarnContext(ctx, "Connection closed after read error", append(attrs, "error", err)...)
	} else {
		r.logger.InfoContext(ctx, "Connection closed", attrs...)
	}
	if r.metrics != nil {
		r.metrics.closed(err != nil)
	}
}

func (r *LogReporter) OnSignal(ctx context.Context) {
	r.logger.InfoContext(ctx, r.signal+" received")
	if r.metrics != nil {
		r.metrics.signal()
	}
}

func (r *LogReporter) OnInstall(ctx context.Context, p *peer.Peer) {
	r.logger.DebugContext(ctx, "Connection installed", "fd", p.Fd(), "sessionID", p.SessionID)
	if r.metrics != nil {
		r.metrics.accepted()
	}
}
