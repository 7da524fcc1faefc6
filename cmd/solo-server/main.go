//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/touka-aoi/solo-server/core/engine"
	"github.com/touka-aoi/solo-server/core/latch"
	"github.com/touka-aoi/solo-server/internal/config"
	"github.com/touka-aoi/solo-server/internal/logger"
	"github.com/touka-aoi/solo-server/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "Path to a TOML config file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [port]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if flag.NArg() > 1 {
		flag.Usage()
		return 1
	}
	if flag.NArg() == 1 {
		port, err := config.ParsePort(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		cfg.Listen.Port = port
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Setup logging
	logLevel, _ := logger.ParseLevel(cfg.Log.Level)
	log, logCloser := logger.New(cfg.Log.File, logLevel, cfg.Log.MaxSizeMB)
	defer logCloser.Close()
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sigLatch, err := latch.New()
	if err != nil {
		slog.Error("Failed to create signal latch", "error", err)
		return 1
	}
	poller, err := engine.NewEpollPoller()
	if err != nil {
		sigLatch.Close()
		slog.Error("Failed to create poller", "error", err)
		return 1
	}

	metrics := server.NewMetrics()
	reloadSignal := cfg.ReloadSignal()
	reporter := server.NewLogReporter(log, metrics, signalName(reloadSignal))

	networkServer := server.NewNetworkServer(poller, sigLatch, server.NetworkServerConfig{
		Port:        cfg.Listen.Port,
		Backlog:     cfg.Listen.Backlog,
		WaitTimeout: cfg.WaitTimeout(),
	}, reporter)
	defer func() {
		if err := networkServer.Close(context.Background()); err != nil {
			slog.Warn("Failed to release resources", "error", err)
		}
	}()

	if err := networkServer.Listen(ctx); err != nil {
		slog.Error("Failed to create listener", "port", cfg.Listen.Port, "error", err)
		return 1
	}

	stopNotify := sigLatch.Notify(reloadSignal)
	defer stopNotify()

	if cfg.Metrics.Address != "" {
		metricsServer := serveMetrics(cfg.Metrics.Address, metrics)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Failed to stop metrics server", "error", err)
			}
		}()
	}

	slog.Info("Server ready to accept connections")
	if err := networkServer.Serve(ctx); err != nil {
		slog.Error("Event loop failed", "error", err)
		return 1
	}

	slog.Info("Server stopped")
	return 0
}

func serveMetrics(addr string, metrics *server.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Metrics server starting", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGUSR1:
		return "SIGUSR1"
	case syscall.SIGUSR2:
		return "SIGUSR2"
	default:
		return sig.String()
	}
}
