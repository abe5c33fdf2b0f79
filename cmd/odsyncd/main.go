// Package main provides the odsyncd diagnostics daemon: it runs the offline
// sync core headless and exposes its health, queue and cache diagnostics on
// localhost, plus a WebSocket feed of sync lifecycle events.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/odtrack/core/internal/cache"
	"github.com/odtrack/core/internal/config"
	"github.com/odtrack/core/internal/conflict"
	"github.com/odtrack/core/internal/events"
	"github.com/odtrack/core/internal/logging"
	"github.com/odtrack/core/internal/ops"
	"github.com/odtrack/core/internal/queue"
	"github.com/odtrack/core/internal/store"
	"github.com/odtrack/core/internal/worker"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	cfg := config.Load()
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(cfg.DataDir)
	if err := st.Initialize(ctx); err != nil {
		logging.Error("Failed to initialize persistent store", err)
		os.Exit(1)
	}
	defer st.Close()

	queueManager := queue.NewManager(st, cfg.Queue)
	cacheManager := cache.NewManager(st, cfg.Cache)
	tracker := conflict.NewTracker(st)
	operations := ops.NewQueue(st, queueManager)
	bus := events.NewBus(256)
	defer bus.Close()

	monitor := newProbeMonitor(cfg.Remote.ProbeURL, cfg.Remote.ProbeInterval)
	monitor.Start(ctx)
	defer monitor.Stop()

	remote := newHTTPRemoteClient(cfg.Remote.BaseURL)

	w := worker.New(queueManager, tracker, remote, monitor, bus, cfg.Worker, cfg.Queue.BatchSize)
	w.Start(ctx)
	defer w.Dispose()

	hub := newWSHub()
	go hub.bridge(bus)

	mux := http.NewServeMux()
	registerHandlers(mux, &server{
		store:      st,
		queue:      queueManager,
		cache:      cacheManager,
		conflicts:  tracker,
		operations: operations,
		worker:     w,
		hub:        hub,
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		logging.Info("odsyncd listening", map[string]interface{}{
			"addr":    cfg.ListenAddr,
			"version": Version,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server failed", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	logging.Info("Shutting down")
	srv.Shutdown(context.Background())
}
