package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/swarm/internal/control"
	"github.com/ShayCichocki/swarm/internal/server"
	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/internal/telemetry"
	"github.com/ShayCichocki/swarm/internal/version"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and WebSocket push channel",
	Long: `Start the swarm server.

Endpoints:
  POST /api/runs             submit a run (429 when at capacity)
  GET  /api/runs             list runs (?status=&limit=&offset=)
  GET  /api/runs/:id         fetch one run
  POST /api/runs/:id/cancel  cancel a queued or running run
  GET  /ws                   progress stream and start-swarm commands
  GET  /healthz              queue and memory snapshot
  GET  /metrics              Prometheus metrics

Touch "drain", "pause" or "resume" in the signals directory (or use
"swarm signal") to steer a running server.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, version.Get())
	if err != nil {
		return err
	}

	store, err := state.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}

	eng, err := newEngine(ctx, cfg, engineDeps{store: store}, logger)
	if err != nil {
		store.Close()
		return err
	}
	logger.Info("providers registered", "providers", eng.router.Names())

	watcher, err := control.NewWatcher(cfg.Control.SignalsDir, eng.queue, eng.pipeline.PauseController(), eng.breakers, logger)
	if err != nil {
		_ = eng.Close(context.Background())
		return err
	}

	srv := server.New(cfg.Server, eng.queue, eng.bus, server.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Close(closeCtx); err != nil {
		logger.Warn("engine shutdown incomplete", "error", err)
	}
	if err := shutdownTracing(closeCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
	return runErr
}
