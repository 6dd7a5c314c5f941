// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/storyengine/internal/config"
	"github.com/holomush/storyengine/internal/logging"
	"github.com/holomush/storyengine/internal/observability"
)

// Error codes for the serve command.
const (
	CodeListen = "LISTEN_FAILED"
	CodeServe  = "SERVE_FAILED"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the story engine",
		Long: `Start the story engine: load the world map, open the queue backend,
run the queue workers and accept websocket sessions on /ws.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetDefault(logging.Options{
		Service: "storyengine",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   level,
	})

	slog.Info("starting story engine",
		"listen_addr", cfg.ListenAddr,
		"queue_backend", cfg.QueueBackend,
		"world_file", cfg.WorldFile,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		ready     atomic.Bool
		a         *app
		obsServer ObservabilityServer
		reg       prometheus.Registerer
		metrics   *observability.Metrics
	)
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, func(ctx context.Context) error {
			if !ready.Load() {
				return observability.ErrStarting
			}
			return a.backend.ping(ctx)
		})
		reg = obsServer.Registerer()
		metrics = obsServer.Metrics()
	}

	a, err = buildApp(ctx, cfg, deps, reg, metrics)
	if err != nil {
		return err
	}
	defer a.close()

	listener, err := deps.ListenerFactory("tcp", cfg.ListenAddr)
	if err != nil {
		return oops.Code(CodeListen).With("addr", cfg.ListenAddr).Wrap(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", a.websocketHandler())
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	waitLoops := a.startLoops(loopCtx)

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			shutdown(httpServer, a, stopLoops, waitLoops, nil)
			return oops.Code(CodeServe).With("server", "observability").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	addr := listener.Addr().String()
	if deps.Ready != nil {
		deps.Ready(addr)
	}
	cmd.Println("Story engine started")
	slog.Info("story engine ready",
		"addr", addr,
		"worlds", len(a.worlds.Worlds()),
	)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case serveErr = <-errChan:
		slog.Error("websocket server failed", "error", serveErr)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	slog.Info("shutting down...")
	shutdown(httpServer, a, stopLoops, waitLoops, obsServer)
	slog.Info("shutdown complete")

	if serveErr != nil {
		return oops.Code(CodeServe).With("server", "websocket").Wrap(serveErr)
	}
	return nil
}

// shutdown stops accepting sessions, closes the open ones, then waits for
// the queue workers to finish their in-flight items.
func shutdown(httpServer *http.Server, a *app, stopLoops context.CancelFunc, waitLoops func(), obsServer ObservabilityServer) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping websocket server", "error", err)
	}
	a.hub.Close()

	stopLoops()
	waitLoops()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
