// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability serves Prometheus metrics and health checks for the
// story engine.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// readinessTimeout bounds one readiness check.
const readinessTimeout = 2 * time.Second

// ReadinessChecker reports why the engine cannot accept sessions yet, or nil
// when it can.
type ReadinessChecker func(ctx context.Context) error

// ErrStarting is what a readiness checker reports before startup finishes.
var ErrStarting = errors.New("starting")

// Metrics are the server-level storyengine metrics. Package metrics such as
// queue depth register themselves on Registerer.
type Metrics struct {
	// ConnectionsTotal counts accepted session sockets by role.
	ConnectionsTotal *prometheus.CounterVec
	// WorldsLoaded is the number of worlds in the loaded map.
	WorldsLoaded prometheus.Gauge
	// ReadinessFailures counts failed readiness checks.
	ReadinessFailures prometheus.Counter
}

// NewMetrics creates the server-level metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyengine_connections_total",
				Help: "Total number of accepted session connections by role",
			},
			[]string{"role"},
		),
		WorldsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storyengine_worlds_loaded",
			Help: "Number of worlds in the loaded world map",
		}),
		ReadinessFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyengine_readiness_failures_total",
			Help: "Total number of readiness checks answered not ready",
		}),
	}
	reg.MustRegister(m.ConnectionsTotal, m.WorldsLoaded, m.ReadinessFailures)
	return m
}

// Server serves /metrics and the health checks.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	ready      ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a server for addr ("127.0.0.1:9100", or ":9100" for all
// interfaces). Each server has its own registry. A nil checker is always
// ready.
func NewServer(addr string, ready ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		ready:    ready,
	}
}

// Metrics returns the server-level metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registerer is where package metrics register to be served on /metrics.
func (s *Server) Registerer() prometheus.Registerer {
	return s.registry
}

// Handler returns the health and metrics routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	return mux
}

// Start begins serving. The returned channel receives a serve error, if any,
// and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()
	return errCh, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}
	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

// handleReadiness answers 200 when the checker passes and 503 with its
// reason otherwise.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		writeStatus(w, http.StatusOK, "ok")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := s.ready(ctx); err != nil {
		s.metrics.ReadinessFailures.Inc()
		slog.DebugContext(ctx, "readiness check failed", "error", err)
		writeStatus(w, http.StatusServiceUnavailable, "not ready: "+err.Error())
		return
	}
	writeStatus(w, http.StatusOK, "ok")
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte(body + "\n"))
}
