// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fetch(t *testing.T, s *Server, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, strings.TrimSpace(rec.Body.String())
}

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", ready)
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestServer_Metrics(t *testing.T) {
	s := startServer(t, nil)
	s.Metrics().ConnectionsTotal.WithLabelValues("dm").Inc()
	s.Metrics().WorldsLoaded.Set(2)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "# HELP")
	assert.Contains(t, text, "go_goroutines")
	assert.Contains(t, text, "process_")
	assert.Contains(t, text, `storyengine_connections_total{role="dm"} 1`)
	assert.Contains(t, text, "storyengine_worlds_loaded 2")
}

func TestServer_PackageMetricsRegisterPerServer(t *testing.T) {
	shared := prometheus.NewCounter(prometheus.CounterOpts{Name: "storyengine_test_shared_total", Help: "test"})

	a := NewServer("127.0.0.1:0", nil)
	b := NewServer("127.0.0.1:0", nil)
	require.NoError(t, a.Registerer().Register(shared))
	require.NoError(t, b.Registerer().Register(shared), "each server has its own registry")

	shared.Inc()
	_, body := fetch(t, b, "/metrics")
	assert.Contains(t, body, "storyengine_test_shared_total 1")
}

func TestServer_Liveness(t *testing.T) {
	s := NewServer("127.0.0.1:0", func(context.Context) error { return ErrStarting })

	code, body := fetch(t, s, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name     string
		ready    ReadinessChecker
		wantCode int
		wantBody string
	}{
		{"nil checker", nil, http.StatusOK, "ok"},
		{"ready", func(context.Context) error { return nil }, http.StatusOK, "ok"},
		{"starting", func(context.Context) error { return ErrStarting }, http.StatusServiceUnavailable, "not ready: starting"},
		{"database down", func(context.Context) error { return errors.New("database: connection refused") },
			http.StatusServiceUnavailable, "not ready: database: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer("127.0.0.1:0", tt.ready)
			code, body := fetch(t, s, "/healthz/readiness")
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestServer_ReadinessFailuresCounted(t *testing.T) {
	s := NewServer("127.0.0.1:0", func(context.Context) error { return ErrStarting })
	fetch(t, s, "/healthz/readiness")
	fetch(t, s, "/healthz/readiness")
	assert.InDelta(t, 2, testutil.ToFloat64(s.Metrics().ReadinessFailures), 0.001)
}

func TestServer_ReadinessCheckHasDeadline(t *testing.T) {
	var hasDeadline bool
	s := NewServer("127.0.0.1:0", func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	fetch(t, s, "/healthz/readiness")
	assert.True(t, hasDeadline)
}

func TestServer_StartTwice(t *testing.T) {
	s := startServer(t, nil)
	_, err := s.Start()
	require.Error(t, err)
}

func TestServer_StartOnBusyAddress(t *testing.T) {
	first := startServer(t, nil)

	second := NewServer(first.Addr(), nil)
	_, err := second.Start()
	require.Error(t, err)
	assert.Empty(t, second.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, second.Stop(ctx), "a server that never started stops cleanly")
}

func TestServer_StopClosesErrorChannel(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	errCh, err := s.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stopping twice is a no-op")

	select {
	case err, ok := <-errCh:
		assert.False(t, ok, "unexpected error %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("error channel not closed")
	}
}
