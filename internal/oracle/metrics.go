// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oracle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/storyengine/pkg/errutil"
)

// Calls counts oracle calls by oracle and outcome (ok or an error code).
// Use RegisterMetrics to register this with a Prometheus registry.
var Calls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storyengine_oracle_calls_total",
		Help: "Oracle calls by oracle and outcome",
	},
	[]string{"oracle", "outcome"},
)

// CallDuration observes oracle latency including retries.
var CallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "storyengine_oracle_call_duration_seconds",
		Help:    "Oracle call latency in seconds, including retries",
		Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{"oracle"},
)

// RegisterMetrics registers oracle metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Calls)
	reg.MustRegister(CallDuration)
}

func observeCall(oracle string, start time.Time, err error) {
	CallDuration.WithLabelValues(oracle).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if code := errutil.Code(err); code != "" {
			outcome = code
		}
	}
	Calls.WithLabelValues(oracle, outcome).Inc()
}
