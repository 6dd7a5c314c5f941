// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for processed items.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomePanicked  = "panicked"
)

// ItemsProcessed counts items a worker finished, by queue and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var ItemsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storyengine_queue_items_processed_total",
		Help: "Total number of queue items processed by workers",
	},
	[]string{"queue", "outcome"},
)

// ProcessingDuration observes handler latency per queue.
// Use RegisterMetrics to register this with a Prometheus registry.
var ProcessingDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "storyengine_queue_processing_duration_seconds",
		Help:    "Queue item handler duration in seconds",
		Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
	},
	[]string{"queue"},
)

// Depth reports the pending count last observed by each worker.
// Use RegisterMetrics to register this with a Prometheus registry.
var Depth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "storyengine_queue_depth",
		Help: "Pending items per queue as last observed by its worker",
	},
	[]string{"queue"},
)

// Maintenance actions.
const (
	MaintenanceRecovered = "recovered"
	MaintenanceExpired   = "expired"
	MaintenanceRemoved   = "removed"
)

// ItemsMaintained counts items touched by the janitor, by queue and action.
// Use RegisterMetrics to register this with a Prometheus registry.
var ItemsMaintained = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storyengine_queue_items_maintained_total",
		Help: "Total number of queue items recovered, expired or removed by maintenance",
	},
	[]string{"queue", "action"},
)

// RegisterMetrics registers queue metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ItemsProcessed)
	reg.MustRegister(ProcessingDuration)
	reg.MustRegister(Depth)
	reg.MustRegister(ItemsMaintained)
}

// RecordProcessed increments the processed counter and observes duration.
func RecordProcessed(queue, outcome string, duration time.Duration) {
	ItemsProcessed.WithLabelValues(queue, outcome).Inc()
	ProcessingDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordDepth sets the depth gauge for queue.
func RecordDepth(queue string, depth int) {
	Depth.WithLabelValues(queue).Set(float64(depth))
}

// RecordMaintenance adds n to the maintenance counter for queue and action.
func RecordMaintenance(queue, action string, n int) {
	ItemsMaintained.WithLabelValues(queue, action).Add(float64(n))
}
