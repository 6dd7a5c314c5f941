// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status values for message metrics.
const (
	StatusSuccess          = "success"
	StatusError            = "error"
	StatusInvalid          = "invalid"
	StatusNotFound         = "not_found"
	StatusPermissionDenied = "permission_denied"
	StatusRateLimited      = "rate_limited"
)

// MessagesHandled counts dispatched messages.
// Use RegisterMetrics to register this with a Prometheus registry.
var MessagesHandled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storyengine_messages_handled_total",
		Help: "Total number of client messages dispatched",
	},
	[]string{"type", "status"},
)

// MessageDuration observes handler run time.
var MessageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "storyengine_message_duration_seconds",
		Help:    "Client message handling duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"type"},
)

// RegisterMetrics registers command package metrics with reg. Panics if
// registration fails.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(MessagesHandled)
	reg.MustRegister(MessageDuration)
}

// RecordMessage increments the handled counter.
func RecordMessage(msgType, status string) {
	MessagesHandled.WithLabelValues(msgType, status).Inc()
}

// RecordMessageDuration observes how long a handler ran.
func RecordMessageDuration(msgType string, d time.Duration) {
	MessageDuration.WithLabelValues(msgType).Observe(d.Seconds())
}
