// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package protocol

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status labels for event metrics.
const (
	StatusSuccess   = "success"
	StatusRejected  = "rejected"
	StatusInvalid   = "invalid"
	StatusError     = "error"
	StatusAbandoned = "abandoned"
	StatusPanic     = "panic"
)

// eventLabelUnknown replaces unrecognized event names so clients cannot grow
// label cardinality.
const eventLabelUnknown = "unknown"

// EventsHandled counts processed inbound events.
// Use RegisterMetrics to register this with a Prometheus registry.
var EventsHandled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "parlor_protocol_events_total",
		Help: "Total number of inbound protocol events handled",
	},
	[]string{"event", "status"},
)

// EventDuration observes how long each inbound event took to handle.
var EventDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "parlor_protocol_event_duration_seconds",
		Help:    "Inbound protocol event handling duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"event"},
)

// RegisterMetrics registers protocol metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EventsHandled)
	reg.MustRegister(EventDuration)
}

func recordEvent(event, status string, d time.Duration) {
	EventsHandled.WithLabelValues(event, status).Inc()
	EventDuration.WithLabelValues(event).Observe(d.Seconds())
}

func metricLabel(event string) string {
	switch event {
	case EventLogin, EventRegister, EventCheckUsernameExists, EventCheckIfUserExists, EventHello:
		return event
	default:
		return eventLabelUnknown
	}
}
