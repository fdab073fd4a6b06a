// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package gateway

import "github.com/prometheus/client_golang/prometheus"

// OpenConnections is the number of currently open WebSocket connections.
var OpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "parlor_gateway_open_connections",
	Help: "Number of open WebSocket connections",
})

// ConnectionsAccepted counts upgraded WebSocket connections.
var ConnectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "parlor_gateway_connections_total",
	Help: "Total number of accepted WebSocket connections",
})

// FramesRejected counts inbound messages that were not valid frames.
var FramesRejected = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "parlor_gateway_frames_rejected_total",
	Help: "Total number of malformed inbound frames",
})

// RegisterMetrics registers gateway metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OpenConnections)
	reg.MustRegister(ConnectionsAccepted)
	reg.MustRegister(FramesRejected)
}
