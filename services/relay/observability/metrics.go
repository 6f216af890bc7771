// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the relay.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the answer
// stream relay and the broker bridge. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Relayed byte and forwarded frame counters
//   - Latency histograms (time to first byte, total stream duration)
//   - Active stream and active bridge gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "tidewater"

// Subsystem for relay metrics
const relaySubsystem = "relay"

// RelayMetrics holds all Prometheus metrics for relay operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring stream relaying
// and broker bridging. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type RelayMetrics struct {
	// RequestsTotal counts relay requests by endpoint and status.
	// Labels: endpoint (ask_stream, broker_bridge, health), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// BytesRelayedTotal counts bytes pumped from upstream to clients.
	// Labels: endpoint
	BytesRelayedTotal *prometheus.CounterVec

	// FramesForwardedTotal counts WebSocket frames crossing the bridge.
	// Labels: direction (client_to_broker, broker_to_client)
	FramesForwardedTotal *prometheus.CounterVec

	// TimeToFirstByteSeconds measures latency to the first relayed byte.
	// Labels: endpoint
	TimeToFirstByteSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active relayed streams.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ActiveBridges tracks currently bridged WebSocket connections.
	ActiveBridges prometheus.Gauge

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of RelayMetrics.
// Initialized by InitMetrics(). Handlers nil-check it so unit tests can
// run without registering collectors.
var DefaultMetrics *RelayMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup.
//
// # Outputs
//
//   - *RelayMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *RelayMetrics {
	DefaultMetrics = &RelayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "requests_total",
				Help:      "Total relay requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		BytesRelayedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "bytes_relayed_total",
				Help:      "Total bytes pumped from upstream to clients",
			},
			[]string{"endpoint"},
		),

		FramesForwardedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "frames_forwarded_total",
				Help:      "Total WebSocket frames forwarded across the bridge",
			},
			[]string{"direction"},
		),

		TimeToFirstByteSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "time_to_first_byte_seconds",
				Help:      "Time from request to first relayed byte in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active relayed streams",
			},
			[]string{"endpoint"},
		),

		ActiveBridges: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "active_bridges",
				Help:      "Number of currently bridged WebSocket connections",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "errors_total",
				Help:      "Total relay errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during relaying",
			},
			[]string{"endpoint"},
		),
	}

	return DefaultMetrics
}

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeUpstreamError indicates the upstream rejected the call.
	ErrorCodeUpstreamError ErrorCode = "upstream_error"

	// ErrorCodeUpstreamUnreachable indicates a network-level upstream failure.
	ErrorCodeUpstreamUnreachable ErrorCode = "upstream_unreachable"

	// ErrorCodeBridgeDial indicates the internal broker target was unreachable.
	ErrorCodeBridgeDial ErrorCode = "bridge_dial"

	// ErrorCodeClientDisconnect indicates the client went away mid-stream.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"
)

// Endpoint represents a relay endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointAskStream is the answer stream relay endpoint.
	EndpointAskStream Endpoint = "ask_stream"

	// EndpointBrokerBridge is the status channel bridge endpoint.
	EndpointBrokerBridge Endpoint = "broker_bridge"

	// EndpointHealth is the proxied health check endpoint.
	EndpointHealth Endpoint = "health"
)

// Bridge pump directions for FramesForwardedTotal.
const (
	DirectionClientToBroker = "client_to_broker"
	DirectionBrokerToClient = "broker_to_client"
)

// RecordRequest records a completed request.
func (m *RelayMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records an error occurrence.
func (m *RelayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordBytesRelayed adds to the relayed byte counter.
func (m *RelayMetrics) RecordBytesRelayed(endpoint Endpoint, n int) {
	m.BytesRelayedTotal.WithLabelValues(string(endpoint)).Add(float64(n))
}

// RecordFrameForwarded counts one bridged frame in the given direction.
func (m *RelayMetrics) RecordFrameForwarded(direction string) {
	m.FramesForwardedTotal.WithLabelValues(direction).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *RelayMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *RelayMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// BridgeOpened increments the active bridges gauge.
func (m *RelayMetrics) BridgeOpened() {
	m.ActiveBridges.Inc()
}

// BridgeClosed decrements the active bridges gauge.
func (m *RelayMetrics) BridgeClosed() {
	m.ActiveBridges.Dec()
}

// RecordTimeToFirstByte records the latency to the first relayed byte.
func (m *RelayMetrics) RecordTimeToFirstByte(endpoint Endpoint, seconds float64) {
	m.TimeToFirstByteSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *RelayMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *RelayMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
