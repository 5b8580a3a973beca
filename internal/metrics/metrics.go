/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package metrics provides Prometheus-compatible metrics for FlyCoord.

METRIC CATEGORIES:
==================
- Markers: queued, sent, acked, purged
- Requests: generated, send errors
- Attempts: started, completed, timed out, cancelled
- Queues: unknown-destination depth, broker queue count

PROMETHEUS ENDPOINT:
====================
Metrics are exposed at /metrics in Prometheus text format.

EXAMPLE METRICS:
================

	flycoord_markers_queued_total 12345
	flycoord_markers_acked_total 12340
	flycoord_attempts_timed_out_total 2
	flycoord_unknown_queue_depth 3
*/
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"flycoord/internal/config"
	"flycoord/internal/logging"
)

// Metrics holds all FlyCoord metrics.
type Metrics struct {
	// Marker metrics
	MarkersQueued atomic.Uint64
	MarkersSent   atomic.Uint64
	MarkersAcked  atomic.Uint64
	MarkersPurged atomic.Uint64

	// Request metrics
	RequestsGenerated atomic.Uint64
	SendErrors        atomic.Uint64

	// Attempt metrics
	AttemptsStarted   atomic.Uint64
	AttemptsCompleted atomic.Uint64
	AttemptsTimedOut  atomic.Uint64
	AttemptsCancelled atomic.Uint64

	// Queue gauges
	UnknownQueueDepth atomic.Int64
	BrokerQueueCount  atomic.Int64

	// Send latency (in microseconds)
	SendLatencySum   atomic.Uint64
	SendLatencyCount atomic.Uint64
}

// Global metrics instance
var globalMetrics = &Metrics{}

// Get returns the global metrics instance.
func Get() *Metrics {
	return globalMetrics
}

// RecordSend records a completed marker request send.
func (m *Metrics) RecordSend(markers int, latency time.Duration) {
	m.MarkersSent.Add(uint64(markers))
	m.SendLatencySum.Add(uint64(latency.Microseconds()))
	m.SendLatencyCount.Add(1)
}

// AverageSendLatency returns the average send latency in microseconds.
func (m *Metrics) AverageSendLatency() float64 {
	count := m.SendLatencyCount.Load()
	if count == 0 {
		return 0
	}
	return float64(m.SendLatencySum.Load()) / float64(count)
}

// Server provides an HTTP server for Prometheus metrics.
type Server struct {
	config *config.MetricsConfig
	server *http.Server
	logger *logging.Logger
}

// NewServer creates a new metrics server.
func NewServer(cfg *config.MetricsConfig) *Server {
	return &Server{
		config: cfg,
		logger: logging.NewLogger("metrics"),
	}
}

// Start starts the metrics HTTP server.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)

	s.server = &http.Server{
		Addr:    s.config.Addr,
		Handler: mux,
	}

	go func() {
		s.logger.Info("Starting metrics server", "addr", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping metrics server")
	return s.server.Shutdown(ctx)
}

// handleMetrics handles the /metrics endpoint in Prometheus format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := Get()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	// Marker metrics
	fmt.Fprintf(w, "# HELP flycoord_markers_queued_total Total markers enqueued for dispatch\n")
	fmt.Fprintf(w, "# TYPE flycoord_markers_queued_total counter\n")
	fmt.Fprintf(w, "flycoord_markers_queued_total %d\n", m.MarkersQueued.Load())

	fmt.Fprintf(w, "# HELP flycoord_markers_sent_total Total markers handed to the transport\n")
	fmt.Fprintf(w, "# TYPE flycoord_markers_sent_total counter\n")
	fmt.Fprintf(w, "flycoord_markers_sent_total %d\n", m.MarkersSent.Load())

	fmt.Fprintf(w, "# HELP flycoord_markers_acked_total Total marker acks received\n")
	fmt.Fprintf(w, "# TYPE flycoord_markers_acked_total counter\n")
	fmt.Fprintf(w, "flycoord_markers_acked_total %d\n", m.MarkersAcked.Load())

	fmt.Fprintf(w, "# HELP flycoord_markers_purged_total Total markers purged by partition emigration\n")
	fmt.Fprintf(w, "# TYPE flycoord_markers_purged_total counter\n")
	fmt.Fprintf(w, "flycoord_markers_purged_total %d\n", m.MarkersPurged.Load())

	// Request metrics
	fmt.Fprintf(w, "# HELP flycoord_requests_generated_total Total batched marker requests generated\n")
	fmt.Fprintf(w, "# TYPE flycoord_requests_generated_total counter\n")
	fmt.Fprintf(w, "flycoord_requests_generated_total %d\n", m.RequestsGenerated.Load())

	fmt.Fprintf(w, "# HELP flycoord_send_errors_total Total marker request send failures\n")
	fmt.Fprintf(w, "# TYPE flycoord_send_errors_total counter\n")
	fmt.Fprintf(w, "flycoord_send_errors_total %d\n", m.SendErrors.Load())

	fmt.Fprintf(w, "# HELP flycoord_send_latency_avg_microseconds Average marker request send latency\n")
	fmt.Fprintf(w, "# TYPE flycoord_send_latency_avg_microseconds gauge\n")
	fmt.Fprintf(w, "flycoord_send_latency_avg_microseconds %.2f\n", m.AverageSendLatency())

	// Attempt metrics
	fmt.Fprintf(w, "# HELP flycoord_attempts_started_total Transaction attempts registered\n")
	fmt.Fprintf(w, "# TYPE flycoord_attempts_started_total counter\n")
	fmt.Fprintf(w, "flycoord_attempts_started_total %d\n", m.AttemptsStarted.Load())

	fmt.Fprintf(w, "# HELP flycoord_attempts_completed_total Transaction attempts fully acked\n")
	fmt.Fprintf(w, "# TYPE flycoord_attempts_completed_total counter\n")
	fmt.Fprintf(w, "flycoord_attempts_completed_total %d\n", m.AttemptsCompleted.Load())

	fmt.Fprintf(w, "# HELP flycoord_attempts_timed_out_total Transaction attempts that timed out\n")
	fmt.Fprintf(w, "# TYPE flycoord_attempts_timed_out_total counter\n")
	fmt.Fprintf(w, "flycoord_attempts_timed_out_total %d\n", m.AttemptsTimedOut.Load())

	fmt.Fprintf(w, "# HELP flycoord_attempts_cancelled_total Transaction attempts cancelled by emigration\n")
	fmt.Fprintf(w, "# TYPE flycoord_attempts_cancelled_total counter\n")
	fmt.Fprintf(w, "flycoord_attempts_cancelled_total %d\n", m.AttemptsCancelled.Load())

	// Queue gauges
	fmt.Fprintf(w, "# HELP flycoord_unknown_queue_depth Markers waiting for leader resolution\n")
	fmt.Fprintf(w, "# TYPE flycoord_unknown_queue_depth gauge\n")
	fmt.Fprintf(w, "flycoord_unknown_queue_depth %d\n", m.UnknownQueueDepth.Load())

	fmt.Fprintf(w, "# HELP flycoord_broker_queue_count Broker destination queues created\n")
	fmt.Fprintf(w, "# TYPE flycoord_broker_queue_count gauge\n")
	fmt.Fprintf(w, "flycoord_broker_queue_count %d\n", m.BrokerQueueCount.Load())
}
