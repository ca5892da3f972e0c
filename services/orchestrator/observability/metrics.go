// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for the customer care chat
// pipeline. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Token usage (prompt/answer tokens by model)
//   - Latency histograms (time to first token, stream duration, stage latency)
//   - Pipeline outcomes (topics, retrieved chunks, self-query fallbacks)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every recording method is a no-op on a nil *Metrics, so components may be
// constructed without metrics in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "aleutiancare"

const (
	streamingSubsystem = "streaming"
	pipelineSubsystem  = "pipeline"
	ingestSubsystem    = "ingest"
)

// Metrics holds all Prometheus metrics of the orchestrator.
//
// # Description
//
// Initialize once at startup via InitMetrics(), or via NewMetrics with a
// private registry in tests.
type Metrics struct {
	// RequestsTotal counts chat requests by endpoint and status.
	// Labels: endpoint (chat_stream, chat_text, chat_ws), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts tokens by direction and model.
	// Labels: direction (prompt, answer), model
	TokensTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first answer token.
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streams.
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by endpoint and error code.
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive comments sent on SSE streams.
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts clients that left mid-stream.
	ClientDisconnectsTotal *prometheus.CounterVec

	// TopicsTotal counts classified topics.
	// Labels: topic, fallback (true when the classifier degraded to unclassified)
	TopicsTotal *prometheus.CounterVec

	// RetrievedChunks observes the number of chunks a retrieval branch returned.
	// Labels: branch
	RetrievedChunks *prometheus.HistogramVec

	// SelfQueryFallbacksTotal counts self-query retrievals that ran without
	// an extracted predicate.
	// Labels: reason (none, extraction_failed)
	SelfQueryFallbacksTotal *prometheus.CounterVec

	// StageDurationSeconds measures the latency of each pipeline stage.
	// Labels: stage (rewrite, classify, retrieve, generate), status
	StageDurationSeconds *prometheus.HistogramVec

	// IngestedChunksTotal counts chunks written by document ingestion.
	// Labels: type
	IngestedChunksTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of Metrics.
// Initialized by InitMetrics().
var DefaultMetrics *Metrics

// InitMetrics creates the metrics on the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates and registers every metric on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens by direction and model",
			},
			[]string{"direction", "model"},
		),

		TimeToFirstTokenSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first answer token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streams",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total chat errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		TopicsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "topics_total",
				Help:      "Classified topics by label and fallback",
			},
			[]string{"topic", "fallback"},
		),

		RetrievedChunks: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "retrieved_chunks",
				Help:      "Chunks returned per retrieval branch",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 40},
			},
			[]string{"branch"},
		),

		SelfQueryFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "self_query_fallbacks_total",
				Help:      "Self-query retrievals run without an extracted filter, by reason",
			},
			[]string{"reason"},
		),

		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage", "status"},
		),

		IngestedChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "chunks_total",
				Help:      "Knowledge chunks stored by document type",
			},
			[]string{"type"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeRewrite          ErrorCode = "rewrite"
	ErrorCodeRetrieval        ErrorCode = "retrieval"
	ErrorCodeGeneration       ErrorCode = "generation"
	ErrorCodeTimeout          ErrorCode = "timeout"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
	ErrorCodeRateLimited      ErrorCode = "rate_limited"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a chat endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatStream is the SSE chat endpoint.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointChatText is the plain streamed text endpoint.
	EndpointChatText Endpoint = "chat_text"

	// EndpointChatWS is the websocket chat endpoint.
	EndpointChatWS Endpoint = "chat_ws"

	// EndpointDocuments is the knowledge ingestion endpoint.
	EndpointDocuments Endpoint = "documents"
)

// Self-query fallback reasons.
const (
	FallbackReasonNone             = "none"
	FallbackReasonExtractionFailed = "extraction_failed"
)

// =============================================================================
// Helper Methods
// =============================================================================

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed chat request.
func (m *Metrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records a chat error.
func (m *Metrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordTokens records prompt and answer token usage.
func (m *Metrics) RecordTokens(promptTokens, answerTokens int, model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("prompt", model).Add(float64(promptTokens))
	m.TokensTotal.WithLabelValues("answer", model).Add(float64(answerTokens))
}

// StreamStarted increments the active streams gauge.
func (m *Metrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *Metrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records the time to first token latency.
func (m *Metrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *Metrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordKeepAlive increments the keepalive counter.
func (m *Metrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *Metrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordTopic records the topic chosen for a turn.
func (m *Metrics) RecordTopic(topic string, fallback bool) {
	if m == nil {
		return
	}
	fb := "false"
	if fallback {
		fb = "true"
	}
	m.TopicsTotal.WithLabelValues(topic, fb).Inc()
}

// RecordRetrieved records how many chunks a branch returned.
func (m *Metrics) RecordRetrieved(branch string, chunks int) {
	if m == nil {
		return
	}
	m.RetrievedChunks.WithLabelValues(branch).Observe(float64(chunks))
}

// RecordSelfQueryFallback records a self-query run without an extracted filter.
func (m *Metrics) RecordSelfQueryFallback(reason string) {
	if m == nil {
		return
	}
	m.SelfQueryFallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(stage string, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage, statusLabel(success)).Observe(seconds)
}

// RecordIngested records stored chunks for one document type.
func (m *Metrics) RecordIngested(docType string, chunks int) {
	if m == nil {
		return
	}
	m.IngestedChunksTotal.WithLabelValues(docType).Add(float64(chunks))
}
