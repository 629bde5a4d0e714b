// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the collaboration server:
// - WebSocket connection and message throughput
// - Relay permission rejections and protocol errors
// - Store operation latency and commit conflicts
// - API endpoint latency and throughput
// - Audit event pipeline

var (
	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSSessionRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_session_rooms",
			Help: "Current number of session rooms with at least one connection",
		},
	)

	WSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_received_total",
			Help: "Total number of inbound WebSocket messages by type",
		},
		[]string{"type"}, // composition_change, comment, playback_sync, cursor_position, heartbeat
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of outbound WebSocket messages",
		},
	)

	WSBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_broadcasts_total",
			Help: "Total number of session broadcasts by message type",
		},
		[]string{"type"},
	)

	WSSlowConsumerDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_slow_consumer_drops_total",
			Help: "Total number of connections closed because their send buffer filled",
		},
	)

	WSRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_rejections_total",
			Help: "Total number of rejected inbound messages by error code",
		},
		[]string{"code"}, // permission_denied, malformed_message, unknown_type, rate_limited, session_not_active, persistence_failed
	)

	// Store Metrics
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreCommitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_commit_conflicts_total",
			Help: "Total number of transaction commit conflicts that triggered a retry",
		},
	)

	ChangesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "changes_persisted_total",
			Help: "Total number of composition changes written to the change log",
		},
	)

	CommentsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comments_persisted_total",
			Help: "Total number of comments written to the comment log",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Audit Pipeline Metrics
	AuditEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_published_total",
			Help: "Total number of audit events published to the event bus",
		},
		[]string{"type"},
	)

	AuditEventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_processed_total",
			Help: "Total number of audit events persisted by the consumer",
		},
	)

	AuditEventsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_failed_total",
			Help: "Total number of audit events that failed to persist",
		},
	)

	// Auth Metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "result"}, // method: login, register, token; result: success, failure
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordStoreOp observes one store operation's duration.
func RecordStoreOp(operation string, duration time.Duration) {
	StoreOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAPIRequest records a completed API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRejection counts a rejected inbound message by error code.
func RecordRejection(code string) {
	WSRejections.WithLabelValues(code).Inc()
}

// RecordBroadcast counts a session broadcast by message type.
func RecordBroadcast(msgType string) {
	WSBroadcasts.WithLabelValues(msgType).Inc()
}

// RecordAuthAttempt counts an authentication attempt outcome.
func RecordAuthAttempt(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	AuthAttempts.WithLabelValues(method, result).Inc()
}
