package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for gateway event metrics
	eventProcessingLabels = []string{"event_type", "consumer"}
	// Labels for tracking specific processing actions
	eventActionLabels = []string{"event_type", "consumer", "action", "error_type"}

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_events_received_total",
			Help: "Total number of gateway events received from NATS.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_events_processed_total",
			Help: "Total number of gateway events successfully processed and acknowledged.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_events_failed_total",
			Help: "Total number of gateway events that failed processing (Nak or Term).",
		},
		eventProcessingLabels,
	)
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novendx_event_processing_duration_seconds",
			Help:    "Histogram of gateway event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventProcessingLabels,
	)
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_event_processing_actions_total",
			Help: "Total count of ack/nak/term actions taken after event processing, labeled by error type.",
		},
		eventActionLabels,
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novendx_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// Admission and assignment metrics
var (
	AdmissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_admission_decisions_total",
			Help: "Total outbound admission decisions, labeled by result and deny code.",
		},
		[]string{"result", "code"},
	)
	AssignmentOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_assignment_outcomes_total",
			Help: "Total line assignment attempts, labeled by outcome (assigned, reused, no_line, contention, error).",
		},
		[]string{"outcome"},
	)
	LineBansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "novendx_line_bans_total",
		Help: "Total number of lines marked banned.",
	})
	SweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "novendx_sweep_duration_seconds",
		Help:    "Histogram of assign-all sweep durations.",
		Buckets: prometheus.DefBuckets,
	})
	SweepOperatorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_sweep_operators_total",
			Help: "Operators handled by assign-all sweeps, labeled by result (assigned, skipped).",
		},
		[]string{"result"},
	)
	RateLimitDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "novendx_rate_limit_denied_total",
		Help: "Total number of sends denied by per-line rate windows.",
	})
	ReputationLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_reputation_lookups_total",
			Help: "Reputation oracle lookups, labeled by result (hit, miss, error).",
		},
		[]string{"result"},
	)
	CacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_cache_checks_total",
			Help: "Cache lookups, labeled by cache name and result.",
		},
		[]string{"cache", "result"},
	)
)

// Gateway and notification metrics
var (
	GatewayAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_gateway_attempts_total",
			Help: "Total gateway send attempts, labeled by operation and status.",
		},
		[]string{"operation", "status"},
	)
	GatewayRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novendx_gateway_request_duration_seconds",
			Help:    "Histogram of gateway HTTP request durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novendx_notifications_total",
			Help: "Notifications pushed, labeled by channel and status.",
		},
		[]string{"channel", "status"},
	)
	ConnectedOperators = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "novendx_connected_operators",
		Help: "Operators currently registered in the connection registry.",
	})
)

// Load generator metrics (cmd/tester)
var (
	loadgenLabels = []string{"subject"}

	loadgenMessagesAttemptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_messages_attempted_total",
			Help: "Total number of messages the load generator attempted to publish.",
		},
		loadgenLabels,
	)
	loadgenMessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_messages_published_total",
			Help: "Total number of messages successfully published by the load generator.",
		},
		loadgenLabels,
	)
	loadgenPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_publish_errors_total",
			Help: "Total number of errors encountered by the load generator during publishing.",
		},
		loadgenLabels,
	)
)

// InitMetrics toggles metric collection. Metrics are registered by promauto at init,
// so disabling only stops the helpers from recording.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, consumer string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(sanitizeLabel(eventType), consumer).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, consumer string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(sanitizeLabel(eventType), consumer).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, consumer string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(sanitizeLabel(eventType), consumer).Inc()
}

// ObserveEventProcessingDuration records the processing time for a specific event.
func ObserveEventProcessingDuration(eventType, consumer string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(sanitizeLabel(eventType), consumer).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, consumer, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(sanitizeLabel(eventType), consumer, action, SanitizeErrorType(errorType)).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

// IncAdmissionDecision counts an admission result. code is empty for allowed messages.
func IncAdmissionDecision(allowed bool, code string) {
	if !metricsEnabled {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	AdmissionDecisionsTotal.WithLabelValues(result, sanitizeLabel(code)).Inc()
}

// IncAssignmentOutcome counts a line assignment attempt.
func IncAssignmentOutcome(outcome string) {
	if !metricsEnabled {
		return
	}
	AssignmentOutcomesTotal.WithLabelValues(outcome).Inc()
}

// IncLineBans counts a line transition to banned.
func IncLineBans() {
	if !metricsEnabled {
		return
	}
	LineBansTotal.Inc()
}

// ObserveSweep records an assign-all sweep.
func ObserveSweep(duration time.Duration, assigned, skipped int) {
	if !metricsEnabled {
		return
	}
	SweepDurationSeconds.Observe(duration.Seconds())
	SweepOperatorsTotal.WithLabelValues("assigned").Add(float64(assigned))
	SweepOperatorsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// IncRateLimitDenied counts a rate-limited send.
func IncRateLimitDenied() {
	if !metricsEnabled {
		return
	}
	RateLimitDeniedTotal.Inc()
}

// IncReputationLookup counts a reputation oracle lookup.
func IncReputationLookup(result string) {
	if !metricsEnabled {
		return
	}
	ReputationLookupsTotal.WithLabelValues(result).Inc()
}

// IncCacheCheck counts a cache lookup.
func IncCacheCheck(cache, result string) {
	if !metricsEnabled {
		return
	}
	CacheChecksTotal.WithLabelValues(sanitizeLabel(cache), sanitizeLabel(result)).Inc()
}

// ObserveGatewayAttempt records one gateway HTTP call.
func ObserveGatewayAttempt(operation string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	GatewayAttemptsTotal.WithLabelValues(operation, status).Inc()
	GatewayRequestDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncNotification counts a pushed notification.
func IncNotification(channel string, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	NotificationsTotal.WithLabelValues(channel, status).Inc()
}

// SetConnectedOperators sets the size of the connection registry.
func SetConnectedOperators(n int) {
	if !metricsEnabled {
		return
	}
	ConnectedOperators.Set(float64(n))
}

// sanitizeLabel ensures a label is valid or returns a default value.
func sanitizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "gateway"):
		return "gateway"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

// --- Load Generator Metric Helpers ---

// IncLoadgenMessagesAttempted increments the counter for attempted message publications.
func IncLoadgenMessagesAttempted(subject string) {
	if metricsEnabled {
		loadgenMessagesAttemptedTotal.WithLabelValues(subject).Inc()
	}
}

// IncLoadgenMessagesPublished increments the counter for successfully published messages.
func IncLoadgenMessagesPublished(subject string) {
	if metricsEnabled {
		loadgenMessagesPublishedTotal.WithLabelValues(subject).Inc()
	}
}

// IncLoadgenPublishErrors increments the counter for publishing errors.
func IncLoadgenPublishErrors(subject string) {
	if metricsEnabled {
		loadgenPublishErrorsTotal.WithLabelValues(subject).Inc()
	}
}
