package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection pipeline metrics for production monitoring
var (
	// Ingestion metrics
	LogsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_logs_processed_total",
			Help: "Total number of log records processed by the stream pipeline",
		},
		[]string{"service", "format"},
	)

	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_parse_errors_total",
			Help: "Total number of log records that failed parsing",
		},
		[]string{"format", "kind"}, // kind: malformed_input/missing_config
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logsentry_batch_duration_seconds",
			Help:    "Stream batch processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	// Detection metrics
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_anomalies_detected_total",
			Help: "Total number of anomalies detected",
		},
		[]string{"service", "cause"}, // cause: rule/model
	)

	// Model metrics
	ModelPredictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsentry_model_predictions_total",
			Help: "Total number of model score evaluations",
		},
	)

	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_training_runs_total",
			Help: "Total number of model training jobs",
		},
		[]string{"status"}, // status: success/failure
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logsentry_training_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// Alerting metrics
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_alerts_triggered_total",
			Help: "Total number of rate alerts emitted by the aggregator",
		},
		[]string{"service"},
	)

	AlertDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_alert_deliveries_total",
			Help: "Total number of alert delivery attempts per sink",
		},
		[]string{"sink", "status"}, // status: ok/retryable/permanent/dropped
	)

	AlertQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsentry_alert_queue_dropped_total",
			Help: "Alert events dropped because the outbound queue was full",
		},
	)

	RequestsThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_requests_throttled_total",
			Help: "Total number of HTTP requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	// Feedback metrics
	FeedbackReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logsentry_feedback_received_total",
			Help: "Total number of labeled feedback entries accepted",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logsentry_websocket_connections",
			Help: "Current number of active WebSocket subscribers",
		},
	)
)
