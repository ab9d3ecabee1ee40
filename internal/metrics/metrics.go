package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Smart alerts metrics for production monitoring
var (
	// Ingest metrics
	SamplesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_samples_processed_total",
			Help: "Total number of metric samples run through anomaly detection",
		},
		[]string{"metric"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartalerts_queue_depth",
			Help: "Number of metric samples waiting in the ingest queue",
		},
	)

	QueueRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartalerts_queue_rejected_total",
			Help: "Total number of samples rejected because the ingest queue was full",
		},
	)

	// Detection metrics
	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_anomalies_detected_total",
			Help: "Total number of anomalies detected",
		},
		[]string{"model_type", "severity"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartalerts_detection_duration_seconds",
			Help:    "Time spent deciding whether a single sample is anomalous",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	DetectionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_detection_errors_total",
			Help: "Errors swallowed on the live detection path",
		},
		[]string{"stage"},
	)

	// Alert metrics
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_alerts_created_total",
			Help: "Total number of smart alerts written",
		},
		[]string{"type", "severity"},
	)

	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_alerts_suppressed_total",
			Help: "Total number of alerts recorded as suppressed noise",
		},
		[]string{"type", "reason"},
	)

	NotificationsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartalerts_notifications_failed_total",
			Help: "Total number of failed alert notifications",
		},
	)

	FalsePositivesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartalerts_false_positives_total",
			Help: "Total number of detections marked as false positives",
		},
	)

	// Training metrics
	TrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_training_runs_total",
			Help: "Model training attempts by outcome",
		},
		[]string{"outcome"}, // trained, skipped, failed
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartalerts_training_duration_seconds",
			Help:    "Duration of a single (device, metric) model fit",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// Correlation metrics
	CorrelationGroupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_correlation_groups_total",
			Help: "Total number of correlation groups emitted",
		},
		[]string{"type"},
	)

	HighImpactGroupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartalerts_high_impact_groups_total",
			Help: "Total number of correlation groups at or above the high impact threshold",
		},
	)

	// Prediction metrics
	PredictiveAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_predictive_alerts_total",
			Help: "Total number of predictive alerts created",
		},
		[]string{"kind", "severity"}, // kind: threshold_crossing, resource_exhaustion
	)

	// Loop metrics
	LoopIterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_loop_iterations_total",
			Help: "Background loop iterations by outcome",
		},
		[]string{"loop", "outcome"}, // outcome: ok, error, panic
	)

	LoopDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartalerts_loop_duration_seconds",
			Help:    "Background loop iteration duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		},
		[]string{"loop"},
	)

	// Cache metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_cache_hits_total",
			Help: "Cache hits by cache name",
		},
		[]string{"cache"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartalerts_cache_misses_total",
			Help: "Cache misses by cache name",
		},
		[]string{"cache"},
	)

	// Collaborator metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smartalerts_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
