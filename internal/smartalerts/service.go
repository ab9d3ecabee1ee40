// Package smartalerts is the orchestrator of the smart alerts subsystem.
//
// The Service turns metric samples into anomaly detections and smart alerts,
// gates every alert through noise reduction, and runs the background loops
// that retrain models, purge old data, raise predictive alerts and correlate
// open alerts into groups.
package smartalerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/saashqdev/ops-center-sub002/internal/analytics/anomaly"
	"github.com/saashqdev/ops-center-sub002/internal/analytics/forecasting"
	"github.com/saashqdev/ops-center-sub002/internal/audit"
	"github.com/saashqdev/ops-center-sub002/internal/cache"
	"github.com/saashqdev/ops-center-sub002/internal/correlation"
	"github.com/saashqdev/ops-center-sub002/internal/db"
	"github.com/saashqdev/ops-center-sub002/internal/metrics"
	"github.com/saashqdev/ops-center-sub002/internal/models"
	"github.com/saashqdev/ops-center-sub002/internal/noise"
	"github.com/saashqdev/ops-center-sub002/internal/tracing"
)

// Deps are the replaceable collaborators of the service. Nil fields get the
// default implementation.
type Deps struct {
	Predictor forecasting.PredictionEngine
	Noise     noise.NoiseReductionEngine
	Notifier  Notifier
	Audit     audit.Logger
}

// Service is the smart alerts orchestrator.
type Service struct {
	store      db.Store
	cfg        Config
	caches     anomaly.Caches
	topology   *cache.TTL[*models.DeviceTopology]
	detector   *anomaly.Detector
	correlator *correlation.Engine
	predictor  forecasting.PredictionEngine
	noise      noise.NoiseReductionEngine
	notifier   Notifier
	audit      audit.Logger
	logger     *zap.Logger

	queue chan models.MetricSample
	now   func() time.Time
}

// New wires a service over store.
func New(store db.Store, cfg Config, deps Deps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = DefaultConfig().Queue.Capacity
	}

	caches := anomaly.NewCaches(cfg.Detection.CacheSize, cfg.Detection.CacheTTL)
	topology := cache.New[*models.DeviceTopology]("topology", cfg.Correlation.CacheSize, cfg.Correlation.TopologyTTL)

	s := &Service{
		store:      store,
		cfg:        cfg,
		caches:     caches,
		topology:   topology,
		detector:   anomaly.NewDetector(store, store, store, caches, cfg.Detection, logger),
		correlator: correlation.NewEngine(store, topology, cfg.Correlation, logger),
		predictor:  deps.Predictor,
		noise:      deps.Noise,
		notifier:   deps.Notifier,
		audit:      deps.Audit,
		logger:     logger.Named("service"),
		queue:      make(chan models.MetricSample, cfg.Queue.Capacity),
		now:        time.Now,
	}
	if s.predictor == nil {
		s.predictor = forecasting.NewBreaker(
			forecasting.NewPredictor(store, cfg.Prediction, logger), cfg.Breaker, logger)
	}
	if s.noise == nil {
		s.noise = noise.NewSuppressor(cfg.Noise, logger)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(logger)
	}
	if s.audit == nil {
		s.audit = audit.NewNop()
	}
	return s
}

// ProcessMetric runs one sample through detection. It records the sample,
// persists any anomaly and raises a smart alert for error and critical
// anomalies. It never fails: problems are logged and counted, and the sample
// is treated as normal. The persisted detection is returned, or nil.
func (s *Service) ProcessMetric(ctx context.Context, deviceID, metricName string, value float64, ts time.Time) *models.AnomalyDetection {
	ctx, span := tracing.StartSpan(ctx, "smartalerts.ProcessMetric",
		attribute.String("device_id", deviceID), attribute.String("metric", metricName))
	defer span.End()

	metrics.SamplesProcessedTotal.WithLabelValues(metricName).Inc()
	if ts.IsZero() {
		ts = s.now()
	}

	s.call(ctx, "record_sample", func(ctx context.Context) error {
		return s.store.AppendSample(ctx, &models.MetricSample{
			DeviceID: deviceID, MetricName: metricName, Value: value, Timestamp: ts,
		})
	})
	s.call(ctx, "touch_device", func(ctx context.Context) error {
		return s.store.TouchDevice(ctx, deviceID, ts)
	})

	result := s.detector.Detect(ctx, deviceID, metricName, value, ts)
	if result == nil {
		return nil
	}
	metrics.AnomaliesDetectedTotal.WithLabelValues(string(result.ModelType), string(result.Severity)).Inc()

	det := models.NewDetection(deviceID, metricName, value, ts, result)
	if !s.call(ctx, "save_detection", func(ctx context.Context) error {
		return s.store.SaveDetection(ctx, det)
	}) {
		return nil
	}
	_ = s.audit.Log(ctx, audit.NewEvent(audit.EventAnomalyDetected).
		WithDevice(deviceID).
		WithResource(det.ID, "anomaly_detection").
		WithMetadata("metric_name", metricName).
		WithMetadata("severity", string(det.Severity)).
		WithMetadata("anomaly_score", det.AnomalyScore).
		WithMetadata("model_type", string(det.ModelType)))

	if det.Severity.AtLeast(models.SeverityError) {
		if _, _, err := s.createSmartAlert(ctx, det); err != nil {
			metrics.DetectionErrorsTotal.WithLabelValues("create_alert").Inc()
			s.logger.Warn("failed to create smart alert",
				zap.String("device_id", deviceID),
				zap.String("metric", metricName),
				zap.String("anomaly_id", det.ID),
				zap.Error(err),
			)
		}
	}
	return det
}

// call runs fn under the per-call timeout and swallows its error.
func (s *Service) call(ctx context.Context, stage string, fn func(ctx context.Context) error) bool {
	if t := s.cfg.Detection.CallTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	if err := fn(ctx); err != nil {
		metrics.DetectionErrorsTotal.WithLabelValues(stage).Inc()
		s.logger.Warn("live path call failed", zap.String("stage", stage), zap.Error(err))
		return false
	}
	return true
}

// createSmartAlert raises the alert of a persisted detection. It is a no-op
// when the detection already has one; created reports whether a row was
// written by this call.
func (s *Service) createSmartAlert(ctx context.Context, det *models.AnomalyDetection) (alert *models.Alert, created bool, err error) {
	existing, err := s.store.AlertByAnomaly(ctx, det.ID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, db.ErrNotFound):
		return nil, false, fmt.Errorf("lookup alert for anomaly %s: %w", det.ID, err)
	}

	alert = &models.Alert{
		DeviceID:      det.DeviceID,
		AlertType:     models.AlertTypeAnomaly,
		MetricName:    det.MetricName,
		Category:      models.CategoryForMetric(det.MetricName),
		Severity:      det.Severity,
		Title:         fmt.Sprintf("Anomaly detected: %s on %s", det.MetricName, det.DeviceID),
		Message:       anomalyMessage(det),
		Status:        models.AlertStatusOpen,
		IsSmartAlert:  true,
		AnomalyID:     det.ID,
		PriorityScore: PriorityScore(det.Severity, det.AnomalyScore, det.Confidence, det.MetricName),
		MLConfidence:  det.Confidence,
		CreatedAt:     s.now().UTC(),
		Metadata: map[string]any{
			models.MetadataMetricName: det.MetricName,
			"metric_value":            det.MetricValue,
			"expected_value":          det.ExpectedValue,
			"expected_min":            det.ExpectedMin,
			"expected_max":            det.ExpectedMax,
			"anomaly_score":           det.AnomalyScore,
			"model_type":              string(det.ModelType),
		},
	}

	created, err = s.raise(ctx, alert)
	if err != nil || !created {
		return alert, created, err
	}
	if err := s.store.LinkDetectionAlert(ctx, det.ID, alert.ID); err != nil {
		s.logger.Warn("failed to link detection to alert",
			zap.String("anomaly_id", det.ID), zap.String("alert_id", alert.ID), zap.Error(err))
	}
	det.AlertID = alert.ID
	return alert, true, nil
}

// raise runs the noise gate, writes the alert and notifies when it is
// actionable. Suppressed alerts are written with a noise score of 1.
func (s *Service) raise(ctx context.Context, a *models.Alert) (bool, error) {
	suppress, reason, err := s.noise.ShouldSuppressAlert(ctx, a.DeviceID, a.AlertType, a.Message, a.Severity)
	if err != nil {
		s.logger.Warn("noise gate failed, alert kept",
			zap.String("device_id", a.DeviceID), zap.Error(err))
		suppress = false
	}
	if suppress {
		a.Suppressed = true
		a.SuppressionReason = reason
		a.NoiseScore = 1.0
	}

	created, err := s.store.CreateAlert(ctx, a)
	if err != nil {
		return false, fmt.Errorf("create alert: %w", err)
	}
	if !created {
		return false, nil
	}

	if a.Suppressed {
		metrics.AlertsSuppressedTotal.WithLabelValues(a.AlertType, a.SuppressionReason).Inc()
	} else {
		metrics.AlertsCreatedTotal.WithLabelValues(a.AlertType, string(a.Severity)).Inc()
	}
	_ = s.audit.LogAlertCreated(ctx, a)

	if !a.Suppressed {
		if err := s.notifier.Notify(ctx, a); err != nil {
			metrics.NotificationsFailedTotal.Inc()
			s.logger.Warn("notification failed", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
	return true, nil
}

func anomalyMessage(det *models.AnomalyDetection) string {
	return fmt.Sprintf(
		"%s on device %s is %.2f, expected %.2f (normal range %.2f to %.2f). "+
			"Anomaly score %.2f, confidence %.0f%%, detected by the %s detector.",
		det.MetricName, det.DeviceID, det.MetricValue, det.ExpectedValue,
		det.ExpectedMin, det.ExpectedMax, det.AnomalyScore, det.Confidence*100, det.ModelType,
	)
}

var severityPriority = map[models.Severity]float64{
	models.SeverityCritical: 30,
	models.SeverityError:    25,
	models.SeverityWarning:  20,
	models.SeverityInfo:     10,
}

// PriorityScore ranks an anomaly alert in [0, 100].
func PriorityScore(severity models.Severity, anomalyScore, confidence float64, metricName string) float64 {
	p := severityPriority[severity] + anomalyScore*30 + confidence*20 + metricCriticality(metricName)
	return math.Min(100, p)
}

func metricCriticality(metricName string) float64 {
	switch {
	case metricName == "cpu_usage" || metricName == "memory_usage" || metricName == "disk_usage":
		return 20
	case strings.Contains(metricName, "error") || strings.Contains(metricName, "latency"):
		return 15
	default:
		return 10
	}
}

// MarkFalsePositive flags a detection as a false positive and closes its
// alert with a noise score of 1.
func (s *Service) MarkFalsePositive(ctx context.Context, detectionID string) error {
	det, err := s.store.GetDetection(ctx, detectionID)
	if err != nil {
		return fmt.Errorf("get detection %s: %w", detectionID, err)
	}
	if err := s.store.MarkDetectionFalsePositive(ctx, detectionID); err != nil {
		return err
	}

	alertID := det.AlertID
	if alertID == "" {
		if a, err := s.store.AlertByAnomaly(ctx, detectionID); err == nil {
			alertID = a.ID
		} else if !errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("lookup alert for anomaly %s: %w", detectionID, err)
		}
	}
	if alertID != "" {
		if err := s.store.CloseAlert(ctx, alertID, s.now().UTC(), 1.0); err != nil {
			return fmt.Errorf("close alert %s: %w", alertID, err)
		}
	}

	metrics.FalsePositivesTotal.Inc()
	_ = s.audit.LogFalsePositive(ctx, detectionID, alertID)
	s.logger.Info("detection marked as false positive",
		zap.String("anomaly_id", detectionID), zap.String("alert_id", alertID))
	return nil
}

// TrainModel retrains one (device, metric) pair. Insufficient history is
// reported as anomaly.ErrInsufficientData.
func (s *Service) TrainModel(ctx context.Context, deviceID, metricName string) (*models.TrainedModel, error) {
	start := time.Now()
	m, err := s.detector.Train(ctx, anomaly.TrainRequest{DeviceID: deviceID, MetricName: metricName})
	if err != nil {
		return nil, err
	}
	_ = s.audit.LogModelTrained(ctx, m, time.Since(start))
	return m, nil
}

// TrainAll runs a full training sweep.
func (s *Service) TrainAll(ctx context.Context) (anomaly.TrainingReport, error) {
	report, err := s.detector.TrainAll(ctx)
	_ = s.audit.LogTrainingSweep(ctx, report.Trained, report.Skipped, report.Failed, report.Duration)
	return report, err
}

// Correlate runs one correlation sweep over the window and reports the
// high-impact groups.
func (s *Service) Correlate(ctx context.Context, window time.Duration) ([]*models.AlertCorrelation, error) {
	groups, err := s.correlator.CorrelateAlerts(ctx, window)
	for _, g := range groups {
		_ = s.audit.LogCorrelationGroup(ctx, g)
		if g.ImpactScore >= s.cfg.Correl.HighImpactThreshold {
			metrics.HighImpactGroupsTotal.Inc()
			s.logger.Warn("high impact alert correlation",
				zap.String("group_id", g.CorrelationGroupID),
				zap.String("type", string(g.CorrelationType)),
				zap.Int("alerts", len(g.AlertIDs)),
				zap.String("root_cause_alert_id", g.RootCauseAlertID),
				zap.Float64("impact_score", g.ImpactScore),
			)
		}
	}
	return groups, err
}

// Cleanup purges detections and samples past retention and prunes old model
// versions. Every step runs even when an earlier one fails.
func (s *Service) Cleanup(ctx context.Context) error {
	now := s.now()
	var errs error

	detections, err := s.store.PurgeDetections(ctx, now.Add(-s.cfg.Cleanup.DetectionRetention))
	errs = multierr.Append(errs, err)

	var samples int64
	if s.cfg.Cleanup.SampleRetention > 0 {
		samples, err = s.store.PurgeSamples(ctx, now.Add(-s.cfg.Cleanup.SampleRetention))
		errs = multierr.Append(errs, err)
	}

	pruned, err := s.store.PruneModels(ctx, s.cfg.Cleanup.KeepModelVersions)
	errs = multierr.Append(errs, err)

	_ = s.audit.LogRetention(ctx, detections, samples, pruned)
	s.logger.Info("cleanup finished",
		zap.Int64("detections", detections),
		zap.Int64("samples", samples),
		zap.Int64("model_versions", pruned),
		zap.Error(errs),
	)
	return errs
}

// Alerts queries stored alerts.
func (s *Service) Alerts(ctx context.Context, q db.AlertQuery) ([]*models.Alert, error) {
	return s.store.QueryAlerts(ctx, q)
}

// Detections queries stored anomaly detections.
func (s *Service) Detections(ctx context.Context, q db.DetectionQuery) ([]*models.AnomalyDetection, error) {
	return s.store.QueryDetections(ctx, q)
}

// Correlations queries stored correlation groups.
func (s *Service) Correlations(ctx context.Context, q db.CorrelationQuery) ([]*models.AlertCorrelation, error) {
	return s.store.QueryCorrelations(ctx, q)
}

// AnomalySummary aggregates the detections made since the given instant.
func (s *Service) AnomalySummary(ctx context.Context, since time.Time) (*models.AnomalySummary, error) {
	return s.store.AnomalySummary(ctx, since)
}

// InvalidateModel drops the cached model and baseline of a pair.
func (s *Service) InvalidateModel(deviceID, metricName string) {
	s.caches.Invalidate(deviceID, metricName)
}
