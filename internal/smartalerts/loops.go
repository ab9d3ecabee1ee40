package smartalerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saashqdev/ops-center-sub002/internal/analytics/forecasting"
	"github.com/saashqdev/ops-center-sub002/internal/db"
	"github.com/saashqdev/ops-center-sub002/internal/metrics"
	"github.com/saashqdev/ops-center-sub002/internal/models"
	"github.com/saashqdev/ops-center-sub002/internal/supervisor"
)

// Loop names, as reported in metrics and supervisor status.
const (
	LoopMetrics     = "metrics"
	LoopTraining    = "training"
	LoopCleanup     = "cleanup"
	LoopPrediction  = "prediction"
	LoopCorrelation = "correlation"
)

// Predictive alert kinds.
const (
	KindThresholdCrossing  = "threshold_crossing"
	KindResourceExhaustion = "resource_exhaustion"
)

// Tasks returns the five background loops.
func (s *Service) Tasks() []supervisor.Task {
	l := s.cfg.Loops
	trainingTimeout := l.TrainingTimeout
	if trainingTimeout == 0 {
		trainingTimeout = l.IterationTimeout
	}
	return []supervisor.Task{
		{
			Name:     LoopMetrics,
			Interval: l.MetricsInterval,
			Timeout:  l.IterationTimeout,
			Run: func(ctx context.Context) error {
				s.drainAll(ctx)
				return nil
			},
		},
		{
			Name:         LoopTraining,
			InitialDelay: l.TrainingDelay,
			Interval:     l.TrainingInterval,
			ErrorBackoff: l.TrainingBackoff,
			Timeout:      trainingTimeout,
			Run: func(ctx context.Context) error {
				_, err := s.TrainAll(ctx)
				return err
			},
		},
		{
			Name:         LoopCleanup,
			InitialDelay: l.CleanupDelay,
			Interval:     l.CleanupInterval,
			ErrorBackoff: l.CleanupBackoff,
			Timeout:      l.IterationTimeout,
			Run:          s.Cleanup,
		},
		{
			Name:         LoopPrediction,
			InitialDelay: l.PredictionDelay,
			Interval:     l.PredictionInterval,
			ErrorBackoff: l.PredictionBackoff,
			Timeout:      l.IterationTimeout,
			Run:          s.RunPredictions,
		},
		{
			Name:         LoopCorrelation,
			InitialDelay: l.CorrelationDelay,
			Interval:     l.CorrelationInterval,
			ErrorBackoff: l.CorrelationBackoff,
			Timeout:      l.IterationTimeout,
			Run: func(ctx context.Context) error {
				_, err := s.Correlate(ctx, s.cfg.Correl.Window)
				return err
			},
		},
	}
}

// Register adds the background loops to sup.
func (s *Service) Register(sup *supervisor.Supervisor) {
	for _, t := range s.Tasks() {
		sup.Add(t)
	}
}

// RunPredictions raises predictive alerts for the active devices. A device
// whose prediction fails is logged and skipped; only a failure to list
// devices fails the sweep.
func (s *Service) RunPredictions(ctx context.Context) error {
	devices, err := s.store.ListDevices(ctx, true, s.cfg.Predict.MaxDevices)
	if err != nil {
		return fmt.Errorf("list active devices: %w", err)
	}

	raised, failed := 0, 0
	for _, dev := range devices {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.predictDevice(ctx, dev.DeviceID)
		raised += n
		switch {
		case err == nil:
		case errors.Is(err, forecasting.ErrCircuitOpen):
			s.logger.Debug("prediction skipped, circuit open", zap.String("device_id", dev.DeviceID))
		default:
			failed++
			s.logger.Warn("prediction failed", zap.String("device_id", dev.DeviceID), zap.Error(err))
		}
	}

	s.logger.Info("prediction sweep finished",
		zap.Int("devices", len(devices)),
		zap.Int("alerts", raised),
		zap.Int("failed", failed),
	)
	return nil
}

func (s *Service) predictDevice(ctx context.Context, deviceID string) (int, error) {
	raised := 0

	warnings, err := s.predictor.DetectResourceExhaustion(ctx, deviceID)
	if err != nil {
		if len(warnings) == 0 {
			return 0, fmt.Errorf("resource exhaustion: %w", err)
		}
		s.logger.Warn("resource exhaustion check incomplete", zap.String("device_id", deviceID), zap.Error(err))
	}
	for _, w := range warnings {
		if !w.Severity.AtLeast(models.SeverityError) {
			continue
		}
		ok, rerr := s.raiseExhaustion(ctx, deviceID, w)
		if rerr != nil {
			return raised, rerr
		}
		if ok {
			raised++
		}
	}

	for _, metric := range s.cfg.Predict.Metrics {
		preds, err := s.predictor.PredictMetric(ctx, deviceID, metric, s.cfg.Predict.Horizons)
		if err != nil {
			return raised, fmt.Errorf("predict %s: %w", metric, err)
		}
		crossing, err := s.predictor.PredictThresholdCrossing(ctx, deviceID, metric)
		if err != nil {
			return raised, fmt.Errorf("threshold crossing %s: %w", metric, err)
		}
		if crossing == nil {
			continue
		}
		left := crossing.TimeUntilCrossing()
		if left <= 0 || left > s.cfg.Predict.CrossingWindow {
			continue
		}
		ok, rerr := s.raiseCrossing(ctx, deviceID, crossing, preds)
		if rerr != nil {
			return raised, rerr
		}
		if ok {
			raised++
		}
	}
	return raised, nil
}

// CrossingBand grades the lead time of a threshold crossing.
func CrossingBand(left time.Duration) (models.Severity, float64) {
	switch {
	case left < time.Hour:
		return models.SeverityCritical, 95
	case left < 4*time.Hour:
		return models.SeverityError, 80
	default:
		return models.SeverityWarning, 60
	}
}

// ExhaustionBand grades the lead time of a resource exhaustion.
func ExhaustionBand(left time.Duration) (models.Severity, float64) {
	switch {
	case left < time.Hour:
		return models.SeverityCritical, 90
	case left < 4*time.Hour:
		return models.SeverityError, 70
	case left < 12*time.Hour:
		return models.SeverityWarning, 50
	default:
		return models.SeverityInfo, 30
	}
}

func (s *Service) raiseCrossing(ctx context.Context, deviceID string, c *forecasting.ThresholdCrossing, preds []forecasting.Prediction) (bool, error) {
	left := c.TimeUntilCrossing()
	severity, priority := CrossingBand(left)

	meta := c.ToMap()
	meta["kind"] = KindThresholdCrossing
	if len(preds) > 0 {
		forecasts := make([]map[string]any, 0, len(preds))
		for _, p := range preds {
			forecasts = append(forecasts, map[string]any{
				"horizon_minutes": p.HorizonMinutes,
				"predicted_value": p.PredictedValue,
				"lower_bound":     p.Lower,
				"upper_bound":     p.Upper,
				"method":          p.Method,
			})
		}
		meta["forecasts"] = forecasts
	}

	a := &models.Alert{
		DeviceID:   deviceID,
		MetricName: c.MetricName,
		Severity:   severity,
		Title:      fmt.Sprintf("Predicted threshold breach: %s on %s", c.MetricName, deviceID),
		Message: fmt.Sprintf("%s on device %s is %.2f and rising %.2f/h; expected to cross %.2f in %s (confidence %.0f%%).",
			c.MetricName, deviceID, c.CurrentValue, c.GrowthRate, c.ThresholdValue,
			left.Round(time.Minute), c.Confidence*100),
		PriorityScore: priority,
		MLConfidence:  c.Confidence,
		Metadata:      meta,
	}
	return s.raisePredictive(ctx, a, KindThresholdCrossing)
}

func (s *Service) raiseExhaustion(ctx context.Context, deviceID string, w forecasting.ExhaustionWarning) (bool, error) {
	severity, priority := ExhaustionBand(w.TimeUntilExhaustion)

	meta := w.ToMap()
	meta["kind"] = KindResourceExhaustion

	a := &models.Alert{
		DeviceID:   deviceID,
		MetricName: w.Resource,
		Severity:   severity,
		Title:      fmt.Sprintf("Predicted resource exhaustion: %s on %s", w.Resource, deviceID),
		Message: fmt.Sprintf("%s on device %s is at %.2f of %.2f and growing %.2f/h; exhausted in %s (confidence %.0f%%).",
			w.Resource, deviceID, w.CurrentUsage, w.Threshold, w.GrowthRatePerHour,
			w.TimeUntilExhaustion.Round(time.Minute), w.Confidence*100),
		PriorityScore: priority,
		MLConfidence:  w.Confidence,
		Metadata:      meta,
	}
	return s.raisePredictive(ctx, a, KindResourceExhaustion)
}

// raisePredictive writes a predictive alert unless an open one for the same
// device and metric was raised within the dedup window.
func (s *Service) raisePredictive(ctx context.Context, a *models.Alert, kind string) (bool, error) {
	recent, err := s.store.QueryAlerts(ctx, db.AlertQuery{
		DeviceID:   a.DeviceID,
		MetricName: a.MetricName,
		AlertType:  models.AlertTypePredictive,
		Status:     models.AlertStatusOpen,
		Since:      s.now().Add(-s.cfg.Predict.DedupWindow),
		Limit:      1,
	})
	if err != nil {
		return false, fmt.Errorf("query recent predictive alerts: %w", err)
	}
	if len(recent) > 0 {
		return false, nil
	}

	a.AlertType = models.AlertTypePredictive
	a.Category = models.CategoryForMetric(a.MetricName)
	a.Status = models.AlertStatusOpen
	a.IsSmartAlert = true
	a.CreatedAt = s.now().UTC()
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	a.Metadata[models.MetadataMetricName] = a.MetricName

	created, err := s.raise(ctx, a)
	if err != nil {
		return false, err
	}
	if created {
		metrics.PredictiveAlertsTotal.WithLabelValues(kind, string(a.Severity)).Inc()
	}
	return created, nil
}
