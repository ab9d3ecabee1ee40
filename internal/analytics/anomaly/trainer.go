package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/saashqdev/ops-center-sub002/internal/analytics/ml"
	"github.com/saashqdev/ops-center-sub002/internal/metrics"
	"github.com/saashqdev/ops-center-sub002/internal/models"
	"github.com/saashqdev/ops-center-sub002/internal/tracing"
)

// ErrInsufficientData is returned by Train when the history is shorter than
// the configured minimum.
var ErrInsufficientData = errors.New("insufficient training data")

// TrainRequest selects what to train. Zero Days or Contamination use the
// configured defaults.
type TrainRequest struct {
	DeviceID      string
	MetricName    string
	Days          int
	Contamination float64
}

// TrainingReport summarises a training sweep.
type TrainingReport struct {
	Trained  int           `json:"trained"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Train fits and persists a new active model for one (device, metric) pair.
func (d *Detector) Train(ctx context.Context, req TrainRequest) (_ *models.TrainedModel, err error) {
	ctx, span := tracing.StartSpan(ctx, "anomaly.Train",
		attribute.String("device_id", req.DeviceID), attribute.String("metric", req.MetricName))
	defer func() { tracing.EndSpan(span, err) }()

	if req.Days <= 0 {
		req.Days = d.cfg.TrainingDays
	}
	if req.Contamination <= 0 {
		req.Contamination = d.cfg.Contamination
	}

	start := time.Now()
	now := d.now()
	since := now.Add(-time.Duration(req.Days) * 24 * time.Hour)

	values, err := d.history.HistoricalValues(ctx, req.DeviceID, req.MetricName, since)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if len(values) < d.cfg.MinSamples {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(values), d.cfg.MinSamples)
	}

	baseline, err := ComputeBaseline(req.DeviceID, req.MetricName, values, now)
	if err != nil {
		return nil, err
	}

	points := standardize(values, baseline)
	forest := ml.NewIsolationForest(ml.Options{
		NumTrees:      d.cfg.NumEstimators,
		Contamination: req.Contamination,
		Seed:          d.cfg.Seed,
	})
	if err := forest.Fit(points); err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}

	flagged := 0
	for _, p := range points {
		if label, _ := forest.Predict(p); label == ml.LabelAnomaly {
			flagged++
		}
	}
	fpr := float64(flagged) / float64(len(points))

	payload, err := forest.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}

	rec := &models.TrainedModel{
		DeviceID:          req.DeviceID,
		MetricName:        req.MetricName,
		ModelType:         models.ModelTypeTreeEnsemble,
		ModelData:         payload,
		Contamination:     req.Contamination,
		NumEstimators:     forest.NumTrees,
		TrainingSamples:   len(values),
		Accuracy:          1 - math.Abs(fpr-req.Contamination),
		FalsePositiveRate: fpr,
		TrainedAt:         now,
		Baseline:          baseline,
	}
	if err := d.repo.SaveModel(ctx, rec); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	d.caches.Invalidate(req.DeviceID, req.MetricName)

	metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	d.logger.Info("model trained",
		zap.String("device_id", req.DeviceID),
		zap.String("metric", req.MetricName),
		zap.Int("version", rec.Version),
		zap.Int("samples", len(values)),
		zap.Float64("false_positive_rate", fpr),
		zap.Float64("accuracy", rec.Accuracy),
	)
	return rec, nil
}

// TrainModel trains one pair and reports whether a new model was stored.
// Insufficient history yields false with a nil error.
func (d *Detector) TrainModel(ctx context.Context, deviceID, metricName string, days int, contamination float64) (bool, error) {
	_, err := d.Train(ctx, TrainRequest{DeviceID: deviceID, MetricName: metricName, Days: days, Contamination: contamination})
	switch {
	case err == nil:
		metrics.TrainingRunsTotal.WithLabelValues("trained").Inc()
		return true, nil
	case errors.Is(err, ErrInsufficientData):
		metrics.TrainingRunsTotal.WithLabelValues("skipped").Inc()
		d.logger.Debug("skipping training", zap.String("device_id", deviceID), zap.String("metric", metricName), zap.Error(err))
		return false, nil
	default:
		metrics.TrainingRunsTotal.WithLabelValues("failed").Inc()
		return false, err
	}
}

// TrainAll retrains every device against every configured metric. Pairs are
// paced by PairDelay and a failing pair never aborts the sweep; only a failure
// to enumerate devices or a cancelled context returns an error.
func (d *Detector) TrainAll(ctx context.Context) (TrainingReport, error) {
	var report TrainingReport
	start := time.Now()

	devices, err := d.devices.ListDevices(ctx, false, 0)
	if err != nil {
		report.Duration = time.Since(start)
		return report, fmt.Errorf("list devices: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if d.cfg.PairDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(d.cfg.PairDelay), 1)
	}

	for _, dev := range devices {
		for _, metric := range d.cfg.Metrics {
			if err := limiter.Wait(ctx); err != nil {
				report.Duration = time.Since(start)
				return report, fmt.Errorf("training sweep interrupted: %w", err)
			}

			trained, err := d.trainPair(ctx, dev.DeviceID, metric)
			switch {
			case err != nil:
				report.Failed++
				d.logger.Warn("training failed",
					zap.String("device_id", dev.DeviceID), zap.String("metric", metric), zap.Error(err))
			case trained:
				report.Trained++
			default:
				report.Skipped++
			}
		}
	}

	report.Duration = time.Since(start)
	d.logger.Info("training sweep finished",
		zap.Int("devices", len(devices)),
		zap.Int("trained", report.Trained),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (d *Detector) trainPair(ctx context.Context, deviceID, metricName string) (trained bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while training: %v", r)
		}
	}()
	if d.cfg.PairTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.PairTimeout)
		defer cancel()
	}
	return d.TrainModel(ctx, deviceID, metricName, d.cfg.TrainingDays, d.cfg.Contamination)
}
