package anomaly

import (
	"context"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/saashqdev/ops-center-sub002/internal/analytics/ml"
	"github.com/saashqdev/ops-center-sub002/internal/cache"
	"github.com/saashqdev/ops-center-sub002/internal/db"
	"github.com/saashqdev/ops-center-sub002/internal/metrics"
	"github.com/saashqdev/ops-center-sub002/internal/models"
	"github.com/saashqdev/ops-center-sub002/internal/tracing"
)

// ModelRepository is the persistence the detector reads models from and the
// trainer writes them to.
type ModelRepository interface {
	ActiveModel(ctx context.Context, deviceID, metricName string) (*models.TrainedModel, error)
	ActiveBaseline(ctx context.Context, deviceID, metricName string) (*models.Baseline, error)
	SaveModel(ctx context.Context, m *models.TrainedModel) error
}

// HistorySource supplies the raw values a model is trained on.
type HistorySource interface {
	HistoricalValues(ctx context.Context, deviceID, metricName string, since time.Time) ([]float64, error)
}

// DeviceLister enumerates the devices a training sweep covers.
type DeviceLister interface {
	ListDevices(ctx context.Context, activeOnly bool, limit int) ([]*models.Device, error)
}

// Config tunes detection and training.
type Config struct {
	ZThreshold              float64
	ExpectedRangeConfidence float64
	CacheTTL                time.Duration
	CacheSize               int
	CallTimeout             time.Duration

	TrainingDays  int
	Contamination float64
	NumEstimators int
	MinSamples    int
	Metrics       []string
	PairDelay     time.Duration
	PairTimeout   time.Duration
	// Seed fixes the forest RNG; zero seeds from the clock.
	Seed int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ZThreshold:              3.0,
		ExpectedRangeConfidence: 0.95,
		CacheTTL:                time.Hour,
		CacheSize:               cache.DefaultSize,
		CallTimeout:             5 * time.Second,
		TrainingDays:            30,
		Contamination:           0.05,
		NumEstimators:           100,
		MinSamples:              100,
		Metrics:                 []string{"cpu_usage", "memory_usage", "disk_usage", "network_bytes"},
		PairDelay:               100 * time.Millisecond,
		PairTimeout:             2 * time.Minute,
	}
}

// loadedModel is a decoded forest plus the row it came from.
type loadedModel struct {
	forest *ml.IsolationForest
	record *models.TrainedModel
}

// Caches holds the per-(device, metric) model and baseline caches. They are
// owned by the caller so that they can be shared and reset.
type Caches struct {
	Models    *cache.TTL[*loadedModel]
	Baselines *cache.TTL[*models.Baseline]
}

// NewCaches builds empty model and baseline caches.
func NewCaches(size int, ttl time.Duration) Caches {
	return Caches{
		Models:    cache.New[*loadedModel]("models", size, ttl),
		Baselines: cache.New[*models.Baseline]("baselines", size, ttl),
	}
}

// Invalidate drops both cached entries of a (device, metric) pair.
func (c Caches) Invalidate(deviceID, metricName string) {
	key := models.SeriesKey(deviceID, metricName)
	c.Models.Invalidate(key)
	c.Baselines.Invalidate(key)
}

// Detector decides whether single samples are anomalous and owns model
// (re)training.
type Detector struct {
	repo    ModelRepository
	history HistorySource
	devices DeviceLister
	caches  Caches
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewDetector wires a detector. caches may be zero-valued, in which case
// fresh caches are created from cfg.
func NewDetector(repo ModelRepository, history HistorySource, devices DeviceLister, caches Caches, cfg Config, logger *zap.Logger) *Detector {
	if caches.Models == nil || caches.Baselines == nil {
		caches = NewCaches(cfg.CacheSize, cfg.CacheTTL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		repo:    repo,
		history: history,
		devices: devices,
		caches:  caches,
		cfg:     cfg,
		logger:  logger.Named("detector"),
		now:     time.Now,
	}
}

// Detect runs the tree-ensemble model, when one is active, and then the
// z-score test. It returns nil when neither fires. Infrastructure failures
// are logged and treated as "no anomaly".
func (d *Detector) Detect(ctx context.Context, deviceID, metricName string, value float64, ts time.Time) *models.AnomalyResult {
	ctx, span := tracing.StartSpan(ctx, "anomaly.Detect",
		attribute.String("device_id", deviceID), attribute.String("metric", metricName))
	defer span.End()

	start := time.Now()
	defer func() { metrics.DetectionDuration.Observe(time.Since(start).Seconds()) }()

	baseline := d.baseline(ctx, deviceID, metricName)
	if baseline == nil {
		return nil
	}

	if lm := d.model(ctx, deviceID, metricName); lm != nil {
		if r := d.detectWithModel(lm, baseline, value); r != nil {
			return r
		}
	}

	return d.detectStatistical(baseline, value)
}

func (d *Detector) detectWithModel(lm *loadedModel, b *models.Baseline, value float64) *models.AnomalyResult {
	label, raw := lm.forest.Predict([]float64{normalize(value, b)})
	if label != ml.LabelAnomaly {
		return nil
	}

	score := clamp01(-raw + 0.5)
	lo, hi := b.ExpectedRange(d.cfg.ExpectedRangeConfidence)
	r := &models.AnomalyResult{
		IsAnomaly:     true,
		AnomalyScore:  score,
		Confidence:    math.Min(0.99, score),
		Severity:      severityFor(0, score),
		ExpectedValue: b.Mean,
		ExpectedMin:   lo,
		ExpectedMax:   hi,
		ModelType:     models.ModelTypeTreeEnsemble,
		Metadata: map[string]any{
			"raw_score":     raw,
			"model_id":      lm.record.ID,
			"model_version": lm.record.Version,
		},
	}
	if b.StdDev > 0 {
		r.ZScore = math.Abs(value-b.Mean) / b.StdDev
	}
	return r
}

func (d *Detector) detectStatistical(b *models.Baseline, value float64) *models.AnomalyResult {
	if b.StdDev <= 0 {
		return nil
	}
	z := math.Abs(value-b.Mean) / b.StdDev
	if z <= d.cfg.ZThreshold {
		return nil
	}

	score := math.Min(1, z/6)
	return &models.AnomalyResult{
		IsAnomaly:     true,
		AnomalyScore:  score,
		Confidence:    math.Min(0.99, score),
		Severity:      severityFor(z, score),
		ExpectedValue: b.Mean,
		ExpectedMin:   b.Mean - d.cfg.ZThreshold*b.StdDev,
		ExpectedMax:   b.Mean + d.cfg.ZThreshold*b.StdDev,
		ModelType:     models.ModelTypeStatistical,
		ZScore:        z,
		Metadata: map[string]any{
			"z_score": z,
		},
	}
}

// severityFor maps a z score and anomaly score onto the severity ladder.
// Both thresholds are strict.
func severityFor(z, score float64) models.Severity {
	switch {
	case z > 5 || score > 0.9:
		return models.SeverityCritical
	case z > 4 || score > 0.7:
		return models.SeverityError
	case z > 3 || score > 0.5:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// model returns the decoded active model, or nil when there is none, it
// cannot be decoded, or the store is unavailable.
func (d *Detector) model(ctx context.Context, deviceID, metricName string) *loadedModel {
	key := models.SeriesKey(deviceID, metricName)
	if lm, ok := d.caches.Models.Get(key); ok {
		return lm
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	rec, err := d.repo.ActiveModel(cctx, deviceID, metricName)
	if errors.Is(err, db.ErrNotFound) {
		d.caches.Models.Set(key, nil)
		return nil
	}
	if err != nil {
		metrics.DetectionErrorsTotal.WithLabelValues("model_load").Inc()
		d.logger.Warn("failed to load model, using statistical detection",
			zap.String("device_id", deviceID), zap.String("metric", metricName), zap.Error(err))
		return nil
	}
	if rec.ModelType == models.ModelTypeStatistical {
		// Baseline-only rows carry no forest.
		d.caches.Models.Set(key, nil)
		return nil
	}

	forest, err := ml.Unmarshal(rec.ModelData)
	if err != nil {
		// Cache the miss so a corrupt row is not decoded on every sample.
		d.caches.Models.Set(key, nil)
		metrics.DetectionErrorsTotal.WithLabelValues("model_decode").Inc()
		d.logger.Error("discarding corrupt model",
			zap.String("device_id", deviceID), zap.String("metric", metricName),
			zap.String("model_id", rec.ID), zap.Int("version", rec.Version), zap.Error(err))
		return nil
	}

	lm := &loadedModel{forest: forest, record: rec}
	d.caches.Models.Set(key, lm)
	if rec.Baseline != nil {
		d.caches.Baselines.Set(key, rec.Baseline)
	}
	return lm
}

// baseline returns the active baseline or nil.
func (d *Detector) baseline(ctx context.Context, deviceID, metricName string) *models.Baseline {
	key := models.SeriesKey(deviceID, metricName)
	if b, ok := d.caches.Baselines.Get(key); ok {
		return b
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	b, err := d.repo.ActiveBaseline(cctx, deviceID, metricName)
	if errors.Is(err, db.ErrNotFound) {
		d.caches.Baselines.Set(key, nil)
		return nil
	}
	if err != nil {
		metrics.DetectionErrorsTotal.WithLabelValues("baseline_load").Inc()
		d.logger.Warn("failed to load baseline",
			zap.String("device_id", deviceID), zap.String("metric", metricName), zap.Error(err))
		return nil
	}
	d.caches.Baselines.Set(key, b)
	return b
}
