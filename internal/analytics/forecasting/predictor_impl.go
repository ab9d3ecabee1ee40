package forecasting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/saashqdev/ops-center-sub002/internal/analytics/forecast"
	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// SampleSource is the history the predictor reads.
type SampleSource interface {
	QuerySamples(ctx context.Context, deviceID, metricName string, since time.Time, limit int) ([]*models.MetricSample, error)
}

// Config tunes the default predictor.
type Config struct {
	// Lookback is the history window used by PredictMetric.
	Lookback time.Duration
	// TrendLookback is the window used for crossing and exhaustion trends.
	TrendLookback time.Duration
	MaxSamples    int
	// MinPoints is the minimum history for any estimate.
	MinPoints int
	// ARIMAMinPoints switches PredictMetric from a line to ARIMA(2,1,1).
	ARIMAMinPoints int
	// Thresholds are the per-metric alert thresholds used for crossings.
	Thresholds map[string]float64
	// Resources are the metrics projected to Capacity for exhaustion.
	Resources []string
	Capacity  float64
	// ExhaustionHorizon drops warnings further out than this.
	ExhaustionHorizon time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Lookback:       24 * time.Hour,
		TrendLookback:  6 * time.Hour,
		MaxSamples:     2000,
		MinPoints:      5,
		ARIMAMinPoints: 20,
		Thresholds: map[string]float64{
			"disk_usage":   90,
			"memory_usage": 90,
			"cpu_usage":    95,
			"error_rate":   5,
		},
		Resources:         []string{"cpu_usage", "memory_usage", "disk_usage"},
		Capacity:          100,
		ExhaustionHorizon: 24 * time.Hour,
	}
}

// Predictor is the default PredictionEngine.
type Predictor struct {
	samples SampleSource
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewPredictor creates a predictor over a sample store.
func NewPredictor(samples SampleSource, cfg Config, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{
		samples: samples,
		cfg:     cfg,
		logger:  logger.Named("predictor"),
		now:     time.Now,
	}
}

var _ PredictionEngine = (*Predictor)(nil)

// series is a history converted to hours relative to the newest sample.
type series struct {
	hours  []float64
	values []float64
	last   time.Time
	step   time.Duration
}

func (p *Predictor) load(ctx context.Context, deviceID, metricName string, window time.Duration) (*series, error) {
	rows, err := p.samples.QuerySamples(ctx, deviceID, metricName, p.now().Add(-window), p.cfg.MaxSamples)
	if err != nil {
		return nil, fmt.Errorf("query samples %s/%s: %w", deviceID, metricName, err)
	}
	if len(rows) == 0 {
		return &series{}, nil
	}
	last := rows[len(rows)-1].Timestamp
	s := &series{
		hours:  make([]float64, len(rows)),
		values: make([]float64, len(rows)),
		last:   last,
	}
	for i, r := range rows {
		s.hours[i] = r.Timestamp.Sub(last).Hours()
		s.values[i] = r.Value
	}
	if len(rows) > 1 {
		s.step = last.Sub(rows[0].Timestamp) / time.Duration(len(rows)-1)
	}
	return s, nil
}

// PredictMetric forecasts the metric at each horizon. ARIMA is used when
// enough evenly spaced history exists and its output is finite; otherwise a
// least-squares line in hours.
func (p *Predictor) PredictMetric(ctx context.Context, deviceID, metricName string, horizons []int) ([]Prediction, error) {
	s, err := p.load(ctx, deviceID, metricName, p.cfg.Lookback)
	if err != nil {
		return nil, err
	}
	if len(s.values) < p.cfg.MinPoints || len(horizons) == 0 {
		return nil, nil
	}

	now := p.now()
	line := forecast.FitLine(s.hours, s.values)
	confidence := clamp01(line.R2)

	var arima *forecast.ARIMA
	if len(s.values) >= p.cfg.ARIMAMinPoints && s.step > 0 {
		m := forecast.NewARIMA(2, 1, 1)
		if fitErr := m.Fit(s.values); fitErr == nil {
			arima = m
		} else {
			p.logger.Debug("arima fit failed, using linear trend",
				zap.String("device_id", deviceID), zap.String("metric", metricName), zap.Error(fitErr))
		}
	}

	out := make([]Prediction, 0, len(horizons))
	for _, h := range horizons {
		if h <= 0 {
			continue
		}
		horizon := time.Duration(h) * time.Minute
		target := now.Add(horizon)
		pred := Prediction{
			DeviceID:       deviceID,
			MetricName:     metricName,
			HorizonMinutes: h,
			Confidence:     confidence,
			PredictedFor:   target,
		}

		if arima != nil {
			steps := int(math.Ceil(float64(target.Sub(s.last)) / float64(s.step)))
			if steps < 1 {
				steps = 1
			}
			res, fErr := arima.Forecast(steps)
			if fErr == nil {
				v, lo, hi := res.Values[steps-1], res.Lower95[steps-1], res.Upper95[steps-1]
				if finite(v, lo, hi) {
					pred.PredictedValue, pred.Lower, pred.Upper = v, lo, hi
					pred.Method = "arima_2_1_1"
					out = append(out, pred)
					continue
				}
			}
		}

		x := target.Sub(s.last).Hours()
		v := line.At(x)
		margin := 1.96 * line.StdError
		if line.StdError == 0 {
			margin = math.Abs(v) * 0.05
		}
		pred.PredictedValue = v
		pred.Lower = v - margin
		pred.Upper = v + margin
		pred.Method = "linear_regression"
		out = append(out, pred)
	}
	return out, nil
}

// PredictThresholdCrossing projects an increasing trend to the metric's
// threshold. Metrics without a threshold, flat or falling trends, and values
// already past the threshold yield nil.
func (p *Predictor) PredictThresholdCrossing(ctx context.Context, deviceID, metricName string) (*ThresholdCrossing, error) {
	threshold, ok := p.cfg.Thresholds[metricName]
	if !ok {
		return nil, nil
	}
	s, err := p.load(ctx, deviceID, metricName, p.cfg.TrendLookback)
	if err != nil {
		return nil, err
	}
	if len(s.values) < p.cfg.MinPoints {
		return nil, nil
	}

	line := forecast.FitLine(s.hours, s.values)
	current := s.values[len(s.values)-1]
	if trendOf(line.Slope) != TrendIncreasing || current >= threshold {
		return nil, nil
	}

	now := p.now()
	hours := (threshold - current) / line.Slope
	return &ThresholdCrossing{
		DeviceID:       deviceID,
		MetricName:     metricName,
		ThresholdValue: threshold,
		CurrentValue:   current,
		Trend:          TrendIncreasing,
		GrowthRate:     line.Slope,
		Confidence:     clamp01(line.R2),
		EstimatedAt:    now,
		CrossingAt:     now.Add(time.Duration(hours * float64(time.Hour))),
	}, nil
}

// DetectResourceExhaustion projects each resource to capacity and grades the
// lead time. Results are ordered soonest first. A failing resource query
// does not stop the others; its error is returned alongside the warnings.
func (p *Predictor) DetectResourceExhaustion(ctx context.Context, deviceID string) ([]ExhaustionWarning, error) {
	var (
		warnings []ExhaustionWarning
		errs     error
	)
	for _, resource := range p.cfg.Resources {
		s, err := p.load(ctx, deviceID, resource, p.cfg.TrendLookback)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if len(s.values) < p.cfg.MinPoints {
			continue
		}

		line := forecast.FitLine(s.hours, s.values)
		current := s.values[len(s.values)-1]
		if line.Slope <= 0 && current < p.cfg.Capacity {
			continue
		}

		var left time.Duration
		if current < p.cfg.Capacity {
			left = time.Duration((p.cfg.Capacity - current) / line.Slope * float64(time.Hour))
		}
		if left >= p.cfg.ExhaustionHorizon {
			continue
		}

		warnings = append(warnings, ExhaustionWarning{
			Resource:            resource,
			Severity:            ExhaustionSeverity(left),
			TimeUntilExhaustion: left,
			CurrentUsage:        current,
			Threshold:           p.cfg.Capacity,
			GrowthRatePerHour:   line.Slope,
			Confidence:          clamp01(line.R2),
		})
	}

	sort.SliceStable(warnings, func(i, j int) bool {
		return warnings[i].TimeUntilExhaustion < warnings[j].TimeUntilExhaustion
	})
	return warnings, errs
}

// ExhaustionSeverity grades a lead time: <1h critical, <4h error, <12h
// warning, otherwise info.
func ExhaustionSeverity(left time.Duration) models.Severity {
	switch {
	case left < time.Hour:
		return models.SeverityCritical
	case left < 4*time.Hour:
		return models.SeverityError
	case left < 12*time.Hour:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// trendOf classifies a slope in units per hour.
func trendOf(slope float64) Trend {
	switch {
	case slope > 1e-6:
		return TrendIncreasing
	case slope < -1e-6:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
