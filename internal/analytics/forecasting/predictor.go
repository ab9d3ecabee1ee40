// Package forecasting provides metric forecasting for predictive alerting.
//
// The smart alerts service consumes it through PredictionEngine:
//   - PredictMetric: point forecasts with 95% bands at minute horizons
//   - PredictThresholdCrossing: when an increasing metric reaches its alert threshold
//   - DetectResourceExhaustion: cpu / memory / disk projected to capacity
//
// Predictor is the default engine and reads its history from the sample
// store. NewBreaker wraps any engine in a circuit breaker.
package forecasting

import (
	"context"
	"time"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// PredictionEngine forecasts metric values and trends for a device.
type PredictionEngine interface {
	// PredictMetric returns one prediction per horizon (minutes). Too little
	// history yields an empty result, not an error.
	PredictMetric(ctx context.Context, deviceID, metricName string, horizons []int) ([]Prediction, error)

	// PredictThresholdCrossing returns nil when no crossing is expected.
	PredictThresholdCrossing(ctx context.Context, deviceID, metricName string) (*ThresholdCrossing, error)

	DetectResourceExhaustion(ctx context.Context, deviceID string) ([]ExhaustionWarning, error)
}

// Trend is the direction of a fitted metric trend.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Prediction is a forecast of one metric at one horizon.
type Prediction struct {
	DeviceID       string    `json:"device_id"`
	MetricName     string    `json:"metric_name"`
	HorizonMinutes int       `json:"horizon_minutes"`
	PredictedValue float64   `json:"predicted_value"`
	Lower          float64   `json:"lower_bound"`
	Upper          float64   `json:"upper_bound"`
	Confidence     float64   `json:"confidence"`
	Method         string    `json:"method"`
	PredictedFor   time.Time `json:"predicted_for"`
}

// ThresholdCrossing is an estimate of when a metric reaches its threshold.
type ThresholdCrossing struct {
	DeviceID       string  `json:"device_id"`
	MetricName     string  `json:"metric_name"`
	ThresholdValue float64 `json:"threshold_value"`
	CurrentValue   float64 `json:"current_value"`
	Trend          Trend   `json:"trend"`
	// GrowthRate is the fitted slope in metric units per hour.
	GrowthRate  float64   `json:"growth_rate"`
	Confidence  float64   `json:"confidence"`
	EstimatedAt time.Time `json:"estimated_at"`
	CrossingAt  time.Time `json:"crossing_at"`
}

// TimeUntilCrossing is the lead time between the estimate and the crossing.
func (c *ThresholdCrossing) TimeUntilCrossing() time.Duration {
	d := c.CrossingAt.Sub(c.EstimatedAt)
	if d < 0 {
		return 0
	}
	return d
}

// ToMap renders the crossing for alert metadata.
func (c *ThresholdCrossing) ToMap() map[string]any {
	return map[string]any{
		"metric_name":                 c.MetricName,
		"threshold_value":             c.ThresholdValue,
		"current_value":               c.CurrentValue,
		"trend":                       string(c.Trend),
		"growth_rate":                 c.GrowthRate,
		"confidence":                  c.Confidence,
		"estimated_at":                c.EstimatedAt.UTC().Format(time.RFC3339),
		"crossing_at":                 c.CrossingAt.UTC().Format(time.RFC3339),
		"time_until_crossing_seconds": c.TimeUntilCrossing().Seconds(),
	}
}

// ExhaustionWarning is a resource projected to run out.
type ExhaustionWarning struct {
	Resource            string          `json:"resource"`
	Severity            models.Severity `json:"severity"`
	TimeUntilExhaustion time.Duration   `json:"-"`
	CurrentUsage        float64         `json:"current_usage"`
	Threshold           float64         `json:"threshold"`
	GrowthRatePerHour   float64         `json:"growth_rate_per_hour"`
	Confidence          float64         `json:"confidence"`
}

// ToMap renders the warning for alert metadata.
func (w ExhaustionWarning) ToMap() map[string]any {
	return map[string]any{
		"resource":                      w.Resource,
		"severity":                      string(w.Severity),
		"time_until_exhaustion_seconds": w.TimeUntilExhaustion.Seconds(),
		"current_usage":                 w.CurrentUsage,
		"threshold":                     w.Threshold,
		"growth_rate_per_hour":          w.GrowthRatePerHour,
		"confidence":                    w.Confidence,
	}
}
