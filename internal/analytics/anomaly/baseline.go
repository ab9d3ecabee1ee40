package anomaly

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// ComputeBaseline summarises values into a Baseline. The standard deviation
// is the population one.
func ComputeBaseline(deviceID, metricName string, values []float64, at time.Time) (*models.Baseline, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("compute baseline: %w", stats.ErrEmptyInput)
	}
	data := stats.Float64Data(values)

	b := &models.Baseline{
		DeviceID:   deviceID,
		MetricName: metricName,
		Count:      len(values),
		ComputedAt: at.UTC(),
	}

	var err error
	if b.Mean, err = data.Mean(); err != nil {
		return nil, fmt.Errorf("compute baseline mean: %w", err)
	}
	if b.StdDev, err = data.StandardDeviationPopulation(); err != nil {
		return nil, fmt.Errorf("compute baseline std: %w", err)
	}
	if b.Median, err = data.Median(); err != nil {
		return nil, fmt.Errorf("compute baseline median: %w", err)
	}
	b.Min, _ = data.Min()
	b.Max, _ = data.Max()

	b.P25 = percentile(data, 25, b.Min)
	b.P75 = percentile(data, 75, b.Max)
	b.P95 = percentile(data, 95, b.Max)
	b.P99 = percentile(data, 99, b.Max)
	return b, nil
}

// percentile falls back when the input is too short for the requested rank.
func percentile(data stats.Float64Data, p, fallback float64) float64 {
	v, err := data.Percentile(p)
	if err != nil {
		return fallback
	}
	return v
}

// standardize maps values onto the baseline's z scale. A flat baseline
// leaves values unscaled.
func standardize(values []float64, b *models.Baseline) [][]float64 {
	points := make([][]float64, len(values))
	for i, v := range values {
		points[i] = []float64{normalize(v, b)}
	}
	return points
}

func normalize(v float64, b *models.Baseline) float64 {
	if b.StdDev <= 0 {
		return v
	}
	return (v - b.Mean) / b.StdDev
}
