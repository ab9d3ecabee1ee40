package models

import "time"

// Baseline is the statistical summary of a metric's normal behaviour for one
// (device, metric) pair. It is replaced wholesale on every retrain.
type Baseline struct {
	DeviceID   string    `json:"device_id" db:"device_id"`
	MetricName string    `json:"metric_name" db:"metric_name"`
	Mean       float64   `json:"mean" db:"mean"`
	StdDev     float64   `json:"std_dev" db:"std_dev"`
	Median     float64   `json:"median" db:"median"`
	P25        float64   `json:"p25" db:"p25"`
	P75        float64   `json:"p75" db:"p75"`
	P95        float64   `json:"p95" db:"p95"`
	P99        float64   `json:"p99" db:"p99"`
	Min        float64   `json:"min" db:"min_value"`
	Max        float64   `json:"max" db:"max_value"`
	Count      int       `json:"count" db:"sample_count"`
	ComputedAt time.Time `json:"computed_at" db:"computed_at"`
}

// IQR returns the interquartile range p75 - p25.
func (b *Baseline) IQR() float64 {
	return b.P75 - b.P25
}

// ExpectedRange derives the band of normal values at the given confidence
// level: 0.99 maps to [p25, p99], 0.95 to [p25, p95], and any other level to
// the Tukey fence [p25 - 1.5*IQR, p75 + 1.5*IQR].
func (b *Baseline) ExpectedRange(confidence float64) (lower, upper float64) {
	switch confidence {
	case 0.99:
		return b.P25, b.P99
	case 0.95:
		return b.P25, b.P95
	default:
		iqr := b.IQR()
		return b.P25 - 1.5*iqr, b.P75 + 1.5*iqr
	}
}

// Key returns the cache key for the baseline's (device, metric) pair.
func (b *Baseline) Key() string {
	return SeriesKey(b.DeviceID, b.MetricName)
}

// SeriesKey joins a device and metric into the "device:metric" key used by caches.
func SeriesKey(deviceID, metricName string) string {
	return deviceID + ":" + metricName
}
