package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaselineExpectedRange(t *testing.T) {
	b := &Baseline{Mean: 50, StdDev: 10, P25: 40, P75: 60, P95: 70, P99: 80}

	tests := []struct {
		name       string
		confidence float64
		lower      float64
		upper      float64
	}{
		{"99 percent", 0.99, 40, 80},
		{"95 percent", 0.95, 40, 70},
		{"tukey fence", 0.9, 10, 90},
		{"zero falls back to fence", 0, 10, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := b.ExpectedRange(tt.confidence)
			assert.Equal(t, tt.lower, lo)
			assert.Equal(t, tt.upper, hi)
		})
	}
}

func TestBaselineExpectedRange95Ordered(t *testing.T) {
	for _, b := range []*Baseline{
		{StdDev: 1, P25: 0, P75: 1, P95: 2, P99: 3},
		{StdDev: 0.5, P25: -4, P75: -3, P95: -1, P99: 0},
		{StdDev: 2, P25: 7, P75: 7, P95: 7, P99: 7},
	} {
		lo, hi := b.ExpectedRange(0.95)
		assert.Equal(t, b.P25, lo)
		assert.Equal(t, b.P95, hi)
		assert.LessOrEqual(t, lo, hi)
	}
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityError))
	assert.True(t, SeverityError.AtLeast(SeverityError))
	assert.False(t, SeverityWarning.AtLeast(SeverityError))
	assert.False(t, Severity("bogus").Valid())

	s, ok := ParseSeverity("WARN")
	assert.True(t, ok)
	assert.Equal(t, SeverityWarning, s)
}

func TestCategoryForMetric(t *testing.T) {
	assert.Equal(t, CategoryHardware, CategoryForMetric("cpu_usage"))
	assert.Equal(t, CategoryStorage, CategoryForMetric("disk_usage"))
	assert.Equal(t, CategoryNetwork, CategoryForMetric("network_bytes"))
	assert.Equal(t, CategoryApplication, CategoryForMetric("error_rate"))
	assert.Equal(t, CategoryOther, CategoryForMetric("fan_speed"))
}
