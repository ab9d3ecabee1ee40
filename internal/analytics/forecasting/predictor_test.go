package forecasting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSamples struct {
	series map[string][]*models.MetricSample
	err    map[string]error
}

func (f *fakeSamples) QuerySamples(_ context.Context, deviceID, metricName string, since time.Time, _ int) ([]*models.MetricSample, error) {
	key := models.SeriesKey(deviceID, metricName)
	if err := f.err[key]; err != nil {
		return nil, err
	}
	var out []*models.MetricSample
	for _, s := range f.series[key] {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ramp returns n samples every step ending at testNow, rising by perStep.
func ramp(device, metric string, n int, step time.Duration, start, perStep float64) []*models.MetricSample {
	out := make([]*models.MetricSample, n)
	for i := 0; i < n; i++ {
		out[i] = &models.MetricSample{
			DeviceID:   device,
			MetricName: metric,
			Value:      start + perStep*float64(i),
			Timestamp:  testNow.Add(-time.Duration(n-1-i) * step),
		}
	}
	return out
}

func newTestPredictor(src *fakeSamples) *Predictor {
	p := NewPredictor(src, DefaultConfig(), nil)
	p.now = func() time.Time { return testNow }
	return p
}

func TestPredictMetric(t *testing.T) {
	ctx := context.Background()

	t.Run("linear trend with short history", func(t *testing.T) {
		// 10 points, 5 minutes apart, +1 per step = +12 per hour.
		src := &fakeSamples{series: map[string][]*models.MetricSample{
			"d1:disk_usage": ramp("d1", "disk_usage", 10, 5*time.Minute, 50, 1),
		}}
		preds, err := newTestPredictor(src).PredictMetric(ctx, "d1", "disk_usage", []int{60, 180, 360})
		require.NoError(t, err)
		require.Len(t, preds, 3)

		assert.Equal(t, "linear_regression", preds[0].Method)
		assert.InDelta(t, 59+12, preds[0].PredictedValue, 1e-6)
		assert.InDelta(t, 59+36, preds[1].PredictedValue, 1e-6)
		assert.InDelta(t, 59+72, preds[2].PredictedValue, 1e-6)
		assert.Equal(t, testNow.Add(6*time.Hour), preds[2].PredictedFor)
		assert.InDelta(t, 1.0, preds[0].Confidence, 1e-9)
		assert.LessOrEqual(t, preds[0].Lower, preds[0].PredictedValue)
		assert.GreaterOrEqual(t, preds[0].Upper, preds[0].PredictedValue)
	})

	t.Run("arima with long history", func(t *testing.T) {
		src := &fakeSamples{series: map[string][]*models.MetricSample{
			"d1:cpu_usage": ramp("d1", "cpu_usage", 30, 5*time.Minute, 10, 1),
		}}
		preds, err := newTestPredictor(src).PredictMetric(ctx, "d1", "cpu_usage", []int{60})
		require.NoError(t, err)
		require.Len(t, preds, 1)
		assert.Equal(t, "arima_2_1_1", preds[0].Method)
		// last value 39, 12 steps of +1
		assert.InDelta(t, 51, preds[0].PredictedValue, 1e-6)
	})

	t.Run("too little history", func(t *testing.T) {
		src := &fakeSamples{series: map[string][]*models.MetricSample{
			"d1:cpu_usage": ramp("d1", "cpu_usage", 3, time.Minute, 10, 1),
		}}
		preds, err := newTestPredictor(src).PredictMetric(ctx, "d1", "cpu_usage", []int{60})
		require.NoError(t, err)
		assert.Empty(t, preds)
	})

	t.Run("store error", func(t *testing.T) {
		src := &fakeSamples{err: map[string]error{"d1:cpu_usage": errors.New("db down")}}
		_, err := newTestPredictor(src).PredictMetric(ctx, "d1", "cpu_usage", []int{60})
		assert.Error(t, err)
	})
}

func TestPredictThresholdCrossing(t *testing.T) {
	ctx := context.Background()

	t.Run("increasing trend crosses", func(t *testing.T) {
		// 70 -> 79 over 9 steps of 10 minutes: +6 per hour, 11 to go.
		src := &fakeSamples{series: map[string][]*models.MetricSample{
			"d1:disk_usage": ramp("d1", "disk_usage", 10, 10*time.Minute, 70, 1),
		}}
		tc, err := newTestPredictor(src).PredictThresholdCrossing(ctx, "d1", "disk_usage")
		require.NoError(t, err)
		require.NotNil(t, tc)

		assert.Equal(t, 90.0, tc.ThresholdValue)
		assert.Equal(t, 79.0, tc.CurrentValue)
		assert.Equal(t, TrendIncreasing, tc.Trend)
		assert.InDelta(t, 6, tc.GrowthRate, 1e-6)
		assert.InDelta(t, (11.0 / 6.0), tc.TimeUntilCrossing().Hours(), 1e-6)

		m := tc.ToMap()
		assert.Equal(t, "disk_usage", m["metric_name"])
		assert.Equal(t, "increasing", m["trend"])
	})

	t.Run("falling trend", func(t *testing.T) {
		src := &fakeSamples{series: map[string][]*models.MetricSample{
			"d1:disk_usage": ramp("d1", "disk_usage", 10, 10*time.Minute, 80, -1),
		}}
		tc, err := newTestPredictor(src).PredictThresholdCrossing(ctx, "d1", "disk_usage")
		require.NoError(t, err)
		assert.Nil(t, tc)
	})

	t.Run("already past threshold", func(t *testing.T) {
		src := &fakeSamples{series: map[string][]*models.MetricSample{
			"d1:disk_usage": ramp("d1", "disk_usage", 10, 10*time.Minute, 88, 1),
		}}
		tc, err := newTestPredictor(src).PredictThresholdCrossing(ctx, "d1", "disk_usage")
		require.NoError(t, err)
		assert.Nil(t, tc)
	})

	t.Run("metric without threshold", func(t *testing.T) {
		tc, err := newTestPredictor(&fakeSamples{}).PredictThresholdCrossing(ctx, "d1", "network_bytes")
		require.NoError(t, err)
		assert.Nil(t, tc)
	})
}

func TestDetectResourceExhaustion(t *testing.T) {
	ctx := context.Background()

	// memory: 80 -> 89 at +6/h, 11 left => ~1.83h => error
	// cpu: 40 -> 49 at +6/h, 51 left => 8.5h => warning
	// disk: flat => no warning
	src := &fakeSamples{
		series: map[string][]*models.MetricSample{
			"d1:memory_usage": ramp("d1", "memory_usage", 10, 10*time.Minute, 80, 1),
			"d1:cpu_usage":    ramp("d1", "cpu_usage", 10, 10*time.Minute, 40, 1),
			"d1:disk_usage":   ramp("d1", "disk_usage", 10, 10*time.Minute, 60, 0),
		},
	}
	ws, err := newTestPredictor(src).DetectResourceExhaustion(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, ws, 2)

	assert.Equal(t, "memory_usage", ws[0].Resource)
	assert.Equal(t, models.SeverityError, ws[0].Severity)
	assert.InDelta(t, 11.0/6.0, ws[0].TimeUntilExhaustion.Hours(), 1e-6)
	assert.Equal(t, 100.0, ws[0].Threshold)

	assert.Equal(t, "cpu_usage", ws[1].Resource)
	assert.Equal(t, models.SeverityWarning, ws[1].Severity)

	t.Run("partial failure keeps other warnings", func(t *testing.T) {
		src.err = map[string]error{"d1:cpu_usage": errors.New("timeout")}
		ws, err := newTestPredictor(src).DetectResourceExhaustion(ctx, "d1")
		assert.Error(t, err)
		require.Len(t, ws, 1)
		assert.Equal(t, "memory_usage", ws[0].Resource)
	})

	t.Run("already full", func(t *testing.T) {
		full := &fakeSamples{series: map[string][]*models.MetricSample{
			"d2:disk_usage": ramp("d2", "disk_usage", 10, 10*time.Minute, 100, 0),
		}}
		ws, err := newTestPredictor(full).DetectResourceExhaustion(ctx, "d2")
		require.NoError(t, err)
		require.Len(t, ws, 1)
		assert.Equal(t, models.SeverityCritical, ws[0].Severity)
		assert.Zero(t, ws[0].TimeUntilExhaustion)
	})
}

func TestExhaustionSeverity(t *testing.T) {
	cases := []struct {
		left time.Duration
		want models.Severity
	}{
		{0, models.SeverityCritical},
		{59 * time.Minute, models.SeverityCritical},
		{time.Hour, models.SeverityError},
		{4 * time.Hour, models.SeverityWarning},
		{12 * time.Hour, models.SeverityInfo},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ExhaustionSeverity(c.left), c.left.String())
	}
}

type failingEngine struct{ calls int }

func (f *failingEngine) PredictMetric(context.Context, string, string, []int) ([]Prediction, error) {
	f.calls++
	return nil, errors.New("boom")
}

func (f *failingEngine) PredictThresholdCrossing(context.Context, string, string) (*ThresholdCrossing, error) {
	f.calls++
	return nil, errors.New("boom")
}

func (f *failingEngine) DetectResourceExhaustion(context.Context, string) ([]ExhaustionWarning, error) {
	f.calls++
	return nil, errors.New("boom")
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	inner := &failingEngine{}
	s := DefaultBreakerSettings()
	s.Name = "test_breaker"
	s.MinRequests = 3
	s.Timeout = time.Hour
	b := NewBreaker(inner, s, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := b.DetectResourceExhaustion(ctx, "d1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.PredictMetric(ctx, "d1", "cpu_usage", []int{60})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	_, err = b.PredictThresholdCrossing(ctx, "d1", "cpu_usage")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerPassesResults(t *testing.T) {
	src := &fakeSamples{series: map[string][]*models.MetricSample{
		"d1:disk_usage": ramp("d1", "disk_usage", 10, 10*time.Minute, 70, 1),
	}}
	s := DefaultBreakerSettings()
	s.Name = "test_breaker_pass"
	b := NewBreaker(newTestPredictor(src), s, nil)

	tc, err := b.PredictThresholdCrossing(context.Background(), "d1", "disk_usage")
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, gobreaker.StateClosed, b.State())

	none, err := b.PredictThresholdCrossing(context.Background(), "d1", "network_bytes")
	require.NoError(t, err)
	assert.Nil(t, none)
}
