package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saashqdev/ops-center-sub002/internal/db"
	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// fakeRepo is an in-memory ModelRepository, HistorySource and DeviceLister.
type fakeRepo struct {
	mu            sync.Mutex
	models        map[string]*models.TrainedModel
	baselines     map[string]*models.Baseline
	history       map[string][]float64
	devices       []*models.Device
	modelErr      error
	historyErr    map[string]error
	modelCalls    int
	baselineCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		models:     map[string]*models.TrainedModel{},
		baselines:  map[string]*models.Baseline{},
		history:    map[string][]float64{},
		historyErr: map[string]error{},
	}
}

func (r *fakeRepo) ActiveModel(_ context.Context, deviceID, metricName string) (*models.TrainedModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelCalls++
	if r.modelErr != nil {
		return nil, r.modelErr
	}
	m, ok := r.models[models.SeriesKey(deviceID, metricName)]
	if !ok {
		return nil, db.ErrNotFound
	}
	return m, nil
}

func (r *fakeRepo) ActiveBaseline(_ context.Context, deviceID, metricName string) (*models.Baseline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baselineCalls++
	b, ok := r.baselines[models.SeriesKey(deviceID, metricName)]
	if !ok {
		return nil, db.ErrNotFound
	}
	return b, nil
}

func (r *fakeRepo) SaveModel(_ context.Context, m *models.TrainedModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := m.Key()
	version := 1
	if prev, ok := r.models[key]; ok {
		version = prev.Version + 1
	}
	m.Version = version
	m.Active = true
	r.models[key] = m
	if m.Baseline != nil {
		r.baselines[key] = m.Baseline
	}
	return nil
}

func (r *fakeRepo) HistoricalValues(_ context.Context, deviceID, metricName string, _ time.Time) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := models.SeriesKey(deviceID, metricName)
	if err := r.historyErr[key]; err != nil {
		return nil, err
	}
	return r.history[key], nil
}

func (r *fakeRepo) ListDevices(_ context.Context, _ bool, _ int) ([]*models.Device, error) {
	return r.devices, nil
}

func newTestDetector(repo *fakeRepo) *Detector {
	cfg := DefaultConfig()
	cfg.PairDelay = 0
	cfg.Seed = 1
	return NewDetector(repo, repo, repo, Caches{}, cfg, zap.NewNop())
}

func withBaseline(repo *fakeRepo, mean, std float64) {
	repo.baselines[models.SeriesKey("dev-1", "cpu_usage")] = &models.Baseline{
		DeviceID: "dev-1", MetricName: "cpu_usage",
		Mean: mean, StdDev: std, Median: mean,
		P25: mean - 0.67*std, P75: mean + 0.67*std, P95: mean + 1.64*std, P99: mean + 2.33*std,
		Count: 1000,
	}
}

func detect(d *Detector, value float64) *models.AnomalyResult {
	return d.Detect(context.Background(), "dev-1", "cpu_usage", value, time.Now())
}

func TestDetect_StatisticalScenario(t *testing.T) {
	repo := newFakeRepo()
	withBaseline(repo, 40, 10)
	d := newTestDetector(repo)

	r := detect(d, 85)
	require.NotNil(t, r)
	assert.True(t, r.IsAnomaly)
	assert.Equal(t, models.ModelTypeStatistical, r.ModelType)
	assert.InDelta(t, 4.5, r.ZScore, 1e-9)
	assert.Equal(t, models.SeverityError, r.Severity)
	assert.InDelta(t, 0.75, r.AnomalyScore, 1e-9)
	assert.InDelta(t, 0.75, r.Confidence, 1e-9)
	assert.Equal(t, 40.0, r.ExpectedValue)
	assert.Equal(t, 10.0, r.ExpectedMin)
	assert.Equal(t, 70.0, r.ExpectedMax)
}

func TestDetect_ZThresholdIsStrict(t *testing.T) {
	repo := newFakeRepo()
	withBaseline(repo, 40, 10)
	d := newTestDetector(repo)

	r := detect(d, 40+3.0001*10)
	require.NotNil(t, r)
	assert.Equal(t, models.SeverityWarning, r.Severity)

	assert.Nil(t, detect(d, 40+2.9999*10))
	assert.Nil(t, detect(d, 40-2.9999*10))

	low := detect(d, 40-3.5*10)
	require.NotNil(t, low, "deviation below the mean counts too")
}

func TestDetect_SeverityBoundaries(t *testing.T) {
	repo := newFakeRepo()
	withBaseline(repo, 40, 10)
	d := newTestDetector(repo)

	tests := []struct {
		z    float64
		want models.Severity
	}{
		{3.5, models.SeverityWarning},
		{4.0, models.SeverityWarning},
		{4.0001, models.SeverityError},
		{5.0, models.SeverityError},
		{5.0001, models.SeverityCritical},
		{9, models.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("z=%v", tt.z), func(t *testing.T) {
			r := detect(d, 40+tt.z*10)
			require.NotNil(t, r)
			assert.Equal(t, tt.want, r.Severity)
			assert.LessOrEqual(t, r.AnomalyScore, 1.0)
			assert.LessOrEqual(t, r.Confidence, 0.99)
		})
	}
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, models.SeverityCritical, severityFor(0, 0.91))
	assert.Equal(t, models.SeverityError, severityFor(0, 0.9))
	assert.Equal(t, models.SeverityWarning, severityFor(0, 0.7))
	assert.Equal(t, models.SeverityInfo, severityFor(0, 0.5))
}

func TestDetect_NoBaselineOrFlatBaseline(t *testing.T) {
	repo := newFakeRepo()
	d := newTestDetector(repo)
	assert.Nil(t, detect(d, 1e9))

	repo2 := newFakeRepo()
	withBaseline(repo2, 40, 0)
	assert.Nil(t, detect(newTestDetector(repo2), 1e9))
}

func TestDetect_CachesLookups(t *testing.T) {
	repo := newFakeRepo()
	withBaseline(repo, 40, 10)
	d := newTestDetector(repo)

	for i := 0; i < 5; i++ {
		detect(d, 50)
	}
	assert.Equal(t, 1, repo.baselineCalls)
	assert.Equal(t, 1, repo.modelCalls, "absent model is cached too")
}

func TestDetect_ModelStoreErrorFallsBackAndIsNotCached(t *testing.T) {
	repo := newFakeRepo()
	withBaseline(repo, 40, 10)
	repo.modelErr = errors.New("database is locked")
	d := newTestDetector(repo)

	r := detect(d, 85)
	require.NotNil(t, r)
	assert.Equal(t, models.ModelTypeStatistical, r.ModelType)

	detect(d, 85)
	assert.Equal(t, 2, repo.modelCalls)
}

func TestDetect_CorruptModelFallsBackToStatistical(t *testing.T) {
	repo := newFakeRepo()
	withBaseline(repo, 40, 10)
	repo.models[models.SeriesKey("dev-1", "cpu_usage")] = &models.TrainedModel{
		ID: "m1", DeviceID: "dev-1", MetricName: "cpu_usage", ModelData: []byte("garbage"), Version: 1, Active: true,
	}
	d := newTestDetector(repo)

	r := detect(d, 85)
	require.NotNil(t, r)
	assert.Equal(t, models.ModelTypeStatistical, r.ModelType)
}

// leafForest is a single-leaf forest: every point scores -0.5, so the
// decision value is -0.5 - offset.
func leafForest(offset float64) []byte {
	return []byte(fmt.Sprintf(`{"trees":[{"n":256,"leaf":true}],"num_trees":1,"sub_sample_size":256,"max_depth":8,"num_features":1,"offset":%v}`, offset))
}

func TestDetect_ModelVerdicts(t *testing.T) {
	t.Run("anomaly label maps raw score", func(t *testing.T) {
		repo := newFakeRepo()
		withBaseline(repo, 40, 10)
		repo.models[models.SeriesKey("dev-1", "cpu_usage")] = &models.TrainedModel{
			ID: "m1", DeviceID: "dev-1", MetricName: "cpu_usage", ModelData: leafForest(-0.2), Version: 2, Active: true,
		}
		d := newTestDetector(repo)

		r := detect(d, 41)
		require.NotNil(t, r)
		assert.Equal(t, models.ModelTypeTreeEnsemble, r.ModelType)
		// raw = -0.5 + 0.2 = -0.3 -> score 0.8
		assert.InDelta(t, 0.8, r.AnomalyScore, 1e-9)
		assert.Equal(t, models.SeverityError, r.Severity)
		assert.InDelta(t, 0.8, r.Confidence, 1e-9)
		lo, hi := repo.baselines[models.SeriesKey("dev-1", "cpu_usage")].ExpectedRange(0.95)
		assert.Equal(t, lo, r.ExpectedMin)
		assert.Equal(t, hi, r.ExpectedMax)
		assert.Equal(t, 2, r.Metadata["model_version"])
	})

	t.Run("normal label still runs the z test", func(t *testing.T) {
		repo := newFakeRepo()
		withBaseline(repo, 40, 10)
		repo.models[models.SeriesKey("dev-1", "cpu_usage")] = &models.TrainedModel{
			ID: "m1", DeviceID: "dev-1", MetricName: "cpu_usage", ModelData: leafForest(-1), Version: 1, Active: true,
		}
		d := newTestDetector(repo)

		r := detect(d, 85)
		require.NotNil(t, r)
		assert.Equal(t, models.ModelTypeStatistical, r.ModelType)
		assert.Equal(t, models.SeverityError, r.Severity)

		assert.Nil(t, detect(d, 45))
	})

	t.Run("score is clamped", func(t *testing.T) {
		repo := newFakeRepo()
		withBaseline(repo, 40, 10)
		repo.models[models.SeriesKey("dev-1", "cpu_usage")] = &models.TrainedModel{
			ID: "m1", DeviceID: "dev-1", MetricName: "cpu_usage", ModelData: leafForest(1), Version: 1, Active: true,
		}
		r := detect(newTestDetector(repo), 40)
		require.NotNil(t, r)
		assert.Equal(t, 1.0, r.AnomalyScore)
		assert.Equal(t, 0.99, r.Confidence)
		assert.Equal(t, models.SeverityCritical, r.Severity)
	})
}

func normalHistory(n int, mean, std float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + std*rng.NormFloat64()
	}
	return out
}

func TestComputeBaseline(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	b, err := ComputeBaseline("dev-1", "cpu_usage", values, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 50.5, b.Mean)
	assert.Equal(t, 50.5, b.Median)
	assert.Equal(t, 1.0, b.Min)
	assert.Equal(t, 100.0, b.Max)
	assert.Equal(t, 100, b.Count)
	assert.InDelta(t, 28.866, b.StdDev, 1e-3)
	assert.LessOrEqual(t, b.P25, b.P75)
	assert.LessOrEqual(t, b.P75, b.P95)
	assert.LessOrEqual(t, b.P95, b.P99)

	_, err = ComputeBaseline("dev-1", "cpu_usage", nil, time.Now())
	assert.Error(t, err)
}
