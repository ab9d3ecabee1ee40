package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

func TestTrainModel_InsufficientData(t *testing.T) {
	repo := newFakeRepo()
	repo.history[models.SeriesKey("dev-1", "cpu_usage")] = normalHistory(99, 40, 10, 1)
	d := newTestDetector(repo)

	ok, err := d.TrainModel(context.Background(), "dev-1", "cpu_usage", 30, 0.05)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, repo.models)

	_, err = d.Train(context.Background(), TrainRequest{DeviceID: "dev-1", MetricName: "cpu_usage"})
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestTrainModel_PersistsAndInvalidatesCaches(t *testing.T) {
	repo := newFakeRepo()
	key := models.SeriesKey("dev-1", "cpu_usage")
	repo.history[key] = normalHistory(500, 40, 10, 2)
	d := newTestDetector(repo)

	// Warm the caches with "nothing trained yet".
	assert.Nil(t, detect(d, 200))

	rec, err := d.Train(context.Background(), TrainRequest{DeviceID: "dev-1", MetricName: "cpu_usage"})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, 100, rec.NumEstimators)
	assert.Equal(t, 0.05, rec.Contamination)
	assert.Equal(t, 500, rec.TrainingSamples)
	assert.InDelta(t, 1-abs(rec.FalsePositiveRate-0.05), rec.Accuracy, 1e-12)
	assert.InDelta(t, 0.05, rec.FalsePositiveRate, 0.05)
	require.NotNil(t, rec.Baseline)
	assert.InDelta(t, 40, rec.Baseline.Mean, 2)

	r := detect(d, 200)
	require.NotNil(t, r, "caches must be invalidated after training")
	assert.Equal(t, models.ModelTypeTreeEnsemble, r.ModelType)
	assert.Greater(t, r.AnomalyScore, 0.5)

	ok, err := d.TrainModel(context.Background(), "dev-1", "cpu_usage", 0, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, repo.models[key].Version)
}

func TestTrainAll_CountsOutcomesWithoutAborting(t *testing.T) {
	repo := newFakeRepo()
	repo.devices = []*models.Device{
		{DeviceTopology: models.DeviceTopology{DeviceID: "dev-1"}},
		{DeviceTopology: models.DeviceTopology{DeviceID: "dev-2"}},
	}
	repo.history[models.SeriesKey("dev-1", "cpu_usage")] = normalHistory(150, 40, 10, 3)
	repo.history[models.SeriesKey("dev-2", "memory_usage")] = normalHistory(150, 60, 5, 4)
	repo.historyErr[models.SeriesKey("dev-2", "disk_usage")] = errors.New("connection reset")
	d := newTestDetector(repo)

	report, err := d.TrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Trained)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 5, report.Skipped)
}

func TestTrainAll_StopsOnCancelledContext(t *testing.T) {
	repo := newFakeRepo()
	repo.devices = []*models.Device{{DeviceTopology: models.DeviceTopology{DeviceID: "dev-1"}}}
	cfg := DefaultConfig()
	cfg.PairDelay = time.Hour
	d := NewDetector(repo, repo, repo, Caches{}, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := d.TrainAll(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, report.Trained+report.Skipped+report.Failed, "first pair runs immediately")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
