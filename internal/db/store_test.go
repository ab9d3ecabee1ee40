package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.migrate(ctx))
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, v)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

// ─── Samples ──────────────────────────────────────────────────────────────────

func TestSamplesHistoryAndPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendSample(ctx, &models.MetricSample{
			DeviceID: "dev-1", MetricName: "cpu_usage", Value: float64(10 * i), Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.AppendSample(ctx, &models.MetricSample{
		DeviceID: "dev-2", MetricName: "cpu_usage", Value: 99, Timestamp: base,
	}))

	values, err := s.HistoricalValues(ctx, "dev-1", "cpu_usage", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 30, 40}, values)

	samples, err := s.QuerySamples(ctx, "dev-1", "cpu_usage", time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 30.0, samples[0].Value, "newest rows returned oldest first")
	assert.Equal(t, 40.0, samples[1].Value)
	assert.True(t, samples[1].Timestamp.Equal(base.Add(4*time.Hour)))

	n, err := s.PurgeSamples(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// ─── Devices ──────────────────────────────────────────────────────────────────

func TestDevicesTopology(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDevice(ctx, &models.Device{
		DeviceTopology: models.DeviceTopology{DeviceID: "dev-1", RackID: "r1", NetworkSegment: "seg-a", ServiceName: "api"},
		Active:         true,
	}))
	require.NoError(t, s.UpsertDevice(ctx, &models.Device{
		DeviceTopology: models.DeviceTopology{DeviceID: "dev-2", RackID: "r1"},
		Active:         false,
	}))
	require.NoError(t, s.TouchDevice(ctx, "dev-3", time.Now()))

	topo, err := s.GetTopology(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "r1", topo.RackID)
	assert.Equal(t, "seg-a", topo.NetworkSegment)
	assert.Equal(t, "api", topo.ServiceName)

	_, err = s.GetTopology(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	active, err := s.ListDevices(ctx, true, 0)
	require.NoError(t, err)
	ids := []string{}
	for _, d := range active {
		ids = append(ids, d.DeviceID)
	}
	assert.ElementsMatch(t, []string{"dev-1", "dev-3"}, ids)

	all, err := s.ListDevices(ctx, false, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// ─── Models ───────────────────────────────────────────────────────────────────

func TestSaveModelVersioningAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ActiveModel(ctx, "dev-1", "cpu_usage")
	assert.True(t, errors.Is(err, ErrNotFound))

	for i := 1; i <= 5; i++ {
		m := &models.TrainedModel{
			DeviceID:      "dev-1",
			MetricName:    "cpu_usage",
			ModelType:     models.ModelTypeTreeEnsemble,
			ModelData:     []byte(`{"trees":[]}`),
			Contamination: 0.05,
			NumEstimators: 100,
			Accuracy:      0.99,
			TrainedAt:     time.Now(),
			Baseline:      &models.Baseline{DeviceID: "dev-1", MetricName: "cpu_usage", Mean: float64(i), StdDev: 1, Count: 100},
		}
		require.NoError(t, s.SaveModel(ctx, m))
		assert.Equal(t, i, m.Version)
		assert.True(t, m.Active)
	}

	active, err := s.ActiveModel(ctx, "dev-1", "cpu_usage")
	require.NoError(t, err)
	assert.Equal(t, 5, active.Version)
	require.NotNil(t, active.Baseline)
	assert.Equal(t, 5.0, active.Baseline.Mean)
	assert.JSONEq(t, `{"trees":[]}`, string(active.ModelData))

	versions, err := s.ListModelVersions(ctx, "dev-1", "cpu_usage")
	require.NoError(t, err)
	require.Len(t, versions, 5)
	activeCount := 0
	for _, v := range versions {
		if v.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount, "exactly one active version per pair")

	pruned, err := s.PruneModels(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	versions, err = s.ListModelVersions(ctx, "dev-1", "cpu_usage")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, []int{5, 4, 3}, []int{versions[0].Version, versions[1].Version, versions[2].Version})
}

// ─── Detections ───────────────────────────────────────────────────────────────

func TestDetectionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &models.AnomalyDetection{
		DeviceID: "dev-1", MetricName: "cpu_usage", DetectedAt: now.Add(-100 * 24 * time.Hour),
		ModelType: models.ModelTypeStatistical, Severity: models.SeverityWarning,
	}
	fresh := &models.AnomalyDetection{
		DeviceID: "dev-1", MetricName: "cpu_usage", DetectedAt: now, MetricValue: 85,
		ModelType: models.ModelTypeStatistical, Severity: models.SeverityError,
		Metadata: map[string]any{"z_score": 4.5},
	}
	require.NoError(t, s.SaveDetection(ctx, old))
	require.NoError(t, s.SaveDetection(ctx, fresh))
	assert.NotEmpty(t, fresh.ID)

	require.NoError(t, s.LinkDetectionAlert(ctx, fresh.ID, "alert-1"))
	require.NoError(t, s.MarkDetectionFalsePositive(ctx, fresh.ID))

	got, err := s.GetDetection(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "alert-1", got.AlertID)
	assert.True(t, got.FalsePositive)
	assert.Equal(t, 4.5, got.Metadata["z_score"])

	err = s.MarkDetectionFalsePositive(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	errs, err := s.QueryDetections(ctx, DetectionQuery{Severity: models.SeverityError})
	require.NoError(t, err)
	assert.Len(t, errs, 1)

	summary, err := s.AnomalySummary(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.FalsePositives)
	assert.Equal(t, 1, summary.BySeverity[models.SeverityError])

	n, err := s.PurgeDetections(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

func TestCreateAlertIsIdempotentPerAnomaly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.Alert{DeviceID: "dev-1", AlertType: models.AlertTypeAnomaly, Severity: models.SeverityError, AnomalyID: "an-1", Title: "first"}
	created, err := s.CreateAlert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := &models.Alert{DeviceID: "dev-1", AlertType: models.AlertTypeAnomaly, Severity: models.SeverityError, AnomalyID: "an-1", Title: "second"}
	created, err = s.CreateAlert(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "first", second.Title)

	// Alerts without an anomaly never collide on the unique index.
	for i := 0; i < 2; i++ {
		created, err = s.CreateAlert(ctx, &models.Alert{DeviceID: "dev-1", AlertType: models.AlertTypePredictive, Severity: models.SeverityWarning})
		require.NoError(t, err)
		assert.True(t, created)
	}

	all, err := s.QueryAlerts(ctx, AlertQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestQueryAlertsFiltersAndTagging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	suppressed := true

	alerts := []*models.Alert{
		{DeviceID: "dev-1", AlertType: "anomaly", MetricName: "cpu_usage", Severity: models.SeverityCritical, PriorityScore: 90, IsSmartAlert: true, CreatedAt: base},
		{DeviceID: "dev-2", AlertType: "anomaly", MetricName: "disk_usage", Severity: models.SeverityError, PriorityScore: 60, CreatedAt: base.Add(time.Minute)},
		{DeviceID: "dev-2", AlertType: "predictive", Severity: models.SeverityWarning, PriorityScore: 50, Suppressed: true, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, a := range alerts {
		_, err := s.CreateAlert(ctx, a)
		require.NoError(t, err)
	}

	got, err := s.QueryAlerts(ctx, AlertQuery{MinPriority: 55, OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, alerts[0].ID, got[0].ID)

	got, err = s.QueryAlerts(ctx, AlertQuery{Suppressed: &suppressed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, alerts[2].ID, got[0].ID)

	got, err = s.QueryAlerts(ctx, AlertQuery{DeviceID: "dev-2", MetricName: "disk_usage"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.QueryAlerts(ctx, AlertQuery{SmartOnly: true})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, s.TagAlerts(ctx, []string{alerts[0].ID, alerts[1].ID}, "temporal_1"))
	require.NoError(t, s.TagAlerts(ctx, []string{alerts[1].ID}, "metric_cpu_1"))
	a0, err := s.GetAlert(ctx, alerts[0].ID)
	require.NoError(t, err)
	a1, err := s.GetAlert(ctx, alerts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "temporal_1", a0.CorrelationGroupID)
	assert.Equal(t, "metric_cpu_1", a1.CorrelationGroupID, "last writer wins")

	closedAt := base.Add(time.Hour)
	require.NoError(t, s.CloseAlert(ctx, alerts[0].ID, closedAt, 1.0))
	a0, err = s.GetAlert(ctx, alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusClosed, a0.Status)
	assert.Equal(t, 1.0, a0.NoiseScore)
	require.NotNil(t, a0.ClosedAt)
	assert.True(t, a0.ClosedAt.Equal(closedAt))
}

// ─── Correlations ─────────────────────────────────────────────────────────────

func TestCorrelationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	c := &models.AlertCorrelation{
		CorrelationGroupID: "device_rack_r1_1",
		AlertIDs:           []string{"a1", "a2"},
		RootCauseAlertID:   "a1",
		CorrelationType:    models.CorrelationDeviceCascade,
		Confidence:         0.85,
		DetectedAt:         now,
		WindowStart:        now.Add(-10 * time.Minute),
		WindowEnd:          now,
		ImpactScore:        72,
		Metadata:           map[string]any{"bucket": "rack_r1"},
	}
	require.NoError(t, s.SaveCorrelation(ctx, c))
	require.NoError(t, s.SaveCorrelation(ctx, &models.AlertCorrelation{
		CorrelationGroupID: "temporal_1", AlertIDs: []string{"a3", "a4"},
		CorrelationType: models.CorrelationTemporal, Confidence: 0.7, DetectedAt: now, ImpactScore: 20,
	}))

	got, err := s.QueryCorrelations(ctx, CorrelationQuery{MinImpact: 70})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a1", "a2"}, got[0].AlertIDs)
	assert.Equal(t, "rack_r1", got[0].Metadata["bucket"])
	assert.True(t, got[0].WindowStart.Equal(c.WindowStart))

	got, err = s.QueryCorrelations(ctx, CorrelationQuery{Type: models.CorrelationTemporal})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
