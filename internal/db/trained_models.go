package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

type modelRow struct {
	ID                string  `db:"id"`
	DeviceID          string  `db:"device_id"`
	MetricName        string  `db:"metric_name"`
	ModelType         string  `db:"model_type"`
	Version           int     `db:"version"`
	Active            bool    `db:"active"`
	ModelData         string  `db:"model_data"`
	Contamination     float64 `db:"contamination"`
	NumEstimators     int     `db:"num_estimators"`
	TrainingSamples   int     `db:"training_samples"`
	Accuracy          float64 `db:"accuracy"`
	FalsePositiveRate float64 `db:"false_positive_rate"`
	TrainedAt         int64   `db:"trained_at"`
}

func (r *modelRow) toModel() *models.TrainedModel {
	return &models.TrainedModel{
		ID:                r.ID,
		DeviceID:          r.DeviceID,
		MetricName:        r.MetricName,
		ModelType:         models.ModelType(r.ModelType),
		Version:           r.Version,
		Active:            r.Active,
		ModelData:         []byte(r.ModelData),
		Contamination:     r.Contamination,
		NumEstimators:     r.NumEstimators,
		TrainingSamples:   r.TrainingSamples,
		Accuracy:          r.Accuracy,
		FalsePositiveRate: r.FalsePositiveRate,
		TrainedAt:         fromMillis(r.TrainedAt),
	}
}

type baselineRow struct {
	DeviceID    string  `db:"device_id"`
	MetricName  string  `db:"metric_name"`
	Mean        float64 `db:"mean"`
	StdDev      float64 `db:"std_dev"`
	Median      float64 `db:"median"`
	P25         float64 `db:"p25"`
	P75         float64 `db:"p75"`
	P95         float64 `db:"p95"`
	P99         float64 `db:"p99"`
	MinValue    float64 `db:"min_value"`
	MaxValue    float64 `db:"max_value"`
	SampleCount int     `db:"sample_count"`
	ComputedAt  int64   `db:"computed_at"`
}

func (r *baselineRow) toModel() *models.Baseline {
	return &models.Baseline{
		DeviceID:   r.DeviceID,
		MetricName: r.MetricName,
		Mean:       r.Mean,
		StdDev:     r.StdDev,
		Median:     r.Median,
		P25:        r.P25,
		P75:        r.P75,
		P95:        r.P95,
		P99:        r.P99,
		Min:        r.MinValue,
		Max:        r.MaxValue,
		Count:      r.SampleCount,
		ComputedAt: fromMillis(r.ComputedAt),
	}
}

const modelColumns = `id, device_id, metric_name, model_type, version, active, model_data, contamination,
    num_estimators, training_samples, accuracy, false_positive_rate, trained_at`

func (s *SQLStore) SaveModel(ctx context.Context, m *models.TrainedModel) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save model: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var maxVersion int
	if err = tx.GetContext(ctx, &maxVersion, tx.Rebind(`
        SELECT COALESCE(MAX(version), 0) FROM trained_models WHERE device_id = ? AND metric_name = ?
    `), m.DeviceID, m.MetricName); err != nil {
		return fmt.Errorf("read model version: %w", err)
	}

	if _, err = tx.ExecContext(ctx, tx.Rebind(`
        UPDATE trained_models SET active = ? WHERE device_id = ? AND metric_name = ? AND active = ?
    `), false, m.DeviceID, m.MetricName, true); err != nil {
		return fmt.Errorf("deactivate models: %w", err)
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.Version = maxVersion + 1
	m.Active = true

	if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO trained_models(`+modelColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		m.ID, m.DeviceID, m.MetricName, string(m.ModelType), m.Version, m.Active, string(m.ModelData),
		m.Contamination, m.NumEstimators, m.TrainingSamples, m.Accuracy, m.FalsePositiveRate,
		toMillis(m.TrainedAt),
	); err != nil {
		return fmt.Errorf("insert model: %w", err)
	}

	if m.Baseline != nil {
		if err = upsertBaseline(ctx, tx, m.Baseline); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save model: %w", err)
	}
	return nil
}

func upsertBaseline(ctx context.Context, tx *sqlx.Tx, b *models.Baseline) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
        INSERT INTO baselines(device_id, metric_name, mean, std_dev, median, p25, p75, p95, p99,
            min_value, max_value, sample_count, computed_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(device_id, metric_name) DO UPDATE SET
            mean = excluded.mean,
            std_dev = excluded.std_dev,
            median = excluded.median,
            p25 = excluded.p25,
            p75 = excluded.p75,
            p95 = excluded.p95,
            p99 = excluded.p99,
            min_value = excluded.min_value,
            max_value = excluded.max_value,
            sample_count = excluded.sample_count,
            computed_at = excluded.computed_at
    `), b.DeviceID, b.MetricName, b.Mean, b.StdDev, b.Median, b.P25, b.P75, b.P95, b.P99,
		b.Min, b.Max, b.Count, toMillis(b.ComputedAt))
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

func (s *SQLStore) ActiveModel(ctx context.Context, deviceID, metricName string) (*models.TrainedModel, error) {
	var row modelRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+modelColumns+` FROM trained_models
        WHERE device_id = ? AND metric_name = ? AND active = ?
        ORDER BY version DESC LIMIT 1`), deviceID, metricName, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active model: %w", err)
	}
	m := row.toModel()

	b, err := s.ActiveBaseline(ctx, deviceID, metricName)
	switch {
	case err == nil:
		m.Baseline = b
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return m, nil
}

func (s *SQLStore) ActiveBaseline(ctx context.Context, deviceID, metricName string) (*models.Baseline, error) {
	var row baselineRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
        SELECT device_id, metric_name, mean, std_dev, median, p25, p75, p95, p99,
            min_value, max_value, sample_count, computed_at
        FROM baselines WHERE device_id = ? AND metric_name = ?
    `), deviceID, metricName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLStore) ListModelVersions(ctx context.Context, deviceID, metricName string) ([]*models.TrainedModel, error) {
	var rows []modelRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT `+modelColumns+` FROM trained_models
        WHERE device_id = ? AND metric_name = ? ORDER BY version DESC`), deviceID, metricName); err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	out := make([]*models.TrainedModel, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *SQLStore) PruneModels(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
        DELETE FROM trained_models
        WHERE active = ? AND (
            SELECT COUNT(*) FROM trained_models newer
            WHERE newer.device_id = trained_models.device_id
              AND newer.metric_name = trained_models.metric_name
              AND newer.version > trained_models.version
        ) >= ?
    `), false, keep)
	if err != nil {
		return 0, fmt.Errorf("prune models: %w", err)
	}
	return res.RowsAffected()
}
