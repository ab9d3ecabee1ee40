package db

import (
	"context"
	"fmt"
	"time"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

type sampleRow struct {
	DeviceID   string  `db:"device_id"`
	MetricName string  `db:"metric_name"`
	Value      float64 `db:"value"`
	TS         int64   `db:"ts"`
}

func (s *SQLStore) AppendSample(ctx context.Context, sample *models.MetricSample) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO metric_samples(device_id, metric_name, value, ts) VALUES(?,?,?,?)
    `), sample.DeviceID, sample.MetricName, sample.Value, toMillis(sample.Timestamp))
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (s *SQLStore) HistoricalValues(ctx context.Context, deviceID, metricName string, since time.Time) ([]float64, error) {
	var values []float64
	err := s.db.SelectContext(ctx, &values, s.db.Rebind(`
        SELECT value FROM metric_samples
        WHERE device_id = ? AND metric_name = ? AND ts >= ?
        ORDER BY ts ASC
    `), deviceID, metricName, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("query historical values: %w", err)
	}
	return values, nil
}

func (s *SQLStore) QuerySamples(ctx context.Context, deviceID, metricName string, since time.Time, limit int) ([]*models.MetricSample, error) {
	// Newest rows win when a limit applies; they are re-ordered below.
	query := `SELECT device_id, metric_name, value, ts FROM metric_samples
        WHERE device_id = ? AND metric_name = ? AND ts >= ?
        ORDER BY ts DESC` + limitClause(limit, 0)

	var rows []sampleRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), deviceID, metricName, toMillis(since)); err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}

	out := make([]*models.MetricSample, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = &models.MetricSample{
			DeviceID:   r.DeviceID,
			MetricName: r.MetricName,
			Value:      r.Value,
			Timestamp:  fromMillis(r.TS),
		}
	}
	return out, nil
}

func (s *SQLStore) PurgeSamples(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM metric_samples WHERE ts < ?`), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("purge samples: %w", err)
	}
	return res.RowsAffected()
}
