package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

type detectionRow struct {
	ID            string         `db:"id"`
	DeviceID      string         `db:"device_id"`
	MetricName    string         `db:"metric_name"`
	DetectedAt    int64          `db:"detected_at"`
	MetricValue   float64        `db:"metric_value"`
	ExpectedValue float64        `db:"expected_value"`
	ExpectedMin   float64        `db:"expected_min"`
	ExpectedMax   float64        `db:"expected_max"`
	AnomalyScore  float64        `db:"anomaly_score"`
	ModelType     string         `db:"model_type"`
	Confidence    float64        `db:"confidence"`
	Severity      string         `db:"severity"`
	AlertID       sql.NullString `db:"alert_id"`
	FalsePositive bool           `db:"false_positive"`
	Metadata      string         `db:"metadata"`
}

func (r *detectionRow) toModel() *models.AnomalyDetection {
	return &models.AnomalyDetection{
		ID:            r.ID,
		DeviceID:      r.DeviceID,
		MetricName:    r.MetricName,
		DetectedAt:    fromMillis(r.DetectedAt),
		MetricValue:   r.MetricValue,
		ExpectedValue: r.ExpectedValue,
		ExpectedMin:   r.ExpectedMin,
		ExpectedMax:   r.ExpectedMax,
		AnomalyScore:  r.AnomalyScore,
		ModelType:     models.ModelType(r.ModelType),
		Confidence:    r.Confidence,
		Severity:      models.Severity(r.Severity),
		AlertID:       r.AlertID.String,
		FalsePositive: r.FalsePositive,
		Metadata:      decodeMetadata(r.Metadata),
	}
}

const detectionColumns = `id, device_id, metric_name, detected_at, metric_value, expected_value, expected_min,
    expected_max, anomaly_score, model_type, confidence, severity, alert_id, false_positive, metadata`

func (s *SQLStore) SaveDetection(ctx context.Context, d *models.AnomalyDetection) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	meta, err := encodeMetadata(d.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO anomaly_detections(`+detectionColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		d.ID, d.DeviceID, d.MetricName, toMillis(d.DetectedAt), d.MetricValue, d.ExpectedValue,
		d.ExpectedMin, d.ExpectedMax, d.AnomalyScore, string(d.ModelType), d.Confidence,
		string(d.Severity), nullString(d.AlertID), d.FalsePositive, meta,
	)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

func (s *SQLStore) GetDetection(ctx context.Context, id string) (*models.AnomalyDetection, error) {
	var row detectionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+detectionColumns+` FROM anomaly_detections WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get detection %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *SQLStore) QueryDetections(ctx context.Context, q DetectionQuery) ([]*models.AnomalyDetection, error) {
	query := `SELECT ` + detectionColumns + ` FROM anomaly_detections WHERE 1=1`
	args := []any{}

	if q.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, q.DeviceID)
	}
	if q.MetricName != "" {
		query += ` AND metric_name = ?`
		args = append(args, q.MetricName)
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(q.Severity))
	}
	if q.ModelType != "" {
		query += ` AND model_type = ?`
		args = append(args, string(q.ModelType))
	}
	if !q.Since.IsZero() {
		query += ` AND detected_at >= ?`
		args = append(args, toMillis(q.Since))
	}
	if !q.Until.IsZero() {
		query += ` AND detected_at <= ?`
		args = append(args, toMillis(q.Until))
	}
	query += ` ORDER BY detected_at DESC` + limitClause(q.Limit, q.Offset)

	var rows []detectionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	out := make([]*models.AnomalyDetection, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *SQLStore) LinkDetectionAlert(ctx context.Context, detectionID, alertID string) error {
	return s.execOne(ctx, "link detection alert",
		`UPDATE anomaly_detections SET alert_id = ? WHERE id = ?`, alertID, detectionID)
}

func (s *SQLStore) MarkDetectionFalsePositive(ctx context.Context, detectionID string) error {
	return s.execOne(ctx, "mark false positive",
		`UPDATE anomaly_detections SET false_positive = ? WHERE id = ?`, true, detectionID)
}

func (s *SQLStore) PurgeDetections(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM anomaly_detections WHERE detected_at < ?`), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("purge detections: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) AnomalySummary(ctx context.Context, since time.Time) (*models.AnomalySummary, error) {
	var rows []struct {
		Severity      string `db:"severity"`
		ModelType     string `db:"model_type"`
		FalsePositive bool   `db:"false_positive"`
		Count         int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
        SELECT severity, model_type, false_positive, COUNT(*) AS n
        FROM anomaly_detections WHERE detected_at >= ?
        GROUP BY severity, model_type, false_positive
    `), toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("summarise detections: %w", err)
	}

	summary := &models.AnomalySummary{
		Since:       since,
		BySeverity:  map[models.Severity]int{},
		ByModelType: map[models.ModelType]int{},
	}
	for _, r := range rows {
		summary.Total += r.Count
		summary.BySeverity[models.Severity(r.Severity)] += r.Count
		summary.ByModelType[models.ModelType(r.ModelType)] += r.Count
		if r.FalsePositive {
			summary.FalsePositives += r.Count
		}
	}
	return summary, nil
}

// execOne runs an UPDATE that must touch exactly one row.
func (s *SQLStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
