package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

type alertRow struct {
	ID                 string         `db:"id"`
	DeviceID           string         `db:"device_id"`
	AlertType          string         `db:"alert_type"`
	MetricName         string         `db:"metric_name"`
	Category           string         `db:"category"`
	Severity           string         `db:"severity"`
	Title              string         `db:"title"`
	Message            string         `db:"message"`
	Status             string         `db:"status"`
	IsSmartAlert       bool           `db:"is_smart_alert"`
	AnomalyID          sql.NullString `db:"anomaly_id"`
	CorrelationGroupID string         `db:"correlation_group_id"`
	PriorityScore      float64        `db:"priority_score"`
	MLConfidence       float64        `db:"ml_confidence"`
	Suppressed         bool           `db:"suppressed"`
	SuppressionReason  string         `db:"suppression_reason"`
	NoiseScore         float64        `db:"noise_score"`
	CreatedAt          int64          `db:"created_at"`
	UpdatedAt          int64          `db:"updated_at"`
	ClosedAt           sql.NullInt64  `db:"closed_at"`
	Metadata           string         `db:"metadata"`
}

func (r *alertRow) toModel() *models.Alert {
	a := &models.Alert{
		ID:                 r.ID,
		DeviceID:           r.DeviceID,
		AlertType:          r.AlertType,
		MetricName:         r.MetricName,
		Category:           r.Category,
		Severity:           models.Severity(r.Severity),
		Title:              r.Title,
		Message:            r.Message,
		Status:             models.AlertStatus(r.Status),
		IsSmartAlert:       r.IsSmartAlert,
		AnomalyID:          r.AnomalyID.String,
		CorrelationGroupID: r.CorrelationGroupID,
		PriorityScore:      r.PriorityScore,
		MLConfidence:       r.MLConfidence,
		Suppressed:         r.Suppressed,
		SuppressionReason:  r.SuppressionReason,
		NoiseScore:         r.NoiseScore,
		CreatedAt:          fromMillis(r.CreatedAt),
		UpdatedAt:          fromMillis(r.UpdatedAt),
		Metadata:           decodeMetadata(r.Metadata),
	}
	if r.ClosedAt.Valid {
		t := fromMillis(r.ClosedAt.Int64)
		a.ClosedAt = &t
	}
	return a
}

const alertColumns = `id, device_id, alert_type, metric_name, category, severity, title, message, status,
    is_smart_alert, anomaly_id, correlation_group_id, priority_score, ml_confidence, suppressed,
    suppression_reason, noise_score, created_at, updated_at, closed_at, metadata`

func (s *SQLStore) CreateAlert(ctx context.Context, a *models.Alert) (bool, error) {
	if a.AnomalyID != "" {
		existing, err := s.AlertByAnomaly(ctx, a.AnomalyID)
		if err == nil {
			*a = *existing
			return false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = models.AlertStatusOpen
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	meta, err := encodeMetadata(a.Metadata)
	if err != nil {
		return false, err
	}
	var closedAt sql.NullInt64
	if a.ClosedAt != nil {
		closedAt = sql.NullInt64{Int64: toMillis(*a.ClosedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO alerts(`+alertColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		a.ID, a.DeviceID, a.AlertType, a.MetricName, a.Category, string(a.Severity), a.Title, a.Message,
		string(a.Status), a.IsSmartAlert, nullString(a.AnomalyID), a.CorrelationGroupID, a.PriorityScore,
		a.MLConfidence, a.Suppressed, a.SuppressionReason, a.NoiseScore, toMillis(a.CreatedAt),
		toMillis(a.UpdatedAt), closedAt, meta,
	)
	if err != nil {
		// A concurrent writer may have won the unique anomaly_id index.
		if a.AnomalyID != "" {
			if existing, lookupErr := s.AlertByAnomaly(ctx, a.AnomalyID); lookupErr == nil {
				*a = *existing
				return false, nil
			}
		}
		return false, fmt.Errorf("insert alert: %w", err)
	}
	return true, nil
}

func (s *SQLStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return s.getAlert(ctx, `id = ?`, id)
}

func (s *SQLStore) AlertByAnomaly(ctx context.Context, anomalyID string) (*models.Alert, error) {
	return s.getAlert(ctx, `anomaly_id = ?`, anomalyID)
}

func (s *SQLStore) getAlert(ctx context.Context, where string, arg any) (*models.Alert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+alertColumns+` FROM alerts WHERE `+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLStore) QueryAlerts(ctx context.Context, q AlertQuery) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []any{}

	if q.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, q.DeviceID)
	}
	if q.MetricName != "" {
		query += ` AND metric_name = ?`
		args = append(args, q.MetricName)
	}
	if q.AlertType != "" {
		query += ` AND alert_type = ?`
		args = append(args, q.AlertType)
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(q.Severity))
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if q.Suppressed != nil {
		query += ` AND suppressed = ?`
		args = append(args, *q.Suppressed)
	}
	if q.SmartOnly {
		query += ` AND is_smart_alert = ?`
		args = append(args, true)
	}
	if q.MinPriority > 0 {
		query += ` AND priority_score >= ?`
		args = append(args, q.MinPriority)
	}
	if !q.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, toMillis(q.Since))
	}
	if !q.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, toMillis(q.Until))
	}
	if q.OldestFirst {
		query += ` ORDER BY created_at ASC, id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id ASC`
	}
	query += limitClause(q.Limit, q.Offset)

	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	out := make([]*models.Alert, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *SQLStore) CloseAlert(ctx context.Context, id string, closedAt time.Time, noiseScore float64) error {
	return s.execOne(ctx, "close alert",
		`UPDATE alerts SET status = ?, closed_at = ?, noise_score = ?, updated_at = ? WHERE id = ?`,
		string(models.AlertStatusClosed), toMillis(closedAt), noiseScore, toMillis(closedAt), id)
}

func (s *SQLStore) TagAlerts(ctx context.Context, alertIDs []string, groupID string) error {
	if len(alertIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(alertIDs)), ",")
	args := make([]any, 0, len(alertIDs)+2)
	args = append(args, groupID, toMillis(time.Now()))
	for _, id := range alertIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE alerts SET correlation_group_id = ?, updated_at = ? WHERE id IN (`+placeholders+`)`), args...)
	if err != nil {
		return fmt.Errorf("tag alerts with %s: %w", groupID, err)
	}
	return nil
}
