package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

type correlationRow struct {
	ID                 string  `db:"id"`
	CorrelationGroupID string  `db:"correlation_group_id"`
	AlertIDs           string  `db:"alert_ids"`
	RootCauseAlertID   string  `db:"root_cause_alert_id"`
	CorrelationType    string  `db:"correlation_type"`
	Confidence         float64 `db:"confidence"`
	DetectedAt         int64   `db:"detected_at"`
	WindowStart        int64   `db:"window_start"`
	WindowEnd          int64   `db:"window_end"`
	ImpactScore        float64 `db:"impact_score"`
	Metadata           string  `db:"metadata"`
}

func (r *correlationRow) toModel() (*models.AlertCorrelation, error) {
	c := &models.AlertCorrelation{
		ID:                 r.ID,
		CorrelationGroupID: r.CorrelationGroupID,
		RootCauseAlertID:   r.RootCauseAlertID,
		CorrelationType:    models.CorrelationType(r.CorrelationType),
		Confidence:         r.Confidence,
		DetectedAt:         fromMillis(r.DetectedAt),
		WindowStart:        fromMillis(r.WindowStart),
		WindowEnd:          fromMillis(r.WindowEnd),
		ImpactScore:        r.ImpactScore,
		Metadata:           decodeMetadata(r.Metadata),
	}
	if err := json.Unmarshal([]byte(r.AlertIDs), &c.AlertIDs); err != nil {
		return nil, fmt.Errorf("decode alert ids of %s: %w", r.ID, err)
	}
	return c, nil
}

const correlationColumns = `id, correlation_group_id, alert_ids, root_cause_alert_id, correlation_type,
    confidence, detected_at, window_start, window_end, impact_score, metadata`

func (s *SQLStore) SaveCorrelation(ctx context.Context, c *models.AlertCorrelation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	ids, err := json.Marshal(c.AlertIDs)
	if err != nil {
		return fmt.Errorf("encode alert ids: %w", err)
	}
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO alert_correlations(`+correlationColumns+`)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)`),
		c.ID, c.CorrelationGroupID, string(ids), c.RootCauseAlertID, string(c.CorrelationType),
		c.Confidence, toMillis(c.DetectedAt), toMillis(c.WindowStart), toMillis(c.WindowEnd),
		c.ImpactScore, meta,
	)
	if err != nil {
		return fmt.Errorf("insert correlation: %w", err)
	}
	return nil
}

func (s *SQLStore) QueryCorrelations(ctx context.Context, q CorrelationQuery) ([]*models.AlertCorrelation, error) {
	query := `SELECT ` + correlationColumns + ` FROM alert_correlations WHERE 1=1`
	args := []any{}

	if q.Type != "" {
		query += ` AND correlation_type = ?`
		args = append(args, string(q.Type))
	}
	if q.MinImpact > 0 {
		query += ` AND impact_score >= ?`
		args = append(args, q.MinImpact)
	}
	if !q.Since.IsZero() {
		query += ` AND detected_at >= ?`
		args = append(args, toMillis(q.Since))
	}
	query += ` ORDER BY detected_at DESC, impact_score DESC` + limitClause(q.Limit, 0)

	var rows []correlationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query correlations: %w", err)
	}
	out := make([]*models.AlertCorrelation, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
