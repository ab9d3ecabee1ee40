package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

type deviceRow struct {
	DeviceID       string `db:"device_id"`
	RackID         string `db:"rack_id"`
	NetworkSegment string `db:"network_segment"`
	ServiceName    string `db:"service_name"`
	Active         bool   `db:"active"`
	LastSeen       int64  `db:"last_seen"`
}

func (r *deviceRow) toModel() *models.Device {
	return &models.Device{
		DeviceTopology: models.DeviceTopology{
			DeviceID:       r.DeviceID,
			RackID:         r.RackID,
			NetworkSegment: r.NetworkSegment,
			ServiceName:    r.ServiceName,
		},
		Active:   r.Active,
		LastSeen: fromMillis(r.LastSeen),
	}
}

func (s *SQLStore) UpsertDevice(ctx context.Context, d *models.Device) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO devices(device_id, rack_id, network_segment, service_name, active, last_seen)
        VALUES(?,?,?,?,?,?)
        ON CONFLICT(device_id) DO UPDATE SET
            rack_id = excluded.rack_id,
            network_segment = excluded.network_segment,
            service_name = excluded.service_name,
            active = excluded.active,
            last_seen = excluded.last_seen
    `), d.DeviceID, d.RackID, d.NetworkSegment, d.ServiceName, d.Active, toMillis(d.LastSeen))
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.DeviceID, err)
	}
	return nil
}

func (s *SQLStore) TouchDevice(ctx context.Context, deviceID string, seen time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO devices(device_id, active, last_seen) VALUES(?, ?, ?)
        ON CONFLICT(device_id) DO UPDATE SET active = excluded.active, last_seen = excluded.last_seen
    `), deviceID, true, toMillis(seen))
	if err != nil {
		return fmt.Errorf("touch device %s: %w", deviceID, err)
	}
	return nil
}

func (s *SQLStore) ListDevices(ctx context.Context, activeOnly bool, limit int) ([]*models.Device, error) {
	query := `SELECT device_id, rack_id, network_segment, service_name, active, last_seen FROM devices`
	var args []any
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY last_seen DESC, device_id ASC` + limitClause(limit, 0)

	var rows []deviceRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]*models.Device, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *SQLStore) GetTopology(ctx context.Context, deviceID string) (*models.DeviceTopology, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
        SELECT device_id, rack_id, network_segment, service_name, active, last_seen
        FROM devices WHERE device_id = ?
    `), deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topology %s: %w", deviceID, err)
	}
	return &row.toModel().DeviceTopology, nil
}
