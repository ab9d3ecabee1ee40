package models

import "time"

// CorrelationType names the strategy that produced a correlation group.
type CorrelationType string

const (
	CorrelationTemporal      CorrelationType = "temporal"
	CorrelationDeviceCascade CorrelationType = "device_cascade"
	CorrelationMetricPattern CorrelationType = "metric_pattern"
)

// AlertCorrelation is one correlation group found by a sweep. Groups are
// created fresh on every sweep and never updated in place.
type AlertCorrelation struct {
	ID                 string          `json:"id" db:"id"`
	CorrelationGroupID string          `json:"correlation_group_id" db:"correlation_group_id"`
	AlertIDs           []string        `json:"alert_ids" db:"-"`
	RootCauseAlertID   string          `json:"root_cause_alert_id,omitempty" db:"root_cause_alert_id"`
	CorrelationType    CorrelationType `json:"correlation_type" db:"correlation_type"`
	Confidence         float64         `json:"confidence" db:"confidence"`
	DetectedAt         time.Time       `json:"detected_at" db:"detected_at"`
	WindowStart        time.Time       `json:"window_start" db:"window_start"`
	WindowEnd          time.Time       `json:"window_end" db:"window_end"`
	ImpactScore        float64         `json:"impact_score" db:"impact_score"`
	Metadata           map[string]any  `json:"metadata,omitempty" db:"-"`
}

// DeviceTopology places a device in the rack / network / service graph.
type DeviceTopology struct {
	DeviceID       string `json:"device_id" db:"device_id"`
	RackID         string `json:"rack_id,omitempty" db:"rack_id"`
	NetworkSegment string `json:"network_segment,omitempty" db:"network_segment"`
	ServiceName    string `json:"service_name,omitempty" db:"service_name"`
}

// Device is a row of the device directory.
type Device struct {
	DeviceTopology
	Active   bool      `json:"active" db:"active"`
	LastSeen time.Time `json:"last_seen" db:"last_seen"`
}
