package models

import (
	"strings"
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusOpen   AlertStatus = "open"
	AlertStatusClosed AlertStatus = "closed"
)

// Alert types produced by this subsystem.
const (
	AlertTypeAnomaly    = "anomaly"
	AlertTypePredictive = "predictive"
)

// Alert categories used for root-cause scoring.
const (
	CategoryNetwork        = "network"
	CategoryInfrastructure = "infrastructure"
	CategoryHardware       = "hardware"
	CategoryDatabase       = "database"
	CategoryStorage        = "storage"
	CategoryApplication    = "application"
	CategoryService        = "service"
	CategoryOther          = "other"
)

// MetadataMetricName is the metadata key carrying the explicit metric of an alert.
const MetadataMetricName = "metric_name"

// Alert is a row of the surrounding alerting system. This subsystem creates
// and reads alerts but does not own their full lifecycle.
type Alert struct {
	ID                 string         `json:"id" db:"id"`
	DeviceID           string         `json:"device_id" db:"device_id"`
	AlertType          string         `json:"alert_type" db:"alert_type"`
	MetricName         string         `json:"metric_name,omitempty" db:"metric_name"`
	Category           string         `json:"category" db:"category"`
	Severity           Severity       `json:"severity" db:"severity"`
	Title              string         `json:"title" db:"title"`
	Message            string         `json:"message" db:"message"`
	Status             AlertStatus    `json:"status" db:"status"`
	IsSmartAlert       bool           `json:"is_smart_alert" db:"is_smart_alert"`
	AnomalyID          string         `json:"anomaly_id,omitempty" db:"anomaly_id"`
	CorrelationGroupID string         `json:"correlation_group_id,omitempty" db:"correlation_group_id"`
	PriorityScore      float64        `json:"priority_score" db:"priority_score"`
	MLConfidence       float64        `json:"ml_confidence" db:"ml_confidence"`
	Suppressed         bool           `json:"suppressed" db:"suppressed"`
	SuppressionReason  string         `json:"suppression_reason,omitempty" db:"suppression_reason"`
	NoiseScore         float64        `json:"noise_score" db:"noise_score"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
	ClosedAt           *time.Time     `json:"closed_at,omitempty" db:"closed_at"`
	Metadata           map[string]any `json:"metadata,omitempty" db:"-"`
}

// ExplicitMetric returns the metric the alert was raised for, taken from the
// MetricName column or, failing that, the metadata map. Empty when unknown.
func (a *Alert) ExplicitMetric() string {
	if a.MetricName != "" {
		return a.MetricName
	}
	if v, ok := a.Metadata[MetadataMetricName].(string); ok {
		return v
	}
	return ""
}

// CategoryForMetric classifies a metric name into an alert category.
// Unrecognised metrics are CategoryOther.
func CategoryForMetric(metric string) string {
	m := strings.ToLower(metric)
	switch {
	case strings.HasPrefix(m, "network") || strings.Contains(m, "bandwidth") || strings.Contains(m, "packet"):
		return CategoryNetwork
	case strings.HasPrefix(m, "disk"):
		return CategoryStorage
	case strings.HasPrefix(m, "cpu") || strings.HasPrefix(m, "memory") || strings.Contains(m, "temperature"):
		return CategoryHardware
	case strings.Contains(m, "error") || strings.Contains(m, "latency"):
		return CategoryApplication
	case strings.Contains(m, "query") || strings.Contains(m, "db_"):
		return CategoryDatabase
	default:
		return CategoryOther
	}
}
