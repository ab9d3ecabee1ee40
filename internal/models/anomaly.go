package models

import "time"

// AnomalyResult is the transient verdict of the detector for one sample.
type AnomalyResult struct {
	IsAnomaly     bool           `json:"is_anomaly"`
	AnomalyScore  float64        `json:"anomaly_score"`
	Confidence    float64        `json:"confidence"`
	Severity      Severity       `json:"severity"`
	ExpectedValue float64        `json:"expected_value"`
	ExpectedMin   float64        `json:"expected_min"`
	ExpectedMax   float64        `json:"expected_max"`
	ModelType     ModelType      `json:"model_type"`
	ZScore        float64        `json:"z_score"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AnomalyDetection is a persisted anomaly. Retained for 90 days by default.
type AnomalyDetection struct {
	ID            string         `json:"id" db:"id"`
	DeviceID      string         `json:"device_id" db:"device_id"`
	MetricName    string         `json:"metric_name" db:"metric_name"`
	DetectedAt    time.Time      `json:"detected_at" db:"detected_at"`
	MetricValue   float64        `json:"metric_value" db:"metric_value"`
	ExpectedValue float64        `json:"expected_value" db:"expected_value"`
	ExpectedMin   float64        `json:"expected_min" db:"expected_min"`
	ExpectedMax   float64        `json:"expected_max" db:"expected_max"`
	AnomalyScore  float64        `json:"anomaly_score" db:"anomaly_score"`
	ModelType     ModelType      `json:"model_type" db:"model_type"`
	Confidence    float64        `json:"confidence" db:"confidence"`
	Severity      Severity       `json:"severity" db:"severity"`
	AlertID       string         `json:"alert_id,omitempty" db:"alert_id"`
	FalsePositive bool           `json:"false_positive" db:"false_positive"`
	Metadata      map[string]any `json:"metadata,omitempty" db:"-"`
}

// NewDetection builds the persisted form of a detector verdict.
func NewDetection(deviceID, metricName string, value float64, ts time.Time, r *AnomalyResult) *AnomalyDetection {
	return &AnomalyDetection{
		DeviceID:      deviceID,
		MetricName:    metricName,
		DetectedAt:    ts,
		MetricValue:   value,
		ExpectedValue: r.ExpectedValue,
		ExpectedMin:   r.ExpectedMin,
		ExpectedMax:   r.ExpectedMax,
		AnomalyScore:  r.AnomalyScore,
		ModelType:     r.ModelType,
		Confidence:    r.Confidence,
		Severity:      r.Severity,
		Metadata:      r.Metadata,
	}
}

// AnomalySummary aggregates detections over a period.
type AnomalySummary struct {
	Since          time.Time         `json:"since"`
	Total          int               `json:"total"`
	BySeverity     map[Severity]int  `json:"by_severity"`
	ByModelType    map[ModelType]int `json:"by_model_type"`
	FalsePositives int               `json:"false_positives"`
}

// MetricSample is one raw metric observation.
type MetricSample struct {
	DeviceID   string    `json:"device_id" db:"device_id"`
	MetricName string    `json:"metric_name" db:"metric_name"`
	Value      float64   `json:"value" db:"value"`
	Timestamp  time.Time `json:"timestamp" db:"ts"`
}
