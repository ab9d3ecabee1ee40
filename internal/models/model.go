package models

import "time"

// ModelType identifies which detector produced an anomaly.
type ModelType string

const (
	ModelTypeTreeEnsemble ModelType = "tree_ensemble"
	ModelTypeStatistical  ModelType = "statistical"
)

// TrainedModel is one persisted version of an outlier model for a
// (device, metric) pair. At most one version per pair is Active.
type TrainedModel struct {
	ID                string    `json:"id" db:"id"`
	DeviceID          string    `json:"device_id" db:"device_id"`
	MetricName        string    `json:"metric_name" db:"metric_name"`
	ModelType         ModelType `json:"model_type" db:"model_type"`
	Version           int       `json:"version" db:"version"`
	Active            bool      `json:"active" db:"active"`
	ModelData         []byte    `json:"-" db:"model_data"`
	Contamination     float64   `json:"contamination" db:"contamination"`
	NumEstimators     int       `json:"num_estimators" db:"num_estimators"`
	TrainingSamples   int       `json:"training_samples" db:"training_samples"`
	Accuracy          float64   `json:"accuracy" db:"accuracy"`
	FalsePositiveRate float64   `json:"false_positive_rate" db:"false_positive_rate"`
	TrainedAt         time.Time `json:"trained_at" db:"trained_at"`
	Baseline          *Baseline `json:"baseline,omitempty" db:"-"`
}

// Key returns the "device:metric" key of the model.
func (m *TrainedModel) Key() string {
	return SeriesKey(m.DeviceID, m.MetricName)
}
