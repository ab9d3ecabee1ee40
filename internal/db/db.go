package db

import (
	"context"
	"errors"
	"time"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface of the smart alerts subsystem.
type Store interface {
	SampleStore
	DeviceStore
	ModelStore
	DetectionStore
	AlertStore
	CorrelationStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Metric samples ───────────────────────────────────────────────────────────

// SampleStore keeps the raw samples the detector trains on. It only holds the
// training window and is purged by the cleanup loop.
type SampleStore interface {
	AppendSample(ctx context.Context, s *models.MetricSample) error

	// HistoricalValues returns the values recorded since the given instant in
	// chronological order.
	HistoricalValues(ctx context.Context, deviceID, metricName string, since time.Time) ([]float64, error)

	// QuerySamples returns up to limit samples since the given instant in
	// chronological order. limit <= 0 means no limit.
	QuerySamples(ctx context.Context, deviceID, metricName string, since time.Time, limit int) ([]*models.MetricSample, error)

	PurgeSamples(ctx context.Context, before time.Time) (int64, error)
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// DeviceStore is the read side of the device directory plus the liveness
// bookkeeping done on ingest.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, d *models.Device) error

	// TouchDevice marks the device active and records when it was last seen,
	// creating a bare row if the device is unknown.
	TouchDevice(ctx context.Context, deviceID string, seen time.Time) error

	ListDevices(ctx context.Context, activeOnly bool, limit int) ([]*models.Device, error)

	// GetTopology returns ErrNotFound for unknown devices.
	GetTopology(ctx context.Context, deviceID string) (*models.DeviceTopology, error)
}

// ─── Trained models ───────────────────────────────────────────────────────────

// ModelStore persists versioned outlier models and their baselines.
type ModelStore interface {
	// SaveModel stores m as the new active version for its (device, metric)
	// pair. ID, Version and Active are assigned by the store. When
	// m.Baseline is set it replaces the stored baseline.
	SaveModel(ctx context.Context, m *models.TrainedModel) error

	// ActiveModel returns ErrNotFound when the pair has no active model.
	ActiveModel(ctx context.Context, deviceID, metricName string) (*models.TrainedModel, error)

	// ActiveBaseline returns ErrNotFound when the pair was never trained.
	ActiveBaseline(ctx context.Context, deviceID, metricName string) (*models.Baseline, error)

	// ListModelVersions returns all versions newest first.
	ListModelVersions(ctx context.Context, deviceID, metricName string) ([]*models.TrainedModel, error)

	// PruneModels keeps the newest keep versions per pair and deletes the rest.
	PruneModels(ctx context.Context, keep int) (int64, error)
}

// ─── Anomaly detections ───────────────────────────────────────────────────────

// DetectionQuery filters anomaly detections.
type DetectionQuery struct {
	DeviceID   string
	MetricName string
	Severity   models.Severity
	ModelType  models.ModelType
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// DetectionStore persists anomaly detections.
type DetectionStore interface {
	SaveDetection(ctx context.Context, d *models.AnomalyDetection) error
	GetDetection(ctx context.Context, id string) (*models.AnomalyDetection, error)
	QueryDetections(ctx context.Context, q DetectionQuery) ([]*models.AnomalyDetection, error)
	LinkDetectionAlert(ctx context.Context, detectionID, alertID string) error
	MarkDetectionFalsePositive(ctx context.Context, detectionID string) error
	PurgeDetections(ctx context.Context, before time.Time) (int64, error)
	AnomalySummary(ctx context.Context, since time.Time) (*models.AnomalySummary, error)
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

// AlertQuery filters alerts. Nil pointer fields are not applied.
type AlertQuery struct {
	DeviceID    string
	MetricName  string
	AlertType   string
	Severity    models.Severity
	Status      models.AlertStatus
	Suppressed  *bool
	SmartOnly   bool
	MinPriority float64
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
	OldestFirst bool
}

// AlertStore creates and reads alerts.
type AlertStore interface {
	// CreateAlert inserts a. When a.AnomalyID already has an alert, nothing is
	// inserted, a is overwritten with the stored row and created is false.
	CreateAlert(ctx context.Context, a *models.Alert) (created bool, err error)

	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	AlertByAnomaly(ctx context.Context, anomalyID string) (*models.Alert, error)
	QueryAlerts(ctx context.Context, q AlertQuery) ([]*models.Alert, error)

	// CloseAlert sets the alert closed and records its noise score.
	CloseAlert(ctx context.Context, id string, closedAt time.Time, noiseScore float64) error

	// TagAlerts stamps the correlation group id on every listed alert.
	TagAlerts(ctx context.Context, alertIDs []string, groupID string) error
}

// ─── Correlations ─────────────────────────────────────────────────────────────

// CorrelationQuery filters correlation groups.
type CorrelationQuery struct {
	Type      models.CorrelationType
	MinImpact float64
	Since     time.Time
	Limit     int
}

// CorrelationStore persists correlation groups.
type CorrelationStore interface {
	SaveCorrelation(ctx context.Context, c *models.AlertCorrelation) error
	QueryCorrelations(ctx context.Context, q CorrelationQuery) ([]*models.AlertCorrelation, error)
}
