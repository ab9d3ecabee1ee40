package smartalerts

import (
	"time"

	"github.com/saashqdev/ops-center-sub002/internal/analytics/anomaly"
	"github.com/saashqdev/ops-center-sub002/internal/analytics/forecasting"
	"github.com/saashqdev/ops-center-sub002/internal/correlation"
	"github.com/saashqdev/ops-center-sub002/internal/noise"
)

// Config gathers the tuning of every component the service owns.
type Config struct {
	Detection   anomaly.Config
	Correlation correlation.Config
	Prediction  forecasting.Config
	Breaker     forecasting.BreakerSettings
	Noise       noise.Config

	Queue   QueueConfig
	Loops   LoopsConfig
	Cleanup CleanupConfig
	Predict PredictLoopConfig
	Correl  CorrelationLoopConfig
}

// QueueConfig sizes the ingest queue.
type QueueConfig struct {
	Capacity  int
	BatchSize int
}

// LoopsConfig holds the cadence of the five background loops.
type LoopsConfig struct {
	IterationTimeout time.Duration

	MetricsInterval time.Duration

	TrainingDelay    time.Duration
	TrainingInterval time.Duration
	TrainingBackoff  time.Duration
	TrainingTimeout  time.Duration

	CleanupDelay    time.Duration
	CleanupInterval time.Duration
	CleanupBackoff  time.Duration

	PredictionDelay    time.Duration
	PredictionInterval time.Duration
	PredictionBackoff  time.Duration

	CorrelationDelay    time.Duration
	CorrelationInterval time.Duration
	CorrelationBackoff  time.Duration
}

// CleanupConfig sets retention.
type CleanupConfig struct {
	DetectionRetention time.Duration
	SampleRetention    time.Duration
	KeepModelVersions  int
}

// PredictLoopConfig tunes the predictive alerting sweep.
type PredictLoopConfig struct {
	MaxDevices int
	Metrics    []string
	// Horizons are forecast horizons in minutes.
	Horizons []int
	// CrossingWindow is how far ahead a threshold crossing raises an alert.
	CrossingWindow time.Duration
	DedupWindow    time.Duration
}

// CorrelationLoopConfig tunes the correlation sweep.
type CorrelationLoopConfig struct {
	Window              time.Duration
	HighImpactThreshold float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Detection:   anomaly.DefaultConfig(),
		Correlation: correlation.DefaultConfig(),
		Prediction:  forecasting.DefaultConfig(),
		Breaker:     forecasting.DefaultBreakerSettings(),
		Noise:       noise.DefaultConfig(),
		Queue: QueueConfig{
			Capacity:  10000,
			BatchSize: 500,
		},
		Loops: LoopsConfig{
			IterationTimeout:    5 * time.Minute,
			MetricsInterval:     time.Second,
			TrainingDelay:       60 * time.Second,
			TrainingInterval:    7 * 24 * time.Hour,
			TrainingBackoff:     time.Hour,
			TrainingTimeout:     6 * time.Hour,
			CleanupDelay:        time.Hour,
			CleanupInterval:     24 * time.Hour,
			CleanupBackoff:      time.Hour,
			PredictionDelay:     5 * time.Minute,
			PredictionInterval:  time.Hour,
			PredictionBackoff:   5 * time.Minute,
			CorrelationDelay:    time.Minute,
			CorrelationInterval: 5 * time.Minute,
			CorrelationBackoff:  time.Minute,
		},
		Cleanup: CleanupConfig{
			DetectionRetention: 90 * 24 * time.Hour,
			SampleRetention:    35 * 24 * time.Hour,
			KeepModelVersions:  3,
		},
		Predict: PredictLoopConfig{
			MaxDevices:     100,
			Metrics:        []string{"disk_usage", "memory_usage", "cpu_usage", "error_rate"},
			Horizons:       []int{60, 180, 360},
			CrossingWindow: 6 * time.Hour,
			DedupWindow:    6 * time.Hour,
		},
		Correl: CorrelationLoopConfig{
			Window:              15 * time.Minute,
			HighImpactThreshold: 70,
		},
	}
}
