package config

import (
	"context"
	"time"
)

// Package config provides configuration management for the smart alerts
// service.
//
// Configuration Sources (priority order, high to low):
//  1. Environment variables (SMARTALERTS_* prefix, "." replaced by "_")
//  2. YAML config file (default: /etc/smartalerts/config.yaml, optional)
//  3. Built-in defaults
//
// Main Configuration Sections:
//
//  1. Server      - ops HTTP and gRPC health ports, shutdown timeout
//  2. Database    - sqlite | postgres
//  3. Logging     - level, format, optional rotated file
//  4. Audit       - alert lifecycle audit trail
//  5. Tracing     - OTLP endpoint and sampling
//  6. Detection   - z threshold, caches, per-call timeout
//  7. Training    - retraining sweep and forest parameters
//  8. Cleanup     - retention of detections, samples and model versions
//  9. Prediction  - predictive alerting sweep and circuit breaker
//  10. Correlation - correlation sweep and strategy windows
//  11. Noise       - duplicate window and per-device alert budget
//  12. Queue       - ingest queue sizing
//  13. Loops       - shared loop settings
//
// Config struct contains all configuration fields
type Config struct {
	Server struct {
		HTTPPort        int
		GRPCPort        int
		ShutdownTimeout time.Duration
	}

	Database struct {
		Type            string
		SQLitePath      string
		PostgresURL     string
		MaxOpenConns    int
		MaxIdleConns    int
		ConnMaxLifetime time.Duration
	}

	Logging struct {
		Level      string
		Format     string
		File       string
		MaxSize    int
		MaxBackups int
		MaxAge     int
		Compress   bool
	}

	Audit struct {
		Enabled       bool
		Path          string
		MaxSize       int
		MaxBackups    int
		MaxAge        int
		Compress      bool
		BufferSize    int
		FlushInterval time.Duration
	}

	Tracing struct {
		Endpoint     string
		Protocol     string
		SamplingRate float64
		ServiceName  string
	}

	Detection struct {
		ZThreshold              float64
		ExpectedRangeConfidence float64
		CacheTTL                time.Duration
		CacheSize               int
		CallTimeout             time.Duration
	}

	Training struct {
		Days          int
		Contamination float64
		NumEstimators int
		MinSamples    int
		Metrics       []string
		PairDelay     time.Duration
		PairTimeout   time.Duration
		InitialDelay  time.Duration
		Interval      time.Duration
		RetryBackoff  time.Duration
		Timeout       time.Duration
	}

	Cleanup struct {
		InitialDelay       time.Duration
		Interval           time.Duration
		DetectionRetention time.Duration
		SampleRetention    time.Duration
		KeepModelVersions  int
		RetryBackoff       time.Duration
	}

	Prediction struct {
		InitialDelay   time.Duration
		Interval       time.Duration
		MaxDevices     int
		Metrics        []string
		Horizons       []int
		CrossingWindow time.Duration
		DedupWindow    time.Duration
		Lookback       time.Duration
		TrendLookback  time.Duration
		Thresholds     map[string]float64

		BreakerFailureRatio float64
		BreakerMinRequests  int
		BreakerTimeout      time.Duration
		RetryBackoff        time.Duration
	}

	Correlation struct {
		InitialDelay        time.Duration
		Interval            time.Duration
		Window              time.Duration
		HighImpactThreshold float64
		TemporalWindow      time.Duration
		CascadeSpan         time.Duration
		PatternSpan         time.Duration
		PatternMinAlerts    int
		TopologyTTL         time.Duration
		MaxAlerts           int
		RetryBackoff        time.Duration
	}

	Noise struct {
		DedupWindow   time.Duration
		RatePerMinute float64
		Burst         int
	}

	Queue struct {
		Capacity  int
		BatchSize int
		Interval  time.Duration
	}

	Loops struct {
		IterationTimeout time.Duration
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and publishes reloaded configurations.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "/etc/smartalerts/config.yaml"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
