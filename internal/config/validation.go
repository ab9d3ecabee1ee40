package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	for field, port := range map[string]int{
		"server.http_port": c.Server.HTTPPort,
		"server.grpc_port": c.Server.GRPCPort,
	} {
		if port < 1 || port > 65535 {
			add(field, "port must be between 1 and 65535, got %d", port)
		}
	}
	if c.Server.HTTPPort == c.Server.GRPCPort {
		add("server.grpc_port", "grpc port must differ from http port %d", c.Server.HTTPPort)
	}

	// Database
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			add("database.sqlite_path", "sqlite_path is required when database type is sqlite")
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			add("database.postgres_url", "postgres_url is required when database type is postgres")
		}
	default:
		add("database.type", "invalid database type %q (expected sqlite or postgres)", c.Database.Type)
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		add("database.max_open_conns", "connection limits cannot be negative")
	}

	// Logging
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "invalid log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		add("logging.format", "invalid log format %q (expected json or console)", c.Logging.Format)
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.Path == "" {
			add("audit.path", "path is required when audit is enabled")
		}
		if c.Audit.BufferSize < 1 {
			add("audit.buffer_size", "buffer size must be positive, got %d", c.Audit.BufferSize)
		}
	}

	// Tracing
	if c.Tracing.Endpoint != "" {
		switch c.Tracing.Protocol {
		case "grpc", "http":
		default:
			add("tracing.protocol", "invalid protocol %q (expected grpc or http)", c.Tracing.Protocol)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate", "sampling rate must be between 0 and 1, got %g", c.Tracing.SamplingRate)
	}

	// Detection
	if c.Detection.ZThreshold <= 0 {
		add("detection.z_threshold", "must be positive, got %g", c.Detection.ZThreshold)
	}
	if c.Detection.ExpectedRangeConfidence <= 0 || c.Detection.ExpectedRangeConfidence >= 1 {
		add("detection.expected_range_confidence", "must be in (0, 1), got %g", c.Detection.ExpectedRangeConfidence)
	}
	if c.Detection.CacheSize < 1 {
		add("detection.cache_size", "must be positive, got %d", c.Detection.CacheSize)
	}

	// Training
	if c.Training.Days < 1 {
		add("training.days", "must be at least 1, got %d", c.Training.Days)
	}
	if c.Training.Contamination <= 0 || c.Training.Contamination > 0.5 {
		add("training.contamination", "must be in (0, 0.5], got %g", c.Training.Contamination)
	}
	if c.Training.NumEstimators < 1 {
		add("training.num_estimators", "must be positive, got %d", c.Training.NumEstimators)
	}
	if c.Training.MinSamples < 2 {
		add("training.min_samples", "must be at least 2, got %d", c.Training.MinSamples)
	}

	// Cleanup
	if c.Cleanup.DetectionRetention <= 0 {
		add("cleanup.detection_retention", "must be positive, got %s", c.Cleanup.DetectionRetention)
	}
	if c.Cleanup.SampleRetention < 0 {
		add("cleanup.sample_retention", "cannot be negative, got %s", c.Cleanup.SampleRetention)
	}
	if c.Cleanup.KeepModelVersions < 1 {
		add("cleanup.keep_model_versions", "must be at least 1, got %d", c.Cleanup.KeepModelVersions)
	}

	// Prediction
	if c.Prediction.MaxDevices < 1 {
		add("prediction.max_devices", "must be positive, got %d", c.Prediction.MaxDevices)
	}
	for _, h := range c.Prediction.Horizons {
		if h <= 0 {
			add("prediction.horizons", "horizons must be positive minutes, got %d", h)
			break
		}
	}
	if c.Prediction.BreakerFailureRatio <= 0 || c.Prediction.BreakerFailureRatio > 1 {
		add("prediction.breaker_failure_ratio", "must be in (0, 1], got %g", c.Prediction.BreakerFailureRatio)
	}
	if c.Prediction.BreakerMinRequests < 1 {
		add("prediction.breaker_min_requests", "must be positive, got %d", c.Prediction.BreakerMinRequests)
	}

	// Correlation
	if c.Correlation.HighImpactThreshold < 0 || c.Correlation.HighImpactThreshold > 100 {
		add("correlation.high_impact_threshold", "must be between 0 and 100, got %g", c.Correlation.HighImpactThreshold)
	}
	if c.Correlation.PatternMinAlerts < 2 {
		add("correlation.pattern_min_alerts", "must be at least 2, got %d", c.Correlation.PatternMinAlerts)
	}

	// Noise
	if c.Noise.RatePerMinute <= 0 {
		add("noise.rate_per_minute", "must be positive, got %g", c.Noise.RatePerMinute)
	}
	if c.Noise.Burst < 1 {
		add("noise.burst", "must be positive, got %d", c.Noise.Burst)
	}

	// Queue
	if c.Queue.Capacity < 1 {
		add("queue.capacity", "must be positive, got %d", c.Queue.Capacity)
	}
	if c.Queue.BatchSize < 1 {
		add("queue.batch_size", "must be positive, got %d", c.Queue.BatchSize)
	}

	// Every loop needs a positive cadence.
	for field, d := range map[string]time.Duration{
		"queue.interval":          c.Queue.Interval,
		"training.interval":       c.Training.Interval,
		"cleanup.interval":        c.Cleanup.Interval,
		"prediction.interval":     c.Prediction.Interval,
		"correlation.interval":    c.Correlation.Interval,
		"correlation.window":      c.Correlation.Window,
		"loops.iteration_timeout": c.Loops.IterationTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if d <= 0 {
			add(field, "must be positive, got %s", d)
		}
	}

	return errs
}
