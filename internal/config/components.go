package config

import (
	"github.com/saashqdev/ops-center-sub002/internal/audit"
	"github.com/saashqdev/ops-center-sub002/internal/db"
	"github.com/saashqdev/ops-center-sub002/internal/logging"
	"github.com/saashqdev/ops-center-sub002/internal/smartalerts"
	"github.com/saashqdev/ops-center-sub002/internal/tracing"
)

// LoggingConfig returns the application logger settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
	}
}

// AuditConfig returns the audit trail settings. A disabled trail has no path.
func (c *Config) AuditConfig() *audit.Config {
	cfg := &audit.Config{
		Path:          c.Audit.Path,
		MaxSize:       c.Audit.MaxSize,
		MaxBackups:    c.Audit.MaxBackups,
		MaxAge:        c.Audit.MaxAge,
		Compress:      c.Audit.Compress,
		BufferSize:    c.Audit.BufferSize,
		FlushInterval: c.Audit.FlushInterval,
	}
	if !c.Audit.Enabled {
		cfg.Path = ""
	}
	return cfg
}

// TracingConfig returns the OTLP exporter settings.
func (c *Config) TracingConfig() tracing.Config {
	return tracing.Config{
		ServiceName:  c.Tracing.ServiceName,
		Endpoint:     c.Tracing.Endpoint,
		Protocol:     c.Tracing.Protocol,
		SamplingRate: c.Tracing.SamplingRate,
	}
}

// DBOptions returns the store connection options.
func (c *Config) DBOptions() db.Options {
	opts := db.Options{
		Driver:          db.DriverSQLite,
		DSN:             c.Database.SQLitePath,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
	if c.Database.Type == "postgres" {
		opts.Driver = db.DriverPostgres
		opts.DSN = c.Database.PostgresURL
	}
	return opts
}

// ServiceConfig maps the file sections onto the smart alerts service. Knobs
// without a file key keep their component defaults.
func (c *Config) ServiceConfig() smartalerts.Config {
	cfg := smartalerts.DefaultConfig()

	det := &cfg.Detection
	det.ZThreshold = c.Detection.ZThreshold
	det.ExpectedRangeConfidence = c.Detection.ExpectedRangeConfidence
	det.CacheTTL = c.Detection.CacheTTL
	det.CacheSize = c.Detection.CacheSize
	det.CallTimeout = c.Detection.CallTimeout
	det.TrainingDays = c.Training.Days
	det.Contamination = c.Training.Contamination
	det.NumEstimators = c.Training.NumEstimators
	det.MinSamples = c.Training.MinSamples
	det.Metrics = c.Training.Metrics
	det.PairDelay = c.Training.PairDelay
	det.PairTimeout = c.Training.PairTimeout

	corr := &cfg.Correlation
	corr.TemporalWindow = c.Correlation.TemporalWindow
	corr.CascadeSpan = c.Correlation.CascadeSpan
	corr.PatternSpan = c.Correlation.PatternSpan
	corr.PatternMinAlerts = c.Correlation.PatternMinAlerts
	corr.TopologyTTL = c.Correlation.TopologyTTL
	corr.MaxAlerts = c.Correlation.MaxAlerts
	corr.CacheSize = c.Detection.CacheSize

	pred := &cfg.Prediction
	pred.Lookback = c.Prediction.Lookback
	pred.TrendLookback = c.Prediction.TrendLookback
	if len(c.Prediction.Thresholds) > 0 {
		pred.Thresholds = c.Prediction.Thresholds
	}

	cfg.Breaker.FailureRatio = c.Prediction.BreakerFailureRatio
	cfg.Breaker.MinRequests = uint32(c.Prediction.BreakerMinRequests)
	cfg.Breaker.Timeout = c.Prediction.BreakerTimeout

	cfg.Noise.DedupWindow = c.Noise.DedupWindow
	cfg.Noise.RatePerMinute = c.Noise.RatePerMinute
	cfg.Noise.Burst = c.Noise.Burst
	cfg.Noise.CacheSize = c.Detection.CacheSize

	cfg.Queue.Capacity = c.Queue.Capacity
	cfg.Queue.BatchSize = c.Queue.BatchSize

	l := &cfg.Loops
	l.IterationTimeout = c.Loops.IterationTimeout
	l.MetricsInterval = c.Queue.Interval
	l.TrainingDelay = c.Training.InitialDelay
	l.TrainingInterval = c.Training.Interval
	l.TrainingBackoff = c.Training.RetryBackoff
	l.TrainingTimeout = c.Training.Timeout
	l.CleanupDelay = c.Cleanup.InitialDelay
	l.CleanupInterval = c.Cleanup.Interval
	l.CleanupBackoff = c.Cleanup.RetryBackoff
	l.PredictionDelay = c.Prediction.InitialDelay
	l.PredictionInterval = c.Prediction.Interval
	l.PredictionBackoff = c.Prediction.RetryBackoff
	l.CorrelationDelay = c.Correlation.InitialDelay
	l.CorrelationInterval = c.Correlation.Interval
	l.CorrelationBackoff = c.Correlation.RetryBackoff

	cfg.Cleanup.DetectionRetention = c.Cleanup.DetectionRetention
	cfg.Cleanup.SampleRetention = c.Cleanup.SampleRetention
	cfg.Cleanup.KeepModelVersions = c.Cleanup.KeepModelVersions

	cfg.Predict.MaxDevices = c.Prediction.MaxDevices
	cfg.Predict.Metrics = c.Prediction.Metrics
	cfg.Predict.Horizons = c.Prediction.Horizons
	cfg.Predict.CrossingWindow = c.Prediction.CrossingWindow
	cfg.Predict.DedupWindow = c.Prediction.DedupWindow

	cfg.Correl.Window = c.Correlation.Window
	cfg.Correl.HighImpactThreshold = c.Correlation.HighImpactThreshold

	return cfg
}
