package config

import "time"

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.HTTPPort = 9090
	cfg.Server.GRPCPort = 9091
	cfg.Server.ShutdownTimeout = 30 * time.Second

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "/var/lib/smartalerts/smartalerts.db"
	cfg.Database.PostgresURL = ""
	cfg.Database.MaxOpenConns = 25
	cfg.Database.MaxIdleConns = 5
	cfg.Database.ConnMaxLifetime = 5 * time.Minute

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSize = 100 // megabytes
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAge = 30 // days
	cfg.Logging.Compress = true

	// Audit defaults
	cfg.Audit.Enabled = true
	cfg.Audit.Path = "/var/log/smartalerts/audit.log"
	cfg.Audit.MaxSize = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAge = 30
	cfg.Audit.Compress = true
	cfg.Audit.BufferSize = 100
	cfg.Audit.FlushInterval = time.Second

	// Tracing defaults (disabled without an endpoint)
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.Protocol = "grpc"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.ServiceName = "smartalerts"

	// Detection defaults
	cfg.Detection.ZThreshold = 3.0
	cfg.Detection.ExpectedRangeConfidence = 0.95
	cfg.Detection.CacheTTL = time.Hour
	cfg.Detection.CacheSize = 10000
	cfg.Detection.CallTimeout = 5 * time.Second

	// Training defaults
	cfg.Training.Days = 30
	cfg.Training.Contamination = 0.05
	cfg.Training.NumEstimators = 100
	cfg.Training.MinSamples = 100
	cfg.Training.Metrics = []string{"cpu_usage", "memory_usage", "disk_usage", "network_bytes"}
	cfg.Training.PairDelay = 100 * time.Millisecond
	cfg.Training.PairTimeout = 2 * time.Minute
	cfg.Training.InitialDelay = 60 * time.Second
	cfg.Training.Interval = 7 * 24 * time.Hour
	cfg.Training.RetryBackoff = time.Hour
	cfg.Training.Timeout = 6 * time.Hour

	// Cleanup defaults
	cfg.Cleanup.InitialDelay = time.Hour
	cfg.Cleanup.Interval = 24 * time.Hour
	cfg.Cleanup.DetectionRetention = 90 * 24 * time.Hour
	cfg.Cleanup.SampleRetention = 35 * 24 * time.Hour
	cfg.Cleanup.KeepModelVersions = 3
	cfg.Cleanup.RetryBackoff = time.Hour

	// Prediction defaults
	cfg.Prediction.InitialDelay = 5 * time.Minute
	cfg.Prediction.Interval = time.Hour
	cfg.Prediction.MaxDevices = 100
	cfg.Prediction.Metrics = []string{"disk_usage", "memory_usage", "cpu_usage", "error_rate"}
	cfg.Prediction.Horizons = []int{60, 180, 360}
	cfg.Prediction.CrossingWindow = 6 * time.Hour
	cfg.Prediction.DedupWindow = 6 * time.Hour
	cfg.Prediction.Lookback = 24 * time.Hour
	cfg.Prediction.TrendLookback = 6 * time.Hour
	cfg.Prediction.Thresholds = map[string]float64{
		"disk_usage":   90,
		"memory_usage": 90,
		"cpu_usage":    95,
		"error_rate":   5,
	}
	cfg.Prediction.BreakerFailureRatio = 0.6
	cfg.Prediction.BreakerMinRequests = 5
	cfg.Prediction.BreakerTimeout = 5 * time.Minute
	cfg.Prediction.RetryBackoff = 5 * time.Minute

	// Correlation defaults
	cfg.Correlation.InitialDelay = time.Minute
	cfg.Correlation.Interval = 5 * time.Minute
	cfg.Correlation.Window = 15 * time.Minute
	cfg.Correlation.HighImpactThreshold = 70
	cfg.Correlation.TemporalWindow = 5 * time.Minute
	cfg.Correlation.CascadeSpan = 30 * time.Minute
	cfg.Correlation.PatternSpan = 15 * time.Minute
	cfg.Correlation.PatternMinAlerts = 3
	cfg.Correlation.TopologyTTL = time.Hour
	cfg.Correlation.MaxAlerts = 5000
	cfg.Correlation.RetryBackoff = time.Minute

	// Noise defaults
	cfg.Noise.DedupWindow = 10 * time.Minute
	cfg.Noise.RatePerMinute = 10
	cfg.Noise.Burst = 20

	// Queue defaults
	cfg.Queue.Capacity = 10000
	cfg.Queue.BatchSize = 500
	cfg.Queue.Interval = time.Second

	// Loop defaults
	cfg.Loops.IterationTimeout = 5 * time.Minute

	return cfg
}
