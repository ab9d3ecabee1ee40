package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SMARTALERTS"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing file is fine: defaults and env vars still apply.
	if err := m.viper.ReadInConfig(); err != nil && !isNotFound(err) {
		return fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := m.unmarshalConfig()
	if err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	applyEnvOverrides(cfg)
	m.set(cfg)
	return nil
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || os.IsNotExist(err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

func (m *viperConfigManager) set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches the config file and publishes every reload that unmarshals
// and validates. Updates are dropped while the previous one is unread.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := m.unmarshalConfig()
		if err != nil {
			return
		}
		applyEnvOverrides(cfg)
		if len(cfg.Validate()) > 0 {
			return
		}
		m.set(cfg)

		select {
		case m.watchChan <- *cfg:
		default:
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil && !isNotFound(err) {
		return fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := m.unmarshalConfig()
	if err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	applyEnvOverrides(cfg)
	m.set(cfg)
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	d := DefaultConfig()
	v := m.viper

	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.sqlite_path", d.Database.SQLitePath)
	v.SetDefault("database.postgres_url", d.Database.PostgresURL)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.path", d.Audit.Path)
	v.SetDefault("audit.max_size", d.Audit.MaxSize)
	v.SetDefault("audit.max_backups", d.Audit.MaxBackups)
	v.SetDefault("audit.max_age", d.Audit.MaxAge)
	v.SetDefault("audit.compress", d.Audit.Compress)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.flush_interval", d.Audit.FlushInterval)

	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.protocol", d.Tracing.Protocol)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("detection.z_threshold", d.Detection.ZThreshold)
	v.SetDefault("detection.expected_range_confidence", d.Detection.ExpectedRangeConfidence)
	v.SetDefault("detection.cache_ttl", d.Detection.CacheTTL)
	v.SetDefault("detection.cache_size", d.Detection.CacheSize)
	v.SetDefault("detection.call_timeout", d.Detection.CallTimeout)

	v.SetDefault("training.days", d.Training.Days)
	v.SetDefault("training.contamination", d.Training.Contamination)
	v.SetDefault("training.num_estimators", d.Training.NumEstimators)
	v.SetDefault("training.min_samples", d.Training.MinSamples)
	v.SetDefault("training.metrics", d.Training.Metrics)
	v.SetDefault("training.pair_delay", d.Training.PairDelay)
	v.SetDefault("training.pair_timeout", d.Training.PairTimeout)
	v.SetDefault("training.initial_delay", d.Training.InitialDelay)
	v.SetDefault("training.interval", d.Training.Interval)
	v.SetDefault("training.retry_backoff", d.Training.RetryBackoff)
	v.SetDefault("training.timeout", d.Training.Timeout)

	v.SetDefault("cleanup.initial_delay", d.Cleanup.InitialDelay)
	v.SetDefault("cleanup.interval", d.Cleanup.Interval)
	v.SetDefault("cleanup.detection_retention", d.Cleanup.DetectionRetention)
	v.SetDefault("cleanup.sample_retention", d.Cleanup.SampleRetention)
	v.SetDefault("cleanup.keep_model_versions", d.Cleanup.KeepModelVersions)
	v.SetDefault("cleanup.retry_backoff", d.Cleanup.RetryBackoff)

	v.SetDefault("prediction.initial_delay", d.Prediction.InitialDelay)
	v.SetDefault("prediction.interval", d.Prediction.Interval)
	v.SetDefault("prediction.max_devices", d.Prediction.MaxDevices)
	v.SetDefault("prediction.metrics", d.Prediction.Metrics)
	v.SetDefault("prediction.horizons", d.Prediction.Horizons)
	v.SetDefault("prediction.crossing_window", d.Prediction.CrossingWindow)
	v.SetDefault("prediction.dedup_window", d.Prediction.DedupWindow)
	v.SetDefault("prediction.lookback", d.Prediction.Lookback)
	v.SetDefault("prediction.trend_lookback", d.Prediction.TrendLookback)
	thresholds := make(map[string]any, len(d.Prediction.Thresholds))
	for k, t := range d.Prediction.Thresholds {
		thresholds[k] = t
	}
	v.SetDefault("prediction.thresholds", thresholds)
	v.SetDefault("prediction.breaker_failure_ratio", d.Prediction.BreakerFailureRatio)
	v.SetDefault("prediction.breaker_min_requests", d.Prediction.BreakerMinRequests)
	v.SetDefault("prediction.breaker_timeout", d.Prediction.BreakerTimeout)
	v.SetDefault("prediction.retry_backoff", d.Prediction.RetryBackoff)

	v.SetDefault("correlation.initial_delay", d.Correlation.InitialDelay)
	v.SetDefault("correlation.interval", d.Correlation.Interval)
	v.SetDefault("correlation.window", d.Correlation.Window)
	v.SetDefault("correlation.high_impact_threshold", d.Correlation.HighImpactThreshold)
	v.SetDefault("correlation.temporal_window", d.Correlation.TemporalWindow)
	v.SetDefault("correlation.cascade_span", d.Correlation.CascadeSpan)
	v.SetDefault("correlation.pattern_span", d.Correlation.PatternSpan)
	v.SetDefault("correlation.pattern_min_alerts", d.Correlation.PatternMinAlerts)
	v.SetDefault("correlation.topology_ttl", d.Correlation.TopologyTTL)
	v.SetDefault("correlation.max_alerts", d.Correlation.MaxAlerts)
	v.SetDefault("correlation.retry_backoff", d.Correlation.RetryBackoff)

	v.SetDefault("noise.dedup_window", d.Noise.DedupWindow)
	v.SetDefault("noise.rate_per_minute", d.Noise.RatePerMinute)
	v.SetDefault("noise.burst", d.Noise.Burst)

	v.SetDefault("queue.capacity", d.Queue.Capacity)
	v.SetDefault("queue.batch_size", d.Queue.BatchSize)
	v.SetDefault("queue.interval", d.Queue.Interval)

	v.SetDefault("loops.iteration_timeout", d.Loops.IterationTimeout)
}

// unmarshalConfig builds a Config from the current viper state.
func (m *viperConfigManager) unmarshalConfig() (*Config, error) {
	v := m.viper
	cfg := &Config{}

	cfg.Server.HTTPPort = v.GetInt("server.http_port")
	cfg.Server.GRPCPort = v.GetInt("server.grpc_port")
	cfg.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")

	cfg.Database.Type = v.GetString("database.type")
	cfg.Database.SQLitePath = v.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = v.GetString("database.postgres_url")
	cfg.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	cfg.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")
	cfg.Database.ConnMaxLifetime = v.GetDuration("database.conn_max_lifetime")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.File = v.GetString("logging.file")
	cfg.Logging.MaxSize = v.GetInt("logging.max_size")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAge = v.GetInt("logging.max_age")
	cfg.Logging.Compress = v.GetBool("logging.compress")

	cfg.Audit.Enabled = v.GetBool("audit.enabled")
	cfg.Audit.Path = v.GetString("audit.path")
	cfg.Audit.MaxSize = v.GetInt("audit.max_size")
	cfg.Audit.MaxBackups = v.GetInt("audit.max_backups")
	cfg.Audit.MaxAge = v.GetInt("audit.max_age")
	cfg.Audit.Compress = v.GetBool("audit.compress")
	cfg.Audit.BufferSize = v.GetInt("audit.buffer_size")
	cfg.Audit.FlushInterval = v.GetDuration("audit.flush_interval")

	cfg.Tracing.Endpoint = v.GetString("tracing.endpoint")
	cfg.Tracing.Protocol = v.GetString("tracing.protocol")
	cfg.Tracing.SamplingRate = v.GetFloat64("tracing.sampling_rate")
	cfg.Tracing.ServiceName = v.GetString("tracing.service_name")

	cfg.Detection.ZThreshold = v.GetFloat64("detection.z_threshold")
	cfg.Detection.ExpectedRangeConfidence = v.GetFloat64("detection.expected_range_confidence")
	cfg.Detection.CacheTTL = v.GetDuration("detection.cache_ttl")
	cfg.Detection.CacheSize = v.GetInt("detection.cache_size")
	cfg.Detection.CallTimeout = v.GetDuration("detection.call_timeout")

	cfg.Training.Days = v.GetInt("training.days")
	cfg.Training.Contamination = v.GetFloat64("training.contamination")
	cfg.Training.NumEstimators = v.GetInt("training.num_estimators")
	cfg.Training.MinSamples = v.GetInt("training.min_samples")
	cfg.Training.Metrics = v.GetStringSlice("training.metrics")
	cfg.Training.PairDelay = v.GetDuration("training.pair_delay")
	cfg.Training.PairTimeout = v.GetDuration("training.pair_timeout")
	cfg.Training.InitialDelay = v.GetDuration("training.initial_delay")
	cfg.Training.Interval = v.GetDuration("training.interval")
	cfg.Training.RetryBackoff = v.GetDuration("training.retry_backoff")
	cfg.Training.Timeout = v.GetDuration("training.timeout")

	cfg.Cleanup.InitialDelay = v.GetDuration("cleanup.initial_delay")
	cfg.Cleanup.Interval = v.GetDuration("cleanup.interval")
	cfg.Cleanup.DetectionRetention = v.GetDuration("cleanup.detection_retention")
	cfg.Cleanup.SampleRetention = v.GetDuration("cleanup.sample_retention")
	cfg.Cleanup.KeepModelVersions = v.GetInt("cleanup.keep_model_versions")
	cfg.Cleanup.RetryBackoff = v.GetDuration("cleanup.retry_backoff")

	cfg.Prediction.InitialDelay = v.GetDuration("prediction.initial_delay")
	cfg.Prediction.Interval = v.GetDuration("prediction.interval")
	cfg.Prediction.MaxDevices = v.GetInt("prediction.max_devices")
	cfg.Prediction.Metrics = v.GetStringSlice("prediction.metrics")
	cfg.Prediction.Horizons = v.GetIntSlice("prediction.horizons")
	cfg.Prediction.CrossingWindow = v.GetDuration("prediction.crossing_window")
	cfg.Prediction.DedupWindow = v.GetDuration("prediction.dedup_window")
	cfg.Prediction.Lookback = v.GetDuration("prediction.lookback")
	cfg.Prediction.TrendLookback = v.GetDuration("prediction.trend_lookback")
	thresholds, err := floatMap(v.GetStringMap("prediction.thresholds"))
	if err != nil {
		return nil, fmt.Errorf("prediction.thresholds: %w", err)
	}
	cfg.Prediction.Thresholds = thresholds
	cfg.Prediction.BreakerFailureRatio = v.GetFloat64("prediction.breaker_failure_ratio")
	cfg.Prediction.BreakerMinRequests = v.GetInt("prediction.breaker_min_requests")
	cfg.Prediction.BreakerTimeout = v.GetDuration("prediction.breaker_timeout")
	cfg.Prediction.RetryBackoff = v.GetDuration("prediction.retry_backoff")

	cfg.Correlation.InitialDelay = v.GetDuration("correlation.initial_delay")
	cfg.Correlation.Interval = v.GetDuration("correlation.interval")
	cfg.Correlation.Window = v.GetDuration("correlation.window")
	cfg.Correlation.HighImpactThreshold = v.GetFloat64("correlation.high_impact_threshold")
	cfg.Correlation.TemporalWindow = v.GetDuration("correlation.temporal_window")
	cfg.Correlation.CascadeSpan = v.GetDuration("correlation.cascade_span")
	cfg.Correlation.PatternSpan = v.GetDuration("correlation.pattern_span")
	cfg.Correlation.PatternMinAlerts = v.GetInt("correlation.pattern_min_alerts")
	cfg.Correlation.TopologyTTL = v.GetDuration("correlation.topology_ttl")
	cfg.Correlation.MaxAlerts = v.GetInt("correlation.max_alerts")
	cfg.Correlation.RetryBackoff = v.GetDuration("correlation.retry_backoff")

	cfg.Noise.DedupWindow = v.GetDuration("noise.dedup_window")
	cfg.Noise.RatePerMinute = v.GetFloat64("noise.rate_per_minute")
	cfg.Noise.Burst = v.GetInt("noise.burst")

	cfg.Queue.Capacity = v.GetInt("queue.capacity")
	cfg.Queue.BatchSize = v.GetInt("queue.batch_size")
	cfg.Queue.Interval = v.GetDuration("queue.interval")

	cfg.Loops.IterationTimeout = v.GetDuration("loops.iteration_timeout")

	return cfg, nil
}

// floatMap converts a YAML mapping of numbers.
func floatMap(in map[string]any) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for k, raw := range in {
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// applyEnvOverrides honours the conventional unprefixed variables.
func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("DATABASE_URL"); url != "" && cfg.Database.PostgresURL == "" {
		cfg.Database.Type = "postgres"
		cfg.Database.PostgresURL = url
	}
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" && cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = ep
	}
	if !cfg.Audit.Enabled {
		cfg.Audit.Path = ""
	}
}
