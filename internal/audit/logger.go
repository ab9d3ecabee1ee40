// Package audit writes the append-only trail of the alert lifecycle:
// detections that became alerts, suppressions, false-positive feedback,
// model training and correlation groups.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogAlertCreated records a new alert, suppressed or not.
	LogAlertCreated(ctx context.Context, alert *models.Alert) error
	LogFalsePositive(ctx context.Context, detectionID, alertID string) error

	LogModelTrained(ctx context.Context, model *models.TrainedModel, duration time.Duration) error
	LogTrainingSweep(ctx context.Context, trained, skipped, failed int, duration time.Duration) error
	LogRetention(ctx context.Context, detections, samples, modelVersions int64) error

	LogCorrelationGroup(ctx context.Context, group *models.AlertCorrelation) error

	LogServiceStarted(ctx context.Context, version string) error
	LogServiceShutdown(ctx context.Context) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// Path is the audit log file. Empty disables the audit trail.
	Path string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// BufferSize events are buffered before a synchronous flush.
	BufferSize int

	// FlushInterval is the background flush cadence. Zero disables it.
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		Path:          "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	app         *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. app receives the logger's own
// failures.
func NewLogger(config *Config, app *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if app == nil {
		app = zap.NewNop()
	}
	if config.Path == "" {
		return NewNop(), nil
	}
	if config.BufferSize <= 0 {
		return nil, fmt.Errorf("invalid audit buffer size %d", config.BufferSize)
	}

	rotator := &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Audit entries are always INFO level, append-only.
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	l := &auditLogger{
		app:         app.Named("audit"),
		auditLogger: zap.New(core),
		config:      config,
		buffer:      make([]*Event, 0, config.BufferSize),
		stopCh:      make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		l.flushTicker = time.NewTicker(config.FlushInterval)
		go l.autoFlush()
	}
	return l, nil
}

// NewNop returns a logger that discards every event.
func NewNop() Logger {
	return &auditLogger{
		app:         zap.NewNop(),
		auditLogger: zap.NewNop(),
		config:      &Config{BufferSize: 1},
		stopCh:      make(chan struct{}),
	}
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= l.config.BufferSize {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.app.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}
	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogAlertCreated(ctx context.Context, a *models.Alert) error {
	eventType := EventAlertCreated
	if a.AlertType == models.AlertTypePredictive {
		eventType = EventAlertPredictive
	}
	event := NewEvent(eventType).
		WithDevice(a.DeviceID).
		WithResource(a.ID, "alert").
		WithDescription(a.Title).
		WithMetadata("severity", string(a.Severity)).
		WithMetadata("priority_score", a.PriorityScore)
	if a.AnomalyID != "" {
		event.WithMetadata("anomaly_id", a.AnomalyID)
	}
	if a.Suppressed {
		event.EventType = EventAlertSuppressed
		event.WithResult(ResultSuppressed).
			WithMetadata("alert_type", a.AlertType).
			WithMetadata("suppression_reason", a.SuppressionReason)
	}
	return l.Log(ctx, event)
}

func (l *auditLogger) LogFalsePositive(ctx context.Context, detectionID, alertID string) error {
	event := NewEvent(EventFalsePositive).
		WithResource(detectionID, "anomaly_detection").
		WithDescription(fmt.Sprintf("Detection %s marked as false positive", detectionID))
	if alertID != "" {
		event.WithMetadata("alert_id", alertID)
	}
	return l.Log(ctx, event)
}

func (l *auditLogger) LogModelTrained(ctx context.Context, m *models.TrainedModel, duration time.Duration) error {
	event := NewEvent(EventModelTrained).
		WithDevice(m.DeviceID).
		WithResource(m.ID, "trained_model").
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Model v%d trained for %s", m.Version, m.Key())).
		WithMetadata("metric_name", m.MetricName).
		WithMetadata("version", m.Version).
		WithMetadata("training_samples", m.TrainingSamples).
		WithMetadata("accuracy", m.Accuracy).
		WithMetadata("false_positive_rate", m.FalsePositiveRate)
	return l.Log(ctx, event)
}

func (l *auditLogger) LogTrainingSweep(ctx context.Context, trained, skipped, failed int, duration time.Duration) error {
	event := NewEvent(EventTrainingSweep).
		WithDuration(duration).
		WithMetadata("trained", trained).
		WithMetadata("skipped", skipped).
		WithMetadata("failed", failed).
		WithDescription(fmt.Sprintf("Training sweep: %d trained, %d skipped, %d failed", trained, skipped, failed))
	if failed > 0 {
		event.WithResult(ResultFailure)
	}
	return l.Log(ctx, event)
}

func (l *auditLogger) LogRetention(ctx context.Context, detections, samples, modelVersions int64) error {
	event := NewEvent(EventRetentionPurge).
		WithMetadata("detections", detections).
		WithMetadata("samples", samples).
		WithMetadata("model_versions", modelVersions).
		WithDescription("Retention cleanup completed")
	return l.Log(ctx, event)
}

func (l *auditLogger) LogCorrelationGroup(ctx context.Context, c *models.AlertCorrelation) error {
	event := NewEvent(EventCorrelationGroup).
		WithCorrelationID(c.CorrelationGroupID).
		WithResource(c.ID, "alert_correlation").
		WithMetadata("correlation_type", string(c.CorrelationType)).
		WithMetadata("alert_count", len(c.AlertIDs)).
		WithMetadata("root_cause_alert_id", c.RootCauseAlertID).
		WithMetadata("impact_score", c.ImpactScore).
		WithDescription(fmt.Sprintf("%s correlation of %d alerts", c.CorrelationType, len(c.AlertIDs)))
	return l.Log(ctx, event)
}

func (l *auditLogger) LogServiceStarted(ctx context.Context, version string) error {
	return l.Log(ctx, NewEvent(EventServiceStarted).
		WithMetadata("version", version).
		WithDescription("Smart alerts service started"))
}

func (l *auditLogger) LogServiceShutdown(ctx context.Context) error {
	return l.Log(ctx, NewEvent(EventServiceShutdown).
		WithDescription("Smart alerts service stopped"))
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.auditLogger.Sync()
}

// Close stops the background flush and flushes what is left.
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		if l.flushTicker != nil {
			l.flushTicker.Stop()
		}
	})
	return l.Sync()
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}
