package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

func newTestLogger(t *testing.T) (Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := &Config{
		Path:       path,
		MaxSize:    10,
		MaxBackups: 3,
		BufferSize: 100,
	}
	logger, err := NewLogger(cfg, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func readLog(t *testing.T, logger Logger, path string) string {
	t.Helper()
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	return string(content)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Path != "logs/audit.log" {
		t.Errorf("Expected audit log path 'logs/audit.log', got %s", config.Path)
	}
	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}
	if config.BufferSize != 100 {
		t.Errorf("Expected buffer size 100, got %d", config.BufferSize)
	}
}

func TestNewLoggerWithInvalidBuffer(t *testing.T) {
	_, err := NewLogger(&Config{Path: filepath.Join(t.TempDir(), "audit.log")}, nil)
	if err == nil {
		t.Fatal("Expected error for zero buffer size")
	}
}

func TestEmptyPathDisablesTrail(t *testing.T) {
	logger, err := NewLogger(&Config{}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if err := logger.LogServiceStarted(context.Background(), "test"); err != nil {
		t.Errorf("nop logger returned error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestLogEventUsesContextCorrelationID(t *testing.T) {
	logger, path := newTestLogger(t)

	ctx := WithCorrelationID(context.Background(), "sweep-123")
	event := NewEvent(EventRetentionPurge).WithDevice("dev-1")
	if err := logger.Log(ctx, event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	content := readLog(t, logger, path)
	if !strings.Contains(content, "sweep-123") {
		t.Error("Log does not contain correlation ID")
	}
	if !strings.Contains(content, "retention.purge") {
		t.Error("Log does not contain event type")
	}
	if !strings.Contains(content, "dev-1") {
		t.Error("Log does not contain device")
	}
}

func TestLogAlertCreated(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	created := &models.Alert{ID: "alert-1", DeviceID: "dev-1", AlertType: models.AlertTypeAnomaly,
		Severity: models.SeverityError, Title: "cpu_usage anomaly", AnomalyID: "det-1"}
	suppressed := &models.Alert{ID: "alert-2", DeviceID: "dev-1", AlertType: models.AlertTypeAnomaly,
		Severity: models.SeverityError, Suppressed: true, SuppressionReason: "duplicate"}
	predictive := &models.Alert{ID: "alert-3", DeviceID: "dev-2", AlertType: models.AlertTypePredictive,
		Severity: models.SeverityCritical}

	for _, a := range []*models.Alert{created, suppressed, predictive} {
		if err := logger.LogAlertCreated(ctx, a); err != nil {
			t.Fatalf("LogAlertCreated failed: %v", err)
		}
	}

	content := readLog(t, logger, path)
	for _, want := range []string{"alert.created", "alert.suppressed", "alert.predictive", "det-1", "duplicate"} {
		if !strings.Contains(content, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestLogModelLifecycle(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	m := &models.TrainedModel{ID: "model-1", DeviceID: "dev-1", MetricName: "cpu_usage", Version: 3}
	if err := logger.LogModelTrained(ctx, m, 2*time.Second); err != nil {
		t.Fatalf("LogModelTrained failed: %v", err)
	}
	if err := logger.LogTrainingSweep(ctx, 4, 2, 1, time.Minute); err != nil {
		t.Fatalf("LogTrainingSweep failed: %v", err)
	}

	content := readLog(t, logger, path)
	if !strings.Contains(content, "model.trained") || !strings.Contains(content, "dev-1:cpu_usage") {
		t.Error("Log does not contain trained model event")
	}
	if !strings.Contains(content, "model.training_sweep") {
		t.Error("Log does not contain training sweep")
	}
	if !strings.Contains(content, `"result":"failure"`) {
		t.Error("Sweep with failures should be logged as failure")
	}
}

func TestLogCorrelationAndFeedback(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	group := &models.AlertCorrelation{
		ID: "corr-1", CorrelationGroupID: "temporal_1700000000",
		AlertIDs: []string{"a", "b"}, RootCauseAlertID: "a",
		CorrelationType: models.CorrelationTemporal, ImpactScore: 42,
	}
	if err := logger.LogCorrelationGroup(ctx, group); err != nil {
		t.Fatalf("LogCorrelationGroup failed: %v", err)
	}
	if err := logger.LogFalsePositive(ctx, "det-9", "alert-9"); err != nil {
		t.Fatalf("LogFalsePositive failed: %v", err)
	}

	content := readLog(t, logger, path)
	for _, want := range []string{"correlation.group", "temporal_1700000000", "feedback.false_positive", "det-9", "alert-9"} {
		if !strings.Contains(content, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestEventWithError(t *testing.T) {
	event := NewEvent(EventModelTrained).WithError(errors.New("boom"), "fit_error")
	if event.Result != ResultFailure {
		t.Errorf("Expected failure result, got %s", event.Result)
	}
	if event.Error != "boom" || event.ErrorCode != "fit_error" {
		t.Errorf("Unexpected error fields: %q %q", event.Error, event.ErrorCode)
	}

	event = NewEvent(EventModelTrained).WithError(nil, "fit_error")
	if event.Result != ResultSuccess {
		t.Errorf("Nil error should not change result, got %s", event.Result)
	}
}

func TestBufferFlushesWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(&Config{Path: path, BufferSize: 2}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	_ = logger.LogServiceStarted(ctx, "v1")
	_ = logger.LogServiceShutdown(ctx)

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	if !strings.Contains(string(content), "system.service_shutdown") {
		t.Error("Full buffer should have been flushed")
	}
}
