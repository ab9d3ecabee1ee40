package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesRotatedFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File = filepath.Join(t.TempDir(), "app.log")
	cfg.Format = "console"

	logger, _, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("hello", zap.String("device_id", "dev-1"))
	_ = logger.Sync()

	content, err := os.ReadFile(cfg.File)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), `"device_id":"dev-1"`) {
		t.Errorf("expected JSON field in file, got %s", content)
	}
	if !strings.Contains(string(content), `"level":"info"`) {
		t.Errorf("expected plain level in file, got %s", content)
	}
}

func TestLevelFiltering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "warn"
	cfg.File = filepath.Join(t.TempDir(), "app.log")

	logger, atom, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("dropped")
	atom.SetLevel(zapcore.DebugLevel)
	logger.Debug("kept")
	_ = logger.Sync()

	content, _ := os.ReadFile(cfg.File)
	if strings.Contains(string(content), "dropped") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(string(content), "kept") {
		t.Error("debug entry should pass after level change")
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, _, err := New(Config{Level: "info", Format: "xml"}); err == nil {
		t.Error("expected error for invalid format")
	}
}
