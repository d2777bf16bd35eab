package healthsync

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthsync.log")
	logger, err := NewLogger(LogConfig{Level: "warn", Encoding: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("hidden")
	logger.Warn("visible")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, `"msg":"visible"`) {
		t.Errorf("log output = %q, want JSON warn entry", out)
	}
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "chatty"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if !logger.Core().Enabled(0) {
		t.Error("info level should be enabled")
	}
	if logger.Core().Enabled(-1) {
		t.Error("debug level should be disabled")
	}
}

func TestLoggerFor(t *testing.T) {
	nop, err := loggerFor(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if nop.Core().Enabled(4) {
		t.Error("zero config should discard logs")
	}

	path := filepath.Join(t.TempDir(), "debug.log")
	dbg, err := loggerFor(Config{Debug: true, DebugLogPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if !dbg.Core().Enabled(-1) {
		t.Error("Debug should enable debug level")
	}
}
