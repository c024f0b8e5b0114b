package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"klinecollector/config"
)

// go test -v --run TestNewInvalidLevel
func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

// go test -v --run TestNewFileOutput
func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "collector.log")
	log, err := New(config.LogConfig{Level: "info", Format: "json", OutputFile: path, Environment: "prod"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("hidden")
	log.Info("archive fetched")
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"archive fetched"`) {
		t.Errorf("log file = %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug entry written at info level")
	}
}
