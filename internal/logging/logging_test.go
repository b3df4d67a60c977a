package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetWritesToLogFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	log := Get("logging-test")
	log.Info().Msg("hello from the registry")

	data, err := os.ReadFile(filepath.Join(home, ".logging-test.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from the registry") {
		t.Errorf("log file missing message: %s", data)
	}
	if !strings.Contains(string(data), `"prog":"logging-test"`) {
		t.Errorf("log file missing prog field: %s", data)
	}
}

func TestGetReusesLogger(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	first := Get("logging-reuse")
	first.Info().Msg("first")
	second := Get("logging-reuse")
	second.Info().Msg("second")

	data, err := os.ReadFile(filepath.Join(home, ".logging-reuse.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if got := strings.Count(string(data), `"message"`); got != 2 {
		t.Errorf("expected 2 messages in one file, got %d", got)
	}
}
