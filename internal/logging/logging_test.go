package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFanoutRespectsLevels(t *testing.T) {
	var all, warnings bytes.Buffer

	logger := slog.New(NewFanout(
		slog.NewTextHandler(&all, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewJSONHandler(&warnings, &slog.HandlerOptions{Level: slog.LevelWarn}),
	))

	logger.Info("turn handled", "user", 1)
	logger.With("component", "engine").Warn("save failed", "user", 2)

	if !strings.Contains(all.String(), "turn handled") || !strings.Contains(all.String(), "save failed") {
		t.Fatalf("text handler missing records:\n%s", all.String())
	}
	if strings.Contains(warnings.String(), "turn handled") {
		t.Fatalf("warning handler received info record:\n%s", warnings.String())
	}
	if !strings.Contains(warnings.String(), `"component":"engine"`) {
		t.Fatalf("warning handler lost attrs:\n%s", warnings.String())
	}
}

func TestSetupWritesWarningFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	path := filepath.Join(t.TempDir(), "logs", "warning.log")

	closer, err := Setup("error", path)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	slog.Info("not persisted")
	slog.Warn("persisted warning")

	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if strings.Contains(string(data), "not persisted") {
		t.Fatalf("info record leaked into warning file:\n%s", data)
	}
	if !strings.Contains(string(data), "persisted warning") {
		t.Fatalf("warning record missing:\n%s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for input, want := range tests {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
