package applog

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	l := Setup(slog.LevelInfo, dir)
	slog.Debug("hidden")
	slog.Info("export finished", "session_id", "42")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	if l.Path() != filepath.Join(dir, FileName) {
		t.Fatalf("Path = %q", l.Path())
	}
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "export finished") || !strings.Contains(string(data), "session_id=42") {
		t.Fatalf("log content = %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatal("debug record written at info level")
	}
}
