// Package applog configures the process-wide slog logger.
package applog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the rotating application log inside the logs root.
const FileName = "audiodesk.log"

// Rotation limits for the application log.
const (
	MaxSizeMB  = 10
	MaxBackups = 3
	MaxAgeDays = 28
)

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// Logger owns the rotating file behind the default logger.
type Logger struct {
	rotator *lumberjack.Logger
}

// Setup installs a text logger on stderr at level. When logsDir is not empty,
// records are also written to a rotating file in that directory.
func Setup(level slog.Level, logsDir string) *Logger {
	var w io.Writer = os.Stderr
	l := &Logger{}
	if logsDir != "" {
		l.rotator = &lumberjack.Logger{
			Filename:   filepath.Join(logsDir, FileName),
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, l.rotator)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return l
}

// Path returns the rotating log file, or "" when logging to stderr only.
func (l *Logger) Path() string {
	if l == nil || l.rotator == nil {
		return ""
	}
	return l.rotator.Filename
}

// Close flushes and closes the rotating file.
func (l *Logger) Close() error {
	if l == nil || l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}
