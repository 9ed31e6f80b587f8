package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for capture subprocess logs.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes logging for the daemon and its capture subprocesses.
// The daemon logs structured records to stderr; each capture subprocess
// gets a rotating stderr log under Dir (ffmpeg writes its diagnostics
// to stderr only).
type Config struct {
	Level      string `mapstructure:"level"` // debug, info, warn, error (default info)
	Color      bool   `mapstructure:"color"` // colorize level names
	Dir        string `mapstructure:"dir"`   // base directory for subprocess logs
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NewLogger builds the daemon logger writing to stderr.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	var h slog.Handler
	if c.Color {
		h = NewColorTextHandler(os.Stderr, opts, true)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SubprocessWriter returns a rotating WriteCloser for the stderr of the
// capture subprocess named name. Returns nil when Dir is unset; the
// subprocess output is discarded in that case.
func (c Config) SubprocessWriter(name string) io.WriteCloser {
	if c.Dir == "" {
		return nil
	}
	_ = os.MkdirAll(c.Dir, 0o750)
	return &lj.Logger{
		Filename:   filepath.Join(c.Dir, fmt.Sprintf("%s.ffmpeg.log", name)),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
