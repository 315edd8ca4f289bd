package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultFileName   = "profilr.log"
)

// FileConfig describes the rotated service log file. An empty Dir disables
// file logging.
type FileConfig struct {
	Dir        string // base directory for the log file
	Name       string // file name within Dir (default profilr.log)
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // gzip rotated files
}

// Config describes application logging: console always, file when configured.
type Config struct {
	Level string // debug, info, warn or error (default info)
	Color bool   // colorize console level prefixes
	File  FileConfig
}

// Writer returns the rotated writer for the service log, or nil when file
// logging is disabled.
func (c Config) Writer() io.WriteCloser {
	if c.File.Dir == "" {
		return nil
	}
	name := c.File.Name
	if name == "" {
		name = DefaultFileName
	}
	return &lj.Logger{
		Filename:   filepath.Join(c.File.Dir, name),
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

// NewSlogger builds the application logger writing to stderr and, when
// configured, the rotated service log.
func (c Config) NewSlogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	var w io.Writer = os.Stderr
	if fw := c.Writer(); fw != nil {
		w = io.MultiWriter(os.Stderr, fw)
	}
	if c.Color {
		return slog.New(NewColorTextHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup installs the configured logger as the slog default and returns it.
func Setup(c Config) *slog.Logger {
	l := c.NewSlogger()
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a config level name onto a slog level; unknown names fall
// back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
