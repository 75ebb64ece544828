// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// FileConfig enables a rotated log file next to the console output.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `yaml:"pretty"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`

	// File additionally writes JSON logs to a rotated file. Nil disables it.
	File *FileConfig `yaml:"file"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

var (
	fileMu     sync.Mutex
	fileWriter *lumberjack.Logger
)

// Setup configures the global zerolog logger. A previously opened log file
// is closed.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	fileMu.Lock()
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
	if cfg.File != nil && cfg.File.Path != "" {
		fileWriter = newFileWriter(*cfg.File)
		// Files always get JSON, whatever the console format.
		out = zerolog.MultiLevelWriter(out, fileWriter)
	}
	fileMu.Unlock()

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// Close flushes and closes the log file opened by Setup, if any.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()

	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

func newFileWriter(cfg FileConfig) *lumberjack.Logger {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 14
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: fetch lifecycle and cache detail
//   - Fetch issued / settled (seq, page, append, outcome)
//   - Superseded fetches cancelled, debounced edits that issue nothing
//   - Cache hit/miss, conditional requests, ETags
//
// Info: normal operation events
//   - 304 Not Modified revalidations
//   - Server startup/shutdown, export progress
//
// Warn: conditions that do not stop the list from rendering
//   - Rate limit throttling, retry attempts
//   - Cache errors (fallback to direct request)
//   - Failure notifications shown to the user
//
// Error: failures that leave a list empty or stale
//   - Failed list fetches (after retries)
//   - Critical rate limit blocks
//   - Configuration errors
//
// Context Fields:
//   - component: package emitting the event (marketplace-client, browse, ...)
//   - list: "products" or "merchants"
//   - seq: dispatcher sequence number
//   - endpoint, status_code, duration, error_class
//   - request_id: X-Request-ID sent with the request
//   - remaining: requests left in the rate limit window
