// Package logging builds the process zap logger and hands out per-subsystem
// children.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem; it becomes the logger name.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config, shutdown
	CategoryBrowser  Category = "browser"  // Chrome launch and pages
	CategoryCapture  Category = "capture"  // Network body capture
	CategoryExtract  Category = "extract"  // DOM scraping
	CategoryImages   Category = "images"   // Image resolution and storage
	CategoryImporter Category = "importer" // Import jobs
	CategoryArchive  Category = "archive"  // SQLite archive
	CategoryServer   Category = "server"   // HTTP API
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	File   string // also write here when set
}

// New builds a logger writing to stderr and, optionally, a file.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		l, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zc.Level = level
	zc.Sampling = nil
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}

	return zc.Build()
}

// Named returns the child logger for a category. A nil log yields a no-op.
func Named(log *zap.Logger, c Category) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.Named(string(c))
}

// Timer measures one operation.
type Timer struct {
	log       *zap.Logger
	operation string
	start     time.Time
}

// StartTimer starts timing operation.
func StartTimer(log *zap.Logger, operation string) *Timer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Timer{log: log, operation: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.log.Debug("operation finished", zap.String("operation", t.operation), zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs at warn level when the operation took longer than
// threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.log.Warn("slow operation",
			zap.String("operation", t.operation),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
	} else {
		t.log.Debug("operation finished", zap.String("operation", t.operation), zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
