// Package mlog holds the process-wide zap logger and its config shape.
package mlog

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	// Level: "debug", "info", "warn", "error". Default "info".
	Level string `yaml:"level"`

	// File logs to a file instead of stderr.
	File string `yaml:"file"`

	// Production switches to json encoding.
	Production bool `yaml:"production"`
}

func NewLogger(lc *LogConfig) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if len(lc.Level) > 0 {
		var err error
		lvl, err = zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
		}
	}

	out := zapcore.Lock(os.Stderr)
	if len(lc.File) > 0 {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
	}

	var enc zapcore.Encoder
	if lc.Production {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	return zap.New(zapcore.NewCore(enc, out, lvl)), nil
}

var l atomic.Pointer[zap.Logger]

func init() {
	l.Store(zap.NewNop())
}

// L returns the process-wide logger.
func L() *zap.Logger {
	return l.Load()
}

// S returns the sugared process-wide logger.
func S() *zap.SugaredLogger {
	return l.Load().Sugar()
}

// SetLogger replaces the process-wide logger. Called once at startup.
func SetLogger(logger *zap.Logger) {
	l.Store(logger)
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}
