// File: internal/logging/logger.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured, rotated logging for close-worthy endpoint events: every close
// converts to a logged event carrying the RFC code as a field, rather than
// an error thrown up some call stack, before any completion handle fails.

package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go and how they rotate.
type Config struct {
	Path       string // empty writes to stdout, unrotated
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      zapcore.Level
}

// Logger wraps zap.Logger with the fields this package's callers need.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New builds a Logger per cfg. The returned Logger's level is an
// zap.AtomicLevel, so SetLevel can re-tune verbosity without rebuilding the
// core.
func New(cfg Config) *Logger {
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 28
	}

	var ws zapcore.WriteSyncer
	if cfg.Path == "" {
		ws = zapcore.AddSync(os.Stdout)
	} else {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.NewAtomicLevelAt(cfg.Level)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, level)
	return &Logger{Logger: zap.New(core), level: level}
}

// SetLevel re-tunes the logger's verbosity in place.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Nop returns a Logger that discards everything, for callers that don't
// configure logging.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.InvalidLevel)}
}

// CloseReason logs one endpoint's close with its code, reason, and final
// byte counters.
func (l *Logger) CloseReason(endpointID string, code uint16, reason string, bytesRead, bytesSent int64) {
	l.Info("endpoint closing",
		zap.String("endpoint_id", endpointID),
		zap.Uint16("close_code", code),
		zap.String("reason", reason),
		zap.Int64("bytes_read", bytesRead),
		zap.Int64("bytes_sent", bytesSent),
	)
}
