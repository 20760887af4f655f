// Package logger holds the process-wide structured logger.
package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.SugaredLogger]

// Init builds the process logger. Production gets JSON output, anything else
// a coloured console encoder.
func Init(level string, env string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	sugar := base.Sugar()
	current.Store(sugar)
	return sugar, nil
}

// Set replaces the process logger. Tests use it with zaptest/observer cores.
func Set(l *zap.SugaredLogger) {
	current.Store(l)
}

// L returns the process logger, or a no-op logger before Init.
func L() *zap.SugaredLogger {
	if l := current.Load(); l != nil {
		return l
	}
	return zap.NewNop().Sugar()
}

// With returns a child of the process logger with extra key/value pairs.
func With(args ...interface{}) *zap.SugaredLogger {
	return L().With(args...)
}

// Sync flushes buffered entries. Errors from syncing stdout are ignored.
func Sync() {
	_ = L().Sync()
}
