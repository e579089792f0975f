// Package observ builds the process-wide zap logger. Development gets the
// console encoder, production structured JSON; handlers and the room
// coordinator receive the logger by injection rather than a global.
package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a logger for the given environment. level is a zapcore
// level name (debug, info, warn, error); anything unparsable falls back to
// info so a typo in LOG_LEVEL never fails startup.
func NewLogger(env, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	if env == "production" {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}
