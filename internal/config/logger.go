package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogLevel is used when no level is configured.
const DefaultLogLevel = "info"

// NewLogger builds the process logger. Console output goes to stderr so
// that reports written to stdout stay machine-readable.
func NewLogger(level string, jsonFormat bool) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	logCfg := zap.NewDevelopmentConfig()
	if jsonFormat {
		logCfg = zap.NewProductionConfig()
	} else {
		logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logCfg.Level = zap.NewAtomicLevelAt(lvl)
	logCfg.OutputPaths = []string{"stderr"}
	logCfg.ErrorOutputPaths = []string{"stderr"}
	if lvl == zap.DebugLevel {
		logCfg.DisableStacktrace = false
		logCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		logCfg.DisableStacktrace = true
		logCfg.EncoderConfig.EncodeCaller = nil
	}

	logger, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = DefaultLogLevel
	}
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zap.InfoLevel, fmt.Errorf("log level %q is not supported (use debug, info, warn or error)", level)
	}
	return lvl, nil
}
