// internal/logging/logger.go
package logging

import (
	"fmt"

	"github.com/FairForge/cryptgate/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

// Log formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Validate checks the level and format names
func Validate(cfg config.LogConfig) error {
	switch cfg.Level {
	case "", LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
	default:
		return fmt.Errorf("logging: invalid level: %s", cfg.Level)
	}
	switch cfg.Format {
	case "", FormatJSON, FormatConsole:
	default:
		return fmt.Errorf("logging: invalid format: %s", cfg.Format)
	}
	return nil
}

// ParseLevel maps a level name to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds the process logger. JSON output uses the production
// encoder; console output uses zap's development encoder.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Format == FormatConsole {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}
