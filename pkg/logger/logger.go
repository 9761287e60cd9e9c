// pkg/logger/logger.go

package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

// DefaultConfig returns the standard zap.Config for the connector. The
// connector runs in a container, so everything goes to stdout as JSON.
func DefaultConfig(level string) zap.Config {
	return zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Encoding:         "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:      "time",
			LevelKey:     "level",
			MessageKey:   "msg",
			CallerKey:    "caller",
			EncodeLevel:  zapcore.LowercaseLevelEncoder,
			EncodeTime:   zapcore.ISO8601TimeEncoder,
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// InitializeWithConfig initializes the global logger with a custom zap.Config.
func InitializeWithConfig(cfg zap.Config) {
	var err error
	log, err = cfg.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	zap.ReplaceGlobals(log)
}

// Initialize sets up the global logger at the given level.
func Initialize(level string) {
	InitializeWithConfig(DefaultConfig(level))
}

// InitializeWithFallback initializes logging and falls back to a no-op
// logger rather than crashing when stdout is unusable.
func InitializeWithFallback(level string) {
	defer func() {
		if r := recover(); r != nil {
			log = zap.NewNop()
			zap.ReplaceGlobals(log)
		}
	}()
	Initialize(level)
}

// L returns the global logger, initializing a fallback if needed.
func L() *zap.Logger {
	if log == nil {
		InitializeWithFallback("info")
	}
	return log
}

// Sync flushes buffered log entries. Errors are ignored; stdout on Linux
// reports EINVAL on sync and there is nothing useful to do about it.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
