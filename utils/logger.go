package utils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

var (
	DefaultOutputPaths      = []string{"stdout", "arbvault.log"}
	DefaultErrorOutputPaths = []string{"stderr", "arbvault-error.log"}
)

// InitLogger initializes the global logger instance
func InitLogger(debug bool) *zap.Logger {
	return InitLoggerWithPaths(debug, DefaultOutputPaths, DefaultErrorOutputPaths)
}

// InitLoggerWithPaths is InitLogger writing to the given sinks. Only the
// first initialization takes effect.
func InitLoggerWithPaths(debug bool, outputs, errorOutputs []string) *zap.Logger {
	once.Do(func() {
		config := zap.NewProductionConfig()
		if debug {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}

		if len(outputs) == 0 {
			outputs = DefaultOutputPaths
		}
		if len(errorOutputs) == 0 {
			errorOutputs = DefaultErrorOutputPaths
		}
		config.OutputPaths = outputs
		config.ErrorOutputPaths = errorOutputs

		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.StacktraceKey = "stacktrace"

		logger, err := config.Build(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		if err != nil {
			panic(err)
		}

		log = logger
	})

	return log
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if log == nil {
		return InitLogger(false)
	}
	return log
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
