package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance.
	Logger *zap.SugaredLogger

	// JSONOutput tracks whether structured JSON output is enabled.
	JSONOutput bool
)

func init() {
	// Safe no-op logger until Initialize runs, so packages logging at load
	// time never hit a nil pointer.
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. JSON output is for machine
// consumption; the default is a minimal human-readable console format.
func Initialize(jsonOutput bool) error {
	JSONOutput = jsonOutput

	var zapLogger *zap.Logger
	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		var err error
		zapLogger, err = config.Build()
		if err != nil {
			return err
		}
	} else {
		level := zap.InfoLevel
		if os.Getenv("WEFT_DEBUG") != "" {
			level = zap.DebugLevel
		}
		zapLogger = zap.New(
			zapcore.NewCore(
				newMinimalEncoder(),
				zapcore.AddSync(os.Stdout),
				level,
			),
		)
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Named returns a child logger with the given component name.
func Named(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// Cleanup flushes buffered log entries. Call before process exit.
func Cleanup() {
	_ = Logger.Sync()
}

// Info logs at info level.
func Info(args ...interface{}) {
	Logger.Info(args...)
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// Infow logs at info level with structured key-value pairs.
func Infow(msg string, keysAndValues ...interface{}) {
	Logger.Infow(msg, keysAndValues...)
}

// Error logs at error level.
func Error(args ...interface{}) {
	Logger.Error(args...)
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

// Errorw logs at error level with structured key-value pairs.
func Errorw(msg string, keysAndValues ...interface{}) {
	Logger.Errorw(msg, keysAndValues...)
}

// Warn logs at warn level.
func Warn(args ...interface{}) {
	Logger.Warn(args...)
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Warnw logs at warn level with structured key-value pairs.
func Warnw(msg string, keysAndValues ...interface{}) {
	Logger.Warnw(msg, keysAndValues...)
}

// Debug logs at debug level.
func Debug(args ...interface{}) {
	Logger.Debug(args...)
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Debugw logs at debug level with structured key-value pairs.
func Debugw(msg string, keysAndValues ...interface{}) {
	Logger.Debugw(msg, keysAndValues...)
}
