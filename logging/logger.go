// Package logging provides the structured logger for the service.
//
// The logger tees output to the console and a rotating log file, switches
// between a human-readable development encoder and JSON for production, and
// redacts credential-looking fields before they reach any sink.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a zap logger for the given environment.
//
// In development mode output uses a colored console encoder at debug level;
// in production a JSON encoder at info level. Both modes write to stdout and
// to the rotating file at logFilePath.
//
// Example:
//
//	logger, err := logging.NewLogger(true, "app.log")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//	logger.Info("server started", zap.Int("port", 8000))
func NewLogger(isDevelopment bool, logFilePath string) (*zap.Logger, error) {
	return NewLoggerWithConfig(isDevelopment, logFilePath, DefaultFileWriterConfig())
}

// NewLoggerWithConfig creates a logger with custom file rotation settings.
func NewLoggerWithConfig(isDevelopment bool, logFilePath string, fileConfig FileWriterConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if isDevelopment {
		level = zapcore.DebugLevel
	} else {
		level = zapcore.InfoLevel
	}

	consoleEncoder, fileEncoder := buildEncoders(isDevelopment)

	fileWriter := NewFileWriterWithConfig(logFilePath, fileConfig)
	consoleWriter := zapcore.Lock(os.Stdout)

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, consoleWriter, level),
		zapcore.NewCore(fileEncoder, fileWriter, level),
	)

	logger := zap.New(newSensitiveCore(core), zap.AddCaller())
	if logger == nil {
		return nil, fmt.Errorf("failed to build logger")
	}
	return logger, nil
}

// NewNopLogger returns a logger that discards everything. Intended for tests
// that need a non-nil *zap.Logger.
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}

// buildEncoders returns the console and file encoders for the environment.
// The file always receives JSON so log shippers can parse it; the console
// encoder is human-readable in development.
func buildEncoders(isDevelopment bool) (console, file zapcore.Encoder) {
	fileEncoderConfig := zap.NewProductionEncoderConfig()
	fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	file = zapcore.NewJSONEncoder(fileEncoderConfig)

	if isDevelopment {
		consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
		consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		console = zapcore.NewConsoleEncoder(consoleEncoderConfig)
	} else {
		console = zapcore.NewJSONEncoder(fileEncoderConfig)
	}
	return console, file
}
