package logging

import (
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Log level constants re-exported for convenience.
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// ParseLogLevel parses a level name ("debug", "info", "warn", "error",
// "fatal"), returning defaultLevel for empty or unrecognized input.
func ParseLogLevel(value string, defaultLevel zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return defaultLevel
	}
}

// LogLevelFromEnv reads the LOG_LEVEL environment variable.
func LogLevelFromEnv(defaultLevel zapcore.Level) zapcore.Level {
	return ParseLogLevel(os.Getenv("LOG_LEVEL"), defaultLevel)
}
