package logger

import (
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a no-op logger until Init is called so
// packages can log unconditionally (including from tests).
var Log = zap.NewNop()

// Init builds the global logger for the given level ("debug", "info", "warn", "error").
// development selects the human readable console encoder.
func Init(level string, development bool) error {
	var lv zapcore.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = zapcore.DebugLevel
	case "warn", "warning":
		lv = zapcore.WarnLevel
	case "error":
		lv = zapcore.ErrorLevel
	default:
		lv = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lv)

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = l
	return nil
}

// StdLog adapts the global logger to the standard library *log.Logger, used for
// libraries that only accept one (gorm's logger, http.Server.ErrorLog).
func StdLog(name string) *log.Logger {
	return zap.NewStdLog(Log.Named(name))
}

// Sync flushes buffered entries; errors on stdout/stderr sync are ignored.
func Sync() {
	_ = Log.Sync()
}
