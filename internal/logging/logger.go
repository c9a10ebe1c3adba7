package logging

import (
	"strings"

	"go.uber.org/zap"
)

var (
	// Logger is the process-wide logger. It is a no-op until Initialize runs.
	Logger = zap.NewNop()
	Sugar  = Logger.Sugar()
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
}

// InitializeWithConfig sets up the global logger.
func InitializeWithConfig(config LogConfig) error {
	var zapConfig zap.Config
	switch strings.ToLower(config.Format) {
	case "json":
		zapConfig = zap.NewProductionConfig()
	default:
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(config.Level))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	logger, err := zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return err
	}
	SetLogger(logger)
	Sugar.Infow("logging initialized", "level", level.String(), "format", config.Format)
	return nil
}

// SetLogger replaces the global logger, mostly for tests.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	Logger = logger
	Sugar = logger.Sugar()
}

// Named returns a sugared child logger for a component.
func Named(component string) *zap.SugaredLogger {
	return Sugar.Named(component)
}

// Sync flushes buffered entries. Sync on stderr fails on some platforms; that is ignored.
func Sync() {
	_ = Logger.Sync()
}
