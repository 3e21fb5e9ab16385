package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds a zap logger at level and installs it as the global
// logger used through zap.S(). dev selects the human-readable console
// encoder. Callers should Sync the returned logger before exiting.
func NewLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	zc := zap.NewProductionConfig()
	if dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
