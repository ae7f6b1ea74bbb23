package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the process logger for the given environment.
// "local" and "development" get a human-readable console logger at debug
// level; everything else gets production JSON at info level.
func NewLogger(env string) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch env {
	case "local", "development":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger.With(zap.String("service", "sqlbridge")), nil
}
