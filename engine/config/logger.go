package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the zap logger described by log. Development mode uses zap's
// development defaults (console encoding, stack traces on warnings); otherwise the
// production defaults apply with the configured level and encoding.
//
// Returns:
//   - *zap.Logger: the logger
//   - error: error if the level is invalid or the logger cannot be built
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	if c.Log.Encoding != "" {
		zc.Encoding = c.Log.Encoding
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	return logger, nil
}
