package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum enabled level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`

	// Format selects the encoder: "json" (default) or "console".
	Format string `koanf:"format"`

	// Fields are constant fields attached to every entry.
	Fields map[string]string `koanf:"fields"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
	}
}

// Validate checks the config for unsupported values.
func (c *Config) Validate() error {
	if c.Format != "" && c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("invalid log format: %q (expected json or console)", c.Format)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) level() (zapcore.Level, error) {
	if c.Level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %q", c.Level)
	}
	return lvl, nil
}
