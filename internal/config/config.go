// Package config loads the tool's runtime settings from the
// environment. Settings here shape the shell (logging, telemetry,
// default output location), never the generated documents.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel         string
	LogFormat        string
	OutputDir        string
	TelemetryEnabled bool
}

func Load() (*Config, error) {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("output_dir", ".")
	viper.SetDefault("telemetry_enabled", false)

	viper.SetEnvPrefix("vmconfig")
	viper.AutomaticEnv()

	cfg := &Config{
		LogLevel:         viper.GetString("log_level"),
		LogFormat:        viper.GetString("log_format"),
		OutputDir:        viper.GetString("output_dir"),
		TelemetryEnabled: viper.GetBool("telemetry_enabled"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.LogFormat)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}

	return nil
}
