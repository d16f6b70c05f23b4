package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// LoadFromEnv builds the config from process environment variables only,
// using the deployment variable names (PLATFORM, STAGE,
// AUTH_TABLE, BACKEND_URL, ...).
func LoadFromEnv() (Config, error) {
	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	config.ApplyDefaults()
	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}
