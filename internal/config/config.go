package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config carries everything needed to reach the messaging backend.
type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	BackendURL  string `mapstructure:"BACKEND_URL"`
	RealtimeURL string `mapstructure:"REALTIME_URL"`
	APIKey      string `mapstructure:"API_KEY"`

	// Identity for the static session used by the cmd binary.
	UserID      string `mapstructure:"USER_ID"`
	AccessToken string `mapstructure:"ACCESS_TOKEN"`
}

var keys = []string{
	"ENVIRONMENT", "BACKEND_URL", "REALTIME_URL", "API_KEY", "USER_ID", "ACCESS_TOKEN",
}

// Load reads configuration from a .env file if present, with real
// environment variables taking precedence.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	// AutomaticEnv alone does not surface env-only keys through Unmarshal;
	// each key needs an explicit binding so running without a .env works.
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(".env"); statErr == nil {
			return nil, fmt.Errorf("config: read .env: %w", err)
		}
		// no .env file; environment variables alone are fine
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if c.BackendURL == "" {
		return nil, fmt.Errorf("config: BACKEND_URL is required")
	}
	if c.RealtimeURL == "" {
		return nil, fmt.Errorf("config: REALTIME_URL is required")
	}
	return &c, nil
}
