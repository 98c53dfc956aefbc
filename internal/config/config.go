// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config is the environment configuration of the sgnl command. Command-line
// flags override these values.
type Config struct {
	DBPath          string        `env:"SIGNAL_REACTIONS_DB"`
	APIURL          string        `env:"SIGNAL_REACTIONS_API_URL" envDefault:"https://chat.signal.org"`
	WSURL           string        `env:"SIGNAL_REACTIONS_WS_URL" envDefault:"wss://chat.signal.org"`
	ResolveTimeout  time.Duration `env:"SIGNAL_REACTIONS_RESOLVE_TIMEOUT" envDefault:"10s"`
	RetryMaxElapsed time.Duration `env:"SIGNAL_REACTIONS_RETRY_MAX_ELAPSED" envDefault:"2m"`
	LogLevel        string        `env:"SIGNAL_REACTIONS_LOG_LEVEL" envDefault:"info"`
	MetricsAddr     string        `env:"SIGNAL_REACTIONS_METRICS_ADDR"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ResolveTimeout <= 0 {
		return Config{}, fmt.Errorf("parse env: SIGNAL_REACTIONS_RESOLVE_TIMEOUT must be positive")
	}
	return cfg, nil
}

// Level returns the configured log level.
func (c Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("log level: %w", err)
	}
	return lvl, nil
}
