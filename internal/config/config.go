// Package config loads the server's TOML configuration file and builds its
// zap logger, the way the simulation harness this server is descended from
// loaded its TOML test-case files.
package config

import (
	"errors"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config reflects a server's .toml configuration file.
type Config struct {
	Addr           string
	IdleTimeoutMs  int64
	TTLTickMax     int
	LogLevel       string
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Addr:          "0.0.0.0:1234",
		IdleTimeoutMs: 5000,
		TTLTickMax:    2000,
		LogLevel:      "info",
	}
}

// Load reads and validates a TOML configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Addr == "" {
		return errors.New("config: addr must not be empty")
	}
	if cfg.IdleTimeoutMs <= 0 {
		return errors.New("config: idle timeout must be positive")
	}
	if cfg.TTLTickMax <= 0 {
		return errors.New("config: ttl tick max must be positive")
	}
	return nil
}

// NewLogger builds the zap logger used across the server, honoring
// cfg.LogLevel.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	var level zap.AtomicLevel
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	return zcfg.Build()
}
