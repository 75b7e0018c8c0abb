// Package config loads settings for the stress tool from a YAML file and
// SLOTPOOL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the stress tool configuration.
type Config struct {
	Capacity    int           `mapstructure:"capacity"`
	Workers     int           `mapstructure:"workers"`
	Duration    time.Duration `mapstructure:"duration"`
	Hold        int           `mapstructure:"hold"`
	OffHeap     bool          `mapstructure:"off_heap"`
	CacheLimit  int           `mapstructure:"cache_limit"`
	LogLevel    string        `mapstructure:"log_level"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

// Load reads path if it is non-empty, otherwise an optional config.yaml in
// the working directory. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("capacity", 1024)
	v.SetDefault("workers", 8)
	v.SetDefault("duration", 5*time.Second)
	v.SetDefault("hold", 16)
	v.SetDefault("off_heap", false)
	v.SetDefault("cache_limit", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")

	v.SetEnvPrefix("SLOTPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the stress run cannot work without.
func (c *Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("config: capacity must be positive, got %d", c.Capacity)
	case c.Workers <= 0:
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	case c.Duration <= 0:
		return fmt.Errorf("config: duration must be positive, got %s", c.Duration)
	case c.Hold <= 0:
		return fmt.Errorf("config: hold must be positive, got %d", c.Hold)
	}
	return nil
}
