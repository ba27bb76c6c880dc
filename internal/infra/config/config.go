// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Playback PlaybackConfig `yaml:"playback"`
	Idle     IdleConfig     `yaml:"idle"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Resolver ResolverConfig `yaml:"resolver"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig represents the ops HTTP server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	MaxConsecutiveFailures  int `yaml:"max_consecutive_failures" default:"3" validate:"gte=1,lte=10"`
	UpcomingCount           int `yaml:"upcoming_count" default:"10" validate:"gte=1,lte=50"`
	DefaultTrackDurationSec int `yaml:"default_track_duration_sec" default:"180" validate:"gte=1"`
}

// IdleConfig represents idle-disconnect configuration.
type IdleConfig struct {
	SweepIntervalSec int `yaml:"sweep_interval_sec" default:"60" validate:"gte=1"`
	TimeoutMin       int `yaml:"timeout_min" default:"30" validate:"gte=1"`
}

// IngestConfig represents playlist ingestion configuration.
type IngestConfig struct {
	InitialBatch int `yaml:"initial_batch" default:"5" validate:"gte=1,lte=50"`
}

// ResolverConfig represents the track resolver provider configuration.
// Settings are provider-specific and decoded by the resolver factory.
type ResolverConfig struct {
	Type     string         `yaml:"type" default:"spotify" validate:"required"`
	Settings map[string]any `yaml:"settings"`
}

// CacheConfig represents the optional Redis resolver cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" default:"localhost:6379"`
	TTLMin  int    `yaml:"ttl_min" default:"60" validate:"gte=1"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
	File   string `yaml:"file"`
}

// SweepInterval returns the idle sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Idle.SweepIntervalSec) * time.Second
}

// IdleTimeout returns the idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Idle.TimeoutMin) * time.Minute
}

// CacheTTL returns the resolver cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMin) * time.Minute
}

// DefaultTrackDuration returns the fallback duration used when a
// track's own duration is unknown.
func (c *Config) DefaultTrackDuration() time.Duration {
	return time.Duration(c.Playback.DefaultTrackDurationSec) * time.Second
}

// Load loads configuration from a YAML file. Environment variables
// take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	setting := func(key, env string) {
		if v := os.Getenv(env); v != "" {
			if c.Resolver.Settings == nil {
				c.Resolver.Settings = make(map[string]any)
			}
			c.Resolver.Settings[key] = v
		}
	}
	setting("client_id", "RESOLVER_CLIENT_ID")
	setting("client_secret", "RESOLVER_CLIENT_SECRET")
	setting("refresh_token", "RESOLVER_REFRESH_TOKEN")

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
