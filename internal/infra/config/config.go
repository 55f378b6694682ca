// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/similarbox/internal/app/ratelimit"
)

// Config represents the application configuration.
type Config struct {
	LastFm    LastFmConfig      `yaml:"lastfm"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Cache     CacheConfig       `yaml:"cache"`
	Database  DatabaseConfig    `yaml:"database"`
	MPD       MPDConfig         `yaml:"mpd"`
	Spotify   SpotifyConfig     `yaml:"spotify"`
	Settings  map[string]string `yaml:"settings"` // Initial discovery settings, never overwrite stored values
}

// LastFmConfig represents Last.fm API configuration.
type LastFmConfig struct {
	APIKey    string `yaml:"api_key" validate:"required"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	TimeoutMs int    `yaml:"timeout_ms" default:"10000" validate:"gte=0,lte=60000"`
}

// RateLimitConfig represents the provider rate limiter configuration.
type RateLimitConfig struct {
	MaxCalls         int  `yaml:"max_calls" default:"5" validate:"gte=1"`
	WindowMs         int  `yaml:"window_ms" default:"1000" validate:"gte=1"`
	BaseDelayMs      *int `yaml:"base_delay_ms" default:"200" validate:"omitempty,gte=0"` // 0 disables the base delay
	MaxDelayMs       int  `yaml:"max_delay_ms" default:"5000" validate:"gte=0"`
	FailureThreshold int  `yaml:"failure_threshold" default:"3" validate:"gte=1"`
}

// CacheConfig represents response cache configuration.
type CacheConfig struct {
	TTLMinutes int  `yaml:"ttl_minutes" default:"1440" validate:"gte=1"`
	Persist    bool `yaml:"persist"` // Keep responses in the database across runs
}

// DatabaseConfig represents the local database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"` // Empty selects the XDG data directory
}

// MPDConfig represents the MPD connection.
type MPDConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6600" validate:"hostname_port"`
	Password string `yaml:"password"`
}

// SpotifyConfig represents Spotify API configuration for playlist export.
type SpotifyConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id" validate:"required_if=Enabled true"`
	ClientSecret string `yaml:"client_secret" validate:"required_if=Enabled true"`
	RefreshToken string `yaml:"refresh_token" validate:"required_if=Enabled true"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
	Public       bool   `yaml:"public"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
// A missing file yields a configuration built from defaults and environment.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, errors.Wrap(err, "failed to read config file")
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.LastFm.APIKey = v
	}
	if v := os.Getenv("MPD_PASSWORD"); v != "" {
		c.MPD.Password = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if base := c.RateLimit.BaseDelayMs; base != nil && c.RateLimit.MaxDelayMs < *base {
		return errors.Newf("max_delay_ms (%d) must not be below base_delay_ms (%d)",
			c.RateLimit.MaxDelayMs, *base)
	}

	return nil
}

// LastFmTimeout returns the Last.fm request timeout.
func (c *Config) LastFmTimeout() time.Duration {
	return time.Duration(c.LastFm.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the lifetime of cached responses.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// Limiter returns the rate limiter parameters.
func (c *Config) Limiter() ratelimit.Config {
	var baseDelay *time.Duration
	if c.RateLimit.BaseDelayMs != nil {
		baseDelay = ratelimit.Delay(time.Duration(*c.RateLimit.BaseDelayMs) * time.Millisecond)
	}
	return ratelimit.Config{
		MaxCalls:         c.RateLimit.MaxCalls,
		Window:           time.Duration(c.RateLimit.WindowMs) * time.Millisecond,
		BaseDelay:        baseDelay,
		MaxDelay:         time.Duration(c.RateLimit.MaxDelayMs) * time.Millisecond,
		FailureThreshold: c.RateLimit.FailureThreshold,
	}
}
