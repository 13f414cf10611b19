package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sethvargo/go-envconfig"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATLINE_"

// Config represents ~/.chatline/config.toml. Every key can be overridden
// from the environment, e.g. CHATLINE_SERVER_URL.
type Config struct {
	DefaultProfile string `toml:"default_profile" env:"DEFAULT_PROFILE,overwrite"`
	ServerURL      string `toml:"server_url" env:"SERVER_URL,overwrite"`
	Token          string `toml:"token" env:"TOKEN,overwrite"`
	TokenFile      string `toml:"token_file" env:"TOKEN_FILE,overwrite"`
	AutoConnect    bool   `toml:"auto_connect" env:"AUTO_CONNECT,overwrite"`
	LogLevel       string `toml:"log_level" env:"LOG_LEVEL,overwrite"`

	BackoffBase        time.Duration `toml:"backoff_base" env:"BACKOFF_BASE,overwrite"`
	BackoffMax         time.Duration `toml:"backoff_max" env:"BACKOFF_MAX,overwrite"`
	StabilityThreshold time.Duration `toml:"stability_threshold" env:"STABILITY_THRESHOLD,overwrite"`
	HeartbeatInterval  time.Duration `toml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL,overwrite"`
	PongTimeout        time.Duration `toml:"pong_timeout" env:"PONG_TIMEOUT,overwrite"`
	HandshakeTimeout   time.Duration `toml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT,overwrite"`
	RetryTimeout       time.Duration `toml:"retry_timeout" env:"RETRY_TIMEOUT,overwrite"`
	MaxRetries         int           `toml:"max_retries" env:"MAX_RETRIES,overwrite"`
	TypingTTL          time.Duration `toml:"typing_ttl" env:"TYPING_TTL,overwrite"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile:     "main",
		AutoConnect:        true,
		LogLevel:           "info",
		BackoffBase:        500 * time.Millisecond,
		BackoffMax:         30 * time.Second,
		StabilityThreshold: 30 * time.Second,
		HeartbeatInterval:  15 * time.Second,
		PongTimeout:        10 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		RetryTimeout:       5 * time.Second,
		MaxRetries:         3,
		TypingTTL:          6 * time.Second,
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the effective configuration: defaults, then the file at
// path if it exists, then CHATLINE_* environment variables.
func Resolve(ctx context.Context, path string) (*Config, error) {
	return ResolveWith(ctx, path, envconfig.OsLookuper())
}

// ResolveWith is Resolve with an explicit environment.
func ResolveWith(ctx context.Context, path string, env envconfig.Lookuper) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := envconfig.ProcessWith(ctx, cfg, envconfig.PrefixLookuper(EnvPrefix, env)); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase:
		return fmt.Errorf("invalid backoff: base %s, max %s", c.BackoffBase, c.BackoffMax)
	case c.HeartbeatInterval <= 0 || c.PongTimeout <= 0 || c.HandshakeTimeout <= 0:
		return errors.New("heartbeat_interval, pong_timeout and handshake_timeout must be positive")
	case c.RetryTimeout <= 0:
		return fmt.Errorf("invalid retry_timeout %s", c.RetryTimeout)
	case c.MaxRetries < 0:
		return fmt.Errorf("invalid max_retries %d", c.MaxRetries)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
