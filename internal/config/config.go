// Package config loads process settings from an optional TOML file and the
// environment, in that order, and validates the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"

	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/profile"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config holds every setting of a host or peer process.
type Config struct {
	Role        string `env:"ROLE" toml:"role" validate:"required,oneof=host peer"`
	ListenAddr  string `env:"LISTEN_ADDR" toml:"listen_addr" validate:"required"`
	PublicAddr  string `env:"PUBLIC_ADDR" toml:"public_addr" validate:"required,url"`
	HostAddr    string `env:"HOST_ADDR" toml:"host_addr" validate:"required_if=Role peer"`
	LocalID     string `env:"LOCAL_ID" toml:"local_id" validate:"required"`
	ProfilePath string `env:"PROFILE_PATH" toml:"profile_path" validate:"required"`

	StorageBackend string `env:"STORAGE_BACKEND" toml:"storage_backend" validate:"oneof=file badger memory"`
	StorageRoot    string `env:"STORAGE_ROOT" toml:"storage_root" validate:"required_if=StorageBackend file"`
	BadgerPath     string `env:"BADGER_PATH" toml:"badger_path"`
	RedisURL       string `env:"REDIS_URL" toml:"redis_url" validate:"omitempty,url"`

	DebounceDelay  time.Duration `env:"DEBOUNCE_DELAY" toml:"debounce_delay" validate:"gt=0"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" toml:"sweep_interval" validate:"gt=0"`
	HealthInterval time.Duration `env:"HEALTH_INTERVAL" toml:"health_interval" validate:"gt=0"`

	LogLevel string `env:"LOG_LEVEL" toml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// DefaultConfig returns the settings used when neither file nor environment
// override them. Role, LocalID and, for peers, HostAddr have no default.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":8080",
		PublicAddr:     "http://127.0.0.1:8080",
		ProfilePath:    profile.DefaultSlotPath,
		StorageBackend: BackendFile,
		StorageRoot:    "data",
		DebounceDelay:  5 * time.Second,
		SweepInterval:  5 * time.Second,
		HealthInterval: 5 * time.Second,
		LogLevel:       "INFO",
	}
}

// Load starts from DefaultConfig, overlays the TOML file at path when path is
// non-empty, then overlays environment variables. It does not validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// Overrides are command-line values; empty fields leave the config untouched.
type Overrides struct {
	Role       string
	ListenAddr string
	PublicAddr string
	HostAddr   string
	LocalID    string
	LogLevel   string
}

// Merge applies flag values, which take precedence over file and environment.
func (c *Config) Merge(o Overrides) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Role, o.Role)
	set(&c.ListenAddr, o.ListenAddr)
	set(&c.PublicAddr, o.PublicAddr)
	set(&c.HostAddr, o.HostAddr)
	set(&c.LocalID, o.LocalID)
	set(&c.LogLevel, o.LogLevel)
}

var validate = validator.New()

// Validate checks field constraints and that LocalID parses as an identity.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Identity(); err != nil {
		return fmt.Errorf("invalid config: LOCAL_ID: %w", err)
	}
	return nil
}

// ParsedRole returns Role as a cluster.Role.
func (c *Config) ParsedRole() (cluster.Role, error) {
	return cluster.ParseRole(c.Role)
}

// Identity returns LocalID as a cluster.Identity. Decimal and 0x-prefixed
// hex are accepted.
func (c *Config) Identity() (cluster.Identity, error) {
	if c.LocalID == "" {
		return 0, errors.New("empty identity")
	}
	return cluster.ParseIdentity(c.LocalID)
}

// Logger builds a text slog logger writing to w at the configured level.
// Unknown levels fall back to INFO.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
