// Package config resolves server settings from defaults, an optional TOML
// file, a .env file and XSSLAB_* environment variables, in rising priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	envPrefix  = "XSSLAB"
)

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config holds all runtime settings
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Hook      HookConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Catalog   CatalogConfig
	Log       LogConfig
}

type ServerConfig struct {
	Addr            string
	PublicURL       string
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	Driver string
	Path   string
}

type HookConfig struct {
	PollInterval time.Duration
}

type SessionConfig struct {
	OfflineAfter time.Duration
	StaleAfter   time.Duration
	ReapInterval time.Duration
}

type RateLimitConfig struct {
	HookPerMinute int
	Burst         int
}

type CatalogConfig struct {
	// Path of a TOML catalog; empty seeds the built-in one
	Path string
}

type LogConfig struct {
	Level  string
	Format string
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("storage.path", "xsslab.db")
	v.SetDefault("hook.poll_interval", 5*time.Second)
	v.SetDefault("session.offline_after", 30*time.Second)
	v.SetDefault("session.stale_after", 5*time.Minute)
	v.SetDefault("session.reap_interval", 10*time.Second)
	v.SetDefault("ratelimit.hook_per_minute", 120)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("catalog.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration into v. configFile, when set, must exist;
// otherwise config.toml is looked up in the working directory and is
// optional. envFile is loaded with godotenv before the environment is read
// and may be missing.
func Load(v *viper.Viper, configFile, envFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			PublicURL:       strings.TrimRight(v.GetString("server.public_url"), "/"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
			Path:   v.GetString("storage.path"),
		},
		Hook: HookConfig{
			PollInterval: v.GetDuration("hook.poll_interval"),
		},
		Session: SessionConfig{
			OfflineAfter: v.GetDuration("session.offline_after"),
			StaleAfter:   v.GetDuration("session.stale_after"),
			ReapInterval: v.GetDuration("session.reap_interval"),
		},
		RateLimit: RateLimitConfig{
			HookPerMinute: v.GetInt("ratelimit.hook_per_minute"),
			Burst:         v.GetInt("ratelimit.burst"),
		},
		Catalog: CatalogConfig{
			Path: v.GetString("catalog.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch {
	case c.Server.Addr == "":
		return errors.New("server.addr is required")
	case c.Hook.PollInterval <= 0:
		return errors.New("hook.poll_interval must be positive")
	case c.Session.OfflineAfter <= 0, c.Session.StaleAfter <= 0, c.Session.ReapInterval <= 0:
		return errors.New("session durations must be positive")
	case c.Session.OfflineAfter > c.Session.StaleAfter:
		return errors.New("session.offline_after must not exceed session.stale_after")
	case c.RateLimit.HookPerMinute <= 0:
		return errors.New("ratelimit.hook_per_minute must be positive")
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
