// Package config loads basketbuddy settings from defaults, a TOML file and
// BASKETBUDDY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BASKETBUDDY_REMOTE_URL.
const EnvPrefix = "BASKETBUDDY"

// Config is the full configuration.
type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	Log          LogConfig          `mapstructure:"log"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Server       ServerConfig       `mapstructure:"server"`
}

// LogConfig controls the structured logger. An empty File logs to stderr.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// RemoteConfig points the client at the remote store.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	UserID  string        `mapstructure:"user_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig is the outbox retry policy.
type SyncConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// ConnectivityConfig controls the reachability prober.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	StartOnline   bool          `mapstructure:"start_online"`
}

// ServerConfig configures the development remote.
type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	DBPath  string `mapstructure:"db_path"`
	BlobDir string `mapstructure:"blob_dir"`
	Token   string `mapstructure:"token"`
}

// Dir returns ~/.basketbuddy.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".basketbuddy"), nil
}

// DefaultPath returns ~/.basketbuddy/config.toml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("data_dir", filepath.Join(home, "data"))

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("remote.url", "http://127.0.0.1:8787")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.user_id", "")
	v.SetDefault("remote.timeout", "30s")

	v.SetDefault("sync.max_retries", 10)
	v.SetDefault("sync.backoff_base", "2s")
	v.SetDefault("sync.backoff_max", "5m")

	v.SetDefault("connectivity.probe_interval", "15s")
	v.SetDefault("connectivity.probe_timeout", "5s")
	v.SetDefault("connectivity.start_online", false)

	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.db_path", filepath.Join(home, "remote.db"))
	v.SetDefault("server.blob_dir", filepath.Join(home, "blobs"))
	v.SetDefault("server.token", "")
}

// Load reads the configuration. An empty path reads the default file when
// it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	home, err := Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, home)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(home, "config.toml")
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
		default:
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file and no environment.
func Default() (*Config, error) {
	home, err := Dir()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	setDefaults(v, home)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot build default config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return errors.New("data_dir must be set")
	case c.Sync.MaxRetries < 1:
		return fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	case c.Sync.BackoffBase <= 0 || c.Sync.BackoffMax < c.Sync.BackoffBase:
		return fmt.Errorf("sync backoff must satisfy 0 < backoff_base <= backoff_max, got %s and %s",
			c.Sync.BackoffBase, c.Sync.BackoffMax)
	case c.Connectivity.ProbeInterval <= 0 || c.Connectivity.ProbeTimeout <= 0:
		return errors.New("connectivity probe_interval and probe_timeout must be positive")
	}
	return nil
}

// fileConfig is the on-disk layout. Durations are written as strings such
// as "2s" so the file stays hand-editable.
type fileConfig struct {
	DataDir string `toml:"data_dir"`
	Log     struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
	} `toml:"log"`
	Remote struct {
		URL     string `toml:"url"`
		Token   string `toml:"token"`
		UserID  string `toml:"user_id"`
		Timeout string `toml:"timeout"`
	} `toml:"remote"`
	Sync struct {
		MaxRetries  int    `toml:"max_retries"`
		BackoffBase string `toml:"backoff_base"`
		BackoffMax  string `toml:"backoff_max"`
	} `toml:"sync"`
	Connectivity struct {
		ProbeInterval string `toml:"probe_interval"`
		ProbeTimeout  string `toml:"probe_timeout"`
		StartOnline   bool   `toml:"start_online"`
	} `toml:"connectivity"`
	Server struct {
		Addr    string `toml:"addr"`
		DBPath  string `toml:"db_path"`
		BlobDir string `toml:"blob_dir"`
		Token   string `toml:"token"`
	} `toml:"server"`
}

// Marshal renders c as TOML.
func (c *Config) Marshal() ([]byte, error) {
	var f fileConfig
	f.DataDir = c.DataDir
	f.Log.Level = c.Log.Level
	f.Log.File = c.Log.File
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Remote.URL = c.Remote.URL
	f.Remote.Token = c.Remote.Token
	f.Remote.UserID = c.Remote.UserID
	f.Remote.Timeout = c.Remote.Timeout.String()
	f.Sync.MaxRetries = c.Sync.MaxRetries
	f.Sync.BackoffBase = c.Sync.BackoffBase.String()
	f.Sync.BackoffMax = c.Sync.BackoffMax.String()
	f.Connectivity.ProbeInterval = c.Connectivity.ProbeInterval.String()
	f.Connectivity.ProbeTimeout = c.Connectivity.ProbeTimeout.String()
	f.Connectivity.StartOnline = c.Connectivity.StartOnline
	f.Server.Addr = c.Server.Addr
	f.Server.DBPath = c.Server.DBPath
	f.Server.BlobDir = c.Server.BlobDir
	f.Server.Token = c.Server.Token

	data, err := toml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	return data, nil
}

// Write saves c to path, creating the parent directory. The file may carry
// tokens, so it is private to the user.
func Write(path string, c *Config) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}
