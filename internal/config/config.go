// Package config loads dgsync settings from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DataDir is the vault folder holding dgsync's own files.
const DataDir = "_discourse_graphs"

// Config is the fully resolved configuration.
type Config struct {
	Vault     VaultConfig
	Queue     QueueConfig
	Remote    RemoteConfig
	Embedding EmbeddingConfig
	Sync      SyncConfig
	Dashboard DashboardConfig
	Log       LogConfig
}

// VaultConfig locates the local document store.
type VaultConfig struct {
	Path string
}

// QueueConfig tunes the change queue.
type QueueConfig struct {
	Debounce time.Duration
}

// RemoteConfig selects and authenticates the remote backend.
type RemoteConfig struct {
	Driver         string // sqlite or postgres
	DSN            string
	SpaceURL       string
	SpaceName      string
	AccountLocalID string
	Email          string
	Password       string
}

// EmbeddingConfig points at the embedding endpoint.
type EmbeddingConfig struct {
	URL        string
	Model      string
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

// SyncConfig tunes uploads.
type SyncConfig struct {
	BatchSize int
}

// DashboardConfig controls the websocket/metrics server.
type DashboardConfig struct {
	Enabled bool
	Port    int
}

// LogConfig controls logging output.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a viper instance with defaults, env binding and search paths.
// vaultPath may be empty; it is only used to add the vault's data folder
// to the config search path.
func New(vaultPath string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("dgsync")
	if vaultPath != "" {
		v.AddConfigPath(filepath.Join(vaultPath, DataDir))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "dgsync"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("DGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("vault.path", vaultPath)
	v.SetDefault("queue.debounce", 5*time.Second)
	v.SetDefault("remote.driver", "sqlite")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.space_url", "")
	v.SetDefault("remote.space_name", "")
	v.SetDefault("remote.account_local_id", "")
	v.SetDefault("remote.email", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("embedding.url", "https://discoursegraphs.com/api/embeddings/openai/small")
	v.SetDefault("embedding.model", "openai_text_embedding_3_small_1536")
	v.SetDefault("embedding.batch_size", 200)
	v.SetDefault("embedding.timeout", 60*time.Second)
	v.SetDefault("embedding.max_retries", 2)
	v.SetDefault("sync.batch_size", 200)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	return v
}

// Load reads configuration. An explicit configFile must exist; otherwise a
// missing dgsync.{yaml,toml,json} in the search path is not an error.
func Load(configFile, vaultPath string) (*Config, error) {
	v := New(vaultPath)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Vault: VaultConfig{
			Path: v.GetString("vault.path"),
		},
		Queue: QueueConfig{
			Debounce: v.GetDuration("queue.debounce"),
		},
		Remote: RemoteConfig{
			Driver:         strings.ToLower(v.GetString("remote.driver")),
			DSN:            v.GetString("remote.dsn"),
			SpaceURL:       v.GetString("remote.space_url"),
			SpaceName:      v.GetString("remote.space_name"),
			AccountLocalID: v.GetString("remote.account_local_id"),
			Email:          v.GetString("remote.email"),
			Password:       v.GetString("remote.password"),
		},
		Embedding: EmbeddingConfig{
			URL:        v.GetString("embedding.url"),
			Model:      v.GetString("embedding.model"),
			BatchSize:  v.GetInt("embedding.batch_size"),
			Timeout:    v.GetDuration("embedding.timeout"),
			MaxRetries: v.GetInt("embedding.max_retries"),
		},
		Sync: SyncConfig{
			BatchSize: v.GetInt("sync.batch_size"),
		},
		Dashboard: DashboardConfig{
			Enabled: v.GetBool("dashboard.enabled"),
			Port:    v.GetInt("dashboard.port"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}

	if cfg.Remote.DSN == "" && cfg.Remote.Driver == "sqlite" && cfg.Vault.Path != "" {
		cfg.Remote.DSN = filepath.Join(cfg.Vault.Path, DataDir, "remote.db")
	}
	if cfg.Remote.SpaceURL == "" && cfg.Vault.Path != "" {
		cfg.Remote.SpaceURL = "file://" + filepath.ToSlash(cfg.Vault.Path)
	}
	if cfg.Remote.SpaceName == "" && cfg.Vault.Path != "" {
		cfg.Remote.SpaceName = filepath.Base(cfg.Vault.Path)
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Vault.Path == "" {
		errs = append(errs, errors.New("vault.path is required"))
	}
	if c.Queue.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("queue.debounce must be positive, got %s", c.Queue.Debounce))
	}
	switch c.Remote.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("remote.driver must be sqlite or postgres, got %q", c.Remote.Driver))
	}
	if c.Remote.Driver == "postgres" && c.Remote.DSN == "" {
		errs = append(errs, errors.New("remote.dsn is required for postgres"))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, errors.New("embedding.batch_size must be positive"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("sync.batch_size must be positive"))
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 0 || c.Dashboard.Port > 65535) {
		errs = append(errs, fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port))
	}
	return errors.Join(errs...)
}

// DataPath joins elem onto the vault's data folder.
func (c *Config) DataPath(elem ...string) string {
	return filepath.Join(append([]string{c.Vault.Path, DataDir}, elem...)...)
}
