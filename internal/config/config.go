// Package config loads application configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Owner  OwnerConfig
	Data   DataConfig
	Remote RemoteConfig
	Sync   SyncConfig
	Watch  WatchConfig
	Log    LogConfig
}

// OwnerConfig identifies the tracker's owner.
type OwnerConfig struct {
	// ID scopes remote documents. All devices of one household share it.
	ID string
}

// DataConfig holds local storage settings.
type DataConfig struct {
	// Dir holds the database and log files.
	Dir string
}

// RemoteConfig holds hosted document store settings.
type RemoteConfig struct {
	// Enabled turns synchronization on. When false the tracker is fully
	// local: mutations still queue, sync commands report the remote as
	// disabled.
	Enabled bool
	URL     string
	Token   string
}

// SyncConfig holds engine tuning.
type SyncConfig struct {
	BatchSize     int
	MaxAttempts   int
	RetentionDays int
}

// WatchConfig holds inbox watcher settings.
type WatchConfig struct {
	// InboxDir is scanned for dropped CSV files.
	InboxDir string
	// DebounceMS is how long a file must be quiet before import.
	DebounceMS int
	// DashboardPort serves the websocket dashboard when watching.
	DashboardPort int
}

// LogConfig holds file logging settings.
type LogConfig struct {
	// File receives rotated logs; empty logs to stderr only.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads configuration from $FZ_CONFIG or ~/.finanzas/config.yaml, with
// FZ_-prefixed env overrides (FZ_REMOTE_URL, FZ_OWNER_ID, ...).
func Load() (Config, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".finanzas")

	v.SetDefault("owner.id", "default")
	v.SetDefault("data.dir", base)
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.retention_days", 30)
	v.SetDefault("watch.inbox_dir", filepath.Join(base, "inbox"))
	v.SetDefault("watch.debounce_ms", 500)
	v.SetDefault("watch.dashboard_port", 7433)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetConfigType("yaml")

	if cfgPath := os.Getenv("FZ_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(base)
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FZ")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// config file is optional
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return c, nil
}

// DatabasePath is the local database location under the data dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.Data.Dir, "finanzas.db")
}

// EnsureDataDir creates the data directory if needed.
func (c Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.Data.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	return nil
}
