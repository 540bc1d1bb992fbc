// Package config loads the application configuration.
//
// Settings come from three layers: built-in defaults, an optional YAML
// config file, and MYM_-prefixed environment variables, each layer
// overriding the one before. The file is searched in the data directory
// and the working directory unless an explicit path is given.
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

// EnvPrefix is prepended to environment overrides, e.g. MYM_BACKEND_URL.
const EnvPrefix = "MYM"

// Config holds all application settings.
type Config struct {
	Data      DataConfig      `mapstructure:"data"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	DevServer DevServerConfig `mapstructure:"devserver"`
}

// DataConfig locates everything the app persists.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabasePath is the SQLite ledger location.
func (d *DataConfig) DatabasePath() string { return filepath.Join(d.Dir, "ledger.db") }

// CredentialsPath is the stored backend token location.
func (d *DataConfig) CredentialsPath() string { return filepath.Join(d.Dir, "credentials.json") }

// LockPath is the daemon's advisory lock file.
func (d *DataConfig) LockPath() string { return filepath.Join(d.Dir, "daemon.lock") }

// LogPath is the daemon's rotating log file.
func (d *DataConfig) LogPath() string { return filepath.Join(d.Dir, "logs", "daemon.log") }

// IngestPath is the drop directory the daemon watches for record files.
func (d *DataConfig) IngestPath() string { return filepath.Join(d.Dir, "ingest") }

// CachePath holds the compiled SQLite module between runs.
func (d *DataConfig) CachePath() string { return filepath.Join(d.Dir, "cache") }

// BackendConfig selects and parameterizes the remote backend.
type BackendConfig struct {
	Driver           string        `mapstructure:"driver"`
	URL              string        `mapstructure:"url"`
	MinServerVersion string        `mapstructure:"min_server_version"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the drain loop.
type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// DaemonConfig tunes the background process.
type DaemonConfig struct {
	LogMaxSizeMB  int  `mapstructure:"log_max_size_mb"`
	LogMaxBackups int  `mapstructure:"log_max_backups"`
	LogMaxAgeDays int  `mapstructure:"log_max_age_days"`
	WatchIngest   bool `mapstructure:"watch_ingest"`
}

// DashboardConfig tunes the local status dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// DevServerConfig tunes the bundled development backend.
type DevServerConfig struct {
	Port    int    `mapstructure:"port"`
	Version string `mapstructure:"version"`
	Token   string `mapstructure:"token"`
}

// DefaultDataDir is ~/.mym, falling back to a relative .mym when the home
// directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mym"
	}
	return filepath.Join(home, ".mym")
}

// Load reads configuration. An explicit path must exist; otherwise the
// file is optional and defaults plus environment carry the day.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDataDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could run with. Backend details
// are checked later, by the driver, so the app stays usable offline with
// nothing configured.
func (c *Config) Validate() error {
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", DefaultDataDir())
	v.SetDefault("backend.driver", "rest")
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.min_server_version", "")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.probe_interval", 30*time.Second)
	v.SetDefault("daemon.log_max_size_mb", 10)
	v.SetDefault("daemon.log_max_backups", 3)
	v.SetDefault("daemon.log_max_age_days", 28)
	v.SetDefault("daemon.watch_ingest", true)
	v.SetDefault("dashboard.port", 4280)
	v.SetDefault("devserver.port", 8090)
	v.SetDefault("devserver.version", "1.0.0")
	v.SetDefault("devserver.token", "")
}
