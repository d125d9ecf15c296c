// Package yotod holds the daemon-side plumbing: configuration loading,
// logger construction and the service supervisor.
package yotod

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jayheavner/yoto-esp32-controller/internal/bridge"
	"github.com/jayheavner/yoto-esp32-controller/internal/catalog"
	"github.com/jayheavner/yoto-esp32-controller/internal/coordinator"
	"github.com/jayheavner/yoto-esp32-controller/internal/transport"
)

// Config is the top-level configuration for yotod.
type Config struct {
	Auth      AuthConfig      `toml:"auth"`
	API       APIConfig       `toml:"api"`
	Transport TransportConfig `toml:"transport"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Bridge    BridgeConfig    `toml:"bridge"`
}

// AuthConfig holds the account credentials.
type AuthConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	ClientID string `toml:"client_id"`
}

// APIConfig holds REST endpoint settings.
type APIConfig struct {
	BaseURL   string `toml:"base_url"`
	TimeoutMS int64  `toml:"timeout_ms"`
}

// TransportConfig holds broker session settings.
type TransportConfig struct {
	BrokerURL        string `toml:"broker_url"`
	AuthName         string `toml:"auth_name"`
	MaxRetries       int    `toml:"max_retries"`
	InitialBackoffMS int64  `toml:"initial_backoff_ms"`
	MaxBackoffMS     int64  `toml:"max_backoff_ms"`
}

// CatalogConfig holds library cache settings.
type CatalogConfig struct {
	ArtDir       string `toml:"art_dir"`
	SnapshotPath string `toml:"snapshot_path"`
	MaxAgeS      int64  `toml:"max_age_s"`
}

// DaemonConfig holds daemon behavior and logging settings.
type DaemonConfig struct {
	DefaultDevice   string `toml:"default_device_id"`
	PollIntervalS   int64  `toml:"poll_interval_s"`
	RefreshCheckS   int64  `toml:"refresh_check_s"`
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	LogOutput       string `toml:"log_output"`
	ShutdownGraceMS int64  `toml:"shutdown_grace_ms"`
}

// BridgeConfig configures the local state bridge.
type BridgeConfig struct {
	Enabled        bool   `toml:"enabled"`
	Embedded       bool   `toml:"embedded"`
	Listen         string `toml:"listen"`
	BrokerURL      string `toml:"broker_url"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TopicBase      string `toml:"topic_base"`
}

// LoadConfig loads a config file from path.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields the daemon cannot run without.
func (c Config) Validate() error {
	if c.Auth.Username == "" || c.Auth.Password == "" {
		return errors.New("auth.username and auth.password are required")
	}
	return nil
}

// Coordinator maps the file configuration onto the coordinator's view of it,
// filling data-dir defaults for the catalog paths.
func (c Config) Coordinator() (coordinator.Config, error) {
	artDir := c.Catalog.ArtDir
	snapshot := c.Catalog.SnapshotPath
	if artDir == "" || snapshot == "" {
		dataDir, err := DefaultDataDir()
		if err != nil {
			return coordinator.Config{}, err
		}
		if artDir == "" {
			artDir = filepath.Join(dataDir, "art")
		}
		if snapshot == "" {
			snapshot = filepath.Join(dataDir, "library.json")
		}
	}

	return coordinator.Config{
		Username:        c.Auth.Username,
		Password:        c.Auth.Password,
		ClientID:        c.Auth.ClientID,
		BaseURL:         c.API.BaseURL,
		DefaultDevice:   c.Daemon.DefaultDevice,
		PollInterval:    secondsOr(c.Daemon.PollIntervalS, 0),
		RefreshInterval: secondsOr(c.Daemon.RefreshCheckS, 0),
		Transport: transport.Config{
			BrokerURL:      c.Transport.BrokerURL,
			AuthName:       c.Transport.AuthName,
			MaxRetries:     c.Transport.MaxRetries,
			InitialBackoff: millisOr(c.Transport.InitialBackoffMS, 0),
			MaxBackoff:     millisOr(c.Transport.MaxBackoffMS, 0),
		},
		Catalog: catalog.Config{
			ArtDir:       artDir,
			SnapshotPath: snapshot,
			MaxAge:       secondsOr(c.Catalog.MaxAgeS, 0),
		},
	}, nil
}

// BridgeConfig maps the file configuration onto the bridge's.
func (c Config) BridgeOptions() bridge.Config {
	return bridge.Config{
		Enabled:        c.Bridge.Enabled,
		Embedded:       c.Bridge.Embedded,
		Listen:         c.Bridge.Listen,
		BrokerURL:      c.Bridge.BrokerURL,
		AllowAnonymous: c.Bridge.AllowAnonymous,
		Username:       c.Bridge.Username,
		Password:       c.Bridge.Password,
		TopicBase:      c.Bridge.TopicBase,
	}
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "yoto", "yotod.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "yoto", "yotod.toml"), nil
}

// DefaultDataDir returns the default data directory for caches.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "yoto"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "yoto"), nil
}

func secondsOr(s int64, fallback time.Duration) time.Duration {
	if s <= 0 {
		return fallback
	}
	return time.Duration(s) * time.Second
}

func millisOr(ms int64, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
