package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Remote  RemoteConfig
	Storage StorageConfig
	Sync    SyncConfig
	Server  ServerConfig
	Log     LogConfig
}

// RemoteConfig holds remote store connection settings.
type RemoteConfig struct {
	// URL is the base URL of the remote store, e.g. http://127.0.0.1:8090.
	URL string

	// Identity and Password authenticate against the store's user
	// collection. Prefer setting the password via POUCH_REMOTE_PASSWORD.
	Identity string
	Password string
}

// StorageConfig holds local persistence paths.
type StorageConfig struct {
	// Dir is the root directory for local state: the snapshot cache and
	// the pending operation queue both live under it.
	Dir string
}

// SyncConfig holds connectivity and reconciliation settings.
type SyncConfig struct {
	// ProbeInterval is how often connectivity is polled.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// SaveDelay is the quiet period before the in-memory snapshot is
	// mirrored to the local cache.
	SaveDelay time.Duration `mapstructure:"save_delay"`
}

// ServerConfig holds the local HTTP endpoint settings.
type ServerConfig struct {
	// Addr is the listen address for the metrics and health endpoints.
	Addr string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// Load reads configuration from file and env. Env var overrides use prefix POUCH_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("remote.url", "http://127.0.0.1:8090")
	v.SetDefault("remote.identity", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("storage.dir", filepath.Join(os.Getenv("HOME"), ".local", "share", "pouch"))
	v.SetDefault("sync.probe_interval", 15*time.Second)
	v.SetDefault("sync.save_delay", 500*time.Millisecond)
	v.SetDefault("server.addr", "127.0.0.1:9090")
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("POUCH_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "pouch"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("POUCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// QueuePath is the sqlite file the pending operation queue lives in.
func (c Config) QueuePath() string {
	return filepath.Join(c.Storage.Dir, "queue.db")
}

// CachePath is the directory the snapshot cache lives in.
func (c Config) CachePath() string {
	return filepath.Join(c.Storage.Dir, "cache")
}
