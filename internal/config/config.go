// Package config loads ascend settings from ascend.toml, ASCEND_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file name without extension.
	FileName = "ascend"

	// EnvPrefix prefixes environment overrides, e.g. ASCEND_SERVER_PORT.
	EnvPrefix = "ASCEND"

	DefaultHost = "localhost"
	DefaultPort = 12517

	// MinDebounce is the shortest accepted sync.debounce.
	MinDebounce = time.Millisecond
)

// Config is the full ascend configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Registry RegistryConfig `mapstructure:"registry"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig is where a live session listens.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SyncConfig controls pairing and peer behavior.
type SyncConfig struct {
	// Extension is the pair infix: <name>.<Extension>.py and .ipynb.
	Extension string `mapstructure:"extension"`

	// MergeTimeout bounds how long a peer waits for the live session.
	MergeTimeout time.Duration `mapstructure:"merge_timeout"`

	// Debounce is the quiet period before a watched script is synced.
	Debounce time.Duration `mapstructure:"debounce"`

	// MaxCells bounds how far a peer command may grow the live notebook.
	MaxCells int `mapstructure:"max_cells"`
}

// RegistryConfig selects where live sessions register.
type RegistryConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	RedisURL string `mapstructure:"redis_url"`
}

// LogConfig controls log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// defaults lists every key with its default value. Keys missing here cannot
// be overridden from the environment.
func defaults() map[string]any {
	return map[string]any{
		"server.host":        DefaultHost,
		"server.port":        DefaultPort,
		"sync.extension":     "sync",
		"sync.merge_timeout": 5 * time.Second,
		"sync.debounce":      100 * time.Millisecond,
		"sync.max_cells":     10000,
		"registry.driver":    "sqlite",
		"registry.path":      defaultRegistryPath(),
		"registry.redis_url": "",
		"log.file":           "",
		"log.max_size_mb":    10,
		"log.max_backups":    3,
		"log.max_age_days":   28,
	}
}

func defaultRegistryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".cache", "ascend", "registry.db")
}

func withDefaults() *viper.Viper {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	return v
}

// New returns a viper instance with defaults, config search paths and
// environment binding set up. Callers may bind flags to it before Load.
func New() *viper.Viper {
	v := withDefaults()

	v.SetConfigName(FileName)
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "ascend"))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration into a Config. If path is empty the search paths
// are tried and a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := withDefaults().Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Sync.Extension == "" || strings.ContainsAny(c.Sync.Extension, `./\`) {
		return fmt.Errorf("invalid sync.extension %q", c.Sync.Extension)
	}
	if c.Sync.MergeTimeout <= 0 {
		return fmt.Errorf("invalid sync.merge_timeout %v", c.Sync.MergeTimeout)
	}
	if c.Sync.Debounce < MinDebounce {
		return fmt.Errorf("invalid sync.debounce %v (minimum %v)", c.Sync.Debounce, MinDebounce)
	}
	if c.Sync.MaxCells <= 0 {
		return fmt.Errorf("invalid sync.max_cells %d", c.Sync.MaxCells)
	}
	switch c.Registry.Driver {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("invalid registry.driver %q", c.Registry.Driver)
	}
	return nil
}

// Encode renders cfg as TOML. Durations are written in their string form so
// the file reads back through Load.
func Encode(cfg *Config) ([]byte, error) {
	doc := map[string]any{
		"server": map[string]any{
			"host": cfg.Server.Host,
			"port": cfg.Server.Port,
		},
		"sync": map[string]any{
			"extension":     cfg.Sync.Extension,
			"merge_timeout": cfg.Sync.MergeTimeout.String(),
			"debounce":      cfg.Sync.Debounce.String(),
			"max_cells":     cfg.Sync.MaxCells,
		},
		"registry": map[string]any{
			"driver":    cfg.Registry.Driver,
			"path":      cfg.Registry.Path,
			"redis_url": cfg.Registry.RedisURL,
		},
		"log": map[string]any{
			"file":         cfg.Log.File,
			"max_size_mb":  cfg.Log.MaxSizeMB,
			"max_backups":  cfg.Log.MaxBackups,
			"max_age_days": cfg.Log.MaxAgeDays,
		},
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	data, err := Encode(Default())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
