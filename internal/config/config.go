// Package config loads pipebridge settings from defaults, a TOML file and
// PIPEBRIDGE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/pipebridge/internal/host"
)

// EnvPrefix prefixes every environment override, e.g. PIPEBRIDGE_LOG_LEVEL.
const EnvPrefix = "PIPEBRIDGE"

// Config holds application configuration.
type Config struct {
	Host  HostConfig  `mapstructure:"host"`
	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`
}

// HostConfig tunes the host runtime loop.
type HostConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ReadChunk    int           `mapstructure:"read_chunk"`
	GCInterval   time.Duration `mapstructure:"gc_interval"`
}

// StoreConfig locates the delivery journal. An empty path disables it.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host: HostConfig{
			PollInterval: host.DefaultPollInterval,
			ReadChunk:    host.DefaultReadChunk,
			GCInterval:   host.DefaultGCInterval,
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultPath returns $PIPEBRIDGE_CONFIG or ~/.config/pipebridge/config.toml.
func DefaultPath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "pipebridge", "config.toml")
}

// Load reads configuration from path (DefaultPath if empty) and the
// environment. A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("host.poll_interval", d.Host.PollInterval)
	v.SetDefault("host.read_chunk", d.Host.ReadChunk)
	v.SetDefault("host.gc_interval", d.Host.GCInterval)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("log.level", d.Log.Level)

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigType("toml")
	v.SetConfigFile(path)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the runtime cannot use.
func (c Config) Validate() error {
	if c.Host.PollInterval <= 0 {
		return fmt.Errorf("host.poll_interval must be positive, got %s", c.Host.PollInterval)
	}
	if c.Host.ReadChunk <= 0 {
		return fmt.Errorf("host.read_chunk must be positive, got %d", c.Host.ReadChunk)
	}
	if c.Host.GCInterval <= 0 {
		return fmt.Errorf("host.gc_interval must be positive, got %s", c.Host.GCInterval)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// HostOptions converts the host section into runtime options.
func (c Config) HostOptions() []host.Option {
	return []host.Option{
		host.WithPollInterval(c.Host.PollInterval),
		host.WithReadChunk(c.Host.ReadChunk),
		host.WithGCInterval(c.Host.GCInterval),
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
