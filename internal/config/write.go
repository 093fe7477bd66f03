package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrExists is returned by WriteFile when the target exists and overwrite
// is false.
var ErrExists = errors.New("config file already exists")

// fileConfig is the on-disk layout. Durations are written as Go duration
// strings, which Load parses back.
type fileConfig struct {
	Host struct {
		PollInterval string `toml:"poll_interval"`
		ReadChunk    int    `toml:"read_chunk"`
		GCInterval   string `toml:"gc_interval"`
	} `toml:"host"`
	Store struct {
		Path string `toml:"path"`
	} `toml:"store"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg Config) error {
	var f fileConfig
	f.Host.PollInterval = cfg.Host.PollInterval.String()
	f.Host.ReadChunk = cfg.Host.ReadChunk
	f.Host.GCInterval = cfg.Host.GCInterval.String()
	f.Store.Path = cfg.Store.Path
	f.Log.Level = cfg.Log.Level

	if err := toml.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// WriteFile writes cfg to path, creating parent directories.
func WriteFile(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if err := Encode(f, cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
