package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and every PIPEBRIDGE_ variable away from the real
// environment.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"CONFIG", "HOST_POLL_INTERVAL", "HOST_READ_CHUNK", "HOST_GC_INTERVAL", "STORE_PATH", "LOG_LEVEL"} {
		t.Setenv(EnvPrefix+"_"+k, "")
		os.Unsetenv(EnvPrefix + "_" + k)
	}
	return home
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 100*time.Millisecond, cfg.Host.PollInterval)
	assert.Equal(t, 4096, cfg.Host.ReadChunk)
}

func TestLoad_File(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".config", "pipebridge", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`
[host]
poll_interval = "250ms"
read_chunk = 16

[store]
path = "/tmp/journal.db"
`), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Host.PollInterval)
	assert.Equal(t, 16, cfg.Host.ReadChunk)
	assert.Equal(t, time.Second, cfg.Host.GCInterval, "unset keys keep defaults")
	assert.Equal(t, "/tmp/journal.db", cfg.Store.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0o644))

	t.Setenv("PIPEBRIDGE_CONFIG", path)
	t.Setenv("PIPEBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("PIPEBRIDGE_HOST_READ_CHUNK", "8")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Host.ReadChunk)
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	home := isolate(t)
	cfg, err := Load(filepath.Join(home, "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Invalid(t *testing.T) {
	home := isolate(t)

	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[host\n"},
		{"negative chunk", "[host]\nread_chunk = -1\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"bad duration", "[host]\npoll_interval = \"soon\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(home, tt.name+".toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "nested", "config.toml")

	want := Default()
	want.Host.PollInterval = 50 * time.Millisecond
	want.Store.Path = "journal.db"
	want.Log.Level = "debug"

	require.NoError(t, WriteFile(path, want, false))
	assert.ErrorIs(t, WriteFile(path, want, false), ErrExists)
	require.NoError(t, WriteFile(path, want, true))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Default()))
	assert.Contains(t, buf.String(), `poll_interval = "100ms"`)
	assert.Contains(t, buf.String(), `read_chunk = 4096`)
	assert.Contains(t, buf.String(), `level = "info"`)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestHostOptions(t *testing.T) {
	assert.Len(t, Default().HostOptions(), 3)
}
