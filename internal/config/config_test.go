package config

import (
	"math"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultPort, cfg.Listen.Port)
	assert.Zero(t, cfg.Listen.Backlog)
	assert.Zero(t, cfg.WaitTimeout())
	assert.Equal(t, syscall.SIGHUP, cfg.ReloadSignal())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[listen]
port = 9000
backlog = 64

[loop]
wait_timeout_ms = 250

[signal]
reload = "SIGUSR1"

[log]
level = "debug"
file = "/tmp/solo.log"

[metrics]
address = "127.0.0.1:9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Listen.Port)
	assert.Equal(t, 64, cfg.Listen.Backlog)
	assert.Equal(t, 250*time.Millisecond, cfg.WaitTimeout())
	assert.Equal(t, syscall.SIGUSR1, cfg.ReloadSignal())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/solo.log", cfg.Log.File)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB, "unset keys keep their default")
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "[listen\nport = "))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Listen.Port = 0 }, "listen.port"},
		{"port too large", func(c *Config) { c.Listen.Port = 65536 }, "listen.port"},
		{"negative backlog", func(c *Config) { c.Listen.Backlog = -1 }, "listen.backlog"},
		{"negative timeout", func(c *Config) { c.Loop.WaitTimeoutMS = -5 }, "wait_timeout_ms"},
		{"timeout above one day", func(c *Config) { c.Loop.WaitTimeoutMS = MaxWaitTimeoutMS + 1 }, "must not exceed"},
		{"timeout beyond int32", func(c *Config) { c.Loop.WaitTimeoutMS = math.MaxInt32 + 1 }, "must not exceed"},
		{"unknown signal", func(c *Config) { c.Signal.Reload = "SIGKILL" }, "signal.reload"},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"file without size", func(c *Config) { c.Log.File = "x.log"; c.Log.MaxSizeMB = 0 }, "max_size_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWaitTimeout_MaxIsAccepted(t *testing.T) {
	cfg := Default()
	cfg.Loop.WaitTimeoutMS = MaxWaitTimeoutMS
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 24*time.Hour, cfg.WaitTimeout())
}

func TestReloadSignal_CaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.Signal.Reload = "sigusr2"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, syscall.SIGUSR2, cfg.ReloadSignal())
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"12345", 12345, false},
		{"1", 1, false},
		{"65535", 65535, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"65536", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"80x", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePort(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
