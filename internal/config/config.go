// Package config loads the server configuration from a TOML file.
//
// A missing file is not an error: Default values are used. Command-line
// arguments are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/touka-aoi/solo-server/internal/logger"
)

const DefaultPort = 12345

// MaxWaitTimeoutMS caps loop.wait_timeout_ms at one day.
const MaxWaitTimeoutMS = 24 * 60 * 60 * 1000

type Config struct {
	Listen  ListenConfig  `toml:"listen"`
	Loop    LoopConfig    `toml:"loop"`
	Signal  SignalConfig  `toml:"signal"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

type ListenConfig struct {
	Port int `toml:"port"`
	// Backlog of 0 selects SOMAXCONN.
	Backlog int `toml:"backlog"`
}

type LoopConfig struct {
	// WaitTimeoutMS bounds each readiness wait; 0 waits indefinitely.
	WaitTimeoutMS int `toml:"wait_timeout_ms"`
}

type SignalConfig struct {
	Reload string `toml:"reload"`
}

type LogConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
}

type MetricsConfig struct {
	// Address for the Prometheus endpoint, e.g. "127.0.0.1:9100". Empty disables it.
	Address string `toml:"address"`
}

var reloadSignals = map[string]syscall.Signal{
	"SIGHUP":  syscall.SIGHUP,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: DefaultPort},
		Signal: SignalConfig{Reload: "SIGHUP"},
		Log:    LogConfig{Level: "info", MaxSizeMB: 10},
	}
}

// Load reads path over the defaults. An empty path or a missing file
// yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range [1,65535]", c.Listen.Port))
	}
	if c.Listen.Backlog < 0 {
		errs = append(errs, errors.New("listen.backlog must not be negative"))
	}
	if c.Loop.WaitTimeoutMS < 0 {
		errs = append(errs, errors.New("loop.wait_timeout_ms must not be negative"))
	}
	if c.Loop.WaitTimeoutMS > MaxWaitTimeoutMS {
		errs = append(errs, fmt.Errorf("loop.wait_timeout_ms must not exceed %d", MaxWaitTimeoutMS))
	}
	if _, ok := reloadSignals[strings.ToUpper(c.Signal.Reload)]; !ok {
		errs = append(errs, fmt.Errorf("signal.reload %q is not one of SIGHUP, SIGUSR1, SIGUSR2", c.Signal.Reload))
	}
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level %q is unknown", c.Log.Level))
	}
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		errs = append(errs, errors.New("log.max_size_mb must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.Loop.WaitTimeoutMS) * time.Millisecond
}

// ReloadSignal returns the signal reported as a reload request. Validate
// first; an unknown name falls back to SIGHUP.
func (c *Config) ReloadSignal() syscall.Signal {
	if sig, ok := reloadSignals[strings.ToUpper(c.Signal.Reload)]; ok {
		return sig
	}
	return syscall.SIGHUP
}

// ParsePort validates a port given on the command line.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q: out of range [1,65535]", s)
	}
	return port, nil
}
