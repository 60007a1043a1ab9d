// Package config manages the driver and loader configuration using
// koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/neuflow/nfeth/internal/ethlink"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete loader configuration.
type Config struct {
	Link    LinkConfig    `koanf:"link"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LinkConfig identifies the interface and MAC pair of the accelerator
// link.
type LinkConfig struct {
	// Interface is the network interface the accelerator is attached to
	// (e.g. "eth0" on Linux, "en0" on Darwin).
	Interface string `koanf:"interface"`

	// RemoteMAC is the accelerator's MAC address.
	RemoteMAC string `koanf:"remote_mac"`

	// LocalMAC is the host-side MAC frames are accepted on. Empty selects
	// the Ethernet broadcast address.
	LocalMAC string `koanf:"local_mac"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
// An empty Addr disables the endpoint.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint
	// (e.g. ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g. "/metrics").
	Path string `koanf:"path"`
}

// -------------------------------------------------------------------------
// Validation Errors
// -------------------------------------------------------------------------

var (
	// ErrNoInterface indicates an empty interface name.
	ErrNoInterface = errors.New("interface name is empty")

	// ErrBadLogLevel indicates an unrecognized log level string.
	ErrBadLogLevel = errors.New("invalid log level")

	// ErrBadLogFormat indicates an unrecognized log format string.
	ErrBadLogFormat = errors.New("invalid log format")
)

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultInterface returns the platform's conventional first Ethernet
// device name.
func DefaultInterface() string {
	if runtime.GOOS == "darwin" {
		return "en0"
	}
	return "eth0"
}

// DefaultConfig returns a Config populated with the factory defaults: the
// platform's first Ethernet device, the accelerator's factory MAC, and
// broadcast as the local address.
func DefaultConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Interface: DefaultInterface(),
			RemoteMAC: ethlink.DefaultRemote.String(),
			LocalMAC:  "",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "",
			Path: "/metrics",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for configuration
// overrides. Variables are named NFETH_<section>_<key>, e.g.
// NFETH_LOG_LEVEL.
const envPrefix = "NFETH_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NFETH_ prefix), and merges on top of
// DefaultConfig(). An empty path skips the file layer. Missing fields
// inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// NFETH_LOG_LEVEL -> log.level (strip prefix, lowercase, first _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms NFETH_LOG_LEVEL -> log.level. Only the first
// underscore separates section from key, so NFETH_LINK_REMOTE_MAC maps to
// link.remote_mac.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"link.interface":  defaults.Link.Interface,
		"link.remote_mac": defaults.Link.RemoteMAC,
		"link.local_mac":  defaults.Link.LocalMAC,
		"log.level":       defaults.Log.Level,
		"log.format":      defaults.Log.Format,
		"metrics.addr":    defaults.Metrics.Addr,
		"metrics.path":    defaults.Metrics.Path,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validate checks cfg for values the driver cannot start with.
func Validate(cfg *Config) error {
	if cfg.Link.Interface == "" {
		return ErrNoInterface
	}

	if _, err := ethlink.ParseHardwareAddr(cfg.Link.RemoteMAC); err != nil {
		return fmt.Errorf("remote MAC: %w", err)
	}
	if cfg.Link.LocalMAC != "" {
		if _, err := ethlink.ParseHardwareAddr(cfg.Link.LocalMAC); err != nil {
			return fmt.Errorf("local MAC: %w", err)
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%q: %w", cfg.Log.Level, ErrBadLogLevel)
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%q: %w", cfg.Log.Format, ErrBadLogFormat)
	}

	return nil
}

// ParseLogLevel converts a configured level string to a slog.Level.
// Unrecognized strings fall back to Info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
