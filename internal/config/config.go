// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads pluginhost configuration from an optional YAML file
// layered under command-line flags.
package config

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/pluginhost/internal/logging"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/xdg"
)

// Configuration keys. Flags share these names.
const (
	KeyPluginsDir         = "plugins-dir"
	KeyUnloadTimeout      = "unload-timeout"
	KeyPollInterval       = "poll-interval"
	KeyLogFormat          = "log-format"
	KeyLogLevel           = "log-level"
	KeyMetricsAddr        = "metrics-addr"
	KeyStrictCapabilities = "strict-capabilities"
)

// Default values.
const (
	DefaultLogFormat   = logging.FormatJSON
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9100"
)

// Config holds host settings.
type Config struct {
	PluginsDir         string        `koanf:"plugins-dir"`
	UnloadTimeout      time.Duration `koanf:"unload-timeout"`
	PollInterval       time.Duration `koanf:"poll-interval"`
	LogFormat          string        `koanf:"log-format"`
	LogLevel           string        `koanf:"log-level"`
	MetricsAddr        string        `koanf:"metrics-addr"`
	StrictCapabilities bool          `koanf:"strict-capabilities"`
}

// RegisterFlags defines the configuration flags with their defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	// Empty when the home directory is unknown; Validate reports it.
	pluginsDir, _ := xdg.PluginsDir()
	flags.String(KeyPluginsDir, pluginsDir, "plugin modules directory")
	flags.Duration(KeyUnloadTimeout, plugin.DefaultUnloadTimeout, "how long an unload waits for a module to be reclaimed")
	flags.Duration(KeyPollInterval, plugin.DefaultPollInterval, "how often an unload re-checks reachability")
	flags.String(KeyLogFormat, DefaultLogFormat, "log format (json or text)")
	flags.String(KeyLogLevel, DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String(KeyMetricsAddr, DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.Bool(KeyStrictCapabilities, false, "deny services to plugins that declare no capabilities")
}

// Load reads the config file at path, then applies flags on top.
// Flags the user did not set only fill keys the file left out. An empty
// path uses the XDG config file and tolerates its absence; an explicit
// path must exist.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.In("config").With("path", path).Hint("check the config file").Wrap(err)
			}
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").With("path", path).Wrapf(err, "decode configuration")
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.In("config")
	if c.PluginsDir == "" {
		return errb.Errorf("%s is required", KeyPluginsDir)
	}
	if c.UnloadTimeout <= 0 {
		return errb.With("value", c.UnloadTimeout).Errorf("%s must be positive", KeyUnloadTimeout)
	}
	if c.PollInterval <= 0 {
		return errb.With("value", c.PollInterval).Errorf("%s must be positive", KeyPollInterval)
	}
	if c.PollInterval > c.UnloadTimeout {
		return errb.With("poll_interval", c.PollInterval, "unload_timeout", c.UnloadTimeout).
			Errorf("%s must not exceed %s", KeyPollInterval, KeyUnloadTimeout)
	}
	if c.LogFormat != logging.FormatJSON && c.LogFormat != logging.FormatText {
		return errb.Errorf("%s must be 'json' or 'text', got %q", KeyLogFormat, c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return errb.Wrapf(err, "invalid %s", KeyLogLevel)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return errb.With("value", c.MetricsAddr).Wrapf(err, "invalid %s", KeyMetricsAddr)
		}
	}
	return nil
}

// LoggingOptions returns the logging setup for this configuration.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Format: c.LogFormat, Level: c.LogLevel, Writer: os.Stderr}
}

// ManagerOptions returns the plugin manager settings for this configuration.
func (c *Config) ManagerOptions() []plugin.ManagerOption {
	return []plugin.ManagerOption{
		plugin.WithUnloadTimeout(c.UnloadTimeout),
		plugin.WithPollInterval(c.PollInterval),
		plugin.WithStrictCapabilities(c.StrictCapabilities),
	}
}
