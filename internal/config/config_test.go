// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/plugin"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", "/data")

	cfg, err := config.Load("", newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/data", "pluginhost", "plugins"), cfg.PluginsDir)
	assert.Equal(t, plugin.DefaultUnloadTimeout, cfg.UnloadTimeout)
	assert.Equal(t, plugin.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, config.DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultMetricsAddr, cfg.MetricsAddr)
	assert.False(t, cfg.StrictCapabilities)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
plugins-dir: /srv/plugins
unload-timeout: 30s
poll-interval: 250ms
log-format: text
log-level: debug
metrics-addr: ""
strict-capabilities: true
`)

	cfg, err := config.Load(path, newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "/srv/plugins", cfg.PluginsDir)
	assert.Equal(t, 30*time.Second, cfg.UnloadTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr)
	assert.True(t, cfg.StrictCapabilities)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "plugins-dir: /srv/plugins\nlog-format: text\n")

	cfg, err := config.Load(path, newFlags(t, "--plugins-dir=/opt/plugins", "--unload-timeout=10s"))
	require.NoError(t, err)

	assert.Equal(t, "/opt/plugins", cfg.PluginsDir)
	assert.Equal(t, 10*time.Second, cfg.UnloadTimeout)
	assert.Equal(t, "text", cfg.LogFormat, "unset flags must not mask file values")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), newFlags(t))
	assert.Error(t, err)
}

func TestLoad_MissingDefaultFileIsIgnored(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := config.Load("", newFlags(t))
	assert.NoError(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "plugins-dir: [unterminated\n")
	_, err := config.Load(path, newFlags(t))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			PluginsDir:    "/srv/plugins",
			UnloadTimeout: 5 * time.Second,
			PollInterval:  50 * time.Millisecond,
			LogFormat:     "json",
			LogLevel:      "info",
			MetricsAddr:   "127.0.0.1:9100",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "metrics disabled", mutate: func(c *config.Config) { c.MetricsAddr = "" }},
		{name: "missing plugins dir", mutate: func(c *config.Config) { c.PluginsDir = "" }, wantErr: true},
		{name: "zero unload timeout", mutate: func(c *config.Config) { c.UnloadTimeout = 0 }, wantErr: true},
		{name: "negative poll interval", mutate: func(c *config.Config) { c.PollInterval = -time.Second }, wantErr: true},
		{name: "poll interval above timeout", mutate: func(c *config.Config) { c.PollInterval = time.Minute }, wantErr: true},
		{name: "unknown log format", mutate: func(c *config.Config) { c.LogFormat = "xml" }, wantErr: true},
		{name: "unknown log level", mutate: func(c *config.Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "metrics addr without port", mutate: func(c *config.Config) { c.MetricsAddr = "localhost" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := config.Config{LogFormat: "text", LogLevel: "warn", UnloadTimeout: time.Second, PollInterval: time.Millisecond}

	opts := cfg.LoggingOptions()
	assert.Equal(t, "text", opts.Format)
	assert.Equal(t, "warn", opts.Level)
	assert.NotNil(t, opts.Writer)

	assert.Len(t, cfg.ManagerOptions(), 3)
}
