// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/logging"
	"github.com/holomush/pluginhost/internal/plugin"
	pluginlua "github.com/holomush/pluginhost/internal/plugin/lua"
	"github.com/holomush/pluginhost/internal/plugin/native"
)

const serviceName = "pluginhost"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the pluginhost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pluginhost",
		Short: "pluginhost - load, order and unload plugin modules",
		Long: `pluginhost discovers plugin modules, resolves their dependencies
into a deterministic load order, and drives each plugin through its
lifecycle inside an isolated module boundary.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/pluginhost/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewPlanCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewListCmd())

	return cmd
}

// loadConfig reads and validates configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the command logger. Output goes to cmd's error stream
// so tests can capture it.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	opts := cfg.LoggingOptions()
	opts.Writer = cmd.ErrOrStderr()
	return logging.Setup(serviceName, version, opts)
}

// newManager creates a manager with the Lua and compiled-in native loaders.
func newManager(cfg *config.Config, logger *slog.Logger) *plugin.Manager {
	opts := append(cfg.ManagerOptions(),
		plugin.WithLogger(logger),
		plugin.WithLoader(pluginlua.NewLoader(pluginlua.WithLogger(logger))),
		plugin.WithLoader(native.NewLoader(nil)),
	)
	return plugin.NewManager(opts...)
}

// pluginsDir returns the directory argument if given, else the configured one.
func pluginsDir(cfg *config.Config, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.PluginsDir
}
