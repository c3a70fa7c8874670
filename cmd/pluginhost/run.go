// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/observability"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/pkg/errutil"
)

// shutdownTimeout bounds the observability server shutdown.
const shutdownTimeout = 10 * time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [plugins-dir]",
		Short: "Load all plugins and run until interrupted",
		Long: `Load every plugin module under the plugins directory as one batch,
serve metrics and health probes, and unload everything in reverse load
order on SIGINT or SIGTERM.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runHost(cmd, cfg, pluginsDir(cfg, args))
		},
	}
}

// runHost loads the plugins under dir and blocks until the command context
// is cancelled or a termination signal arrives.
func runHost(cmd *cobra.Command, cfg *config.Config, dir string) error {
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := newManager(cfg, logger)
	if err := manager.Services().Provide("host.version", version); err != nil {
		return oops.In("host").Wrapf(err, "provide host services")
	}

	var ready atomic.Bool
	var serveErrs <-chan error
	if cfg.MetricsAddr != "" {
		server := observability.NewServer(cfg.MetricsAddr, ready.Load,
			observability.WithPluginLister(manager.List),
			observability.WithLogger(logger),
		)
		serveErrs, err = server.Start()
		if err != nil {
			return oops.In("host").With("addr", cfg.MetricsAddr).Wrapf(err, "start observability server")
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				errutil.LogWarn(logger, "observability server shutdown failed", err)
			}
		}()
	}

	logger.Info("starting plugin host", "plugins_dir", dir, "version", version)

	report, err := manager.LoadDir(ctx, dir)
	if err != nil {
		errutil.LogError(logger, "plugin batch rejected", err)
		return err
	}
	logLoadReport(logger, report)
	ready.Store(true)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErrs:
		if err != nil {
			errutil.LogError(logger, "observability server failed", err)
		}
	}
	ready.Store(false)

	if err := manager.Close(context.WithoutCancel(ctx)); err != nil {
		errutil.LogError(logger, "unload incomplete", err)
		return err
	}
	logger.Info("plugin host stopped")
	return nil
}

// logLoadReport logs one line per loaded plugin and one per failure.
func logLoadReport(logger *slog.Logger, report *plugin.LoadReport) {
	for _, name := range report.Loaded {
		logger.Info("plugin running", "plugin", name, "batch_id", report.BatchID)
	}
	for _, name := range report.FailedNames() {
		errutil.LogWarn(logger.With("plugin", name, "batch_id", report.BatchID), "plugin failed to load", report.Failed[name])
	}
	logger.Info("plugin batch loaded",
		"batch_id", report.BatchID,
		"loaded", len(report.Loaded),
		"failed", len(report.Failed),
	)
}
