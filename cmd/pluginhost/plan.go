// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/plugin"
)

// NewPlanCmd creates the plan subcommand.
func NewPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [plugins-dir]",
		Short: "Print the load order without loading anything",
		Long: `Discover the plugin modules under the plugins directory and resolve
their dependencies. Prints the load order, or the resolution error that
would reject the batch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}

			candidates, err := plugin.Discover(pluginsDir(cfg, args), logger)
			if err != nil {
				return err
			}
			manifests := make([]*plugin.Manifest, len(candidates))
			for i, c := range candidates {
				manifests[i] = c.Manifest
			}

			plan, err := plugin.Resolve(manifests)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", plugin.ErrorCode(err), err)
				return err
			}
			return writePlan(cmd.OutOrStdout(), plan)
		},
	}
}

// writePlan prints one row per plugin in load order.
func writePlan(out io.Writer, plan *plugin.Plan) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tNAME\tVERSION\tPRIORITY\tDEPENDS ON")
	for i, m := range plan.Order {
		deps := make([]string, len(m.Dependencies))
		for j, d := range m.Dependencies {
			deps[j] = d.String()
		}
		depList := strings.Join(deps, ", ")
		if depList == "" {
			depList = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, m.Name, m.EffectiveVersion(), formatPriority(m.Priority), depList)
	}
	return w.Flush()
}

// formatPriority hides the default priority sentinel.
func formatPriority(p int) string {
	if p == plugin.DefaultPriority {
		return "default"
	}
	return fmt.Sprint(p)
}
