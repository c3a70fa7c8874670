// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/plugin"
)

// listEntry is the JSON form of one loaded plugin.
type listEntry struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Priority  int    `json:"priority"`
	State     string `json:"state"`
	LoadOrder int    `json:"load_order"`
	Error     string `json:"error,omitempty"`
}

// NewListCmd creates the list subcommand.
func NewListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list [plugins-dir]",
		Short: "Load the plugins, print the registry, then unload them",
		Long: `Load every plugin module under the plugins directory, print the
resulting registry with each plugin's state, and unload everything again.
Plugins that failed to load are listed with their error.`,
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

			manager := newManager(cfg, logger)
			report, err := manager.LoadDir(cmd.Context(), pluginsDir(cfg, args))
			if err != nil {
				return err
			}

			entries := listEntries(manager.List(), report)
			closeErr := manager.Close(cmd.Context())

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(entries); err != nil {
					return err
				}
			} else if err := writeList(cmd.OutOrStdout(), entries); err != nil {
				return err
			}
			return closeErr
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// listEntries merges the registry snapshot with the batch failures.
func listEntries(infos []plugin.Info, report *plugin.LoadReport) []listEntry {
	entries := make([]listEntry, 0, len(infos)+len(report.Failed))
	for _, info := range infos {
		entries = append(entries, listEntry{
			Name:      info.Name,
			Version:   info.Version,
			Priority:  info.Priority,
			State:     info.State.String(),
			LoadOrder: info.LoadOrder,
		})
	}

	versions := make(map[string]*plugin.Manifest, len(report.Plan.Order))
	for _, m := range report.Plan.Order {
		versions[m.Name] = m
	}
	for _, name := range report.FailedNames() {
		e := listEntry{Name: name, State: "failed", Error: report.Failed[name].Error()}
		if m, ok := versions[name]; ok {
			e.Version = m.EffectiveVersion()
			e.Priority = m.Priority
		}
		entries = append(entries, e)
	}
	return entries
}

func writeList(out io.Writer, entries []listEntry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tPRIORITY\tSTATE\tORDER")
	for _, e := range entries {
		order := "-"
		if e.LoadOrder > 0 {
			order = fmt.Sprint(e.LoadOrder)
		}
		state := e.State
		if e.Error != "" {
			state += " (" + e.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Version, formatPriority(e.Priority), state, order)
	}
	return w.Flush()
}
