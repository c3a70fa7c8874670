// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [plugins-dir]",
		Short: "Check every plugin manifest against the schema",
		Long: `Read the plugin.yaml of every module under the plugins directory and
report schema or manifest errors. Exits non-zero when any manifest is
invalid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runValidate(cmd, pluginsDir(cfg, args))
		},
	}
}

func runValidate(cmd *cobra.Command, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return oops.In("validate").With("dir", dir).Wrap(err)
	}

	out := cmd.OutOrStdout()
	checked, invalid := 0, 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		moduleDir := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(moduleDir, plugin.ManifestFile)); err != nil {
			continue
		}
		checked++

		m, err := plugin.ReadManifest(moduleDir)
		if err != nil {
			invalid++
			fmt.Fprintf(out, "FAIL  %s: %s\n", e.Name(), plugin.FormatSchemaError(err))
			continue
		}
		fmt.Fprintf(out, "ok    %s %s\n", m.Name, m.EffectiveVersion())
	}

	fmt.Fprintf(out, "%d manifests checked, %d invalid\n", checked, invalid)
	if invalid > 0 {
		return oops.In("validate").With("invalid", invalid).Errorf("%d invalid manifests", invalid)
	}
	return nil
}
