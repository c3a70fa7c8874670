// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// Discover returns a candidate for every immediate subdirectory of dir
// holding a valid manifest, ordered by directory name. Subdirectories
// without a manifest or with an invalid one are logged and skipped. A
// missing dir yields no candidates.
func Discover(dir string, logger *slog.Logger) ([]Candidate, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("discover").With("dir", dir).Wrapf(err, "read plugins directory")
	}

	var candidates []Candidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		moduleDir := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(moduleDir, ManifestFile)); err != nil {
			logger.Debug("skipping directory without manifest", "dir", entry.Name())
			continue
		}

		m, err := ReadManifest(moduleDir)
		if err != nil {
			logger.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		candidates = append(candidates, Candidate{Manifest: m, Dir: moduleDir})
	}
	return candidates, nil
}
