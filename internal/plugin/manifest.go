// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin discovers plugin modules, resolves their inter-plugin
// dependencies, binds each into an isolated module boundary, and drives
// every instance through its lifecycle.
package plugin

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name read from every plugin module directory.
const ManifestFile = "plugin.yaml"

// Type identifies the module runtime that binds a plugin.
type Type string

// Module types supported by the host.
const (
	TypeLua    Type = "lua"
	TypeNative Type = "native"
)

// Manifest defaults applied when plugin.yaml omits a field.
const (
	DefaultVersion  = "1.0.0"
	DefaultPriority = math.MaxInt
)

// Manifest is the declared identity of a plugin: name, version, load
// priority, and the plugins it depends on. Manifests are immutable once
// parsed.
type Manifest struct {
	Name         string        `yaml:"name" jsonschema:"required"`
	Version      string        `yaml:"version,omitempty"`
	Priority     int           `yaml:"priority,omitempty"`
	Type         Type          `yaml:"type" jsonschema:"required,enum=lua,enum=native"`
	Dependencies []Dependency  `yaml:"dependencies,omitempty"`
	Capabilities []string      `yaml:"capabilities,omitempty"`
	LuaPlugin    *LuaConfig    `yaml:"lua-plugin,omitempty"`
	NativePlugin *NativeConfig `yaml:"native-plugin,omitempty"`
}

// clone returns a deep copy of m, so the registry never shares a manifest
// with its caller.
func (m *Manifest) clone() *Manifest {
	c := *m
	c.Dependencies = slices.Clone(m.Dependencies)
	c.Capabilities = slices.Clone(m.Capabilities)
	if m.LuaPlugin != nil {
		lua := *m.LuaPlugin
		c.LuaPlugin = &lua
	}
	if m.NativePlugin != nil {
		native := *m.NativePlugin
		c.NativePlugin = &native
	}
	return &c
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" jsonschema:"required"`
}

// NativeConfig names a compiled-in module registered with the native loader.
type NativeConfig struct {
	Module string `yaml:"module" jsonschema:"required"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file, filling in the
// default version and priority for omitted fields.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, invalidManifestError("", fmt.Errorf("manifest data is empty"))
	}

	m := Manifest{
		Version:  DefaultVersion,
		Priority: DefaultPriority,
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, invalidManifestError(m.Name, fmt.Errorf("invalid YAML: %w", err))
	}

	if err := m.Validate(); err != nil {
		return nil, invalidManifestError(m.Name, err)
	}

	return &m, nil
}

// ReadManifest reads the manifest of the module at dir, checks it against
// the manifest JSON Schema, and parses it.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("manifest").With("path", path).Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return nil, oops.In("manifest").With("path", path).Wrap(invalidManifestError(filepath.Base(dir), err))
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, oops.In("manifest").With("path", path).Wrap(err)
	}
	return m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if _, err := semver.StrictNewVersion(m.EffectiveVersion()); err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", m.Version, err)
	}

	seen := make(map[string]bool, len(m.Dependencies))
	for i, dep := range m.Dependencies {
		if err := dep.validate(); err != nil {
			return fmt.Errorf("dependencies[%d]: %w", i, err)
		}
		if dep.Plugin == m.Name {
			return fmt.Errorf("dependencies[%d]: plugin cannot depend on itself", i)
		}
		if seen[dep.Plugin] {
			return fmt.Errorf("dependencies[%d]: %q is listed more than once", i, dep.Plugin)
		}
		seen[dep.Plugin] = true
	}

	for i, c := range m.Capabilities {
		if c == "" {
			return fmt.Errorf("capabilities[%d]: empty capability pattern", i)
		}
	}

	switch m.Type {
	case TypeLua:
		if m.LuaPlugin == nil {
			return fmt.Errorf("lua-plugin is required when type is lua")
		}
		if m.LuaPlugin.Entry == "" {
			return fmt.Errorf("lua-plugin.entry is required")
		}
	case TypeNative:
		if m.NativePlugin == nil {
			return fmt.Errorf("native-plugin is required when type is native")
		}
		if m.NativePlugin.Module == "" {
			return fmt.Errorf("native-plugin.module is required")
		}
	default:
		return fmt.Errorf("type must be 'lua' or 'native', got %q", m.Type)
	}

	return nil
}

// EffectiveVersion returns the declared version, or DefaultVersion when the
// manifest was built without one.
func (m *Manifest) EffectiveVersion() string {
	if m.Version == "" {
		return DefaultVersion
	}
	return m.Version
}

// SemVer parses the manifest version.
func (m *Manifest) SemVer() (*semver.Version, error) {
	v, err := semver.NewVersion(m.EffectiveVersion())
	if err != nil {
		return nil, invalidManifestError(m.Name, err)
	}
	return v, nil
}

// Dependency declares that a plugin requires another plugin to be loaded
// first, at or above a minimum version.
type Dependency struct {
	Plugin     string `yaml:"plugin"`
	MinVersion string `yaml:"min-version,omitempty"`
}

// Minimum returns the minimum acceptable version, DefaultVersion when unset.
func (d Dependency) Minimum() string {
	if d.MinVersion == "" {
		return DefaultVersion
	}
	return d.MinVersion
}

// String renders the dependency in the compact manifest syntax.
func (d Dependency) String() string {
	return d.Plugin + " >= " + d.Minimum()
}

// UnmarshalYAML accepts either the mapping form
//
//   - plugin: core
//     min-version: 1.2.0
//
// or the compact string form "core >= 1.2.0".
func (d *Dependency) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := ParseRequirement(node.Value)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}

	type plain Dependency
	var p plain
	if err := node.Decode(&p); err != nil {
		return err //nolint:wrapcheck // yaml decode errors carry line info
	}
	*d = Dependency(p)
	return nil
}

func (d Dependency) validate() error {
	if d.Plugin == "" {
		return errors.New("plugin is required")
	}
	if !namePattern.MatchString(d.Plugin) {
		return fmt.Errorf("plugin %q is not a valid plugin name", d.Plugin)
	}
	if _, err := semver.StrictNewVersion(d.Minimum()); err != nil {
		return fmt.Errorf("min-version %q is not a semantic version: %w", d.MinVersion, err)
	}
	return nil
}
