// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/pkg/errutil"
)

func TestParseManifest_LuaPlugin(t *testing.T) {
	yaml := `
name: echo-bot
version: 1.2.3
priority: 5
type: lua
capabilities:
  - service.register.echo.*
lua-plugin:
  entry: main.lua
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "echo-bot", m.Name)
	assert.Equal(t, "1.2.3", m.Version)
	assert.Equal(t, 5, m.Priority)
	assert.Equal(t, plugin.TypeLua, m.Type)
	assert.Equal(t, []string{"service.register.echo.*"}, m.Capabilities)
	require.NotNil(t, m.LuaPlugin)
	assert.Equal(t, "main.lua", m.LuaPlugin.Entry)
	assert.Nil(t, m.NativePlugin)
}

func TestParseManifest_NativePlugin(t *testing.T) {
	yaml := `
name: clock
version: 2.0.0
type: native
native-plugin:
  module: clock
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, plugin.TypeNative, m.Type)
	require.NotNil(t, m.NativePlugin)
	assert.Equal(t, "clock", m.NativePlugin.Module)
}

func TestParseManifest_Defaults(t *testing.T) {
	yaml := `
name: minimal
type: lua
lua-plugin:
  entry: main.lua
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, plugin.DefaultVersion, m.Version)
	assert.Equal(t, plugin.DefaultPriority, m.Priority)
	assert.Empty(t, m.Dependencies)
}

func TestParseManifest_Dependencies(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []plugin.Dependency
	}{
		{
			name: "mapping form",
			yaml: `
- plugin: core
- plugin: storage
  min-version: 1.2.0
`,
			want: []plugin.Dependency{
				{Plugin: "core"},
				{Plugin: "storage", MinVersion: "1.2.0"},
			},
		},
		{
			name: "compact form",
			yaml: `
- core
- "storage >= 1.2.0"
`,
			want: []plugin.Dependency{
				{Plugin: "core"},
				{Plugin: "storage", MinVersion: "1.2.0"},
			},
		},
		{
			name: "mixed forms",
			yaml: `
- "core>=2.0.0-beta.1"
- plugin: storage
`,
			want: []plugin.Dependency{
				{Plugin: "core", MinVersion: "2.0.0-beta.1"},
				{Plugin: "storage"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := "name: consumer\ntype: lua\nlua-plugin:\n  entry: main.lua\ndependencies:" +
				indent(tt.yaml)
			m, err := plugin.ParseManifest([]byte(yaml))
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Dependencies)
		})
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "  " + l
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestDependency_Minimum(t *testing.T) {
	assert.Equal(t, plugin.DefaultVersion, plugin.Dependency{Plugin: "core"}.Minimum())
	assert.Equal(t, "2.0.0", plugin.Dependency{Plugin: "core", MinVersion: "2.0.0"}.Minimum())
	assert.Equal(t, "core >= 1.0.0", plugin.Dependency{Plugin: "core"}.String())
}

func TestParseManifest_InvalidName(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "uppercase", value: "Invalid"},
		{name: "starts with number", value: "1plugin"},
		{name: "underscore", value: "bad_name"},
		{name: "starts with hyphen", value: "-plugin"},
		{name: "ends with hyphen", value: "plugin-"},
		{name: "too long", value: "a" + strings.Repeat("b", 64)},
		{name: "empty", value: `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := "name: " + tt.value + "\ntype: lua\nlua-plugin:\n  entry: main.lua\n"
			_, err := plugin.ParseManifest([]byte(yaml))
			errutil.AssertErrorCode(t, err, plugin.CodeInvalidManifest)
		})
	}
}

func TestParseManifest_NameBoundaries(t *testing.T) {
	for _, name := range []string{"a", "a1", "my-plugin", "a" + strings.Repeat("b", 63)} {
		t.Run(name, func(t *testing.T) {
			yaml := "name: " + name + "\ntype: lua\nlua-plugin:\n  entry: main.lua\n"
			m, err := plugin.ParseManifest([]byte(yaml))
			require.NoError(t, err)
			assert.Equal(t, name, m.Name)
		})
	}
}

func TestParseManifest_ValidVersions(t *testing.T) {
	versions := []string{
		"0.0.1",
		"1.0.0",
		"10.20.30",
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-0.3.7",
		"1.0.0+20130313144700",
		"1.0.0-beta+exp.sha.5114f85",
	}

	for _, v := range versions {
		t.Run(v, func(t *testing.T) {
			yaml := "name: test\nversion: " + v + "\ntype: lua\nlua-plugin:\n  entry: main.lua\n"
			m, err := plugin.ParseManifest([]byte(yaml))
			require.NoError(t, err)
			assert.Equal(t, v, m.Version)
		})
	}
}

func TestParseManifest_InvalidVersions(t *testing.T) {
	versions := []string{
		"1",
		"1.0",
		"v1.0.0",
		"1.0.0.0",
		"01.0.0",
		"a.b.c",
		"latest",
	}

	for _, v := range versions {
		t.Run(v, func(t *testing.T) {
			yaml := "name: test\nversion: " + v + "\ntype: lua\nlua-plugin:\n  entry: main.lua\n"
			_, err := plugin.ParseManifest([]byte(yaml))
			errutil.AssertErrorCode(t, err, plugin.CodeInvalidManifest)
		})
	}
}

func TestParseManifest_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: ""},
		{name: "invalid yaml", yaml: "name: test\ntype: [lua"},
		{
			name: "unknown type",
			yaml: "name: test\ntype: wasm\nlua-plugin:\n  entry: main.lua\n",
		},
		{
			name: "lua without lua-plugin",
			yaml: "name: test\ntype: lua\n",
		},
		{
			name: "lua without entry",
			yaml: "name: test\ntype: lua\nlua-plugin: {}\n",
		},
		{
			name: "native without native-plugin",
			yaml: "name: test\ntype: native\n",
		},
		{
			name: "native without module",
			yaml: "name: test\ntype: native\nnative-plugin: {}\n",
		},
		{
			name: "self dependency",
			yaml: "name: test\ntype: lua\nlua-plugin:\n  entry: main.lua\ndependencies:\n  - test\n",
		},
		{
			name: "duplicate dependency",
			yaml: "name: test\ntype: lua\nlua-plugin:\n  entry: main.lua\ndependencies:\n  - core\n  - plugin: core\n    min-version: 2.0.0\n",
		},
		{
			name: "dependency without plugin",
			yaml: "name: test\ntype: lua\nlua-plugin:\n  entry: main.lua\ndependencies:\n  - min-version: 1.0.0\n",
		},
		{
			name: "dependency with invalid min-version",
			yaml: "name: test\ntype: lua\nlua-plugin:\n  entry: main.lua\ndependencies:\n  - plugin: core\n    min-version: soon\n",
		},
		{
			name: "dependency with unsupported operator",
			yaml: "name: test\ntype: lua\nlua-plugin:\n  entry: main.lua\ndependencies:\n  - \"core < 2.0.0\"\n",
		},
		{
			name: "empty capability",
			yaml: "name: test\ntype: lua\nlua-plugin:\n  entry: main.lua\ncapabilities:\n  - \"\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte(tt.yaml))
			errutil.AssertErrorCode(t, err, plugin.CodeInvalidManifest)
		})
	}
}

func TestManifest_EffectiveVersion(t *testing.T) {
	m := &plugin.Manifest{Name: "test"}
	assert.Equal(t, plugin.DefaultVersion, m.EffectiveVersion())

	v, err := m.SemVer()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	m.Version = "not-a-version"
	_, err = m.SemVer()
	errutil.AssertErrorCode(t, err, plugin.CodeInvalidManifest)
}

func TestReadManifest(t *testing.T) {
	t.Run("valid manifest", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile),
			[]byte("name: reader\ntype: lua\nlua-plugin:\n  entry: main.lua\n"), 0o600))

		m, err := plugin.ReadManifest(dir)
		require.NoError(t, err)
		assert.Equal(t, "reader", m.Name)
	})

	t.Run("schema violation", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile),
			[]byte("name: reader\ntype: lua\nextra: true\nlua-plugin:\n  entry: main.lua\n"), 0o600))

		_, err := plugin.ReadManifest(dir)
		errutil.AssertErrorCode(t, err, plugin.CodeInvalidManifest)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := plugin.ReadManifest(t.TempDir())
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
