// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin"
)

func TestValidateSchema_ValidManifests(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "lua manifest",
			yaml: `
name: echo-bot
version: 1.0.0
type: lua
capabilities:
  - service.register.echo.*
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "native manifest",
			yaml: `
name: clock
version: 2.1.0
priority: 10
type: native
native-plugin:
  module: clock
`,
		},
		{
			name: "version omitted",
			yaml: `
name: test
type: lua
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "string dependencies",
			yaml: `
name: consumer
type: lua
dependencies:
  - core
  - "storage >= 1.2.0"
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "mapping dependencies",
			yaml: `
name: consumer
type: lua
dependencies:
  - plugin: core
  - plugin: storage
    min-version: 1.2.0
lua-plugin:
  entry: main.lua
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, plugin.ValidateSchema([]byte(tt.yaml)))
		})
	}
}

func TestValidateSchema_NameLength(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		// 64 characters, the limit
		{name: "exactly max length", value: "a234567890123456789012345678901234567890123456789012345678901234"},
		// 65 characters, one over
		{name: "one over max length", value: "a2345678901234567890123456789012345678901234567890123456789012345", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := fmt.Sprintf("name: %s\ntype: lua\nlua-plugin:\n  entry: main.lua\n", tt.value)
			err := plugin.ValidateSchema([]byte(yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateSchema_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing name",
			yaml: `
type: lua
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "missing type",
			yaml: `
name: test
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "unknown type",
			yaml: `
name: test
type: wasm
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "uppercase name",
			yaml: `
name: Invalid-Name
type: lua
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "name starts with number",
			yaml: `
name: 1plugin
type: lua
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "underscore in name",
			yaml: `
name: invalid_name
type: lua
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "trailing hyphen",
			yaml: `
name: test-plugin-
type: lua
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "negative priority",
			yaml: `
name: test
priority: -1
type: lua
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "dependency mapping without plugin",
			yaml: `
name: test
type: lua
dependencies:
  - min-version: 1.0.0
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "dependency mapping with unknown key",
			yaml: `
name: test
type: lua
dependencies:
  - plugin: core
    max-version: 2.0.0
lua-plugin:
  entry: main.lua
`,
		},
		{
			name: "lua-plugin without entry",
			yaml: `
name: test
type: lua
lua-plugin: {}
`,
		},
		{
			name: "invalid yaml",
			yaml: "name: test\ntype: [invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, plugin.ValidateSchema([]byte(tt.yaml)))
		})
	}
}

func TestValidateSchema_EmptyInput(t *testing.T) {
	assert.Error(t, plugin.ValidateSchema(nil))
	assert.Error(t, plugin.ValidateSchema([]byte{}))
}

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, plugin.GetSchemaID(), schema["$id"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"name", "version", "priority", "type", "dependencies", "capabilities", "lua-plugin", "native-plugin"} {
		assert.Contains(t, props, field)
	}
	assert.ElementsMatch(t, []any{"name", "type"}, schema["required"])
}

func TestFormatSchemaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil error", err: nil, want: ""},
		{name: "simple error", err: fmt.Errorf("test error"), want: "test error"},
		{
			name: "schema validation error",
			err:  fmt.Errorf("schema validation failed: missing required field"),
			want: "missing required field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plugin.FormatSchemaError(tt.err))
		})
	}
}
