// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin"
)

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		input string
		want  plugin.Dependency
	}{
		{input: "core", want: plugin.Dependency{Plugin: "core"}},
		{input: "core >= 1.2.0", want: plugin.Dependency{Plugin: "core", MinVersion: "1.2.0"}},
		{input: "core>=1.2.0", want: plugin.Dependency{Plugin: "core", MinVersion: "1.2.0"}},
		{input: "  my-plugin   >=   0.1.0-rc.1+build.7 ", want: plugin.Dependency{Plugin: "my-plugin", MinVersion: "0.1.0-rc.1+build.7"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := plugin.ParseRequirement(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRequirement_Invalid(t *testing.T) {
	inputs := []string{
		"",
		">= 1.0.0",
		"core >=",
		"core > 1.0.0",
		"core <= 2.0.0",
		"core >= 1.0",
		"core >= 1.0.0 extra",
		"Core >= 1.0.0",
		"core- >= 1.0.0",
		"core >= 01.0.0",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := plugin.ParseRequirement(input)
			assert.Error(t, err)
		})
	}
}
