// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin/capability"
)

func TestEnforcer_Check(t *testing.T) {
	tests := []struct {
		name   string
		grants []string
		action string
		want   bool
	}{
		{
			name:   "exact match",
			grants: []string{"service.resolve.clock"},
			action: capability.ResolveAction("clock"),
			want:   true,
		},
		{
			name:   "single segment wildcard",
			grants: []string{"service.resolve.*"},
			action: capability.ResolveAction("clock"),
			want:   true,
		},
		{
			name:   "single segment wildcard does not cross separator",
			grants: []string{"service.resolve.*"},
			action: capability.ResolveAction("store.kv"),
			want:   false,
		},
		{
			name:   "super wildcard crosses separator",
			grants: []string{"service.resolve.**"},
			action: capability.ResolveAction("store.kv"),
			want:   true,
		},
		{
			name:   "all services covers register",
			grants: []string{capability.AllServices},
			action: capability.RegisterAction("greeter"),
			want:   true,
		},
		{
			name:   "resolve grant does not allow register",
			grants: []string{"service.resolve.**"},
			action: capability.RegisterAction("greeter"),
			want:   false,
		},
		{
			name:   "prefix without wildcard does not match",
			grants: []string{"service.resolve"},
			action: capability.ResolveAction("clock"),
			want:   false,
		},
		{
			name:   "no grants",
			grants: []string{},
			action: capability.ResolveAction("clock"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := capability.NewEnforcer()
			require.NoError(t, e.SetGrants("test-plugin", tt.grants))
			assert.Equal(t, tt.want, e.Check("test-plugin", tt.action))
		})
	}
}

func TestEnforcer_UnknownPluginDenied(t *testing.T) {
	e := capability.NewEnforcer()
	assert.False(t, e.Check("unknown", capability.ResolveAction("clock")))
}

func TestEnforcer_EmptyActionDenied(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"**"}))
	assert.False(t, e.Check("p", ""))
}

func TestEnforcer_ZeroValue(t *testing.T) {
	var e capability.Enforcer
	assert.False(t, e.Check("p", "service.resolve.x"))
	require.NoError(t, e.SetGrants("p", []string{"service.resolve.x"}))
	assert.True(t, e.Check("p", "service.resolve.x"))
}

func TestEnforcer_SetGrantsIsAtomic(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"service.resolve.clock"}))

	err := e.SetGrants("p", []string{"service.resolve.*", "service.[invalid"})
	require.Error(t, err)

	assert.Equal(t, []string{"service.resolve.clock"}, e.Grants("p"))
}

func TestEnforcer_SetGrantsRejectsEmpty(t *testing.T) {
	e := capability.NewEnforcer()
	assert.Error(t, e.SetGrants("", []string{"**"}))
	assert.Error(t, e.SetGrants("p", []string{""}))
}

func TestEnforcer_GrantsReturnsCopy(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"service.**"}))

	got := e.Grants("p")
	got[0] = "mutated"
	assert.Equal(t, []string{"service.**"}, e.Grants("p"))
	assert.Nil(t, e.Grants("unknown"))
}

func TestEnforcer_RemoveGrants(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"service.**"}))
	e.RemoveGrants("p")
	e.RemoveGrants("never-registered")
	assert.False(t, e.Check("p", capability.ResolveAction("clock")))
}
