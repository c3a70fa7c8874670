// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/internal/plugin/service"
	"github.com/holomush/pluginhost/pkg/errutil"
)

func TestRegistry_ProvideAndResolve(t *testing.T) {
	r := service.NewRegistry(nil)
	require.NoError(t, r.Provide("clock", "tick"))

	got, err := r.Resolve("clock")
	require.NoError(t, err)
	assert.Equal(t, "tick", got)

	owner, ok := r.Owner("clock")
	assert.True(t, ok)
	assert.Equal(t, service.HostOwner, owner)
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := service.NewRegistry(nil)
	_, err := r.Resolve("missing")
	errutil.AssertErrorCode(t, err, service.CodeNotFound)
}

func TestRegistry_RejectsDuplicatesAndInvalid(t *testing.T) {
	r := service.NewRegistry(nil)
	require.NoError(t, r.Provide("clock", 1))

	errutil.AssertErrorCode(t, r.Provide("clock", 2), service.CodeExists)
	errutil.AssertErrorCode(t, r.Provide("", 2), service.CodeInvalid)
	errutil.AssertErrorCode(t, r.Provide("nil", nil), service.CodeInvalid)
}

func TestScope_RegisterAndRemoveOwner(t *testing.T) {
	r := service.NewRegistry(nil)
	require.NoError(t, r.Provide("clock", 1))

	s := r.Scope("greeter")
	require.NoError(t, s.Register("greeting", "hello"))
	require.NoError(t, s.Register("farewell", "bye"))
	assert.Equal(t, []string{"clock", "farewell", "greeting"}, r.Names())

	removed := r.RemoveOwner("greeter")
	assert.Equal(t, []string{"farewell", "greeting"}, removed)
	assert.Equal(t, []string{"clock"}, r.Names())
}

func TestScope_RevokedAfterRemoveOwner(t *testing.T) {
	r := service.NewRegistry(nil)
	require.NoError(t, r.Provide("clock", 1))

	s := r.Scope("greeter")
	r.RemoveOwner("greeter")

	errutil.AssertErrorCode(t, s.Register("greeting", "hello"), service.CodeScopeRevoked)
	_, err := s.Resolve("clock")
	errutil.AssertErrorCode(t, err, service.CodeScopeRevoked)
}

func TestRemoveOwner_KeepsHostServices(t *testing.T) {
	r := service.NewRegistry(nil)
	require.NoError(t, r.Provide("clock", 1))

	assert.Nil(t, r.RemoveOwner(service.HostOwner))
	assert.Equal(t, []string{"clock"}, r.Names())
}

func TestScope_CapabilityChecks(t *testing.T) {
	enforcer := capability.NewEnforcer()
	require.NoError(t, enforcer.SetGrants("reader", []string{"service.resolve.clock"}))

	r := service.NewRegistry(enforcer)
	require.NoError(t, r.Provide("clock", 1))
	require.NoError(t, r.Provide("secrets", 2))

	s := r.Scope("reader")

	got, err := s.Resolve("clock")
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	_, err = s.Resolve("secrets")
	errutil.AssertErrorCode(t, err, service.CodeDenied)
	errutil.AssertErrorContext(t, err, "action", "service.resolve.secrets")

	errutil.AssertErrorCode(t, s.Register("mine", 3), service.CodeDenied)

	assert.Equal(t, []string{"clock"}, s.Names())
}

func TestScope_UnknownPluginDeniedWithEnforcer(t *testing.T) {
	r := service.NewRegistry(capability.NewEnforcer())
	require.NoError(t, r.Provide("clock", 1))

	_, err := r.Scope("stranger").Resolve("clock")
	errutil.AssertErrorCode(t, err, service.CodeDenied)
}
