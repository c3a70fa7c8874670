// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package service is the host-owned service container plugins reach
// through narrow, per-plugin scopes.
package service

import (
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin/capability"
)

// Error codes returned by the registry.
const (
	CodeNotFound     = "SERVICE_NOT_FOUND"
	CodeExists       = "SERVICE_EXISTS"
	CodeDenied       = "SERVICE_DENIED"
	CodeScopeRevoked = "SERVICE_SCOPE_REVOKED"
	CodeInvalid      = "SERVICE_INVALID"
)

// HostOwner owns services provided by the host itself.
const HostOwner = ""

type entry struct {
	owner string
	value any
}

// Registry maps service names to values and remembers which plugin
// registered each one.
type Registry struct {
	enforcer *capability.Enforcer

	mu      sync.RWMutex
	entries map[string]entry
	scopes  map[string]bool
}

// NewRegistry creates a registry that checks plugin access against enforcer.
// A nil enforcer allows every plugin everything.
func NewRegistry(enforcer *capability.Enforcer) *Registry {
	return &Registry{
		enforcer: enforcer,
		entries:  make(map[string]entry),
		scopes:   make(map[string]bool),
	}
}

// Enforcer returns the capability enforcer, or nil.
func (r *Registry) Enforcer() *capability.Enforcer {
	return r.enforcer
}

// Provide registers a host service. Host services are never removed by
// RemoveOwner.
func (r *Registry) Provide(name string, svc any) error {
	return r.add(HostOwner, name, svc)
}

// Resolve returns a service without a capability check.
func (r *Registry) Resolve(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, notFoundError(name)
	}
	return e.value, nil
}

// Names returns every registered service name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Owner returns the plugin that registered name, HostOwner for host
// services, and false if name is unknown.
func (r *Registry) Owner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e.owner, ok
}

// Scope returns the registrar and provider view of one plugin. Scopes stay
// valid until RemoveOwner is called for the plugin.
func (r *Registry) Scope(owner string) *Scope {
	r.mu.Lock()
	r.scopes[owner] = true
	r.mu.Unlock()
	return &Scope{registry: r, owner: owner}
}

// RemoveOwner drops every service registered by owner and revokes its
// scope. It returns the removed service names, sorted.
func (r *Registry) RemoveOwner(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.scopes, owner)
	if owner == HostOwner {
		return nil
	}

	var removed []string
	for name, e := range r.entries {
		if e.owner == owner {
			delete(r.entries, name)
			removed = append(removed, name)
		}
	}
	slices.Sort(removed)
	return removed
}

func (r *Registry) add(owner, name string, svc any) error {
	if name == "" {
		return oops.In("service").Code(CodeInvalid).Errorf("service name cannot be empty")
	}
	if svc == nil {
		return oops.In("service").Code(CodeInvalid).With("service", name).Errorf("service %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner != HostOwner && !r.scopes[owner] {
		return revokedError(owner)
	}
	if existing, ok := r.entries[name]; ok {
		return oops.In("service").
			Code(CodeExists).
			With("service", name).
			With("owner", existing.owner).
			Errorf("service %q is already registered", name)
	}
	r.entries[name] = entry{owner: owner, value: svc}
	return nil
}

func (r *Registry) allowed(owner, action string) bool {
	if r.enforcer == nil {
		return true
	}
	return r.enforcer.Check(owner, action)
}

// Scope is one plugin's view of the registry.
type Scope struct {
	registry *Registry
	owner    string
}

// Owner returns the plugin the scope belongs to.
func (s *Scope) Owner() string { return s.owner }

// Register publishes a service owned by the scope's plugin.
func (s *Scope) Register(name string, svc any) error {
	if !s.registry.allowed(s.owner, capability.RegisterAction(name)) {
		return deniedError(s.owner, capability.RegisterAction(name))
	}
	return s.registry.add(s.owner, name, svc)
}

// Resolve returns a service the scope's plugin is granted.
func (s *Scope) Resolve(name string) (any, error) {
	if !s.active() {
		return nil, revokedError(s.owner)
	}
	if !s.registry.allowed(s.owner, capability.ResolveAction(name)) {
		return nil, deniedError(s.owner, capability.ResolveAction(name))
	}
	return s.registry.Resolve(name)
}

// Names returns the services the scope's plugin may resolve, sorted.
func (s *Scope) Names() []string {
	var names []string
	for _, name := range s.registry.Names() {
		if s.registry.allowed(s.owner, capability.ResolveAction(name)) {
			names = append(names, name)
		}
	}
	return names
}

func (s *Scope) active() bool {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return s.registry.scopes[s.owner]
}

func notFoundError(name string) error {
	return oops.In("service").
		Code(CodeNotFound).
		With("service", name).
		Errorf("service %q is not registered", name)
}

func deniedError(owner, action string) error {
	return oops.In("service").
		Code(CodeDenied).
		With("plugin", owner).
		With("action", action).
		Errorf("plugin %q lacks capability %q", owner, action)
}

func revokedError(owner string) error {
	return oops.In("service").
		Code(CodeScopeRevoked).
		With("plugin", owner).
		Errorf("service scope of plugin %q has been revoked", owner)
}
