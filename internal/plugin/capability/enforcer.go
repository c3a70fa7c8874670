// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability restricts which host services a plugin may register
// or resolve.
//
// Grants are gobwas/glob patterns with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Actions are named service.register.<service> and service.resolve.<service>.
// "service.resolve.**" lets a plugin resolve every service; "service.**"
// grants both directions.
package capability

import (
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Action prefixes checked by the service registry.
const (
	RegisterPrefix = "service.register."
	ResolvePrefix  = "service.resolve."
)

// AllServices is granted to plugins whose manifest lists no capabilities
// when strict mode is off.
const AllServices = "service.**"

// RegisterAction returns the action checked when a plugin registers service.
func RegisterAction(service string) string { return RegisterPrefix + service }

// ResolveAction returns the action checked when a plugin resolves service.
func ResolveAction(service string) string { return ResolvePrefix + service }

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer holds compiled grants per plugin.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]compiledGrant
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]compiledGrant)}
}

// SetGrants replaces the grants of plugin. Either every pattern compiles
// and all are installed, or the enforcer is left unchanged.
func (e *Enforcer) SetGrants(plugin string, patterns []string) error {
	if plugin == "" {
		return oops.In("capability").Errorf("plugin name cannot be empty")
	}

	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return oops.In("capability").
				With("plugin", plugin).
				Errorf("capability %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return oops.In("capability").
				With("plugin", plugin).
				With("pattern", pattern).
				Wrapf(err, "capability %d", i)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// RemoveGrants forgets plugin. Unknown plugins are ignored.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// Grants returns a copy of the patterns granted to plugin, or nil.
func (e *Enforcer) Grants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Check reports whether plugin may perform action. Unknown plugins and
// empty actions are denied.
func (e *Enforcer) Check(plugin, action string) bool {
	if action == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.grants[plugin] {
		if grant.glob.Match(action) {
			return true
		}
	}
	return false
}
