// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package native

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Loader = (*Loader)(nil)
	_ plugin.Module = (*module)(nil)
)

// Loader binds modules from a Registry by the native-plugin.module id in
// their manifest.
type Loader struct {
	registry *Registry
}

// NewLoader creates a loader over r, or over Default when r is nil.
func NewLoader(r *Registry) *Loader {
	if r == nil {
		r = Default
	}
	return &Loader{registry: r}
}

// Type implements plugin.Loader.
func (l *Loader) Type() plugin.Type {
	return plugin.TypeNative
}

// Bind implements plugin.Loader. Each bind gets its own module value, so
// two boundaries never share one even when they name the same module id.
func (l *Loader) Bind(ctx context.Context, c plugin.Candidate) (plugin.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Manifest.NativePlugin == nil {
		return nil, oops.In("native").
			With("plugin", c.Manifest.Name).
			Errorf("manifest has no native-plugin section")
	}

	id := c.Manifest.NativePlugin.Module
	exports, ok := l.registry.Exports(id)
	if !ok {
		return nil, oops.In("native").
			With("plugin", c.Manifest.Name).
			With("module", id).
			Hint("native modules must be compiled into the host and registered").
			Errorf("native module %q is not registered", id)
	}
	return &module{id: id, exports: exports}, nil
}

type module struct {
	id string

	mu      sync.Mutex
	exports []plugin.Export
}

func (m *module) Exports() []plugin.Export {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exports
}

func (m *module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports = nil
	return nil
}
