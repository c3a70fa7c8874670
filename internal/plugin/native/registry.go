// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package native binds plugin modules compiled into the host binary.
//
// A module registers its public types under a module id, usually from an
// init function:
//
//	func init() {
//		native.MustRegister("audit", native.Plugin("Auditor", "audit", newAuditor))
//	}
//
// Native code shares the host address space. Its boundary still gives each
// instance a private context, a reachability handle, and an owned close.
package native

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
)

// Registry maps module ids to the types they export.
type Registry struct {
	mu      sync.RWMutex
	modules map[string][]plugin.Export
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string][]plugin.Export)}
}

// Default is the registry used by MustRegister and NewLoader(nil).
var Default = NewRegistry()

// Register adds a module. Registering the same id twice is an error.
func (r *Registry) Register(module string, exports ...plugin.Export) error {
	if module == "" {
		return oops.In("native").Errorf("module id cannot be empty")
	}

	for _, e := range exports {
		if e.Err != nil {
			return oops.In("native").With("module", module).With("type", e.TypeName).Wrap(e.Err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[module]; ok {
		return oops.In("native").With("module", module).Errorf("module %q is already registered", module)
	}
	r.modules[module] = slices.Clone(exports)
	return nil
}

// MustRegister registers a module with Default and panics on failure.
func MustRegister(module string, exports ...plugin.Export) {
	if err := Default.Register(module, exports...); err != nil {
		panic(err)
	}
}

// Exports returns a copy of the exports of module.
func (r *Registry) Exports(module string) ([]plugin.Export, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exports, ok := r.modules[module]
	return slices.Clone(exports), ok
}

// Modules returns the registered module ids, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Plugin declares a type implementing the plugin contract through *T.
// declares is the manifest name the type is bound to. T must hold at least
// one pointer or be 16 bytes or larger so its reachability can be
// observed; Register rejects other types.
func Plugin[T any, P interface {
	*T
	plugin.Plugin
}](typeName, declares string, ctor func(*plugin.Context) (*T, error)) plugin.Export {
	var err error
	if t := reflect.TypeFor[T](); !observable(t) {
		err = oops.With("size", t.Size()).
			Hint("add a pointer field such as *plugin.Context to the plugin type").
			Errorf("plugin type %s is too small to observe: unloads would never be confirmed", typeName)
	}
	return plugin.Export{
		TypeName: typeName,
		Declares: declares,
		Err:      err,
		New: func(pctx *plugin.Context) (plugin.Plugin, plugin.Handle, error) {
			t, err := ctor(pctx)
			if err != nil {
				return nil, nil, err
			}
			if t == nil {
				return nil, nil, fmt.Errorf("constructor for %s returned nil", typeName)
			}
			return P(t), plugin.Observe(t), nil
		},
	}
}

// Type declares a public type that does not implement the plugin contract.
func Type(typeName string) plugin.Export {
	return plugin.Export{TypeName: typeName}
}

// tinySize is the runtime's tiny-allocator limit. Pointer-free objects
// below it share memory blocks, so a weak pointer to one stays valid while
// any neighbour is alive.
const tinySize = 16

// observable reports whether a weak pointer to a new T tracks T's own
// lifetime.
func observable(t reflect.Type) bool {
	return t.Size() >= tinySize || hasPointers(t)
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func,
		reflect.Interface, reflect.Slice, reflect.String:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
