// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"weak"
)

// Candidate is a discovered module: its manifest and the location it was
// read from.
type Candidate struct {
	Manifest *Manifest
	Dir      string
}

// Loader binds modules of one runtime type into isolated boundaries.
type Loader interface {
	// Type returns the manifest type this loader handles.
	Type() Type

	// Bind loads the module's backing files into a fresh isolation scope.
	// Secondary dependencies must resolve within that scope only.
	Bind(ctx context.Context, c Candidate) (Module, error)
}

// Module is the bound content of one boundary.
type Module interface {
	// Exports lists the public types the module defines.
	Exports() []Export

	// Close releases everything the module owns. Called only once the
	// instance it produced is confirmed unreachable.
	Close() error
}

// Constructor creates a plugin instance together with the reachability
// handle observing it.
type Constructor func(ctx *Context) (Plugin, Handle, error)

// Export describes one public type of a module. A type qualifies as the
// module's plugin when New is set; Declares carries the name from its
// manifest declaration and is empty when the type has none.
type Export struct {
	TypeName string
	Declares string
	New      Constructor

	// Err is set when the declaration itself is unusable. Registries
	// reject such exports.
	Err error
}

// Qualifies reports whether the export implements the plugin contract.
func (e Export) Qualifies() bool {
	return e.New != nil
}

// Handle is a non-owning observation of a plugin instance.
type Handle interface {
	// Reachable reports whether the observed instance is still strongly
	// referenced from anywhere.
	Reachable() bool
}

type weakHandle[T any] struct {
	ptr weak.Pointer[T]
}

func (h weakHandle[T]) Reachable() bool {
	return h.ptr.Value() != nil
}

// Observe returns a Handle backed by a weak pointer to p.
func Observe[T any](p *T) Handle {
	return weakHandle[T]{ptr: weak.Make(p)}
}
