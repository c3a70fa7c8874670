// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Boundary close defaults.
const (
	DefaultUnloadTimeout = 5 * time.Second
	DefaultPollInterval  = 50 * time.Millisecond
)

// BoundaryState tracks a boundary from open to confirmed reclamation.
type BoundaryState int

// Boundary states.
const (
	BoundaryOpen BoundaryState = iota
	BoundaryPending
	BoundaryClosed
)

func (s BoundaryState) String() string {
	switch s {
	case BoundaryOpen:
		return "open"
	case BoundaryPending:
		return "unload-pending"
	case BoundaryClosed:
		return "closed"
	default:
		return fmt.Sprintf("boundary-state(%d)", int(s))
	}
}

// Boundary owns one bound module and the single plugin instance it
// produced. The handle observes the instance without keeping it alive.
type Boundary struct {
	id       string
	name     string
	location string
	typeName string

	mu       sync.Mutex
	state    BoundaryState
	module   Module
	instance Plugin
	handle   Handle
}

// ID returns the boundary's unique identifier.
func (b *Boundary) ID() string { return b.id }

// Name returns the name of the plugin bound in this boundary.
func (b *Boundary) Name() string { return b.name }

// Location returns the module location the boundary was opened from.
func (b *Boundary) Location() string { return b.location }

// TypeName returns the module type that was instantiated.
func (b *Boundary) TypeName() string { return b.typeName }

// State returns the boundary state.
func (b *Boundary) State() BoundaryState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Instance returns the plugin instance, or nil once the boundary has begun
// closing.
func (b *Boundary) Instance() Plugin {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instance
}

// BoundaryManager opens and closes module boundaries. It keeps every
// boundary that is open or pending unload.
type BoundaryManager struct {
	loaders  map[Type]Loader
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	boundaries map[string]*Boundary
}

// BoundaryOption configures a BoundaryManager.
type BoundaryOption func(*BoundaryManager)

// WithBoundaryLoader registers a loader for its module type.
func WithBoundaryLoader(l Loader) BoundaryOption {
	return func(bm *BoundaryManager) {
		bm.loaders[l.Type()] = l
	}
}

// WithReachabilityInterval sets how often a closing boundary checks whether
// its instance has become unreachable.
func WithReachabilityInterval(d time.Duration) BoundaryOption {
	return func(bm *BoundaryManager) {
		if d > 0 {
			bm.interval = d
		}
	}
}

// WithBoundaryLogger sets the logger handed to plugin contexts.
func WithBoundaryLogger(l *slog.Logger) BoundaryOption {
	return func(bm *BoundaryManager) {
		if l != nil {
			bm.logger = l
		}
	}
}

// NewBoundaryManager creates a boundary manager.
func NewBoundaryManager(opts ...BoundaryOption) *BoundaryManager {
	bm := &BoundaryManager{
		loaders:    make(map[Type]Loader),
		interval:   DefaultPollInterval,
		logger:     slog.Default(),
		boundaries: make(map[string]*Boundary),
	}
	for _, opt := range opts {
		opt(bm)
	}
	return bm
}

// Open binds the candidate's module in a new boundary and instantiates its
// single qualifying plugin type.
func (bm *BoundaryManager) Open(ctx context.Context, c Candidate) (*Boundary, error) {
	name := c.Manifest.Name

	bm.mu.Lock()
	loader, ok := bm.loaders[c.Manifest.Type]
	bm.mu.Unlock()
	if !ok {
		return nil, loadErrorf(name, "no loader registered for module type %q", c.Manifest.Type)
	}

	module, err := loader.Bind(ctx, c)
	if err != nil {
		return nil, loadError(name, err)
	}

	export, err := selectExport(name, module.Exports())
	if err != nil {
		closeModule(bm.logger, name, module)
		return nil, err
	}

	pctx := &Context{
		Name:     name,
		Version:  c.Manifest.EffectiveVersion(),
		Location: c.Dir,
		Logger:   bm.logger.With("plugin", name),
	}
	instance, handle, err := construct(export, pctx)
	if err != nil {
		closeModule(bm.logger, name, module)
		return nil, loadError(name, err)
	}

	b := &Boundary{
		id:       newID(),
		name:     name,
		location: c.Dir,
		typeName: export.TypeName,
		state:    BoundaryOpen,
		module:   module,
		instance: instance,
		handle:   handle,
	}

	bm.mu.Lock()
	bm.boundaries[b.id] = b
	bm.mu.Unlock()

	return b, nil
}

// selectExport finds the module's single qualifying type and checks its
// manifest declaration.
func selectExport(name string, exports []Export) (Export, error) {
	var qualifying []Export
	for _, e := range exports {
		if e.Qualifies() {
			qualifying = append(qualifying, e)
		}
	}

	switch len(qualifying) {
	case 0:
		return Export{}, loadErrorf(name, "module exports no type implementing the plugin contract")
	case 1:
	default:
		typeNames := make([]string, len(qualifying))
		for i, e := range qualifying {
			typeNames[i] = e.TypeName
		}
		slices.Sort(typeNames)
		return Export{}, loadErrorf(name, "module exports %d plugin types %v, expected exactly one", len(qualifying), typeNames)
	}

	e := qualifying[0]
	if e.Declares == "" {
		return Export{}, loadErrorf(name, "plugin type %s carries no manifest declaration", e.TypeName)
	}
	if e.Declares != name {
		return Export{}, loadErrorf(name, "plugin type %s declares %q, manifest names %q", e.TypeName, e.Declares, name)
	}
	if e.Err != nil {
		return Export{}, loadError(name, e.Err)
	}
	return e, nil
}

func construct(e Export, pctx *Context) (instance Plugin, handle Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			instance, handle = nil, nil
			err = fmt.Errorf("constructor for %s panicked: %v", e.TypeName, r)
		}
	}()

	instance, handle, err = e.New(pctx)
	if err != nil {
		return nil, nil, err
	}
	if instance == nil {
		return nil, nil, fmt.Errorf("constructor for %s returned no instance", e.TypeName)
	}
	if handle == nil {
		return nil, nil, fmt.Errorf("constructor for %s returned no reachability handle", e.TypeName)
	}
	return instance, handle, nil
}

// Close releases the boundary's strong references and waits until the
// instance is observed unreachable or timeout elapses. On timeout the
// boundary stays pending and Close may be called again.
func (bm *BoundaryManager) Close(ctx context.Context, b *Boundary, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultUnloadTimeout
	}

	b.mu.Lock()
	if b.state == BoundaryClosed {
		b.mu.Unlock()
		return nil
	}
	b.instance = nil
	b.state = BoundaryPending
	handle := b.handle
	b.mu.Unlock()

	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(bm.interval))
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		runtime.GC()
		if handle.Reachable() {
			return retry.RetryableError(errStillReachable)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return unloadCancelledError(b.name, ctxErr)
		}
		return unloadTimeoutError(b.name, timeout, err)
	}

	b.mu.Lock()
	module := b.module
	b.module = nil
	b.handle = nil
	b.state = BoundaryClosed
	b.mu.Unlock()

	closeModule(bm.logger, b.name, module)

	bm.mu.Lock()
	delete(bm.boundaries, b.id)
	bm.mu.Unlock()

	return nil
}

// Forget drops a pending boundary without confirming reclamation. The
// module is left for the garbage collector.
func (bm *BoundaryManager) Forget(b *Boundary) {
	b.mu.Lock()
	b.instance = nil
	b.module = nil
	b.handle = nil
	b.state = BoundaryClosed
	b.mu.Unlock()

	bm.mu.Lock()
	delete(bm.boundaries, b.id)
	bm.mu.Unlock()
}

// Pending returns the boundaries whose unload has not been confirmed.
func (bm *BoundaryManager) Pending() []*Boundary {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	var pending []*Boundary
	for _, b := range bm.boundaries {
		if b.State() == BoundaryPending {
			pending = append(pending, b)
		}
	}
	slices.SortFunc(pending, func(a, b *Boundary) int { return strings.Compare(a.name, b.name) })
	return pending
}

// Len returns the number of boundaries not yet closed.
func (bm *BoundaryManager) Len() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.boundaries)
}

func closeModule(logger *slog.Logger, name string, m Module) {
	if m == nil {
		return
	}
	if err := m.Close(); err != nil {
		logger.Warn("module close failed",
			"plugin", name,
			"error", err)
	}
}
