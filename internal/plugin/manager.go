// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/internal/plugin/service"
	"github.com/holomush/pluginhost/pkg/errutil"
)

const tracerName = "github.com/holomush/pluginhost/internal/plugin"

// entry is the registry record of one loaded plugin. It holds the plugin
// only through its boundary so teardown can release every strong reference.
type entry struct {
	manifest  *Manifest
	location  string
	state     State
	loadOrder int
	boundary  *Boundary
}

func (e *entry) name() string { return e.manifest.Name }

func (e *entry) transition(next State) error {
	if !e.state.CanTransition(next) {
		return oops.In("lifecycle").
			With("plugin", e.name()).
			With("from", e.state.String()).
			With("to", next.String()).
			Errorf("illegal state transition for plugin %q: %s -> %s", e.name(), e.state, next)
	}
	e.state = next
	return nil
}

// Manager is the lifecycle controller. It owns the registry of loaded
// plugins and drives each through Initialize, OnInitialized, OnUnloading
// and Dispose.
//
// Mutations hold the registry lock exclusively for their whole duration,
// including unload polling; List and Lookup share a read lock.
type Manager struct {
	loaders       []Loader
	services      *service.Registry
	logger        *slog.Logger
	tracer        trace.Tracer
	unloadTimeout time.Duration
	pollInterval  time.Duration
	strict        bool

	boundaries *BoundaryManager

	mu        sync.RWMutex
	entries   map[string]*entry
	nextOrder int
	closed    bool
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLoader registers a module loader. The last loader registered for a
// type wins.
func WithLoader(l Loader) ManagerOption {
	return func(m *Manager) {
		m.loaders = append(m.loaders, l)
	}
}

// WithServices sets the host service registry. Capability grants are
// enforced through the registry's enforcer when it has one.
func WithServices(r *service.Registry) ManagerOption {
	return func(m *Manager) {
		m.services = r
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithUnloadTimeout sets the default time an unload waits for a boundary
// to become unreachable.
func WithUnloadTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.unloadTimeout = d
		}
	}
}

// WithPollInterval sets how often unload re-checks reachability.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithStrictCapabilities denies all services to plugins whose manifest
// lists no capabilities.
func WithStrictCapabilities(strict bool) ManagerOption {
	return func(m *Manager) {
		m.strict = strict
	}
}

// WithTracer sets the tracer used for load and unload spans.
func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// NewManager creates a plugin manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:        slog.Default(),
		tracer:        otel.Tracer(tracerName),
		unloadTimeout: DefaultUnloadTimeout,
		pollInterval:  DefaultPollInterval,
		entries:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.services == nil {
		m.services = service.NewRegistry(capability.NewEnforcer())
	}

	bopts := []BoundaryOption{
		WithReachabilityInterval(m.pollInterval),
		WithBoundaryLogger(m.logger),
	}
	for _, l := range m.loaders {
		bopts = append(bopts, WithBoundaryLoader(l))
	}
	m.boundaries = NewBoundaryManager(bopts...)
	return m
}

// Services returns the host service registry.
func (m *Manager) Services() *service.Registry {
	return m.services
}

// LoadDir discovers the modules under dir and loads them as one batch.
func (m *Manager) LoadDir(ctx context.Context, dir string) (*LoadReport, error) {
	candidates, err := Discover(dir, m.logger)
	if err != nil {
		return nil, err
	}
	return m.Load(ctx, candidates...)
}

// LoadAll reads the manifest at every location and loads them as one
// batch. An unreadable or invalid manifest rejects the whole batch.
func (m *Manager) LoadAll(ctx context.Context, locations []string) (*LoadReport, error) {
	candidates := make([]Candidate, 0, len(locations))
	for _, loc := range locations {
		man, err := ReadManifest(loc)
		if err != nil {
			if ErrorCode(err) == "" {
				err = invalidManifestError(filepath.Base(loc), err)
			}
			recordResolutionFailure(err)
			return nil, err
		}
		candidates = append(candidates, Candidate{Manifest: man, Dir: loc})
	}
	return m.Load(ctx, candidates...)
}

// Load resolves the candidates and drives every plugin of the batch to
// Running. A resolution error rejects the batch before anything is
// instantiated. Instantiation and initialization failures only affect the
// failing plugin and the batch plugins that depend on it.
func (m *Manager) Load(ctx context.Context, candidates ...Candidate) (report *LoadReport, err error) {
	ctx, span := m.tracer.Start(ctx, "plugin.load",
		trace.WithAttributes(attribute.Int("plugin.candidates", len(candidates))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, managerClosedError()
	}

	batchID := newID()
	span.SetAttributes(attribute.String("plugin.batch_id", batchID))
	logger := m.logger.With("batch", batchID)

	plan, byName, err := m.resolve(candidates)
	if err != nil {
		recordResolutionFailure(err)
		errutil.LogWarn(logger, "load batch rejected", err)
		return nil, err
	}

	report = &LoadReport{
		BatchID: batchID,
		Plan:    plan,
		Failed:  make(map[string]error),
	}

	var initialized []*entry
	for _, man := range plan.Order {
		if dep, ok := failedDependency(man, report.Failed); ok {
			report.Failed[man.Name] = dependencyLoadFailedError(man.Name, dep)
			continue
		}
		e, err := m.instantiate(ctx, byName[man.Name])
		if err != nil {
			report.Failed[man.Name] = err
			continue
		}
		initialized = append(initialized, e)
	}

	for _, e := range initialized {
		if _, failed := report.Failed[e.name()]; failed {
			continue
		}
		if err := m.notifyInitialized(ctx, e); err != nil {
			report.Failed[e.name()] = err
			m.abortDependents(ctx, plan, e, report)
			continue
		}
		if err := e.transition(StateRunning); err != nil {
			report.Failed[e.name()] = err
			m.discard(ctx, e)
			continue
		}
		report.Loaded = append(report.Loaded, e.name())
	}

	for _, name := range report.Loaded {
		recordLoad(OutcomeSuccess)
		logger.Info("plugin loaded", "plugin", name)
	}
	for _, name := range report.FailedNames() {
		recordLoad(OutcomeFailure)
		errutil.LogError(logger.With("plugin", name), "plugin failed to load", report.Failed[name])
	}

	span.SetAttributes(
		attribute.Int("plugin.loaded", len(report.Loaded)),
		attribute.Int("plugin.failed", len(report.Failed)),
	)
	return report, nil
}

// resolve validates the candidates and orders them against the running
// plugins.
func (m *Manager) resolve(candidates []Candidate) (*Plan, map[string]Candidate, error) {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b Candidate) int {
		return strings.Compare(candidateName(a), candidateName(b))
	})

	manifests := make([]*Manifest, 0, len(sorted))
	byName := make(map[string]Candidate, len(sorted))
	for _, c := range sorted {
		if c.Manifest == nil {
			return nil, nil, invalidManifestError(filepath.Base(c.Dir), fmt.Errorf("candidate at %q has no manifest", c.Dir))
		}
		if err := c.Manifest.Validate(); err != nil {
			return nil, nil, invalidManifestError(c.Manifest.Name, err)
		}
		manifests = append(manifests, c.Manifest)
		byName[c.Manifest.Name] = c
	}

	var running []*Manifest
	for _, name := range sortedKeys(byName) {
		if e, ok := m.entries[name]; ok && e.state != StateRunning {
			return nil, nil, duplicateNameError(name)
		}
	}
	for _, e := range m.entries {
		if e.state == StateRunning {
			running = append(running, e.manifest)
		}
	}

	plan, err := Resolve(manifests, WithInstalled(running...))
	if err != nil {
		return nil, nil, err
	}
	return plan, byName, nil
}

func candidateName(c Candidate) string {
	if c.Manifest == nil {
		return ""
	}
	return c.Manifest.Name
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// failedDependency returns the first requirement of man that failed in the
// current batch.
func failedDependency(man *Manifest, failed map[string]error) (string, bool) {
	for _, dep := range man.Dependencies {
		if _, ok := failed[dep.Plugin]; ok {
			return dep.Plugin, true
		}
	}
	return "", false
}

// instantiate opens the candidate's boundary, registers the entry under a
// private copy of its manifest, and runs Initialize. On failure the entry
// is torn down again.
func (m *Manager) instantiate(ctx context.Context, c Candidate) (*entry, error) {
	c.Manifest = c.Manifest.clone()
	name := c.Manifest.Name

	if err := m.grant(c.Manifest); err != nil {
		return nil, invalidManifestError(name, err)
	}

	e := &entry{
		manifest: c.Manifest,
		location: c.Dir,
		state:    StateResolved,
	}

	b, err := m.boundaries.Open(ctx, c)
	if err != nil {
		m.revoke(name)
		return nil, err
	}
	e.boundary = b
	if err := e.transition(StateInitializing); err != nil {
		m.boundaries.Forget(b)
		m.revoke(name)
		return nil, err
	}

	m.nextOrder++
	e.loadOrder = m.nextOrder
	m.entries[name] = e
	PluginsLoaded.Inc()

	if err := m.initialize(ctx, e); err != nil {
		m.discard(ctx, e)
		return nil, err
	}
	if err := e.transition(StateInitialized); err != nil {
		m.discard(ctx, e)
		return nil, err
	}
	return e, nil
}

func (m *Manager) grant(man *Manifest) error {
	enforcer := m.services.Enforcer()
	if enforcer == nil {
		return nil
	}
	grants := man.Capabilities
	if len(grants) == 0 && !m.strict {
		grants = []string{capability.AllServices}
	}
	return enforcer.SetGrants(man.Name, grants)
}

func (m *Manager) revoke(name string) {
	m.services.RemoveOwner(name)
	if enforcer := m.services.Enforcer(); enforcer != nil {
		enforcer.RemoveGrants(name)
	}
}

// initialize and the other hook callers fetch the instance themselves so
// no caller frame keeps it alive past the hook.
func (m *Manager) initialize(ctx context.Context, e *entry) error {
	p := e.boundary.Instance()
	if p == nil {
		return initializeFailedError(e.name(), "initialize", fmt.Errorf("boundary holds no instance"))
	}
	scope := m.services.Scope(e.name())
	return callHook(e.name(), "initialize", func() error { return p.Initialize(ctx, scope) })
}

func (m *Manager) notifyInitialized(ctx context.Context, e *entry) error {
	p := e.boundary.Instance()
	if p == nil {
		return initializeFailedError(e.name(), "on_initialized", fmt.Errorf("boundary holds no instance"))
	}
	scope := m.services.Scope(e.name())
	return callHook(e.name(), "on_initialized", func() error { return p.OnInitialized(ctx, scope) })
}

// notifyUnloading runs OnUnloading (for plugins that finished Initialize)
// and Dispose, logging hook failures. Unloading proceeds regardless.
func (m *Manager) notifyUnloading(ctx context.Context, e *entry, initialized bool) {
	p := e.boundary.Instance()
	if p == nil {
		return
	}
	logger := m.logger.With("plugin", e.name())
	if initialized {
		if err := callHook(e.name(), "on_unloading", func() error { return p.OnUnloading(ctx) }); err != nil {
			errutil.LogWarn(logger, "plugin unloading hook failed", err)
		}
	}
	if err := callHook(e.name(), "dispose", p.Dispose); err != nil {
		errutil.LogWarn(logger, "plugin dispose failed", err)
	}
}

// callHook runs a plugin hook, converting errors and panics into
// INITIALIZE_FAILED errors naming the hook.
func callHook(name, hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = initializeFailedError(name, hook, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		return initializeFailedError(name, hook, err)
	}
	return nil
}

// abortDependents tears down the batch plugins that transitively depend on
// e, then e itself, in reverse load order.
func (m *Manager) abortDependents(ctx context.Context, plan *Plan, e *entry, report *LoadReport) {
	victims := []*entry{e}
	seen := map[string]bool{e.name(): true}
	queue := plan.Dependents(e.name())
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		queue = append(queue, plan.Dependents(name)...)

		dep, ok := m.entries[name]
		if !ok {
			continue
		}
		if _, failed := report.Failed[name]; !failed {
			report.Failed[name] = dependencyLoadFailedError(name, e.name())
		}
		victims = append(victims, dep)
	}

	slices.SortFunc(victims, func(a, b *entry) int { return b.loadOrder - a.loadOrder })
	for _, v := range victims {
		m.discard(ctx, v)
	}
}

// discard tears down a plugin that never reached Running. A boundary that
// cannot be reclaimed leaves the entry in Unloading.
func (m *Manager) discard(ctx context.Context, e *entry) {
	if err := m.teardown(ctx, e, m.unloadTimeout); err != nil {
		errutil.LogWarn(m.logger.With("plugin", e.name()), "failed plugin left pending unload", err)
	}
}

// teardown moves e to Unloading, notifies it, removes its services, and
// closes its boundary. On success the entry leaves the registry.
func (m *Manager) teardown(ctx context.Context, e *entry, timeout time.Duration) error {
	start := time.Now()

	if e.state != StateUnloading {
		initialized := e.state == StateInitialized || e.state == StateRunning
		if err := e.transition(StateUnloading); err != nil {
			return err
		}
		m.notifyUnloading(ctx, e, initialized)
	}
	m.revoke(e.name())

	if err := m.boundaries.Close(ctx, e.boundary, timeout); err != nil {
		recordUnload(OutcomeTimeout, time.Since(start))
		return err
	}

	if err := e.transition(StateUnloaded); err != nil {
		return err
	}
	delete(m.entries, e.name())
	PluginsLoaded.Dec()
	recordUnload(OutcomeSuccess, time.Since(start))
	return nil
}

// UnloadOption configures Unload.
type UnloadOption func(*unloadConfig)

type unloadConfig struct {
	force   bool
	timeout time.Duration
}

// Force unloads every loaded plugin that transitively depends on the
// target first, in reverse load order.
func Force() UnloadOption {
	return func(c *unloadConfig) {
		c.force = true
	}
}

// Timeout overrides the manager's unload timeout for one call.
func Timeout(d time.Duration) UnloadOption {
	return func(c *unloadConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Unload unloads the named plugin. It is refused while other loaded
// plugins depend on it unless Force is given. A plugin left pending by an
// earlier timeout is retried. On UNLOAD_TIMEOUT the report lists the
// pending plugin and the call may be repeated.
func (m *Manager) Unload(ctx context.Context, name string, opts ...UnloadOption) (report *UnloadReport, err error) {
	cfg := unloadConfig{timeout: m.unloadTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := m.tracer.Start(ctx, "plugin.unload",
		trace.WithAttributes(
			attribute.String("plugin.name", name),
			attribute.Bool("plugin.force", cfg.force),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, managerClosedError()
	}

	e, ok := m.entries[name]
	if !ok {
		return nil, notLoadedError(name)
	}

	report = &UnloadReport{}
	dependents := m.dependents(name)
	if len(dependents) > 0 {
		if !cfg.force {
			names := make([]string, len(dependents))
			for i, d := range dependents {
				names[i] = d.name()
			}
			slices.Sort(names)
			PluginUnloads.WithLabelValues(OutcomeRefused).Inc()
			return nil, unloadRefusedError(name, names)
		}
		for _, d := range dependents {
			if err := m.teardown(ctx, d, cfg.timeout); err != nil {
				report.Pending = append(report.Pending, d.name())
				return report, err
			}
			report.Unloaded = append(report.Unloaded, d.name())
			m.logger.Info("plugin unloaded", "plugin", d.name(), "required_by", name)
		}
	}

	if err := m.teardown(ctx, e, cfg.timeout); err != nil {
		report.Pending = append(report.Pending, name)
		errutil.LogWarn(m.logger.With("plugin", name), "plugin unload pending", err)
		return report, err
	}
	report.Unloaded = append(report.Unloaded, name)
	m.logger.Info("plugin unloaded", "plugin", name)
	return report, nil
}

// dependents returns the loaded plugins that transitively depend on name,
// in reverse load order. Plugins already unloading are skipped.
func (m *Manager) dependents(name string) []*entry {
	seen := map[string]bool{name: true}
	var out []*entry
	queue := []string{name}
	for len(queue) > 0 {
		target := queue[0]
		queue = queue[1:]
		for _, e := range m.entries {
			if seen[e.name()] || e.state == StateUnloading {
				continue
			}
			for _, dep := range e.manifest.Dependencies {
				if dep.Plugin == target {
					seen[e.name()] = true
					out = append(out, e)
					queue = append(queue, e.name())
					break
				}
			}
		}
	}
	slices.SortFunc(out, func(a, b *entry) int { return b.loadOrder - a.loadOrder })
	return out
}

// UnloadAll unloads every plugin in reverse load order. Plugins that time
// out stay pending; the returned error joins their timeouts.
func (m *Manager) UnloadAll(ctx context.Context) (*UnloadReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadAll(ctx)
}

func (m *Manager) unloadAll(ctx context.Context) (*UnloadReport, error) {
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry) int { return b.loadOrder - a.loadOrder })

	report := &UnloadReport{}
	var errs []error
	for _, e := range entries {
		if err := m.teardown(ctx, e, m.unloadTimeout); err != nil {
			report.Pending = append(report.Pending, e.name())
			errs = append(errs, err)
			continue
		}
		report.Unloaded = append(report.Unloaded, e.name())
	}
	if len(errs) > 0 {
		return report, oops.Join(errs...)
	}
	return report, nil
}

// Abandon drops a plugin stuck in Unloading without confirming its
// boundary was reclaimed.
func (m *Manager) Abandon(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return notLoadedError(name)
	}
	if e.state != StateUnloading {
		return notPendingError(name, e.state)
	}

	m.boundaries.Forget(e.boundary)
	delete(m.entries, name)
	PluginsLoaded.Dec()
	PluginUnloads.WithLabelValues(OutcomeAbandoned).Inc()
	m.logger.Warn("abandoned plugin pending unload; its module may never be reclaimed",
		"plugin", name,
		"boundary", e.boundary.ID())
	return nil
}

// Close unloads every plugin and rejects further operations. Plugins that
// cannot be reclaimed are abandoned.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	_, err := m.unloadAll(ctx)
	for _, e := range m.entries {
		m.boundaries.Forget(e.boundary)
		PluginsLoaded.Dec()
		PluginUnloads.WithLabelValues(OutcomeAbandoned).Inc()
	}
	m.entries = make(map[string]*entry)
	return err
}

// List returns a snapshot of the registry in load order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.entries))
	for _, e := range m.entries {
		infos = append(infos, Info{
			Name:      e.name(),
			Version:   e.manifest.EffectiveVersion(),
			Priority:  e.manifest.Priority,
			State:     e.state,
			LoadOrder: e.loadOrder,
			Location:  e.location,
		})
	}
	slices.SortFunc(infos, func(a, b Info) int { return a.LoadOrder - b.LoadOrder })
	return infos
}

// Lookup returns the named plugin while it is Running.
func (m *Manager) Lookup(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	if !ok || e.state != StateRunning {
		return nil, false
	}
	p := e.boundary.Instance()
	return p, p != nil
}

// Pending returns the plugins stuck in Unloading, sorted by name.
func (m *Manager) Pending() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, e := range m.entries {
		if e.state == StateUnloading {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
