// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"container/heap"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Plan is a dependency-respecting load order for one batch of manifests.
// For every requirement A -> B within the batch, B precedes A; otherwise the
// order is by ascending (priority, name).
type Plan struct {
	Order []*Manifest

	dependents map[string][]string
}

// Names returns the plugin names in load order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Order))
	for i, m := range p.Order {
		names[i] = m.Name
	}
	return names
}

// Dependents returns the batch plugins that directly require name, sorted.
func (p *Plan) Dependents(name string) []string {
	return slices.Clone(p.dependents[name])
}

// ResolveOption configures Resolve.
type ResolveOption func(*resolveConfig)

type resolveConfig struct {
	installed []*Manifest
}

// WithInstalled supplies plugins that are already running. They satisfy
// requirements and take part in duplicate-name detection, but are not part
// of the resulting plan.
func WithInstalled(manifests ...*Manifest) ResolveOption {
	return func(c *resolveConfig) {
		c.installed = append(c.installed, manifests...)
	}
}

// Resolve orders manifests for loading. It is a pure function: identical
// inputs always yield the identical plan or the identical error.
//
// Checks run in a fixed order: duplicate names, then version syntax, then
// each requirement (manifests by name, requirements as declared), then
// cycle detection. The first failure is returned.
func Resolve(manifests []*Manifest, opts ...ResolveOption) (*Plan, error) {
	var cfg resolveConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	batch := make([]*Manifest, 0, len(manifests))
	for _, m := range manifests {
		if m != nil {
			batch = append(batch, m)
		}
	}
	slices.SortFunc(batch, func(a, b *Manifest) int { return strings.Compare(a.Name, b.Name) })

	installed := make(map[string]*Manifest, len(cfg.installed))
	for _, m := range cfg.installed {
		if m != nil {
			installed[m.Name] = m
		}
	}

	byName := make(map[string]*Manifest, len(batch))
	for _, m := range batch {
		if _, dup := byName[m.Name]; dup {
			return nil, duplicateNameError(m.Name)
		}
		if _, dup := installed[m.Name]; dup {
			return nil, duplicateNameError(m.Name)
		}
		byName[m.Name] = m
	}

	versions := make(map[string]*semver.Version, len(batch)+len(installed))
	for _, m := range installed {
		v, err := m.SemVer()
		if err != nil {
			return nil, err
		}
		versions[m.Name] = v
	}
	for _, m := range batch {
		v, err := m.SemVer()
		if err != nil {
			return nil, err
		}
		versions[m.Name] = v
	}

	indegree := make(map[string]int, len(batch))
	dependents := make(map[string][]string, len(batch))
	for _, m := range batch {
		indegree[m.Name] = 0
		for _, dep := range m.Dependencies {
			target, inBatch := byName[dep.Plugin]
			if !inBatch {
				target = installed[dep.Plugin]
			}
			if target == nil {
				return nil, missingDependencyError(m.Name, dep.Plugin)
			}

			needed, err := semver.NewVersion(dep.Minimum())
			if err != nil {
				return nil, invalidManifestError(m.Name, err)
			}
			if found := versions[target.Name]; found.LessThan(needed) {
				return nil, versionMismatchError(m.Name, dep.Plugin, found.String(), needed.String())
			}

			if inBatch {
				indegree[m.Name]++
				dependents[dep.Plugin] = append(dependents[dep.Plugin], m.Name)
			}
		}
	}

	ready := &readyQueue{}
	for _, m := range batch {
		if indegree[m.Name] == 0 {
			heap.Push(ready, m)
		}
	}

	order := make([]*Manifest, 0, len(batch))
	for ready.Len() > 0 {
		m := heap.Pop(ready).(*Manifest) //nolint:errcheck,forcetypeassert // queue only holds manifests
		order = append(order, m)
		for _, name := range dependents[m.Name] {
			indegree[name]--
			if indegree[name] == 0 {
				heap.Push(ready, byName[name])
			}
		}
	}

	if len(order) < len(batch) {
		var members []string
		for _, m := range batch {
			if indegree[m.Name] > 0 {
				members = append(members, m.Name)
			}
		}
		return nil, circularDependencyError(members)
	}

	for name := range dependents {
		slices.Sort(dependents[name])
	}
	return &Plan{Order: order, dependents: dependents}, nil
}

// readyQueue is a min-heap of manifests keyed by (priority, name).
type readyQueue []*Manifest

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	return q[i].Name < q[j].Name
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) {
	*q = append(*q, x.(*Manifest)) //nolint:forcetypeassert // heap.Push callers only pass manifests
}

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return m
}
