// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import "slices"

// LoadReport describes the outcome of one load batch.
type LoadReport struct {
	BatchID string
	Plan    *Plan

	// Loaded lists plugins that reached Running, in load order.
	Loaded []string

	// Failed maps each plugin that did not load to the reason.
	Failed map[string]error
}

// FailedNames returns the names of failed plugins, sorted.
func (r *LoadReport) FailedNames() []string {
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OK reports whether every plugin of the batch loaded.
func (r *LoadReport) OK() bool {
	return len(r.Failed) == 0
}

// UnloadReport describes the outcome of an unload request.
type UnloadReport struct {
	// Unloaded lists plugins whose boundaries were confirmed closed, in
	// the order they were torn down.
	Unloaded []string

	// Pending lists plugins left waiting for reclamation.
	Pending []string
}

// Info is a snapshot of one registry entry.
type Info struct {
	Name      string
	Version   string
	Priority  int
	State     State
	LoadOrder int
	Location  string
}
