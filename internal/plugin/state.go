// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import "fmt"

// State is a plugin's position in its lifecycle.
type State int

// Lifecycle states, in the order a plugin normally passes through them.
const (
	StateDiscovered State = iota
	StateResolved
	StateInitializing
	StateInitialized
	StateRunning
	StateUnloading
	StateUnloaded
)

var stateNames = [...]string{
	StateDiscovered:   "discovered",
	StateResolved:     "resolved",
	StateInitializing: "initializing",
	StateInitialized:  "initialized",
	StateRunning:      "running",
	StateUnloading:    "unloading",
	StateUnloaded:     "unloaded",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// transitions lists the legal successor states. Initializing and
// Initialized may jump to Unloading when a hook fails mid-batch.
var transitions = map[State][]State{
	StateDiscovered:   {StateResolved},
	StateResolved:     {StateInitializing},
	StateInitializing: {StateInitialized, StateUnloading},
	StateInitialized:  {StateRunning, StateUnloading},
	StateRunning:      {StateUnloading},
	StateUnloading:    {StateUnloaded},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
