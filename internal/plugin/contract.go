// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
)

// ServiceRegistrar lets a plugin publish services to the host during
// Initialize.
type ServiceRegistrar interface {
	Register(name string, service any) error
}

// ServiceProvider resolves services registered by the host or by any
// plugin in the current batch.
type ServiceProvider interface {
	Resolve(name string) (any, error)
	Names() []string
}

// Plugin is the capability contract every plugin instance satisfies. The
// host only ever holds this interface.
type Plugin interface {
	// Initialize is called once, in resolved order. Other plugins of the
	// batch may not be registered yet.
	Initialize(ctx context.Context, services ServiceRegistrar) error

	// OnInitialized is called once after the whole batch initialized.
	OnInitialized(ctx context.Context, services ServiceProvider) error

	// OnUnloading is called once before the boundary begins teardown.
	OnUnloading(ctx context.Context) error

	// Dispose releases resources owned by the instance.
	Dispose() error
}

// Context is supplied by the manager to a module's constructor.
type Context struct {
	Name     string
	Version  string
	Location string
	Logger   *slog.Logger
}
