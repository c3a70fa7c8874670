// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostinfo is a native plugin that publishes facts about the host
// process as services.
package hostinfo

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/native"
)

// Module is the native-plugin.module id this package registers.
const Module = "hostinfo"

// Service names registered by the plugin.
const (
	ServiceStarted = "hostinfo.started"
	ServiceFacts   = "hostinfo.facts"
)

func init() {
	native.MustRegister(Module,
		native.Plugin("HostInfo", "hostinfo", New),
		native.Type("Facts"),
	)
}

// Facts describes the running host.
type Facts struct {
	Started   time.Time
	PID       int
	Hostname  string
	GoVersion string
}

// HostInfo is the plugin instance.
type HostInfo struct {
	pctx  *plugin.Context
	facts Facts
}

// New builds the plugin from its context.
func New(pctx *plugin.Context) (*HostInfo, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HostInfo{
		pctx: pctx,
		facts: Facts{
			Started:   time.Now().UTC(),
			PID:       os.Getpid(),
			Hostname:  hostname,
			GoVersion: runtime.Version(),
		},
	}, nil
}

// Initialize registers copies of the facts; nothing registered refers back
// to the instance.
func (h *HostInfo) Initialize(_ context.Context, services plugin.ServiceRegistrar) error {
	if err := services.Register(ServiceStarted, h.facts.Started.Format(time.RFC3339)); err != nil {
		return err //nolint:wrapcheck // registry errors carry their own code
	}
	return services.Register(ServiceFacts, h.facts) //nolint:wrapcheck // as above
}

// OnInitialized logs the services visible to the plugin.
func (h *HostInfo) OnInitialized(_ context.Context, services plugin.ServiceProvider) error {
	h.pctx.Logger.Debug("host services available", "services", services.Names())
	return nil
}

// OnUnloading implements plugin.Plugin.
func (h *HostInfo) OnUnloading(context.Context) error {
	h.pctx.Logger.Debug("hostinfo unloading", "uptime", time.Since(h.facts.Started).String())
	return nil
}

// Dispose implements plugin.Plugin.
func (h *HostInfo) Dispose() error {
	return nil
}
