// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for load and unload metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeTimeout   = "timeout"
	OutcomeRefused   = "refused"
	OutcomeAbandoned = "abandoned"
)

// PluginLoads counts plugin load attempts by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pluginhost_plugin_loads_total",
		Help: "Total number of plugin load attempts",
	},
	[]string{"outcome"},
)

// PluginUnloads counts plugin unload attempts by outcome.
var PluginUnloads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pluginhost_plugin_unloads_total",
		Help: "Total number of plugin unload attempts",
	},
	[]string{"outcome"},
)

// ResolutionFailures counts batches rejected by the resolver, by error code.
var ResolutionFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pluginhost_resolution_failures_total",
		Help: "Total number of load batches rejected during dependency resolution",
	},
	[]string{"code"},
)

// PluginsLoaded tracks how many plugins are currently registered with a manager.
var PluginsLoaded = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "pluginhost_plugins_loaded",
		Help: "Number of plugins currently loaded",
	},
)

// UnloadDuration observes how long boundary teardown took, including
// reachability polling.
var UnloadDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "pluginhost_unload_duration_seconds",
		Help:    "Plugin unload duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// RegisterMetrics registers plugin metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PluginLoads)
	reg.MustRegister(PluginUnloads)
	reg.MustRegister(ResolutionFailures)
	reg.MustRegister(PluginsLoaded)
	reg.MustRegister(UnloadDuration)
}

func recordLoad(outcome string) {
	PluginLoads.WithLabelValues(outcome).Inc()
}

func recordUnload(outcome string, d time.Duration) {
	PluginUnloads.WithLabelValues(outcome).Inc()
	UnloadDuration.Observe(d.Seconds())
}

func recordResolutionFailure(err error) {
	code := ErrorCode(err)
	if code == "" {
		code = "unknown"
	}
	ResolutionFailures.WithLabelValues(code).Inc()
}
