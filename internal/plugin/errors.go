// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Error codes attached to every error produced by this package.
// Callers match on codes via ErrorCode rather than on message text.
const (
	CodeDuplicateName        = "DUPLICATE_NAME"
	CodeMissingDependency    = "MISSING_DEPENDENCY"
	CodeVersionMismatch      = "VERSION_MISMATCH"
	CodeCircularDependency   = "CIRCULAR_DEPENDENCY"
	CodeInvalidManifest      = "INVALID_MANIFEST"
	CodeLoadError            = "LOAD_ERROR"
	CodeDependencyLoadFailed = "DEPENDENCY_LOAD_FAILED"
	CodeInitializeFailed     = "INITIALIZE_FAILED"
	CodeUnloadTimeout        = "UNLOAD_TIMEOUT"
	CodeUnloadRefused        = "UNLOAD_REFUSED"
	CodeNotLoaded            = "PLUGIN_NOT_LOADED"
	CodeNotPending           = "NOT_PENDING"
	CodeManagerClosed        = "MANAGER_CLOSED"
)

// errStillReachable is the retryable condition polled during boundary close.
var errStillReachable = errors.New("module instance is still reachable")

// ErrorCode returns the oops code carried by err, or "" if there is none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code := oopsErr.Code(); code != nil {
		if s, ok := code.(string); ok {
			return s
		}
	}
	return ""
}

// IsRetryable reports whether the failed operation may be retried as-is.
// Only unload timeouts qualify: the boundary is left pending and a later
// Unload call resumes the reachability check.
func IsRetryable(err error) bool {
	return ErrorCode(err) == CodeUnloadTimeout
}

// IsResolutionError reports whether err rejected a whole load batch during
// dependency resolution.
func IsResolutionError(err error) bool {
	switch ErrorCode(err) {
	case CodeDuplicateName, CodeMissingDependency, CodeVersionMismatch, CodeCircularDependency, CodeInvalidManifest:
		return true
	}
	return false
}

// isolateCause flattens errors raised by plugin or module code that carry
// their own oops code, so the host's classification stays authoritative.
func isolateCause(err error) error {
	if ErrorCode(err) == "" {
		return err
	}
	return errors.New(err.Error())
}

func duplicateNameError(name string) error {
	return oops.In("resolver").
		Code(CodeDuplicateName).
		With("plugin", name).
		Errorf("duplicate plugin name %q", name)
}

func missingDependencyError(requirer, required string) error {
	return oops.In("resolver").
		Code(CodeMissingDependency).
		With("requirer", requirer).
		With("required", required).
		Errorf("plugin %q requires %q, which is not available", requirer, required)
}

func versionMismatchError(requirer, required, found, needed string) error {
	return oops.In("resolver").
		Code(CodeVersionMismatch).
		With("requirer", requirer).
		With("required", required).
		With("found", found).
		With("needed", needed).
		Errorf("plugin %q requires %q >= %s, found %s", requirer, required, needed, found)
}

func circularDependencyError(members []string) error {
	return oops.In("resolver").
		Code(CodeCircularDependency).
		With("members", members).
		Errorf("circular dependency among plugins [%s]", strings.Join(members, ", "))
}

func invalidManifestError(name string, err error) error {
	return oops.In("manifest").
		Code(CodeInvalidManifest).
		With("plugin", name).
		Wrapf(err, "invalid manifest for plugin %q", name)
}

func loadError(name string, err error) error {
	return oops.In("boundary").
		Code(CodeLoadError).
		With("plugin", name).
		Wrapf(isolateCause(err), "load plugin %q", name)
}

func loadErrorf(name, format string, args ...any) error {
	return oops.In("boundary").
		Code(CodeLoadError).
		With("plugin", name).
		Errorf(format, args...)
}

func dependencyLoadFailedError(name, dependency string) error {
	return oops.In("lifecycle").
		Code(CodeDependencyLoadFailed).
		With("plugin", name).
		With("dependency", dependency).
		Errorf("plugin %q not loaded: dependency %q failed to load", name, dependency)
}

func initializeFailedError(name, hook string, err error) error {
	return oops.In("lifecycle").
		Code(CodeInitializeFailed).
		With("plugin", name).
		With("hook", hook).
		Wrapf(isolateCause(err), "plugin %q %s failed", name, hook)
}

func unloadTimeoutError(name string, timeout time.Duration, cause error) error {
	return oops.In("boundary").
		Code(CodeUnloadTimeout).
		With("plugin", name).
		With("timeout", timeout.String()).
		Hint("release host references to the plugin instance and retry the unload").
		Wrapf(cause, "plugin %q was not reclaimed within %s", name, timeout)
}

// unloadCancelledError keeps the timeout code: the boundary is left pending
// exactly as after a timeout.
func unloadCancelledError(name string, cause error) error {
	return oops.In("boundary").
		Code(CodeUnloadTimeout).
		With("plugin", name).
		With("cancelled", true).
		Hint("retry the unload with a live context").
		Wrapf(cause, "unload of plugin %q was cancelled before it was reclaimed", name)
}

func unloadRefusedError(name string, dependents []string) error {
	return oops.In("lifecycle").
		Code(CodeUnloadRefused).
		With("plugin", name).
		With("dependents", dependents).
		Hint("unload the dependents first or force the unload").
		Errorf("plugin %q is required by loaded plugins [%s]", name, strings.Join(dependents, ", "))
}

func notLoadedError(name string) error {
	return oops.In("lifecycle").
		Code(CodeNotLoaded).
		With("plugin", name).
		Errorf("plugin %q is not loaded", name)
}

func notPendingError(name string, state State) error {
	return oops.In("lifecycle").
		Code(CodeNotPending).
		With("plugin", name).
		With("state", state.String()).
		Errorf("plugin %q is %s, not pending unload", name, state)
}

func managerClosedError() error {
	return oops.In("lifecycle").
		Code(CodeManagerClosed).
		Errorf("plugin manager is closed")
}
