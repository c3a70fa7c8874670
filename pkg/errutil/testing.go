// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOops fails the test unless err is an oops error.
func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err, "expected an error")
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries code. The message is included
// on mismatch so a wrong failure is easy to identify.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.Equal(t, code, oopsErr.Code(), "error: %v", err)
}

// AssertErrorContext asserts that err carries key with value in its context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	if assert.Contains(t, ctx, key, "error: %v", err) {
		assert.Equal(t, value, ctx[key], "context %q", key)
	}
}

// AssertErrorDomain asserts the component that raised err, such as
// "resolver" or "lifecycle".
func AssertErrorDomain(t *testing.T, err error, domain string) {
	t.Helper()
	assert.Equal(t, domain, requireOops(t, err).Domain(), "error: %v", err)
}

// AssertErrorHint asserts that err tells the caller how to recover, and
// that the hint mentions contains.
func AssertErrorHint(t *testing.T, err error, contains string) {
	t.Helper()
	hint := requireOops(t, err).Hint()
	require.NotEmpty(t, hint, "error has no hint: %v", err)
	assert.Contains(t, hint, contains)
}
