// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestingT is the subset of *testing.T the assertions need. GinkgoT()
// satisfies it too.
type TestingT interface {
	require.TestingT
	Helper()
}

// Codes returns the oops codes carried by err. An error built with
// errors.Join contributes the codes of every joined error, in order.
func Codes(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, Codes(e)...)
		}
		return out
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil && code != "" {
			return []string{fmt.Sprint(code)}
		}
	}
	return Codes(errors.Unwrap(err))
}

// AssertErrorCode asserts that err, or one of the errors it joins, is an
// oops error with the given code.
func AssertErrorCode(t TestingT, err error, code string) {
	t.Helper()
	require.Error(t, err)
	codes := Codes(err)
	require.NotEmpty(t, codes, "expected coded oops error, got %T: %v", err, err)
	assert.Contains(t, codes, code)
}

// AssertErrorContext asserts that err is an oops error with the given context key/value.
func AssertErrorContext(t TestingT, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	ctx := oopsErr.Context()
	assert.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}
