// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"github.com/samber/oops"

	"github.com/holomush/polyload/internal/reflection"
)

// Error codes attached to every error returned by this package.
const (
	CodeBindFailure      = "BIND_FAILURE"
	CodeInitFailure      = "INIT_FAILURE"
	CodeLoadFailure      = "LOAD_FAILURE"
	CodeRegistryConflict = "REGISTRY_CONFLICT"
	CodeDiscoverFailure  = "DISCOVER_FAILURE"
	CodeAppendFailure    = "APPEND_FAILURE"
	CodeHookFailure      = "HOOK_FAILURE"
	CodeClearFailure     = "CLEAR_FAILURE"
	CodeContextDestroyed = "CONTEXT_DESTROYED"
)

// HasCode reports whether err, or any error joined or wrapped inside it,
// carries code.
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == code {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if HasCode(e, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return HasCode(u.Unwrap(), code)
	}
	return false
}

// HookResult extracts the result code of a failed module initialize hook.
func HookResult(err error) (int, bool) {
	if !HasCode(err, CodeHookFailure) {
		return 0, false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	return reflection.ToInt(oopsErr.Context()["result"])
}

// errb returns the error builder for this loader context.
func (impl *Impl) errb() oops.OopsErrorBuilder {
	return oops.In("loader").With("tag", impl.tag).With("loader_id", impl.id)
}
