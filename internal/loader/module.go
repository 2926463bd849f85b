// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"context"
	"fmt"

	"github.com/holomush/polyload/internal/reflection"
)

// Well-known hook names. Each is called with no arguments; an integer result
// is a status code where zero means success.
const (
	// InitializeHook runs after a module is appended to the loader context.
	// It is resolved in the aggregate context.
	InitializeHook = "__module_initialize__"
	// FinalizeHook runs when a module is torn down. It is resolved in the
	// module's own context.
	FinalizeHook = "__module_finalize__"
)

// Source identifies which load entry point produced a module.
type Source string

// Module sources.
const (
	SourceFile    Source = "file"
	SourceMemory  Source = "memory"
	SourcePackage Source = "package"
)

// Module is the host's record of one loaded source unit. It is owned by the
// loader context's module registry and must not be retained after the
// loader context is destroyed.
type Module struct {
	name      string
	source    Source
	handle    Handle
	ctx       *reflection.Context
	finalized bool
}

func newModule(name string, source Source, handle Handle) (*Module, error) {
	ctx, err := reflection.NewContext(name)
	if err != nil {
		return nil, err
	}
	return &Module{name: name, source: source, handle: handle, ctx: ctx}, nil
}

// Name returns the module's registry key.
func (m *Module) Name() string { return m.name }

// Source returns the entry point that loaded the module.
func (m *Module) Source() Source { return m.source }

// Handle returns the plugin's module handle.
func (m *Module) Handle() Handle { return m.handle }

// Context returns the module's private reflection context.
func (m *Module) Context() *reflection.Context { return m.ctx }

// callHook invokes the zero-argument hook name if fn resolves it. A missing
// hook, a nil result, or a non-integer result is success. A call that fails
// or panics returned nothing to interpret and reports 1, so a broken hook is
// never mistaken for a clean one.
func callHook(ctx context.Context, fn *reflection.Function) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = 1, fmt.Errorf("hook %s panicked: %v", fn.Name(), r)
		}
	}()

	ret, err := fn.Call(ctx)
	if err != nil {
		return 1, err
	}
	if ret == nil {
		return 0, nil
	}
	if n, ok := reflection.ToInt(ret); ok {
		return n, nil
	}
	return 0, nil
}

// teardownModule runs the module's finalize hook at most once and destroys
// its private context.
func (impl *Impl) teardownModule(ctx context.Context, m *Module) error {
	var hookErr error
	if !m.finalized {
		m.finalized = true
		if fn, ok := m.ctx.Function(FinalizeHook); ok {
			code, err := callHook(ctx, fn)
			if err != nil || code != 0 {
				b := impl.errb().Code(CodeHookFailure).With("module", m.name).With("hook", FinalizeHook).With("result", code)
				if err != nil {
					hookErr = b.Wrap(err)
				} else {
					hookErr = b.Errorf("finalize hook returned %d", code)
				}
				impl.logger.ErrorContext(ctx, "module finalize hook failed",
					"module", m.name,
					"result", code,
					"error", hookErr)
			}
		}
	}

	m.ctx.Destroy()
	m.handle = nil
	return hookErr
}
