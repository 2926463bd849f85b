// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/polyload/pkg/errutil"
)

// previewSize bounds how much of an in-memory buffer is logged.
const previewSize = 10

// LoadFromFile loads one module from paths. The module is named after the
// first path with its extension stripped.
func (impl *Impl) LoadFromFile(ctx context.Context, paths ...string) error {
	name, nameErr := impl.fileName(paths)
	return impl.load(ctx, SourceFile, name, nameErr, func() (Handle, error) {
		impl.logger.DebugContext(ctx, "loading module from files", "module", name, "paths", paths)
		return impl.iface.LoadFromFile(impl, paths)
	})
}

// LoadFromMemory loads one module from buffer. The module name is derived
// from the loader context, the buffer address and its size.
func (impl *Impl) LoadFromMemory(ctx context.Context, buffer []byte) error {
	name, nameErr := impl.bufferName(buffer)
	return impl.load(ctx, SourceMemory, name, nameErr, func() (Handle, error) {
		preview := buffer[:min(len(buffer), previewSize)]
		impl.logger.DebugContext(ctx, "loading module from memory", "module", name, "preview", fmt.Sprintf("%q", preview), "size", len(buffer))
		return impl.iface.LoadFromMemory(impl, name, buffer)
	})
}

// LoadFromPackage loads one module from the packaged bundle at path.
func (impl *Impl) LoadFromPackage(ctx context.Context, path string) error {
	name, nameErr := impl.pathName(path)
	return impl.load(ctx, SourcePackage, name, nameErr, func() (Handle, error) {
		impl.logger.DebugContext(ctx, "loading module from package", "module", name, "path", path)
		return impl.iface.LoadFromPackage(impl, path)
	})
}

func (impl *Impl) fileName(paths []string) (string, error) {
	if len(paths) == 0 {
		return "", impl.errb().Code(CodeLoadFailure).Errorf("no paths given")
	}
	return impl.pathName(paths[0])
}

func (impl *Impl) pathName(path string) (string, error) {
	name := NameFromPath(path)
	if name == "" {
		return "", impl.errb().Code(CodeLoadFailure).With("path", path).Errorf("cannot derive a module name from %q", path)
	}
	return name, impl.checkNameCapacity(name)
}

func (impl *Impl) bufferName(buffer []byte) (string, error) {
	if len(buffer) == 0 {
		return "", impl.errb().Code(CodeLoadFailure).Errorf("empty buffer")
	}
	name := memoryName(impl, buffer)
	return name, impl.checkNameCapacity(name)
}

func (impl *Impl) checkNameCapacity(name string) error {
	if len(name) >= impl.nameCapacity {
		return impl.errb().
			Code(CodeLoadFailure).
			With("module", name).
			With("capacity", impl.nameCapacity).
			Errorf("module name is %d bytes, capacity is %d", len(name), impl.nameCapacity)
	}
	return nil
}

// load runs the module load protocol around invoke, which calls the
// plugin's load operation.
func (impl *Impl) load(ctx context.Context, source Source, name string, nameErr error, invoke func() (Handle, error)) (err error) {
	ctx, span := tracer.Start(ctx, "loader.Load", trace.WithAttributes(
		attribute.String("loader.tag", impl.tag),
		attribute.String("loader.id", impl.id),
		attribute.String("module.source", string(source)),
		attribute.String("module.name", name),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		impl.metrics.observeLoad(impl.tag, source, time.Since(start), err)
	}()

	impl.mu.Lock()
	defer impl.mu.Unlock()

	if impl.destroyed {
		return impl.errb().Code(CodeContextDestroyed).With("module", name).Errorf("loader context destroyed")
	}
	if impl.proxy {
		return impl.errb().Code(CodeLoadFailure).With("module", name).Errorf("host proxy cannot load modules")
	}
	if nameErr != nil {
		return nameErr
	}

	handle, loadErr := invoke()
	if loadErr != nil || handle == nil {
		b := impl.errb().Code(CodeLoadFailure).With("module", name).With("source", source)
		if loadErr != nil {
			err = b.Wrap(loadErr)
		} else {
			err = b.Errorf("plugin returned no module handle")
		}
		errutil.LogErrorContext(ctx, impl.logger, "plugin load failed", err, "module", name)
		return err
	}

	return impl.register(ctx, source, name, handle)
}

// register takes ownership of handle: records the module, discovers its
// symbols, appends it to the aggregate context and runs its initialize hook.
func (impl *Impl) register(ctx context.Context, source Source, name string, handle Handle) error {
	m, err := newModule(name, source, handle)
	if err != nil {
		cause := impl.errb().Code(CodeLoadFailure).With("module", name).Wrap(err)
		return impl.clear(ctx, name, handle, cause)
	}

	if err := impl.modules.insert(name, m); err != nil {
		cause := impl.errb().
			Code(CodeRegistryConflict).
			With("module", name).
			Hint("a module with this name is already loaded").
			Wrap(err)
		return impl.abort(ctx, m, false, cause)
	}

	if err := impl.iface.Discover(impl, handle, m.ctx); err != nil {
		cause := impl.errb().Code(CodeDiscoverFailure).With("module", name).Wrap(err)
		return impl.abort(ctx, m, true, cause)
	}

	if err := impl.ctx.Append(m.ctx); err != nil {
		cause := impl.errb().Code(CodeAppendFailure).With("module", name).Wrap(err)
		return impl.abort(ctx, m, true, cause)
	}

	impl.metrics.moduleAdded(impl.tag)
	impl.logger.DebugContext(ctx, "module loaded",
		"module", name,
		"source", source,
		"functions", len(m.ctx.Functions()))

	return impl.initialize(ctx, name)
}

// initialize runs the initialize hook visible through the aggregate
// context, unless that hook already ran for an earlier module.
func (impl *Impl) initialize(ctx context.Context, name string) error {
	fn, ok := impl.ctx.Function(InitializeHook)
	if !ok {
		return nil
	}
	if _, ran := impl.hooksRun[fn]; ran {
		return nil
	}
	impl.hooksRun[fn] = struct{}{}

	code, err := callHook(ctx, fn)
	if err == nil && code == 0 {
		return nil
	}

	b := impl.errb().
		Code(CodeHookFailure).
		With("module", name).
		With("hook", InitializeHook).
		With("result", code)
	if err != nil {
		err = b.Wrap(err)
	} else {
		err = b.Errorf("initialize hook returned %d", code)
	}
	impl.logger.ErrorContext(ctx, "module initialize hook failed", "module", name, "result", code, "error", err)
	return err
}

// abort undoes a partially registered module and hands its raw handle back
// to the plugin.
func (impl *Impl) abort(ctx context.Context, m *Module, inserted bool, cause error) error {
	handle := m.handle
	if inserted {
		impl.modules.remove(m.name)
	}
	if err := impl.teardownModule(ctx, m); err != nil {
		cause = errors.Join(cause, err)
	}
	return impl.clear(ctx, m.name, handle, cause)
}

func (impl *Impl) clear(ctx context.Context, name string, handle Handle, cause error) error {
	errutil.LogErrorContext(ctx, impl.logger, "module registration failed", cause, "module", name)
	if err := impl.iface.Clear(impl, handle); err != nil {
		clearErr := impl.errb().Code(CodeClearFailure).With("module", name).Wrap(err)
		impl.logger.ErrorContext(ctx, "plugin clear failed", "module", name, "error", clearErr)
		return errors.Join(cause, clearErr)
	}
	return cause
}
