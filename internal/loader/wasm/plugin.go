// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package wasm is the built-in language plugin for WebAssembly modules,
// backed by wazero. Importing it registers the "wasm" tag with the loader.
//
// Each loader context owns one runtime with WASI and an "env" host module
// instantiated. Exported functions with numeric parameters are discovered
// with signatures derived from their wasm types.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/holomush/polyload/internal/bundle"
	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/reflection"
	"github.com/holomush/polyload/internal/signature"
)

// Tag is the language tag served by this plugin.
const Tag = "wasm"

// HostModule is the import module name of host functions.
const HostModule = "env"

func init() {
	loader.Register(Tag, Accessor)
}

// Accessor returns a fresh interface table.
func Accessor() loader.Interface { return &Plugin{} }

// Plugin implements loader.Interface for WebAssembly.
type Plugin struct{}

var _ loader.Interface = (*Plugin)(nil)

type state struct {
	runtime wazero.Runtime
	logger  *slog.Logger

	mu      sync.Mutex
	paths   []string
	seq     int
	closed  bool
	modules map[*module]struct{}
}

func stateOf(impl *loader.Impl) (*state, error) {
	st, ok := impl.Data().(*state)
	if !ok {
		return nil, errors.New("wasm plugin state missing")
	}
	return st, nil
}

// Close closes the runtime and with it every module. Safe to call twice.
func (st *state) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil
	}
	st.closed = true
	for m := range st.modules {
		m.markClosed()
	}
	st.modules = nil
	return st.runtime.Close(context.Background())
}

type module struct {
	name     string
	compiled wazero.CompiledModule
	instance api.Module
	exports  map[string]*signature.Signature

	mu     sync.Mutex
	closed bool
}

func (m *module) markClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *module) close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return errors.Join(m.instance.Close(ctx), m.compiled.Close(ctx))
}

// Initialize implements loader.Interface.
func (p *Plugin) Initialize(impl *loader.Impl, cfg *config.Scope, host *loader.Host) (loader.Data, error) {
	ctx := context.Background()
	errb := oops.In("wasm").With("operation", "initialize")

	rcfg := wazero.NewRuntimeConfig()
	if pages := cfg.IntOr("memory_limit_pages", 0); pages > 0 {
		if pages > 65536 {
			return nil, errb.With("memory_limit_pages", pages).Errorf("memory_limit_pages cannot exceed 65536")
		}
		rcfg = rcfg.WithMemoryLimitPages(uint32(pages)) //nolint:gosec // bounded above
	}

	st := &state{
		runtime: wazero.NewRuntimeWithConfig(ctx, rcfg),
		logger:  impl.Logger(),
		modules: make(map[*module]struct{}),
	}
	if host != nil && host.Logger != nil {
		st.logger = host.Logger
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, st.runtime); err != nil {
		_ = st.runtime.Close(ctx)
		return nil, errb.Hint("failed to instantiate WASI").Wrap(err)
	}
	if err := st.instantiateHost(ctx); err != nil {
		_ = st.runtime.Close(ctx)
		return nil, errb.Hint("failed to instantiate env module").Wrap(err)
	}

	for _, path := range cfg.Strings("execution_paths") {
		if err := st.addPath(path); err != nil {
			_ = st.runtime.Close(ctx)
			return nil, errb.Wrap(err)
		}
	}
	if err := defineValueTypes(impl); err != nil {
		_ = st.runtime.Close(ctx)
		return nil, errb.Wrap(err)
	}
	return st, nil
}

func (st *state) instantiateHost(ctx context.Context) error {
	_, err := st.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, ptr, length uint32) {
			mem := m.Memory()
			if mem == nil {
				st.logger.Error("log_debug called by module without memory", "module", m.Name())
				return
			}
			data, ok := mem.Read(ptr, length)
			if !ok {
				st.logger.Error("failed to read memory in log_debug", "module", m.Name())
				return
			}
			st.logger.Debug(string(data), "module", m.Name(), "source", "wasm")
		}).
		Export("log_debug").
		Instantiate(ctx)
	return err
}

func (st *state) addPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("execution path %s is not a directory", abs)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.paths = append(st.paths, abs)
	return nil
}

func (st *state) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	st.mu.Lock()
	paths := append([]string(nil), st.paths...)
	st.mu.Unlock()
	for _, dir := range paths {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return path, nil
}

// ExecutionPath implements loader.Interface.
func (p *Plugin) ExecutionPath(impl *loader.Impl, path string) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	return st.addPath(path)
}

// instantiate compiles and instantiates code. Start functions are not run;
// initialization belongs to the module initialize hook.
func (st *state) instantiate(name string, code []byte) (*module, error) {
	ctx := context.Background()

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, errors.New("runtime closed")
	}
	st.seq++
	instanceName := fmt.Sprintf("%s#%d", name, st.seq)
	st.mu.Unlock()

	compiled, err := st.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	instance, err := st.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(instanceName).WithStartFunctions())
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate: %w", err)
	}

	m := &module{name: name, compiled: compiled, instance: instance}
	st.mu.Lock()
	st.modules[m] = struct{}{}
	st.mu.Unlock()
	return m, nil
}

// LoadFromFile implements loader.Interface. A wasm module is a single file.
func (p *Plugin) LoadFromFile(impl *loader.Impl, paths []string) (loader.Handle, error) {
	st, err := stateOf(impl)
	if err != nil {
		return nil, err
	}
	name := loader.NameFromPath(paths[0])
	errb := oops.In("wasm").With("operation", "load_from_file").With("module", name)
	if len(paths) != 1 {
		return nil, errb.Errorf("a wasm module is loaded from exactly one file, got %d", len(paths))
	}

	resolved, err := st.resolve(paths[0])
	if err != nil {
		return nil, errb.Wrap(err)
	}
	code, err := os.ReadFile(filepath.Clean(resolved))
	if err != nil {
		return nil, errb.With("path", resolved).Wrap(err)
	}
	m, err := st.instantiate(name, code)
	if err != nil {
		return nil, errb.With("path", resolved).Wrap(err)
	}
	return m, nil
}

// LoadFromMemory implements loader.Interface.
func (p *Plugin) LoadFromMemory(impl *loader.Impl, name string, buffer []byte) (loader.Handle, error) {
	st, err := stateOf(impl)
	if err != nil {
		return nil, err
	}
	m, err := st.instantiate(name, buffer)
	if err != nil {
		return nil, oops.In("wasm").With("operation", "load_from_memory").With("module", name).Wrap(err)
	}
	return m, nil
}

// LoadFromPackage implements loader.Interface.
func (p *Plugin) LoadFromPackage(impl *loader.Impl, path string) (loader.Handle, error) {
	st, err := stateOf(impl)
	if err != nil {
		return nil, err
	}
	name := loader.NameFromPath(path)
	errb := oops.In("wasm").With("operation", "load_from_package").With("module", name).With("path", path)

	b, err := bundle.Open(path)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	if b.Manifest.Tag != Tag {
		return nil, errb.Errorf("bundle %s targets %q, not %q", b.Manifest.Name, b.Manifest.Tag, Tag)
	}
	sigs, err := b.Manifest.Signatures()
	if err != nil {
		return nil, errb.Wrap(err)
	}

	m, err := st.instantiate(name, b.Source)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	m.exports = make(map[string]*signature.Signature, len(sigs))
	for _, sig := range sigs {
		m.exports[sig.Name] = sig
	}
	return m, nil
}

// Discover implements loader.Interface. The value types used by the
// discovered exports are added to the module's context.
func (p *Plugin) Discover(impl *loader.Impl, handle loader.Handle, ctx *reflection.Context) error {
	m, ok := handle.(*module)
	if !ok {
		return fmt.Errorf("unexpected handle %T", handle)
	}

	defs := m.compiled.ExportedFunctions()
	used := make(map[string]struct{})
	for _, name := range sortedNames(defs) {
		def := defs[name]
		sig, ok := deriveSignature(name, def)
		if !ok {
			if _, declared := m.exports[name]; declared {
				return fmt.Errorf("export %s has a wasm type that cannot be called from the host", name)
			}
			continue
		}
		if declared, ok := m.exports[name]; ok {
			if declared.Arity() != sig.Arity() {
				return fmt.Errorf("export %s declares %d parameters, wasm function takes %d", name, declared.Arity(), sig.Arity())
			}
			sig = declared
		}
		if err := ctx.Define(reflection.NewFunction(name, sig, m.invoker(name, def))); err != nil {
			return err
		}
		for _, types := range [][]api.ValueType{def.ParamTypes(), def.ResultTypes()} {
			for _, vt := range types {
				used[api.ValueTypeName(vt)] = struct{}{}
			}
		}
	}

	for _, name := range sortedKeys(used) {
		t, ok := impl.Type(name)
		if !ok {
			continue
		}
		if err := ctx.DefineType(t); err != nil {
			return err
		}
	}

	for name := range m.exports {
		if _, ok := defs[name]; !ok {
			return fmt.Errorf("exported function %s is not defined", name)
		}
	}
	return nil
}

// invoker calls the exported function name.
func (m *module) invoker(name string, def api.FunctionDefinition) reflection.Invoker {
	params := def.ParamTypes()
	results := def.ResultTypes()
	return func(ctx context.Context, args ...any) (any, error) {
		if len(args) != len(params) {
			return nil, fmt.Errorf("%s expects %d arguments, got %d", name, len(params), len(args))
		}
		raw := make([]uint64, len(args))
		for i, arg := range args {
			v, err := encode(params[i], arg)
			if err != nil {
				return nil, fmt.Errorf("%s argument %d: %w", name, i, err)
			}
			raw[i] = v
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, fmt.Errorf("module %s is closed", m.name)
		}
		fn := m.instance.ExportedFunction(name)
		if fn == nil {
			return nil, fmt.Errorf("%s is not exported", name)
		}
		out, err := fn.Call(ctx, raw...)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 || len(out) == 0 {
			return nil, nil
		}
		return decode(results[0], out[0]), nil
	}
}

// Clear implements loader.Interface.
func (p *Plugin) Clear(impl *loader.Impl, handle loader.Handle) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	m, ok := handle.(*module)
	if !ok {
		return fmt.Errorf("unexpected handle %T", handle)
	}
	st.mu.Lock()
	delete(st.modules, m)
	st.mu.Unlock()
	return m.close(context.Background())
}

// Destroy implements loader.Interface.
func (p *Plugin) Destroy(impl *loader.Impl) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	return st.Close()
}
