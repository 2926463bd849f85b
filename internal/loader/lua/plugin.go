// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua is the built-in language plugin for Lua 5.1 sources, backed by
// gopher-lua. Importing it registers the "lua" tag with the loader.
//
// Every module runs in its own sandboxed state. Global functions defined by
// a module are discovered as reflection functions; host functions are
// reachable through the global "host" table, gated by capabilities of the
// form "host.<name>".
package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/polyload/internal/bundle"
	"github.com/holomush/polyload/internal/capability"
	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/reflection"
	"github.com/holomush/polyload/internal/signature"
)

// Tag is the language tag served by this plugin.
const Tag = "lua"

// DefaultCallTimeout bounds a single call into a module.
const DefaultCallTimeout = 5 * time.Second

func init() {
	loader.Register(Tag, Accessor)
}

// Accessor returns a fresh interface table.
func Accessor() loader.Interface { return &Plugin{} }

// Plugin implements loader.Interface for Lua. All state lives in the Data
// returned by Initialize.
type Plugin struct{}

var _ loader.Interface = (*Plugin)(nil)

// state is the per-loader-context plugin data.
type state struct {
	factory     *StateFactory
	callTimeout time.Duration
	functions   *reflection.Context
	aggregate   *reflection.Context
	enforcer    *capability.Enforcer
	logger      *slog.Logger

	mu      sync.Mutex
	paths   []string
	modules map[*module]struct{}
}

func stateOf(impl *loader.Impl) (*state, error) {
	st, ok := impl.Data().(*state)
	if !ok {
		return nil, errors.New("lua plugin state missing")
	}
	return st, nil
}

// Close closes every module state still open. It is safe to call twice.
func (st *state) Close() error {
	st.mu.Lock()
	mods := make([]*module, 0, len(st.modules))
	for m := range st.modules {
		mods = append(mods, m)
	}
	st.modules = make(map[*module]struct{})
	st.mu.Unlock()

	for _, m := range mods {
		st.release(m)
	}
	return nil
}

func (st *state) track(m *module) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.modules[m] = struct{}{}
}

func (st *state) forget(m *module) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.modules, m)
}

func (st *state) release(m *module) {
	m.close()
	if m.granted {
		st.enforcer.RemoveGrants(m.name)
	}
}

// module is the handle of one loaded Lua module.
type module struct {
	name     string
	L        *lua.LState
	baseline map[string]struct{}
	exports  map[string]*signature.Signature
	grants   []string
	granted  bool

	mu     sync.Mutex
	closed bool
}

func (m *module) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.L.Close()
}

// Initialize implements loader.Interface.
func (p *Plugin) Initialize(impl *loader.Impl, cfg *config.Scope, host *loader.Host) (loader.Data, error) {
	errb := oops.In("lua").With("operation", "initialize")

	factory, err := NewStateFactory(cfg.Strings("libraries"))
	if err != nil {
		return nil, errb.Wrap(err)
	}

	st := &state{
		factory:     factory,
		callTimeout: cfg.DurationOr("call_timeout", DefaultCallTimeout),
		logger:      impl.Logger(),
		aggregate:   impl.Context(),
		modules:     make(map[*module]struct{}),
	}
	if host != nil {
		st.functions = host.Functions
		st.enforcer = host.Capabilities
		if host.Logger != nil {
			st.logger = host.Logger.With("tag", Tag)
		}
	}
	if st.enforcer == nil {
		st.enforcer = capability.NewEnforcer()
	}
	if cfg.Exists("capabilities") {
		if err := st.enforcer.SetDefaults(cfg.Strings("capabilities")); err != nil {
			return nil, errb.With("key", "capabilities").Wrap(err)
		}
	}

	for _, path := range cfg.Strings("execution_paths") {
		if err := st.addPath(path); err != nil {
			return nil, errb.Wrap(err)
		}
	}
	if err := defineValueTypes(impl); err != nil {
		return nil, errb.Wrap(err)
	}
	return st, nil
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

// resolve finds path directly or under one of the execution paths.
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
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s not found in execution paths: %w", path, err)
	}
	return filepath.Abs(path)
}

// ExecutionPath implements loader.Interface.
func (p *Plugin) ExecutionPath(impl *loader.Impl, path string) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	return st.addPath(path)
}

// newModule prepares a sandboxed state with the host table installed.
func (st *state) newModule(name string) (*module, error) {
	L, err := st.factory.NewState(context.Background())
	if err != nil {
		return nil, err
	}
	m := &module{name: name, L: L}
	st.installHost(m)
	st.link(m)
	m.baseline = globals(L)
	return m, nil
}

// link makes functions of other modules loaded by the same context callable
// as globals. Names the module defines itself always win.
func (st *state) link(m *module) {
	if st.aggregate == nil {
		return
	}
	L := m.L
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		key, ok := L.Get(2).(lua.LString)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		fn, ok := st.aggregate.Function(string(key))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(L.NewFunction(func(L *lua.LState) int {
			return callFunction(L, string(key), fn)
		}))
		return 1
	}))
	L.SetMetatable(L.Get(lua.GlobalsIndex), mt)
}

// run executes one chunk in the module state.
func (m *module) run(chunk string, src []byte) error {
	fn, err := m.L.Load(bytes.NewReader(src), chunk)
	if err != nil {
		return err
	}
	m.L.Push(fn)
	return m.L.PCall(0, lua.MultRet, nil)
}

// LoadFromFile implements loader.Interface.
func (p *Plugin) LoadFromFile(impl *loader.Impl, paths []string) (loader.Handle, error) {
	st, err := stateOf(impl)
	if err != nil {
		return nil, err
	}
	name := loader.NameFromPath(paths[0])
	errb := oops.In("lua").With("operation", "load_from_file").With("module", name)

	m, err := st.newModule(name)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	for _, path := range paths {
		resolved, err := st.resolve(path)
		if err != nil {
			m.close()
			return nil, errb.With("path", path).Wrap(err)
		}
		src, err := os.ReadFile(filepath.Clean(resolved))
		if err != nil {
			m.close()
			return nil, errb.With("path", resolved).Wrap(err)
		}
		if err := m.run(resolved, src); err != nil {
			m.close()
			return nil, errb.With("path", resolved).Hint("lua execution failed").Wrap(err)
		}
	}
	st.track(m)
	return m, nil
}

// LoadFromMemory implements loader.Interface.
func (p *Plugin) LoadFromMemory(impl *loader.Impl, name string, buffer []byte) (loader.Handle, error) {
	st, err := stateOf(impl)
	if err != nil {
		return nil, err
	}
	m, err := st.newModule(name)
	if err != nil {
		return nil, oops.In("lua").With("module", name).Wrap(err)
	}
	if err := m.run(name, buffer); err != nil {
		m.close()
		return nil, oops.In("lua").With("operation", "load_from_memory").With("module", name).Wrap(err)
	}
	st.track(m)
	return m, nil
}

// LoadFromPackage implements loader.Interface.
func (p *Plugin) LoadFromPackage(impl *loader.Impl, path string) (loader.Handle, error) {
	st, err := stateOf(impl)
	if err != nil {
		return nil, err
	}
	name := loader.NameFromPath(path)
	errb := oops.In("lua").With("operation", "load_from_package").With("module", name).With("path", path)

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

	m, err := st.newModule(name)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	m.exports = make(map[string]*signature.Signature, len(sigs))
	for _, sig := range sigs {
		m.exports[sig.Name] = sig
	}
	m.grants = b.Manifest.Capabilities

	if err := m.run(b.EntryPath, b.Source); err != nil {
		m.close()
		return nil, errb.With("entry", b.Manifest.Entry).Wrap(err)
	}
	st.track(m)
	return m, nil
}

// Discover implements loader.Interface. Grants declared by a bundle take
// effect here, once the module owns its name.
func (p *Plugin) Discover(impl *loader.Impl, handle loader.Handle, ctx *reflection.Context) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	m, ok := handle.(*module)
	if !ok {
		return fmt.Errorf("unexpected handle %T", handle)
	}

	if m.grants != nil {
		if err := st.enforcer.SetGrants(m.name, m.grants); err != nil {
			return oops.In("lua").With("module", m.name).Wrap(err)
		}
		m.granted = true
	}

	m.mu.Lock()
	names := globalFunctions(m.L, m.baseline)
	m.mu.Unlock()

	defined := make(map[string]struct{}, len(names))
	for _, name := range names {
		sig := m.exports[name]
		if err := ctx.Define(reflection.NewFunction(name, sig, st.invoker(m, name, sig))); err != nil {
			return err
		}
		defined[name] = struct{}{}
	}
	for name := range m.exports {
		if _, ok := defined[name]; !ok {
			return oops.In("lua").With("module", m.name).With("function", name).Errorf("exported function %s is not defined", name)
		}
	}
	return nil
}

// heldKey carries the modules locked by the calls on the current chain.
type heldKey struct{}

type held struct {
	m    *module
	next *held
}

func holding(ctx context.Context, m *module) bool {
	for h, _ := ctx.Value(heldKey{}).(*held); h != nil; h = h.next {
		if h.m == m {
			return true
		}
	}
	return false
}

// invoker calls the global function name in m. A call that re-enters a
// module already held further up the same call chain runs without taking
// its lock again.
func (st *state) invoker(m *module, name string, sig *signature.Signature) reflection.Invoker {
	return func(ctx context.Context, args ...any) (any, error) {
		if sig != nil && len(args) != sig.Arity() {
			return nil, fmt.Errorf("%s expects %d arguments, got %d", sig.Name, sig.Arity(), len(args))
		}

		if !holding(ctx, m) {
			m.mu.Lock()
			defer m.mu.Unlock()
			parent, _ := ctx.Value(heldKey{}).(*held)
			ctx = context.WithValue(ctx, heldKey{}, &held{m: m, next: parent})
		}
		if m.closed {
			return nil, fmt.Errorf("module %s is closed", m.name)
		}

		callCtx, cancel := context.WithTimeout(ctx, st.callTimeout)
		defer cancel()
		prev := m.L.Context()
		m.L.SetContext(callCtx)
		defer func() {
			if prev != nil {
				m.L.SetContext(prev)
			} else {
				m.L.RemoveContext()
			}
		}()

		fn := m.L.GetGlobal(name)
		if fn.Type() != lua.LTFunction {
			return nil, fmt.Errorf("%s is no longer a function", name)
		}
		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			largs[i] = toLua(m.L, a)
		}
		if err := m.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
			return nil, err
		}
		ret := m.L.Get(-1)
		m.L.Pop(1)
		return fromLua(ret), nil
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
	st.forget(m)
	st.release(m)
	return nil
}

// Destroy implements loader.Interface.
func (p *Plugin) Destroy(impl *loader.Impl) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	return st.Close()
}
