// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package loadertest provides a scriptable in-process language plugin and
// binder for exercising the loader without a real language runtime.
package loadertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/reflection"
)

// Recorded operation names.
const (
	OpInitialize     = "initialize"
	OpExecutionPath  = "execution_path"
	OpLoadFromFile   = "load_from_file"
	OpLoadFromMemory = "load_from_memory"
	OpLoadFromPkg    = "load_from_package"
	OpDiscover       = "discover"
	OpClear          = "clear"
	OpDestroy        = "destroy"
	OpDataClose      = "data_close"
)

// ModuleSpec describes the symbols Discover registers for a module.
type ModuleSpec struct {
	Functions map[string]reflection.Invoker
	Types     []string
}

// Handle is the module handle returned by Plugin.
type Handle struct {
	Key string
	Seq int
}

// Data is the plugin state returned by Plugin.Initialize.
type Data struct {
	plugin *Plugin
	Scope  *config.Scope
	Host   *loader.Host
}

// Close records the close and returns Plugin.FailDataClose.
func (d *Data) Close() error {
	d.plugin.record(OpDataClose)
	return d.plugin.FailDataClose
}

// Plugin is a loader.Interface whose behavior is set by its fields. Modules
// are looked up by key: the first file path, the package path, or the
// buffer contents. Unknown keys load an empty module.
type Plugin struct {
	Modules map[string]ModuleSpec

	FailInitialize    error
	NilData           bool
	FailExecutionPath error
	FailLoad          error
	NilHandle         bool
	FailDiscover      error
	FailClear         error
	FailDestroy       error
	FailDataClose     error
	PanicOnDestroy    bool

	// OnDiscover runs inside Discover after symbols are defined.
	OnDiscover func(impl *loader.Impl, h *Handle) error

	mu      sync.Mutex
	ops     []string
	paths   []string
	cleared []*Handle
	seq     int
}

var _ loader.Interface = (*Plugin)(nil)

func (p *Plugin) record(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, op)
}

// Ops returns the recorded operation names in call order.
func (p *Plugin) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

// Count returns how many times op was recorded.
func (p *Plugin) Count(op string) int {
	n := 0
	for _, o := range p.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

// Cleared returns handles passed to Clear.
func (p *Plugin) Cleared() []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Handle(nil), p.cleared...)
}

// ExecutionPaths returns the paths passed to ExecutionPath.
func (p *Plugin) ExecutionPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

// Initialize implements loader.Interface.
func (p *Plugin) Initialize(_ *loader.Impl, cfg *config.Scope, host *loader.Host) (loader.Data, error) {
	p.record(OpInitialize)
	if p.FailInitialize != nil {
		return nil, p.FailInitialize
	}
	if p.NilData {
		return nil, nil
	}
	return &Data{plugin: p, Scope: cfg, Host: host}, nil
}

// ExecutionPath implements loader.Interface.
func (p *Plugin) ExecutionPath(_ *loader.Impl, path string) error {
	p.record(OpExecutionPath)
	if p.FailExecutionPath != nil {
		return p.FailExecutionPath
	}
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()
	return nil
}

func (p *Plugin) open(op, key string) (loader.Handle, error) {
	p.record(op)
	if p.FailLoad != nil {
		return nil, p.FailLoad
	}
	if p.NilHandle {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return &Handle{Key: key, Seq: p.seq}, nil
}

// LoadFromFile implements loader.Interface.
func (p *Plugin) LoadFromFile(_ *loader.Impl, paths []string) (loader.Handle, error) {
	return p.open(OpLoadFromFile, paths[0])
}

// LoadFromMemory implements loader.Interface.
func (p *Plugin) LoadFromMemory(_ *loader.Impl, _ string, buffer []byte) (loader.Handle, error) {
	return p.open(OpLoadFromMemory, string(buffer))
}

// LoadFromPackage implements loader.Interface.
func (p *Plugin) LoadFromPackage(_ *loader.Impl, path string) (loader.Handle, error) {
	return p.open(OpLoadFromPkg, path)
}

// Discover implements loader.Interface.
func (p *Plugin) Discover(impl *loader.Impl, handle loader.Handle, ctx *reflection.Context) error {
	p.record(OpDiscover)
	h, ok := handle.(*Handle)
	if !ok {
		return fmt.Errorf("unexpected handle %T", handle)
	}

	def := p.Modules[h.Key]
	names := make([]string, 0, len(def.Functions))
	for name := range def.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ctx.Define(reflection.NewFunction(name, nil, def.Functions[name])); err != nil {
			return err
		}
	}
	for _, name := range def.Types {
		if err := impl.DefineType(name, reflection.NewType(name, reflection.KindObject)); err != nil {
			return err
		}
	}

	if p.OnDiscover != nil {
		if err := p.OnDiscover(impl, h); err != nil {
			return err
		}
	}
	return p.FailDiscover
}

// Clear implements loader.Interface.
func (p *Plugin) Clear(_ *loader.Impl, handle loader.Handle) error {
	p.record(OpClear)
	if h, ok := handle.(*Handle); ok {
		p.mu.Lock()
		p.cleared = append(p.cleared, h)
		p.mu.Unlock()
	}
	return p.FailClear
}

// Destroy implements loader.Interface.
func (p *Plugin) Destroy(_ *loader.Impl) error {
	p.record(OpDestroy)
	if p.PanicOnDestroy {
		panic("plugin destroy exploded")
	}
	return p.FailDestroy
}

// Returning returns an invoker that always yields v.
func Returning(v any) reflection.Invoker {
	return func(context.Context, ...any) (any, error) { return v, nil }
}

// Failing returns an invoker that always fails with err.
func Failing(err error) reflection.Invoker {
	return func(context.Context, ...any) (any, error) { return nil, err }
}

// Counting returns an invoker that yields v and increments *n.
func Counting(n *int, v any) reflection.Invoker {
	var mu sync.Mutex
	return func(context.Context, ...any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		*n++
		return v, nil
	}
}

// Library is an in-memory loader.Library exposing one accessor symbol.
type Library struct {
	name     string
	symbol   string
	accessor any
	CloseErr error

	mu     sync.Mutex
	closes int
}

// Name implements loader.Library.
func (l *Library) Name() string { return l.name }

// Lookup implements loader.Library.
func (l *Library) Lookup(symbol string) (any, error) {
	if symbol != l.symbol {
		return nil, fmt.Errorf("%w: %s", loader.ErrSymbolNotFound, symbol)
	}
	return l.accessor, nil
}

// Close implements loader.Library.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return l.CloseErr
}

// Closes returns how many times Close was called.
func (l *Library) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// Binder hands out Libraries by language tag.
type Binder struct {
	mu        sync.Mutex
	libraries map[string]*Library
}

// NewBinder returns a binder serving plugin under tag.
func NewBinder(tag string, plugin loader.Interface) *Binder {
	b := &Binder{libraries: make(map[string]*Library)}
	b.AddSymbol(tag, loader.Accessor(func() loader.Interface { return plugin }))
	return b
}

// AddSymbol serves an arbitrary accessor value under tag. Tests use it to
// exercise malformed symbols.
func (b *Binder) AddSymbol(tag string, accessor any) *Library {
	lib := &Library{name: loader.LibraryName(tag), symbol: loader.SymbolName(tag), accessor: accessor}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.libraries[lib.name] = lib
	return lib
}

// Library returns the library served under tag.
func (b *Binder) Library(tag string) *Library {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.libraries[loader.LibraryName(tag)]
}

// Open implements loader.Binder.
func (b *Binder) Open(_, libraryName string, _ loader.BindFlags) (loader.Library, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lib, ok := b.libraries[libraryName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", loader.ErrLibraryNotFound, libraryName)
	}
	return lib, nil
}

// ErrBoom is a generic injected failure.
var ErrBoom = errors.New("boom")
