// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// BindFlags controls how a plugin library's symbols are bound.
type BindFlags uint8

// Bind flags. BindNow and BindLazy are mutually exclusive.
const (
	// BindNow resolves every symbol when the library is opened so missing
	// references fail immediately.
	BindNow BindFlags = 1 << iota
	// BindLazy defers symbol resolution until first use.
	BindLazy
	// BindGlobal makes the library's symbols visible to libraries opened later.
	BindGlobal
)

// DefaultBindFlags is eager, process-global binding.
const DefaultBindFlags = BindNow | BindGlobal

// Validate rejects contradictory flag sets.
func (f BindFlags) Validate() error {
	if f&BindNow != 0 && f&BindLazy != 0 {
		return errors.New("bind flags: now and lazy are mutually exclusive")
	}
	if f&(BindNow|BindLazy) == 0 {
		return errors.New("bind flags: one of now or lazy is required")
	}
	return nil
}

// ErrSymbolNotFound is returned by Library.Lookup for unknown symbols.
var ErrSymbolNotFound = errors.New("symbol not found")

// ErrLibraryNotFound is returned by a Binder that cannot locate a library.
var ErrLibraryNotFound = errors.New("library not found")

// Library is a bound plugin library.
type Library interface {
	// Name returns the library name it was opened with.
	Name() string
	// Lookup resolves an exported symbol.
	Lookup(symbol string) (any, error)
	// Close unloads the library. It is called exactly once per bind.
	Close() error
}

// Binder locates and opens plugin libraries.
type Binder interface {
	Open(searchPath, libraryName string, flags BindFlags) (Library, error)
}

// bind opens the library for tag and resolves its interface table. On any
// failure the library, if opened, is closed before returning.
func bind(b Binder, searchPath, tag string, flags BindFlags) (Library, Interface, error) {
	if err := flags.Validate(); err != nil {
		return nil, nil, err
	}

	lib, err := b.Open(searchPath, LibraryName(tag), flags)
	if err != nil {
		return nil, nil, err
	}

	iface, err := resolve(lib, tag)
	if err != nil {
		if closeErr := lib.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", lib.Name(), closeErr))
		}
		return nil, nil, err
	}
	return lib, iface, nil
}

func resolve(lib Library, tag string) (Interface, error) {
	symbol := SymbolName(tag)
	sym, err := lib.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s in %s: %w", symbol, lib.Name(), err)
	}

	var iface Interface
	switch v := sym.(type) {
	case Accessor:
		iface = v()
	case func() Interface:
		iface = v()
	case *Accessor:
		if v != nil && *v != nil {
			iface = (*v)()
		}
	case *func() Interface:
		if v != nil && *v != nil {
			iface = (*v)()
		}
	case *Interface:
		if v != nil {
			iface = *v
		}
	default:
		return nil, fmt.Errorf("symbol %s in %s has unexpected type %T", symbol, lib.Name(), sym)
	}
	if iface == nil {
		return nil, fmt.Errorf("symbol %s in %s returned a nil interface table", symbol, lib.Name())
	}

	if err := checkAPIVersion(iface); err != nil {
		return nil, fmt.Errorf("%s: %w", lib.Name(), err)
	}
	return iface, nil
}

var hostAPIVersion = semver.MustParse(APIVersion)

func checkAPIVersion(iface Interface) error {
	v, ok := iface.(Versioned)
	if !ok {
		return nil
	}
	constraint, err := semver.NewConstraint(APIConstraint)
	if err != nil {
		return err
	}
	got, err := semver.NewVersion(v.APIVersion())
	if err != nil {
		return fmt.Errorf("invalid plugin API version %q: %w", v.APIVersion(), err)
	}
	if !constraint.Check(got) {
		return fmt.Errorf("plugin API version %s incompatible with host %s", got, hostAPIVersion)
	}
	return nil
}

// builtins holds interface tables linked into the host binary.
var (
	builtinsMu sync.RWMutex
	builtins   = make(map[string]Accessor)
)

// Register makes a statically linked plugin available to BuiltinBinder under
// tag. It panics if tag is invalid or already registered, like
// database/sql.Register.
func Register(tag string, accessor Accessor) {
	if err := ValidateTag(tag); err != nil {
		panic("loader: Register: " + err.Error())
	}
	if accessor == nil {
		panic("loader: Register accessor is nil")
	}
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	if _, dup := builtins[tag]; dup {
		panic("loader: Register called twice for tag " + tag)
	}
	builtins[tag] = accessor
}

// Builtins returns the sorted tags of registered built-in plugins.
func Builtins() []string {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	tags := make([]string, 0, len(builtins))
	for tag := range builtins {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func unregister(tag string) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	delete(builtins, tag)
}

// BuiltinBinder binds plugins registered with Register. The search path is
// ignored. Each Open returns an independent library handle.
type BuiltinBinder struct{}

// Open implements Binder.
func (BuiltinBinder) Open(_, libraryName string, _ BindFlags) (Library, error) {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	for tag, accessor := range builtins {
		if LibraryName(tag) == libraryName {
			return &builtinLibrary{name: libraryName, symbol: SymbolName(tag), accessor: accessor}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, libraryName)
}

type builtinLibrary struct {
	name     string
	symbol   string
	accessor Accessor
	mu       sync.Mutex
	closed   bool
}

func (l *builtinLibrary) Name() string { return l.name }

func (l *builtinLibrary) Lookup(symbol string) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("library %s is closed", l.name)
	}
	if symbol != l.symbol {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return l.accessor, nil
}

func (l *builtinLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("library %s already closed", l.name)
	}
	l.closed = true
	return nil
}

// ChainBinder tries each binder in order and returns the first library found.
type ChainBinder []Binder

// Open implements Binder.
func (c ChainBinder) Open(searchPath, libraryName string, flags BindFlags) (Library, error) {
	var errs []error
	for _, b := range c {
		lib, err := b.Open(searchPath, libraryName, flags)
		if err == nil {
			return lib, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s (no binders configured)", ErrLibraryNotFound, libraryName)
	}
	return nil, errors.Join(errs...)
}

// DefaultBinder prefers built-in plugins and falls back to shared libraries.
func DefaultBinder() Binder {
	return ChainBinder{BuiltinBinder{}, DynlinkBinder{}}
}
