// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build (linux || darwin || freebsd) && cgo

package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync"
)

// DynlinkBinder opens Go shared-object plugins from the search path.
//
// The Go runtime always binds plugin symbols eagerly and process-globally, so
// only flag sets containing BindNow are accepted. Go plugins cannot be
// unmapped; Close releases the host's reference and makes further lookups
// fail.
type DynlinkBinder struct{}

// Open implements Binder.
func (DynlinkBinder) Open(searchPath, libraryName string, flags BindFlags) (Library, error) {
	if flags&BindLazy != 0 {
		return nil, errors.New("dynlink: lazy binding is not supported by Go plugins")
	}

	path := filepath.Join(searchPath, libraryName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, path)
		}
		return nil, fmt.Errorf("cannot access plugin library %s: %w", path, err)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin library %s: %w", path, err)
	}
	return &dynlinkLibrary{name: libraryName, plugin: p}, nil
}

type dynlinkLibrary struct {
	name   string
	plugin *plugin.Plugin
	mu     sync.Mutex
}

func (l *dynlinkLibrary) Name() string { return l.name }

func (l *dynlinkLibrary) Lookup(symbol string) (any, error) {
	l.mu.Lock()
	p := l.plugin
	l.mu.Unlock()
	if p == nil {
		return nil, fmt.Errorf("library %s is closed", l.name)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSymbolNotFound, symbol, err)
	}
	return sym, nil
}

func (l *dynlinkLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.plugin == nil {
		return fmt.Errorf("library %s already closed", l.name)
	}
	l.plugin = nil
	return nil
}
