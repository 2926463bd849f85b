// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// library is a Lua standard library that may be opened in a sandboxed state.
type library struct {
	name string
	fn   lua.LGFunction
}

// safeLibraries maps configuration names to libraries that cannot reach the
// filesystem or the process. os, io, debug and package are never offered.
var safeLibraries = map[string]library{
	"base":      {lua.BaseLibName, lua.OpenBase},
	"table":     {lua.TabLibName, lua.OpenTable},
	"string":    {lua.StringLibName, lua.OpenString},
	"math":      {lua.MathLibName, lua.OpenMath},
	"coroutine": {lua.CoroutineLibName, lua.OpenCoroutine},
}

// DefaultLibraries are opened when the configuration names none.
var DefaultLibraries = []string{"base", "table", "string", "math"}

// unsafeBaseFunctions reach the filesystem or compile arbitrary chunks.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries []library
}

// NewStateFactory creates a factory opening the named libraries.
func NewStateFactory(names []string) (*StateFactory, error) {
	if len(names) == 0 {
		names = DefaultLibraries
	}
	libs := make([]library, 0, len(names))
	for _, name := range names {
		lib, ok := safeLibraries[name]
		if !ok {
			return nil, fmt.Errorf("library %q is not available in the sandbox", name)
		}
		libs = append(libs, lib)
	}
	return &StateFactory{libraries: libs}, nil
}

// NewState creates a fresh state with only the factory's libraries opened
// and the unsafe base functions removed.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	if ctx != nil && ctx.Done() != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
