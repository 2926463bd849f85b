// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/reflection"
)

type nopPlugin struct{}

func (nopPlugin) Initialize(*Impl, *config.Scope, *Host) (Data, error) { return struct{}{}, nil }
func (nopPlugin) ExecutionPath(*Impl, string) error                    { return nil }
func (nopPlugin) LoadFromFile(*Impl, []string) (Handle, error)         { return "h", nil }
func (nopPlugin) LoadFromMemory(*Impl, string, []byte) (Handle, error) { return "h", nil }
func (nopPlugin) LoadFromPackage(*Impl, string) (Handle, error)        { return "h", nil }
func (nopPlugin) Discover(*Impl, Handle, *reflection.Context) error    { return nil }
func (nopPlugin) Clear(*Impl, Handle) error                            { return nil }
func (nopPlugin) Destroy(*Impl) error                                  { return nil }

func TestBindFlags_Validate(t *testing.T) {
	assert.NoError(t, DefaultBindFlags.Validate())
	assert.NoError(t, (BindLazy | BindGlobal).Validate())
	assert.Error(t, (BindNow | BindLazy).Validate())
	assert.Error(t, BindGlobal.Validate())
}

func TestRegister_BuiltinBinderRoundTrip(t *testing.T) {
	Register("nopbuiltin", func() Interface { return nopPlugin{} })
	t.Cleanup(func() { unregister("nopbuiltin") })

	assert.Contains(t, Builtins(), "nopbuiltin")

	impl, err := New(context.Background(), "nopbuiltin", WithBinder(BuiltinBinder{}))
	require.NoError(t, err)
	require.NoError(t, impl.LoadFromFile(context.Background(), "x.nop"))

	report := impl.Destroy(context.Background())
	assert.True(t, report.OK())
}

func TestRegister_Panics(t *testing.T) {
	Register("nopdup", func() Interface { return nopPlugin{} })
	t.Cleanup(func() { unregister("nopdup") })

	assert.Panics(t, func() { Register("nopdup", func() Interface { return nopPlugin{} }) })
	assert.Panics(t, func() { Register("Bad-Tag", func() Interface { return nopPlugin{} }) })
	assert.Panics(t, func() { Register("nopnil", nil) })
}

func TestBuiltinLibrary_ClosedLibraryRejectsLookup(t *testing.T) {
	Register("nopclose", func() Interface { return nopPlugin{} })
	t.Cleanup(func() { unregister("nopclose") })

	lib, err := BuiltinBinder{}.Open("", LibraryName("nopclose"), DefaultBindFlags)
	require.NoError(t, err)

	_, err = lib.Lookup("Other")
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	require.NoError(t, lib.Close())
	assert.Error(t, lib.Close())
	_, err = lib.Lookup(SymbolName("nopclose"))
	assert.Error(t, err)
}

type failingBinder struct{ err error }

func (f failingBinder) Open(string, string, BindFlags) (Library, error) { return nil, f.err }

func TestChainBinder(t *testing.T) {
	Register("nopchain", func() Interface { return nopPlugin{} })
	t.Cleanup(func() { unregister("nopchain") })

	first := errors.New("first")
	chain := ChainBinder{failingBinder{first}, BuiltinBinder{}}
	lib, err := chain.Open("", LibraryName("nopchain"), DefaultBindFlags)
	require.NoError(t, err)
	assert.Equal(t, LibraryName("nopchain"), lib.Name())

	_, err = ChainBinder{failingBinder{first}}.Open("", "libx.so", DefaultBindFlags)
	assert.ErrorIs(t, err, first)

	_, err = ChainBinder{}.Open("", "libx.so", DefaultBindFlags)
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}

func TestResolve_SymbolShapes(t *testing.T) {
	var table Interface = nopPlugin{}
	accessor := Accessor(func() Interface { return nopPlugin{} })
	plain := func() Interface { return nopPlugin{} }

	for name, sym := range map[string]any{
		"accessor":         accessor,
		"func":             plain,
		"accessor pointer": &accessor,
		"func pointer":     &plain,
		"table pointer":    &table,
	} {
		t.Run(name, func(t *testing.T) {
			iface, err := resolve(symbolLibrary{sym: sym}, "shape")
			require.NoError(t, err)
			assert.NotNil(t, iface)
		})
	}
}

type symbolLibrary struct{ sym any }

func (symbolLibrary) Name() string                 { return "symbol" }
func (s symbolLibrary) Lookup(string) (any, error) { return s.sym, nil }
func (symbolLibrary) Close() error                 { return nil }
