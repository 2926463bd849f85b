// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loadersdk_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/polyload/pkg/loadersdk"
	"github.com/holomush/polyload/pkg/loadersdk/loadersdktest"
)

func newClient(t *testing.T, l loadersdk.Loader) *loadersdk.Client {
	t.Helper()
	return loadersdk.NewClient(loadersdktest.Conn(t, l))
}

func TestServeConfig_LoaderRequired(t *testing.T) {
	assert.Panics(t, func() { loadersdk.Serve(&loadersdk.ServeConfig{Loader: nil}) })
}

func TestServeConfig_ConfigRequired(t *testing.T) {
	assert.Panics(t, func() { loadersdk.Serve(nil) })
}

func TestHandshakeConfig(t *testing.T) {
	assert.Equal(t, uint(1), loadersdk.HandshakeConfig.ProtocolVersion)
	assert.Equal(t, "POLYLOAD_LOADER", loadersdk.HandshakeConfig.MagicCookieKey)
	assert.Equal(t, "polyload-v1", loadersdk.HandshakeConfig.MagicCookieValue)
}

func TestGRPCPlugin_ServerRequiresLoader(t *testing.T) {
	p := &loadersdk.GRPCPlugin{}
	assert.Error(t, p.GRPCServer(nil, nil))
}

func TestPluginMap(t *testing.T) {
	m := loadersdk.PluginMap(nil)
	require.Contains(t, m, loadersdk.PluginName)
	assert.IsType(t, &loadersdk.GRPCPlugin{}, m[loadersdk.PluginName])
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mod := &loadersdktest.Module{
		Funcs: []loadersdk.FunctionInfo{
			{Name: "echo"},
			{Name: "answer", Signature: "answer() -> int"},
		},
		Results: map[string]any{"answer": 42.0},
	}
	l := &loadersdktest.Loader{Module: mod}
	c := newClient(t, l)

	require.NoError(t, c.Initialize(ctx, map[string]any{"mode": "strict", "depth": 2}))
	assert.Equal(t, "strict", l.Config()["mode"])
	assert.InDelta(t, 2.0, l.Config()["depth"], 0)

	require.NoError(t, c.ExecutionPath(ctx, "/srv/modules"))
	assert.Equal(t, []string{"/srv/modules"}, l.Paths())

	id, err := c.LoadFromMemory(ctx, "buf", []byte{0x00, 0xff, 'x'})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, []string{"memory:buf:\x00\xffx"}, l.Loads())

	fns, err := c.Discover(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, mod.Funcs, fns)

	got, err := c.Call(ctx, id, "answer", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	got, err = c.Call(ctx, id, "echo", []any{"a", 1, 2.5, true, nil})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", int64(1), 2.5, true, nil}, got)

	require.NoError(t, c.Clear(ctx, id))
	assert.True(t, mod.Closed())

	_, err = c.Discover(ctx, id)
	assert.Error(t, err, "cleared ids are forgotten")

	require.NoError(t, c.Destroy(ctx))
	assert.True(t, l.Destroyed())
}

func TestClient_IDsAreDistinct(t *testing.T) {
	ctx := context.Background()
	l := &loadersdktest.Loader{Module: &loadersdktest.Module{}}
	c := newClient(t, l)

	a, err := c.LoadFromFile(ctx, []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	b, err := c.LoadFromPackage(ctx, "/bundles/x")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, []string{"file:a.txt", "package:/bundles/x"}, l.Loads())
}

func TestClient_LoaderErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	l := &loadersdktest.Loader{Err: errors.New("no such module")}
	c := newClient(t, l)

	_, err := c.LoadFromFile(ctx, []string{"missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such module")
}

func TestClient_NilModuleIsError(t *testing.T) {
	c := newClient(t, &loadersdktest.Loader{})

	_, err := c.LoadFromMemory(context.Background(), "x", []byte("x"))
	assert.Error(t, err)
}

// typedNilLoader hands out a nil *Module behind a non-nil interface.
type typedNilLoader struct {
	loadersdktest.Loader
}

func (l *typedNilLoader) LoadFromMemory(context.Context, string, []byte) (loadersdk.Module, error) {
	var m *loadersdktest.Module
	return m, nil
}

func TestClient_TypedNilModuleIsError(t *testing.T) {
	c := newClient(t, &typedNilLoader{})

	_, err := c.LoadFromMemory(context.Background(), "x", []byte("x"))
	assert.Error(t, err)
}

func TestClient_UnknownModule(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, &loadersdktest.Loader{Module: &loadersdktest.Module{}})

	_, err := c.Call(ctx, 99, "f", nil)
	assert.Error(t, err)
	assert.Error(t, c.Clear(ctx, 99))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"integral", 3.0, int64(3)},
		{"fraction", 2.5, 2.5},
		{"string", "x", "x"},
		{"nested", []any{1.0, map[string]any{"n": 2.0}}, []any{int64(1), map[string]any{"n": int64(2)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loadersdk.Normalize(tt.in))
		})
	}
}
