// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/loader/loadertest"
	"github.com/holomush/polyload/internal/reflection"
	"github.com/holomush/polyload/pkg/errutil"
)

const testTag = "fake"

func newImpl(t *testing.T, p *loadertest.Plugin, opts ...loader.Option) (*loader.Impl, *loadertest.Binder) {
	t.Helper()
	b := loadertest.NewBinder(testTag, p)
	opts = append([]loader.Option{loader.WithBinder(b)}, opts...)
	impl, err := loader.New(context.Background(), testTag, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { impl.Destroy(context.Background()) })
	return impl, b
}

func TestNew_InitializesPlugin(t *testing.T) {
	cfg := config.New()
	require.NoError(t, cfg.Set("fake_loader.greeting", "hello"))

	p := &loadertest.Plugin{}
	impl, _ := newImpl(t, p, loader.WithConfig(cfg))

	assert.Equal(t, testTag, impl.Tag())
	assert.NotEmpty(t, impl.ID())
	assert.False(t, impl.IsProxy())
	assert.Same(t, p, impl.Interface())
	assert.Equal(t, testTag, impl.Context().Name())
	assert.Empty(t, impl.Modules())
	assert.Empty(t, impl.Types())

	data, ok := impl.Data().(*loadertest.Data)
	require.True(t, ok)
	assert.Equal(t, "fake_loader", data.Scope.Key())
	assert.Equal(t, "hello", data.Scope.String("greeting"))
	assert.NotNil(t, data.Host)
	assert.Equal(t, []string{loadertest.OpInitialize}, p.Ops())
}

func TestNew_InvalidTag(t *testing.T) {
	for _, tag := range []string{"", "Lua", "1py", "has-dash", "abcdefghijklmnopqr"} {
		t.Run(tag, func(t *testing.T) {
			b := loadertest.NewBinder("fake", &loadertest.Plugin{})
			_, err := loader.New(context.Background(), tag, loader.WithBinder(b))
			errutil.AssertErrorCode(t, err, loader.CodeBindFailure)
		})
	}
}

func TestNew_LibraryNotFound(t *testing.T) {
	b := loadertest.NewBinder("other", &loadertest.Plugin{})
	_, err := loader.New(context.Background(), testTag, loader.WithBinder(b))
	errutil.AssertErrorCode(t, err, loader.CodeBindFailure)
	assert.ErrorIs(t, err, loader.ErrLibraryNotFound)
}

func TestNew_BadSymbolClosesLibrary(t *testing.T) {
	tests := []struct {
		name   string
		symbol any
	}{
		{"wrong type", 42},
		{"nil table", loader.Accessor(func() loader.Interface { return nil })},
		{"incompatible version", loader.Accessor(func() loader.Interface { return versioned{"2.0.0"} })},
		{"unparseable version", loader.Accessor(func() loader.Interface { return versioned{"latest"} })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := loadertest.NewBinder("unused", &loadertest.Plugin{})
			lib := b.AddSymbol(testTag, tt.symbol)

			_, err := loader.New(context.Background(), testTag, loader.WithBinder(b))
			errutil.AssertErrorCode(t, err, loader.CodeBindFailure)
			assert.Equal(t, 1, lib.Closes())
		})
	}
}

func TestNew_CompatibleVersion(t *testing.T) {
	b := loadertest.NewBinder("unused", &loadertest.Plugin{})
	b.AddSymbol(testTag, loader.Accessor(func() loader.Interface { return versioned{"1.4.2"} }))

	impl, err := loader.New(context.Background(), testTag, loader.WithBinder(b))
	require.NoError(t, err)
	assert.True(t, impl.Destroy(context.Background()).OK())
}

func TestNew_InitializeFailureReleasesEverything(t *testing.T) {
	tests := []struct {
		name   string
		plugin *loadertest.Plugin
	}{
		{"error", &loadertest.Plugin{FailInitialize: loadertest.ErrBoom}},
		{"nil data", &loadertest.Plugin{NilData: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := loadertest.NewBinder(testTag, tt.plugin)
			_, err := loader.New(context.Background(), testTag, loader.WithBinder(b))
			errutil.AssertErrorCode(t, err, loader.CodeInitFailure)
			assert.Equal(t, 1, b.Library(testTag).Closes())
			assert.Zero(t, tt.plugin.Count(loadertest.OpDestroy), "plugin destroy is not called for a failed init")
		})
	}
}

func TestNew_InvalidBindFlags(t *testing.T) {
	b := loadertest.NewBinder(testTag, &loadertest.Plugin{})
	_, err := loader.New(context.Background(), testTag,
		loader.WithBinder(b),
		loader.WithBindFlags(loader.BindNow|loader.BindLazy))
	errutil.AssertErrorCode(t, err, loader.CodeBindFailure)
}

func TestNewProxy(t *testing.T) {
	proxy := loader.NewProxy()
	assert.True(t, proxy.IsProxy())
	assert.Equal(t, loader.HostProxyTag, proxy.Tag())
	assert.Nil(t, proxy.Interface())
	assert.Nil(t, proxy.Data())

	require.NoError(t, proxy.RegisterFunction(reflection.NewFunction("host.echo", nil, loadertest.Returning("pong"))))
	err := proxy.RegisterFunction(reflection.NewFunction("host.echo", nil, loadertest.Returning("again")))
	errutil.AssertErrorCode(t, err, loader.CodeRegistryConflict)

	fn, ok := proxy.Context().Function("host.echo")
	require.True(t, ok)
	got, err := fn.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", got)

	err = proxy.LoadFromFile(context.Background(), "a.lua")
	errutil.AssertErrorCode(t, err, loader.CodeLoadFailure)
	errutil.AssertErrorCode(t, proxy.ExecutionPath("/tmp"), loader.CodeLoadFailure)

	report := proxy.Destroy(context.Background())
	assert.True(t, report.OK())
	assert.Equal(t, []loader.Phase{
		loader.PhaseModules,
		loader.PhaseTypes,
		loader.PhaseTypeRegistry,
		loader.PhaseModuleRegistry,
		loader.PhaseContext,
		loader.PhaseRelease,
	}, report.Phases)

	err = proxy.RegisterFunction(reflection.NewFunction("host.late", nil, loadertest.Returning(nil)))
	errutil.AssertErrorCode(t, err, loader.CodeContextDestroyed)
}

func TestRegisterFunction_RejectedOnPluginContext(t *testing.T) {
	impl, _ := newImpl(t, &loadertest.Plugin{})
	err := impl.RegisterFunction(reflection.NewFunction("x", nil, loadertest.Returning(nil)))
	assert.Error(t, err)
}

func TestNewHost_ExposesProxyFunctions(t *testing.T) {
	proxy := loader.NewProxy()
	defer proxy.Destroy(context.Background())
	require.NoError(t, proxy.RegisterFunction(reflection.NewFunction("host.now", nil, loadertest.Returning(1))))

	host := loader.NewHost(proxy, nil)
	p := &loadertest.Plugin{}
	impl, _ := newImpl(t, p, loader.WithHost(host))

	data := impl.Data().(*loadertest.Data)
	require.Same(t, host, data.Host)
	_, ok := data.Host.Functions.Function("host.now")
	assert.True(t, ok)
}

func TestExecutionPath(t *testing.T) {
	p := &loadertest.Plugin{}
	impl, _ := newImpl(t, p)

	require.NoError(t, impl.ExecutionPath("/srv/scripts"))
	assert.Equal(t, []string{"/srv/scripts"}, p.ExecutionPaths())

	p.FailExecutionPath = loadertest.ErrBoom
	errutil.AssertErrorCode(t, impl.ExecutionPath("/nope"), loader.CodeLoadFailure)

	impl.Destroy(context.Background())
	errutil.AssertErrorCode(t, impl.ExecutionPath("/late"), loader.CodeContextDestroyed)
}

func TestDefineType(t *testing.T) {
	impl, _ := newImpl(t, &loadertest.Plugin{})

	require.NoError(t, impl.DefineType("Point", reflection.NewType("Point", reflection.KindObject)))
	err := impl.DefineType("Point", reflection.NewType("Point", reflection.KindMap))
	errutil.AssertErrorCode(t, err, loader.CodeRegistryConflict)
	assert.Error(t, impl.DefineType("", reflection.NewType("x", reflection.KindObject)))
	assert.Error(t, impl.DefineType("Nil", nil))

	typ, ok := impl.Type("Point")
	require.True(t, ok)
	assert.Equal(t, reflection.KindObject, typ.Kind())
	assert.Equal(t, []string{"Point"}, impl.Types())

	impl.Destroy(context.Background())
	err = impl.DefineType("Late", reflection.NewType("Late", reflection.KindObject))
	errutil.AssertErrorCode(t, err, loader.CodeContextDestroyed)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := loader.NewMetrics(reg)

	p := &loadertest.Plugin{}
	b := loadertest.NewBinder(testTag, p)
	impl, err := loader.New(context.Background(), testTag, loader.WithBinder(b), loader.WithMetrics(m))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Contexts.WithLabelValues(testTag)))

	require.NoError(t, impl.LoadFromFile(context.Background(), "a.fake"))
	assert.Error(t, impl.LoadFromFile(context.Background(), "dir/a.fake"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Modules.WithLabelValues(testTag)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoadsTotal.WithLabelValues(testTag, "file", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoadsTotal.WithLabelValues(testTag, "file", loader.CodeRegistryConflict)))

	p.FailDestroy = loadertest.ErrBoom
	impl.Destroy(context.Background())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Modules.WithLabelValues(testTag)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Contexts.WithLabelValues(testTag)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TeardownFailures.WithLabelValues(testTag, string(loader.PhasePluginDestroy))))
}

// versioned is an interface table that declares a contract version.
type versioned struct {
	version string
}

func (v versioned) APIVersion() string { return v.version }

func (versioned) Initialize(*loader.Impl, *config.Scope, *loader.Host) (loader.Data, error) {
	return struct{}{}, nil
}
func (versioned) ExecutionPath(*loader.Impl, string) error { return nil }
func (versioned) LoadFromFile(*loader.Impl, []string) (loader.Handle, error) {
	return nil, nil
}
func (versioned) LoadFromMemory(*loader.Impl, string, []byte) (loader.Handle, error) {
	return nil, nil
}
func (versioned) LoadFromPackage(*loader.Impl, string) (loader.Handle, error) {
	return nil, nil
}
func (versioned) Discover(*loader.Impl, loader.Handle, *reflection.Context) error { return nil }
func (versioned) Clear(*loader.Impl, loader.Handle) error                         { return nil }
func (versioned) Destroy(*loader.Impl) error                                      { return nil }
