// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/reflection"
	"github.com/holomush/polyload/pkg/errutil"
)

var tracer = otel.Tracer("github.com/holomush/polyload/internal/loader")

// Impl is a loader context: one bound language plugin and everything loaded
// through it. A host-proxy Impl has no plugin and only holds host-native
// functions.
type Impl struct {
	tag     string
	id      string
	proxy   bool
	library Library
	iface   Interface
	data    Data

	modules *registry[*Module]
	types   *registry[*reflection.Type]
	ctx     *reflection.Context

	host         *Host
	logger       *slog.Logger
	metrics      *Metrics
	nameCapacity int

	// hooksRun remembers initialize hooks already invoked so that a hook
	// resolved again through the aggregate context is not re-run.
	hooksRun map[*reflection.Function]struct{}

	// mu serializes load and teardown. Registries carry their own locks so
	// plugins may call back into the Impl while mu is held.
	mu        sync.Mutex
	destroyed bool
}

type options struct {
	binder       Binder
	searchPath   string
	flags        BindFlags
	cfg          *config.Config
	host         *Host
	logger       *slog.Logger
	metrics      *Metrics
	nameCapacity int
}

// Option configures an Impl.
type Option func(*options)

// WithBinder sets the binder used to locate the plugin library.
func WithBinder(b Binder) Option {
	return func(o *options) { o.binder = b }
}

// WithSearchPath sets the directory searched for plugin libraries.
func WithSearchPath(path string) Option {
	return func(o *options) { o.searchPath = path }
}

// WithBindFlags overrides DefaultBindFlags.
func WithBindFlags(flags BindFlags) Option {
	return func(o *options) { o.flags = flags }
}

// WithConfig sets the configuration the plugin's scope is cut from.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithHost sets the host services handed to the plugin.
func WithHost(h *Host) Option {
	return func(o *options) { o.host = h }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records loader activity into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNameCapacity bounds derived module names; a name must be strictly
// shorter than n bytes.
func WithNameCapacity(n int) Option {
	return func(o *options) { o.nameCapacity = n }
}

func buildOptions(opts []Option) options {
	o := options{
		binder:       DefaultBinder(),
		flags:        DefaultBindFlags,
		logger:       slog.Default(),
		nameCapacity: NameSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newImpl(tag string, proxy bool, o options) *Impl {
	impl := &Impl{
		tag:          tag,
		id:           ulid.Make().String(),
		proxy:        proxy,
		modules:      newRegistry[*Module](),
		types:        newRegistry[*reflection.Type](),
		metrics:      o.metrics,
		nameCapacity: o.nameCapacity,
		hooksRun:     make(map[*reflection.Function]struct{}),
	}
	impl.logger = o.logger.With("tag", tag, "loader_id", impl.id)
	return impl
}

// NewProxy creates a host-proxy loader context. It binds no plugin; host
// code registers native functions with RegisterFunction and hands the proxy
// to plugins through NewHost.
func NewProxy(opts ...Option) *Impl {
	o := buildOptions(opts)
	impl := newImpl(HostProxyTag, true, o)
	// HostProxyTag is non-empty, so NewContext cannot fail.
	impl.ctx, _ = reflection.NewContext(HostProxyTag)
	impl.host = o.host
	if impl.host == nil {
		impl.host = &Host{Logger: impl.logger}
	}
	impl.logger.Debug("host proxy created")
	return impl
}

// New binds the plugin for tag and initializes it.
//
// On failure nothing is left behind: whatever was built is released in
// reverse order and the bound library, if any, is closed.
func New(ctx context.Context, tag string, opts ...Option) (_ *Impl, err error) {
	ctx, span := tracer.Start(ctx, "loader.New", trace.WithAttributes(attribute.String("loader.tag", tag)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	o := buildOptions(opts)
	impl := newImpl(tag, false, o)
	span.SetAttributes(attribute.String("loader.id", impl.id))

	if err := ValidateTag(tag); err != nil {
		return nil, impl.errb().Code(CodeBindFailure).Hint("invalid language tag").Wrap(err)
	}

	lib, iface, err := bind(o.binder, o.searchPath, tag, o.flags)
	if err != nil {
		err = impl.errb().
			Code(CodeBindFailure).
			With("library", LibraryName(tag)).
			With("search_path", o.searchPath).
			Hint("is the plugin built and registered or on the search path?").
			Wrap(err)
		errutil.LogErrorContext(ctx, impl.logger, "plugin bind failed", err)
		return nil, err
	}
	impl.library = lib
	impl.iface = iface

	actx, err := reflection.NewContext(tag)
	if err != nil {
		impl.releaseAfterFailedInit(ctx)
		return nil, impl.errb().Code(CodeInitFailure).Wrap(err)
	}
	impl.ctx = actx

	impl.host = o.host
	if impl.host == nil {
		impl.host = &Host{Logger: impl.logger}
	}

	scope := o.cfg.LoaderScope(tag)
	data, initErr := iface.Initialize(impl, scope, impl.host)
	if initErr != nil || data == nil {
		b := impl.errb().Code(CodeInitFailure).With("config_scope", scope.Key())
		if initErr != nil {
			err = b.Wrap(initErr)
		} else {
			err = b.Errorf("plugin returned no data")
		}
		errutil.LogErrorContext(ctx, impl.logger, "plugin initialization failed", err)
		impl.releaseAfterFailedInit(ctx)
		return nil, err
	}
	impl.data = data

	impl.metrics.contextCreated(tag)
	impl.logger.DebugContext(ctx, "loader context initialized", "library", lib.Name())
	return impl, nil
}

// releaseAfterFailedInit undoes construction in reverse order.
func (impl *Impl) releaseAfterFailedInit(ctx context.Context) {
	impl.releaseTypes()
	impl.types.release()
	impl.modules.release()
	if impl.ctx != nil {
		impl.ctx.Destroy()
	}
	if err := impl.library.Close(); err != nil {
		impl.logger.WarnContext(ctx, "failed to close plugin library", "library", impl.library.Name(), "error", err)
	}
	impl.destroyed = true
}

func (impl *Impl) releaseTypes() {
	for _, name := range impl.types.names() {
		if t, ok := impl.types.get(name); ok {
			t.Release()
		}
	}
}

// Tag returns the language tag.
func (impl *Impl) Tag() string { return impl.tag }

// ID returns the unique loader context id.
func (impl *Impl) ID() string { return impl.id }

// IsProxy reports whether impl is a host-proxy context.
func (impl *Impl) IsProxy() bool { return impl.proxy }

// Data returns the plugin-private state, or nil for a proxy.
func (impl *Impl) Data() Data { return impl.data }

// Interface returns the bound interface table, or nil for a proxy.
func (impl *Impl) Interface() Interface { return impl.iface }

// Context returns the aggregate reflection context. Loaded modules are
// appended to it; on a proxy it holds the host-native functions.
func (impl *Impl) Context() *reflection.Context { return impl.ctx }

// Host returns the host services handed to the plugin.
func (impl *Impl) Host() *Host { return impl.host }

// Logger returns the context's logger.
func (impl *Impl) Logger() *slog.Logger { return impl.logger }

// Module returns the loaded module registered under name.
func (impl *Impl) Module(name string) (*Module, bool) {
	return impl.modules.get(name)
}

// Modules returns loaded module names in load order.
func (impl *Impl) Modules() []string {
	return impl.modules.names()
}

// DefineType registers a type descriptor under name.
func (impl *Impl) DefineType(name string, t *reflection.Type) error {
	if name == "" || t == nil {
		return impl.errb().With("type", name).Errorf("type name and descriptor are required")
	}
	if impl.types.isReleased() {
		return impl.errb().Code(CodeContextDestroyed).With("type", name).Errorf("type registry released")
	}
	if err := impl.types.insert(name, t); err != nil {
		return impl.errb().Code(CodeRegistryConflict).With("type", name).Wrapf(err, "define type %s", name)
	}
	return nil
}

// Type returns the type descriptor registered under name.
func (impl *Impl) Type(name string) (*reflection.Type, bool) {
	return impl.types.get(name)
}

// Types returns registered type names in definition order.
func (impl *Impl) Types() []string {
	return impl.types.names()
}

// RegisterFunction adds a host-native function to a proxy context.
func (impl *Impl) RegisterFunction(fn *reflection.Function) error {
	if !impl.proxy {
		return impl.errb().Errorf("host functions can only be registered on a host proxy")
	}
	if err := impl.ctx.Define(fn); err != nil {
		code := CodeRegistryConflict
		if impl.ctx.Destroyed() {
			code = CodeContextDestroyed
		}
		return impl.errb().Code(code).With("function", fn.Name()).Wrap(err)
	}
	return nil
}

// ExecutionPath adds a directory the plugin uses to resolve relative paths.
func (impl *Impl) ExecutionPath(path string) error {
	impl.mu.Lock()
	defer impl.mu.Unlock()
	if impl.destroyed {
		return impl.errb().Code(CodeContextDestroyed).Errorf("loader context destroyed")
	}
	if impl.proxy {
		return impl.errb().Code(CodeLoadFailure).Errorf("host proxy has no execution paths")
	}
	if err := impl.iface.ExecutionPath(impl, path); err != nil {
		return impl.errb().Code(CodeLoadFailure).With("path", path).Wrap(err)
	}
	return nil
}
