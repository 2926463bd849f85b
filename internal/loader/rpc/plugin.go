// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package rpc is the built-in language plugin for out-of-process loaders.
// Importing it registers the "rpc" tag with the loader.
//
// The loader binary named by the rpc_loader.executable setting is launched
// through HashiCorp go-plugin and every operation is forwarded to it over
// gRPC. Binaries are built with pkg/loadersdk.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/reflection"
	"github.com/holomush/polyload/internal/signature"
	"github.com/holomush/polyload/pkg/loadersdk"
)

// Tag is the language tag served by this plugin.
const Tag = "rpc"

// Defaults for the rpc_loader configuration scope.
const (
	DefaultCallTimeout    = 5 * time.Second
	DefaultConnectRetries = 3
	DefaultRetryBase      = 50 * time.Millisecond
)

func init() {
	loader.Register(Tag, Accessor)
}

// Accessor returns a fresh interface table using real go-plugin clients.
func Accessor() loader.Interface { return NewPlugin(nil) }

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given command.
	NewClient(cmd *exec.Cmd, logger *slog.Logger) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (DefaultClientFactory) NewClient(cmd *exec.Cmd, _ *slog.Logger) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  loadersdk.HandshakeConfig,
		Plugins:          loadersdk.PluginMap(nil),
		Cmd:              cmd,
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		AutoMTLS:         true,
	})
}

// Plugin implements loader.Interface by forwarding to a loader process.
type Plugin struct {
	factory ClientFactory
}

var _ loader.Interface = (*Plugin)(nil)

// NewPlugin returns a plugin using factory, or DefaultClientFactory when
// factory is nil.
func NewPlugin(factory ClientFactory) *Plugin {
	if factory == nil {
		factory = DefaultClientFactory{}
	}
	return &Plugin{factory: factory}
}

type state struct {
	client  PluginClient
	remote  *loadersdk.Client
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	killed bool
}

// Close kills the loader process. Safe to call twice.
func (st *state) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.killed {
		st.killed = true
		st.client.Kill()
	}
	return nil
}

func (st *state) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), st.timeout)
}

func stateOf(impl *loader.Impl) (*state, error) {
	st, ok := impl.Data().(*state)
	if !ok {
		return nil, errors.New("rpc plugin state missing")
	}
	return st, nil
}

type handle struct {
	id uint64
}

func handleOf(h loader.Handle) (*handle, error) {
	hd, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("unexpected handle %T", h)
	}
	return hd, nil
}

// Initialize implements loader.Interface.
func (p *Plugin) Initialize(impl *loader.Impl, cfg *config.Scope, host *loader.Host) (loader.Data, error) {
	errb := oops.In("rpc").With("operation", "initialize")

	executable := cfg.String("executable")
	if executable == "" {
		return nil, errb.With("config_scope", cfg.Key()).Errorf("executable is required")
	}
	retries := cfg.IntOr("connect_retries", DefaultConnectRetries)
	if retries < 0 {
		return nil, errb.With("connect_retries", retries).Errorf("connect_retries cannot be negative")
	}

	logger := impl.Logger()
	if host != nil && host.Logger != nil {
		logger = host.Logger
	}

	cmd := exec.Command(executable, cfg.Strings("args")...) // #nosec G204 -- executable comes from operator configuration
	client := p.factory.NewClient(cmd, logger)

	st := &state{
		client:  client,
		timeout: cfg.DurationOr("call_timeout", DefaultCallTimeout),
		logger:  logger,
	}

	remote, err := dispense(client, uint64(retries)) //nolint:gosec // checked non-negative above
	if err != nil {
		_ = st.Close()
		return nil, errb.With("executable", executable).Hint("failed to connect to loader process").Wrap(err)
	}
	st.remote = remote

	ctx, cancel := st.context()
	defer cancel()
	if err := remote.Initialize(ctx, cfg.Raw()); err != nil {
		_ = st.Close()
		return nil, errb.With("executable", executable).Hint("remote loader initialization failed").Wrap(err)
	}

	logger.Debug("remote loader connected", "executable", executable)
	return st, nil
}

// dispense connects to the loader process, retrying with exponential
// backoff.
func dispense(client PluginClient, retries uint64) (*loadersdk.Client, error) {
	var remote *loadersdk.Client
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(DefaultRetryBase))
	err := retry.Do(context.Background(), backoff, func(_ context.Context) error {
		proto, err := client.Client()
		if err != nil {
			return retry.RetryableError(err)
		}
		raw, err := proto.Dispense(loadersdk.PluginName)
		if err != nil {
			return retry.RetryableError(err)
		}
		c, ok := raw.(*loadersdk.Client)
		if !ok {
			return fmt.Errorf("loader process dispensed %T, not a loader client", raw)
		}
		remote = c
		return nil
	})
	return remote, err
}

// ExecutionPath implements loader.Interface.
func (p *Plugin) ExecutionPath(impl *loader.Impl, path string) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	ctx, cancel := st.context()
	defer cancel()
	return st.remote.ExecutionPath(ctx, path)
}

func (p *Plugin) load(impl *loader.Impl, fn func(context.Context, *loadersdk.Client) (uint64, error)) (loader.Handle, error) {
	st, err := stateOf(impl)
	if err != nil {
		return nil, err
	}
	ctx, cancel := st.context()
	defer cancel()
	id, err := fn(ctx, st.remote)
	if err != nil {
		return nil, err
	}
	return &handle{id: id}, nil
}

// LoadFromFile implements loader.Interface.
func (p *Plugin) LoadFromFile(impl *loader.Impl, paths []string) (loader.Handle, error) {
	return p.load(impl, func(ctx context.Context, c *loadersdk.Client) (uint64, error) {
		return c.LoadFromFile(ctx, paths)
	})
}

// LoadFromMemory implements loader.Interface.
func (p *Plugin) LoadFromMemory(impl *loader.Impl, name string, buffer []byte) (loader.Handle, error) {
	return p.load(impl, func(ctx context.Context, c *loadersdk.Client) (uint64, error) {
		return c.LoadFromMemory(ctx, name, buffer)
	})
}

// LoadFromPackage implements loader.Interface.
func (p *Plugin) LoadFromPackage(impl *loader.Impl, path string) (loader.Handle, error) {
	return p.load(impl, func(ctx context.Context, c *loadersdk.Client) (uint64, error) {
		return c.LoadFromPackage(ctx, path)
	})
}

// Discover implements loader.Interface.
func (p *Plugin) Discover(impl *loader.Impl, h loader.Handle, ctx *reflection.Context) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	hd, err := handleOf(h)
	if err != nil {
		return err
	}

	callCtx, cancel := st.context()
	defer cancel()
	fns, err := st.remote.Discover(callCtx, hd.id)
	if err != nil {
		return err
	}

	used := make(map[string]struct{})
	for _, info := range fns {
		var sig *signature.Signature
		if info.Signature != "" {
			sig, err = signature.Parse(info.Signature)
			if err != nil {
				return fmt.Errorf("function %s: %w", info.Name, err)
			}
			if sig.Name != info.Name {
				return fmt.Errorf("function %s declares signature for %s", info.Name, sig.Name)
			}
		}
		if err := ctx.Define(reflection.NewFunction(info.Name, sig, st.invoker(hd.id, info.Name, sig))); err != nil {
			return err
		}
		if sig == nil {
			continue
		}
		for _, name := range sig.Types() {
			if _, ok := used[name]; ok {
				continue
			}
			used[name] = struct{}{}
			if err := defineType(impl, ctx, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// defineType adds the descriptor for a signature type to the module
// context, registering it with the loader context on first use.
func defineType(impl *loader.Impl, ctx *reflection.Context, name string) error {
	t, ok := impl.Type(name)
	if !ok {
		kind, _ := reflection.ParseKind(name)
		t = reflection.NewType(name, kind)
		if err := impl.DefineType(name, t); err != nil {
			return err
		}
	}
	return ctx.DefineType(t)
}

func (st *state) invoker(id uint64, name string, sig *signature.Signature) reflection.Invoker {
	return func(ctx context.Context, args ...any) (any, error) {
		if sig != nil && len(args) != sig.Arity() {
			return nil, fmt.Errorf("%s expects %d arguments, got %d", name, sig.Arity(), len(args))
		}
		callCtx, cancel := context.WithTimeout(ctx, st.timeout)
		defer cancel()
		return st.remote.Call(callCtx, id, name, args)
	}
}

// Clear implements loader.Interface.
func (p *Plugin) Clear(impl *loader.Impl, h loader.Handle) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	hd, err := handleOf(h)
	if err != nil {
		return err
	}
	ctx, cancel := st.context()
	defer cancel()
	return st.remote.Clear(ctx, hd.id)
}

// Destroy implements loader.Interface. The process is killed even when the
// remote Destroy fails.
func (p *Plugin) Destroy(impl *loader.Impl) error {
	st, err := stateOf(impl)
	if err != nil {
		return err
	}
	ctx, cancel := st.context()
	defer cancel()
	destroyErr := st.remote.Destroy(ctx)
	return errors.Join(destroyErr, st.Close())
}
