// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package loadersdktest serves a loader over an in-memory gRPC connection
// so the wire protocol can be tested without launching a process.
package loadersdktest

import (
	"context"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/holomush/polyload/pkg/loadersdk"
)

const bufSize = 1 << 20

// Conn starts a gRPC server for l and returns a client connection to it.
// Both are stopped when the test ends.
func Conn(t testing.TB, l loadersdk.Loader) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	loadersdk.Register(srv, l)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = srv.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		srv.Stop()
		wg.Wait()
		t.Fatalf("dial in-memory loader: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		wg.Wait()
	})
	return conn
}

// Module is an in-memory loadersdk.Module whose functions return fixed
// results or echo their arguments.
type Module struct {
	Name  string
	Funcs []loadersdk.FunctionInfo
	// Results maps function names to fixed results. Functions without an
	// entry return their arguments as a list.
	Results map[string]any

	mu     sync.Mutex
	closed bool
}

// Functions implements loadersdk.Module.
func (m *Module) Functions() []loadersdk.FunctionInfo { return m.Funcs }

// Call implements loadersdk.Module.
func (m *Module) Call(_ context.Context, name string, args []any) (any, error) {
	if r, ok := m.Results[name]; ok {
		return r, nil
	}
	out := make([]any, len(args))
	copy(out, args)
	return out, nil
}

// Close implements loadersdk.Module.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Loader is a recording loadersdk.Loader. Every load returns Module, or
// Err when set.
type Loader struct {
	Module *Module
	Err    error

	mu        sync.Mutex
	config    map[string]any
	paths     []string
	loads     []string
	destroyed bool
}

var _ loadersdk.Loader = (*Loader)(nil)

// Initialize implements loadersdk.Loader.
func (l *Loader) Initialize(_ context.Context, config map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = config
	return l.Err
}

// ExecutionPath implements loadersdk.Loader.
func (l *Loader) ExecutionPath(_ context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
	return l.Err
}

func (l *Loader) load(what string) (loadersdk.Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads = append(l.loads, what)
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Module == nil {
		return nil, nil
	}
	return l.Module, nil
}

// LoadFromFile implements loadersdk.Loader.
func (l *Loader) LoadFromFile(_ context.Context, paths []string) (loadersdk.Module, error) {
	return l.load("file:" + paths[0])
}

// LoadFromMemory implements loadersdk.Loader.
func (l *Loader) LoadFromMemory(_ context.Context, name string, buffer []byte) (loadersdk.Module, error) {
	return l.load("memory:" + name + ":" + string(buffer))
}

// LoadFromPackage implements loadersdk.Loader.
func (l *Loader) LoadFromPackage(_ context.Context, path string) (loadersdk.Module, error) {
	return l.load("package:" + path)
}

// Destroy implements loadersdk.Loader.
func (l *Loader) Destroy(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyed = true
	return nil
}

// Config returns the configuration received by Initialize.
func (l *Loader) Config() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config
}

// Paths returns the execution paths received.
func (l *Loader) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// Loads returns a description of every load request, in order.
func (l *Loader) Loads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loads...)
}

// Destroyed reports whether Destroy was called.
func (l *Loader) Destroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}
