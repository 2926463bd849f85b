// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package loadersdk provides the SDK for serving a language loader as an
// out-of-process plugin.
//
// Loader binaries communicate with the host via gRPC using the HashiCorp
// go-plugin framework. The host side is the "rpc" language plugin, which
// launches the binary and forwards every loader operation to it.
//
// Example usage:
//
//	package main
//
//	import "github.com/holomush/polyload/pkg/loadersdk"
//
//	func main() {
//		loadersdk.Serve(&loadersdk.ServeConfig{
//			Loader: &myLoader{},
//		})
//	}
package loadersdk

import (
	"context"
	"errors"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// PluginName is the name the loader is dispensed under.
const PluginName = "loader"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and loaders must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "POLYLOAD_LOADER",
	MagicCookieValue: "polyload-v1",
}

// FunctionInfo describes one function of a remote module.
type FunctionInfo struct {
	// Name is the symbol name.
	Name string
	// Signature is an optional textual signature, e.g. "add(a: int, b: int) -> int".
	Signature string
}

// Module is a module loaded by a remote loader.
type Module interface {
	// Functions lists the functions the module defines.
	Functions() []FunctionInfo
	// Call invokes function name. Arguments and results are JSON-like
	// values: nil, bool, float64, string, []any, map[string]any.
	Call(ctx context.Context, name string, args []any) (any, error)
	// Close releases the module.
	Close() error
}

// Loader is the interface that loader binaries must implement.
type Loader interface {
	// Initialize receives the host's configuration scope for the loader.
	Initialize(ctx context.Context, config map[string]any) error
	// ExecutionPath adds a directory used to resolve relative paths.
	ExecutionPath(ctx context.Context, path string) error
	// LoadFromFile loads one module from one or more files.
	LoadFromFile(ctx context.Context, paths []string) (Module, error)
	// LoadFromMemory loads one module from a buffer.
	LoadFromMemory(ctx context.Context, name string, buffer []byte) (Module, error)
	// LoadFromPackage loads one module from a bundle directory.
	LoadFromPackage(ctx context.Context, path string) (Module, error)
	// Destroy releases everything the loader holds.
	Destroy(ctx context.Context) error
}

// ServeConfig configures the loader server.
type ServeConfig struct {
	// Loader is the loader implementation.
	// Required; Serve will panic if nil.
	Loader Loader
}

// PluginMap returns the go-plugin plugin set for l. The host passes a nil
// loader.
func PluginMap(l Loader) map[string]hashiplug.Plugin {
	return map[string]hashiplug.Plugin{
		PluginName: &GRPCPlugin{Loader: l},
	}
}

// Serve starts the loader server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("loadersdk: config cannot be nil")
	}
	if config.Loader == nil {
		panic("loadersdk: config.Loader cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(config.Loader),
		GRPCServer:      hashiplug.DefaultGRPCServer,
	})
}

// GRPCPlugin implements go-plugin's Plugin interface for gRPC.
type GRPCPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Loader is used by the plugin process (not used by host).
	Loader Loader
}

// GRPCServer registers the loader server (called by plugin process).
func (p *GRPCPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Loader == nil {
		return errors.New("loadersdk: loader is nil")
	}
	Register(s, p.Loader)
	return nil
}

// GRPCClient returns a loader client (called by host process).
func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (any, error) {
	return NewClient(c), nil
}
