// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package loader binds language plugins at runtime and drives them through a
// uniform module-loading protocol.
//
// A loader context (Impl) is created per language tag. It binds the plugin's
// interface table, owns a module registry, a type registry and an aggregate
// reflection context, and tears all of them down in a fixed order.
//
// Load calls on one Impl are serialized by the Impl itself. Different Impls
// share nothing mutable and may be used concurrently.
package loader

import (
	"log/slog"

	"github.com/holomush/polyload/internal/capability"
	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/reflection"
)

// APIVersion is the version of the interface table contract implemented by
// this host. Plugins reporting a version must satisfy APIConstraint.
const (
	APIVersion    = "1.0.0"
	APIConstraint = "^1.0.0"
)

// Handle is a plugin-owned module handle. It is opaque to the host.
type Handle any

// Data is the plugin-private state returned by Initialize. It is opaque to
// the host; if it implements io.Closer it is closed after the plugin's
// Destroy returns.
type Data any

// Interface is the operation table exported by a language plugin.
//
// Every method receives the calling loader context. Returning a non-nil
// error, or a nil Handle/Data where one is expected, is a failure.
type Interface interface {
	// Initialize prepares the plugin for this loader context.
	Initialize(impl *Impl, cfg *config.Scope, host *Host) (Data, error)

	// ExecutionPath adds a directory used to resolve relative load paths.
	ExecutionPath(impl *Impl, path string) error

	// LoadFromFile loads one module from one or more source files.
	LoadFromFile(impl *Impl, paths []string) (Handle, error)

	// LoadFromMemory loads one module from an in-memory buffer.
	LoadFromMemory(impl *Impl, name string, buffer []byte) (Handle, error)

	// LoadFromPackage loads one module from a packaged bundle.
	LoadFromPackage(impl *Impl, path string) (Handle, error)

	// Discover registers the module's functions and types into ctx.
	Discover(impl *Impl, handle Handle, ctx *reflection.Context) error

	// Clear releases a module handle the host could not take ownership of.
	Clear(impl *Impl, handle Handle) error

	// Destroy releases everything the plugin holds for this loader context.
	Destroy(impl *Impl) error
}

// Versioned is implemented by interface tables that declare the contract
// version they were built against.
type Versioned interface {
	APIVersion() string
}

// Accessor is the signature of the symbol a plugin library exports.
type Accessor func() Interface

// Host carries the services the host offers to plugins.
type Host struct {
	// Logger is the base logger plugins should derive from.
	Logger *slog.Logger
	// Functions holds host-native functions, usually the context of a
	// host-proxy Impl. May be nil.
	Functions *reflection.Context
	// Capabilities gates which host functions a module may call. May be nil,
	// in which case plugins apply their own defaults.
	Capabilities *capability.Enforcer
}

// NewHost returns a Host exposing the functions registered on proxy.
func NewHost(proxy *Impl, enforcer *capability.Enforcer) *Host {
	h := &Host{Logger: slog.Default(), Capabilities: enforcer}
	if proxy != nil {
		h.Logger = proxy.Logger()
		h.Functions = proxy.Context()
	}
	return h
}
