// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability decides which host functions a loaded module may call.
//
// Grants are glob patterns compiled with '.' as the segment separator:
//   - '*' matches one segment: "host.log.*" matches "host.log.debug"
//   - '**' matches any number of segments: "host.**" matches "host.fs.read.text"
package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// CodeDenied is the error code returned by Require when a module lacks a capability.
const CodeDenied = "CAPABILITY_DENIED"

type grant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer maps module names to capability grants.
//
// Enforcer is safe for concurrent use. The zero value denies everything.
type Enforcer struct {
	grants   map[string][]grant
	defaults []grant
	mu       sync.RWMutex
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]grant)}
}

func compile(patterns []string) ([]grant, error) {
	out := make([]grant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("capability %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("capability %d (%q): %w", i, pattern, err)
		}
		out[i] = grant{pattern: pattern, glob: g}
	}
	return out, nil
}

// SetGrants replaces the grants of module. Nothing changes if any pattern
// is invalid.
func (e *Enforcer) SetGrants(module string, patterns []string) error {
	if module == "" {
		return errors.New("module name cannot be empty")
	}
	compiled, err := compile(patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]grant)
	}
	e.grants[module] = compiled
	return nil
}

// SetDefaults sets grants applied to modules without their own entry.
func (e *Enforcer) SetDefaults(patterns []string) error {
	compiled, err := compile(patterns)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults = compiled
	return nil
}

// RemoveGrants forgets module. Unknown modules are ignored.
func (e *Enforcer) RemoveGrants(module string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, module)
}

// Grants returns a copy of the patterns granted to module, or nil.
func (e *Enforcer) Grants(module string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	gs, ok := e.grants[module]
	if !ok {
		return nil
	}
	patterns := make([]string, len(gs))
	for i, g := range gs {
		patterns[i] = g.pattern
	}
	return patterns
}

// Modules returns the names of modules with explicit grants, sorted.
func (e *Enforcer) Modules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.grants))
	for name := range e.grants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check reports whether module holds capability. Empty capabilities and
// unknown modules without defaults are denied.
func (e *Enforcer) Check(module, capability string) bool {
	if e == nil || capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	gs, ok := e.grants[module]
	if !ok {
		gs = e.defaults
	}
	for _, g := range gs {
		if g.glob.Match(capability) {
			return true
		}
	}
	return false
}

// Require is Check returning a CAPABILITY_DENIED error on denial.
func (e *Enforcer) Require(module, capability string) error {
	if e.Check(module, capability) {
		return nil
	}
	return oops.In("capability").
		Code(CodeDenied).
		With("module", module).
		With("capability", capability).
		Hint("grant the capability in the bundle manifest or loader config").
		Errorf("module %q lacks capability %q", module, capability)
}
