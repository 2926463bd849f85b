// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reflection

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// Sentinel errors for context composition.
var (
	// ErrContextDestroyed is returned when operating on a destroyed context.
	ErrContextDestroyed = errors.New("context destroyed")
	// ErrAppendCycle is returned when an append would make a context reachable from itself.
	ErrAppendCycle = errors.New("append would create a cycle")
	// ErrAlreadyAppended is returned when a child is appended twice to the same parent.
	ErrAlreadyAppended = errors.New("context already appended")
)

// Context is a named scope that composes with other contexts by Append.
//
// Appending links a child into the lookup chain; no symbols are copied.
// Lookups check the context's own scope first, then each appended child
// starting from the most recent, so a later module shadows an earlier one.
// A destroyed child is skipped by its parents.
//
// Context is safe for concurrent use.
type Context struct {
	name      string
	scope     *Scope
	children  []*Context
	destroyed bool
	mu        sync.RWMutex
}

// NewContext creates an empty context.
func NewContext(name string) (*Context, error) {
	if name == "" {
		return nil, errors.New("context name cannot be empty")
	}
	return &Context{name: name, scope: newScope()}, nil
}

// Name returns the context name.
func (c *Context) Name() string { return c.name }

// Define adds a function to the context's own scope.
func (c *Context) Define(fn *Function) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrContextDestroyed
	}
	return c.scope.Define(fn)
}

// DefineType adds a type to the context's own scope.
func (c *Context) DefineType(t *Type) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrContextDestroyed
	}
	return c.scope.DefineType(t)
}

// Append links child into this context's lookup chain.
func (c *Context) Append(child *Context) error {
	if child == nil {
		return errors.New("cannot append nil context")
	}
	if child == c || child.reaches(c) {
		return fmt.Errorf("%w: %s into %s", ErrAppendCycle, child.name, c.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrContextDestroyed
	}
	if child.isDestroyed() {
		return fmt.Errorf("%w: %s", ErrContextDestroyed, child.name)
	}
	for _, existing := range c.children {
		if existing == child {
			return fmt.Errorf("%w: %s", ErrAlreadyAppended, child.name)
		}
	}
	c.children = append(c.children, child)
	return nil
}

// Function resolves name through the scope chain.
func (c *Context) Function(name string) (*Function, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return nil, false
	}
	if fn, ok := c.scope.Function(name); ok {
		return fn, true
	}
	for i := len(c.children) - 1; i >= 0; i-- {
		if fn, ok := c.children[i].Function(name); ok {
			return fn, true
		}
	}
	return nil, false
}

// Type resolves a type name through the scope chain.
func (c *Context) Type(name string) (*Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return nil, false
	}
	if t, ok := c.scope.Type(name); ok {
		return t, true
	}
	for i := len(c.children) - 1; i >= 0; i-- {
		if t, ok := c.children[i].Type(name); ok {
			return t, true
		}
	}
	return nil, false
}

// Functions returns every function name visible through the chain, in
// resolution order, without duplicates.
func (c *Context) Functions() []string {
	seen := make(map[string]struct{})
	var names []string
	c.walk(func(s *Scope) {
		for _, n := range s.funcOrder {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	})
	return names
}

// Match returns the visible functions whose names match pattern.
// Pattern syntax is gobwas/glob with '.' as the segment separator.
func (c *Context) Match(pattern string) ([]*Function, error) {
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	var out []*Function
	for _, name := range c.Functions() {
		if !g.Match(name) {
			continue
		}
		if fn, ok := c.Function(name); ok {
			out = append(out, fn)
		}
	}
	return out, nil
}

// Scope returns the context's own scope. Callers must not mutate it
// concurrently with Define.
func (c *Context) Scope() *Scope {
	return c.scope
}

// Destroy releases the context. Parents stop resolving through it.
// Destroy is idempotent.
func (c *Context) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	c.children = nil
	c.scope = newScope()
}

// Destroyed reports whether Destroy has been called.
func (c *Context) Destroyed() bool {
	return c.isDestroyed()
}

func (c *Context) isDestroyed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destroyed
}

// reaches reports whether target is c or is reachable from c's children.
func (c *Context) reaches(target *Context) bool {
	if c == target {
		return true
	}
	c.mu.RLock()
	children := append([]*Context(nil), c.children...)
	c.mu.RUnlock()
	for _, child := range children {
		if child.reaches(target) {
			return true
		}
	}
	return false
}

func (c *Context) walk(fn func(*Scope)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return
	}
	fn(c.scope)
	for i := len(c.children) - 1; i >= 0; i-- {
		c.children[i].walk(fn)
	}
}
