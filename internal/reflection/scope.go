// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reflection

import (
	"errors"
	"fmt"
)

// ErrDuplicateSymbol is returned when a scope already defines a name.
var ErrDuplicateSymbol = errors.New("symbol already defined")

// Scope holds the functions and types defined by one module.
// Definition order is preserved.
type Scope struct {
	funcs     map[string]*Function
	funcOrder []string
	types     map[string]*Type
	typeOrder []string
}

func newScope() *Scope {
	return &Scope{
		funcs: make(map[string]*Function),
		types: make(map[string]*Type),
	}
}

// Define adds a function to the scope.
func (s *Scope) Define(fn *Function) error {
	if fn == nil || fn.Name() == "" {
		return errors.New("function name cannot be empty")
	}
	if _, ok := s.funcs[fn.Name()]; ok {
		return fmt.Errorf("%w: function %s", ErrDuplicateSymbol, fn.Name())
	}
	s.funcs[fn.Name()] = fn
	s.funcOrder = append(s.funcOrder, fn.Name())
	return nil
}

// DefineType adds a type descriptor to the scope.
func (s *Scope) DefineType(t *Type) error {
	if t == nil || t.Name() == "" {
		return errors.New("type name cannot be empty")
	}
	if _, ok := s.types[t.Name()]; ok {
		return fmt.Errorf("%w: type %s", ErrDuplicateSymbol, t.Name())
	}
	s.types[t.Name()] = t
	s.typeOrder = append(s.typeOrder, t.Name())
	return nil
}

// Function returns the named function defined directly in this scope.
func (s *Scope) Function(name string) (*Function, bool) {
	fn, ok := s.funcs[name]
	return fn, ok
}

// Type returns the named type defined directly in this scope.
func (s *Scope) Type(name string) (*Type, bool) {
	t, ok := s.types[name]
	return t, ok
}

// Functions returns the function names in definition order.
func (s *Scope) Functions() []string {
	out := make([]string, len(s.funcOrder))
	copy(out, s.funcOrder)
	return out
}

// Types returns the type names in definition order.
func (s *Scope) Types() []string {
	out := make([]string, len(s.typeOrder))
	copy(out, s.typeOrder)
	return out
}

// Len returns the number of functions and types in the scope.
func (s *Scope) Len() int {
	return len(s.funcs) + len(s.types)
}
