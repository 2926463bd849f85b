// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package reflection provides the named-symbol scopes that language plugins
// populate during discovery, and the type descriptors they register.
package reflection

import "sync"

// Kind classifies a type descriptor.
type Kind uint8

// Type kinds.
const (
	KindAny Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindBuffer
	KindArray
	KindMap
	KindFunction
	KindObject
)

var kindNames = [...]string{
	KindAny:      "any",
	KindNull:     "null",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "string",
	KindBuffer:   "buffer",
	KindArray:    "array",
	KindMap:      "map",
	KindFunction: "function",
	KindObject:   "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind returns the kind named name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindAny, false
}

// Type describes a native type owned by a language plugin.
type Type struct {
	name    string
	kind    Kind
	release func()
	once    sync.Once
}

// TypeOption configures a Type.
type TypeOption func(*Type)

// WithRelease sets the callback run when the descriptor is released.
func WithRelease(fn func()) TypeOption {
	return func(t *Type) {
		t.release = fn
	}
}

// NewType creates a type descriptor.
func NewType(name string, kind Kind, opts ...TypeOption) *Type {
	t := &Type{name: name, kind: kind}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// Kind returns the type kind.
func (t *Type) Kind() Kind { return t.kind }

// Release runs the release callback at most once.
func (t *Type) Release() {
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}
