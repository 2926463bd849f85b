// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"errors"
	"sync"
)

var (
	errDuplicateEntry  = errors.New("entry already registered")
	errRegistryRelease = errors.New("registry released")
)

// registry is a string-keyed map that remembers insertion order.
type registry[V any] struct {
	entries  map[string]V
	order    []string
	released bool
	mu       sync.RWMutex
}

func newRegistry[V any]() *registry[V] {
	return &registry[V]{entries: make(map[string]V)}
}

// insert adds v under name. An existing entry is left untouched.
func (r *registry[V]) insert(name string, v V) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return errRegistryRelease
	}
	if _, ok := r.entries[name]; ok {
		return errDuplicateEntry
	}
	r.entries[name] = v
	r.order = append(r.order, name)
	return nil
}

func (r *registry[V]) get(name string) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[name]
	return v, ok
}

func (r *registry[V]) remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// names returns entry names in insertion order.
func (r *registry[V]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *registry[V]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// release drops every entry; later inserts fail.
func (r *registry[V]) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.entries = make(map[string]V)
	r.order = nil
}

func (r *registry[V]) isReleased() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.released
}
