// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/holomush/polyload/internal/bundle"
	"github.com/holomush/polyload/internal/signature"
	"github.com/holomush/polyload/pkg/loadersdk"
)

// Tag is the bundle tag the echo loader accepts.
const Tag = "rpc"

type echoLoader struct {
	mu     sync.Mutex
	paths  []string
	prefix string
}

func newEchoLoader() *echoLoader {
	return &echoLoader{}
}

// Initialize reads the optional "prefix" setting, prepended to string
// results.
func (l *echoLoader) Initialize(_ context.Context, config map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := config["prefix"].(string); ok {
		l.prefix = p
	}
	return nil
}

func (l *echoLoader) ExecutionPath(_ context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("execution path %s is not a directory", path)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
	return nil
}

func (l *echoLoader) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, dir := range l.paths {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}

func (l *echoLoader) LoadFromFile(_ context.Context, paths []string) (loadersdk.Module, error) {
	var all []byte
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Clean(l.resolve(p)))
		if err != nil {
			return nil, err
		}
		all = append(all, data...)
		all = append(all, '\n')
	}
	return l.parse(all)
}

func (l *echoLoader) LoadFromMemory(_ context.Context, _ string, buffer []byte) (loadersdk.Module, error) {
	return l.parse(buffer)
}

func (l *echoLoader) LoadFromPackage(_ context.Context, path string) (loadersdk.Module, error) {
	b, err := bundle.Open(path)
	if err != nil {
		return nil, err
	}
	if b.Manifest.Tag != Tag {
		return nil, fmt.Errorf("bundle %s targets %q, not %q", b.Manifest.Name, b.Manifest.Tag, Tag)
	}
	return l.parse(b.Source)
}

func (l *echoLoader) Destroy(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = nil
	return nil
}

func (l *echoLoader) parse(src []byte) (loadersdk.Module, error) {
	l.mu.Lock()
	prefix := l.prefix
	l.mu.Unlock()

	m := &echoModule{prefix: prefix}
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(src))
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		info := loadersdk.FunctionInfo{Name: line}
		if strings.Contains(line, "(") {
			sig, err := signature.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			info = loadersdk.FunctionInfo{Name: sig.Name, Signature: sig.String()}
		}
		if _, dup := seen[info.Name]; dup {
			return nil, fmt.Errorf("line %d: %s defined twice", n, info.Name)
		}
		seen[info.Name] = struct{}{}
		m.funcs = append(m.funcs, info)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(m.funcs) == 0 {
		return nil, errors.New("module defines no functions")
	}
	return m, nil
}

type echoModule struct {
	prefix string
	funcs  []loadersdk.FunctionInfo

	mu     sync.Mutex
	closed bool
}

func (m *echoModule) Functions() []loadersdk.FunctionInfo { return m.funcs }

func (m *echoModule) Call(_ context.Context, name string, args []any) (any, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, errors.New("module closed")
	}

	var known bool
	for _, fn := range m.funcs {
		if fn.Name == name {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown function %s", name)
	}

	switch len(args) {
	case 0:
		return m.prefix + name, nil
	case 1:
		if s, ok := args[0].(string); ok {
			return m.prefix + s, nil
		}
		return args[0], nil
	default:
		return args, nil
	}
}

func (m *echoModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
