// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/polyload/internal/bundle"
	"github.com/holomush/polyload/pkg/loadersdk"
	"github.com/holomush/polyload/pkg/loadersdk/loadersdktest"
)

const toolsModule = `
# tools
ping
add(a: int, b: int) -> int
`

func TestEchoLoader_ParsesLines(t *testing.T) {
	l := newEchoLoader()
	m, err := l.LoadFromMemory(context.Background(), "tools", []byte(toolsModule))
	require.NoError(t, err)

	assert.Equal(t, []loadersdk.FunctionInfo{
		{Name: "ping"},
		{Name: "add", Signature: "add(a: int, b: int) -> int"},
	}, m.Functions())
}

func TestEchoLoader_Call(t *testing.T) {
	ctx := context.Background()
	l := newEchoLoader()
	require.NoError(t, l.Initialize(ctx, map[string]any{"prefix": "> "}))
	m, err := l.LoadFromMemory(ctx, "tools", []byte(toolsModule))
	require.NoError(t, err)

	got, err := m.Call(ctx, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "> ping", got)

	got, err = m.Call(ctx, "ping", []any{"pong"})
	require.NoError(t, err)
	assert.Equal(t, "> pong", got)

	got, err = m.Call(ctx, "add", []any{1.0, 2.0})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, got)

	_, err = m.Call(ctx, "missing", nil)
	assert.Error(t, err)

	require.NoError(t, m.Close())
	_, err = m.Call(ctx, "ping", nil)
	assert.Error(t, err)
}

func TestEchoLoader_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", "# nothing here\n"},
		{"duplicate", "ping\nping\n"},
		{"bad signature", "add(a: int\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newEchoLoader().LoadFromMemory(context.Background(), "x", []byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestEchoLoader_LoadFromFileWithExecutionPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("beta\n"), 0o600))

	l := newEchoLoader()
	require.NoError(t, l.ExecutionPath(ctx, dir))
	m, err := l.LoadFromFile(ctx, []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	assert.Len(t, m.Functions(), 2)

	assert.Error(t, l.ExecutionPath(ctx, filepath.Join(dir, "a.txt")))
}

func TestEchoLoader_LoadFromPackage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.txt"), []byte(toolsModule), 0o600))
	manifest := "name: tools\nversion: 0.1.0\ntag: rpc\nentry: tools.txt\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, bundle.ManifestFile), []byte(manifest), 0o600))

	m, err := newEchoLoader().LoadFromPackage(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, m.Functions(), 2)
}

func TestEchoLoader_OverTheWire(t *testing.T) {
	ctx := context.Background()
	c := loadersdk.NewClient(loadersdktest.Conn(t, newEchoLoader()))

	require.NoError(t, c.Initialize(ctx, nil))
	id, err := c.LoadFromMemory(ctx, "tools", []byte(toolsModule))
	require.NoError(t, err)

	got, err := c.Call(ctx, id, "add", []any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, got)

	require.NoError(t, c.Destroy(ctx))
}
