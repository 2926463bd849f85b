// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/polyload/internal/bundle"
)

const greetSource = `
function greet(name)
  return "hello, " .. name
end

function shout(text)
  host.print(text)
  return 1
end
`

func TestMain(m *testing.M) {
	// Keep a developer's own config file out of the tests.
	home, err := os.MkdirTemp("", "polyload-xdg")
	if err != nil {
		panic(err)
	}
	_ = os.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	_ = os.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	code := m.Run()
	_ = os.RemoveAll(home)
	os.Exit(code)
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, _, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"load", "inspect", "serve", "schema", "version"} {
		assert.Contains(t, out, sub, "Help missing %q command", sub)
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "polyload dev")
}

func TestRootCommand_InvalidLogFormat(t *testing.T) {
	_, _, err := execute(t, "--log-format", "xml", "version")
	assert.Error(t, err)
}

func TestLoad_ListsModules(t *testing.T) {
	path := writeSource(t, "greet.lua", greetSource)

	out, _, err := execute(t, "load", path)
	require.NoError(t, err)
	assert.Equal(t, "loaded greet\n", out)
}

func TestLoad_CallsFunction(t *testing.T) {
	path := writeSource(t, "greet.lua", greetSource)

	out, _, err := execute(t, "load", "--call", "greet", "--arg", "world", path)
	require.NoError(t, err)
	assert.Equal(t, "\"hello, world\"\n", out)
}

func TestLoad_HostFunctionNeedsCapability(t *testing.T) {
	path := writeSource(t, "greet.lua", greetSource)

	_, _, err := execute(t, "load", "--call", "shout", "--arg", "hi", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability denied")

	out, _, err := execute(t, "--set", "lua_loader.capabilities=host.print",
		"load", "--call", "shout", "--arg", "hi", path)
	require.NoError(t, err)
	assert.Equal(t, "hi\n1\n", out)
}

func TestLoad_ReadsXDGConfigFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "polyload"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(base, "polyload", "config.yaml"),
		[]byte("lua_loader:\n  capabilities:\n    - host.print\n"), 0o600))
	path := writeSource(t, "greet.lua", greetSource)

	out, _, err := execute(t, "load", "--call", "shout", "--arg", "hi", path)
	require.NoError(t, err)
	assert.Equal(t, "hi\n1\n", out)
}

func TestLoad_UnknownFunction(t *testing.T) {
	path := writeSource(t, "greet.lua", greetSource)

	_, _, err := execute(t, "load", "--call", "missing", path)
	assert.Error(t, err)
}

func TestLoad_CannotInferTag(t *testing.T) {
	path := writeSource(t, "notes.txt", "nothing")

	_, _, err := execute(t, "load", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tag")
}

func TestLoad_UnknownTag(t *testing.T) {
	path := writeSource(t, "greet.lua", greetSource)

	_, _, err := execute(t, "load", "--tag", "cobol", path)
	assert.Error(t, err)
}

func TestLoad_BadSetting(t *testing.T) {
	path := writeSource(t, "greet.lua", greetSource)

	_, _, err := execute(t, "--set", "novalue", "load", path)
	assert.Error(t, err)
}

func TestLoad_Package(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(greetSource), 0o600))
	manifest := "name: greeter\nversion: 1.0.0\ntag: lua\nentry: main.lua\n" +
		"exports:\n  - \"greet(name: string) -> string\"\n  - \"shout(text: string) -> int\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, bundle.ManifestFile), []byte(manifest), 0o600))

	out, _, err := execute(t, "inspect", "--package", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "greet(name: string) -> string")
	assert.Contains(t, out, "package")
}

func TestInspect_Filter(t *testing.T) {
	path := writeSource(t, "greet.lua", greetSource)

	out, _, err := execute(t, "inspect", "--filter", "g*", path)
	require.NoError(t, err)
	assert.Contains(t, out, "MODULE")
	assert.Contains(t, out, "greet")
	assert.NotContains(t, out, "shout")
	assert.Contains(t, out, "TYPES")
	assert.Contains(t, out, "table (map)")
}

func TestSchema_PrintsAndValidates(t *testing.T) {
	out, _, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "\"properties\"")

	manifest := writeSource(t, bundle.ManifestFile, "name: greeter\nversion: 1.0.0\ntag: lua\nentry: main.lua\n")
	out, _, err = execute(t, "schema", "--validate", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	bad := writeSource(t, bundle.ManifestFile, "name: 42\n")
	_, _, err = execute(t, "schema", "--validate", bad)
	assert.Error(t, err)
}

func TestSchema_WritesFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "schemas", "package.schema.json")

	out, _, err := execute(t, "schema", "-o", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated")
	assert.FileExists(t, target)
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"-1", int64(-1)},
		{"2.5", 2.5},
		{"true", true},
		{"world", "world"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseArg(tt.in))
		})
	}
}

func TestResolveTag(t *testing.T) {
	tests := []struct {
		name    string
		flags   sourceFlags
		sources []string
		want    string
		wantErr bool
	}{
		{name: "explicit", flags: sourceFlags{tag: "rpc"}, sources: []string{"x.lua"}, want: "rpc"},
		{name: "lua extension", sources: []string{"x.lua"}, want: "lua"},
		{name: "wasm extension", sources: []string{"X.WASM"}, want: "wasm"},
		{name: "unknown extension", sources: []string{"x.py"}, wantErr: true},
		{name: "no sources", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.resolveTag(tt.sources)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
