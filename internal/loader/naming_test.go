// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader_test

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/holomush/polyload/internal/loader"
)

func TestValidateTag(t *testing.T) {
	for _, tag := range []string{"lua", "py", "wasm", "node_js", "c99", "abcdefghijklmnopq"} {
		assert.NoError(t, loader.ValidateTag(tag), tag)
	}
	for _, tag := range []string{"", "Lua", "9p", "_x", "a-b", "a.b", "abcdefghijklmnopqr"} {
		assert.Error(t, loader.ValidateTag(tag), tag)
	}
}

func TestLibraryName(t *testing.T) {
	name := loader.LibraryName("lua")
	assert.Contains(t, name, "lua_loader")
	switch runtime.GOOS {
	case "windows":
		assert.True(t, strings.HasSuffix(name, ".dll"))
	case "darwin":
		assert.True(t, strings.HasPrefix(name, "liblua_loader"))
		assert.True(t, strings.HasSuffix(name, ".dylib"))
	default:
		assert.True(t, strings.HasPrefix(name, "liblua_loader"))
		assert.True(t, strings.HasSuffix(name, ".so"))
	}
}

func TestSymbolName(t *testing.T) {
	assert.Equal(t, "LoaderLuaImplInterfaceSingleton", loader.SymbolName("lua"))
	assert.Equal(t, "LoaderNode_jsImplInterfaceSingleton", loader.SymbolName("node_js"))
}

func TestNameFromPath(t *testing.T) {
	tests := map[string]string{
		"greeter.lua":              "greeter",
		"/srv/scripts/greeter.lua": "greeter",
		"archive.tar.gz":           "archive.tar",
		"Makefile":                 "Makefile",
		".hidden":                  ".hidden",
		"dir/bundle/":              "bundle",
		".":                        "",
		"/":                        "",
		"":                         "",
	}
	for in, want := range tests {
		assert.Equal(t, want, loader.NameFromPath(in), in)
	}
}
