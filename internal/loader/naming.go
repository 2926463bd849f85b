// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Naming limits. Sizes count a terminator, as the plugin ABI does, so the
// longest usable tag is TagSize-1 bytes and the longest name NameSize-1.
const (
	TagSize  = 0x12
	NameSize = 0xFF
)

// HostProxyTag is the reserved tag of the host-proxy loader context.
const HostProxyTag = "__host__"

const (
	symbolPrefix = "Loader"
	symbolSuffix = "ImplInterfaceSingleton"
)

var tagPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateTag checks that tag can name a plugin library and symbol.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag cannot be empty")
	}
	if len(tag) >= TagSize {
		return fmt.Errorf("tag %q exceeds %d bytes", tag, TagSize-1)
	}
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("tag %q must start with a-z and contain only a-z, 0-9, underscores", tag)
	}
	return nil
}

// LibraryName returns the platform file name of the library implementing tag.
// Debug builds (build tag "debug") use a distinct suffix so both variants can
// be installed side by side.
func LibraryName(tag string) string {
	base := tag + librarySuffix
	switch runtime.GOOS {
	case "windows":
		return base + ".dll"
	case "darwin":
		return "lib" + base + ".dylib"
	default:
		return "lib" + base + ".so"
	}
}

// SymbolName returns the exported accessor symbol for tag's interface table.
func SymbolName(tag string) string {
	r, size := utf8.DecodeRuneInString(tag)
	return symbolPrefix + string(unicode.ToUpper(r)) + tag[size:] + symbolSuffix
}

// NameFromPath derives a module name from the final path component with its
// last extension stripped. A leading dot does not start an extension.
func NameFromPath(path string) string {
	base := filepath.Base(filepath.Clean(path))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

// memoryName derives a module name for an in-memory buffer from the loader
// context address, the buffer address, and its size.
func memoryName(impl *Impl, buffer []byte) string {
	return fmt.Sprintf("%p-%p-%d", impl, &buffer[0], len(buffer))
}
