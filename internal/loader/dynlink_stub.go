// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build !((linux || darwin || freebsd) && cgo)

package loader

import "fmt"

// DynlinkBinder is unavailable on this platform; Go plugins need cgo on
// linux, darwin or freebsd. Built-in plugins still work.
type DynlinkBinder struct{}

// Open always fails.
func (DynlinkBinder) Open(searchPath, libraryName string, _ BindFlags) (Library, error) {
	return nil, fmt.Errorf("%w: %s in %s (shared-library plugins not supported on this platform)", ErrLibraryNotFound, libraryName, searchPath)
}
