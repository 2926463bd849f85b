// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command polyload loads modules through the language plugins and calls
// or inspects what they define.
package main

import (
	"fmt"
	"os"

	// Built-in language plugins.
	_ "github.com/holomush/polyload/internal/loader/lua"
	_ "github.com/holomush/polyload/internal/loader/rpc"
	_ "github.com/holomush/polyload/internal/loader/wasm"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
