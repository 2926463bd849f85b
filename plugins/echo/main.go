// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main implements the echo loader, an example out-of-process
// language loader for polyload.
//
// An echo module is a text file listing one function per line, either a
// bare name or a full signature. Comment lines start with '#'. Calling a
// function echoes its arguments back: no arguments yield the function
// name, one argument yields that argument, more yield a list.
//
// Build and point the rpc loader at it:
//
//	go build -o bin/echo-loader ./plugins/echo
//
//	rpc_loader:
//	  executable: bin/echo-loader
package main

import "github.com/holomush/polyload/pkg/loadersdk"

func main() {
	loadersdk.Serve(&loadersdk.ServeConfig{
		Loader: newEchoLoader(),
	})
}
