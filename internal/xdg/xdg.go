// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves XDG Base Directory locations for polyload.
package xdg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const appName = "polyload"

// ConfigFileName is the file looked up in ConfigDir when no config file is
// given explicitly.
const ConfigFileName = "config.yaml"

// ConfigDir returns the polyload config directory.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the polyload data directory.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() (string, error) {
	return dir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// PluginDir is where dynamically linked loader plugins are searched when
// no search path is configured.
func PluginDir() (string, error) {
	base, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "plugins"), nil
}

// ConfigFile returns the default config file and whether it exists.
func ConfigFile() (string, bool, error) {
	base, err := ConfigDir()
	if err != nil {
		return "", false, err
	}
	path := filepath.Join(base, ConfigFileName)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return path, false, nil
	case err != nil:
		return "", false, fmt.Errorf("stat %s: %w", path, err)
	}
	return path, !info.IsDir(), nil
}

func dir(env, fallback string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, fallback)
	}
	return filepath.Join(base, appName), nil
}
