// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads layered configuration and hands out the per-language
// scopes ("<tag>_loader") that language plugins receive at initialization.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// delim separates nested keys.
const delim = "."

// ScopeSuffix is appended to a language tag to address its loader scope.
const ScopeSuffix = "_loader"

// Config is a layered key-value configuration source.
type Config struct {
	k *koanf.Koanf
}

// New returns an empty configuration.
func New() *Config {
	return &Config{k: koanf.New(delim)}
}

// Load reads the YAML file at path (if non-empty) and then overlays any
// flags explicitly set on flags (if non-nil).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := New()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, oops.In("config").With("path", path).Hint("config file not accessible").Wrap(err)
		}
		if err := cfg.k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("path", path).Hint("failed to parse config file").Wrap(err)
		}
	}

	if flags != nil {
		if err := cfg.k.Load(posflag.Provider(flags, delim, cfg.k), nil); err != nil {
			return nil, oops.In("config").Hint("failed to apply flags").Wrap(err)
		}
	}

	return cfg, nil
}

// Set assigns a value at key, replacing what was there.
func (c *Config) Set(key string, value any) error {
	if err := c.k.Set(key, value); err != nil {
		return oops.In("config").With("key", key).Wrap(err)
	}
	return nil
}

// String returns the string at key, or "".
func (c *Config) String(key string) string {
	return c.k.String(key)
}

// Scope returns the sub-tree at key. A missing key yields an empty scope.
func (c *Config) Scope(key string) *Scope {
	if c == nil {
		return &Scope{key: key, k: koanf.New(delim)}
	}
	return &Scope{key: key, k: c.k.Cut(key)}
}

// LoaderScope returns the scope for a language tag.
func (c *Config) LoaderScope(tag string) *Scope {
	return c.Scope(LoaderKey(tag))
}

// LoaderKey returns the configuration key for a language tag.
func LoaderKey(tag string) string {
	return tag + ScopeSuffix
}

// Scope is a read-only view of one configuration sub-tree.
type Scope struct {
	key string
	k   *koanf.Koanf
}

// Key returns the key the scope was cut from.
func (s *Scope) Key() string { return s.key }

// Exists reports whether key is set within the scope.
func (s *Scope) Exists(key string) bool { return s.k.Exists(key) }

// String returns the string at key, or "".
func (s *Scope) String(key string) string { return s.k.String(key) }

// StringOr returns the string at key, or def when unset.
func (s *Scope) StringOr(key, def string) string {
	if !s.k.Exists(key) {
		return def
	}
	return s.k.String(key)
}

// Strings returns the string slice at key. A single string yields a
// one-element slice.
func (s *Scope) Strings(key string) []string {
	if v, ok := s.k.Get(key).(string); ok {
		return []string{v}
	}
	return s.k.Strings(key)
}

// Int returns the int at key, or 0.
func (s *Scope) Int(key string) int { return s.k.Int(key) }

// IntOr returns the int at key, or def when unset.
func (s *Scope) IntOr(key string, def int) int {
	if !s.k.Exists(key) {
		return def
	}
	return s.k.Int(key)
}

// Bool returns the bool at key.
func (s *Scope) Bool(key string) bool { return s.k.Bool(key) }

// Duration returns the duration at key.
func (s *Scope) Duration(key string) time.Duration { return s.k.Duration(key) }

// DurationOr returns the duration at key, or def when unset.
func (s *Scope) DurationOr(key string, def time.Duration) time.Duration {
	if !s.k.Exists(key) {
		return def
	}
	return s.k.Duration(key)
}

// Unmarshal decodes the scope (or the sub-key path, if non-empty) into out.
func (s *Scope) Unmarshal(path string, out any) error {
	if err := s.k.Unmarshal(path, out); err != nil {
		return oops.In("config").With("scope", s.key).With("path", path).Wrap(err)
	}
	return nil
}

// Keys returns all keys set in the scope.
func (s *Scope) Keys() []string { return s.k.Keys() }

// Raw returns the scope as a nested map.
func (s *Scope) Raw() map[string]any { return s.k.Raw() }
