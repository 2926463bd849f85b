// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/holomush/polyload/internal/bundle"
	"github.com/holomush/polyload/internal/capability"
	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/reflection"
	"github.com/holomush/polyload/internal/signature"
	"github.com/holomush/polyload/internal/xdg"
)

// extensionTags maps source file extensions to language tags.
var extensionTags = map[string]string{
	".lua":  "lua",
	".wasm": "wasm",
}

// sourceFlags select what to load and with which plugin.
type sourceFlags struct {
	tag      string
	packages bool
	paths    []string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.tag, "tag", "", "language tag (default: inferred from the first source)")
	cmd.Flags().BoolVar(&s.packages, "package", false, "treat arguments as bundle directories")
	cmd.Flags().StringSliceVar(&s.paths, "execution-path", nil, "directory used to resolve relative sources (repeatable)")
}

// resolveTag returns the explicit tag, the bundle tag, or the tag
// registered for the first source's extension.
func (s *sourceFlags) resolveTag(sources []string) (string, error) {
	if s.tag != "" {
		return s.tag, nil
	}
	if len(sources) == 0 {
		return "", fmt.Errorf("--tag is required when no sources are given")
	}
	if s.packages {
		b, err := bundle.Open(sources[0])
		if err != nil {
			return "", err
		}
		return b.Manifest.Tag, nil
	}
	ext := strings.ToLower(filepath.Ext(sources[0]))
	if tag, ok := extensionTags[ext]; ok {
		return tag, nil
	}
	return "", fmt.Errorf("cannot infer language of %s; pass --tag", sources[0])
}

// readConfig reads the config file, overlays command flags, then applies
// --set overrides. Without --config the XDG config file is used if present.
func readConfig(cmd *cobra.Command, g *globalConfig) (*config.Config, error) {
	file := g.configFile
	if file == "" {
		path, ok, err := xdg.ConfigFile()
		if err != nil {
			return nil, err
		}
		if ok {
			file = path
		}
	}

	cfg, err := config.Load(file, cmd.Flags())
	if err != nil {
		return nil, err
	}
	for _, kv := range g.settings {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: expected key=value", kv)
		}
		if err := cfg.Set(key, parseSetting(value)); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// parseSetting converts a --set value; comma-separated values become a list.
func parseSetting(value string) any {
	if strings.Contains(value, ",") {
		return strings.Split(value, ",")
	}
	return value
}

// searchPath returns --search-path or the XDG plugin directory.
func searchPath(g *globalConfig) string {
	if g.searchPath != "" {
		return g.searchPath
	}
	dir, err := xdg.PluginDir()
	if err != nil {
		logger().Debug("no default plugin directory", "error", err)
		return ""
	}
	return dir
}

// session is one loader context with its host proxy.
type session struct {
	impl  *loader.Impl
	proxy *loader.Impl
}

// openSession creates the loader context for tag, exposes the host
// functions, and loads every source as its own module.
func openSession(ctx context.Context, cmd *cobra.Command, g *globalConfig, src *sourceFlags, sources []string, opts ...loader.Option) (*session, error) {
	tag, err := src.resolveTag(sources)
	if err != nil {
		return nil, err
	}

	cfg, err := readConfig(cmd, g)
	if err != nil {
		return nil, err
	}

	proxy := loader.NewProxy(loader.WithLogger(logger()))
	if err := registerHostFunctions(proxy, cmd.OutOrStdout()); err != nil {
		proxy.Destroy(ctx)
		return nil, err
	}

	opts = append([]loader.Option{
		loader.WithConfig(cfg),
		loader.WithLogger(logger()),
		loader.WithSearchPath(searchPath(g)),
		loader.WithHost(loader.NewHost(proxy, capability.NewEnforcer())),
	}, opts...)

	impl, err := loader.New(ctx, tag, opts...)
	if err != nil {
		proxy.Destroy(ctx)
		return nil, err
	}
	s := &session{impl: impl, proxy: proxy}

	for _, p := range src.paths {
		if err := impl.ExecutionPath(p); err != nil {
			s.close(ctx, cmd)
			return nil, err
		}
	}

	for _, source := range sources {
		if src.packages {
			err = impl.LoadFromPackage(ctx, source)
		} else {
			err = impl.LoadFromFile(ctx, source)
		}
		if err != nil {
			s.close(ctx, cmd)
			return nil, fmt.Errorf("load %s: %w", source, err)
		}
	}
	return s, nil
}

// close tears down the loader context then the proxy and prints any
// failures. It reports whether teardown was clean.
func (s *session) close(ctx context.Context, cmd *cobra.Command) bool {
	ok := true
	for _, report := range []*loader.Report{s.impl.Destroy(ctx), s.proxy.Destroy(ctx)} {
		for _, f := range report.Failures {
			ok = false
			cmd.PrintErrln("teardown:", f.Error())
		}
	}
	return ok
}

// registerHostFunctions defines the functions modules may call through
// the host proxy.
func registerHostFunctions(proxy *loader.Impl, out io.Writer) error {
	printSig := signature.MustParse("print(text: string) -> null")
	return proxy.RegisterFunction(reflection.NewFunction("print", printSig, func(_ context.Context, args ...any) (any, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		_, err := fmt.Fprintln(out, strings.Join(parts, " "))
		return nil, err
	}))
}
