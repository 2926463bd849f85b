// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/holomush/polyload/internal/reflection"
)

// inspectConfig holds configuration for the inspect command.
type inspectConfig struct {
	sourceFlags
	filter string
}

// newInspectCmd creates the inspect subcommand.
func newInspectCmd(g *globalConfig) *cobra.Command {
	cfg := &inspectConfig{}

	cmd := &cobra.Command{
		Use:   "inspect [flags] SOURCE...",
		Short: "List the functions and types modules define",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, sources []string) error {
			return runInspect(cmd, g, cfg, sources)
		},
	}

	cfg.register(cmd)
	cmd.Flags().StringVar(&cfg.filter, "filter", "*", "glob applied to function names")

	return cmd
}

func runInspect(cmd *cobra.Command, g *globalConfig, cfg *inspectConfig, sources []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, g, &cfg.sourceFlags, sources)
	if err != nil {
		return err
	}

	out, inspectErr := formatInspect(s, cfg.filter)
	if inspectErr == nil {
		_, inspectErr = fmt.Fprint(cmd.OutOrStdout(), out)
	}
	if !s.close(ctx, cmd) {
		return errors.Join(inspectErr, errors.New("teardown reported failures"))
	}
	return inspectErr
}

func formatInspect(s *session, filter string) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tSOURCE\tFUNCTION\tSIGNATURE")

	for _, name := range s.impl.Modules() {
		m, ok := s.impl.Module(name)
		if !ok {
			continue
		}
		fns, err := m.Context().Match(filter)
		if err != nil {
			return "", fmt.Errorf("invalid filter %q: %w", filter, err)
		}
		for _, fn := range fns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, m.Source(), fn.Name(), describe(fn))
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	if types := s.impl.Types(); len(types) > 0 {
		fmt.Fprintln(&buf)
		fmt.Fprintln(&buf, "TYPES")
		for _, name := range types {
			if t, ok := s.impl.Type(name); ok {
				fmt.Fprintf(&buf, "%s (%s)\n", name, t.Kind())
			}
		}
	}
	return buf.String(), nil
}

func describe(fn *reflection.Function) string {
	if sig := fn.Signature(); sig != nil {
		return sig.String()
	}
	return "-"
}
