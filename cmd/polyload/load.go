// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// loadConfig holds configuration for the load command.
type loadConfig struct {
	sourceFlags
	call string
	args []string
}

// newLoadCmd creates the load subcommand.
func newLoadCmd(g *globalConfig) *cobra.Command {
	cfg := &loadConfig{}

	cmd := &cobra.Command{
		Use:   "load [flags] SOURCE...",
		Short: "Load modules and optionally call a function",
		Long: `Load each source as a module, call --call with --arg values through the
aggregate context if given, print the result as JSON, and tear everything down.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, sources []string) error {
			return runLoad(cmd, g, cfg, sources)
		},
	}

	cfg.register(cmd)
	cmd.Flags().StringVar(&cfg.call, "call", "", "function to call after loading")
	cmd.Flags().StringArrayVar(&cfg.args, "arg", nil, "argument for --call (repeatable; ints, floats and bools are converted)")

	return cmd
}

func runLoad(cmd *cobra.Command, g *globalConfig, cfg *loadConfig, sources []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, g, &cfg.sourceFlags, sources)
	if err != nil {
		return err
	}

	callErr := callFunction(cmd, s, cfg)
	if !s.close(ctx, cmd) {
		return errors.Join(callErr, errors.New("teardown reported failures"))
	}
	return callErr
}

func callFunction(cmd *cobra.Command, s *session, cfg *loadConfig) error {
	if cfg.call == "" {
		for _, name := range s.impl.Modules() {
			fmt.Fprintln(cmd.OutOrStdout(), "loaded", name)
		}
		return nil
	}

	fn, ok := s.impl.Context().Function(cfg.call)
	if !ok {
		return fmt.Errorf("function %s is not defined by any loaded module", cfg.call)
	}
	args := make([]any, len(cfg.args))
	for i, a := range cfg.args {
		args[i] = parseArg(a)
	}

	result, err := fn.Call(cmd.Context(), args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", cfg.call, err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// parseArg converts a command-line argument to an int64, float64 or bool
// when it parses as one, and leaves it a string otherwise.
func parseArg(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
