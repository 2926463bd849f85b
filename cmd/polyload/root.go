// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/polyload/internal/logging"
)

// Global flags available to all subcommands.
type globalConfig struct {
	configFile string
	logFormat  string
	logLevel   string
	searchPath string
	settings   []string
}

const (
	defaultLogFormat = logging.FormatText
	defaultLogLevel  = "warn"
)

// NewRootCmd creates the root command for the polyload CLI.
func NewRootCmd() *cobra.Command {
	g := &globalConfig{}

	cmd := &cobra.Command{
		Use:   "polyload",
		Short: "polyload - load and call modules written in any language",
		Long: `polyload binds a language plugin for a tag, loads modules through it,
and exposes every module's functions through one aggregate context.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd, g)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&g.configFile, "config", "", "config file path")
	flags.StringVar(&g.logFormat, "log-format", defaultLogFormat, "log format (json or text)")
	flags.StringVar(&g.logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&g.searchPath, "search-path", "", "directory searched for plugin libraries")
	flags.StringArrayVar(&g.settings, "set", nil, "config override as key=value, e.g. lua_loader.call_timeout=2s (repeatable)")

	cmd.AddCommand(newLoadCmd(g))
	cmd.AddCommand(newInspectCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(cmd *cobra.Command, g *globalConfig) error {
	if err := logging.ValidateFormat(g.logFormat); err != nil {
		return err
	}
	level, err := logging.ParseLevel(g.logLevel)
	if err != nil {
		return err
	}
	logging.SetDefault(logging.Options{
		Service: "polyload",
		Version: version,
		Format:  g.logFormat,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})
	return nil
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "polyload %s (commit: %s, built: %s)\n", version, commit, date)
			return err
		},
	}
}

func logger() *slog.Logger { return slog.Default() }
