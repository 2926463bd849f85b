// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holomush/polyload/internal/bundle"
)

// newSchemaCmd creates the schema subcommand.
func newSchemaCmd() *cobra.Command {
	var (
		out      string
		validate string
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the bundle manifest JSON Schema or validate a manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if validate != "" {
				data, err := os.ReadFile(filepath.Clean(validate))
				if err != nil {
					return err
				}
				if err := bundle.ValidateSchema(data); err != nil {
					return fmt.Errorf("%s: %s", validate, bundle.FormatSchemaError(err))
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", validate)
				return err
			}

			schema, err := bundle.GenerateSchema()
			if err != nil {
				return err
			}
			if out == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
				return err
			}
			if err := os.WriteFile(out, schema, 0o600); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", out)
			return err
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "write the schema to this file instead of stdout")
	cmd.Flags().StringVar(&validate, "validate", "", "validate this package.yaml against the schema")

	return cmd
}
