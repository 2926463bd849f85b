// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/observability"
)

const (
	defaultMetricsAddr     = "127.0.0.1:9100"
	defaultShutdownTimeout = 10 * time.Second
)

// serveConfig holds configuration for the serve command.
type serveConfig struct {
	sourceFlags
	metricsAddr string
}

// newServeCmd creates the serve subcommand.
func newServeCmd(g *globalConfig) *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve [flags] SOURCE...",
		Short: "Keep modules loaded and expose loader metrics until interrupted",
		Long: `Load each source as a module and serve Prometheus metrics and health
probes until SIGINT or SIGTERM, then tear the loader down.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, sources []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, g, cfg, sources)
		},
	}

	cfg.register(cmd)
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", defaultMetricsAddr, "metrics/health HTTP address")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, g *globalConfig, cfg *serveConfig, sources []string) error {
	var ready atomic.Bool
	server := observability.NewServer(cfg.metricsAddr, ready.Load)
	errCh, err := server.Start()
	if err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger().Error("observability server shutdown failed", "error", err)
		}
	}()

	s, err := openSession(ctx, cmd, g, &cfg.sourceFlags, sources, loader.WithMetrics(server.Metrics()))
	if err != nil {
		return err
	}
	ready.Store(true)
	logger().Info("serving", "addr", server.Addr(), "modules", s.impl.Modules())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	ready.Store(false)
	// Teardown must finish even though ctx is done.
	if !s.close(context.WithoutCancel(ctx), cmd) {
		return errors.Join(serveErr, errors.New("teardown reported failures"))
	}
	return serveErr
}
