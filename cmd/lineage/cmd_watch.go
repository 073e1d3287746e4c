// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianLineage/services/lineage/watch"
)

var watchAddr string

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Keep the analysis current and serve it over HTTP",
	Long: `Analyze a directory (default: the working directory), then watch it for
changes. Every settled batch of changes publishes a new snapshot.

The HTTP server exposes:
  GET /healthz   liveness and rebuild counters
  GET /metrics   Prometheus metrics
  GET /snapshot  summary of the current snapshot
  GET /impact    impact query: ?kind=copybook&id=CUSTREC&depth=3

Examples:
  lineage watch src/
  lineage watch --addr :9090 src/`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		return runWatch(cmd.Context(), current, dir)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "",
		"Listen address (default from config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, a *app, dir string) error {
	if err := a.filter().Validate(); err != nil {
		return err
	}
	svc, cache, err := a.newService()
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	wc := a.cfg.Watch
	w, err := watch.New(dir, svc, watch.Options{
		Debounce:    wc.Debounce,
		RebuildRate: rate.Limit(wc.RebuildRate),
		Filter:      a.filter(),
		Logger:      a.logger.Slog(),
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watching %s: %w", dir, err)
	}
	defer w.Stop()

	addr := watchAddr
	if addr == "" {
		addr = wc.Addr
	}
	a.printer.Success(fmt.Sprintf("Watching %s, serving on http://%s", dir, addr))
	var opts []watch.ServerOption
	if a.recent != nil {
		opts = append(opts, watch.WithRecentLogs(a.recent))
	}
	return watch.NewServer(svc, w, a.logger.Slog(), opts...).Run(ctx, addr)
}
