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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/cmd/lineage/config"
	"github.com/AleutianAI/AleutianLineage/pkg/logging"
	"github.com/AleutianAI/AleutianLineage/pkg/ux"
	"github.com/AleutianAI/AleutianLineage/services/lineage/analysis"
	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/rules"
	"github.com/AleutianAI/AleutianLineage/services/lineage/storage/badger"
	"github.com/AleutianAI/AleutianLineage/services/lineage/telemetry"
)

// app is the state shared by every command, set up by setup.
type app struct {
	cfg     config.Config
	logger  *logging.Logger
	recent  *logging.BufferedExporter
	out     io.Writer
	printer *ux.Printer
	json    bool

	shutdown func(context.Context) error
}

var current *app

// setup loads the configuration and starts logging and telemetry.
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	var recent *logging.BufferedExporter
	lcfg := logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "lineage",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	}
	if cfg.Logging.Recent > 0 {
		recent = logging.NewBufferedExporter(cfg.Logging.Recent)
		lcfg.Exporter = recent
	}
	logger := logging.New(lcfg)
	slog.SetDefault(logger.Slog())

	tcfg := cfg.Telemetry
	tcfg.Output = cmd.ErrOrStderr()
	shutdown, err := telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		shutdown = nil
	}

	out := cmd.OutOrStdout()
	current = &app{
		cfg:      cfg,
		logger:   logger,
		recent:   recent,
		out:      out,
		printer:  ux.NewPrinter(out, jsonOutput || ux.DetectPlain(os.Stdout)),
		json:     jsonOutput,
		shutdown: shutdown,
	}
	return nil
}

// teardown flushes telemetry and closes the log file.
func teardown(ctx context.Context) error {
	if current == nil {
		return nil
	}
	var errs []error
	if current.shutdown != nil {
		errs = append(errs, current.shutdown(ctx))
	}
	errs = append(errs, current.logger.Close())
	return errors.Join(errs...)
}

// writeJSON writes v indented to the command output.
func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// SOURCE LOADING
// =============================================================================

// filter returns the source filter of the configuration.
func (a *app) filter() analysis.Filter {
	return analysis.Filter{Include: a.cfg.Sources.Include, Exclude: a.cfg.Sources.Exclude}
}

// collectSources discovers the source files under each root.
//
// Paths are reported relative to the working directory, so files from
// several roots never collide and diffs taken at the repository root
// match them. A file reachable from two roots is read once.
func collectSources(roots []string, filter analysis.Filter) ([]analysis.SourceFile, error) {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	seen := make(map[string]bool)
	var out []analysis.SourceFile
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		files, err := analysis.Discover(root, filter)
		if err != nil {
			return nil, err
		}
		prefix := filepath.ToSlash(filepath.Clean(root))
		for _, f := range files {
			if info.IsDir() {
				f.Path = path.Join(prefix, f.Path)
			} else {
				f.Path = prefix
			}
			if seen[f.Path] {
				continue
			}
			seen[f.Path] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// session is one analyzed batch.
type session struct {
	svc   *analysis.Service
	snap  *graph.Snapshot
	cache *badger.ParseCache
}

// Close releases the parse cache.
func (s *session) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// newService builds the analysis service the configuration describes.
// The returned cache is nil when caching is off.
func (a *app) newService() (*analysis.Service, *badger.ParseCache, error) {
	pc := a.cfg.Pipeline
	slogger := a.logger.Slog()

	opts := []analysis.Option{
		analysis.WithWorkers(pc.Workers),
		analysis.WithLogger(slogger),
		analysis.WithParserOptions(
			ast.WithMaxCopyDepth(pc.MaxCopyDepth),
			ast.WithMaxFileSize(pc.MaxFileSizeBytes),
		),
		analysis.WithRuleOptions(rules.WithMaxActions(pc.MaxRuleActions)),
	}
	if len(a.cfg.Sources.CopybookDirs) > 0 {
		opts = append(opts, analysis.WithCopybookResolver(newDirResolver(a.cfg.Sources.CopybookDirs)))
	}

	var cache *badger.ParseCache
	if a.cfg.Cache.Enabled && !noCache {
		bc := badger.DefaultConfig(a.cfg.Cache.Path)
		bc.TTL = a.cfg.Cache.TTL
		bc.Logger = slogger
		c, err := badger.Open(bc)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open the parse cache: %w", err)
		}
		cache = c
		opts = append(opts, analysis.WithCache(cache))
	}

	var graphOpts []graph.GraphOption
	if pc.MaxNodes > 0 {
		graphOpts = append(graphOpts, graph.WithMaxNodes(pc.MaxNodes))
	}
	if pc.MaxEdges > 0 {
		graphOpts = append(graphOpts, graph.WithMaxEdges(pc.MaxEdges))
	}

	svc := analysis.NewService(analysis.New(opts...),
		analysis.WithGraphOptions(graphOpts...),
		analysis.WithServiceLogger(slogger),
	)
	return svc, cache, nil
}

// load analyzes the sources under roots and publishes the first snapshot.
func (a *app) load(ctx context.Context, roots []string) (*session, error) {
	if err := a.filter().Validate(); err != nil {
		return nil, err
	}
	files, err := collectSources(roots, a.filter())
	if err != nil {
		return nil, err
	}
	svc, cache, err := a.newService()
	if err != nil {
		return nil, err
	}
	s := &session{svc: svc, cache: cache}

	a.logger.Debug("analyzing sources", "files", len(files), "roots", strings.Join(roots, ","))
	snap, err := svc.Refresh(ctx, files)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.snap = snap
	return s, nil
}

// =============================================================================
// COPYBOOK LIBRARIES
// =============================================================================

// copybookExtensions are tried in order after the bare member name.
var copybookExtensions = []string{"", ".cpy", ".CPY", ".copy", ".cbl", ".CBL"}

// dirResolver finds copybooks in library directories.
//
// A COPY with an OF/IN library looks in <dir>/<library> before <dir>. The
// member name is tried as written, then lower-cased.
type dirResolver struct {
	dirs []string
}

func newDirResolver(dirs []string) *dirResolver {
	return &dirResolver{dirs: append([]string(nil), dirs...)}
}

// ResolveCopybook implements ast.CopybookResolver.
func (r *dirResolver) ResolveCopybook(name, library string) ([]byte, bool) {
	members := []string{name}
	if lower := strings.ToLower(name); lower != name {
		members = append(members, lower)
	}
	for _, dir := range r.dirs {
		var candidates []string
		if library != "" {
			candidates = append(candidates, filepath.Join(dir, library), filepath.Join(dir, strings.ToLower(library)))
		}
		candidates = append(candidates, dir)
		for _, d := range candidates {
			for _, m := range members {
				for _, ext := range copybookExtensions {
					data, err := os.ReadFile(filepath.Join(d, m+ext))
					if err == nil {
						return data, true
					}
				}
			}
		}
	}
	return nil, false
}
