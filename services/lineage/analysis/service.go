// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

// rebuildKey is the singleflight key shared by every rebuild.
const rebuildKey = "rebuild"

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithGraphOptions sets the capacity limits of every graph the Service
// builds.
func WithGraphOptions(opts ...graph.GraphOption) ServiceOption {
	return func(s *Service) {
		s.graphOpts = append(s.graphOpts, opts...)
	}
}

// WithServiceLogger sets the logger. Default: slog.Default().
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service keeps a file set analyzed and its snapshot published.
//
// Description:
//
//	Every change bumps the file set version and triggers a rebuild: the
//	pipeline runs over the whole set, the analysis graph is built and
//	frozen, and the Publisher swaps it in. Rebuilds run one at a time;
//	callers that arrive while one is in flight share it, and a caller
//	whose change it missed triggers one more. Queries read
//	Latest() and never block on a rebuild.
//
//	A rebuild cut short by cancellation publishes nothing and the previous
//	snapshot stays current. A graph that hit a capacity limit is published
//	with a warning.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Service struct {
	pipeline  *Pipeline
	publisher *graph.Publisher
	graphOpts []graph.GraphOption
	logger    *slog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	files   map[string][]byte
	version uint64

	latest atomic.Pointer[published]
}

// published pairs a snapshot with the pipeline result and file set
// version it was built from. Readers load all three at once.
type published struct {
	snap    *graph.Snapshot
	res     *SemanticAnalysisResult
	version uint64
}

// rebuildOutcome is shared by the callers of one rebuild.
type rebuildOutcome struct {
	version uint64
	snap    *graph.Snapshot
}

// NewService creates a Service with an empty file set. A nil pipeline
// means New().
func NewService(p *Pipeline, opts ...ServiceOption) *Service {
	if p == nil {
		p = New()
	}
	s := &Service{
		pipeline: p,
		logger:   slog.Default(),
		files:    make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publisher = graph.NewPublisher(s.logger)
	return s
}

// Publisher returns the publisher holding the current snapshot.
func (s *Service) Publisher() *graph.Publisher {
	return s.publisher
}

// Current returns the current snapshot, nil before the first rebuild.
func (s *Service) Current() *graph.Snapshot {
	snap, _, _ := s.Latest()
	return snap
}

// Result returns the pipeline result behind the current snapshot, nil
// before the first rebuild.
func (s *Service) Result() *SemanticAnalysisResult {
	_, res, _ := s.Latest()
	return res
}

// Latest returns the current snapshot together with the pipeline result
// and file set version it was built from. All are zero before the first
// rebuild.
func (s *Service) Latest() (*graph.Snapshot, *SemanticAnalysisResult, uint64) {
	p := s.latest.Load()
	if p == nil {
		return nil, nil, 0
	}
	return p.snap, p.res, p.version
}

// Files returns the paths of the current file set in order.
func (s *Service) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Refresh replaces the file set and rebuilds.
//
// Outputs:
//
//	*graph.Snapshot - A snapshot that includes this file set.
//	error - ErrNilContext, a validation error from Run, the context error,
//	or ErrBuildIncomplete.
func (s *Service) Refresh(ctx context.Context, files []SourceFile) (*graph.Snapshot, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if _, err := sortedFiles(files); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.files = make(map[string][]byte, len(files))
	for _, f := range files {
		s.files[f.Path] = f.Content
	}
	s.version++
	want := s.version
	s.mu.Unlock()

	return s.rebuild(ctx, want)
}

// Update applies changed and removed files to the file set and rebuilds.
//
// Description:
//
//	A changed file replaces the file with the same path or is added.
//	Removing a path that is not in the set is a no-op. Only the changed
//	set is re-read by the caller; unchanged files keep their content and,
//	with a cache, are not parsed again.
func (s *Service) Update(ctx context.Context, changed []SourceFile, removed []string) (*graph.Snapshot, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	for _, f := range changed {
		if f.Path == "" {
			return nil, ErrEmptyPath
		}
	}

	s.mu.Lock()
	for _, p := range removed {
		delete(s.files, p)
	}
	for _, f := range changed {
		s.files[f.Path] = f.Content
	}
	s.version++
	want := s.version
	s.mu.Unlock()

	return s.rebuild(ctx, want)
}

// rebuild returns once a snapshot built from version want or later is
// published.
func (s *Service) rebuild(ctx context.Context, want uint64) (*graph.Snapshot, error) {
	for {
		v, err, _ := s.flight.Do(rebuildKey, func() (any, error) {
			return s.build(ctx)
		})
		if err != nil {
			return nil, err
		}
		out := v.(*rebuildOutcome)
		if out.version >= want {
			return out.snap, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// build runs the pipeline over the current file set and publishes the
// graph.
func (s *Service) build(ctx context.Context) (*rebuildOutcome, error) {
	s.mu.Lock()
	version := s.version
	files := make([]SourceFile, 0, len(s.files))
	for p, content := range s.files {
		files = append(files, SourceFile{Path: p, Content: content})
	}
	s.mu.Unlock()

	res, err := s.pipeline.Run(ctx, files)
	if err != nil {
		recordRefresh(ctx, "failed")
		return nil, err
	}

	br := graph.Build(ctx, graph.Input{
		Programs:    res.Programs,
		CallGraph:   res.CallGraph,
		Lineage:     res.Lineage,
		ControlFlow: res.ControlFlow,
	}, s.graphOpts...)
	if err := ctx.Err(); err != nil {
		recordRefresh(ctx, "failed")
		return nil, fmt.Errorf("%w: %w", ErrBuildIncomplete, err)
	}

	outcome := "published"
	if br.Incomplete {
		outcome = "partial"
		s.logger.Warn("analysis graph hit a capacity limit; publishing partial snapshot",
			slog.Int("nodes", br.Graph.NodeCount()),
			slog.Int("edges", br.Graph.EdgeCount()))
	}
	if len(br.EdgeErrors) > 0 {
		s.logger.Warn("analysis graph edges skipped",
			slog.Int("count", len(br.EdgeErrors)),
			slog.String("first", br.EdgeErrors[0].Error()))
	}

	snap, err := s.publisher.Publish(ctx, br.Graph)
	if err != nil {
		recordRefresh(ctx, "failed")
		return nil, err
	}
	s.latest.Store(&published{snap: snap, res: res, version: version})
	recordRefresh(ctx, outcome)

	s.logger.Info("file set rebuilt",
		slog.Uint64("version", version),
		slog.Int("files", len(files)),
		slog.String("snapshot_id", snap.ID))
	return &rebuildOutcome{version: version, snap: snap}, nil
}

// Version returns the file set version of the current snapshot, 0
// before the first rebuild.
func (s *Service) Version() uint64 {
	_, _, v := s.Latest()
	return v
}
