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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
	"github.com/AleutianAI/AleutianLineage/services/lineage/callgraph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/cfg"
	"github.com/AleutianAI/AleutianLineage/services/lineage/hierarchy"
	"github.com/AleutianAI/AleutianLineage/services/lineage/lineage"
	"github.com/AleutianAI/AleutianLineage/services/lineage/rules"
	"github.com/AleutianAI/AleutianLineage/services/lineage/source"
	"github.com/AleutianAI/AleutianLineage/services/lineage/storage/badger"
	"github.com/AleutianAI/AleutianLineage/services/lineage/telemetry"
)

// ProgramCache stores parsed, hierarchy-resolved programs by key.
//
// *badger.ParseCache satisfies it.
type ProgramCache interface {
	Get(ctx context.Context, key []byte) (*ast.Program, bool, error)
	Put(ctx context.Context, key []byte, prog *ast.Program) error
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	workers    int
	resolver   ast.CopybookResolver
	cache      ProgramCache
	logger     *slog.Logger
	parserOpts []ast.ParserOption
	ruleOpts   []rules.Option
}

// WithWorkers bounds the number of files processed concurrently.
// Default: runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithCopybookResolver supplies copybooks that are not part of the batch.
// Copybooks in the batch take precedence.
func WithCopybookResolver(r ast.CopybookResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithCache enables the parse-result cache.
func WithCache(c ProgramCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithParserOptions passes options to every parser the pipeline creates.
func WithParserOptions(opts ...ast.ParserOption) Option {
	return func(o *options) {
		o.parserOpts = append(o.parserOpts, opts...)
	}
}

// WithRuleOptions passes options to rule extraction.
func WithRuleOptions(opts ...rules.Option) Option {
	return func(o *options) {
		o.ruleOpts = append(o.ruleOpts, opts...)
	}
}

// Pipeline turns a batch of source files into a SemanticAnalysisResult.
//
// Thread Safety:
//
//	Safe for concurrent use. A Pipeline holds configuration only.
type Pipeline struct {
	opts options
}

// New creates a Pipeline.
func New(opts ...Option) *Pipeline {
	o := options{
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pipeline{opts: o}
}

// fileResult is what the per-file stage produces for one source.
type fileResult struct {
	prog   *ast.Program
	flow   *cfg.ControlFlowGraph
	cached bool
	failed bool
}

// Run analyzes a batch of source files.
//
// Description:
//
//	Files are processed in path order. Copybooks found in the batch are
//	resolved by file stem (upper-cased, extension dropped) before the
//	configured resolver is consulted. Each file is parsed, its data items
//	linked into trees and, for programs, its control flow graph built,
//	with up to Workers files in flight. After every file is done the call
//	graph, data lineage, where-used index and rule candidates are built
//	over the whole batch.
//
//	A file that cannot be parsed becomes a placeholder program carrying a
//	StructuralParseWarning; it never fails the run. With a cache, a file
//	whose content and copybook set are unchanged is not parsed again.
//
// Inputs:
//   - ctx: Cancellation aborts the run.
//   - files: The batch. Paths must be non-empty and unique. Not modified.
//
// Outputs:
//   - *SemanticAnalysisResult: The result. Nil on error.
//   - error: ErrNilContext, ErrEmptyPath, ErrDuplicatePath, or the
//     context error when ctx is done.
//
// Example:
//
//	res, err := analysis.New(analysis.WithWorkers(8)).Run(ctx, files)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.CallGraph.UnresolvedCalls)
func (p *Pipeline) Run(ctx context.Context, files []SourceFile) (*SemanticAnalysisResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	start := time.Now()
	ctx, span := startRunSpan(ctx, len(files))
	defer span.End()

	sorted, err := sortedFiles(files)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	copybooks := batchCopybooks(sorted)
	fp := fingerprint(copybooks, p.opts.resolver != nil)
	copies := p.resolverFor(copybooks)
	parser := ast.NewParser(append([]ast.ParserOption{
		ast.WithCopybookResolver(copies),
	}, p.opts.parserOpts...)...)

	results := make([]fileResult, len(sorted))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.workers)
	for i := range sorted {
		i := i
		g.Go(func() error {
			r, err := p.processFile(gCtx, parser, copies, sorted[i], fp)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		recordRunMetrics(ctx, Stats{Files: len(sorted)}, time.Since(start), false)
		return nil, err
	}

	res := &SemanticAnalysisResult{
		Programs:    make([]*ast.Program, 0, len(results)),
		ControlFlow: make(map[string]*cfg.ControlFlowGraph),
		Diagnostics: make([]FileDiagnostic, 0),
	}
	res.Stats.Files = len(sorted)
	for _, r := range results {
		res.Programs = append(res.Programs, r.prog)
		switch {
		case r.prog.Kind == source.KindCopybook:
			res.Stats.Copybooks++
		case r.prog.Job != nil:
			res.Stats.Jobs++
		default:
			res.Stats.Programs++
		}
		if r.cached {
			res.Stats.CacheHits++
		}
		if r.failed {
			res.Stats.ParseFailures++
		}
		if r.flow != nil {
			if _, dup := res.ControlFlow[r.prog.ProgramID]; dup {
				p.opts.logger.Warn("duplicate program id; keeping first control flow graph",
					slog.String("program", r.prog.ProgramID),
					slog.String("file", r.prog.FileName))
			} else {
				res.ControlFlow[r.prog.ProgramID] = r.flow
			}
		}
		for _, d := range r.prog.Diagnostics {
			res.Diagnostics = append(res.Diagnostics, FileDiagnostic{
				File:       r.prog.FileName,
				Program:    r.prog.ProgramID,
				Diagnostic: d,
			})
		}
	}
	sort.SliceStable(res.Diagnostics, func(i, j int) bool {
		a, b := res.Diagnostics[i], res.Diagnostics[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.CallGraph = callgraph.Merge(res.Programs)
	res.Lineage = lineage.Analyze(res.Programs)
	res.WhereUsed = res.Lineage.WhereUsed
	res.Rules = rules.ExtractAll(res.Programs, p.opts.ruleOpts...)

	res.Stats.Diagnostics = len(res.Diagnostics)
	elapsed := time.Since(start)
	res.Stats.DurationMicro = elapsed.Microseconds()
	setRunSpanResult(span, res.Stats)
	recordRunMetrics(ctx, res.Stats, elapsed, true)

	telemetry.LoggerWithTrace(ctx, p.opts.logger).Info("analysis complete",
		slog.Int("files", res.Stats.Files),
		slog.Int("programs", res.Stats.Programs),
		slog.Int("copybooks", res.Stats.Copybooks),
		slog.Int("jobs", res.Stats.Jobs),
		slog.Int("cache_hits", res.Stats.CacheHits),
		slog.Int("parse_failures", res.Stats.ParseFailures),
		slog.Int("diagnostics", res.Stats.Diagnostics),
		slog.Duration("duration", elapsed))
	return res, nil
}

// processFile runs the per-file stages for one source.
//
// A cache hit is used only while every copybook the program was parsed
// against still resolves to the same text through copies. The batch
// copybooks are part of fp, but external ones can change between runs.
func (p *Pipeline) processFile(ctx context.Context, parser *ast.Parser, copies ast.CopybookResolver, f SourceFile, fp string) (fileResult, error) {
	if err := ctx.Err(); err != nil {
		return fileResult{}, err
	}

	var key []byte
	if p.opts.cache != nil {
		sum := sha256.Sum256(f.Content)
		key = badger.Key(hex.EncodeToString(sum[:]), fp, f.Path)
		prog, ok, err := p.opts.cache.Get(ctx, key)
		switch {
		case err != nil && ctx.Err() != nil:
			return fileResult{}, ctx.Err()
		case err != nil:
			p.opts.logger.Warn("parse cache read failed",
				slog.String("file", f.Path),
				slog.String("error", err.Error()))
		case ok && copiesCurrent(prog, copies):
			return fileResult{prog: prog, flow: controlFlow(prog), cached: true}, nil
		case ok:
			p.opts.logger.Debug("cached program has changed copybooks",
				slog.String("file", f.Path))
		}
	}

	prog, err := parser.Parse(ctx, f.Content, f.Path)
	if err != nil {
		if errors.Is(err, ast.ErrContextCanceled) || ctx.Err() != nil {
			if cerr := ctx.Err(); cerr != nil {
				return fileResult{}, cerr
			}
			return fileResult{}, err
		}
		p.opts.logger.Warn("file could not be parsed",
			slog.String("file", f.Path),
			slog.String("error", err.Error()))
		return fileResult{prog: placeholder(f, err), failed: true}, nil
	}
	hierarchy.ResolveProgram(prog)

	if key != nil {
		if err := p.opts.cache.Put(ctx, key, prog); err != nil {
			p.opts.logger.Warn("parse cache write failed",
				slog.String("file", f.Path),
				slog.String("error", err.Error()))
		}
	}
	return fileResult{prog: prog, flow: controlFlow(prog)}, nil
}

// resolverFor chains the batch copybooks with the configured resolver.
func (p *Pipeline) resolverFor(batch ast.CopybookMap) ast.CopybookResolver {
	ext := p.opts.resolver
	if ext == nil {
		return batch
	}
	return ast.CopybookResolverFunc(func(name, library string) ([]byte, bool) {
		if content, ok := batch.ResolveCopybook(name, library); ok {
			return content, true
		}
		return ext.ResolveCopybook(name, library)
	})
}

// copiesCurrent reports whether each COPY of prog resolves the way it did
// when prog was parsed.
func copiesCurrent(prog *ast.Program, copies ast.CopybookResolver) bool {
	for _, c := range prog.Copies {
		content, ok := copies.ResolveCopybook(c.Name, c.Library)
		if ok != c.Resolved {
			return false
		}
		if ok && ast.CopybookDigest(content) != c.Digest {
			return false
		}
	}
	return true
}

// controlFlow builds the control flow graph of a COBOL program. Other
// source kinds have none.
func controlFlow(prog *ast.Program) *cfg.ControlFlowGraph {
	if prog.Job != nil {
		return nil
	}
	switch prog.Kind {
	case source.KindCopybook, source.KindJCL, source.KindSQL:
		return nil
	}
	return cfg.Build(prog)
}

// placeholder stands in for a file the parser rejected.
func placeholder(f SourceFile, cause error) *ast.Program {
	sum := sha256.Sum256(f.Content)
	return &ast.Program{
		ProgramID:   fileStem(f.Path),
		FileName:    f.Path,
		Kind:        source.KindFromExtension(f.Path),
		Divisions:   make([]ast.Division, 0),
		Paragraphs:  make([]ast.Paragraph, 0),
		DataItems:   make([]ast.DataItem, 0),
		ContentHash: hex.EncodeToString(sum[:]),
		Diagnostics: []ast.Diagnostic{
			ast.NewDiagnostic(ast.DiagStructuralParse, 0, "", "file not analyzed: %v", cause),
		},
	}
}

// sortedFiles validates paths and returns a copy ordered by path.
func sortedFiles(files []SourceFile) ([]SourceFile, error) {
	out := make([]SourceFile, len(files))
	copy(out, files)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	for i, f := range out {
		if f.Path == "" {
			return nil, ErrEmptyPath
		}
		if i > 0 && out[i-1].Path == f.Path {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, f.Path)
		}
	}
	return out, nil
}

// batchCopybooks collects the copybooks of a batch keyed by upper-case
// file stem. The first file in path order wins a name clash.
func batchCopybooks(files []SourceFile) ast.CopybookMap {
	m := make(ast.CopybookMap)
	for _, f := range files {
		if source.DetectKind(string(f.Content), f.Path) != source.KindCopybook {
			continue
		}
		name := fileStem(f.Path)
		if _, ok := m[name]; !ok {
			m[name] = f.Content
		}
	}
	return m
}

// fingerprint identifies the copybook set a parse depended on. Cache
// entries parsed against a different set are never returned.
func fingerprint(copybooks ast.CopybookMap, external bool) string {
	names := make([]string, 0, len(copybooks))
	for name := range copybooks {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		sum := sha256.Sum256(copybooks[name])
		fmt.Fprintf(h, "%s:%x\n", name, sum)
	}
	if external {
		h.Write([]byte("+external"))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// fileStem returns the upper-cased base name of path without extension.
func fileStem(path string) string {
	base := filepath.Base(filepath.ToSlash(path))
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}
