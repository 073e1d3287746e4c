// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch keeps an analysis.Service in step with a source directory
// and serves its state over HTTP.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianLineage/services/lineage/analysis"
)

var (
	// ErrNilService is returned when no service is given.
	ErrNilService = errors.New("watch: service must not be nil")

	// ErrNotDirectory is returned when the watch root is not a directory.
	ErrNotDirectory = errors.New("watch: root is not a directory")
)

// FileOp represents the type of file operation.
type FileOp int

const (
	// FileOpCreate indicates a file was created.
	FileOpCreate FileOp = iota

	// FileOpWrite indicates a file was modified.
	FileOpWrite

	// FileOpRemove indicates a file was deleted.
	FileOpRemove

	// FileOpRename indicates a file was renamed away.
	FileOpRename
)

// String returns the string representation of the operation.
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "create"
	case FileOpWrite:
		return "write"
	case FileOpRemove:
		return "remove"
	case FileOpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileChange is one file system event.
type FileChange struct {
	// Path is the absolute path of the changed file.
	Path string

	Op   FileOp
	Time time.Time
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the watcher waits for more events before
	// rebuilding.
	// Default: 250ms
	Debounce time.Duration

	// RebuildRate bounds rebuilds per second; a burst of edits that
	// outlasts the debounce window waits for the limiter.
	// Default: 1
	RebuildRate rate.Limit

	// RebuildBurst is the limiter burst.
	// Default: 1
	RebuildBurst int

	// BufferSize is the size of the event channel. Events beyond it are
	// dropped and logged.
	// Default: 1000
	BufferSize int

	// Filter selects the source files, relative to the root.
	Filter analysis.Filter

	Logger *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Debounce:     250 * time.Millisecond,
		RebuildRate:  1,
		RebuildBurst: 1,
		BufferSize:   1000,
	}
}

// Watcher feeds file changes under a root directory into a Service.
//
// # Description
//
// Start analyzes the whole directory once, then watches it recursively.
// Events are collected until the debounce window passes without a new
// one, collapsed to the latest event per path and applied as a single
// Service.Update. Rebuilds are rate limited.
//
// # Thread Safety
//
// Safe for concurrent use. Changes are applied from a single goroutine.
type Watcher struct {
	root    string
	svc     *analysis.Service
	opts    Options
	logger  *slog.Logger
	fsw     *fsnotify.Watcher
	limiter *rate.Limiter

	changes  chan FileChange
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool

	rebuilds atomic.Int64
	failures atomic.Int64
	dropped  atomic.Int64
}

// New creates a Watcher for root. Start begins watching.
//
// # Inputs
//
//   - root: Directory to watch.
//   - svc: The service to keep current.
//   - opts: Options; zero fields take their defaults.
//
// # Outputs
//
//   - *Watcher: Ready to Start.
//   - error: ErrNilService, ErrNotDirectory, an invalid filter pattern, or
//     an fsnotify error.
func New(root string, svc *analysis.Service, opts Options) (*Watcher, error) {
	if svc == nil {
		return nil, ErrNilService
	}
	def := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.RebuildRate <= 0 {
		opts.RebuildRate = def.RebuildRate
	}
	if opts.RebuildBurst <= 0 {
		opts.RebuildBurst = def.RebuildBurst
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:    abs,
		svc:     svc,
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "watch"), slog.String("root", abs)),
		fsw:     fsw,
		limiter: rate.NewLimiter(opts.RebuildRate, opts.RebuildBurst),
		changes: make(chan FileChange, opts.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Start analyzes the directory and begins watching it.
//
// # Description
//
// The initial analysis runs synchronously; its error is returned and no
// goroutines are started. Afterwards two goroutines run until Stop is
// called or ctx is done: one converts fsnotify events, the other
// debounces and applies them.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	files, err := analysis.Discover(w.root, w.opts.Filter)
	if err == nil {
		_, err = w.svc.Refresh(ctx, files)
	}
	if err == nil {
		err = w.addRecursive(w.root)
	}
	if err != nil {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		return err
	}
	w.rebuilds.Add(1)
	w.logger.Info("watching sources", slog.Int("files", len(files)))

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// Rebuilds returns the number of successful rebuilds, including the
// initial analysis.
func (w *Watcher) Rebuilds() int64 {
	return w.rebuilds.Load()
}

// Failures returns the number of failed rebuilds.
func (w *Watcher) Failures() int64 {
	return w.failures.Load()
}

// addRecursive watches dir and every directory below it that is not
// hidden.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// processEvents converts fsnotify events to FileChange.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("cannot watch new directory",
							slog.String("dir", event.Name),
							slog.String("error", err.Error()))
					}
				}
			}

			change := FileChange{Path: event.Name, Op: convertOp(event.Op), Time: time.Now()}
			select {
			case w.changes <- change:
			default:
				w.dropped.Add(1)
				w.logger.Warn("change buffer full; event dropped", slog.String("path", event.Name))
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

// ignored reports whether path lies in a hidden directory below the root.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if hidden(part) {
			return true
		}
	}
	return false
}

func hidden(name string) bool {
	return len(name) > 1 && name[0] == '.'
}

// convertOp converts fsnotify.Op to FileOp.
func convertOp(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpWrite
	}
}

// debounceLoop batches changes and applies them after the debounce window.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var (
		batch  []FileChange
		timer  *time.Timer
		timerC <-chan time.Time
	)

	flush := func() {
		if len(batch) > 0 {
			if err := w.apply(ctx, deduplicate(batch)); err != nil {
				w.failures.Add(1)
				w.logger.Warn("rebuild failed", slog.String("error", err.Error()))
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// apply turns a batch of changes into one Service.Update.
//
// Created and written files that pass the filter are read and sent as
// changed. Removed or renamed paths are sent as removed, together with
// every known file below them when the path was a directory. A file that
// vanished before it could be read counts as removed.
func (w *Watcher) apply(ctx context.Context, changes []FileChange) error {
	var (
		changed []analysis.SourceFile
		removed []string
	)
	known := w.svc.Files()
	removeTree := func(rel string) {
		removed = append(removed, rel)
		prefix := rel + "/"
		for _, p := range known {
			if strings.HasPrefix(p, prefix) {
				removed = append(removed, p)
			}
		}
	}

	for _, c := range changes {
		rel, err := filepath.Rel(w.root, c.Path)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		switch c.Op {
		case FileOpRemove, FileOpRename:
			removeTree(rel)
			continue
		}

		info, err := os.Stat(c.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			removeTree(rel)
			continue
		case err != nil:
			return err
		case info.IsDir():
			files, err := analysis.Discover(c.Path, analysis.Filter{Include: []string{"**"}})
			if err != nil {
				return err
			}
			for _, f := range files {
				f.Path = rel + "/" + f.Path
				if w.opts.Filter.Match(f.Path) {
					changed = append(changed, f)
				}
			}
			continue
		}
		if !w.opts.Filter.Match(rel) {
			continue
		}
		content, err := os.ReadFile(c.Path)
		if errors.Is(err, fs.ErrNotExist) {
			removeTree(rel)
			continue
		}
		if err != nil {
			return err
		}
		changed = append(changed, analysis.SourceFile{Path: rel, Content: content})
	}

	if len(changed) == 0 && len(removed) == 0 {
		return nil
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	snap, err := w.svc.Update(ctx, changed, removed)
	if err != nil {
		return err
	}
	w.rebuilds.Add(1)
	w.logger.Info("sources changed; snapshot rebuilt",
		slog.Int("changed", len(changed)),
		slog.Int("removed", len(removed)),
		slog.Uint64("generation", snap.Generation),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// deduplicate keeps the latest change per path, in first-seen order.
func deduplicate(changes []FileChange) []FileChange {
	seen := make(map[string]int)
	result := make([]FileChange, 0, len(changes))
	for _, c := range changes {
		if idx, ok := seen[c.Path]; ok {
			result[idx] = c
			continue
		}
		seen[c.Path] = len(result)
		result = append(result, c)
	}
	return result
}
