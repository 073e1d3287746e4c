// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger stores per-file parse results in BadgerDB.
//
// Parsing and resolving a large COBOL member dominates pipeline time, and
// most members do not change between runs. ParseCache keeps the resolved
// Program of each file keyed by its content hash, so a refresh only
// parses what changed.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrPathRequired means an on-disk cache was configured without a
	// directory.
	ErrPathRequired = errors.New("badger: cache directory not set")

	ErrNilDB = errors.New("badger: nil database")

	// ErrInvalidGC rejects a non-positive GC interval or a discard ratio
	// outside (0, 1).
	ErrInvalidGC = errors.New("badger: invalid value log GC settings")
)

// Config describes where and how the parse cache is stored.
type Config struct {
	// Path is the cache directory. Unused with InMemory.
	Path     string
	InMemory bool

	// SyncWrites fsyncs every write. A lost entry only costs a re-parse,
	// so it is off by default.
	SyncWrites bool

	// Logger receives Badger's own log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval and GCDiscardRatio drive value log collection. A zero
	// interval turns it off.
	GCInterval     time.Duration
	GCDiscardRatio float64

	// TTL expires entries. Zero keeps them until overwritten.
	TTL time.Duration
}

// DefaultConfig is a week-long on-disk cache under path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
		TTL:            7 * 24 * time.Hour,
	}
}

// InMemoryConfig is a throwaway cache, mostly for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter satisfies badger.Logger on top of slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) logf(level slog.Level, format string, args []any) {
	a.l.Log(context.Background(), level, fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (a slogAdapter) Errorf(f string, args ...any)   { a.logf(slog.LevelError, f, args) }
func (a slogAdapter) Warningf(f string, args ...any) { a.logf(slog.LevelWarn, f, args) }
func (a slogAdapter) Infof(f string, args ...any)    { a.logf(slog.LevelInfo, f, args) }
func (a slogAdapter) Debugf(f string, args ...any)   { a.logf(slog.LevelDebug, f, args) }

func open(cfg Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, ErrPathRequired
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
	}

	// One version per key: a cache entry is only ever replaced.
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1).WithLogger(nil)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{l: cfg.Logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open parse cache: %w", err)
	}
	return db, nil
}

// gcRunner collects the value log on a ticker until stopped.
type gcRunner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*gcRunner, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if interval <= 0 || ratio <= 0 || ratio >= 1 {
		return nil, fmt.Errorf("%w: interval %s, ratio %.2f", ErrInvalidGC, interval, ratio)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &gcRunner{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				// Repeat while Badger keeps finding rewritable files.
				for {
					err := db.RunValueLogGC(ratio)
					if err == nil {
						continue
					}
					if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
						logger.Warn("parse cache GC failed", slog.String("error", err.Error()))
					}
					break
				}
			}
		}
	}()
	return r, nil
}

// stop ends the loop and waits for it. Idempotent.
func (r *gcRunner) stop() {
	r.cancel()
	<-r.done
}
