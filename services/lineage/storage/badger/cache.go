// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianLineage/services/lineage/ast"
)

// SchemaVersion is part of every key. Bump it when ast.Program changes
// shape so stale entries are never decoded.
const SchemaVersion = "v1"

// keyPrefix namespaces cache entries.
const keyPrefix = "parse/" + SchemaVersion + "/"

// CacheStats counts lookups since the cache was opened.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Writes int64 `json:"writes"`
}

// ParseCache maps source content to its resolved Program.
//
// Thread Safety:
//
//	Safe for concurrent use. The pipeline reads and writes it from every
//	worker.
type ParseCache struct {
	db       *badger.DB
	gc       *gcRunner
	ttl      time.Duration
	inMemory bool
	logger   *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

// Open opens a parse cache.
//
// Description:
//
//	Opens BadgerDB at cfg.Path (or in memory) and starts value log
//	garbage collection when cfg.GCInterval is set on a persistent
//	database.
//
// Outputs:
//
//	*ParseCache - The cache. Call Close when done.
//	error - ErrPathRequired, or the BadgerDB open error.
func Open(cfg Config) (*ParseCache, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &ParseCache{db: db, ttl: cfg.TTL, inMemory: cfg.InMemory, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		c.gc = runner
	}
	return c, nil
}

// OpenInMemory opens an in-memory cache for tests.
func OpenInMemory() (*ParseCache, error) {
	return Open(InMemoryConfig())
}

// Close stops garbage collection and closes the database.
func (c *ParseCache) Close() error {
	if c.gc != nil {
		c.gc.stop()
	}
	return c.db.Close()
}

// Key builds the cache key of one file.
//
// contentHash is the hex SHA-256 of the file, fingerprint identifies the
// copybook set it was expanded against. The file name is part of the key
// because it supplies the fallback program id.
func Key(contentHash, fingerprint, fileName string) []byte {
	return []byte(keyPrefix + contentHash + "/" + fingerprint + "/" + fileName)
}

// Get returns the cached Program for key.
//
// Outputs:
//
//	*ast.Program - The decoded Program, nil on a miss.
//	bool - True on a hit.
//	error - Non-nil when the context is done or the entry cannot be read.
//	A corrupt entry is deleted and reported as a miss.
func (c *ParseCache) Get(ctx context.Context, key []byte) (*ast.Program, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context cancelled: %w", err)
	}

	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read parse cache: %w", err)
	}

	var prog ast.Program
	if err := json.Unmarshal(raw, &prog); err != nil {
		c.logger.Warn("dropping corrupt parse cache entry",
			slog.String("key", string(key)),
			slog.String("error", err.Error()))
		_ = c.Delete(ctx, key)
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return &prog, true, nil
}

// Put stores prog under key.
func (c *ParseCache) Put(ctx context.Context, key []byte, prog *ast.Program) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if prog == nil {
		return errors.New("program must not be nil")
	}
	raw, err := json.Marshal(prog)
	if err != nil {
		return fmt.Errorf("encode program %s: %w", prog.ProgramID, err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, raw)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("write parse cache: %w", err)
	}
	c.writes.Add(1)
	return nil
}

// Delete removes key. A missing key is not an error.
func (c *ParseCache) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Purge removes every cache entry.
func (c *ParseCache) Purge() error {
	return c.db.DropPrefix([]byte(keyPrefix))
}

// Len counts the cache entries.
func (c *ParseCache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Stats returns the lookup counters.
func (c *ParseCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Writes: c.writes.Load(),
	}
}

// Sync flushes pending writes to disk. A no-op in memory.
func (c *ParseCache) Sync() error {
	if c.inMemory {
		return nil
	}
	return c.db.Sync()
}
