// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a published, immutable Analysis Graph.
//
// Thread Safety:
//
//	Safe for concurrent reads. The embedded Graph is frozen, so its
//	mutating methods return ErrGraphFrozen.
type Snapshot struct {
	*Graph

	// ID is a random identifier distinguishing snapshots in logs and
	// HTTP responses.
	ID string

	// Generation increases by one per publication on a Publisher.
	Generation uint64

	PublishedAt time.Time
}

// NewSnapshot wraps a frozen graph.
//
// Errors:
//
//	ErrNilGraph - g is nil
//	ErrGraphNotFrozen - g is still building
func NewSnapshot(g *Graph) (*Snapshot, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if !g.IsFrozen() {
		return nil, ErrGraphNotFrozen
	}
	return &Snapshot{
		Graph:       g,
		ID:          uuid.NewString(),
		PublishedAt: time.Now(),
	}, nil
}

// Publisher holds the current Snapshot and swaps it atomically.
//
// Description:
//
//	Writers build a new Graph off to the side and Publish it. Readers call
//	Current once and use that snapshot for the whole query; a concurrent
//	Publish never changes a snapshot a reader already holds.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Publisher struct {
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	logger     *slog.Logger
}

// NewPublisher creates a Publisher with no snapshot. A nil logger means
// slog.Default().
func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{logger: logger}
}

// Publish freezes g if needed and makes it the current snapshot.
//
// Description:
//
//	Each call takes the next generation number. When two publications race,
//	the higher generation wins even if it is stored first, so Current
//	never moves backwards.
//
// Outputs:
//
//	*Snapshot - The snapshot created for g.
//	error - ErrNilGraph when g is nil.
func (p *Publisher) Publish(ctx context.Context, g *Graph) (*Snapshot, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	g.Freeze()
	snap, err := NewSnapshot(g)
	if err != nil {
		return nil, err
	}
	snap.Generation = p.generation.Add(1)

	for {
		old := p.current.Load()
		if old != nil && old.Generation > snap.Generation {
			p.logger.Warn("discarding stale snapshot",
				slog.Uint64("generation", snap.Generation),
				slog.Uint64("current", old.Generation))
			return snap, nil
		}
		if p.current.CompareAndSwap(old, snap) {
			break
		}
	}

	recordPublishMetrics(ctx, g.NodeCount())
	p.logger.Info("snapshot published",
		slog.String("snapshot_id", snap.ID),
		slog.Uint64("generation", snap.Generation),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()))
	return snap, nil
}

// Current returns the latest snapshot, nil before the first Publish.
func (p *Publisher) Current() *Snapshot {
	return p.current.Load()
}

// Generation returns the generation of the latest publication.
func (p *Publisher) Generation() uint64 {
	if s := p.current.Load(); s != nil {
		return s.Generation
	}
	return 0
}
