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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

func programNode(t *testing.T, snap *graph.Snapshot, id string) bool {
	t.Helper()
	_, ok := snap.GetNode(graph.NodeID(graph.NodeProgram, id))
	return ok
}

func TestService_Refresh(t *testing.T) {
	svc := NewService(New())
	assert.Nil(t, svc.Current())
	assert.Nil(t, svc.Result())

	snap, err := svc.Refresh(context.Background(), testBatch())
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Same(t, snap, svc.Current())
	assert.Same(t, snap, svc.Publisher().Current())
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, uint64(1), svc.Version())
	assert.True(t, snap.IsFrozen())
	assert.True(t, programNode(t, snap, "PAYROLL"))
	assert.True(t, programNode(t, snap, "TAXCALC"))

	require.NotNil(t, svc.Result())
	assert.Equal(t, 4, svc.Result().Stats.Files)
	assert.Equal(t, []string{"copy/CUSTREC.cpy", "jcl/payjob.jcl", "src/PAYROLL.cbl", "src/TAXCALC.cbl"}, svc.Files())
}

func TestService_UpdateKeepsOldSnapshotsIntact(t *testing.T) {
	svc := NewService(New())
	before, err := svc.Refresh(context.Background(), testBatch())
	require.NoError(t, err)

	newpgm := `       IDENTIFICATION DIVISION.
       PROGRAM-ID. NEWPGM.
       PROCEDURE DIVISION.
       MAIN-PARA.
           CALL 'TAXCALC'
           STOP RUN.
`
	after, err := svc.Update(context.Background(),
		[]SourceFile{{Path: "src/NEWPGM.cbl", Content: []byte(newpgm)}}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), after.Generation)
	assert.True(t, programNode(t, after, "NEWPGM"))
	assert.False(t, programNode(t, before, "NEWPGM"))
	assert.Equal(t, []string{"NEWPGM", "PAYROLL"}, svc.Result().CallGraph.Callers("TAXCALC"))

	removed, err := svc.Update(context.Background(), nil, []string{"src/TAXCALC.cbl", "src/UNKNOWN.cbl"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), removed.Generation)
	assert.Contains(t, svc.Result().CallGraph.UnresolvedCalls, "TAXCALC")
	assert.NotContains(t, svc.Files(), "src/TAXCALC.cbl")
	assert.True(t, programNode(t, after, "TAXCALC"))
}

func TestService_ConcurrentUpdates(t *testing.T) {
	svc := NewService(New(WithWorkers(2)))
	_, err := svc.Refresh(context.Background(), testBatch())
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("PGM%02d", i)
			src := fmt.Sprintf("       IDENTIFICATION DIVISION.\n       PROGRAM-ID. %s.\n"+
				"       PROCEDURE DIVISION.\n       MAIN-PARA.\n           STOP RUN.\n", id)
			snap, err := svc.Update(context.Background(),
				[]SourceFile{{Path: "src/" + id + ".cbl", Content: []byte(src)}}, nil)
			if err == nil && !programNode(t, snap, id) {
				err = fmt.Errorf("snapshot is missing %s", id)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "writer %d", i)
	}
	assert.Equal(t, uint64(writers+1), svc.Version())
	assert.Len(t, svc.Files(), 4+writers)
	for i := 0; i < writers; i++ {
		assert.True(t, programNode(t, svc.Current(), fmt.Sprintf("PGM%02d", i)))
	}
}

func TestService_LatestPairsSnapshotWithResult(t *testing.T) {
	svc := NewService(New(WithWorkers(2)))
	_, err := svc.Refresh(context.Background(), testBatch())
	require.NoError(t, err)

	const writers = 6
	done := make(chan struct{})
	var readers sync.WaitGroup
	var mismatches atomic.Int64
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap, res, version := svc.Latest()
				present := 0
				for i := 0; i < writers; i++ {
					id := fmt.Sprintf("PGM%02d", i)
					_, inResult := res.Program(id)
					if inResult != programNode(t, snap, id) {
						mismatches.Add(1)
					}
					if inResult {
						present++
					}
				}
				if res.Stats.Files != 4+present || version != uint64(1+present) {
					mismatches.Add(1)
				}
			}
		}()
	}

	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("PGM%02d", i)
		src := fmt.Sprintf("       IDENTIFICATION DIVISION.\n       PROGRAM-ID. %s.\n"+
			"       PROCEDURE DIVISION.\n       MAIN-PARA.\n           STOP RUN.\n", id)
		_, err := svc.Update(context.Background(),
			[]SourceFile{{Path: "src/" + id + ".cbl", Content: []byte(src)}}, nil)
		require.NoError(t, err)
	}
	close(done)
	readers.Wait()

	assert.Zero(t, mismatches.Load())
	snap, res, version := svc.Latest()
	assert.Same(t, snap, svc.Publisher().Current())
	assert.Equal(t, 4+writers, res.Stats.Files)
	assert.Equal(t, uint64(1+writers), version)
}

func TestService_CancelledRebuildKeepsSnapshot(t *testing.T) {
	svc := NewService(New())
	snap, err := svc.Refresh(context.Background(), testBatch())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Update(ctx, []SourceFile{{Path: "src/EXTRA.cbl", Content: []byte(testTaxcalc)}}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Same(t, snap, svc.Current())
	assert.Equal(t, uint64(1), svc.Version())
}

func TestService_CapacityLimitPublishesPartial(t *testing.T) {
	svc := NewService(New(), WithGraphOptions(graph.WithMaxNodes(3)))
	snap, err := svc.Refresh(context.Background(), testBatch())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.LessOrEqual(t, snap.NodeCount(), 3)
}

func TestService_Errors(t *testing.T) {
	svc := NewService(nil)

	var ctx context.Context
	_, err := svc.Refresh(ctx, testBatch())
	assert.ErrorIs(t, err, ErrNilContext)
	_, err = svc.Update(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = svc.Update(context.Background(), []SourceFile{{Content: []byte("x")}}, nil)
	assert.ErrorIs(t, err, ErrEmptyPath)

	files := append(testBatch(), testBatch()[0])
	_, err = svc.Refresh(context.Background(), files)
	assert.ErrorIs(t, err, ErrDuplicatePath)
	assert.Nil(t, svc.Current())
}
