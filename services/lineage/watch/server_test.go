// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/pkg/logging"
	"github.com/AleutianAI/AleutianLineage/services/lineage/analysis"
	"github.com/AleutianAI/AleutianLineage/services/lineage/impact"
	"github.com/AleutianAI/AleutianLineage/services/lineage/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer_BeforeFirstSnapshot(t *testing.T) {
	srv := NewServer(analysis.NewService(nil), nil, nil)

	rec := get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "starting", health.Status)

	rec = get(t, srv.Handler(), "/snapshot")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO_SNAPSHOT")

	rec = get(t, srv.Handler(), "/impact?id=MAINPGM")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_WithSnapshot(t *testing.T) {
	svc := analysis.NewService(nil)
	_, err := svc.Refresh(context.Background(), []analysis.SourceFile{
		{Path: "src/MAINPGM.cbl", Content: []byte(testMain)},
		{Path: "src/SUBPGM.cbl", Content: []byte(testSub)},
	})
	require.NoError(t, err)
	srv := NewServer(svc, nil, nil)

	t.Run("healthz", func(t *testing.T) {
		rec := get(t, srv.Handler(), "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		var health HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, uint64(1), health.Version)
	})

	t.Run("snapshot", func(t *testing.T) {
		rec := get(t, srv.Handler(), "/snapshot")
		require.Equal(t, http.StatusOK, rec.Code)
		var snap SnapshotResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, svc.Current().ID, snap.ID)
		assert.Equal(t, uint64(1), snap.Generation)
		assert.Equal(t, []string{"src/MAINPGM.cbl", "src/SUBPGM.cbl"}, snap.Files)
		assert.Empty(t, snap.UnresolvedCalls)
		require.NotNil(t, snap.Stats)
		assert.Equal(t, 2, snap.Stats.Programs)
		assert.Positive(t, snap.Nodes)
	})

	t.Run("impact", func(t *testing.T) {
		rec := get(t, srv.Handler(), "/impact?kind=program&id=SUBPGM&depth=2")
		require.Equal(t, http.StatusOK, rec.Code)
		var report impact.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		ids := make([]string, 0, len(report.Items))
		for _, it := range report.Items {
			ids = append(ids, it.ID)
		}
		assert.Contains(t, ids, "program:MAINPGM")
	})

	t.Run("impact errors", func(t *testing.T) {
		cases := []struct {
			target string
			status int
			code   string
		}{
			{"/impact?kind=widget&id=X", http.StatusBadRequest, "INVALID_KIND"},
			{"/impact?kind=program", http.StatusBadRequest, "MISSING_ID"},
			{"/impact?id=SUBPGM&depth=two", http.StatusBadRequest, "INVALID_DEPTH"},
			{"/impact?id=SUBPGM&depth=-1", http.StatusBadRequest, "INVALID_DEPTH"},
			{"/impact?id=NOPE", http.StatusNotFound, "NOT_FOUND"},
		}
		for _, tc := range cases {
			rec := get(t, srv.Handler(), tc.target)
			assert.Equal(t, tc.status, rec.Code, tc.target)
			assert.True(t, strings.Contains(rec.Body.String(), tc.code), "%s: %s", tc.target, rec.Body.String())
		}
	})
}

func TestServer_Metrics(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"
	shutdown, err := telemetry.Init(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	srv := NewServer(analysis.NewService(nil), nil, nil)
	rec := get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Logs(t *testing.T) {
	rec := get(t, NewServer(analysis.NewService(nil), nil, nil).Handler(), "/logs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "LOGS_DISABLED")

	buf := logging.NewBufferedExporter(16)
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Service: "lineage", Quiet: true, Exporter: buf})
	logger.Info("rebuild started")
	logger.Warn("rebuild failed", "file", "src/MAINPGM.cbl")

	srv := NewServer(analysis.NewService(nil), nil, logger.Slog(), WithRecentLogs(buf))

	decode := func(target string) []logging.LogEntry {
		rec := get(t, srv.Handler(), target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		var resp LogsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Entries
	}

	all := decode("/logs")
	require.Len(t, all, 2)
	assert.Equal(t, "rebuild started", all[0].Message)
	assert.Equal(t, logging.LevelInfo, all[0].Level)

	warn := decode("/logs?level=warn")
	require.Len(t, warn, 1)
	assert.Equal(t, "src/MAINPGM.cbl", warn[0].Attrs["file"])

	last := decode("/logs?limit=1")
	require.Len(t, last, 1)
	assert.Equal(t, "rebuild failed", last[0].Message)

	rec = get(t, srv.Handler(), "/logs?level=loud")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_LEVEL")
	rec = get(t, srv.Handler(), "/logs?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_LIMIT")
}
