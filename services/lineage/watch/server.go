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
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianLineage/pkg/logging"
	"github.com/AleutianAI/AleutianLineage/services/lineage/analysis"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/impact"
	"github.com/AleutianAI/AleutianLineage/services/lineage/telemetry"
)

// DefaultImpactDepth is the depth of /impact queries without a depth
// parameter.
const DefaultImpactDepth = 3

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  uint64 `json:"version"`
	Watching bool   `json:"watching"`
	Rebuilds int64  `json:"rebuilds"`
	Failures int64  `json:"failures"`
}

// SnapshotResponse is the body of GET /snapshot.
type SnapshotResponse struct {
	ID              string          `json:"id"`
	Generation      uint64          `json:"generation"`
	Version         uint64          `json:"version"`
	PublishedAt     time.Time       `json:"published_at"`
	Nodes           int             `json:"nodes"`
	Edges           int             `json:"edges"`
	Files           []string        `json:"files"`
	UnresolvedCalls []string        `json:"unresolved_calls"`
	Stats           *analysis.Stats `json:"stats,omitempty"`
}

// LogsResponse is the body of GET /logs.
type LogsResponse struct {
	Entries []logging.LogEntry `json:"entries"`
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRecentLogs serves the entries kept by buf on GET /logs.
func WithRecentLogs(buf *logging.BufferedExporter) ServerOption {
	return func(s *Server) {
		s.logs = buf
	}
}

// Server exposes a Service over HTTP.
//
// Routes:
//
//	GET /healthz   200 once a snapshot is published, 503 before
//	GET /metrics   Prometheus exposition, 404 without the exporter
//	GET /snapshot  Summary of the current snapshot
//	GET /impact    Impact report: ?kind=program|copybook|field|...&id=X&depth=N
//	GET /logs      Recent log entries: ?level=warn&limit=N, 404 without WithRecentLogs
type Server struct {
	svc      *analysis.Service
	watcher  *Watcher
	analyzer *impact.Analyzer
	router   *gin.Engine
	logger   *slog.Logger
	logs     *logging.BufferedExporter
}

// NewServer creates the HTTP surface of svc. watcher may be nil.
func NewServer(svc *analysis.Service, watcher *Watcher, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:      svc,
		watcher:  watcher,
		analyzer: impact.NewAnalyzer(svc, impact.WithLogger(logger)),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-lineage"))
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)
	router.GET("/snapshot", s.handleSnapshot)
	router.GET("/impact", s.handleImpact)
	router.GET("/logs", s.handleLogs)
	s.router = router
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	snap, _, version := s.svc.Latest()
	resp := HealthResponse{Status: "ok", Version: version}
	if s.watcher != nil {
		resp.Watching = s.watcher.IsWatching()
		resp.Rebuilds = s.watcher.Rebuilds()
		resp.Failures = s.watcher.Failures()
	}
	if snap == nil {
		resp.Status = "starting"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMetrics(c *gin.Context) {
	h := telemetry.MetricsHandler()
	if h == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "prometheus exporter not configured",
			Code:  "METRICS_DISABLED",
		})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap, res, version := s.svc.Latest()
	if snap == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no snapshot published",
			Code:  "NO_SNAPSHOT",
		})
		return
	}

	resp := SnapshotResponse{
		ID:              snap.ID,
		Generation:      snap.Generation,
		Version:         version,
		PublishedAt:     snap.PublishedAt,
		Nodes:           snap.NodeCount(),
		Edges:           snap.EdgeCount(),
		Files:           s.svc.Files(),
		UnresolvedCalls: []string{},
	}
	if res != nil {
		stats := res.Stats
		resp.Stats = &stats
		if res.CallGraph != nil {
			resp.UnresolvedCalls = res.CallGraph.UnresolvedCalls
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleImpact(c *gin.Context) {
	kind, ok := graph.ParseNodeKind(c.DefaultQuery("kind", "program"))
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown kind", Code: "INVALID_KIND"})
		return
	}
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "id is required", Code: "MISSING_ID"})
		return
	}
	depth := DefaultImpactDepth
	if d := c.Query("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "depth must be an integer", Code: "INVALID_DEPTH"})
			return
		}
		depth = n
	}

	report, err := s.analyzer.Analyze(c.Request.Context(), kind, id, depth)
	if err != nil {
		status, code := http.StatusInternalServerError, "IMPACT_FAILED"
		switch {
		case errors.Is(err, impact.ErrRootNotFound):
			status, code = http.StatusNotFound, "NOT_FOUND"
		case errors.Is(err, impact.ErrInvalidDepth):
			status, code = http.StatusBadRequest, "INVALID_DEPTH"
		case errors.Is(err, impact.ErrNoSnapshot):
			status, code = http.StatusServiceUnavailable, "NO_SNAPSHOT"
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleLogs(c *gin.Context) {
	if s.logs == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "log buffer not configured",
			Code:  "LOGS_DISABLED",
		})
		return
	}
	level, err := logging.ParseLevel(c.Query("level"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_LEVEL"})
		return
	}
	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: "INVALID_LIMIT"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, LogsResponse{Entries: s.logs.Recent(level, limit)})
}
