// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging configures structured logging for the lineage tools.
//
// Output goes to stderr by default, in text or JSON, so analysis results
// written to stdout stay machine-readable. A log directory adds a daily
// JSON file per service, and a LogExporter receives a copy of every entry
// at or above the configured level.
//
// Analysis packages never depend on this package. They accept a
// *slog.Logger, which commands obtain from Logger.Slog. The watch server
// reads a BufferedExporter to serve the most recent entries.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrUnknownLevel is returned by ParseLevel.
var ErrUnknownLevel = errors.New("unknown log level")

// Level represents log severity levels, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the level as its name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name accepted by ParseLevel.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel maps a configuration string to a Level.
//
// Matching is case-insensitive and accepts "warning" for LevelWarn. An
// empty string is LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures a Logger.
type Config struct {
	// Level is the minimum level written anywhere.
	Level Level

	// LogDir enables file logging. "~" expands to the home directory.
	// Files are named {service}_{date}.log and always JSON.
	LogDir string

	// Service is added to every record as the "service" attribute.
	Service string

	// JSON selects JSON instead of text for the console output.
	JSON bool

	// Quiet disables console output.
	Quiet bool

	// Output replaces stderr as the console destination.
	Output io.Writer

	// Exporter receives a copy of every entry at or above Level.
	Exporter LogExporter
}

// LogExporter ships log entries to an external system.
//
// Export is called synchronously by the goroutine that logs, so
// implementations must be safe for concurrent use and should buffer.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is one exported record.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Service   string         `json:"service,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Logger writes structured logs to the console, a file and an exporter.
//
// Every destination is an slog.Handler behind one fan-out handler, so
// records logged through Slog() by library packages reach the file and
// the exporter as well.
type Logger struct {
	slog    *slog.Logger
	service string
	sinks   *sinks
}

// sinks are the closable destinations shared by a Logger and its With
// children.
type sinks struct {
	mu       sync.Mutex
	file     *os.File
	exporter LogExporter
}

// New creates a Logger.
//
// Description:
//
//	Builds one slog handler per destination and fans records out to all
//	of them. A log directory that cannot be created or opened is skipped
//	silently so logging never prevents a command from running.
//
// Example:
//
//	logger := logging.New(logging.Config{Level: logging.LevelDebug, Service: "lineage"})
//	defer logger.Close()
//	analyzer := impact.NewAnalyzer(pub, impact.WithLogger(logger.Slog()))
func New(config Config) *Logger {
	level := config.Level.toSlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	out := &sinks{exporter: config.Exporter}

	var fanout multiHandler
	if !config.Quiet {
		w := config.Output
		if w == nil {
			w = os.Stderr
		}
		if config.JSON {
			fanout = append(fanout, slog.NewJSONHandler(w, opts))
		} else {
			fanout = append(fanout, slog.NewTextHandler(w, opts))
		}
	}
	if config.LogDir != "" {
		if f, err := openLogFile(config.LogDir, config.Service); err == nil {
			out.file = f
			fanout = append(fanout, slog.NewJSONHandler(f, opts))
		}
	}
	if config.Exporter != nil {
		fanout = append(fanout, &exportHandler{level: level, service: config.Service, exporter: config.Exporter})
	}

	var handler slog.Handler = fanout
	if len(fanout) == 0 {
		handler = slog.NewTextHandler(io.Discard, opts)
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	return &Logger{slog: slog.New(handler), service: config.Service, sinks: out}
}

// openLogFile opens {dir}/{service}_{date}.log for appending.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "lineage"
	}
	name := service + "_" + time.Now().Format(time.DateOnly) + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// Default returns an Info-level stderr logger for the "lineage" service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "lineage"})
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a Logger that adds args to every record. It shares the
// destinations of l; closing either closes both.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), service: l.service, sinks: l.sinks}
}

// Slog returns the underlying *slog.Logger for library packages.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter and closes the log file. Later calls are
// no-ops.
func (l *Logger) Close() error {
	s := l.sinks
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := s.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
		s.exporter = nil
	}
	if s.file != nil {
		if err := s.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := s.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		s.file = nil
	}
	return errors.Join(errs...)
}

// multiHandler fans records out to several handlers.
type multiHandler []slog.Handler

func (h multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithAttrs(attrs)
	}
	return out
}

func (h multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithGroup(name)
	}
	return out
}

// exportHandler turns records into LogEntry values for a LogExporter.
// Groups are flattened into dotted attribute keys.
type exportHandler struct {
	level    slog.Level
	service  string
	exporter LogExporter
	attrs    []slog.Attr
	group    string
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *exportHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	// Export errors are dropped; logging must not fail the caller.
	_ = h.exporter.Export(ctx, LogEntry{
		Timestamp: r.Time,
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	})
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		a.Key = h.key(a.Key)
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.group = h.key(name)
	return &c
}

func (h *exportHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// DefaultBufferCapacity is the number of entries a BufferedExporter keeps
// when created with a non-positive capacity.
const DefaultBufferCapacity = 256

// BufferedExporter keeps the most recent entries in memory. The watch
// server reads it to serve GET /logs.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// NewBufferedExporter creates a BufferedExporter holding at most capacity
// entries. Older entries are overwritten once it is full.
func NewBufferedExporter(capacity int) *BufferedExporter {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &BufferedExporter{entries: make([]LogEntry, capacity)}
}

func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[e.next] = entry
	e.next = (e.next + 1) % len(e.entries)
	if e.next == 0 {
		e.full = true
	}
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error { return nil }
func (e *BufferedExporter) Close() error                { return nil }

// Entries returns a copy of the kept entries, oldest first.
func (e *BufferedExporter) Entries() []LogEntry {
	return e.Recent(LevelDebug, 0)
}

// Recent returns the newest limit entries at or above floor, oldest first.
// A non-positive limit returns all of them.
func (e *BufferedExporter) Recent(floor Level, limit int) []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	ordered := e.entries[:e.next]
	if e.full {
		ordered = append(append(make([]LogEntry, 0, len(e.entries)), e.entries[e.next:]...), e.entries[:e.next]...)
	}
	out := make([]LogEntry, 0, len(ordered))
	for _, entry := range ordered {
		if entry.Level >= floor {
			out = append(out, entry)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

var _ LogExporter = (*BufferedExporter)(nil)
