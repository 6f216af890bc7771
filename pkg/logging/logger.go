// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides the structured logger used by the tidewater
// client components and CLI.
//
// # Description
//
// The relay service logs straight to slog's JSON handler; client-side
// code has different needs. A terminal user wants readable text on
// stderr while an answer stream renders on stdout, and tests want to
// capture entries without scraping handler output. This package wraps
// slog with a small Logger that can fan entries out to an optional
// Exporter alongside the primary handler.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo})
//	logger.Info("session opened", "sessionId", id)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ===== Levels =====

// Level is the logger's severity scale. It maps onto slog levels; the
// indirection keeps callers off slog constants so the CLI flag parser
// owns the string forms.
type Level int

const (
	// LevelDebug enables per-chunk and per-frame detail.
	LevelDebug Level = iota

	// LevelInfo is the default operating level.
	LevelInfo

	// LevelWarn reports recoverable anomalies such as dropped status
	// events for unknown sessions.
	LevelWarn

	// LevelError reports failures the user will notice.
	LevelError
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name to a Level, defaulting to LevelInfo
// for unrecognized input.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
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

// ===== Configuration =====

// Config controls Logger construction.
//
// # Fields
//
//   - Level: Minimum severity emitted. Defaults to LevelInfo semantics
//     via the zero value ordering (LevelDebug=0 means "everything", so
//     callers wanting the usual default should pass LevelInfo).
//   - JSON: Emit JSON records instead of text. The CLI keeps text so
//     log lines stay readable next to a rendering stream.
//   - Output: Destination writer. Defaults to os.Stderr so log lines
//     never mix into piped answer output on stdout.
//   - Exporter: Optional secondary sink receiving every emitted entry.
type Config struct {
	Level    Level
	JSON     bool
	Output   io.Writer
	Exporter Exporter
}

// ===== Exporters =====

// Entry is one emitted log record as seen by an Exporter.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Attrs   map[string]any
}

// Exporter receives a copy of every entry the Logger emits at or above
// its configured level. Implementations must be safe for concurrent use.
type Exporter interface {
	Export(entry Entry)
}

// CaptureExporter records entries in memory. Tests use it to assert on
// warnings without parsing handler output.
type CaptureExporter struct {
	mu      sync.Mutex
	entries []Entry
}

// Export appends the entry. Safe for concurrent use.
func (e *CaptureExporter) Export(entry Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
}

// Entries returns a copy of everything captured so far.
func (e *CaptureExporter) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

var _ Exporter = (*CaptureExporter)(nil)

// ===== Logger =====

// Logger is a leveled structured logger.
//
// # Thread Safety
//
// Thread-safe. The underlying slog handler serializes writes; the
// exporter hook runs on the calling goroutine after the handler.
type Logger struct {
	slogger  *slog.Logger
	level    Level
	exporter Exporter
}

// New creates a Logger from the given configuration.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	var handler slog.Handler
	if config.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{
		slogger:  slog.New(handler),
		level:    config.Level,
		exporter: config.Exporter,
	}
}

// Default returns a text logger at LevelInfo writing to stderr.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

// Discard returns a Logger that drops everything. Library types use it
// when the caller did not supply a logger.
func Discard() *Logger {
	return New(Config{Level: LevelError, Output: io.Discard})
}

// Debug logs at debug level with alternating key/value args.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs at info level with alternating key/value args.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs at warn level with alternating key/value args.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs at error level with alternating key/value args.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a Logger carrying the given attributes on every entry.
// The exporter, if any, is shared with the parent.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slogger:  l.slogger.With(args...),
		level:    l.level,
		exporter: l.exporter,
	}
}

// Slog exposes the underlying slog.Logger for packages that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

func (l *Logger) log(level Level, msg string, args ...any) {
	if level < l.level {
		return
	}

	switch level {
	case LevelDebug:
		l.slogger.Debug(msg, args...)
	case LevelWarn:
		l.slogger.Warn(msg, args...)
	case LevelError:
		l.slogger.Error(msg, args...)
	default:
		l.slogger.Info(msg, args...)
	}

	if l.exporter != nil {
		l.exporter.Export(Entry{
			Time:    time.Now(),
			Level:   level,
			Message: msg,
			Attrs:   argsToMap(args),
		})
	}
}

// argsToMap converts slog-style alternating key/value args. A trailing
// key without a value is kept with a nil value; non-string keys are
// skipped rather than guessed at.
func argsToMap(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	attrs := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(args) {
			attrs[key] = args[i+1]
		} else {
			attrs[key] = nil
		}
	}
	return attrs
}
