// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package logging holds the silent-by-default slog plumbing shared by every
// webtex package. The root package's SetLogger fans a logger out to each
// package's Logger value.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var nop = slog.New(nopHandler{})

// Nop returns a logger that discards all output.
func Nop() *slog.Logger { return nop }

// Logger is an atomically replaceable logger. The zero value logs nothing.
type Logger struct {
	p atomic.Pointer[slog.Logger]
}

// Get returns the current logger, never nil.
func (l *Logger) Get() *slog.Logger {
	if p := l.p.Load(); p != nil {
		return p
	}
	return nop
}

// Set stores l. Passing nil restores silent behavior.
func (l *Logger) Set(s *slog.Logger) {
	if s == nil {
		s = nop
	}
	l.p.Store(s)
}
