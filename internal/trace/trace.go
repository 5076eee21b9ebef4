// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package trace is the structured logging surface the rest of the module
// uses: key-value pairs the way erigon-lib/log/v3 is called elsewhere in
// this codebase, backed here by zap so one vocabulary (Info/Warn/Error)
// covers both console and production deployments.
package trace

import (
	"context"

	"go.uber.org/zap"
)

// Logger wraps zap.SugaredLogger. It carries no fields of its own; With
// returns a Logger that adds fixed key-value pairs (e.g. a shard tag) to
// every later call, so call sites don't have to repeat them.
type Logger struct {
	s *zap.SugaredLogger
}

// New builds a Logger backed by a production zap.Logger.
func New() *Logger {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	return &Logger{s: l.Sugar()}
}

// NewNop builds a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// With returns a Logger that always includes the given key-value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

func (l *Logger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l *Logger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }

func (l *Logger) Sync() error { return l.s.Sync() }

type ctxKey struct{}

// Into attaches l to ctx so deep call chains (retry loops, GC) can recover
// the caller's shard-tagged logger without threading it through every
// signature.
func Into(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From recovers the Logger attached by Into, or a no-op Logger if ctx
// carries none.
func From(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
