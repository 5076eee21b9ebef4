// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package kv defines the Consensus and Blob contracts the state versions
// log is built on, plus the handful of small value types (SeqNo, ShardId,
// VersionedData) shared across the module. It is independent of any
// concrete backend: see kv/memkv for an in-memory implementation used by
// tests and local development.
package kv

import (
	"context"
	"errors"
)

// ScanAll requests no limit from Consensus.Scan.
const ScanAll = 0

// ShardId is an opaque shard identifier. Its string form is used to derive
// the Consensus path and the Blob key prefix for everything belonging to
// the shard.
type ShardId string

func (s ShardId) String() string { return string(s) }

// VersionedData is the opaque unit stored in Consensus: an encoded State
// diff (or, at SeqNo 1, the initial diff) tagged with the SeqNo it was
// written at.
type VersionedData struct {
	SeqNo SeqNo
	Data  []byte
}

// ErrIndeterminate is returned by Consensus.CompareAndSet when the backend
// cannot certify whether the write took effect (a non-deterministic
// transport fault during the CAS itself). Callers must not retry the CAS
// blindly; they must refetch current state and decide from there whether
// their write landed. See internal/retry for the determinate/external
// retry split this implies.
var ErrIndeterminate = errors.New("kv: indeterminate compare-and-set outcome")

// Consensus is the CAS-capable key-to-version log the state versions log is
// built on. Implementations must be safe for concurrent use by multiple
// goroutines; no operation here may assume exclusive access to path.
type Consensus interface {
	// CompareAndSet atomically appends new at path iff the path's current
	// tip SeqNo equals expected (nil expected means "path must not yet
	// exist"). On success ok is true. On a lost race ok is false and
	// liveTail holds every VersionedData currently stored at path, so the
	// caller can rebase without an extra round trip. err is non-nil only
	// for a genuine transport fault; a lost race is not an error.
	CompareAndSet(ctx context.Context, path string, expected *SeqNo, new VersionedData) (ok bool, liveTail []VersionedData, err error)

	// Scan returns every VersionedData at path with SeqNo >= from, in
	// ascending SeqNo order, capped at limit entries (ScanAll for no cap).
	Scan(ctx context.Context, path string, from SeqNo, limit int) ([]VersionedData, error)

	// Head returns the largest-SeqNo VersionedData at path, or nil if path
	// has never been written.
	Head(ctx context.Context, path string) (*VersionedData, error)

	// Truncate deletes every VersionedData at path with SeqNo < seqno and
	// reports how many entries were removed. Idempotent: truncating twice
	// at the same seqno deletes nothing the second time.
	Truncate(ctx context.Context, path string, seqno SeqNo) (deleted int, err error)
}

// Blob is an object-keyed byte store with atomic writes. Implementations
// must be safe for concurrent use by multiple goroutines.
type Blob interface {
	// Get returns the bytes at key, or (nil, nil) if key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes data at key. When atomic is true the write must be
	// all-or-nothing: a concurrent Get must never observe a partial
	// write.
	Set(ctx context.Context, key string, data []byte, atomic bool) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
