// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package memkv is an in-memory implementation of the kv.Consensus and
// kv.Blob contracts, for tests and local development. Consensus keeps each
// path's versions in a btree.BTreeG ordered by SeqNo so Scan and Truncate
// never need to sort or do a full linear pass.
package memkv

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/erigontech/stateversions/kv"
)

type versionedEntry struct {
	kv.VersionedData
}

func versionedEntryLess(a, b versionedEntry) bool {
	return a.SeqNo < b.SeqNo
}

// Consensus is a btree-backed, in-process implementation of kv.Consensus.
// Safe for concurrent use.
type Consensus struct {
	mu    sync.Mutex
	paths map[string]*btree.BTreeG[versionedEntry]
}

// NewConsensus returns an empty Consensus.
func NewConsensus() *Consensus {
	return &Consensus{paths: make(map[string]*btree.BTreeG[versionedEntry])}
}

func (c *Consensus) treeLocked(path string) *btree.BTreeG[versionedEntry] {
	t, ok := c.paths[path]
	if !ok {
		t = btree.NewG(32, versionedEntryLess)
		c.paths[path] = t
	}
	return t
}

// CompareAndSet implements kv.Consensus.
func (c *Consensus) CompareAndSet(ctx context.Context, path string, expected *kv.SeqNo, newData kv.VersionedData) (bool, []kv.VersionedData, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.treeLocked(path)
	var tip *kv.SeqNo
	t.Descend(func(e versionedEntry) bool {
		seq := e.SeqNo
		tip = &seq
		return false
	})

	matches := (expected == nil && tip == nil) || (expected != nil && tip != nil && *expected == *tip)
	if !matches {
		return false, liveTail(t), nil
	}
	t.ReplaceOrInsert(versionedEntry{newData})
	return true, nil, nil
}

// Scan implements kv.Consensus.
func (c *Consensus) Scan(ctx context.Context, path string, from kv.SeqNo, limit int) ([]kv.VersionedData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.treeLocked(path)
	var out []kv.VersionedData
	t.AscendGreaterOrEqual(versionedEntry{kv.VersionedData{SeqNo: from}}, func(e versionedEntry) bool {
		out = append(out, e.VersionedData)
		return limit == kv.ScanAll || len(out) < limit
	})
	return out, nil
}

// Head implements kv.Consensus.
func (c *Consensus) Head(ctx context.Context, path string) (*kv.VersionedData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.treeLocked(path)
	var head *kv.VersionedData
	t.Descend(func(e versionedEntry) bool {
		vd := e.VersionedData
		head = &vd
		return false
	})
	return head, nil
}

// Truncate implements kv.Consensus.
func (c *Consensus) Truncate(ctx context.Context, path string, seqno kv.SeqNo) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.treeLocked(path)
	var toDelete []versionedEntry
	t.AscendLessThan(versionedEntry{kv.VersionedData{SeqNo: seqno}}, func(e versionedEntry) bool {
		toDelete = append(toDelete, e)
		return true
	})
	for _, e := range toDelete {
		t.Delete(e)
	}
	return len(toDelete), nil
}

func liveTail(t *btree.BTreeG[versionedEntry]) []kv.VersionedData {
	var out []kv.VersionedData
	t.Ascend(func(e versionedEntry) bool {
		out = append(out, e.VersionedData)
		return true
	})
	return out
}

var _ kv.Consensus = (*Consensus)(nil)
