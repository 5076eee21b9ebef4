// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package memkv

import (
	"context"
	"sync"

	"github.com/erigontech/stateversions/kv"
)

// Blob is an in-process, map-backed implementation of kv.Blob. Every write
// is atomic by construction (a single map assignment under the lock), so
// the atomic parameter is accepted but has no distinct code path here.
type Blob struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlob returns an empty Blob.
func NewBlob() *Blob {
	return &Blob{data: make(map[string][]byte)}
}

// Get implements kv.Blob.
func (b *Blob) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements kv.Blob.
func (b *Blob) Set(ctx context.Context, key string, data []byte, atomic bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = cp
	return nil
}

// Delete implements kv.Blob.
func (b *Blob) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

var _ kv.Blob = (*Blob)(nil)
