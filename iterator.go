// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package stateversions

import (
	"fmt"

	"github.com/erigontech/stateversions/internal/state"
	"github.com/erigontech/stateversions/kv"
)

// StateVersionsIter replays a shard's full diff history one version at a
// time, starting from a rollup (current holds the State already
// reconstructed at that rollup's SeqNo) and the diffs after it. It holds
// the diffs already fetched by FetchAllLiveStates, so it does not issue
// further Consensus calls; it is not safe for concurrent use by multiple
// goroutines.
type StateVersionsIter[K any, V any, T state.Timestamp[T], D state.Semigroup[D]] struct {
	diffs        []kv.VersionedData
	idx          int
	started      bool
	current      *state.State[K, V, T, D]
	buildVersion string
}

// Next advances the iterator by one diff and returns the resulting State.
// The very first call yields the starting rollup's own State without
// consuming a diff; every call after that replays one diff. The returned
// bool is false once every diff has been replayed; a returned error means
// a diff failed to decode or apply and the iterator must not be used
// further.
func (it *StateVersionsIter[K, V, T, D]) Next() (*state.State[K, V, T, D], bool, error) {
	if !it.started {
		it.started = true
		return it.current.Clone(), true, nil
	}
	if it.idx >= len(it.diffs) {
		return nil, false, nil
	}
	vd := it.diffs[it.idx]
	it.idx++
	if err := it.current.ApplyEncodedDiffs(it.buildVersion, []kv.VersionedData{vd}); err != nil {
		return nil, false, fmt.Errorf("stateversions: replaying diff at seqno %s: %w", vd.SeqNo, err)
	}
	return it.current.Clone(), true, nil
}

// Remaining reports how many States this iterator has not yet yielded,
// including the not-yet-emitted starting rollup.
func (it *StateVersionsIter[K, V, T, D]) Remaining() int {
	n := len(it.diffs) - it.idx
	if !it.started {
		n++
	}
	return n
}
