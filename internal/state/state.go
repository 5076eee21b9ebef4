// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package state holds the opaque version payload (State) and its
// incremental delta (StateDiff), plus the machinery to decode one from the
// other and to forward-roll a State across a sequence of diffs.
package state

import (
	"time"

	"github.com/erigontech/stateversions/internal/paths"
	"github.com/erigontech/stateversions/kv"
)

// Timestamp is the minimal frontier-element constraint State needs: a
// total order, so Antichain can tell whether a point has passed a
// frontier. It stands in for the original's Lattice+Timestamp bound,
// scoped down to what this log's bookkeeping actually requires (the log
// never needs to join or meet timestamps, only compare them).
type Timestamp[T any] interface {
	Less(other T) bool
}

// Semigroup is the minimal accumulator constraint for the State's opaque
// update-count field: something that can be combined with another value of
// its own type. It stands in for the original's differential-dataflow
// Semigroup bound.
type Semigroup[D any] interface {
	Plus(other D) D
}

// LeaseId identifies a reader or writer holding a SeqNo-hold against a
// shard's seqno_since frontier.
type LeaseId string

// BatchPartRef is an opaque reference into the collection's batch
// inventory. The log never interprets its contents; it only carries them
// forward across diffs and counts them for metrics.
type BatchPartRef struct {
	Key  string
	Size int
}

// Antichain is a minimal frontier: a deduplicated, mutually-incomparable
// set of timestamps. Only the operations the state-versions log actually
// needs (membership test against a point) are implemented; this is not a
// general lattice library.
type Antichain[T Timestamp[T]] struct {
	Elements []T
}

// NewAntichain builds an Antichain from elems, removing any element that is
// dominated by another (a <= b for the comparison this package needs).
func NewAntichain[T Timestamp[T]](elems ...T) Antichain[T] {
	var out []T
	for _, e := range elems {
		dominated := false
		for _, o := range elems {
			if !interfaceEqual(e, o) && o.Less(e) {
				dominated = true
				break
			}
		}
		for _, kept := range out {
			if interfaceEqual(e, kept) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, e)
		}
	}
	return Antichain[T]{Elements: out}
}

func interfaceEqual[T any](a, b T) bool {
	return any(a) == any(b)
}

// LessEqual reports whether every element of the frontier is <= t, i.e.
// whether t has not yet passed the frontier.
func (a Antichain[T]) LessEqual(t T) bool {
	for _, e := range a.Elements {
		if !(e.Less(t) || interfaceEqual(e, t)) {
			return false
		}
	}
	return true
}

// Remainder is the State's black-box payload beyond the rollup registry:
// collection frontiers, the reader/writer lease table, and the batch
// inventory. The log treats its contents as opaque except where it needs
// them for metrics (seqno_since, encoded sizes, update counts).
type Remainder[T Timestamp[T], D Semigroup[D]] struct {
	Since       Antichain[T]
	Upper       Antichain[T]
	Leases      map[LeaseId]kv.SeqNo
	BatchParts  []BatchPartRef
	Updates     D
	EncodedSize int
}

// SeqnoSince is the oldest SeqNo any lease in r still holds, i.e. the GC
// frontier below which earliest must not advance (invariant 4). An
// unleased shard has no floor, so the caller's own `current` is returned.
func (r Remainder[T, D]) SeqnoSince(current kv.SeqNo) kv.SeqNo {
	since := current
	for _, held := range r.Leases {
		if held < since {
			since = held
		}
	}
	return since
}

// BatchPartCount and EncodedBatchSize back the teacher's
// shard_metrics.set_batch_part_count / set_largest_batch_size /
// set_encoded_batch_size call sites (see DESIGN.md).
func (r Remainder[T, D]) BatchPartCount() int { return len(r.BatchParts) }

func (r Remainder[T, D]) LargestBatchSize() int {
	largest := 0
	for _, p := range r.BatchParts {
		if p.Size > largest {
			largest = p.Size
		}
	}
	return largest
}

func (r Remainder[T, D]) EncodedBatchSize() int {
	total := 0
	for _, p := range r.BatchParts {
		total += p.Size
	}
	return total
}

// State is the reconstructible metadata snapshot at a specific SeqNo: a
// rollup registry (SeqNo -> PartialRollupKey) plus the opaque Remainder.
// K and V parameterize the collection's key/value types purely for the
// caller's type safety; the log never reads or writes through them.
type State[K any, V any, T Timestamp[T], D Semigroup[D]] struct {
	BuildVersion string
	ShardId      kv.ShardId
	SeqNo        kv.SeqNo
	Hostname     string
	Now          time.Time
	Rollups      map[kv.SeqNo]paths.PartialRollupKey
	Remainder    Remainder[T, D]
}

// NewEmptyState constructs the SeqNo(0) "before-first" State used as the
// starting point for shard initialization.
func NewEmptyState[K any, V any, T Timestamp[T], D Semigroup[D]](buildVersion string, shardID kv.ShardId, hostname string, now time.Time) *State[K, V, T, D] {
	return &State[K, V, T, D]{
		BuildVersion: buildVersion,
		ShardId:      shardID,
		SeqNo:        kv.SeqNoMin,
		Hostname:     hostname,
		Now:          now,
		Rollups:      map[kv.SeqNo]paths.PartialRollupKey{},
	}
}

// Clone deep-copies s. Used by CloneApply so a failed or no-op mutation
// never corrupts the caller's original.
func (s *State[K, V, T, D]) Clone() *State[K, V, T, D] {
	clone := *s
	clone.Rollups = make(map[kv.SeqNo]paths.PartialRollupKey, len(s.Rollups))
	for k, v := range s.Rollups {
		clone.Rollups[k] = v
	}
	clone.Remainder.Leases = make(map[LeaseId]kv.SeqNo, len(s.Remainder.Leases))
	for k, v := range s.Remainder.Leases {
		clone.Remainder.Leases[k] = v
	}
	clone.Remainder.BatchParts = append([]BatchPartRef(nil), s.Remainder.BatchParts...)
	clone.Remainder.Since.Elements = append([]T(nil), s.Remainder.Since.Elements...)
	clone.Remainder.Upper.Elements = append([]T(nil), s.Remainder.Upper.Elements...)
	return &clone
}

// CloneApply clones s, applies mutate to the clone, and bumps the clone's
// SeqNo iff mutate reports a real change. It never mutates s itself,
// mirroring the original's clone_apply/NoOpStateTransition split without
// needing a ControlFlow sum type.
func (s *State[K, V, T, D]) CloneApply(mutate func(*State[K, V, T, D]) bool) (applied bool, next *State[K, V, T, D]) {
	clone := s.Clone()
	applied = mutate(clone)
	if applied {
		clone.SeqNo = s.SeqNo.Next()
	}
	return applied, clone
}

// AddAndRemoveRollups mutates the rollup registry: optionally inserting
// (addSeqNo -> *add), then deleting every entry named in remove. Reports
// whether the registry actually changed, so CloneApply can decide whether
// to bump the SeqNo.
func (s *State[K, V, T, D]) AddAndRemoveRollups(addSeqNo kv.SeqNo, add *paths.PartialRollupKey, remove []kv.SeqNo) bool {
	changed := false
	if add != nil {
		if existing, ok := s.Rollups[addSeqNo]; !ok || existing != *add {
			s.Rollups[addSeqNo] = *add
			changed = true
		}
	}
	for _, r := range remove {
		if _, ok := s.Rollups[r]; ok {
			delete(s.Rollups, r)
			changed = true
		}
	}
	return changed
}

// LatestRollup returns the registry entry with the largest SeqNo key, i.e.
// the most recently registered rollup. Panics if the registry is empty;
// every non-empty State has at least one rollup registered by invariant 3.
func (s *State[K, V, T, D]) LatestRollup() (kv.SeqNo, paths.PartialRollupKey) {
	var (
		maxSeq kv.SeqNo
		key    paths.PartialRollupKey
		found  bool
	)
	for seq, k := range s.Rollups {
		if !found || seq > maxSeq {
			maxSeq, key, found = seq, k, true
		}
	}
	if !found {
		panic("state: LatestRollup called on a State with no rollups registered")
	}
	return maxSeq, key
}
