// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package state

import (
	"fmt"

	"github.com/erigontech/stateversions/internal/paths"
	"github.com/erigontech/stateversions/kv"
)

// RollupDiffKind classifies a single rollup-registry mutation carried by a
// StateDiff.
type RollupDiffKind int

const (
	RollupDiffInsert RollupDiffKind = iota
	RollupDiffDelete
)

func (k RollupDiffKind) String() string {
	switch k {
	case RollupDiffInsert:
		return "insert"
	case RollupDiffDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RollupFieldDiff is one entry in a StateDiff's rollup-registry delta: the
// registration or removal of a single (SeqNo -> PartialRollupKey) pair.
// fetch_rollup_at_seqno's migration shim scans these directly when a
// State's own registry has already dropped the entry it needs.
type RollupFieldDiff struct {
	SeqNo kv.SeqNo
	Kind  RollupDiffKind
	Key   paths.PartialRollupKey // zero value when Kind == RollupDiffDelete
}

// StateDiff is the incremental change from SeqNoFrom to SeqNoTo. Every
// diff denormalizes LatestRollupKey: the most-recently-registered rollup
// key as of SeqNoTo, regardless of whether this particular diff touched
// the registry. That denormalization is what lets fetch_recent_live_diffs'
// slow path recover a usable rollup from an arbitrary diff in the tail.
type StateDiff[T Timestamp[T], D Semigroup[D]] struct {
	BuildVersion    string
	ShardId         kv.ShardId
	SeqNoFrom       kv.SeqNo
	SeqNoTo         kv.SeqNo
	LatestRollupKey paths.PartialRollupKey
	Rollups         []RollupFieldDiff

	NewSince *Antichain[T]
	NewUpper *Antichain[T]

	LeaseUpserts  map[LeaseId]kv.SeqNo
	LeaseRemovals []LeaseId

	BatchPartInserts     []BatchPartRef
	BatchPartRemovalKeys []string

	UpdatesDelta D
}

// NewStateDiff captures the difference between before and after, which
// must satisfy after.SeqNo == before.SeqNo.Next(). It denormalizes
// LatestRollupKey from after's registry, per the rule above.
func NewStateDiff[K any, V any, T Timestamp[T], D Semigroup[D]](before, after *State[K, V, T, D], updatesDelta D) (*StateDiff[T, D], error) {
	if after.SeqNo != before.SeqNo.Next() {
		return nil, fmt.Errorf("state: NewStateDiff requires after.SeqNo == before.SeqNo.Next(), got %s -> %s", before.SeqNo, after.SeqNo)
	}
	_, latest := after.LatestRollup()

	diff := &StateDiff[T, D]{
		BuildVersion:    after.BuildVersion,
		ShardId:         after.ShardId,
		SeqNoFrom:       before.SeqNo,
		SeqNoTo:         after.SeqNo,
		LatestRollupKey: latest,
		Rollups:         diffRollups(before.Rollups, after.Rollups),
		UpdatesDelta:    updatesDelta,
	}
	if !sameAntichain(before.Remainder.Since, after.Remainder.Since) {
		since := after.Remainder.Since
		diff.NewSince = &since
	}
	if !sameAntichain(before.Remainder.Upper, after.Remainder.Upper) {
		upper := after.Remainder.Upper
		diff.NewUpper = &upper
	}
	for id, seq := range after.Remainder.Leases {
		if prev, ok := before.Remainder.Leases[id]; !ok || prev != seq {
			if diff.LeaseUpserts == nil {
				diff.LeaseUpserts = map[LeaseId]kv.SeqNo{}
			}
			diff.LeaseUpserts[id] = seq
		}
	}
	for id := range before.Remainder.Leases {
		if _, ok := after.Remainder.Leases[id]; !ok {
			diff.LeaseRemovals = append(diff.LeaseRemovals, id)
		}
	}
	if added := len(after.Remainder.BatchParts) - len(before.Remainder.BatchParts); added > 0 {
		diff.BatchPartInserts = append(diff.BatchPartInserts, after.Remainder.BatchParts[len(before.Remainder.BatchParts):]...)
	}
	return diff, nil
}

func sameAntichain[T Timestamp[T]](a, b Antichain[T]) bool {
	if len(a.Elements) != len(b.Elements) {
		return false
	}
	for i := range a.Elements {
		if !interfaceEqual(a.Elements[i], b.Elements[i]) {
			return false
		}
	}
	return true
}

func diffRollups(before, after map[kv.SeqNo]paths.PartialRollupKey) []RollupFieldDiff {
	var out []RollupFieldDiff
	for seq, key := range after {
		if prev, ok := before[seq]; !ok || prev != key {
			out = append(out, RollupFieldDiff{SeqNo: seq, Kind: RollupDiffInsert, Key: key})
		}
	}
	for seq := range before {
		if _, ok := after[seq]; !ok {
			out = append(out, RollupFieldDiff{SeqNo: seq, Kind: RollupDiffDelete})
		}
	}
	return out
}

// ApplyTo forward-rolls d onto remainder in place, mirroring
// apply_encoded_diffs' per-field application. Frontier replacement is
// wholesale (a diff that changes a frontier carries the whole new
// frontier, not a delta; an unchanged frontier is left as it is);
// leases and batch parts are upsert/remove; Updates is accumulated via
// Plus, matching the differential-dataflow semigroup it stands in for.
func (d *StateDiff[T, D]) ApplyTo(r *Remainder[T, D]) {
	if d.NewSince != nil {
		r.Since = *d.NewSince
	}
	if d.NewUpper != nil {
		r.Upper = *d.NewUpper
	}
	if len(d.LeaseUpserts) > 0 {
		if r.Leases == nil {
			r.Leases = make(map[LeaseId]kv.SeqNo, len(d.LeaseUpserts))
		}
		for id, seq := range d.LeaseUpserts {
			r.Leases[id] = seq
		}
	}
	for _, id := range d.LeaseRemovals {
		delete(r.Leases, id)
	}
	if len(d.BatchPartInserts) > 0 {
		r.BatchParts = append(r.BatchParts, d.BatchPartInserts...)
	}
	if len(d.BatchPartRemovalKeys) > 0 {
		remove := make(map[string]struct{}, len(d.BatchPartRemovalKeys))
		for _, k := range d.BatchPartRemovalKeys {
			remove[k] = struct{}{}
		}
		kept := r.BatchParts[:0]
		for _, p := range r.BatchParts {
			if _, drop := remove[p.Key]; !drop {
				kept = append(kept, p)
			}
		}
		r.BatchParts = kept
	}
	r.Updates = r.Updates.Plus(d.UpdatesDelta)
}

// ApplyRollupsTo forward-rolls d's registry delta onto rollups in place.
func (d *StateDiff[T, D]) ApplyRollupsTo(rollups map[kv.SeqNo]paths.PartialRollupKey) {
	for _, rd := range d.Rollups {
		switch rd.Kind {
		case RollupDiffInsert:
			rollups[rd.SeqNo] = rd.Key
		case RollupDiffDelete:
			delete(rollups, rd.SeqNo)
		}
	}
}

// ApplyEncodedDiffs decodes and forward-rolls each of diffs onto s, in
// order. Every diff must chain exactly onto the current SeqNo; a gap or
// overlap is a fatal invariant violation (contiguous SeqNo range), not a
// recoverable error, since it means the caller handed us a non-contiguous
// tail.
func (s *State[K, V, T, D]) ApplyEncodedDiffs(buildVersion string, diffs []kv.VersionedData) error {
	for _, vd := range diffs {
		diff, err := DecodeStateDiff[T, D](buildVersion, vd.Data)
		if err != nil {
			return fmt.Errorf("state: decoding diff at seqno %s: %w", vd.SeqNo, err)
		}
		if diff.SeqNoFrom != s.SeqNo {
			panic(fmt.Sprintf("state: non-contiguous diff application: state at %s, diff covers %s..%s", s.SeqNo, diff.SeqNoFrom, diff.SeqNoTo))
		}
		diff.ApplyRollupsTo(s.Rollups)
		diff.ApplyTo(&s.Remainder)
		s.SeqNo = diff.SeqNoTo
	}
	return nil
}
