// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package paths owns the Consensus path and Blob key scheme for a shard:
// how a ShardId becomes a Consensus path, how a rollup's SeqNo and RollupId
// become a Blob key, and how to parse a key back into its parts.
package paths

// SchemaVersion records the on-disk/on-wire layout of blob keys under a
// shard prefix. Bump it (and extend ParseBlobKey) whenever the key layout
// changes in a way old readers can't already tolerate.
//
//  1.0 - initial layout: "{shard_id}/{seqno}-{rollup_id}" identifies a
//        rollup blob. No other key kinds exist under the shard prefix yet,
//        but the leading "{shard_id}/" prefix is reserved so a future kind
//        (e.g. a secondary index) can live alongside rollups without
//        colliding, the same way tables.go reserves flat namespace slots
//        for tables that don't exist yet.
const SchemaVersion = "1.0"

// Kind classifies a key found under a shard's Blob prefix.
type Kind int

const (
	// KindRollup identifies a full serialized State snapshot.
	KindRollup Kind = iota
	// KindUnknown is returned for a well-formed shard-prefixed key whose
	// suffix doesn't match any known Kind. Non-fatal for general
	// iteration; fatal when the caller specifically expected a rollup key
	// (see ParseBlobKey's doc comment).
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindRollup:
		return "rollup"
	default:
		return "unknown"
	}
}
