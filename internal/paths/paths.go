// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package paths

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/erigontech/stateversions/kv"
)

// RollupId disambiguates rollups written for the same SeqNo (e.g. two
// racing initializers at SeqNo 1): it's part of the content address, not a
// version number.
type RollupId uuid.UUID

// NewRollupId generates a fresh, random RollupId.
func NewRollupId() RollupId {
	return RollupId(uuid.New())
}

func (r RollupId) String() string { return uuid.UUID(r).String() }

func parseRollupId(s string) (RollupId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RollupId{}, fmt.Errorf("paths: invalid rollup id %q: %w", s, err)
	}
	return RollupId(id), nil
}

// PartialRollupKey is a content-addressed key for a rollup blob, built from
// the SeqNo it was written at and a freshly generated RollupId. It's
// "partial" because it doesn't yet know which shard it belongs to; combine
// it with a ShardId via Complete to get the fully qualified BlobKey.
type PartialRollupKey struct {
	SeqNo kv.SeqNo
	ID    RollupId
}

// NewPartialRollupKey builds a fresh key for a rollup at seqno.
func NewPartialRollupKey(seqno kv.SeqNo) PartialRollupKey {
	return PartialRollupKey{SeqNo: seqno, ID: NewRollupId()}
}

func (k PartialRollupKey) String() string {
	return fmt.Sprintf("%s-%s", k.SeqNo, k.ID)
}

// Complete qualifies k with shardID to produce the full Blob key.
func (k PartialRollupKey) Complete(shardID kv.ShardId) BlobKey {
	return BlobKey(shardID.String() + "/" + k.String())
}

// BlobKey is a fully qualified key into the Blob store: "{shard_id}/{rest}".
type BlobKey string

func (k BlobKey) String() string { return string(k) }

// ParseBlobKey splits a fully qualified key into its shard and the
// classified, parsed remainder. A parse failure on a key the caller
// expected to be a rollup key is a fatal, surfaced invariant violation
// (corrupt metadata) per the contract edge in the recent-diff fetch
// algorithm; a parse failure on a key the caller is merely iterating
// (Kind == KindUnknown) is not.
func ParseBlobKey(key BlobKey) (kv.ShardId, Kind, *PartialRollupKey, error) {
	s := string(key)
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return "", KindUnknown, nil, fmt.Errorf("paths: malformed blob key %q: missing shard separator", s)
	}
	shardID, rest := kv.ShardId(s[:idx]), s[idx+1:]

	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return shardID, KindUnknown, nil, nil
	}
	seqno, err := kv.ParseSeqNo(rest[:dash])
	if err != nil {
		return shardID, KindUnknown, nil, nil
	}
	id, err := parseRollupId(rest[dash+1:])
	if err != nil {
		return shardID, KindUnknown, nil, nil
	}
	return shardID, KindRollup, &PartialRollupKey{SeqNo: seqno, ID: id}, nil
}

// ParseRollupKeyOrPanic parses a fully qualified blob key that must name a
// rollup of shardID. A parse failure, a key of another kind, or a key of
// another shard is always fatal: it means the metadata is corrupt, not
// merely that the caller guessed wrong about the key's kind.
func ParseRollupKeyOrPanic(shardID kv.ShardId, key BlobKey) PartialRollupKey {
	gotShard, kind, parsed, err := ParseBlobKey(key)
	if err != nil {
		panic(fmt.Sprintf("paths: unparseable state diff rollup key %q: %v", key, err))
	}
	if kind != KindRollup || parsed == nil {
		panic(fmt.Sprintf("paths: invalid state diff rollup key %q: not a rollup key", key))
	}
	if gotShard != shardID {
		panic(fmt.Sprintf("paths: rollup key %q does not belong to shard %q", key, shardID))
	}
	return *parsed
}
