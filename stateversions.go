// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package stateversions is the entry point for a shard's durable,
// truncatable version log: shard initialization, CAS-based proposal of
// the next version, current-state and full-history reads, GC truncation,
// and rollup blob lifecycle. It coordinates a kv.Consensus (the ordered
// log of StateDiffs) with a kv.Blob (content-addressed rollup snapshots).
package stateversions

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/erigontech/stateversions/config"
	"github.com/erigontech/stateversions/internal/metrics"
	"github.com/erigontech/stateversions/internal/paths"
	"github.com/erigontech/stateversions/internal/retry"
	"github.com/erigontech/stateversions/internal/state"
	"github.com/erigontech/stateversions/internal/trace"
	"github.com/erigontech/stateversions/kv"
)

// maxStaleRollupRetries bounds the self-heal loop in
// fetchCurrentStateUncoalesced and FetchAllLiveStates: a concurrent GC can
// reclaim the rollup a hint points at between the diff scan and the blob
// fetch, and each retry re-scans and tries again. This is a backstop against
// a pathological GC/read race, not an expected steady-state path.
const maxStaleRollupRetries = 8

// ErrUninitialized is returned by FetchCurrentState and FetchAllLiveStates
// when the shard has never had a version written (MaybeInitShard takes it
// as the signal to create the shard): invariant 1 (shard-initialized iff
// >= 1 VersionedData) means this is the only time a read legitimately
// finds nothing.
var ErrUninitialized = errors.New("stateversions: shard has not been initialized")

// StateVersions is a handle onto a single shard's version log. K and V
// parameterize the collection's key/value types purely for the caller's
// type safety; T is the collection's timestamp type and D its
// differential update-count type.
type StateVersions[K any, V any, T state.Timestamp[T], D state.Semigroup[D]] struct {
	consensus    kv.Consensus
	blob         kv.Blob
	cfg          *config.Config
	metrics      *metrics.ShardMetrics
	shardID      kv.ShardId
	path         string
	buildVersion string

	// fetchGroup coalesces concurrent FetchCurrentState calls against this
	// shard into a single Consensus/Blob round trip: readers racing each
	// other after a write (e.g. several goroutines woken by the same
	// notification) would otherwise all replay the same fast/slow-path
	// fetch independently.
	fetchGroup singleflight.Group

	// rollupCache holds recently decoded rollup blobs, keyed by blob key.
	// A rollup's content is immutable once written (it's content-addressed
	// by SeqNo), so a decoded entry never goes stale; it only ever falls
	// out of the cache by LRU eviction. Callers always get back a Clone,
	// never the cached pointer itself, so applying diffs on top of a
	// fetched base never corrupts the cached copy.
	rollupCache *lru.Cache[string, *state.State[K, V, T, D]]
}

// rollupCacheSize bounds the decoded-rollup cache. A handle typically
// only ever touches a handful of distinct rollups at once (the current
// one plus whatever FetchRollupAtSeqno/FetchRollupAtKey callers are
// replaying), so this stays small on purpose.
const rollupCacheSize = 32

// NewStateVersions builds a handle for shardID, registering its metrics
// against reg.
func NewStateVersions[K any, V any, T state.Timestamp[T], D state.Semigroup[D]](cfg *config.Config, consensus kv.Consensus, blob kv.Blob, reg prometheus.Registerer, shardID kv.ShardId) *StateVersions[K, V, T, D] {
	cache, err := lru.New[string, *state.State[K, V, T, D]](rollupCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// rollupCacheSize never is.
		panic(err)
	}
	return &StateVersions[K, V, T, D]{
		consensus:    consensus,
		blob:         blob,
		cfg:          cfg,
		metrics:      metrics.New(reg, shardID.String()),
		shardID:      shardID,
		path:         shardID.String(),
		buildVersion: cfg.BuildVersion,
		rollupCache:  cache,
	}
}

// Close unregisters sv's metrics. It does not close consensus or blob,
// which may be shared across shards.
func (sv *StateVersions[K, V, T, D]) Close() {
	sv.metrics.Unregister()
}

// MaybeInitShard initializes the shard if it has never been written
// (first-writer-wins CAS against an empty Consensus path), or returns the
// existing current state if it has. Safe to call concurrently from many
// processes racing to create the same shard; exactly one of them performs
// the write and the rest simply read back what it wrote.
func (sv *StateVersions[K, V, T, D]) MaybeInitShard(ctx context.Context) (*state.State[K, V, T, D], error) {
	existing, err := sv.FetchCurrentState(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUninitialized) {
		return nil, err
	}

	empty := state.NewEmptyState[K, V, T, D](sv.buildVersion, sv.shardID, sv.cfg.Hostname, sv.cfg.Now())
	// The shard's first live version is SeqNo(1), not SeqNo(0): SeqNo(0) is
	// the reserved "before-first" sentinel and no State is ever stored at
	// it, so the initial rollup must be registered at empty.SeqNo.Next().
	firstSeqNo := empty.SeqNo.Next()
	rollupKey := paths.NewPartialRollupKey(firstSeqNo)
	_, initialized := empty.CloneApply(func(s *state.State[K, V, T, D]) bool {
		return s.AddAndRemoveRollups(firstSeqNo, &rollupKey, nil)
	})

	blob, err := initialized.Encode()
	if err != nil {
		return nil, fmt.Errorf("stateversions: encoding initial rollup: %w", err)
	}
	if err := sv.blob.Set(ctx, rollupKey.Complete(sv.shardID).String(), blob, true); err != nil {
		return nil, fmt.Errorf("stateversions: writing initial rollup: %w", err)
	}

	var zeroUpdates D
	diff, err := state.NewStateDiff(empty, initialized, zeroUpdates)
	if err != nil {
		return nil, err
	}
	encoded, err := diff.Encode()
	if err != nil {
		return nil, fmt.Errorf("stateversions: encoding initial diff: %w", err)
	}

	ok, _, err := sv.consensus.CompareAndSet(ctx, sv.path, nil, kv.VersionedData{SeqNo: initialized.SeqNo, Data: encoded})
	if err != nil {
		if errors.Is(err, kv.ErrIndeterminate) {
			sv.metrics.CasIndeterminate.Inc()
			return sv.resolveInitRace(ctx, rollupKey)
		}
		return nil, err
	}
	if !ok {
		// Another writer initialized the shard first; read back their
		// state rather than treat this as an error.
		return sv.resolveInitRace(ctx, rollupKey)
	}
	sv.metrics.CasSuccesses.Inc()
	sv.metrics.EncodedDiffSize.Add(float64(len(encoded)))
	return initialized, nil
}

// resolveInitRace refetches the shard's real current state after this
// call lost (or can no longer tell whether it won) the init race, and
// cleans up the rollup blob it staged if the winner's registry doesn't
// reference it: otherwise that blob is an orphan no diff ever points at.
func (sv *StateVersions[K, V, T, D]) resolveInitRace(ctx context.Context, staged paths.PartialRollupKey) (*state.State[K, V, T, D], error) {
	current, err := sv.FetchCurrentState(ctx)
	if err != nil {
		return nil, err
	}
	if registered, ok := current.Rollups[staged.SeqNo]; !ok || registered != staged {
		if err := sv.blob.Delete(ctx, staged.Complete(sv.shardID).String()); err != nil {
			return nil, fmt.Errorf("stateversions: deleting orphaned staged rollup: %w", err)
		}
	}
	return current, nil
}

// TryCompareAndSetCurrent applies mutate to a clone of expected and, if it
// reports a real change, proposes the resulting diff as expected.SeqNo's
// successor. The three-way outcome is never collapsed into one another:
//   - applied == true, err == nil: the diff landed; next is the new
//     current state.
//   - applied == false, err == nil: an ordinary lost race (CAS found a
//     different tip); next is the shard's actual current state, so the
//     caller can rebase its mutation and retry against it.
//   - err != nil wrapping kv.ErrIndeterminate: the transport could not
//     tell whether the proposed diff landed. This is deliberately not
//     resolved internally — the caller's in-hand diff may no longer apply
//     cleanly on top of whatever the tip turns out to be — so the caller
//     must itself call FetchCurrentState and decide how to proceed.
//
// If mutate reports no change, nothing is proposed and the result is
// (false, expected, nil).
//
// updatesDelta is the caller's own accounting of how much mutate changed
// the collection's differential update count. It is added to the new
// state's Remainder.Updates and carried in the diff.
func (sv *StateVersions[K, V, T, D]) TryCompareAndSetCurrent(ctx context.Context, expected *state.State[K, V, T, D], updatesDelta D, mutate func(*state.State[K, V, T, D]) bool) (applied bool, next *state.State[K, V, T, D], err error) {
	changed, candidate := expected.CloneApply(mutate)
	if !changed {
		return false, expected, nil
	}
	candidate.Remainder.Updates = candidate.Remainder.Updates.Plus(updatesDelta)

	diff, err := state.NewStateDiff(expected, candidate, updatesDelta)
	if err != nil {
		return false, nil, err
	}
	encoded, err := diff.Encode()
	if err != nil {
		return false, nil, fmt.Errorf("stateversions: encoding diff: %w", err)
	}

	expSeq := expected.SeqNo
	ok, _, err := sv.consensus.CompareAndSet(ctx, sv.path, &expSeq, kv.VersionedData{SeqNo: candidate.SeqNo, Data: encoded})
	if err != nil {
		if errors.Is(err, kv.ErrIndeterminate) {
			sv.metrics.CasIndeterminate.Inc()
			return false, nil, fmt.Errorf("stateversions: indeterminate CAS proposing seqno %s: %w", candidate.SeqNo, err)
		}
		return false, nil, err
	}
	if !ok {
		current, rebaseErr := sv.FetchCurrentState(ctx)
		if rebaseErr != nil {
			return false, nil, rebaseErr
		}
		return false, current, nil
	}

	sv.metrics.CasSuccesses.Inc()
	sv.metrics.EncodedDiffSize.Add(float64(len(encoded)))
	sv.observeRemainder(candidate)
	return true, candidate, nil
}

// FetchCurrentState reconstructs the shard's current state by taking the
// last diff in the recent-diffs hint, fetching the rollup it denormalizes
// (latest_rollup_key) as a base, and rolling every diff after that rollup's
// SeqNo forward onto it.
func (sv *StateVersions[K, V, T, D]) FetchCurrentState(ctx context.Context) (*state.State[K, V, T, D], error) {
	v, err, _ := sv.fetchGroup.Do(sv.path, func() (any, error) {
		return sv.fetchCurrentStateUncoalesced(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*state.State[K, V, T, D]), nil
}

func (sv *StateVersions[K, V, T, D]) fetchCurrentStateUncoalesced(ctx context.Context) (*state.State[K, V, T, D], error) {
	diffs, err := sv.fetchRecentLiveDiffsInternal(ctx)
	if err != nil {
		return nil, err
	}
	if len(diffs) == 0 {
		return nil, ErrUninitialized
	}

	var base *state.State[K, V, T, D]
	attempts := 0
	if err := retry.Determinate(ctx, func() (bool, error) {
		attempts++
		tip := diffs[len(diffs)-1]
		tipDiff, err := state.DecodeStateDiff[T, D](sv.buildVersion, tip.Data)
		if err != nil {
			return false, fmt.Errorf("stateversions: decoding tip diff at seqno %s: %w", tip.SeqNo, err)
		}
		rollupKey := tipDiff.LatestRollupKey

		fetched, err := sv.fetchRollupBlobMaybe(ctx, rollupKey)
		if err != nil {
			return false, err
		}
		if fetched == nil {
			// The hint is stale: a concurrent GC reclaimed the rollup this
			// diff pointed at. Re-fetch the recent diffs and retry from the
			// top with whatever rollup the refreshed tip now points at.
			sv.metrics.StaleRollupRetries.Inc()
			priorEarliest := diffs[0].SeqNo
			refreshed, err := sv.fetchRecentLiveDiffsInternal(ctx)
			if err != nil {
				return false, err
			}
			if len(refreshed) == 0 {
				return false, ErrUninitialized
			}
			if refreshed[0].SeqNo <= priorEarliest {
				trace.From(ctx).Warn("fetch_current_state: earliest live diff did not advance after a stale rollup hint", "shard", sv.shardID.String(), "seqno", priorEarliest.String())
			}
			diffs = refreshed
			if attempts >= maxStaleRollupRetries {
				return false, fmt.Errorf("stateversions: rollup %s never became available after %d attempts", rollupKey.Complete(sv.shardID), attempts)
			}
			return false, nil
		}

		tail := make([]kv.VersionedData, 0, len(diffs))
		for _, vd := range diffs {
			if vd.SeqNo > rollupKey.SeqNo {
				tail = append(tail, vd)
			}
		}
		if err := fetched.ApplyEncodedDiffs(sv.buildVersion, tail); err != nil {
			return false, err
		}
		base = fetched
		return true, nil
	}); err != nil {
		return nil, err
	}

	sv.observeRemainder(base)
	return base, nil
}

// FetchAndUpdateToCurrent rolls current forward to the shard's latest
// version without re-fetching a rollup, for callers that already hold a
// recent state and just want to catch up to any writes since.
func (sv *StateVersions[K, V, T, D]) FetchAndUpdateToCurrent(ctx context.Context, current *state.State[K, V, T, D]) (*state.State[K, V, T, D], error) {
	diffs, err := sv.consensus.Scan(ctx, sv.path, current.SeqNo.Next(), kv.ScanAll)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := next.ApplyEncodedDiffs(sv.buildVersion, diffs); err != nil {
		return nil, err
	}
	sv.observeRemainder(next)
	return next, nil
}

// FetchRecentLiveDiffs exposes the two-phase fetch's diff tail directly,
// for callers (e.g. readers tailing a shard) that want the diffs rather
// than a reconstructed State.
func (sv *StateVersions[K, V, T, D]) FetchRecentLiveDiffs(ctx context.Context) ([]kv.VersionedData, error) {
	return sv.fetchRecentLiveDiffsInternal(ctx)
}

// fetchRecentLiveDiffsInternal implements the bounded-scan fast path and
// the head-plus-embedded-rollup-seqno slow path. It requests one more
// entry than the configured limit: getting back at most the limit itself
// proves the scan reached the tip of history (fast path); getting back
// the full probe size means there is more history than the limit allows,
// so it falls back to Consensus.Head to recover the most recently
// registered rollup's SeqNo and rescans from there. Either way, the
// returned diffs' own tail is the source of truth for which rollup a
// reconstruction should start from (see fetchCurrentStateUncoalesced) —
// this function does not need to single out a rollup key itself.
func (sv *StateVersions[K, V, T, D]) fetchRecentLiveDiffsInternal(ctx context.Context) ([]kv.VersionedData, error) {
	probe := sv.cfg.RecentLiveDiffsLimit + 1
	diffs, err := sv.consensus.Scan(ctx, sv.path, kv.SeqNoMin, probe)
	if err != nil {
		return nil, err
	}
	if len(diffs) <= sv.cfg.RecentLiveDiffsLimit {
		sv.metrics.FastPathFetches.Inc()
		return diffs, nil
	}

	sv.metrics.SlowPathFetches.Inc()
	head, err := sv.consensus.Head(ctx, sv.path)
	if err != nil {
		return nil, err
	}
	if head == nil {
		// Scan just proved the path is non-empty; a nil Head here means
		// the backend's Scan and Head disagree about the path's state.
		panic("stateversions: Consensus.Scan returned entries but Head returned nil")
	}
	headDiff, err := state.DecodeStateDiff[T, D](sv.buildVersion, head.Data)
	if err != nil {
		return nil, fmt.Errorf("stateversions: decoding head diff: %w", err)
	}
	rollupKey := headDiff.LatestRollupKey

	tail, err := sv.consensus.Scan(ctx, sv.path, rollupKey.SeqNo.Next(), kv.ScanAll)
	if err != nil {
		return nil, err
	}
	return tail, nil
}

// fetchRollupBlob fetches and decodes the rollup at key, treating an
// absent blob as an error. Use fetchRollupBlobMaybe when the caller needs
// to distinguish "absent" (e.g. to retry against a fresher hint) from a
// genuine transport failure.
func (sv *StateVersions[K, V, T, D]) fetchRollupBlob(ctx context.Context, key paths.PartialRollupKey) (*state.State[K, V, T, D], error) {
	fetched, err := sv.fetchRollupBlobMaybe(ctx, key)
	if err != nil {
		return nil, err
	}
	if fetched == nil {
		return nil, fmt.Errorf("stateversions: rollup blob %s is missing (leaked or reclaimed too early)", key.Complete(sv.shardID))
	}
	return fetched, nil
}

// fetchRollupBlobMaybe fetches and decodes the rollup at key, returning a
// nil State (with a nil error) if the blob is simply absent.
func (sv *StateVersions[K, V, T, D]) fetchRollupBlobMaybe(ctx context.Context, key paths.PartialRollupKey) (*state.State[K, V, T, D], error) {
	blobKey := key.Complete(sv.shardID)
	cacheKey := blobKey.String()
	if cached, ok := sv.rollupCache.Get(cacheKey); ok {
		return cached.Clone(), nil
	}

	data, err := sv.blob.Get(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	decoded, err := state.DecodeState[K, V, T, D](sv.buildVersion, data)
	if err != nil {
		return nil, err
	}
	sv.rollupCache.Add(cacheKey, decoded)
	return decoded.Clone(), nil
}

// resolveRollupKey resolves the PartialRollupKey registered at exactly
// seqno, preferring current's live registry and falling back to the
// migration shim (scanDiffsForRollupKey) when the registry has already
// dropped the entry.
func (sv *StateVersions[K, V, T, D]) resolveRollupKey(ctx context.Context, current *state.State[K, V, T, D], seqno kv.SeqNo) (paths.PartialRollupKey, error) {
	if key, ok := current.Rollups[seqno]; ok {
		return key, nil
	}
	sv.metrics.MigrationFetches.Inc()
	return sv.scanDiffsForRollupKey(ctx, seqno)
}

// FetchAllLiveStates returns an iterator over every live version, starting
// from the rollup registered at the earliest live diff's SeqNo (invariant
// 3 guarantees one exists) and replaying every diff after it forward.
func (sv *StateVersions[K, V, T, D]) FetchAllLiveStates(ctx context.Context) (*StateVersionsIter[K, V, T, D], error) {
	diffs, err := sv.consensus.Scan(ctx, sv.path, kv.SeqNoMin, kv.ScanAll)
	if err != nil {
		return nil, err
	}
	if len(diffs) == 0 {
		return nil, ErrUninitialized
	}

	var base *state.State[K, V, T, D]
	attempts := 0
	if err := retry.Determinate(ctx, func() (bool, error) {
		attempts++
		earliest := diffs[0].SeqNo

		current, err := sv.FetchCurrentState(ctx)
		if err != nil {
			return false, err
		}
		rollupKey, err := sv.resolveRollupKey(ctx, current, earliest)
		if err != nil {
			return false, err
		}

		fetched, err := sv.fetchRollupBlobMaybe(ctx, rollupKey)
		if err != nil {
			return false, err
		}
		if fetched == nil {
			sv.metrics.StaleRollupRetries.Inc()
			rescanned, err := sv.consensus.Scan(ctx, sv.path, kv.SeqNoMin, kv.ScanAll)
			if err != nil {
				return false, err
			}
			if len(rescanned) == 0 {
				return false, ErrUninitialized
			}
			if rescanned[0].SeqNo <= earliest {
				trace.From(ctx).Warn("fetch_all_live_states: earliest live diff did not advance after a rollup miss", "shard", sv.shardID.String(), "seqno", earliest.String())
			}
			diffs = rescanned
			if attempts >= maxStaleRollupRetries {
				return false, fmt.Errorf("stateversions: rollup for earliest live diff at seqno %s never became available after %d attempts", earliest, attempts)
			}
			return false, nil
		}
		base = fetched
		return true, nil
	}); err != nil {
		return nil, err
	}

	tail := make([]kv.VersionedData, 0, len(diffs))
	for _, vd := range diffs {
		if vd.SeqNo > base.SeqNo {
			tail = append(tail, vd)
		}
	}

	return &StateVersionsIter[K, V, T, D]{
		diffs:        tail,
		current:      base,
		buildVersion: sv.buildVersion,
	}, nil
}

// EncodeRollupBlob serializes s for storage as a rollup, without writing
// it anywhere. Exposed separately from WriteRollupBlob so callers can
// measure an encoded size before deciding whether to write it.
func (sv *StateVersions[K, V, T, D]) EncodeRollupBlob(s *state.State[K, V, T, D]) ([]byte, error) {
	return s.Encode()
}

// WriteRollupBlob writes a fresh rollup for s's current SeqNo and returns
// its key. It does not register the key in any State's rollup registry;
// callers do that via TryCompareAndSetCurrent's mutate closure
// (AddAndRemoveRollups), since registering a rollup is itself a version
// transition that must go through the CAS path.
func (sv *StateVersions[K, V, T, D]) WriteRollupBlob(ctx context.Context, s *state.State[K, V, T, D]) (paths.PartialRollupKey, error) {
	key := paths.NewPartialRollupKey(s.SeqNo)
	encoded, err := s.Encode()
	if err != nil {
		return paths.PartialRollupKey{}, fmt.Errorf("stateversions: encoding rollup: %w", err)
	}
	if err := sv.blob.Set(ctx, key.Complete(sv.shardID).String(), encoded, true); err != nil {
		return paths.PartialRollupKey{}, fmt.Errorf("stateversions: writing rollup: %w", err)
	}
	return key, nil
}

// FetchRollupAtSeqno returns the State registered for exactly seqno. If
// the current State's registry has already dropped that entry (the
// registry only ever grows forward from the invariant's point of view,
// but a historical bug could leave it missing an entry a still-live diff
// otherwise proves existed), it falls back to scanning the raw diff
// history for the RollupFieldDiff that inserted it. This shim exists only
// to compensate for that historical bug and should be revisited once no
// deployed shard can still exhibit it.
func (sv *StateVersions[K, V, T, D]) FetchRollupAtSeqno(ctx context.Context, seqno kv.SeqNo) (*state.State[K, V, T, D], error) {
	current, err := sv.FetchCurrentState(ctx)
	if err != nil {
		return nil, err
	}
	key, err := sv.resolveRollupKey(ctx, current, seqno)
	if err != nil {
		return nil, err
	}
	return sv.fetchRollupBlob(ctx, key)
}

func (sv *StateVersions[K, V, T, D]) scanDiffsForRollupKey(ctx context.Context, seqno kv.SeqNo) (paths.PartialRollupKey, error) {
	diffs, err := sv.consensus.Scan(ctx, sv.path, kv.SeqNoMin, kv.ScanAll)
	if err != nil {
		return paths.PartialRollupKey{}, err
	}
	for _, vd := range diffs {
		diff, err := state.DecodeStateDiff[T, D](sv.buildVersion, vd.Data)
		if err != nil {
			return paths.PartialRollupKey{}, fmt.Errorf("stateversions: decoding diff at seqno %s: %w", vd.SeqNo, err)
		}
		for _, rd := range diff.Rollups {
			if rd.Kind == state.RollupDiffInsert && rd.SeqNo == seqno {
				return rd.Key, nil
			}
		}
	}
	return paths.PartialRollupKey{}, fmt.Errorf("stateversions: no rollup was ever registered at seqno %s", seqno)
}

// FetchRollupAtKey decodes the State stored at a known blob key directly,
// without consulting the registry at all.
func (sv *StateVersions[K, V, T, D]) FetchRollupAtKey(ctx context.Context, key paths.PartialRollupKey) (*state.State[K, V, T, D], error) {
	return sv.fetchRollupBlob(ctx, key)
}

// DeleteRollup removes a single rollup blob. Implements gc.Target.
func (sv *StateVersions[K, V, T, D]) DeleteRollup(ctx context.Context, blobKey string) error {
	sv.rollupCache.Remove(blobKey)
	return sv.blob.Delete(ctx, blobKey)
}

// TruncateDiffs deletes every Consensus diff below the shard's earliest
// retained rollup (and below seqno_since, whichever is smaller, so a live
// lease's hold is never truncated out from under it). Implements
// gc.Target.
func (sv *StateVersions[K, V, T, D]) TruncateDiffs(ctx context.Context) (int, error) {
	current, err := sv.FetchCurrentState(ctx)
	if err != nil {
		return 0, err
	}
	earliest := earliestRollupSeqno(current.Rollups)
	if since := current.Remainder.SeqnoSince(current.SeqNo); since < earliest {
		earliest = since
	}
	deleted, err := sv.consensus.Truncate(ctx, sv.path, earliest)
	if err != nil {
		return 0, err
	}
	sv.metrics.TruncatedDiffs.Add(float64(deleted))
	return deleted, nil
}

// DetectLeakedRollups scans the raw diff history for rollup keys that
// were registered below the current earliest retained rollup and are no
// longer referenced by the current registry: per invariant 6, any such
// blob is leaked and may be safely deleted via DeleteRollup. Implements
// gc.Target.
func (sv *StateVersions[K, V, T, D]) DetectLeakedRollups(ctx context.Context) ([]string, error) {
	current, err := sv.FetchCurrentState(ctx)
	if err != nil {
		return nil, err
	}
	earliest := earliestRollupSeqno(current.Rollups)

	diffs, err := sv.consensus.Scan(ctx, sv.path, kv.SeqNoMin, kv.ScanAll)
	if err != nil {
		return nil, err
	}

	seen := map[paths.PartialRollupKey]struct{}{}
	var leaked []string
	for _, vd := range diffs {
		diff, err := state.DecodeStateDiff[T, D](sv.buildVersion, vd.Data)
		if err != nil {
			return nil, fmt.Errorf("stateversions: decoding diff at seqno %s: %w", vd.SeqNo, err)
		}
		for _, rd := range diff.Rollups {
			if rd.Kind != state.RollupDiffInsert || rd.SeqNo >= earliest {
				continue
			}
			if _, ok := current.Rollups[rd.SeqNo]; ok {
				continue
			}
			if _, ok := seen[rd.Key]; ok {
				continue
			}
			seen[rd.Key] = struct{}{}
			sv.metrics.LeakedRollupsSeen.Inc()
			leaked = append(leaked, rd.Key.Complete(sv.shardID).String())
		}
	}
	return leaked, nil
}

func earliestRollupSeqno(rollups map[kv.SeqNo]paths.PartialRollupKey) kv.SeqNo {
	var earliest kv.SeqNo
	first := true
	for seq := range rollups {
		if first || seq < earliest {
			earliest, first = seq, false
		}
	}
	return earliest
}

func (sv *StateVersions[K, V, T, D]) observeRemainder(s *state.State[K, V, T, D]) {
	sv.metrics.BatchCount.Set(float64(s.Remainder.BatchPartCount()))
	sv.metrics.LargestBatchSize.Set(float64(s.Remainder.LargestBatchSize()))
	sv.metrics.EncodedBatchSize.Set(float64(s.Remainder.EncodedBatchSize()))
	sv.metrics.SeqnosHeld.Set(float64(s.SeqNo - s.Remainder.SeqnoSince(s.SeqNo)))
}
