package stateversions

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/stateversions/config"
	"github.com/erigontech/stateversions/internal/state"
	"github.com/erigontech/stateversions/kv"
	"github.com/erigontech/stateversions/kv/memkv"
)

type testTS int64

func (t testTS) Less(o testTS) bool { return t < o }

type testUpdates int64

func (u testUpdates) Plus(o testUpdates) testUpdates { return u + o }

func newHandle(t *testing.T, shard kv.ShardId) (*StateVersions[string, string, testTS, testUpdates], *memkv.Consensus, *memkv.Blob) {
	t.Helper()
	cfg, err := config.New("test-build", config.WithRecentLiveDiffsLimit(2), config.WithNow(func() time.Time {
		return time.Unix(0, 0)
	}))
	require.NoError(t, err)
	consensus := memkv.NewConsensus()
	blob := memkv.NewBlob()
	sv := NewStateVersions[string, string, testTS, testUpdates](cfg, consensus, blob, prometheus.NewRegistry(), shard)
	return sv, consensus, blob
}

func TestMaybeInitShardIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sv, _, _ := newHandle(t, "shard1")

	first, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)
	require.Equal(t, kv.SeqNo(1), first.SeqNo)

	second, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)
	require.Equal(t, first.SeqNo, second.SeqNo)
	require.Equal(t, first.Rollups, second.Rollups)
}

func TestFetchCurrentStateBeforeInit(t *testing.T) {
	ctx := context.Background()
	sv, _, _ := newHandle(t, "shard1")

	_, err := sv.FetchCurrentState(ctx)
	require.ErrorIs(t, err, ErrUninitialized)
}

func TestTryCompareAndSetCurrentAppliesAndRebasesOnRace(t *testing.T) {
	ctx := context.Background()
	sv, _, _ := newHandle(t, "shard1")

	current, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)

	leaseKey := state.LeaseId("reader-a")
	applied, next, err := sv.TryCompareAndSetCurrent(ctx, current, testUpdates(5), func(s *state.State[string, string, testTS, testUpdates]) bool {
		if s.Remainder.Leases == nil {
			s.Remainder.Leases = map[state.LeaseId]kv.SeqNo{}
		}
		if _, ok := s.Remainder.Leases[leaseKey]; ok {
			return false
		}
		s.Remainder.Leases[leaseKey] = s.SeqNo
		return true
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, testUpdates(5), next.Remainder.Updates)
	require.Equal(t, current.SeqNo.Next(), next.SeqNo)

	// Racing against the now-stale `current` must report the lost race and
	// hand back the real current state, not apply a conflicting diff.
	appliedAgain, rebased, err := sv.TryCompareAndSetCurrent(ctx, current, testUpdates(1), func(s *state.State[string, string, testTS, testUpdates]) bool {
		return true
	})
	require.NoError(t, err)
	require.False(t, appliedAgain)
	require.Equal(t, next.SeqNo, rebased.SeqNo)
}

func TestTryCompareAndSetCurrentNoOpWhenMutateReportsNoChange(t *testing.T) {
	ctx := context.Background()
	sv, _, _ := newHandle(t, "shard1")
	current, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)

	applied, next, err := sv.TryCompareAndSetCurrent(ctx, current, testUpdates(0), func(s *state.State[string, string, testTS, testUpdates]) bool {
		return false
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, current, next)
}

func TestFetchAllLiveStatesReplaysEveryVersion(t *testing.T) {
	ctx := context.Background()
	sv, _, _ := newHandle(t, "shard1")
	current, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, current, err = sv.TryCompareAndSetCurrent(ctx, current, testUpdates(1), func(s *state.State[string, string, testTS, testUpdates]) bool {
			s.Remainder.Updates = s.Remainder.Updates.Plus(testUpdates(0))
			return true
		})
		require.NoError(t, err)
	}

	it, err := sv.FetchAllLiveStates(ctx)
	require.NoError(t, err)

	var seqnos []kv.SeqNo
	for {
		s, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		seqnos = append(seqnos, s.SeqNo)
	}
	require.Equal(t, []kv.SeqNo{1, 2, 3, 4}, seqnos)
}

func TestFetchRecentLiveDiffsSlowPathAfterManyVersions(t *testing.T) {
	ctx := context.Background()
	// RecentLiveDiffsLimit is 2 in newHandle, so five versions forces the
	// slow path (Consensus.Head plus the embedded rollup seqno rescan).
	sv, _, _ := newHandle(t, "shard1")
	current, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, current, err = sv.TryCompareAndSetCurrent(ctx, current, testUpdates(0), func(s *state.State[string, string, testTS, testUpdates]) bool {
			return true
		})
		require.NoError(t, err)
	}

	got, err := sv.FetchCurrentState(ctx)
	require.NoError(t, err)
	require.Equal(t, current.SeqNo, got.SeqNo)
}

func TestTruncateDiffsAndDetectLeakedRollups(t *testing.T) {
	ctx := context.Background()
	sv, consensus, _ := newHandle(t, "shard1")
	current, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)

	// Hold a lease at the genesis rollup's SeqNo(1) so TruncateDiffs can't
	// drop the diff that recorded it before the registry swap below turns
	// it into a leak candidate.
	leaseKey := state.LeaseId("holder")
	applied, current, err := sv.TryCompareAndSetCurrent(ctx, current, testUpdates(0), func(s *state.State[string, string, testTS, testUpdates]) bool {
		if s.Remainder.Leases == nil {
			s.Remainder.Leases = map[state.LeaseId]kv.SeqNo{}
		}
		s.Remainder.Leases[leaseKey] = kv.SeqNo(1)
		return true
	})
	require.NoError(t, err)
	require.True(t, applied)

	newKey, err := sv.WriteRollupBlob(ctx, current)
	require.NoError(t, err)

	applied, next, err := sv.TryCompareAndSetCurrent(ctx, current, testUpdates(0), func(s *state.State[string, string, testTS, testUpdates]) bool {
		return s.AddAndRemoveRollups(s.SeqNo, &newKey, []kv.SeqNo{1})
	})
	require.NoError(t, err)
	require.True(t, applied)

	deleted, err := sv.TruncateDiffs(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, deleted, "the held lease pins earliest at seqno 1, so nothing below it is truncatable yet")

	remaining, err := consensus.Scan(ctx, "shard1", kv.SeqNoMin, kv.ScanAll)
	require.NoError(t, err)
	require.NotEmpty(t, remaining)

	leaked, err := sv.DetectLeakedRollups(ctx)
	require.NoError(t, err)
	require.Len(t, leaked, 1)

	require.NoError(t, sv.DeleteRollup(ctx, leaked[0]))

	leakedAfterDelete, err := sv.DetectLeakedRollups(ctx)
	require.NoError(t, err)
	require.Len(t, leakedAfterDelete, 1, "the registry-diff record still shows it as leaked even after the blob is gone")

	_ = next
}

func TestFetchAfterTruncateDoesNotPanicOnAdvancedEarliest(t *testing.T) {
	ctx := context.Background()
	sv, _, _ := newHandle(t, "shard1")
	current, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)

	// Roll the registered rollup forward four times, each time bumping
	// first so the new rollup's key lands on a distinct SeqNo from the
	// one it replaces. TruncateDiffs then has real history to reclaim
	// and earliest ends up well past SeqNo(0) — the exact situation that
	// used to panic ApplyEncodedDiffs's contiguity check.
	for i := 0; i < 4; i++ {
		_, current, err = sv.TryCompareAndSetCurrent(ctx, current, testUpdates(0), func(s *state.State[string, string, testTS, testUpdates]) bool {
			return true
		})
		require.NoError(t, err)

		newKey, err := sv.WriteRollupBlob(ctx, current)
		require.NoError(t, err)
		oldSeqNo, _ := current.LatestRollup()

		_, current, err = sv.TryCompareAndSetCurrent(ctx, current, testUpdates(1), func(s *state.State[string, string, testTS, testUpdates]) bool {
			return s.AddAndRemoveRollups(s.SeqNo, &newKey, []kv.SeqNo{oldSeqNo})
		})
		require.NoError(t, err)
	}

	deleted, err := sv.TruncateDiffs(ctx)
	require.NoError(t, err)
	require.Greater(t, deleted, 0)

	got, err := sv.FetchCurrentState(ctx)
	require.NoError(t, err)
	require.Equal(t, current.SeqNo, got.SeqNo)

	it, err := sv.FetchAllLiveStates(ctx)
	require.NoError(t, err)
	var seqnos []kv.SeqNo
	for {
		s, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		seqnos = append(seqnos, s.SeqNo)
	}
	require.NotEmpty(t, seqnos)
	require.Equal(t, current.SeqNo, seqnos[len(seqnos)-1])
}

func TestFetchRollupAtSeqnoMigrationShim(t *testing.T) {
	ctx := context.Background()
	sv, _, _ := newHandle(t, "shard1")
	current, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)

	// Bump once so the replacement rollup below lands at a distinct
	// registry slot from the genesis one at SeqNo(1).
	_, current, err = sv.TryCompareAndSetCurrent(ctx, current, testUpdates(0), func(s *state.State[string, string, testTS, testUpdates]) bool {
		return true
	})
	require.NoError(t, err)

	newKey, err := sv.WriteRollupBlob(ctx, current)
	require.NoError(t, err)

	// Register newKey and, in the same transition, drop the registry
	// entry for the genesis rollup at SeqNo(1). The diff that originally
	// registered it is still in the log (diffs are append-only), so
	// fetching it should fall back to the migration shim rather than
	// fail outright, mirroring the historical bug this shim compensates
	// for.
	applied, afterDrop, err := sv.TryCompareAndSetCurrent(ctx, current, testUpdates(0), func(s *state.State[string, string, testTS, testUpdates]) bool {
		return s.AddAndRemoveRollups(s.SeqNo, &newKey, []kv.SeqNo{1})
	})
	require.NoError(t, err)
	require.True(t, applied)
	_, stillRegistered := afterDrop.Rollups[kv.SeqNo(1)]
	require.False(t, stillRegistered)

	got, err := sv.FetchRollupAtSeqno(ctx, kv.SeqNo(1))
	require.NoError(t, err)
	require.Equal(t, kv.SeqNo(1), got.SeqNo)
}
