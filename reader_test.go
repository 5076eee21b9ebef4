package stateversions

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/stateversions/config"
	"github.com/erigontech/stateversions/internal/state"
	"github.com/erigontech/stateversions/kv"
	"github.com/erigontech/stateversions/kv/memkv"
)

func TestShardReaderReadsAsOfPinnedSeqno(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.New("test-build")
	require.NoError(t, err)
	sv := NewStateVersions[string, string, testTS, testUpdates](cfg, memkv.NewConsensus(), memkv.NewBlob(), prometheus.NewRegistry(), "shard1")

	current, err := sv.MaybeInitShard(ctx)
	require.NoError(t, err)

	_, v2, err := sv.TryCompareAndSetCurrent(ctx, current, testUpdates(0), func(s *state.State[string, string, testTS, testUpdates]) bool {
		s.Remainder.Since = state.NewAntichain[testTS](testTS(5))
		return true
	})
	require.NoError(t, err)

	reader := NewShardReader(sv)
	reader.SetSeqNo(current.SeqNo)
	since, err := reader.ReadSinceAt(ctx)
	require.NoError(t, err)
	require.Empty(t, since.Elements)

	reader.SetSeqNo(v2.SeqNo)
	since, err = reader.ReadSinceAt(ctx)
	require.NoError(t, err)
	require.True(t, since.LessEqual(testTS(5)))

	key, ok, err := reader.ReadRollupKeyAt(ctx, kv.SeqNo(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, current.Rollups[kv.SeqNo(1)], key)
}

func TestShardReaderErrorsBelowFirstVersion(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.New("test-build")
	require.NoError(t, err)
	sv := NewStateVersions[string, string, testTS, testUpdates](cfg, memkv.NewConsensus(), memkv.NewBlob(), prometheus.NewRegistry(), "shard1")
	_, err = sv.MaybeInitShard(ctx)
	require.NoError(t, err)

	reader := NewShardReader(sv)
	// kv.SeqNoMin is before the shard's first live version (SeqNo 1).
	_, err = reader.ReadSinceAt(ctx)
	require.ErrorIs(t, err, ErrNoVersionAtOrBefore)
}
