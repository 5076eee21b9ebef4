package paths

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/stateversions/kv"
)

func TestPartialRollupKeyRoundTrip(t *testing.T) {
	shard := kv.ShardId("sh1")
	partial := NewPartialRollupKey(kv.SeqNo(42))
	full := partial.Complete(shard)

	gotShard, kind, parsed, err := ParseBlobKey(full)
	require.NoError(t, err)
	require.Equal(t, shard, gotShard)
	require.Equal(t, KindRollup, kind)
	require.NotNil(t, parsed)
	require.Equal(t, partial.SeqNo, parsed.SeqNo)
	require.Equal(t, partial.ID, parsed.ID)
}

func TestParseBlobKeyMissingSeparator(t *testing.T) {
	_, _, _, err := ParseBlobKey(BlobKey("no-slash-here"))
	require.Error(t, err)
}

func TestParseBlobKeyUnknownSuffix(t *testing.T) {
	shard, kind, parsed, err := ParseBlobKey(BlobKey("sh1/not-a-rollup-key"))
	require.NoError(t, err)
	require.Equal(t, kv.ShardId("sh1"), shard)
	require.Equal(t, KindUnknown, kind)
	require.Nil(t, parsed)
}

func TestParseRollupKeyOrPanicWrongShard(t *testing.T) {
	partial := NewPartialRollupKey(kv.SeqNo(1))
	full := partial.Complete(kv.ShardId("sh1"))
	require.Panics(t, func() {
		ParseRollupKeyOrPanic(kv.ShardId("sh2"), full)
	})
}
