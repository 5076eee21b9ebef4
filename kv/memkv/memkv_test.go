package memkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/stateversions/kv"
)

func TestConsensusCompareAndSetFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	c := NewConsensus()

	ok, tail, err := c.CompareAndSet(ctx, "shard1", nil, kv.VersionedData{SeqNo: 1, Data: []byte("a")})
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, tail)

	ok, tail, err = c.CompareAndSet(ctx, "shard1", nil, kv.VersionedData{SeqNo: 1, Data: []byte("b")})
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, tail, 1)
}

func TestConsensusCompareAndSetChains(t *testing.T) {
	ctx := context.Background()
	c := NewConsensus()
	seq1 := kv.SeqNo(1)

	_, _, err := c.CompareAndSet(ctx, "shard1", nil, kv.VersionedData{SeqNo: 1, Data: []byte("a")})
	require.NoError(t, err)

	ok, _, err := c.CompareAndSet(ctx, "shard1", &seq1, kv.VersionedData{SeqNo: 2, Data: []byte("b")})
	require.NoError(t, err)
	require.True(t, ok)

	head, err := c.Head(ctx, "shard1")
	require.NoError(t, err)
	require.Equal(t, kv.SeqNo(2), head.SeqNo)
}

func TestConsensusScanAndTruncate(t *testing.T) {
	ctx := context.Background()
	c := NewConsensus()
	for i := 1; i <= 5; i++ {
		expected := kv.SeqNo(i - 1)
		var exp *kv.SeqNo
		if i > 1 {
			exp = &expected
		}
		_, _, err := c.CompareAndSet(ctx, "shard1", exp, kv.VersionedData{SeqNo: kv.SeqNo(i)})
		require.NoError(t, err)
	}

	all, err := c.Scan(ctx, "shard1", kv.SeqNo(0), kv.ScanAll)
	require.NoError(t, err)
	require.Len(t, all, 5)

	limited, err := c.Scan(ctx, "shard1", kv.SeqNo(0), 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, kv.SeqNo(1), limited[0].SeqNo)

	deleted, err := c.Truncate(ctx, "shard1", kv.SeqNo(3))
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	remaining, err := c.Scan(ctx, "shard1", kv.SeqNo(0), kv.ScanAll)
	require.NoError(t, err)
	require.Len(t, remaining, 3)

	deletedAgain, err := c.Truncate(ctx, "shard1", kv.SeqNo(3))
	require.NoError(t, err)
	require.Equal(t, 0, deletedAgain, "truncate must be idempotent")
}

func TestBlobGetSetDelete(t *testing.T) {
	ctx := context.Background()
	b := NewBlob()

	v, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, b.Set(ctx, "k1", []byte("hello"), true))
	v, err = b.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)

	require.NoError(t, b.Delete(ctx, "k1"))
	v, err = b.Get(ctx, "k1")
	require.NoError(t, err)
	require.Nil(t, v)
}
