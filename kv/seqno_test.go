package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSeqNoStringParseRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Uint64().Draw(t, "seqno")
		s := SeqNo(v)

		parsed, err := ParseSeqNo(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	})
}

func TestSeqNoNextIsStrictlyGreater(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Uint64Max(1<<63 - 2).Draw(t, "seqno")
		s := SeqNo(v)

		require.True(t, s.Less(s.Next()))
	})
}

func TestMinMaxSeqNoAgreeWithLess(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := SeqNo(rapid.Uint64().Draw(t, "a"))
		b := SeqNo(rapid.Uint64().Draw(t, "b"))

		lo, hi := MinSeqNo(a, b), MaxSeqNo(a, b)
		require.False(t, hi.Less(lo))
		require.True(t, lo == a || lo == b)
		require.True(t, hi == a || hi == b)
	})
}

func TestAddSeqNoMatchesPlainAddition(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := SeqNo(rapid.Uint64Range(0, 1<<32).Draw(t, "seqno"))
		delta := rapid.Uint64Range(0, 1<<32).Draw(t, "delta")

		sum, err := addSeqNo(s, delta)
		require.NoError(t, err)
		require.Equal(t, SeqNo(uint64(s)+delta), sum)
	})
}

func TestAddSeqNoReportsOverflow(t *testing.T) {
	_, err := addSeqNo(SeqNo(1<<64-1), 1)
	require.Error(t, err)
}
