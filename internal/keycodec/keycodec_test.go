package keycodec

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetaKeyRoundTrip(t *testing.T) {
	c := New([]byte("inst"), 100)
	key := c.MetaKey([]byte("hello"))
	got, ok := c.DecodeMetaKey(key)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
}

func TestMetaKeyOrderingPreservesUserKeyOrder(t *testing.T) {
	c := New([]byte("inst"), 100)
	a := c.MetaKey([]byte("a"))
	b := c.MetaKey([]byte("b"))
	require.True(t, bytes.Compare(a, b) < 0)
}

func TestHashDataKeyRoundTrip(t *testing.T) {
	c := New([]byte("inst"), 100)
	key := c.HashDataKey([]byte("h"), 3, []byte("field\x00with\x00nulls"))
	field, ok := c.DecodeHashField([]byte("h"), 3, key)
	require.True(t, ok)
	require.Equal(t, []byte("field\x00with\x00nulls"), field)
}

func TestHashDataKeyRangeIsolatesVersion(t *testing.T) {
	c := New([]byte("inst"), 100)
	k0 := c.HashDataKey([]byte("h"), 0, []byte("f"))
	k1 := c.HashDataKey([]byte("h"), 1, []byte("f"))
	start, end := c.HashDataKeyRange([]byte("h"), 0)
	require.True(t, bytes.Compare(start, k0) <= 0 && bytes.Compare(k0, end) < 0)
	require.False(t, bytes.Compare(start, k1) <= 0 && bytes.Compare(k1, end) < 0)
}

func TestScoreOrderingMatchesNumericOrdering(t *testing.T) {
	scores := []float64{math.Inf(-1), -100.5, -1, 0, 1, 100.5, math.Inf(1)}
	var encoded []uint64
	for _, s := range scores {
		encoded = append(encoded, EncodeScore(s))
	}
	for i := 1; i < len(encoded); i++ {
		require.Less(t, encoded[i-1], encoded[i], "scores %v then %v", scores[i-1], scores[i])
	}
	for i, s := range scores {
		require.Equal(t, s, DecodeScore(encoded[i]))
	}
}

func TestZsetScoreKeyOrderingByScoreThenMember(t *testing.T) {
	c := New([]byte("inst"), 100)
	k1 := c.ZsetScoreKey([]byte("z"), 0, 1, []byte("a"))
	k2 := c.ZsetScoreKey([]byte("z"), 0, 2, []byte("a"))
	k3 := c.ZsetScoreKey([]byte("z"), 0, 2, []byte("b"))
	require.True(t, bytes.Compare(k1, k2) < 0)
	require.True(t, bytes.Compare(k2, k3) < 0)

	score, member, ok := c.DecodeScoreKey([]byte("z"), 0, k3)
	require.True(t, ok)
	require.Equal(t, float64(2), score)
	require.Equal(t, []byte("b"), member)
}

func TestMetaValueRoundTripString(t *testing.T) {
	mv := MetaValue{Type: TypeString, ExpireAtMs: 12345, Version: 7, StringValue: []byte("hello")}
	raw := EncodeMetaValue(mv)
	got, err := DecodeMetaValue(raw)
	require.NoError(t, err)
	require.Equal(t, mv, got)
}

func TestMetaValueRoundTripList(t *testing.T) {
	mv := MetaValue{Type: TypeList, ExpireAtMs: 0, Version: 1, ListLeft: 1 << 32, ListRight: 1<<32 + 3}
	raw := EncodeMetaValue(mv)
	got, err := DecodeMetaValue(raw)
	require.NoError(t, err)
	require.Equal(t, mv, got)
}

func TestDecodeMetaValueRejectsShortInput(t *testing.T) {
	_, err := DecodeMetaValue([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestGCVersionKeyRoundTrip(t *testing.T) {
	c := New([]byte("inst"), 100)
	key := c.GCVersionKey([]byte("big"), 9)
	uk, v, ok := c.DecodeGCVersionKey(key)
	require.True(t, ok)
	require.Equal(t, []byte("big"), uk)
	require.Equal(t, uint16(9), v)
}

func TestPrefixEndIsExclusiveUpperBound(t *testing.T) {
	c := New([]byte("inst"), 100)
	start, end := c.MetaKeyRange()
	k := c.MetaKey([]byte("anything"))
	require.True(t, bytes.Compare(start, k) <= 0)
	require.True(t, bytes.Compare(k, end) < 0)
}
