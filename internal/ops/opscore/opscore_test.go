package opscore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/store"
)

func TestSubMetaAdjustSumClear(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemEngine()
	tx, err := eng.Begin(ctx)
	require.NoError(t, err)
	codec := keycodec.New([]byte("t1"), 8)

	for i := 0; i < 5; i++ {
		require.NoError(t, AdjustSubMeta(ctx, tx, codec, []byte("h"), 1, 3, codec.NumShards()))
	}
	total, err := SumSubMeta(ctx, tx, codec, []byte("h"), 1)
	require.NoError(t, err)
	require.EqualValues(t, 15, total)

	require.NoError(t, AdjustSubMeta(ctx, tx, codec, []byte("h"), 1, -15, codec.NumShards()))
	total, err = SumSubMeta(ctx, tx, codec, []byte("h"), 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, total)

	require.NoError(t, ClearSubMeta(ctx, tx, codec, []byte("h"), 1))
	start, end := codec.SubMetaKeyRange([]byte("h"), 1)
	kvs, err := tx.Scan(ctx, start, end, 0)
	require.NoError(t, err)
	require.Empty(t, kvs)
}

func TestParseIntAndFloat(t *testing.T) {
	n, err := ParseInt([]byte("42"))
	require.NoError(t, err)
	require.EqualValues(t, 42, n)

	_, err = ParseInt([]byte("nope"))
	require.Error(t, err)

	f, err := ParseFloat([]byte("3.14"))
	require.NoError(t, err)
	require.InDelta(t, 3.14, f, 0.0001)

	f, err = ParseFloat([]byte("+inf"))
	require.NoError(t, err)
	require.True(t, f > 1e300)
}

func TestExpired(t *testing.T) {
	require.False(t, Expired(0, 1000))
	require.False(t, Expired(2000, 1000))
	require.True(t, Expired(500, 1000))
}
