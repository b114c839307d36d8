package hashops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

func setup(t *testing.T) (context.Context, store.Txn, *keycodec.Codec) {
	t.Helper()
	ctx := context.Background()
	eng := store.NewMemEngine()
	tx, err := eng.Begin(ctx)
	require.NoError(t, err)
	return ctx, tx, keycodec.New([]byte("t1"), 8)
}

func TestHSetHGetHLen(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := HSet(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), [][2][]byte{
		{[]byte("f1"), []byte("v1")},
		{[]byte("f2"), []byte("v2")},
	})
	require.NoError(t, err)
	require.Equal(t, resp.Integer(2), r)

	r, err = HGet(ctx, tx, codec, 1000, []byte("h"), []byte("f1"))
	require.NoError(t, err)
	require.Equal(t, resp.Bulk("v1"), r)

	r, err = HLen(ctx, tx, codec, 1000, []byte("h"))
	require.NoError(t, err)
	require.Equal(t, resp.Integer(2), r)

	r, err = HSet(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), [][2][]byte{{[]byte("f1"), []byte("v1b")}})
	require.NoError(t, err)
	require.Equal(t, resp.Integer(0), r, "overwriting an existing field creates no new field")
}

func TestHDelReclaimsWhenEmpty(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := HSet(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), [][2][]byte{{[]byte("f1"), []byte("v1")}})
	require.NoError(t, err)

	r, err := HDel(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), [][]byte{[]byte("f1")})
	require.NoError(t, err)
	require.Equal(t, resp.Integer(1), r)

	_, ok, err := tx.Get(ctx, codec.MetaKey([]byte("h")))
	require.NoError(t, err)
	require.False(t, ok, "hash meta should be reclaimed once empty")
}

func TestHGetAllAndHKeysAndHVals(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := HSet(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), [][2][]byte{
		{[]byte("a"), []byte("1")},
		{[]byte("b"), []byte("2")},
	})
	require.NoError(t, err)

	all, err := HGetAll(ctx, tx, codec, 1000, []byte("h"))
	require.NoError(t, err)
	require.Len(t, all.(resp.Array), 4)

	keys, err := HKeys(ctx, tx, codec, 1000, []byte("h"))
	require.NoError(t, err)
	require.Len(t, keys.(resp.Array), 2)

	vals, err := HVals(ctx, tx, codec, 1000, []byte("h"))
	require.NoError(t, err)
	require.Len(t, vals.(resp.Array), 2)
}

func TestHIncrBy(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := HIncrBy(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), []byte("ctr"), 5)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(5), r)

	r, err = HIncrBy(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), []byte("ctr"), -2)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(3), r)
}

func TestHSetNXFailsOnExisting(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := HSetNX(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), []byte("f"), []byte("v1"))
	require.NoError(t, err)
	require.Equal(t, resp.Integer(1), r)

	r, err = HSetNX(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), []byte("f"), []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, resp.Integer(0), r)
}

func TestHExistsAndHStrLen(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := HSet(ctx, tx, codec, 1000, codec.NumShards(), []byte("h"), [][2][]byte{{[]byte("f"), []byte("hello")}})
	require.NoError(t, err)

	r, err := HExists(ctx, tx, codec, 1000, []byte("h"), []byte("f"))
	require.NoError(t, err)
	require.Equal(t, resp.Integer(1), r)

	r, err = HStrLen(ctx, tx, codec, 1000, []byte("h"), []byte("f"))
	require.NoError(t, err)
	require.Equal(t, resp.Integer(5), r)
}

func TestHSetWrongType(t *testing.T) {
	ctx, tx, codec := setup(t)
	mv := keycodec.MetaValue{Type: keycodec.TypeString, StringValue: []byte("x")}
	require.NoError(t, tx.Put(ctx, codec.MetaKey([]byte("k")), keycodec.EncodeMetaValue(mv)))

	r, err := HSet(ctx, tx, codec, 1000, codec.NumShards(), []byte("k"), [][2][]byte{{[]byte("f"), []byte("v")}})
	require.NoError(t, err)
	require.Equal(t, resp.ErrWrongType, r)
}
