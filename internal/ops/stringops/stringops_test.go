package stringops

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
	return ctx, tx, keycodec.New([]byte("t1"), 4)
}

func TestSetAndGet(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := Set(ctx, tx, codec, 1000, []byte("k"), []byte("v"), SetOptions{})
	require.NoError(t, err)
	require.Equal(t, resp.OK, r)

	r, err = Get(ctx, tx, codec, 1000, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, resp.Bulk("v"), r)
}

func TestGetMissingReturnsNil(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := Get(ctx, tx, codec, 1000, []byte("missing"))
	require.NoError(t, err)
	require.Equal(t, resp.Nil, r)
}

func TestSetNXFailsWhenExists(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Set(ctx, tx, codec, 1000, []byte("k"), []byte("v"), SetOptions{})
	require.NoError(t, err)

	r, err := Set(ctx, tx, codec, 1000, []byte("k"), []byte("v2"), SetOptions{NX: true})
	require.NoError(t, err)
	require.Equal(t, resp.Nil, r)

	got, _ := Get(ctx, tx, codec, 1000, []byte("k"))
	require.Equal(t, resp.Bulk("v"), got)
}

func TestSetXXFailsWhenAbsent(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := Set(ctx, tx, codec, 1000, []byte("k"), []byte("v"), SetOptions{XX: true})
	require.NoError(t, err)
	require.Equal(t, resp.Nil, r)
}

func TestSetKeepTTLPreservesExpiry(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Set(ctx, tx, codec, 1000, []byte("k"), []byte("v"), SetOptions{ExpireAtMs: 5000})
	require.NoError(t, err)

	_, err = Set(ctx, tx, codec, 1000, []byte("k"), []byte("v2"), SetOptions{KeepTTL: true})
	require.NoError(t, err)

	raw, ok, err := tx.Get(ctx, codec.MetaKey([]byte("k")))
	require.NoError(t, err)
	require.True(t, ok)
	mv, err := keycodec.DecodeMetaValue(raw)
	require.NoError(t, err)
	require.EqualValues(t, 5000, mv.ExpireAtMs)
}

func TestIncrByFromScratch(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := IncrBy(ctx, tx, codec, 1000, []byte("ctr"), 5)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(5), r)

	r, err = IncrBy(ctx, tx, codec, 1000, []byte("ctr"), -2)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(3), r)
}

func TestIncrByNonIntegerErrors(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Set(ctx, tx, codec, 1000, []byte("k"), []byte("notanumber"), SetOptions{})
	require.NoError(t, err)

	r, err := IncrBy(ctx, tx, codec, 1000, []byte("k"), 1)
	require.NoError(t, err)
	require.Equal(t, resp.ErrNotInteger, r)
}

func TestIncrByOverflowErrors(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Set(ctx, tx, codec, 1000, []byte("ctr"), []byte("9223372036854775807"), SetOptions{})
	require.NoError(t, err)

	r, err := IncrBy(ctx, tx, codec, 1000, []byte("ctr"), 1)
	require.NoError(t, err)
	require.Equal(t, resp.ErrIncrOverflow, r)

	got, _ := Get(ctx, tx, codec, 1000, []byte("ctr"))
	require.Equal(t, resp.Bulk("9223372036854775807"), got, "a rejected INCR must not mutate the stored value")
}

func TestIncrByNegativeOverflowErrors(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Set(ctx, tx, codec, 1000, []byte("ctr"), []byte("-9223372036854775808"), SetOptions{})
	require.NoError(t, err)

	r, err := IncrBy(ctx, tx, codec, 1000, []byte("ctr"), -1)
	require.NoError(t, err)
	require.Equal(t, resp.ErrIncrOverflow, r)
}

func TestIncrByPreservesExpiry(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Set(ctx, tx, codec, 1000, []byte("ctr"), []byte("5"), SetOptions{ExpireAtMs: 9000})
	require.NoError(t, err)

	r, err := IncrBy(ctx, tx, codec, 1000, []byte("ctr"), 1)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(6), r)

	raw, ok, err := tx.Get(ctx, codec.MetaKey([]byte("ctr")))
	require.NoError(t, err)
	require.True(t, ok)
	mv, err := keycodec.DecodeMetaValue(raw)
	require.NoError(t, err)
	require.EqualValues(t, 9000, mv.ExpireAtMs)
}

func TestGetDelRemovesKey(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Set(ctx, tx, codec, 1000, []byte("k"), []byte("v"), SetOptions{})
	require.NoError(t, err)

	r, err := GetDel(ctx, tx, codec, 1000, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, resp.Bulk("v"), r)

	r, err = Get(ctx, tx, codec, 1000, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, resp.Nil, r)
}

func TestMSetAndMGet(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := MSet(ctx, tx, codec, [][2][]byte{{[]byte("a"), []byte("1")}, {[]byte("b"), []byte("2")}})
	require.NoError(t, err)

	r, err := MGet(ctx, tx, codec, 1000, [][]byte{[]byte("a"), []byte("b"), []byte("missing")})
	require.NoError(t, err)
	require.Equal(t, resp.Array{resp.Bulk("1"), resp.Bulk("2"), resp.Nil}, r)
}

func TestGetOnExpiredKeyIsNil(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Set(ctx, tx, codec, 1000, []byte("k"), []byte("v"), SetOptions{ExpireAtMs: 1500})
	require.NoError(t, err)

	r, err := Get(ctx, tx, codec, 2000, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, resp.Nil, r)
}

func TestStrLenWrongType(t *testing.T) {
	ctx, tx, codec := setup(t)
	mv := keycodec.MetaValue{Type: keycodec.TypeHash}
	require.NoError(t, tx.Put(ctx, codec.MetaKey([]byte("h")), keycodec.EncodeMetaValue(mv)))

	r, err := StrLen(ctx, tx, codec, 1000, []byte("h"))
	require.NoError(t, err)
	require.Equal(t, resp.ErrWrongType, r)
}
