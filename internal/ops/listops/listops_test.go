package listops

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

func bb(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestPushAndRangeOrdering(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("b", "a"), true, false)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(2), r)

	r, err = Push(ctx, tx, codec, 1000, []byte("l"), bb("c", "d"), false, false)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(4), r)

	r, err = LRange(ctx, tx, codec, 1000, []byte("l"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, resp.Array{resp.Bulk("a"), resp.Bulk("b"), resp.Bulk("c"), resp.Bulk("d")}, r)
}

func TestPushXNoOpWhenMissing(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("x"), true, true)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(0), r)

	r, err = LLen(ctx, tx, codec, 1000, []byte("l"))
	require.NoError(t, err)
	require.Equal(t, resp.Integer(0), r)
}

func TestPopFromEachEnd(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a", "b", "c"), false, false)
	require.NoError(t, err)

	r, err := Pop(ctx, tx, codec, 1000, []byte("l"), true, nil)
	require.NoError(t, err)
	require.Equal(t, resp.Bulk("a"), r)

	r, err = Pop(ctx, tx, codec, 1000, []byte("l"), false, nil)
	require.NoError(t, err)
	require.Equal(t, resp.Bulk("c"), r)

	r, err = LLen(ctx, tx, codec, 1000, []byte("l"))
	require.NoError(t, err)
	require.Equal(t, resp.Integer(1), r)
}

func TestPopCountDeletesKeyWhenEmptied(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a", "b"), false, false)
	require.NoError(t, err)

	count := int64(5)
	r, err := Pop(ctx, tx, codec, 1000, []byte("l"), true, &count)
	require.NoError(t, err)
	require.Equal(t, resp.Array{resp.Bulk("a"), resp.Bulk("b")}, r)

	_, ok, err := tx.Get(ctx, codec.MetaKey([]byte("l")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPopOnMissingKey(t *testing.T) {
	ctx, tx, codec := setup(t)
	r, err := Pop(ctx, tx, codec, 1000, []byte("missing"), true, nil)
	require.NoError(t, err)
	require.Equal(t, resp.Nil, r)

	count := int64(2)
	r, err = Pop(ctx, tx, codec, 1000, []byte("missing"), true, &count)
	require.NoError(t, err)
	require.Equal(t, resp.NilArray, r)
}

func TestLIndexAndLSet(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a", "b", "c"), false, false)
	require.NoError(t, err)

	r, err := LIndex(ctx, tx, codec, 1000, []byte("l"), -1)
	require.NoError(t, err)
	require.Equal(t, resp.Bulk("c"), r)

	r, err = LSet(ctx, tx, codec, 1000, []byte("l"), 1, []byte("z"))
	require.NoError(t, err)
	require.Equal(t, resp.OK, r)

	r, err = LIndex(ctx, tx, codec, 1000, []byte("l"), 1)
	require.NoError(t, err)
	require.Equal(t, resp.Bulk("z"), r)
}

func TestLSetOutOfRange(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a"), false, false)
	require.NoError(t, err)

	r, err := LSet(ctx, tx, codec, 1000, []byte("l"), 5, []byte("z"))
	require.NoError(t, err)
	require.Equal(t, resp.Error("ERR index out of range"), r)
}

func TestLTrim(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a", "b", "c", "d"), false, false)
	require.NoError(t, err)

	r, err := LTrim(ctx, tx, codec, 1000, []byte("l"), 1, 2)
	require.NoError(t, err)
	require.Equal(t, resp.OK, r)

	r, err = LRange(ctx, tx, codec, 1000, []byte("l"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, resp.Array{resp.Bulk("b"), resp.Bulk("c")}, r)
}

func TestLTrimToEmptyDeletesKey(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a"), false, false)
	require.NoError(t, err)

	_, err = LTrim(ctx, tx, codec, 1000, []byte("l"), 5, 10)
	require.NoError(t, err)

	_, ok, err := tx.Get(ctx, codec.MetaKey([]byte("l")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLRemPositiveFromHead(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a", "x", "b", "x", "x"), false, false)
	require.NoError(t, err)

	r, err := LRem(ctx, tx, codec, 1000, []byte("l"), 2, []byte("x"), 1000)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(2), r)

	r, err = LRange(ctx, tx, codec, 1000, []byte("l"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, resp.Array{resp.Bulk("a"), resp.Bulk("b"), resp.Bulk("x")}, r)
}

func TestLRemNegativeFromTail(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("x", "a", "x", "b", "x"), false, false)
	require.NoError(t, err)

	r, err := LRem(ctx, tx, codec, 1000, []byte("l"), -2, []byte("x"), 1000)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(2), r)

	r, err = LRange(ctx, tx, codec, 1000, []byte("l"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, resp.Array{resp.Bulk("x"), resp.Bulk("a"), resp.Bulk("b")}, r)
}

func TestLRemZeroRemovesAll(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("x", "a", "x"), false, false)
	require.NoError(t, err)

	r, err := LRem(ctx, tx, codec, 1000, []byte("l"), 0, []byte("x"), 1000)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(2), r)
}

func TestLRemRejectsOverLengthLimit(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a", "b", "c"), false, false)
	require.NoError(t, err)

	r, err := LRem(ctx, tx, codec, 1000, []byte("l"), 0, []byte("a"), 2)
	require.NoError(t, err)
	require.Equal(t, resp.Error("ERR list operation exceeds configured length limit"), r)
}

func TestLInsertBeforeAndAfter(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a", "c"), false, false)
	require.NoError(t, err)

	r, err := LInsert(ctx, tx, codec, 1000, []byte("l"), true, []byte("c"), []byte("b"), 1000)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(3), r)

	r, err = LRange(ctx, tx, codec, 1000, []byte("l"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, resp.Array{resp.Bulk("a"), resp.Bulk("b"), resp.Bulk("c")}, r)

	r, err = LInsert(ctx, tx, codec, 1000, []byte("l"), false, []byte("c"), []byte("d"), 1000)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(4), r)
}

func TestLInsertPivotNotFound(t *testing.T) {
	ctx, tx, codec := setup(t)
	_, err := Push(ctx, tx, codec, 1000, []byte("l"), bb("a"), false, false)
	require.NoError(t, err)

	r, err := LInsert(ctx, tx, codec, 1000, []byte("l"), true, []byte("missing"), []byte("z"), 1000)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(-1), r)
}

func TestLLenWrongType(t *testing.T) {
	ctx, tx, codec := setup(t)
	require.NoError(t, tx.Put(ctx, codec.MetaKey([]byte("s")), keycodec.EncodeMetaValue(keycodec.MetaValue{Type: keycodec.TypeString})))

	r, err := LLen(ctx, tx, codec, 1000, []byte("s"))
	require.NoError(t, err)
	require.Equal(t, resp.ErrWrongType, r)
}
