package keyops

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

func newTestCodec() *keycodec.Codec { return keycodec.New([]byte("t1"), 4) }

func putString(t *testing.T, ctx context.Context, tx store.Txn, codec *keycodec.Codec, key, val string, expireAtMs int64) {
	t.Helper()
	mv := keycodec.MetaValue{Type: keycodec.TypeString, ExpireAtMs: expireAtMs, StringValue: []byte(val)}
	require.NoError(t, tx.Put(ctx, codec.MetaKey([]byte(key)), keycodec.EncodeMetaValue(mv)))
}

func TestDelAndExists(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec()
	eng := store.NewMemEngine()
	tx, _ := eng.Begin(ctx)
	putString(t, ctx, tx, codec, "a", "1", 0)

	r, err := Exists(ctx, tx, codec, 0, [][]byte{[]byte("a"), []byte("a"), []byte("missing")})
	require.NoError(t, err)
	require.Equal(t, mustInt(t, r), int64(2))

	r, err = Del(ctx, tx, codec, 0, [][]byte{[]byte("a"), []byte("missing")})
	require.NoError(t, err)
	require.Equal(t, mustInt(t, r), int64(1))

	r, err = Exists(ctx, tx, codec, 0, [][]byte{[]byte("a")})
	require.NoError(t, err)
	require.Equal(t, mustInt(t, r), int64(0))
}

func TestTTLAndExpireAndPersist(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec()
	eng := store.NewMemEngine()
	tx, _ := eng.Begin(ctx)
	putString(t, ctx, tx, codec, "a", "1", 0)

	r, err := TTL(ctx, tx, codec, 1000, []byte("a"), false)
	require.NoError(t, err)
	require.EqualValues(t, -1, mustInt(t, r))

	r, err = Expire(ctx, tx, codec, 1000, []byte("a"), 10, false, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, mustInt(t, r))

	r, err = TTL(ctx, tx, codec, 1000, []byte("a"), false)
	require.NoError(t, err)
	require.EqualValues(t, 10, mustInt(t, r))

	r, err = Persist(ctx, tx, codec, 1000, []byte("a"))
	require.NoError(t, err)
	require.EqualValues(t, 1, mustInt(t, r))

	r, err = TTL(ctx, tx, codec, 1000, []byte("a"), false)
	require.NoError(t, err)
	require.EqualValues(t, -1, mustInt(t, r))
}

func TestTTLOfExpiredKeyReturnsMinusTwo(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec()
	eng := store.NewMemEngine()
	tx, _ := eng.Begin(ctx)
	putString(t, ctx, tx, codec, "a", "1", 500)

	r, err := TTL(ctx, tx, codec, 1000, []byte("a"), false)
	require.NoError(t, err)
	require.EqualValues(t, -2, mustInt(t, r))
}

func TestRenameMovesData(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec()
	eng := store.NewMemEngine()
	tx, _ := eng.Begin(ctx)
	putString(t, ctx, tx, codec, "a", "1", 0)

	r, err := Rename(ctx, tx, codec, 0, []byte("a"), []byte("b"))
	require.NoError(t, err)
	require.Equal(t, resp.OK, r)

	_, ok, err := tx.Get(ctx, codec.MetaKey([]byte("a")))
	require.NoError(t, err)
	require.False(t, ok)

	raw, ok, err := tx.Get(ctx, codec.MetaKey([]byte("b")))
	require.NoError(t, err)
	require.True(t, ok)
	mv, err := keycodec.DecodeMetaValue(raw)
	require.NoError(t, err)
	require.Equal(t, "1", string(mv.StringValue))
}

func TestDelWithGCOrphansLargeCollection(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec()
	eng := store.NewMemEngine()
	tx, _ := eng.Begin(ctx)

	mv := keycodec.MetaValue{Type: keycodec.TypeSet}
	require.NoError(t, tx.Put(ctx, codec.MetaKey([]byte("s")), keycodec.EncodeMetaValue(mv)))
	require.NoError(t, tx.Put(ctx, codec.SetDataKey([]byte("s"), 0, []byte("m1")), []byte{}))
	countBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(countBuf, 1)
	require.NoError(t, tx.Put(ctx, codec.SubMetaKey([]byte("s"), 0, 0), countBuf))

	cfg := AsyncDeleteConfig{Enabled: true, SetThreshold: 1}
	r, err := DelWithGC(ctx, tx, codec, 0, [][]byte{[]byte("s")}, cfg)
	require.NoError(t, err)
	require.Equal(t, mustInt(t, r), int64(1))

	_, ok, err := tx.Get(ctx, codec.MetaKey([]byte("s")))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = tx.Get(ctx, codec.GCVersionKey([]byte("s"), 0))
	require.NoError(t, err)
	require.True(t, ok)

	raw, ok, err := tx.Get(ctx, codec.SetDataKey([]byte("s"), 0, []byte("m1")))
	require.NoError(t, err)
	require.True(t, ok, "orphaned data must survive until GC runs")
	_ = raw
}

func TestDelWithGCDisabledIsSynchronous(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec()
	eng := store.NewMemEngine()
	tx, _ := eng.Begin(ctx)
	putString(t, ctx, tx, codec, "a", "1", 0)

	r, err := DelWithGC(ctx, tx, codec, 0, [][]byte{[]byte("a")}, AsyncDeleteConfig{Enabled: false})
	require.NoError(t, err)
	require.Equal(t, mustInt(t, r), int64(1))
}

func TestGlobMatch(t *testing.T) {
	require.True(t, globMatch("foo*", "foobar"))
	require.True(t, globMatch("f?o", "foo"))
	require.True(t, globMatch("[a-c]at", "bat"))
	require.False(t, globMatch("[a-c]at", "dat"))
	require.True(t, globMatch("*", "anything"))
}

func mustInt(t *testing.T, r resp.Reply) int64 {
	t.Helper()
	i, ok := r.(resp.Integer)
	require.True(t, ok, "expected resp.Integer, got %T", r)
	return int64(i)
}
