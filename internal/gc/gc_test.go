package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/store"
)

type alwaysOwner struct{}

func (alwaysOwner) Owns(slot uint16, numSlots int) bool { return true }

type neverOwner struct{}

func (neverOwner) Owns(slot uint16, numSlots int) bool { return false }

func orphanSet(t *testing.T, eng store.Engine, codec *keycodec.Codec, userKey string, version uint16, members ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := eng.Begin(ctx)
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, tx.Put(ctx, codec.SetDataKey([]byte(userKey), version, []byte(m)), []byte{}))
	}
	require.NoError(t, tx.Put(ctx, codec.GCVersionKey([]byte(userKey), version), []byte{byte(keycodec.TypeSet)}))
	require.NoError(t, tx.Put(ctx, codec.GCKey([]byte(userKey)), []byte{byte(version >> 8), byte(version)}))
	require.NoError(t, tx.Commit(ctx))
}

func TestRunOnceDryRunCountsWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	codec := keycodec.New([]byte("t1"), 4)
	eng := store.NewMemEngine()
	orphanSet(t, eng, codec, "s1", 1, "m1", "m2")

	n, err := RunOnce(ctx, codec, eng, alwaysOwner{}, 4, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	tx, _ := eng.Begin(ctx)
	_, ok, err := tx.Get(ctx, codec.GCVersionKey([]byte("s1"), 1))
	require.NoError(t, err)
	require.True(t, ok, "dry run must not delete anything")
}

func TestRunOnceDeletesOrphanedData(t *testing.T) {
	ctx := context.Background()
	codec := keycodec.New([]byte("t1"), 4)
	eng := store.NewMemEngine()
	orphanSet(t, eng, codec, "s1", 1, "m1", "m2")

	n, err := RunOnce(ctx, codec, eng, alwaysOwner{}, 4, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	tx, _ := eng.Begin(ctx)
	_, ok, err := tx.Get(ctx, codec.GCVersionKey([]byte("s1"), 1))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = tx.Get(ctx, codec.SetDataKey([]byte("s1"), 1, []byte("m1")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunOnceSkipsKeysNotOwned(t *testing.T) {
	ctx := context.Background()
	codec := keycodec.New([]byte("t1"), 4)
	eng := store.NewMemEngine()
	orphanSet(t, eng, codec, "s1", 1, "m1")

	n, err := RunOnce(ctx, codec, eng, neverOwner{}, 4, false)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	tx, _ := eng.Begin(ctx)
	_, ok, err := tx.Get(ctx, codec.GCVersionKey([]byte("s1"), 1))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStartAndStopDrainsQueuedTask(t *testing.T) {
	ctx := context.Background()
	codec := keycodec.New([]byte("t1"), 4)
	eng := store.NewMemEngine()
	orphanSet(t, eng, codec, "s1", 1, "m1")

	g := New(codec, eng, alwaysOwner{}, nil, nil, 5*time.Millisecond, 2, 8)
	g.Start(ctx)
	require.Eventually(t, func() bool {
		tx, _ := eng.Begin(context.Background())
		_, ok, _ := tx.Get(context.Background(), codec.GCVersionKey([]byte("s1"), 1))
		return !ok
	}, time.Second, 10*time.Millisecond)
	g.Stop()
}

func TestSlotIsStableAndRespectsHashtag(t *testing.T) {
	require.Equal(t, Slot([]byte("{user1000}.following")), Slot([]byte("{user1000}.followers")))
	require.Less(t, Slot([]byte("a")), uint16(16384))
}
