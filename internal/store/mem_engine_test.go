package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemEnginePutGet(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()
	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tx.Commit(ctx))

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	v, ok, err := snap.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestMemEngineSnapshotIsolation(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()

	tx1, _ := e.Begin(ctx)
	require.NoError(t, tx1.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tx1.Commit(ctx))

	snap, _ := e.Snapshot(ctx)

	tx2, _ := e.Begin(ctx)
	require.NoError(t, tx2.Put(ctx, []byte("a"), []byte("2")))
	require.NoError(t, tx2.Commit(ctx))

	v, ok, _ := snap.Get(ctx, []byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v, "snapshot must not observe writes committed after it was taken")
}

func TestMemEngineCommitConflictIsRetryable(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()

	seed, _ := e.Begin(ctx)
	require.NoError(t, seed.Put(ctx, []byte("a"), []byte("0")))
	require.NoError(t, seed.Commit(ctx))

	tx1, _ := e.Begin(ctx)
	tx2, _ := e.Begin(ctx)

	_, _, _ = tx1.Get(ctx, []byte("a"))
	_, _, _ = tx2.Get(ctx, []byte("a"))

	require.NoError(t, tx1.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tx1.Commit(ctx))

	require.NoError(t, tx2.Put(ctx, []byte("a"), []byte("2")))
	err := tx2.Commit(ctx)
	require.Error(t, err)
	require.True(t, IsRetryable(err))
}

func TestMemEngineDeleteThenRead(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()
	tx, _ := e.Begin(ctx)
	require.NoError(t, tx.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := e.Begin(ctx)
	require.NoError(t, tx2.Delete(ctx, []byte("a")))
	require.NoError(t, tx2.Commit(ctx))

	snap, _ := e.Snapshot(ctx)
	_, ok, _ := snap.Get(ctx, []byte("a"))
	require.False(t, ok)
}

func TestMemEngineScanOrdering(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()
	tx, _ := e.Begin(ctx)
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, tx.Put(ctx, []byte(k), []byte(k)))
	}
	require.NoError(t, tx.Commit(ctx))

	snap, _ := e.Snapshot(ctx)
	kvs, err := snap.Scan(ctx, []byte("a"), nil, 0)
	require.NoError(t, err)
	require.Len(t, kvs, 3)
	require.Equal(t, "a", string(kvs[0].Key))
	require.Equal(t, "b", string(kvs[1].Key))
	require.Equal(t, "c", string(kvs[2].Key))
}

func TestMemEngineGetForUpdateSerializes(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()
	tx, _ := e.Begin(ctx)
	require.NoError(t, tx.Put(ctx, []byte("a"), []byte("0")))
	require.NoError(t, tx.Commit(ctx))

	tx1, _ := e.Begin(ctx)
	_, _, err := tx1.GetForUpdate(ctx, []byte("a"))
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		tx2, _ := e.Begin(ctx)
		close(started)
		_, _, _ = tx2.GetForUpdate(ctx, []byte("a"))
		close(done)
		_ = tx2.Rollback(ctx)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("GetForUpdate on tx2 should have blocked while tx1 holds the lock")
	default:
	}

	require.NoError(t, tx1.Commit(ctx))
	<-done
}
