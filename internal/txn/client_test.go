package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redistd/redistd/internal/store"
)

func TestExecInTxnCommitsOnSuccess(t *testing.T) {
	eng := store.NewMemEngine()
	c := New(eng, DefaultRetryPolicy(), nil)

	err := c.ExecInTxn(context.Background(), nil, func(tx store.Txn) error {
		return tx.Put(context.Background(), []byte("k"), []byte("v"))
	})
	require.NoError(t, err)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	v, ok, err := snap.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestExecInTxnRollsBackOnBodyError(t *testing.T) {
	eng := store.NewMemEngine()
	c := New(eng, DefaultRetryPolicy(), nil)

	sentinel := errBoom{}
	err := c.ExecInTxn(context.Background(), nil, func(tx store.Txn) error {
		_ = tx.Put(context.Background(), []byte("k"), []byte("v"))
		return sentinel
	})
	require.ErrorIs(t, err, ErrTxnAborted)

	snap, _ := c.Snapshot(context.Background())
	_, ok, _ := snap.Get(context.Background(), []byte("k"))
	require.False(t, ok)
}

func TestExecInTxnUsesParentWithoutCommitting(t *testing.T) {
	eng := store.NewMemEngine()
	c := New(eng, DefaultRetryPolicy(), nil)

	parent, err := eng.Begin(context.Background())
	require.NoError(t, err)

	err = c.ExecInTxn(context.Background(), parent, func(tx store.Txn) error {
		require.Same(t, parent, tx)
		return tx.Put(context.Background(), []byte("k"), []byte("v"))
	})
	require.NoError(t, err)

	// Not yet visible: parent hasn't committed.
	snap, _ := c.Snapshot(context.Background())
	_, ok, _ := snap.Get(context.Background(), []byte("k"))
	require.False(t, ok)

	require.NoError(t, parent.Commit(context.Background()))
	snap2, _ := c.Snapshot(context.Background())
	v, ok, _ := snap2.Get(context.Background(), []byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestExecInTxnRetriesOnConflict(t *testing.T) {
	eng := store.NewMemEngine()
	c := New(eng, RetryPolicy{MaxAttempts: 5, InitialBackoff: 1, MaxBackoff: 2, BackoffMultiple: 2}, nil)

	require.NoError(t, c.ExecInTxn(context.Background(), nil, func(tx store.Txn) error {
		return tx.Put(context.Background(), []byte("ctr"), []byte("0"))
	}))

	attempt := 0
	err := c.ExecInTxn(context.Background(), nil, func(tx store.Txn) error {
		attempt++
		_, _, _ = tx.Get(context.Background(), []byte("ctr"))
		if attempt == 1 {
			// simulate a racing writer committing between our read and write
			other, _ := eng.Begin(context.Background())
			_ = other.Put(context.Background(), []byte("ctr"), []byte("1"))
			require.NoError(t, other.Commit(context.Background()))
		}
		return tx.Put(context.Background(), []byte("ctr"), []byte("2"))
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempt)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
