package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/store"
)

func TestHeartbeatAndSweepTracksLivePeers(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemEngine()
	codec := keycodec.New([]byte("t1"), 8)

	mgr := New(codec, eng, "10.0.0.1:6399", time.Hour, 10_000, nil)
	require.NoError(t, mgr.heartbeat(ctx))
	require.NoError(t, mgr.sweep(ctx))

	peers := mgr.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, "10.0.0.1:6399", string(peers[0]))
}

func TestSweepDropsExpiredPeers(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemEngine()
	codec := keycodec.New([]byte("t1"), 8)

	mgr := New(codec, eng, "10.0.0.1:6399", time.Hour, -1, nil)
	require.NoError(t, mgr.heartbeat(ctx))
	require.NoError(t, mgr.sweep(ctx))

	require.Empty(t, mgr.Peers())
}

func TestOwnsWithNoPeersIsTrue(t *testing.T) {
	codec := keycodec.New([]byte("t1"), 8)
	mgr := New(codec, store.NewMemEngine(), "10.0.0.1:6399", time.Hour, 10_000, nil)
	require.True(t, mgr.Owns(42, 16384))
}
