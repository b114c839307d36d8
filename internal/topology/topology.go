// Package topology implements TopologyManager (spec §4.11): a heartbeat
// writer plus a peer-liveness sweep, both driven off TopoKeys stored
// directly in the shared backing store rather than a separate coordinator
// process (every node is a peer).
//
// Grounded on johnjansen-torua/internal/coordinator/health_monitor.go's
// periodic-sweep-over-a-registry shape (ticker loop, RWMutex-guarded
// registry, Start/Stop lifecycle), retargeted from an HTTP-polled node list
// to TopoKey heartbeats read through internal/store.
package topology

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/store"
)

// Manager writes this node's heartbeat and tracks which peers currently
// look alive, consulted by GC's slot-ownership filter (§4.9).
type Manager struct {
	codec    *keycodec.Codec
	eng      store.Engine
	selfAddr []byte
	interval time.Duration
	expireMs int64
	log      *zap.Logger

	mu    sync.RWMutex
	peers [][]byte // live peer addresses, including self

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Manager. selfAddr is this node's cluster_broadcast_addr.
func New(codec *keycodec.Codec, eng store.Engine, selfAddr string, interval time.Duration, expireMs int64, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		codec:    codec,
		eng:      eng,
		selfAddr: []byte(selfAddr),
		interval: interval,
		expireMs: expireMs,
		log:      log.Named("topology"),
	}
}

// Start begins the heartbeat/sweep loop in a background goroutine. Blocks
// until the first heartbeat+sweep completes, mirroring the teacher's
// "perform initial check immediately" behavior.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.tick(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) tick(ctx context.Context) {
	if err := m.heartbeat(ctx); err != nil {
		m.log.Warn("heartbeat failed", zap.Error(err))
	}
	if err := m.sweep(ctx); err != nil {
		m.log.Warn("peer sweep failed", zap.Error(err))
	}
}

func (m *Manager) heartbeat(ctx context.Context) error {
	txn, err := m.eng.Begin(ctx)
	if err != nil {
		return err
	}
	expireAt := nowMs() + m.expireMs
	buf := binary.BigEndian.AppendUint64(nil, uint64(expireAt))
	if err := txn.Put(ctx, m.codec.TopoKey(m.selfAddr), buf); err != nil {
		_ = txn.Rollback(ctx)
		return err
	}
	return txn.Commit(ctx)
}

func (m *Manager) sweep(ctx context.Context) error {
	snap, err := m.eng.Snapshot(ctx)
	if err != nil {
		return err
	}
	start, end := m.codec.TopoKeyRange()
	kvs, err := snap.Scan(ctx, start, end, 0)
	if err != nil {
		return err
	}

	now := nowMs()
	live := make([][]byte, 0, len(kvs))
	for _, kv := range kvs {
		addr, ok := m.codec.DecodeTopoKey(kv.Key)
		if !ok || len(kv.Value) != 8 {
			continue
		}
		expireAt := int64(binary.BigEndian.Uint64(kv.Value))
		if expireAt > now {
			live = append(live, addr)
		}
	}

	m.mu.Lock()
	m.peers = live
	m.mu.Unlock()
	return nil
}

// Peers returns the addresses currently believed alive (including self).
func (m *Manager) Peers() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.peers))
	copy(out, m.peers)
	return out
}

// Owns reports whether self is the current owner of the given consistent-
// hash slot, per a simple sorted-peer-list modulo assignment — GC (§4.9)
// calls this to decide which GCVersionKeys it is responsible for.
func (m *Manager) Owns(slot uint16, numSlots int) bool {
	peers := m.Peers()
	if len(peers) == 0 {
		return true
	}
	idx := int(slot) % len(peers)
	return string(peers[idx]) == string(m.selfAddr)
}

func nowMs() int64 { return timeNowUnixMilli() }

// timeNowUnixMilli is split out so it can be swapped in tests.
var timeNowUnixMilli = func() int64 { return time.Now().UnixMilli() }
