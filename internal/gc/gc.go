// Package gc implements the async Garbage Collector (spec §4.9): a master
// scan loop over GCVersionKeys, slot-filtered by TopologyManager ownership,
// dispatching deduplicated tasks to a bounded worker pool that performs the
// two-phase delete.
//
// original_source has no equivalent — its delete paths are always
// synchronous — so this package's worker-pool shape is grounded on
// johnjansen-torua's health_monitor ticker/Start/Stop lifecycle. The
// background pool is one goroutine per bounded task channel, joined by a
// sync.WaitGroup; only the one-shot RunOnce pass bounds its concurrency
// with golang.org/x/sync/errgroup.
package gc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/metrics"
	"github.com/redistd/redistd/internal/ops/opscore"
	"github.com/redistd/redistd/internal/store"
)

// Owner decides which node is responsible for a given cluster slot;
// satisfied by *topology.Manager.
type Owner interface {
	Owns(slot uint16, numSlots int) bool
}

const numSlots = 16384

// task is one unit of GC work: delete everything belonging to
// (userKey, version).
type task struct {
	userKey []byte
	version uint16
	typ     keycodec.DataType
}

func (t task) dedupeKey() string {
	return string(t.userKey) + "\x00" + string(byte(t.version>>8)) + string(byte(t.version))
}

// GC runs the master scan loop and its worker pool.
type GC struct {
	codec    *keycodec.Codec
	eng      store.Engine
	owner    Owner
	metrics  *metrics.Metrics
	log      *zap.Logger
	interval time.Duration
	numWorkers int
	queueSize  int

	queues  []chan task
	inflight []map[string]struct{}
	mus      []sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a GC. numWorkers and queueSize come from config's
// async_gc_worker_number/async_gc_worker_queue_size.
func New(codec *keycodec.Codec, eng store.Engine, owner Owner, m *metrics.Metrics, log *zap.Logger, interval time.Duration, numWorkers, queueSize int) *GC {
	if log == nil {
		log = zap.NewNop()
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	g := &GC{
		codec:      codec,
		eng:        eng,
		owner:      owner,
		metrics:    m,
		log:        log.Named("gc"),
		interval:   interval,
		numWorkers: numWorkers,
		queueSize:  queueSize,
		queues:     make([]chan task, numWorkers),
		inflight:   make([]map[string]struct{}, numWorkers),
		mus:        make([]sync.Mutex, numWorkers),
	}
	for i := range g.queues {
		g.queues[i] = make(chan task, queueSize)
		g.inflight[i] = make(map[string]struct{})
	}
	return g
}

// Start launches the master scan loop and every worker goroutine.
func (g *GC) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	for i := 0; i < g.numWorkers; i++ {
		g.wg.Add(1)
		go g.runWorker(ctx, i)
	}

	g.wg.Add(1)
	go g.runMaster(ctx)
}

// Stop cancels the master loop; in-flight worker tasks finish their current
// transaction, then every channel drains and workers exit (spec §4.9's
// cancellation contract).
func (g *GC) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	for _, q := range g.queues {
		close(q)
	}
	g.wg.Wait()
}

func (g *GC) runMaster(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.scanOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (g *GC) scanOnce(ctx context.Context) {
	snap, err := g.eng.Snapshot(ctx)
	if err != nil {
		g.log.Warn("gc scan: snapshot failed", zap.Error(err))
		return
	}
	start, end := g.codec.GCVersionKeyRange()
	kvs, err := snap.Scan(ctx, start, end, 0)
	if err != nil {
		g.log.Warn("gc scan: range scan failed", zap.Error(err))
		return
	}

	for _, kv := range kvs {
		userKey, version, ok := g.codec.DecodeGCVersionKey(kv.Key)
		if !ok || len(kv.Value) != 1 {
			continue
		}
		slot := Slot(userKey)
		if !g.owner.Owns(slot, numSlots) {
			continue
		}
		t := task{userKey: append([]byte(nil), userKey...), version: version, typ: keycodec.DataType(kv.Value[0])}
		shard := int(crc16(kv.Key)) % g.numWorkers

		g.mus[shard].Lock()
		_, dup := g.inflight[shard][t.dedupeKey()]
		if !dup {
			g.inflight[shard][t.dedupeKey()] = struct{}{}
		}
		g.mus[shard].Unlock()
		if dup {
			continue
		}

		select {
		case g.queues[shard] <- t:
		case <-ctx.Done():
			return
		}
	}
}

func (g *GC) runWorker(ctx context.Context, shard int) {
	defer g.wg.Done()
	for t := range g.queues[shard] {
		start := time.Now()
		err := g.runTask(ctx, t)

		g.mus[shard].Lock()
		delete(g.inflight[shard], t.dedupeKey())
		g.mus[shard].Unlock()

		outcome := "ok"
		if err != nil {
			outcome = "error"
			g.log.Warn("gc task failed", zap.ByteString("key", t.userKey), zap.Uint16("version", t.version), zap.Error(err))
		}
		if g.metrics != nil {
			g.metrics.GCTasksTotal.WithLabelValues(t.typ.String(), outcome).Inc()
			g.metrics.GCTaskDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// runTask performs the two-phase delete described in spec §4.9: first the
// sub-meta/data/score ranges plus the GCVersionKey in one transaction, then
// the GCKey itself in a second small transaction guarded on its value still
// matching this version (so a concurrent fresh write that reused GCKey for
// a new generation of the same user key is never clobbered).
func (g *GC) runTask(ctx context.Context, t task) error {
	txn, err := g.eng.Begin(ctx)
	if err != nil {
		return err
	}
	if err := deleteVersionedData(ctx, txn, g.codec, t.userKey, t.version, t.typ); err != nil {
		_ = txn.Rollback(ctx)
		return err
	}
	if err := opscore.ClearSubMeta(ctx, txn, g.codec, t.userKey, t.version); err != nil {
		_ = txn.Rollback(ctx)
		return err
	}
	if err := txn.Delete(ctx, g.codec.GCVersionKey(t.userKey, t.version)); err != nil {
		_ = txn.Rollback(ctx)
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}

	gckTxn, err := g.eng.Begin(ctx)
	if err != nil {
		return err
	}
	raw, ok, err := gckTxn.GetForUpdate(ctx, g.codec.GCKey(t.userKey))
	if err != nil {
		_ = gckTxn.Rollback(ctx)
		return err
	}
	if !ok || len(raw) != 2 || uint16(raw[0])<<8|uint16(raw[1]) != t.version {
		return gckTxn.Rollback(ctx)
	}
	if err := gckTxn.Delete(ctx, g.codec.GCKey(t.userKey)); err != nil {
		_ = gckTxn.Rollback(ctx)
		return err
	}
	return gckTxn.Commit(ctx)
}

func deleteVersionedData(ctx context.Context, tx store.Txn, codec *keycodec.Codec, userKey []byte, version uint16, typ keycodec.DataType) error {
	var ranges [][2][]byte
	switch typ {
	case keycodec.TypeHash:
		s, e := codec.HashDataKeyRange(userKey, version)
		ranges = append(ranges, [2][]byte{s, e})
	case keycodec.TypeList:
		s, e := codec.ListDataKeyRange(userKey, version)
		ranges = append(ranges, [2][]byte{s, e})
	case keycodec.TypeSet:
		s, e := codec.SetDataKeyRange(userKey, version)
		ranges = append(ranges, [2][]byte{s, e})
	case keycodec.TypeZset:
		s, e := codec.ZsetDataKeyRange(userKey, version)
		ranges = append(ranges, [2][]byte{s, e})
		ss, se := codec.ZsetScoreKeyRange(userKey, version)
		ranges = append(ranges, [2][]byte{ss, se})
	}
	for _, r := range ranges {
		kvs, err := tx.Scan(ctx, r[0], r[1], 0)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			if err := tx.Delete(ctx, kv.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunOnce performs one synchronous master scan + fully-drained task
// dispatch, for use by redist-gcctl's manual trigger (no workers/tickers
// involved). errgroup bounds concurrency to numWorkers, propagating the
// first task error to the caller (the CLI tool path: operator wants to see
// an error immediately, unlike the long-running background pool where one
// bad task is logged and dropped).
func RunOnce(ctx context.Context, codec *keycodec.Codec, eng store.Engine, owner Owner, numWorkers int, dryRun bool) (processed int, err error) {
	snap, err := eng.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	start, end := codec.GCVersionKeyRange()
	kvs, err := snap.Scan(ctx, start, end, 0)
	if err != nil {
		return 0, err
	}

	var eligible []task
	for _, kv := range kvs {
		userKey, version, ok := codec.DecodeGCVersionKey(kv.Key)
		if !ok || len(kv.Value) != 1 {
			continue
		}
		if !owner.Owns(Slot(userKey), numSlots) {
			continue
		}
		eligible = append(eligible, task{userKey: userKey, version: version, typ: keycodec.DataType(kv.Value[0])})
	}
	if dryRun {
		return len(eligible), nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(numWorkers)
	var mu sync.Mutex
	for _, t := range eligible {
		t := t
		eg.Go(func() error {
			txn, err := eng.Begin(egCtx)
			if err != nil {
				return err
			}
			if err := deleteVersionedData(egCtx, txn, codec, t.userKey, t.version, t.typ); err != nil {
				_ = txn.Rollback(egCtx)
				return err
			}
			if err := opscore.ClearSubMeta(egCtx, txn, codec, t.userKey, t.version); err != nil {
				_ = txn.Rollback(egCtx)
				return err
			}
			if err := txn.Delete(egCtx, codec.GCVersionKey(t.userKey, t.version)); err != nil {
				_ = txn.Rollback(egCtx)
				return err
			}
			if err := txn.Commit(egCtx); err != nil {
				return err
			}
			mu.Lock()
			processed++
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return processed, err
	}
	return processed, nil
}
