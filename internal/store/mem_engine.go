package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/btree"
)

// MemEngine is an in-process Engine: an ordered key space held in a
// google/btree.BTreeG, with optimistic multi-version concurrency control for
// snapshot isolation and an advisory per-key mutex for GetForUpdate. It has
// no persistence and is intended for tests, development, and the
// single-node deployment mode; a production deployment would implement
// Engine against a real distributed TKV instead.
//
// Conflict detection: every Txn records, per key it read, the commitTS it
// observed. Commit takes engMu, re-checks each observed commitTS against the
// record's current latest version, and aborts with *ConflictError if any
// key changed since the read — the same "snapshot + conflict detection at
// commit" model spec §3's glossary describes.
type MemEngine struct {
	engMu     sync.Mutex
	tree      *btree.BTreeG[*record]
	commitSeq uint64

	locksMu  sync.Mutex
	keyLocks map[string]*sync.Mutex
}

type record struct {
	key      []byte
	versions []version // ascending by commitTS
}

type version struct {
	commitTS uint64
	value    []byte
	deleted  bool
}

func recordLess(a, b *record) bool { return bytes.Compare(a.key, b.key) < 0 }

// NewMemEngine constructs an empty MemEngine.
func NewMemEngine() *MemEngine {
	return &MemEngine{
		tree:     btree.NewG(32, recordLess),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (e *MemEngine) Close() error { return nil }

// visibleAt returns the value visible to a reader at snapshot ts, and the
// commitTS of that version (0 and false if nothing is visible).
func (r *record) visibleAt(ts uint64) (value []byte, commitTS uint64, found bool) {
	// versions is ascending by commitTS; find the last one <= ts.
	for i := len(r.versions) - 1; i >= 0; i-- {
		v := r.versions[i]
		if v.commitTS <= ts {
			if v.deleted {
				return nil, v.commitTS, false
			}
			return v.value, v.commitTS, true
		}
	}
	return nil, 0, false
}

func (e *MemEngine) getAt(key []byte, ts uint64) (value []byte, commitTS uint64, found bool) {
	e.engMu.Lock()
	defer e.engMu.Unlock()
	item, ok := e.tree.Get(&record{key: key})
	if !ok {
		return nil, 0, false
	}
	return item.visibleAt(ts)
}

func (e *MemEngine) scanAt(start, end []byte, limit int, ts uint64) []KV {
	e.engMu.Lock()
	defer e.engMu.Unlock()
	var out []KV
	pivot := &record{key: start}
	e.tree.AscendGreaterOrEqual(pivot, func(item *record) bool {
		if end != nil && bytes.Compare(item.key, end) >= 0 {
			return false
		}
		if limit > 0 && len(out) >= limit {
			return false
		}
		if value, _, ok := item.visibleAt(ts); ok {
			out = append(out, KV{Key: append([]byte(nil), item.key...), Value: value})
		}
		return true
	})
	return out
}

func (e *MemEngine) currentSeq() uint64 {
	e.engMu.Lock()
	defer e.engMu.Unlock()
	return e.commitSeq
}

func (e *MemEngine) lockFor(key string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		e.keyLocks[key] = l
	}
	return l
}

// Snapshot returns a read-only view pinned to the current commit sequence.
func (e *MemEngine) Snapshot(ctx context.Context) (Reader, error) {
	return &memSnapshot{eng: e, ts: e.currentSeq()}, nil
}

// Begin opens a new transaction pinned to the current commit sequence.
func (e *MemEngine) Begin(ctx context.Context) (Txn, error) {
	return &memTxn{
		eng:     e,
		startTS: e.currentSeq(),
		reads:   make(map[string]readRecord),
		writes:  make(map[string]*pendingWrite),
	}, nil
}

type memSnapshot struct {
	eng *MemEngine
	ts  uint64
}

func (s *memSnapshot) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	v, _, ok := s.eng.getAt(key, s.ts)
	return v, ok, nil
}

func (s *memSnapshot) Scan(ctx context.Context, start, end []byte, limit int) ([]KV, error) {
	return s.eng.scanAt(start, end, limit, s.ts), nil
}

func (s *memSnapshot) BatchGet(ctx context.Context, keys [][]byte) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, _, ok := s.eng.getAt(k, s.ts); ok {
			out[string(k)] = v
		}
	}
	return out, nil
}

type readRecord struct {
	commitTS uint64
	found    bool
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

type memTxn struct {
	eng     *MemEngine
	startTS uint64
	reads   map[string]readRecord
	writes  map[string]*pendingWrite
	held    []*sync.Mutex
	closed  bool
}

func (t *memTxn) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if w, ok := t.writes[string(key)]; ok {
		return w.value, !w.deleted, nil
	}
	v, commitTS, found := t.eng.getAt(key, t.startTS)
	if _, seen := t.reads[string(key)]; !seen {
		t.reads[string(key)] = readRecord{commitTS: commitTS, found: found}
	}
	return v, found, nil
}

func (t *memTxn) GetForUpdate(ctx context.Context, key []byte) ([]byte, bool, error) {
	l := t.eng.lockFor(string(key))
	for _, h := range t.held {
		if h == l {
			return t.Get(ctx, key)
		}
	}
	l.Lock()
	t.held = append(t.held, l)
	return t.Get(ctx, key)
}

func (t *memTxn) Put(ctx context.Context, key, value []byte) error {
	cp := append([]byte(nil), value...)
	t.writes[string(key)] = &pendingWrite{value: cp}
	return nil
}

func (t *memTxn) Delete(ctx context.Context, key []byte) error {
	t.writes[string(key)] = &pendingWrite{deleted: true}
	return nil
}

func (t *memTxn) Scan(ctx context.Context, start, end []byte, limit int) ([]KV, error) {
	base := t.eng.scanAt(start, end, 0, t.startTS)
	merged := make(map[string][]byte, len(base))
	for _, kv := range base {
		merged[string(kv.Key)] = kv.Value
	}
	for k, w := range t.writes {
		kb := []byte(k)
		if start != nil && bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		if w.deleted {
			delete(merged, k)
			continue
		}
		merged[k] = w.value
	}
	out := make([]KV, 0, len(merged))
	for k, v := range merged {
		out = append(out, KV{Key: []byte(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTxn) BatchGet(ctx context.Context, keys [][]byte) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok, _ := t.Get(ctx, k); ok {
			out[string(k)] = v
		}
	}
	return out, nil
}

func (t *memTxn) releaseLocks() {
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}

func (t *memTxn) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.releaseLocks()
	return nil
}

func (t *memTxn) Commit(ctx context.Context) error {
	if t.closed {
		return nil
	}
	defer func() { t.closed = true; t.releaseLocks() }()

	t.eng.engMu.Lock()
	defer t.eng.engMu.Unlock()

	for k, rr := range t.reads {
		item, ok := t.eng.tree.Get(&record{key: []byte(k)})
		var curTS uint64
		var curFound bool
		if ok {
			_, curTS, curFound = item.visibleAt(t.eng.commitSeq)
		}
		if curFound != rr.found || curTS != rr.commitTS {
			return &ConflictError{Key: []byte(k)}
		}
	}

	newTS := t.eng.commitSeq + 1
	for k, w := range t.writes {
		item, ok := t.eng.tree.Get(&record{key: []byte(k)})
		if !ok {
			item = &record{key: []byte(k)}
			t.eng.tree.ReplaceOrInsert(item)
		}
		item.versions = append(item.versions, version{commitTS: newTS, value: w.value, deleted: w.deleted})
	}
	t.eng.commitSeq = newTS
	return nil
}
