// Package listops implements the List command family (spec §4.5):
// LPUSH/RPUSH(X), LPOP/RPOP, LRANGE, LLEN, LINDEX, LSET, LTRIM, LREM,
// LINSERT.
//
// Lists have no sub-meta shard (spec §3: "size is purely right - left"):
// the MetaValue's ListLeft/ListRight pair is a floating index window —
// LPUSH decrements Left and writes there, RPUSH writes at Right and
// increments it — so head/tail pushes never renumber existing elements.
// LREM and LINSERT can't preserve that property (they splice out of the
// middle), so both rewrite the whole list contiguously and are rejected
// above cmd_lrem_length_limit/cmd_linsert_length_limit (see DESIGN.md).
//
// Grounded on original_source/src/tikv/list.rs's do_async_txnkv_push/pop
// for the left/right bookkeeping shape.
package listops

import (
	"context"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/ops/opscore"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

// initialWindow is the starting value of both Left and Right: 2^32, which
// leaves room for 2^32 LPUSHes before Left reaches zero and for far more
// RPUSHes before Right overflows uint64.
const initialWindow = uint64(1) << 32

func loadMeta(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, nowMs int64, forUpdate bool) (mv keycodec.MetaValue, exists bool, wrongType bool, err error) {
	mk := codec.MetaKey(key)
	var raw []byte
	var ok bool
	if forUpdate {
		raw, ok, err = tx.GetForUpdate(ctx, mk)
	} else {
		raw, ok, err = tx.Get(ctx, mk)
	}
	if err != nil || !ok {
		return keycodec.MetaValue{}, false, false, err
	}
	mv, err = keycodec.DecodeMetaValue(raw)
	if err != nil {
		return keycodec.MetaValue{}, false, false, err
	}
	if opscore.Expired(mv.ExpireAtMs, nowMs) {
		if err := reclaim(ctx, tx, codec, key, mv); err != nil {
			return keycodec.MetaValue{}, false, false, err
		}
		return keycodec.MetaValue{}, false, false, nil
	}
	if mv.Type != keycodec.TypeList {
		return keycodec.MetaValue{}, false, true, nil
	}
	return mv, true, false, nil
}

func reclaim(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue) error {
	start, end := codec.ListDataKeyRange(key, mv.Version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return err
	}
	for _, kv := range kvs {
		if err := tx.Delete(ctx, kv.Key); err != nil {
			return err
		}
	}
	return tx.Delete(ctx, codec.MetaKey(key))
}

func saveMeta(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue) error {
	return tx.Put(ctx, codec.MetaKey(key), keycodec.EncodeMetaValue(mv))
}

// Push implements LPUSH/RPUSH/LPUSHX/RPUSHX key value [value ...]. If
// requireExists is true (the X variants) and key doesn't hold a live list,
// it is a no-op returning 0.
func Push(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, values [][]byte, left, requireExists bool) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		if requireExists {
			return resp.Integer(0), nil
		}
		mv = keycodec.MetaValue{Type: keycodec.TypeList, ListLeft: initialWindow, ListRight: initialWindow}
	}

	for _, v := range values {
		if left {
			mv.ListLeft--
			if err := tx.Put(ctx, codec.ListDataKey(key, mv.Version, mv.ListLeft), v); err != nil {
				return nil, err
			}
		} else {
			if err := tx.Put(ctx, codec.ListDataKey(key, mv.Version, mv.ListRight), v); err != nil {
				return nil, err
			}
			mv.ListRight++
		}
	}
	if err := saveMeta(ctx, tx, codec, key, mv); err != nil {
		return nil, err
	}
	return resp.Integer(mv.ListRight - mv.ListLeft), nil
}

// Pop implements LPOP/RPOP key [count]. count == nil pops exactly one
// element (bare Bulk/Nil reply); otherwise pops up to min(count, len)
// elements from the requested end.
func Pop(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, left bool, count *int64) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		if count == nil {
			return resp.Nil, nil
		}
		return resp.NilArray, nil
	}

	n := int64(1)
	bare := count == nil
	if count != nil {
		n = *count
		if n < 0 {
			n = 0
		}
	}
	size := int64(mv.ListRight - mv.ListLeft)
	if n > size {
		n = size
	}

	popped := make([][]byte, 0, n)
	for i := int64(0); i < n; i++ {
		var idx uint64
		if left {
			idx = mv.ListLeft
		} else {
			idx = mv.ListRight - 1
		}
		dk := codec.ListDataKey(key, mv.Version, idx)
		v, ok, err := tx.Get(ctx, dk)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := tx.Delete(ctx, dk); err != nil {
			return nil, err
		}
		popped = append(popped, v)
		if left {
			mv.ListLeft++
		} else {
			mv.ListRight--
		}
	}

	if mv.ListLeft >= mv.ListRight {
		if err := tx.Delete(ctx, codec.MetaKey(key)); err != nil {
			return nil, err
		}
	} else {
		if err := saveMeta(ctx, tx, codec, key, mv); err != nil {
			return nil, err
		}
	}

	if len(popped) == 0 {
		if bare {
			return resp.Nil, nil
		}
		return resp.NilArray, nil
	}
	if bare {
		return resp.Bulk(popped[0]), nil
	}
	out := make(resp.Array, len(popped))
	for i, v := range popped {
		out[i] = resp.Bulk(v)
	}
	return out, nil
}

// LLen implements LLEN key.
func LLen(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, false)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		return resp.Integer(0), nil
	}
	return resp.Integer(mv.ListRight - mv.ListLeft), nil
}

// resolveIndex converts a logical (possibly negative) index to an absolute
// store index, or ok=false if out of bounds.
func resolveIndex(mv keycodec.MetaValue, logical int64) (uint64, bool) {
	size := int64(mv.ListRight - mv.ListLeft)
	if logical < 0 {
		logical += size
	}
	if logical < 0 || logical >= size {
		return 0, false
	}
	return mv.ListLeft + uint64(logical), true
}

// LIndex implements LINDEX key index.
func LIndex(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, index int64) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, false)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		return resp.Nil, nil
	}
	abs, ok := resolveIndex(mv, index)
	if !ok {
		return resp.Nil, nil
	}
	v, ok, err := tx.Get(ctx, codec.ListDataKey(key, mv.Version, abs))
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Nil, nil
	}
	return resp.Bulk(v), nil
}

// LSet implements LSET key index value.
func LSet(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, index int64, value []byte) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		return resp.ErrNoSuchKey, nil
	}
	abs, ok := resolveIndex(mv, index)
	if !ok {
		return resp.Error("ERR index out of range"), nil
	}
	if err := tx.Put(ctx, codec.ListDataKey(key, mv.Version, abs), value); err != nil {
		return nil, err
	}
	return resp.OK, nil
}

// LRange implements LRANGE key start stop.
func LRange(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, start, stop int64) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, false)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		return resp.Array{}, nil
	}
	size := int64(mv.ListRight - mv.ListLeft)
	lo, hi := normalizeRange(start, stop, size)
	if lo >= hi {
		return resp.Array{}, nil
	}
	s := codec.ListDataKey(key, mv.Version, mv.ListLeft+uint64(lo))
	e := codec.ListDataKey(key, mv.Version, mv.ListLeft+uint64(hi))
	kvs, err := tx.Scan(ctx, s, e, 0)
	if err != nil {
		return nil, err
	}
	out := make(resp.Array, len(kvs))
	for i, kv := range kvs {
		out[i] = resp.Bulk(kv.Value)
	}
	return out, nil
}

func normalizeRange(start, stop, n int64) (int64, int64) {
	if n == 0 {
		return 0, 0
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0
	}
	return start, stop + 1
}

// LTrim implements LTRIM key start stop.
func LTrim(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, start, stop int64) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		return resp.OK, nil
	}
	size := int64(mv.ListRight - mv.ListLeft)
	lo, hi := normalizeRange(start, stop, size)

	oldLeft, oldRight := mv.ListLeft, mv.ListRight
	newLeft := oldLeft + uint64(lo)
	newRight := oldLeft + uint64(hi)

	for i := oldLeft; i < newLeft; i++ {
		if err := tx.Delete(ctx, codec.ListDataKey(key, mv.Version, i)); err != nil {
			return nil, err
		}
	}
	for i := newRight; i < oldRight; i++ {
		if err := tx.Delete(ctx, codec.ListDataKey(key, mv.Version, i)); err != nil {
			return nil, err
		}
	}

	if newLeft >= newRight {
		if err := tx.Delete(ctx, codec.MetaKey(key)); err != nil {
			return nil, err
		}
		return resp.OK, nil
	}
	mv.ListLeft, mv.ListRight = newLeft, newRight
	if err := saveMeta(ctx, tx, codec, key, mv); err != nil {
		return nil, err
	}
	return resp.OK, nil
}

func readAll(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue) ([][]byte, error) {
	start, end := codec.ListDataKeyRange(key, mv.Version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(kvs))
	for i, kv := range kvs {
		out[i] = kv.Value
	}
	return out, nil
}

// rewrite replaces the entire list contents with elems, resetting the
// left/right window, used by LREM and LINSERT which splice the middle.
func rewrite(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue, elems [][]byte) error {
	start, end := codec.ListDataKeyRange(key, mv.Version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return err
	}
	for _, kv := range kvs {
		if err := tx.Delete(ctx, kv.Key); err != nil {
			return err
		}
	}
	if len(elems) == 0 {
		return tx.Delete(ctx, codec.MetaKey(key))
	}
	mv.ListLeft = initialWindow
	mv.ListRight = initialWindow + uint64(len(elems))
	for i, v := range elems {
		if err := tx.Put(ctx, codec.ListDataKey(key, mv.Version, mv.ListLeft+uint64(i)), v); err != nil {
			return err
		}
	}
	return saveMeta(ctx, tx, codec, key, mv)
}

// LRem implements LREM key count value. count > 0 removes from head,
// count < 0 removes from tail, count == 0 removes every occurrence.
// Rejected above lengthLimit per spec's rewrite-cost cap (see DESIGN.md).
func LRem(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, count int64, value []byte, lengthLimit int) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		return resp.Integer(0), nil
	}
	size := int(mv.ListRight - mv.ListLeft)
	if size > lengthLimit {
		return resp.Error("ERR list operation exceeds configured length limit"), nil
	}
	all, err := readAll(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}

	var kept [][]byte
	var removed int64
	limit := count
	if limit < 0 {
		limit = -limit
	}
	if count >= 0 {
		for _, v := range all {
			if bytesEqual(v, value) && (count == 0 || removed < limit) {
				removed++
				continue
			}
			kept = append(kept, v)
		}
	} else {
		for i := len(all) - 1; i >= 0; i-- {
			v := all[i]
			if bytesEqual(v, value) && removed < limit {
				removed++
				continue
			}
			kept = append([][]byte{v}, kept...)
		}
	}
	if removed == 0 {
		return resp.Integer(0), nil
	}
	if err := rewrite(ctx, tx, codec, key, mv, kept); err != nil {
		return nil, err
	}
	return resp.Integer(removed), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LInsert implements LINSERT key BEFORE|AFTER pivot value. Returns -1 if
// pivot isn't found, the new length otherwise. Rejected above lengthLimit.
func LInsert(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, before bool, pivot, value []byte, lengthLimit int) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		return resp.Integer(0), nil
	}
	size := int(mv.ListRight - mv.ListLeft)
	if size > lengthLimit {
		return resp.Error("ERR list operation exceeds configured length limit"), nil
	}
	all, err := readAll(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, v := range all {
		if bytesEqual(v, pivot) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return resp.Integer(-1), nil
	}
	insertAt := idx
	if !before {
		insertAt = idx + 1
	}
	out := make([][]byte, 0, len(all)+1)
	out = append(out, all[:insertAt]...)
	out = append(out, value)
	out = append(out, all[insertAt:]...)
	if err := rewrite(ctx, tx, codec, key, mv, out); err != nil {
		return nil, err
	}
	return resp.Integer(len(out)), nil
}
