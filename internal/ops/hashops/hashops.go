// Package hashops implements the Hash command family (spec §4.4):
// HSET/HMSET, HGET, HDEL, HLEN, HGETALL, HKEYS, HVALS, HEXISTS, HSTRLEN,
// HMGET, HSETNX, HINCRBY, HRANDFIELD.
//
// Grounded on original_source/src/tikv/hash.rs for the meta/data/sub-meta
// split; HLEN/size tracking uses the shared shard-sum helpers in
// internal/ops/opscore, per spec §3's "size stored in sub-meta" rule.
package hashops

import (
	"context"
	"math/rand"
	"strconv"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/ops/opscore"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

// loadMeta fetches key's meta value, reporting exists=false when it is
// absent (write paths then build a fresh Hash MetaValue themselves) and
// wrongType when it holds another type. Expired keys are reclaimed in place.
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
	if mv.Type != keycodec.TypeHash {
		return keycodec.MetaValue{}, false, true, nil
	}
	return mv, true, false, nil
}

func reclaim(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue) error {
	start, end := codec.HashDataKeyRange(key, mv.Version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return err
	}
	for _, kv := range kvs {
		if err := tx.Delete(ctx, kv.Key); err != nil {
			return err
		}
	}
	if err := opscore.ClearSubMeta(ctx, tx, codec, key, mv.Version); err != nil {
		return err
	}
	return tx.Delete(ctx, codec.MetaKey(key))
}

// HSet implements HSET/HMSET key field value [field value ...]. Returns
// the number of fields newly created (HSET's reply).
func HSet(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, pairs [][2][]byte) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		mv = keycodec.MetaValue{Type: keycodec.TypeHash}
	}

	var created int64
	for _, p := range pairs {
		dk := codec.HashDataKey(key, mv.Version, p[0])
		_, had, err := tx.Get(ctx, dk)
		if err != nil {
			return nil, err
		}
		if !had {
			created++
		}
		if err := tx.Put(ctx, dk, p[1]); err != nil {
			return nil, err
		}
	}
	if created > 0 {
		if err := opscore.AdjustSubMeta(ctx, tx, codec, key, mv.Version, created, numShards); err != nil {
			return nil, err
		}
	}
	if !exists {
		if err := tx.Put(ctx, codec.MetaKey(key), keycodec.EncodeMetaValue(mv)); err != nil {
			return nil, err
		}
	}
	return resp.Integer(created), nil
}

// HSetNX implements HSETNX key field value.
func HSetNX(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key, field, value []byte) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		mv = keycodec.MetaValue{Type: keycodec.TypeHash}
	}
	dk := codec.HashDataKey(key, mv.Version, field)
	_, had, err := tx.Get(ctx, dk)
	if err != nil {
		return nil, err
	}
	if had {
		return resp.Integer(0), nil
	}
	if err := tx.Put(ctx, dk, value); err != nil {
		return nil, err
	}
	if err := opscore.AdjustSubMeta(ctx, tx, codec, key, mv.Version, 1, numShards); err != nil {
		return nil, err
	}
	if !exists {
		if err := tx.Put(ctx, codec.MetaKey(key), keycodec.EncodeMetaValue(mv)); err != nil {
			return nil, err
		}
	}
	return resp.Integer(1), nil
}

// HGet implements HGET key field.
func HGet(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key, field []byte) (resp.Reply, error) {
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
	val, ok, err := tx.Get(ctx, codec.HashDataKey(key, mv.Version, field))
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Nil, nil
	}
	return resp.Bulk(val), nil
}

// HMGet implements HMGET key field [field ...].
func HMGet(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, fields [][]byte) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, false)
	if err != nil {
		return nil, err
	}
	out := make(resp.Array, 0, len(fields))
	if wrongType {
		return resp.ErrWrongType, nil
	}
	for _, f := range fields {
		if !exists {
			out = append(out, resp.Nil)
			continue
		}
		val, ok, err := tx.Get(ctx, codec.HashDataKey(key, mv.Version, f))
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, resp.Nil)
			continue
		}
		out = append(out, resp.Bulk(val))
	}
	return out, nil
}

// HExists implements HEXISTS key field.
func HExists(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key, field []byte) (resp.Reply, error) {
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
	_, ok, err := tx.Get(ctx, codec.HashDataKey(key, mv.Version, field))
	if err != nil {
		return nil, err
	}
	if ok {
		return resp.Integer(1), nil
	}
	return resp.Integer(0), nil
}

// HStrLen implements HSTRLEN key field.
func HStrLen(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key, field []byte) (resp.Reply, error) {
	r, err := HGet(ctx, tx, codec, nowMs, key, field)
	if err != nil {
		return nil, err
	}
	if b, ok := r.(resp.Bulk); ok {
		return resp.Integer(len(b)), nil
	}
	if r == resp.ErrWrongType {
		return r, nil
	}
	return resp.Integer(0), nil
}

// HDel implements HDEL key field [field ...].
func HDel(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, fields [][]byte) (resp.Reply, error) {
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

	var deleted int64
	for _, f := range fields {
		dk := codec.HashDataKey(key, mv.Version, f)
		_, had, err := tx.Get(ctx, dk)
		if err != nil {
			return nil, err
		}
		if !had {
			continue
		}
		if err := tx.Delete(ctx, dk); err != nil {
			return nil, err
		}
		deleted++
	}
	if deleted == 0 {
		return resp.Integer(0), nil
	}
	if err := opscore.AdjustSubMeta(ctx, tx, codec, key, mv.Version, -deleted, numShards); err != nil {
		return nil, err
	}

	size, err := opscore.SumSubMeta(ctx, tx, codec, key, mv.Version)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		if err := reclaim(ctx, tx, codec, key, mv); err != nil {
			return nil, err
		}
	}
	return resp.Integer(deleted), nil
}

// HLen implements HLEN key.
func HLen(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
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
	size, err := opscore.SumSubMeta(ctx, tx, codec, key, mv.Version)
	if err != nil {
		return nil, err
	}
	return resp.Integer(size), nil
}

type hashScanMode int

const (
	scanAll hashScanMode = iota
	scanKeys
	scanValues
)

func scanFields(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue, mode hashScanMode) (resp.Reply, error) {
	start, end := codec.HashDataKeyRange(key, mv.Version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}
	out := make(resp.Array, 0, len(kvs)*2)
	for _, kv := range kvs {
		field, ok := codec.DecodeHashField(key, mv.Version, kv.Key)
		if !ok {
			continue
		}
		switch mode {
		case scanKeys:
			out = append(out, resp.Bulk(field))
		case scanValues:
			out = append(out, resp.Bulk(kv.Value))
		default:
			out = append(out, resp.Bulk(field), resp.Bulk(kv.Value))
		}
	}
	return out, nil
}

// HGetAll implements HGETALL key.
func HGetAll(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
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
	return scanFields(ctx, tx, codec, key, mv, scanAll)
}

// HKeys implements HKEYS key.
func HKeys(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
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
	return scanFields(ctx, tx, codec, key, mv, scanKeys)
}

// HVals implements HVALS key.
func HVals(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
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
	return scanFields(ctx, tx, codec, key, mv, scanValues)
}

// HIncrBy implements HINCRBY key field increment.
func HIncrBy(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key, field []byte, delta int64) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		mv = keycodec.MetaValue{Type: keycodec.TypeHash}
	}

	dk := codec.HashDataKey(key, mv.Version, field)
	raw, ok, err := tx.Get(ctx, dk)
	if err != nil {
		return nil, err
	}
	var prev int64
	isNew := !ok
	if ok {
		prev, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return resp.ErrNotInteger, nil
		}
	}
	next := prev + delta
	if err := tx.Put(ctx, dk, []byte(strconv.FormatInt(next, 10))); err != nil {
		return nil, err
	}
	if isNew {
		if err := opscore.AdjustSubMeta(ctx, tx, codec, key, mv.Version, 1, numShards); err != nil {
			return nil, err
		}
	}
	if !exists {
		if err := tx.Put(ctx, codec.MetaKey(key), keycodec.EncodeMetaValue(mv)); err != nil {
			return nil, err
		}
	}
	return resp.Integer(next), nil
}

// HRandField implements HRANDFIELD key [count]. count == nil selects one
// random field (bare Bulk reply); a positive count returns up to count
// distinct fields in random order; a negative count returns |count| fields
// picked at random with repeats allowed. Unlike SPOP/SRANDMEMBER, the
// picks use math/rand rather than the store's lexicographic order.
func HRandField(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, count *int64) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, false)
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
		return resp.Array{}, nil
	}
	start, end := codec.HashDataKeyRange(key, mv.Version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}
	if len(kvs) == 0 {
		if count == nil {
			return resp.Nil, nil
		}
		return resp.Array{}, nil
	}
	if count == nil {
		idx := rand.Intn(len(kvs))
		field, _ := codec.DecodeHashField(key, mv.Version, kvs[idx].Key)
		return resp.Bulk(field), nil
	}
	n := *count
	allowDup := n < 0
	if n < 0 {
		n = -n
	}
	out := make(resp.Array, 0, n)
	if allowDup {
		for i := int64(0); i < n; i++ {
			idx := rand.Intn(len(kvs))
			field, _ := codec.DecodeHashField(key, mv.Version, kvs[idx].Key)
			out = append(out, resp.Bulk(field))
		}
		return out, nil
	}
	perm := rand.Perm(len(kvs))
	if n > int64(len(perm)) {
		n = int64(len(perm))
	}
	for i := int64(0); i < n; i++ {
		field, _ := codec.DecodeHashField(key, mv.Version, kvs[perm[i]].Key)
		out = append(out, resp.Bulk(field))
	}
	return out, nil
}
