// Package setops implements the Set command family (spec §4.6):
// SADD, SREM, SCARD, SMEMBERS, SISMEMBER, SMISMEMBER, SPOP, SRANDMEMBER.
//
// Members are stored as empty-value DataKeys keyed by member bytes
// (original_source/src/tikv/set.rs's approach, adapted onto this module's
// meta/sub-meta split). SPOP/SRANDMEMBER iterate in the store's natural
// lexicographic-over-member-bytes order rather than true randomness — an
// explicit Open Question decision (see DESIGN.md) matching Redis's own
// "unspecified order" contract for these commands.
package setops

import (
	"context"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/ops/opscore"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

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
	if mv.Type != keycodec.TypeSet {
		return keycodec.MetaValue{}, false, true, nil
	}
	return mv, true, false, nil
}

func reclaim(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue) error {
	start, end := codec.SetDataKeyRange(key, mv.Version)
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

// SAdd implements SADD key member [member ...].
func SAdd(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, members [][]byte) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		mv = keycodec.MetaValue{Type: keycodec.TypeSet}
	}

	var added int64
	for _, m := range members {
		dk := codec.SetDataKey(key, mv.Version, m)
		_, had, err := tx.Get(ctx, dk)
		if err != nil {
			return nil, err
		}
		if had {
			continue
		}
		if err := tx.Put(ctx, dk, []byte{}); err != nil {
			return nil, err
		}
		added++
	}
	if added > 0 {
		if err := opscore.AdjustSubMeta(ctx, tx, codec, key, mv.Version, added, numShards); err != nil {
			return nil, err
		}
	}
	if !exists {
		if err := tx.Put(ctx, codec.MetaKey(key), keycodec.EncodeMetaValue(mv)); err != nil {
			return nil, err
		}
	}
	return resp.Integer(added), nil
}

// SRem implements SREM key member [member ...].
func SRem(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, members [][]byte) (resp.Reply, error) {
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

	var removed int64
	for _, m := range members {
		dk := codec.SetDataKey(key, mv.Version, m)
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
		removed++
	}
	if removed == 0 {
		return resp.Integer(0), nil
	}
	if err := opscore.AdjustSubMeta(ctx, tx, codec, key, mv.Version, -removed, numShards); err != nil {
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
	return resp.Integer(removed), nil
}

// SCard implements SCARD key.
func SCard(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
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

func members(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue) ([][]byte, error) {
	start, end := codec.SetDataKeyRange(key, mv.Version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(kvs))
	for _, kv := range kvs {
		m, ok := codec.DecodeSetMember(key, mv.Version, kv.Key)
		if !ok {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// SMembers implements SMEMBERS key.
func SMembers(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
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
	ms, err := members(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	out := make(resp.Array, len(ms))
	for i, m := range ms {
		out[i] = resp.Bulk(m)
	}
	return out, nil
}

// SIsMember implements SISMEMBER key member.
func SIsMember(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key, member []byte) (resp.Reply, error) {
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
	_, ok, err := tx.Get(ctx, codec.SetDataKey(key, mv.Version, member))
	if err != nil {
		return nil, err
	}
	if ok {
		return resp.Integer(1), nil
	}
	return resp.Integer(0), nil
}

// SMIsMember implements SMISMEMBER key member [member ...].
func SMIsMember(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, members [][]byte) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, false)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	out := make(resp.Array, 0, len(members))
	for _, m := range members {
		if !exists {
			out = append(out, resp.Integer(0))
			continue
		}
		_, ok, err := tx.Get(ctx, codec.SetDataKey(key, mv.Version, m))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, resp.Integer(1))
		} else {
			out = append(out, resp.Integer(0))
		}
	}
	return out, nil
}

// SPop implements SPOP key [count]. count == nil pops exactly one member
// (bare Bulk reply, Nil if empty); otherwise pops up to min(count, size)
// members in deterministic lexicographic order.
func SPop(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, count *int64) (resp.Reply, error) {
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
		return resp.Array{}, nil
	}
	ms, err := members(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		if count == nil {
			return resp.Nil, nil
		}
		return resp.Array{}, nil
	}

	n := int64(1)
	bare := count == nil
	if count != nil {
		n = *count
		if n < 0 {
			n = 0
		}
	}
	if n > int64(len(ms)) {
		n = int64(len(ms))
	}

	popped := ms[:n]
	for _, m := range popped {
		if err := tx.Delete(ctx, codec.SetDataKey(key, mv.Version, m)); err != nil {
			return nil, err
		}
	}
	if n > 0 {
		if err := opscore.AdjustSubMeta(ctx, tx, codec, key, mv.Version, -n, numShards); err != nil {
			return nil, err
		}
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

	if bare {
		return resp.Bulk(popped[0]), nil
	}
	out := make(resp.Array, len(popped))
	for i, m := range popped {
		out[i] = resp.Bulk(m)
	}
	return out, nil
}

// SRandMember implements SRANDMEMBER key [count]. Unlike SPOP, members are
// never removed. Like SPOP, selection walks the store's deterministic
// lexicographic-over-member-bytes order rather than sampling true
// randomness (see DESIGN.md). Positive count returns up to that many
// distinct members starting from the front; negative count repeats
// members cyclically from the front.
func SRandMember(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, count *int64) (resp.Reply, error) {
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
	ms, err := members(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		if count == nil {
			return resp.Nil, nil
		}
		return resp.Array{}, nil
	}
	if count == nil {
		return resp.Bulk(ms[0]), nil
	}
	n := *count
	if n < 0 {
		n = -n
		out := make(resp.Array, n)
		for i := int64(0); i < n; i++ {
			out[i] = resp.Bulk(ms[int(i)%len(ms)])
		}
		return out, nil
	}
	if n > int64(len(ms)) {
		n = int64(len(ms))
	}
	out := make(resp.Array, n)
	for i := int64(0); i < n; i++ {
		out[i] = resp.Bulk(ms[i])
	}
	return out, nil
}
