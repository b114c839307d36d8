// Package stringops implements the String command family (spec §4.3):
// GET, SET (with EX/PX/EXAT/PXAT/NX/XX/GET/KEEPTTL), SETNX, SETEX, PSETEX,
// GETSET, GETDEL, STRLEN, MGET, MSET, INCR/DECR/INCRBY/DECRBY.
//
// Grounded on original_source/src/tikv/string.rs's do_async_txnkv_* methods,
// restructured onto this module's meta-key-holds-the-value encoding (the
// original inlines TTL/version into the same row; here that row is the
// KeyCodec MetaValue with Type == TypeString).
package stringops

import (
	"context"
	"math"
	"strconv"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/ops/opscore"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

// readLiveString fetches key's MetaValue if it is a live (unexpired)
// String, transparently reclaiming it otherwise. ok is false both when the
// key is absent and when it holds another type — callers distinguish via
// the returned wrongType flag.
func readLiveString(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, nowMs int64) (_ keycodec.MetaValue, ok, wrongType bool, err error) {
	raw, ok, err := tx.Get(ctx, codec.MetaKey(key))
	if err != nil || !ok {
		return keycodec.MetaValue{}, false, false, err
	}
	mv, err := keycodec.DecodeMetaValue(raw)
	if err != nil {
		return keycodec.MetaValue{}, false, false, err
	}
	if opscore.Expired(mv.ExpireAtMs, nowMs) {
		if err := tx.Delete(ctx, codec.MetaKey(key)); err != nil {
			return keycodec.MetaValue{}, false, false, err
		}
		return keycodec.MetaValue{}, false, false, nil
	}
	if mv.Type != keycodec.TypeString {
		return keycodec.MetaValue{}, false, true, nil
	}
	return mv, true, false, nil
}

// Get implements GET key.
func Get(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
	mv, ok, wrongType, err := readLiveString(ctx, tx, codec, key, nowMs)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !ok {
		return resp.Nil, nil
	}
	return resp.Bulk(mv.StringValue), nil
}

// SetOptions carries the parsed SET flags (spec §4.3).
type SetOptions struct {
	ExpireAtMs int64 // 0 = no expiry requested
	KeepTTL    bool
	NX         bool
	XX         bool
	GetOld     bool
}

// Set implements SET key value [options]. Returns resp.Nil for a failed
// NX/XX precondition (or the old value under GET, per spec), resp.OK
// otherwise (or the old value under GET on success).
func Set(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key, value []byte, opts SetOptions) (resp.Reply, error) {
	mk := codec.MetaKey(key)
	raw, exists, err := tx.GetForUpdate(ctx, mk)
	if err != nil {
		return nil, err
	}

	var old keycodec.MetaValue
	var oldIsLive bool
	if exists {
		old, err = keycodec.DecodeMetaValue(raw)
		if err != nil {
			return nil, err
		}
		oldIsLive = !opscore.Expired(old.ExpireAtMs, nowMs)
	}

	if opts.NX && oldIsLive {
		if opts.GetOld {
			return stringReplyOrWrongType(old)
		}
		return resp.Nil, nil
	}
	if opts.XX && !oldIsLive {
		return resp.Nil, nil
	}

	var oldReply resp.Reply
	if opts.GetOld {
		if oldIsLive {
			oldReply, err = stringReplyOrWrongType(old)
			if err != nil {
				return nil, err
			}
		} else {
			oldReply = resp.Nil
		}
	}

	expireAtMs := opts.ExpireAtMs
	if opts.KeepTTL && oldIsLive {
		expireAtMs = old.ExpireAtMs
	}

	mv := keycodec.MetaValue{Type: keycodec.TypeString, ExpireAtMs: expireAtMs, StringValue: value}
	if err := tx.Put(ctx, mk, keycodec.EncodeMetaValue(mv)); err != nil {
		return nil, err
	}
	if opts.GetOld {
		return oldReply, nil
	}
	return resp.OK, nil
}

func stringReplyOrWrongType(mv keycodec.MetaValue) (resp.Reply, error) {
	if mv.Type != keycodec.TypeString {
		return resp.ErrWrongType, nil
	}
	return resp.Bulk(mv.StringValue), nil
}

// SetNX implements SETNX key value.
func SetNX(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key, value []byte) (resp.Reply, error) {
	r, err := Set(ctx, tx, codec, nowMs, key, value, SetOptions{NX: true})
	if err != nil {
		return nil, err
	}
	if r == resp.Nil {
		return resp.Integer(0), nil
	}
	return resp.Integer(1), nil
}

// SetEX implements SETEX/PSETEX key seconds-or-ms value.
func SetEX(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, ttl int64, millis bool, value []byte) (resp.Reply, error) {
	expireAtMs := nowMs + ttl
	if !millis {
		expireAtMs = nowMs + ttl*1000
	}
	return Set(ctx, tx, codec, nowMs, key, value, SetOptions{ExpireAtMs: expireAtMs})
}

// GetSet implements GETSET key value: set, returning the prior value.
func GetSet(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key, value []byte) (resp.Reply, error) {
	return Set(ctx, tx, codec, nowMs, key, value, SetOptions{GetOld: true})
}

// GetDel implements GETDEL key: return and delete.
func GetDel(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
	mv, ok, wrongType, err := readLiveString(ctx, tx, codec, key, nowMs)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !ok {
		return resp.Nil, nil
	}
	if err := tx.Delete(ctx, codec.MetaKey(key)); err != nil {
		return nil, err
	}
	return resp.Bulk(mv.StringValue), nil
}

// StrLen implements STRLEN key.
func StrLen(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
	mv, ok, wrongType, err := readLiveString(ctx, tx, codec, key, nowMs)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !ok {
		return resp.Integer(0), nil
	}
	return resp.Integer(len(mv.StringValue)), nil
}

// MGet implements MGET key [key ...].
func MGet(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, keys [][]byte) (resp.Reply, error) {
	out := make(resp.Array, 0, len(keys))
	for _, k := range keys {
		mv, ok, wrongType, err := readLiveString(ctx, tx, codec, k, nowMs)
		if err != nil {
			return nil, err
		}
		if !ok || wrongType {
			out = append(out, resp.Nil)
			continue
		}
		out = append(out, resp.Bulk(mv.StringValue))
	}
	return out, nil
}

// MSet implements MSET key value [key value ...], unconditionally.
func MSet(ctx context.Context, tx store.Txn, codec *keycodec.Codec, kvs [][2][]byte) (resp.Reply, error) {
	for _, kv := range kvs {
		mv := keycodec.MetaValue{Type: keycodec.TypeString, StringValue: kv[1]}
		if err := tx.Put(ctx, codec.MetaKey(kv[0]), keycodec.EncodeMetaValue(mv)); err != nil {
			return nil, err
		}
	}
	return resp.OK, nil
}

// IncrBy implements INCR/DECR/INCRBY/DECRBY key [step], atomically via
// GetForUpdate so concurrent incrementers serialize instead of racing on a
// commit-time conflict retry.
func IncrBy(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, step int64) (resp.Reply, error) {
	mk := codec.MetaKey(key)
	raw, exists, err := tx.GetForUpdate(ctx, mk)
	if err != nil {
		return nil, err
	}

	var prev, expireAtMs int64
	if exists {
		mv, err := keycodec.DecodeMetaValue(raw)
		if err != nil {
			return nil, err
		}
		if opscore.Expired(mv.ExpireAtMs, nowMs) {
			prev = 0
		} else if mv.Type != keycodec.TypeString {
			return resp.ErrWrongType, nil
		} else {
			prev, err = strconv.ParseInt(string(mv.StringValue), 10, 64)
			if err != nil {
				return resp.ErrNotInteger, nil
			}
			expireAtMs = mv.ExpireAtMs
		}
	}

	if (step > 0 && prev > math.MaxInt64-step) || (step < 0 && prev < math.MinInt64-step) {
		return resp.ErrIncrOverflow, nil
	}

	next := prev + step
	mv := keycodec.MetaValue{Type: keycodec.TypeString, StringValue: []byte(strconv.FormatInt(next, 10)), ExpireAtMs: expireAtMs}
	if err := tx.Put(ctx, mk, keycodec.EncodeMetaValue(mv)); err != nil {
		return nil, err
	}
	return resp.Integer(next), nil
}
