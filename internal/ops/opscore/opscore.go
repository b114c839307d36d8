// Package opscore holds helpers shared by the per-type command packages
// (stringops, hashops, listops, setops, zsetops): TTL bookkeeping and the
// integer/float argument parsing every command family needs.
//
// Grounded on original_source/src/utils.rs (key_is_expired, ttl_from_timestamp)
// and the repeated per-type "expire_if_needed" helpers in
// original_source/src/tikv/{string,hash,list,set,zset}.rs.
package opscore

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"strconv"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

// Expired reports whether a meta value with the given ExpireAtMs has
// passed, relative to nowMs. ExpireAtMs == 0 means "no TTL set".
func Expired(expireAtMs int64, nowMs int64) bool {
	return expireAtMs != 0 && expireAtMs <= nowMs
}

// ParseInt parses a command argument as a base-10 int64, returning the
// spec's standard "not an integer" error on failure.
func ParseInt(s []byte) (int64, error) {
	n, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	return n, nil
}

// ParseFloat parses a command argument as a float64, returning the spec's
// standard "not a valid float" error on failure, and accepting the
// case-insensitive inf/+inf/-inf spellings real Redis accepts.
func ParseFloat(s []byte) (float64, error) {
	switch string(s) {
	case "inf", "+inf", "+Inf", "Inf", "INF", "+INF":
		return posInf, nil
	case "-inf", "-Inf", "-INF":
		return negInf, nil
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return 0, errNotFloat
	}
	return f, nil
}

var (
	posInf = func() float64 { f, _ := strconv.ParseFloat("+Inf", 64); return f }()
	negInf = func() float64 { f, _ := strconv.ParseFloat("-Inf", 64); return f }()
)

type opsError string

func (e opsError) Error() string { return string(e) }

var (
	errNotInteger = opsError(resp.ErrNotInteger)
	errNotFloat   = opsError(resp.ErrNotFloat)
)

// AsReplyError maps an error returned by ParseInt/ParseFloat back to its
// resp.Error reply.
func AsReplyError(err error) resp.Error {
	return resp.Error(err.Error())
}

// SumSubMeta sums every shard counter for (userKey, version), the
// collection's current size per spec's "size is the sum over shard_idx"
// rule.
func SumSubMeta(ctx context.Context, tx store.Reader, codec *keycodec.Codec, userKey []byte, version uint16) (int64, error) {
	start, end := codec.SubMetaKeyRange(userKey, version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, kv := range kvs {
		if len(kv.Value) != 8 {
			continue
		}
		total += int64(binary.BigEndian.Uint64(kv.Value))
	}
	return total, nil
}

// AdjustSubMeta adds delta to one randomly chosen shard's counter, the
// "writers pick a shard at random" contention-avoidance rule.
func AdjustSubMeta(ctx context.Context, tx store.Txn, codec *keycodec.Codec, userKey []byte, version uint16, delta int64, numShards int) error {
	if delta == 0 {
		return nil
	}
	shard := rand.Intn(numShards)
	key := codec.SubMetaKey(userKey, version, shard)
	raw, ok, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	var cur int64
	if ok && len(raw) == 8 {
		cur = int64(binary.BigEndian.Uint64(raw))
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(cur+delta))
	return tx.Put(ctx, key, buf)
}

// FormatFloat renders a zset score the way real Redis does: the shortest
// representation that round-trips, with no trailing ".0" for integral
// values, and "inf"/"-inf" for the infinities.
func FormatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ClearSubMeta deletes every shard counter for (userKey, version), used
// when a collection's size reaches zero or it is logically deleted.
func ClearSubMeta(ctx context.Context, tx store.Txn, codec *keycodec.Codec, userKey []byte, version uint16) error {
	start, end := codec.SubMetaKeyRange(userKey, version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return err
	}
	for _, kv := range kvs {
		if err := tx.Delete(ctx, kv.Key); err != nil {
			return err
		}
	}
	return nil
}
