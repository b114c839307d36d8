// Package zsetops implements the Sorted Set command family (spec §4.7):
// ZADD, ZREM, ZCARD, ZSCORE, ZMSCORE, ZRANGE, ZREVRANGE, ZRANGEBYSCORE,
// ZREVRANGEBYSCORE, ZCOUNT, ZPOPMIN, ZPOPMAX, ZRANK, ZREVRANK, ZINCRBY,
// ZREMRANGEBYSCORE, ZREMRANGEBYRANK.
//
// Every write maintains the dual index described in spec §3/§4.7: a
// member-keyed DataKey (the authoritative score-less-lookup-by-member
// path) plus a score-keyed ScoreKey (ordered range scans), grounded on
// original_source/src/tikv/zset.rs's equivalent data+score split.
package zsetops

import (
	"context"
	"encoding/binary"
	"math"

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
	if mv.Type != keycodec.TypeZset {
		return keycodec.MetaValue{}, false, true, nil
	}
	return mv, true, false, nil
}

func reclaim(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue) error {
	start, end := codec.ZsetDataKeyRange(key, mv.Version)
	if err := deleteRange(ctx, tx, start, end); err != nil {
		return err
	}
	start, end = codec.ZsetScoreKeyRange(key, mv.Version)
	if err := deleteRange(ctx, tx, start, end); err != nil {
		return err
	}
	if err := opscore.ClearSubMeta(ctx, tx, codec, key, mv.Version); err != nil {
		return err
	}
	return tx.Delete(ctx, codec.MetaKey(key))
}

func deleteRange(ctx context.Context, tx store.Txn, start, end []byte) error {
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

func scoreOf(raw []byte) float64 { return math.Float64frombits(binary.BigEndian.Uint64(raw)) }
func encodeScoreValue(f float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	return buf
}

// ZAddFlags carries the parsed ZADD option letters (spec §4.7 / Open
// Question). GT, LT, and Incr are accepted by the grammar but rejected at
// execution time (see DESIGN.md) rather than silently ignored.
type ZAddFlags struct {
	NX, XX, GT, LT, CH, Incr bool
}

var errUnsupportedFlags = resp.Error("ERR GT, LT, and/or INCR options not supported")

// ZAdd implements ZADD key [flags] score member [score member ...].
func ZAdd(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, flags ZAddFlags, pairs []struct {
	Score  float64
	Member []byte
}) (resp.Reply, error) {
	if flags.GT || flags.LT || flags.Incr {
		return errUnsupportedFlags, nil
	}
	if flags.NX && flags.XX {
		return resp.ErrSyntax, nil
	}
	for _, p := range pairs {
		if math.IsNaN(p.Score) {
			return resp.ErrNotFloat, nil
		}
	}

	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		mv = keycodec.MetaValue{Type: keycodec.TypeZset}
	}

	var added, changed int64
	for _, p := range pairs {
		dk := codec.ZsetDataKey(key, mv.Version, p.Member)
		prevRaw, had, err := tx.Get(ctx, dk)
		if err != nil {
			return nil, err
		}
		if had && flags.NX {
			continue
		}
		if !had && flags.XX {
			continue
		}
		if had {
			prevScore := scoreOf(prevRaw)
			if prevScore == p.Score {
				continue
			}
			if err := tx.Delete(ctx, codec.ZsetScoreKey(key, mv.Version, prevScore, p.Member)); err != nil {
				return nil, err
			}
			changed++
		} else {
			added++
		}
		if err := tx.Put(ctx, dk, encodeScoreValue(p.Score)); err != nil {
			return nil, err
		}
		if err := tx.Put(ctx, codec.ZsetScoreKey(key, mv.Version, p.Score, p.Member), []byte{}); err != nil {
			return nil, err
		}
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
	if flags.CH {
		return resp.Integer(added + changed), nil
	}
	return resp.Integer(added), nil
}

// ZRem implements ZREM key member [member ...].
func ZRem(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, members [][]byte) (resp.Reply, error) {
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
		dk := codec.ZsetDataKey(key, mv.Version, m)
		raw, had, err := tx.Get(ctx, dk)
		if err != nil {
			return nil, err
		}
		if !had {
			continue
		}
		score := scoreOf(raw)
		if err := tx.Delete(ctx, dk); err != nil {
			return nil, err
		}
		if err := tx.Delete(ctx, codec.ZsetScoreKey(key, mv.Version, score, m)); err != nil {
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

// ZCard implements ZCARD key.
func ZCard(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
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

// ZScore implements ZSCORE key member.
func ZScore(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key, member []byte) (resp.Reply, error) {
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
	raw, ok, err := tx.Get(ctx, codec.ZsetDataKey(key, mv.Version, member))
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Nil, nil
	}
	return formatScore(scoreOf(raw)), nil
}

// ZMScore implements ZMSCORE key member [member ...].
func ZMScore(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, members [][]byte) (resp.Reply, error) {
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
			out = append(out, resp.Nil)
			continue
		}
		raw, ok, err := tx.Get(ctx, codec.ZsetDataKey(key, mv.Version, m))
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, resp.Nil)
			continue
		}
		out = append(out, formatScore(scoreOf(raw)))
	}
	return out, nil
}

// ZIncrBy implements ZINCRBY key increment member.
func ZIncrBy(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, delta float64, member []byte) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		mv = keycodec.MetaValue{Type: keycodec.TypeZset}
	}
	dk := codec.ZsetDataKey(key, mv.Version, member)
	raw, had, err := tx.Get(ctx, dk)
	if err != nil {
		return nil, err
	}
	var prev float64
	if had {
		prev = scoreOf(raw)
		if err := tx.Delete(ctx, codec.ZsetScoreKey(key, mv.Version, prev, member)); err != nil {
			return nil, err
		}
	}
	next := prev + delta
	if math.IsNaN(next) {
		return resp.Error("ERR resulting score is not a number (NaN)"), nil
	}
	if err := tx.Put(ctx, dk, encodeScoreValue(next)); err != nil {
		return nil, err
	}
	if err := tx.Put(ctx, codec.ZsetScoreKey(key, mv.Version, next, member), []byte{}); err != nil {
		return nil, err
	}
	if !had {
		if err := opscore.AdjustSubMeta(ctx, tx, codec, key, mv.Version, 1, numShards); err != nil {
			return nil, err
		}
	}
	if !exists {
		if err := tx.Put(ctx, codec.MetaKey(key), keycodec.EncodeMetaValue(mv)); err != nil {
			return nil, err
		}
	}
	return formatScore(next), nil
}

type member struct {
	Score  float64
	Member []byte
}

func scanOrdered(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue) ([]member, error) {
	start, end := codec.ZsetScoreKeyRange(key, mv.Version)
	kvs, err := tx.Scan(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}
	out := make([]member, 0, len(kvs))
	for _, kv := range kvs {
		score, m, ok := codec.DecodeScoreKey(key, mv.Version, kv.Key)
		if !ok {
			continue
		}
		out = append(out, member{Score: score, Member: m})
	}
	return out, nil
}

// ZRange implements ZRANGE/ZREVRANGE key start stop [WITHSCORES].
func ZRange(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, start, stop int64, rev, withScores bool) (resp.Reply, error) {
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
	all, err := scanOrdered(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	if rev {
		reverse(all)
	}
	lo, hi := normalizeRange(start, stop, len(all))
	return toReply(all[lo:hi], withScores), nil
}

func reverse(m []member) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}

func normalizeRange(start, stop int64, n int) (int, int) {
	if n == 0 {
		return 0, 0
	}
	if start < 0 {
		start += int64(n)
	}
	if stop < 0 {
		stop += int64(n)
	}
	if start < 0 {
		start = 0
	}
	if stop >= int64(n) {
		stop = int64(n) - 1
	}
	if start > stop || start >= int64(n) {
		return 0, 0
	}
	return int(start), int(stop) + 1
}

func toReply(ms []member, withScores bool) resp.Reply {
	if !withScores {
		out := make(resp.Array, len(ms))
		for i, m := range ms {
			out[i] = resp.Bulk(m.Member)
		}
		return out
	}
	out := make(resp.Array, 0, len(ms)*2)
	for _, m := range ms {
		out = append(out, resp.Bulk(m.Member), formatScore(m.Score))
	}
	return out
}

func formatScore(f float64) resp.Bulk {
	return resp.Bulk(opscore.FormatFloat(f))
}

// ScoreRange describes a ZRANGEBYSCORE/ZCOUNT bound: Value is the score and
// Exclusive marks a `(score` boundary; Value of +/-Inf represents -inf/+inf.
type ScoreRange struct {
	Min, Max                   float64
	MinExclusive, MaxExclusive bool
}

func inRange(score float64, r ScoreRange) bool {
	if r.MinExclusive {
		if score <= r.Min {
			return false
		}
	} else if score < r.Min {
		return false
	}
	if r.MaxExclusive {
		if score >= r.Max {
			return false
		}
	} else if score > r.Max {
		return false
	}
	return true
}

// ZRangeByScore implements ZRANGEBYSCORE/ZREVRANGEBYSCORE key min max
// [WITHSCORES] [LIMIT offset count].
func ZRangeByScore(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, r ScoreRange, rev, withScores bool, offset, count int64) (resp.Reply, error) {
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
	all, err := scanOrdered(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	var filtered []member
	for _, m := range all {
		if inRange(m.Score, r) {
			filtered = append(filtered, m)
		}
	}
	if rev {
		reverse(filtered)
	}
	if offset > 0 {
		if offset >= int64(len(filtered)) {
			filtered = nil
		} else {
			filtered = filtered[offset:]
		}
	}
	if count >= 0 && count < int64(len(filtered)) {
		filtered = filtered[:count]
	}
	return toReply(filtered, withScores), nil
}

// ZCount implements ZCOUNT key min max.
func ZCount(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, r ScoreRange) (resp.Reply, error) {
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
	all, err := scanOrdered(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	var n int64
	for _, m := range all {
		if inRange(m.Score, r) {
			n++
		}
	}
	return resp.Integer(n), nil
}

// ZRank implements ZRANK/ZREVRANK key member.
func ZRank(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key, member []byte, rev bool) (resp.Reply, error) {
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
	all, err := scanOrdered(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	if rev {
		reverse(all)
	}
	for i, m := range all {
		if string(m.Member) == string(member) {
			return resp.Integer(i), nil
		}
	}
	return resp.Nil, nil
}

// ZPop implements ZPOPMIN/ZPOPMAX key [count].
func ZPop(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, count int64, max bool) (resp.Reply, error) {
	mv, exists, wrongType, err := loadMeta(ctx, tx, codec, key, nowMs, true)
	if err != nil {
		return nil, err
	}
	if wrongType {
		return resp.ErrWrongType, nil
	}
	if !exists {
		return resp.Array{}, nil
	}
	all, err := scanOrdered(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	if max {
		reverse(all)
	}
	if count > int64(len(all)) {
		count = int64(len(all))
	}
	popped := all[:count]
	for _, m := range popped {
		if err := tx.Delete(ctx, codec.ZsetDataKey(key, mv.Version, m.Member)); err != nil {
			return nil, err
		}
		if err := tx.Delete(ctx, codec.ZsetScoreKey(key, mv.Version, m.Score, m.Member)); err != nil {
			return nil, err
		}
	}
	if count > 0 {
		if err := opscore.AdjustSubMeta(ctx, tx, codec, key, mv.Version, -count, numShards); err != nil {
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
	return toReply(popped, true), nil
}

// ZRemRangeByScore implements ZREMRANGEBYSCORE key min max.
func ZRemRangeByScore(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, r ScoreRange) (resp.Reply, error) {
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
	all, err := scanOrdered(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	var removed int64
	for _, m := range all {
		if !inRange(m.Score, r) {
			continue
		}
		if err := tx.Delete(ctx, codec.ZsetDataKey(key, mv.Version, m.Member)); err != nil {
			return nil, err
		}
		if err := tx.Delete(ctx, codec.ZsetScoreKey(key, mv.Version, m.Score, m.Member)); err != nil {
			return nil, err
		}
		removed++
	}
	return finishRemoveRange(ctx, tx, codec, key, mv, numShards, removed)
}

// ZRemRangeByRank implements ZREMRANGEBYRANK key start stop.
func ZRemRangeByRank(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, numShards int, key []byte, start, stop int64) (resp.Reply, error) {
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
	all, err := scanOrdered(ctx, tx, codec, key, mv)
	if err != nil {
		return nil, err
	}
	lo, hi := normalizeRange(start, stop, len(all))
	var removed int64
	for _, m := range all[lo:hi] {
		if err := tx.Delete(ctx, codec.ZsetDataKey(key, mv.Version, m.Member)); err != nil {
			return nil, err
		}
		if err := tx.Delete(ctx, codec.ZsetScoreKey(key, mv.Version, m.Score, m.Member)); err != nil {
			return nil, err
		}
		removed++
	}
	return finishRemoveRange(ctx, tx, codec, key, mv, numShards, removed)
}

func finishRemoveRange(ctx context.Context, tx store.Txn, codec *keycodec.Codec, key []byte, mv keycodec.MetaValue, numShards int, removed int64) (resp.Reply, error) {
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
