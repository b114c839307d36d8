// Package keyops implements the type-generic key commands (spec §4.3):
// DEL, EXISTS, TTL/PTTL, EXPIRE family, PERSIST, TYPE, RENAME, COPY and
// SCAN. These dispatch on the stored DataType rather than belonging to one
// of the per-type ops packages, mirroring original_source/src/cmd/del.rs
// and expire.rs, which fan out into whichever tikv/{string,hash,...}.rs
// "expire_if_needed"/"del" helper matches the key's type.
package keyops

import (
	"context"
	"encoding/binary"

	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/ops/opscore"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

// AsyncDeleteConfig mirrors config's async_deletion_enabled/async_del_*
// thresholds (spec §6): collections at or above the threshold for their
// type are orphaned for the GC worker pool (§4.9) instead of range-deleted
// inline on the caller's connection.
type AsyncDeleteConfig struct {
	Enabled        bool
	HashThreshold  int64
	ListThreshold  int64
	SetThreshold   int64
	ZsetThreshold  int64
}

func (c AsyncDeleteConfig) thresholdFor(t keycodec.DataType) int64 {
	switch t {
	case keycodec.TypeHash:
		return c.HashThreshold
	case keycodec.TypeList:
		return c.ListThreshold
	case keycodec.TypeSet:
		return c.SetThreshold
	case keycodec.TypeZset:
		return c.ZsetThreshold
	default:
		return 0
	}
}

func collectionSize(ctx context.Context, tx store.Txn, codec *keycodec.Codec, userKey []byte, mv keycodec.MetaValue) (int64, error) {
	switch mv.Type {
	case keycodec.TypeList:
		return int64(mv.ListRight - mv.ListLeft), nil
	case keycodec.TypeHash, keycodec.TypeSet, keycodec.TypeZset:
		return opscore.SumSubMeta(ctx, tx, codec, userKey, mv.Version)
	default:
		return 0, nil
	}
}

// orphanKeyData hands a key's version off to the GC worker pool instead of
// range-deleting its data inline: it deletes only the MetaKey and records a
// GCVersionKey/GCKey pair for the master scan loop (§4.9) to pick up.
func orphanKeyData(ctx context.Context, tx store.Txn, codec *keycodec.Codec, userKey []byte, mv keycodec.MetaValue) error {
	if err := tx.Put(ctx, codec.GCVersionKey(userKey, mv.Version), []byte{byte(mv.Type)}); err != nil {
		return err
	}
	verBuf := binary.BigEndian.AppendUint16(nil, mv.Version)
	if err := tx.Put(ctx, codec.GCKey(userKey), verBuf); err != nil {
		return err
	}
	return tx.Delete(ctx, codec.MetaKey(userKey))
}

// deleteKeyData removes a key's meta entry, all of its data-namespace keys
// and its sub-meta counters for the given version, matching the delete
// every per-type package's reclaim performs inline when it owns the key
// already.
func deleteKeyData(ctx context.Context, tx store.Txn, codec *keycodec.Codec, userKey []byte, mv keycodec.MetaValue) error {
	switch mv.Type {
	case keycodec.TypeString:
		// no secondary data keys
	case keycodec.TypeHash:
		start, end := codec.HashDataKeyRange(userKey, mv.Version)
		if err := deleteRange(ctx, tx, start, end); err != nil {
			return err
		}
	case keycodec.TypeList:
		start, end := codec.ListDataKeyRange(userKey, mv.Version)
		if err := deleteRange(ctx, tx, start, end); err != nil {
			return err
		}
	case keycodec.TypeSet:
		start, end := codec.SetDataKeyRange(userKey, mv.Version)
		if err := deleteRange(ctx, tx, start, end); err != nil {
			return err
		}
	case keycodec.TypeZset:
		start, end := codec.ZsetDataKeyRange(userKey, mv.Version)
		if err := deleteRange(ctx, tx, start, end); err != nil {
			return err
		}
		start, end = codec.ZsetScoreKeyRange(userKey, mv.Version)
		if err := deleteRange(ctx, tx, start, end); err != nil {
			return err
		}
	}
	if err := opscore.ClearSubMeta(ctx, tx, codec, userKey, mv.Version); err != nil {
		return err
	}
	return tx.Delete(ctx, codec.MetaKey(userKey))
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

// readLiveMeta fetches and decodes a key's meta value, transparently
// reclaiming it (returning "not found") if its TTL has passed.
func readLiveMeta(ctx context.Context, tx store.Txn, codec *keycodec.Codec, userKey []byte, nowMs int64) (keycodec.MetaValue, bool, error) {
	raw, ok, err := tx.Get(ctx, codec.MetaKey(userKey))
	if err != nil || !ok {
		return keycodec.MetaValue{}, false, err
	}
	mv, err := keycodec.DecodeMetaValue(raw)
	if err != nil {
		return keycodec.MetaValue{}, false, err
	}
	if opscore.Expired(mv.ExpireAtMs, nowMs) {
		if derr := deleteKeyData(ctx, tx, codec, userKey, mv); derr != nil {
			return keycodec.MetaValue{}, false, derr
		}
		return keycodec.MetaValue{}, false, nil
	}
	return mv, true, nil
}

// Del implements DEL key [key ...].
func Del(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, keys [][]byte) (resp.Reply, error) {
	var n int64
	for _, k := range keys {
		mv, ok, err := readLiveMeta(ctx, tx, codec, k, nowMs)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := deleteKeyData(ctx, tx, codec, k, mv); err != nil {
			return nil, err
		}
		n++
	}
	return resp.Integer(n), nil
}

// DelWithGC implements DEL key [key ...] honoring async_deletion_enabled:
// a collection whose size meets or exceeds its type's configured threshold
// is orphaned for the GC worker pool instead of range-deleted inline,
// keeping DEL's latency bounded regardless of collection size.
func DelWithGC(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, keys [][]byte, cfg AsyncDeleteConfig) (resp.Reply, error) {
	if !cfg.Enabled {
		return Del(ctx, tx, codec, nowMs, keys)
	}
	var n int64
	for _, k := range keys {
		mv, ok, err := readLiveMeta(ctx, tx, codec, k, nowMs)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		threshold := cfg.thresholdFor(mv.Type)
		async := false
		if threshold > 0 {
			size, err := collectionSize(ctx, tx, codec, k, mv)
			if err != nil {
				return nil, err
			}
			async = size >= threshold
		}
		if async {
			if err := orphanKeyData(ctx, tx, codec, k, mv); err != nil {
				return nil, err
			}
		} else if err := deleteKeyData(ctx, tx, codec, k, mv); err != nil {
			return nil, err
		}
		n++
	}
	return resp.Integer(n), nil
}

// Exists implements EXISTS key [key ...], counting duplicates.
func Exists(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, keys [][]byte) (resp.Reply, error) {
	var n int64
	for _, k := range keys {
		_, ok, err := readLiveMeta(ctx, tx, codec, k, nowMs)
		if err != nil {
			return nil, err
		}
		if ok {
			n++
		}
	}
	return resp.Integer(n), nil
}

// TTL implements TTL/PTTL key. Returns -2 if the key doesn't exist, -1 if
// it has no expiry, else the remaining TTL in the requested unit.
func TTL(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, millis bool) (resp.Reply, error) {
	mv, ok, err := readLiveMeta(ctx, tx, codec, key, nowMs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Integer(-2), nil
	}
	if mv.ExpireAtMs == 0 {
		return resp.Integer(-1), nil
	}
	remaining := mv.ExpireAtMs - nowMs
	if remaining < 0 {
		remaining = 0
	}
	if !millis {
		remaining /= 1000
	}
	return resp.Integer(remaining), nil
}

// Expire implements EXPIRE/PEXPIRE/EXPIREAT/PEXPIREAT key ttl.
func Expire(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte, ttl int64, millis bool, atAbsolute bool) (resp.Reply, error) {
	raw, ok, err := tx.GetForUpdate(ctx, codec.MetaKey(key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Integer(0), nil
	}
	mv, err := keycodec.DecodeMetaValue(raw)
	if err != nil {
		return nil, err
	}
	if opscore.Expired(mv.ExpireAtMs, nowMs) {
		if err := deleteKeyData(ctx, tx, codec, key, mv); err != nil {
			return nil, err
		}
		return resp.Integer(0), nil
	}

	var expireAtMs int64
	switch {
	case atAbsolute && millis:
		expireAtMs = ttl
	case atAbsolute && !millis:
		expireAtMs = ttl * 1000
	case !atAbsolute && millis:
		expireAtMs = nowMs + ttl
	default:
		expireAtMs = nowMs + ttl*1000
	}
	if expireAtMs <= nowMs {
		if err := deleteKeyData(ctx, tx, codec, key, mv); err != nil {
			return nil, err
		}
		return resp.Integer(1), nil
	}

	mv.ExpireAtMs = expireAtMs
	if err := tx.Put(ctx, codec.MetaKey(key), keycodec.EncodeMetaValue(mv)); err != nil {
		return nil, err
	}
	return resp.Integer(1), nil
}

// Persist implements PERSIST key.
func Persist(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
	mv, ok, err := readLiveMeta(ctx, tx, codec, key, nowMs)
	if err != nil {
		return nil, err
	}
	if !ok || mv.ExpireAtMs == 0 {
		return resp.Integer(0), nil
	}
	mv.ExpireAtMs = 0
	if err := tx.Put(ctx, codec.MetaKey(key), keycodec.EncodeMetaValue(mv)); err != nil {
		return nil, err
	}
	return resp.Integer(1), nil
}

// Type implements TYPE key.
func Type(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, key []byte) (resp.Reply, error) {
	mv, ok, err := readLiveMeta(ctx, tx, codec, key, nowMs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.SimpleString("none"), nil
	}
	return resp.SimpleString(mv.Type.String()), nil
}

// Rename implements RENAME src dst, overwriting dst unconditionally.
func Rename(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, src, dst []byte) (resp.Reply, error) {
	mv, ok, err := readLiveMeta(ctx, tx, codec, src, nowMs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.ErrNoSuchKey, nil
	}
	if string(src) == string(dst) {
		return resp.OK, nil
	}
	dmv, dok, err := readLiveMeta(ctx, tx, codec, dst, nowMs)
	if err != nil {
		return nil, err
	}
	if dok {
		if err := deleteKeyData(ctx, tx, codec, dst, dmv); err != nil {
			return nil, err
		}
	}
	if err := copyKeyData(ctx, tx, codec, src, dst, mv); err != nil {
		return nil, err
	}
	if err := deleteKeyData(ctx, tx, codec, src, mv); err != nil {
		return nil, err
	}
	return resp.OK, nil
}

// Copy implements COPY src dst [REPLACE].
func Copy(ctx context.Context, tx store.Txn, codec *keycodec.Codec, nowMs int64, src, dst []byte, replace bool) (resp.Reply, error) {
	mv, ok, err := readLiveMeta(ctx, tx, codec, src, nowMs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return resp.Integer(0), nil
	}
	if !replace {
		if _, exists, err := readLiveMeta(ctx, tx, codec, dst, nowMs); err != nil {
			return nil, err
		} else if exists {
			return resp.Integer(0), nil
		}
	}
	if err := copyKeyData(ctx, tx, codec, src, dst, mv); err != nil {
		return nil, err
	}
	return resp.Integer(1), nil
}

// copyKeyData re-encodes every data/score key of src under dst, keeping the
// same version number — safe because data keys are namespaced by user key,
// so reusing the version under a different user key cannot collide with
// src's own entries.
func copyKeyData(ctx context.Context, tx store.Txn, codec *keycodec.Codec, src, dst []byte, mv keycodec.MetaValue) error {
	switch mv.Type {
	case keycodec.TypeHash:
		start, end := codec.HashDataKeyRange(src, mv.Version)
		kvs, err := tx.Scan(ctx, start, end, 0)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			field, ok := codec.DecodeHashField(src, mv.Version, kv.Key)
			if !ok {
				continue
			}
			if err := tx.Put(ctx, codec.HashDataKey(dst, mv.Version, field), kv.Value); err != nil {
				return err
			}
		}
	case keycodec.TypeList:
		start, end := codec.ListDataKeyRange(src, mv.Version)
		kvs, err := tx.Scan(ctx, start, end, 0)
		if err != nil {
			return err
		}
		srcPrefix := len(start)
		for _, kv := range kvs {
			idx := binary.BigEndian.Uint64(kv.Key[srcPrefix:])
			if err := tx.Put(ctx, codec.ListDataKey(dst, mv.Version, idx), kv.Value); err != nil {
				return err
			}
		}
	case keycodec.TypeSet:
		start, end := codec.SetDataKeyRange(src, mv.Version)
		kvs, err := tx.Scan(ctx, start, end, 0)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			member, ok := codec.DecodeSetMember(src, mv.Version, kv.Key)
			if !ok {
				continue
			}
			if err := tx.Put(ctx, codec.SetDataKey(dst, mv.Version, member), kv.Value); err != nil {
				return err
			}
		}
	case keycodec.TypeZset:
		start, end := codec.ZsetDataKeyRange(src, mv.Version)
		kvs, err := tx.Scan(ctx, start, end, 0)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			member, ok := codec.DecodeZsetMember(src, mv.Version, kv.Key)
			if !ok {
				continue
			}
			if err := tx.Put(ctx, codec.ZsetDataKey(dst, mv.Version, member), kv.Value); err != nil {
				return err
			}
		}
		sstart, send := codec.ZsetScoreKeyRange(src, mv.Version)
		skvs, err := tx.Scan(ctx, sstart, send, 0)
		if err != nil {
			return err
		}
		for _, kv := range skvs {
			score, member, ok := codec.DecodeScoreKey(src, mv.Version, kv.Key)
			if !ok {
				continue
			}
			if err := tx.Put(ctx, codec.ZsetScoreKey(dst, mv.Version, score, member), kv.Value); err != nil {
				return err
			}
		}
	}
	if start, end := codec.SubMetaKeyRange(src, mv.Version); true {
		kvs, err := tx.Scan(ctx, start, end, 0)
		if err != nil {
			return err
		}
		for i, kv := range kvs {
			if err := tx.Put(ctx, codec.SubMetaKey(dst, mv.Version, i), kv.Value); err != nil {
				return err
			}
		}
	}
	return tx.Put(ctx, codec.MetaKey(dst), keycodec.EncodeMetaValue(mv))
}

// ScanResult is one page of a SCAN iteration.
type ScanResult struct {
	Cursor []byte // nil when the iteration is complete
	Keys   [][]byte
}

// Scan implements SCAN cursor [MATCH pattern] [COUNT count] [TYPE type]. The
// cursor is simply the last key returned, matching the store's natural
// ordering; a nil cursor resumes from the start of the meta keyspace.
func Scan(ctx context.Context, tx store.Reader, codec *keycodec.Codec, nowMs int64, cursor []byte, match string, count int, typeFilter string) (ScanResult, error) {
	if count <= 0 {
		count = 10
	}
	_, end := codec.MetaKeyRange()
	start := cursor
	if start == nil {
		start, _ = codec.MetaKeyRange()
	} else {
		start = append(append([]byte(nil), cursor...), 0x00)
	}

	kvs, err := tx.Scan(ctx, start, end, count+1)
	if err != nil {
		return ScanResult{}, err
	}

	var out ScanResult
	scanned := kvs
	if len(kvs) > count {
		out.Cursor = kvs[count-1].Key
		scanned = kvs[:count]
	}
	for _, kv := range scanned {
		userKey, ok := codec.DecodeMetaKey(kv.Key)
		if !ok {
			continue
		}
		mv, err := keycodec.DecodeMetaValue(kv.Value)
		if err != nil || opscore.Expired(mv.ExpireAtMs, nowMs) {
			continue
		}
		if typeFilter != "" && mv.Type.String() != typeFilter {
			continue
		}
		if match != "" && !globMatch(match, string(userKey)) {
			continue
		}
		out.Keys = append(out.Keys, userKey)
	}
	return out, nil
}

// globMatch implements Redis glob-style matching (*, ?, [abc]) used by
// SCAN's MATCH clause.
func globMatch(pattern, s string) bool {
	return globMatchBytes([]byte(pattern), []byte(s))
}

func globMatchBytes(pattern, s []byte) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchBytes(pattern[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]
		case '[':
			if len(s) == 0 {
				return false
			}
			closeIdx := indexByte(pattern[1:], ']')
			if closeIdx < 0 {
				return matchLiteral(pattern, s)
			}
			class := pattern[1 : 1+closeIdx]
			negate := len(class) > 0 && class[0] == '^'
			if negate {
				class = class[1:]
			}
			if classMatch(class, s[0]) == negate {
				return false
			}
			s = s[1:]
			pattern = pattern[2+closeIdx:]
		case '\\':
			if len(pattern) < 2 || len(s) == 0 || pattern[1] != s[0] {
				return false
			}
			pattern = pattern[2:]
			s = s[1:]
		default:
			if len(s) == 0 || pattern[0] != s[0] {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		}
	}
	return len(s) == 0
}

func matchLiteral(pattern, s []byte) bool {
	return len(s) > 0 && pattern[0] == s[0] && globMatchBytes(pattern[1:], s[1:])
}

func classMatch(class []byte, b byte) bool {
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= b && b <= class[i+2] {
				return true
			}
			i += 2
			continue
		}
		if class[i] == b {
			return true
		}
	}
	return false
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
