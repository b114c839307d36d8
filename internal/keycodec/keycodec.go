package keycodec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataType identifies which Redis data type a MetaKey's value encodes.
// The numeric values are part of the on-disk format and must never change.
type DataType byte

const (
	TypeString DataType = 0
	TypeHash   DataType = 1
	TypeList   DataType = 2
	TypeSet    DataType = 3
	TypeZset   DataType = 4
)

func (t DataType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeHash:
		return "hash"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeZset:
		return "zset"
	default:
		return "none"
	}
}

// namespace byte discriminators, placed right after the instance prefix so a
// range scan bounded by instance+namespace never crosses into another
// namespace's keys.
const (
	nsMeta     = byte('M')
	nsData     = byte('D')
	nsScore    = byte('S')
	nsSubMeta  = byte('m')
	nsGCVer    = byte('G')
	nsGCMarker = byte('g')
	nsTopo     = byte('T')
)

// sub-namespace discriminators for DataKey/ScoreKey, distinguishing which
// collection type a versioned data key belongs to.
const (
	subHash = byte('H')
	subList = byte('L')
	subSet  = byte('S')
	subZset = byte('Z')
)

// Codec produces and parses the byte layout described in spec §3/§4.1. It is
// constructed explicitly with the deployment's instance id and sub-meta shard
// count; there is no package-level global state, per the "no lazy globals
// inside command paths" design note.
type Codec struct {
	instanceID []byte
	numShards  int
}

// New constructs a Codec. numShards must be >= 1 (the sub-meta shard count,
// "meta_key_number" in config).
func New(instanceID []byte, numShards int) *Codec {
	if numShards < 1 {
		numShards = 1
	}
	id := make([]byte, len(instanceID))
	copy(id, instanceID)
	return &Codec{instanceID: id, numShards: numShards}
}

// NumShards returns the configured sub-meta shard count.
func (c *Codec) NumShards() int { return c.numShards }

func (c *Codec) prefix(ns byte) []byte {
	buf := make([]byte, 0, len(c.instanceID)+1)
	buf = append(buf, c.instanceID...)
	buf = append(buf, ns)
	return buf
}

// MetaKey encodes `M:{user_key}`.
func (c *Codec) MetaKey(userKey []byte) []byte {
	return encodeBytes(c.prefix(nsMeta), userKey)
}

// MetaKeyRange bounds a full scan over every MetaKey (used by SCAN/DBSIZE).
func (c *Codec) MetaKeyRange() (start, end []byte) {
	p := c.prefix(nsMeta)
	return p, prefixEnd(p)
}

// DecodeMetaKey recovers the user key from a MetaKey.
func (c *Codec) DecodeMetaKey(key []byte) (userKey []byte, ok bool) {
	p := c.prefix(nsMeta)
	if len(key) < len(p) || string(key[:len(p)]) != string(p) {
		return nil, false
	}
	data, rest, ok := decodeBytes(key[len(p):])
	if !ok || len(rest) != 0 {
		return nil, false
	}
	return data, true
}

// --- MetaValue ---

// MetaValue is the anchor record for a user key.
type MetaValue struct {
	Type       DataType
	ExpireAtMs int64 // 0 = no expiry
	Version    uint16
	// Trailer: for TypeString, the inline value. For TypeList, Left/Right.
	StringValue []byte
	ListLeft    uint64
	ListRight   uint64
}

// EncodeMetaValue serializes a MetaValue per its type's trailer layout.
func EncodeMetaValue(mv MetaValue) []byte {
	buf := make([]byte, 0, 11+len(mv.StringValue))
	buf = append(buf, byte(mv.Type))
	buf = binary.BigEndian.AppendUint64(buf, uint64(mv.ExpireAtMs))
	buf = binary.BigEndian.AppendUint16(buf, mv.Version)
	switch mv.Type {
	case TypeString:
		buf = append(buf, mv.StringValue...)
	case TypeList:
		buf = binary.BigEndian.AppendUint64(buf, mv.ListLeft)
		buf = binary.BigEndian.AppendUint64(buf, mv.ListRight)
	}
	return buf
}

// DecodeMetaValue is total over well-formed input and returns an error
// otherwise rather than panicking or guessing.
func DecodeMetaValue(raw []byte) (MetaValue, error) {
	if len(raw) < 11 {
		return MetaValue{}, fmt.Errorf("keycodec: meta value too short (%d bytes)", len(raw))
	}
	mv := MetaValue{
		Type:       DataType(raw[0]),
		ExpireAtMs: int64(binary.BigEndian.Uint64(raw[1:9])),
		Version:    binary.BigEndian.Uint16(raw[9:11]),
	}
	trailer := raw[11:]
	switch mv.Type {
	case TypeString:
		mv.StringValue = append([]byte(nil), trailer...)
	case TypeList:
		if len(trailer) != 16 {
			return MetaValue{}, fmt.Errorf("keycodec: list meta trailer wrong size (%d bytes)", len(trailer))
		}
		mv.ListLeft = binary.BigEndian.Uint64(trailer[0:8])
		mv.ListRight = binary.BigEndian.Uint64(trailer[8:16])
	case TypeHash, TypeSet, TypeZset:
		// no trailer; size lives in sub-meta
	default:
		return MetaValue{}, fmt.Errorf("keycodec: unknown data type byte %d", raw[0])
	}
	return mv, nil
}

// --- DataKey: Hash ---

func (c *Codec) dataPrefix(sub byte, userKey []byte, version uint16) []byte {
	buf := c.prefix(nsData)
	buf = append(buf, sub)
	buf = encodeBytes(buf, userKey)
	buf = binary.BigEndian.AppendUint16(buf, version)
	return buf
}

func (c *Codec) HashDataKey(userKey []byte, version uint16, field []byte) []byte {
	return encodeBytes(c.dataPrefix(subHash, userKey, version), field)
}

// HashDataKeyRange bounds a scan over every field of one (user_key, version).
func (c *Codec) HashDataKeyRange(userKey []byte, version uint16) (start, end []byte) {
	p := c.dataPrefix(subHash, userKey, version)
	return p, prefixEnd(p)
}

// DecodeHashField recovers the field name from a Hash DataKey, given the
// range prefix it was produced under.
func (c *Codec) DecodeHashField(userKey []byte, version uint16, key []byte) ([]byte, bool) {
	p := c.dataPrefix(subHash, userKey, version)
	if len(key) < len(p) || string(key[:len(p)]) != string(p) {
		return nil, false
	}
	field, rest, ok := decodeBytes(key[len(p):])
	if !ok || len(rest) != 0 {
		return nil, false
	}
	return field, true
}

// --- DataKey: List ---

func (c *Codec) ListDataKey(userKey []byte, version uint16, index uint64) []byte {
	buf := c.dataPrefix(subList, userKey, version)
	return binary.BigEndian.AppendUint64(buf, index)
}

func (c *Codec) ListDataKeyRange(userKey []byte, version uint16) (start, end []byte) {
	p := c.dataPrefix(subList, userKey, version)
	return p, prefixEnd(p)
}

// --- DataKey: Set ---

func (c *Codec) SetDataKey(userKey []byte, version uint16, member []byte) []byte {
	return encodeBytes(c.dataPrefix(subSet, userKey, version), member)
}

func (c *Codec) SetDataKeyRange(userKey []byte, version uint16) (start, end []byte) {
	p := c.dataPrefix(subSet, userKey, version)
	return p, prefixEnd(p)
}

func (c *Codec) DecodeSetMember(userKey []byte, version uint16, key []byte) ([]byte, bool) {
	p := c.dataPrefix(subSet, userKey, version)
	if len(key) < len(p) || string(key[:len(p)]) != string(p) {
		return nil, false
	}
	member, rest, ok := decodeBytes(key[len(p):])
	if !ok || len(rest) != 0 {
		return nil, false
	}
	return member, true
}

// --- DataKey + ScoreKey: Zset ---

func (c *Codec) ZsetDataKey(userKey []byte, version uint16, member []byte) []byte {
	return encodeBytes(c.dataPrefix(subZset, userKey, version), member)
}

func (c *Codec) ZsetDataKeyRange(userKey []byte, version uint16) (start, end []byte) {
	p := c.dataPrefix(subZset, userKey, version)
	return p, prefixEnd(p)
}

func (c *Codec) DecodeZsetMember(userKey []byte, version uint16, key []byte) ([]byte, bool) {
	p := c.dataPrefix(subZset, userKey, version)
	if len(key) < len(p) || string(key[:len(p)]) != string(p) {
		return nil, false
	}
	member, rest, ok := decodeBytes(key[len(p):])
	if !ok || len(rest) != 0 {
		return nil, false
	}
	return member, true
}

// EncodeScore flips the score's bits so that unsigned lexicographic byte
// comparison equals numeric comparison: for non-negative doubles, set the
// sign bit; for negative doubles, invert every bit. NaN is rejected by
// callers before this is ever invoked.
func EncodeScore(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// DecodeScore reverses EncodeScore.
func DecodeScore(bits uint64) float64 {
	if bits&(1<<63) != 0 {
		return math.Float64frombits(bits &^ (1 << 63))
	}
	return math.Float64frombits(^bits)
}

func (c *Codec) scorePrefix(userKey []byte, version uint16) []byte {
	buf := c.prefix(nsScore)
	buf = append(buf, subZset)
	buf = encodeBytes(buf, userKey)
	return binary.BigEndian.AppendUint16(buf, version)
}

// ZsetScoreKey encodes `S:Z:{user_key}:{version}:{encoded_score}:{member}`.
func (c *Codec) ZsetScoreKey(userKey []byte, version uint16, score float64, member []byte) []byte {
	buf := c.scorePrefix(userKey, version)
	buf = binary.BigEndian.AppendUint64(buf, EncodeScore(score))
	return encodeBytes(buf, member)
}

// ZsetScoreKeyRange bounds every ScoreKey of one (user_key, version).
func (c *Codec) ZsetScoreKeyRange(userKey []byte, version uint16) (start, end []byte) {
	p := c.scorePrefix(userKey, version)
	return p, prefixEnd(p)
}

// ZsetScoreBound encodes a (score, member-or-boundary) pair into a
// ScoreKey range endpoint. member nil produces the bare score prefix, which
// sorts before every ScoreKey with that score.
func (c *Codec) ZsetScoreBound(userKey []byte, version uint16, score float64, member []byte) []byte {
	buf := c.scorePrefix(userKey, version)
	buf = binary.BigEndian.AppendUint64(buf, EncodeScore(score))
	if member == nil {
		return buf
	}
	return encodeBytes(buf, member)
}

// DecodeScoreKey recovers (score, member) from a ScoreKey produced under the
// given (user_key, version) prefix.
func (c *Codec) DecodeScoreKey(userKey []byte, version uint16, key []byte) (score float64, member []byte, ok bool) {
	p := c.scorePrefix(userKey, version)
	if len(key) < len(p)+8 || string(key[:len(p)]) != string(p) {
		return 0, nil, false
	}
	bits := binary.BigEndian.Uint64(key[len(p) : len(p)+8])
	m, rest, ok := decodeBytes(key[len(p)+8:])
	if !ok || len(rest) != 0 {
		return 0, nil, false
	}
	return DecodeScore(bits), m, true
}

// --- SubMetaKey ---

// SubMetaKey encodes `SM:{user_key}:{version}:{shard_idx}`.
func (c *Codec) SubMetaKey(userKey []byte, version uint16, shard int) []byte {
	buf := c.prefix(nsSubMeta)
	buf = encodeBytes(buf, userKey)
	buf = binary.BigEndian.AppendUint16(buf, version)
	return binary.BigEndian.AppendUint16(buf, uint16(shard))
}

// SubMetaKeyRange bounds every shard of one (user_key, version).
func (c *Codec) SubMetaKeyRange(userKey []byte, version uint16) (start, end []byte) {
	buf := c.prefix(nsSubMeta)
	buf = encodeBytes(buf, userKey)
	p := binary.BigEndian.AppendUint16(buf, version)
	return p, prefixEnd(p)
}

// --- GCVersionKey / GCKey ---

// GCVersionKey encodes `GV:{user_key}:{version}` -> the orphaned type byte.
func (c *Codec) GCVersionKey(userKey []byte, version uint16) []byte {
	buf := c.prefix(nsGCVer)
	buf = encodeBytes(buf, userKey)
	return binary.BigEndian.AppendUint16(buf, version)
}

// GCVersionKeyRange bounds a scan over every pending GCVersionKey.
func (c *Codec) GCVersionKeyRange() (start, end []byte) {
	p := c.prefix(nsGCVer)
	return p, prefixEnd(p)
}

// DecodeGCVersionKey recovers (user_key, version) from a GCVersionKey.
func (c *Codec) DecodeGCVersionKey(key []byte) (userKey []byte, version uint16, ok bool) {
	p := c.prefix(nsGCVer)
	if len(key) < len(p)+2 || string(key[:len(p)]) != string(p) {
		return nil, 0, false
	}
	rest := key[len(p):]
	data, tail, ok := decodeBytes(rest)
	if !ok || len(tail) != 2 {
		return nil, 0, false
	}
	return data, binary.BigEndian.Uint16(tail), true
}

// GCKey encodes `G:{user_key}` -> current version pending GC.
func (c *Codec) GCKey(userKey []byte) []byte {
	return encodeBytes(c.prefix(nsGCMarker), userKey)
}

// --- TopoKey ---

// TopoKey encodes `T:{address}` -> expiry timestamp (ms).
func (c *Codec) TopoKey(address []byte) []byte {
	return encodeBytes(c.prefix(nsTopo), address)
}

// TopoKeyRange bounds a scan over every advertised peer.
func (c *Codec) TopoKeyRange() (start, end []byte) {
	p := c.prefix(nsTopo)
	return p, prefixEnd(p)
}

// DecodeTopoKey recovers the peer address from a TopoKey.
func (c *Codec) DecodeTopoKey(key []byte) (address []byte, ok bool) {
	p := c.prefix(nsTopo)
	if len(key) < len(p) || string(key[:len(p)]) != string(p) {
		return nil, false
	}
	data, rest, ok := decodeBytes(key[len(p):])
	if !ok || len(rest) != 0 {
		return nil, false
	}
	return data, true
}
