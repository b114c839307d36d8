// Package keycodec turns user-facing Redis keys, fields, and members into the
// deterministic, order-preserving byte sequences the backing store sorts on.
package keycodec

import "bytes"

// memcomparable encoding: the standard TiKV-ecosystem scheme for embedding an
// arbitrary-length, possibly-binary byte string inside a larger composite key
// while preserving unsigned lexicographic ordering and allowing unambiguous
// decoding. Every encoded chunk groups 8 data bytes with a 9th marker byte;
// the marker records how many of the 8 bytes were real data (0xFF when all 8
// are real and at least one more group follows, `0xFF - padCount` on the
// final, possibly short, group). original_source builds directly on a
// tikv_client; this is the encoding every TiKV-backed system (TiDB, Titan,
// this module) uses for the same reason, reimplemented here since no pack
// dependency vendors it.
const (
	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x00)
)

// encodeBytes appends the memcomparable encoding of data to dst and returns
// the extended slice. The result is self-terminating: concatenating further
// encoded fields after it produces no decoding ambiguity.
func encodeBytes(dst, data []byte) []byte {
	dLen := len(data)
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			dst = append(dst, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			if remain > 0 {
				dst = append(dst, data[idx:]...)
			}
			dst = append(dst, bytes.Repeat([]byte{encPad}, padCount)...)
		}
		dst = append(dst, encMarker-byte(padCount))
	}
	return dst
}

// decodeBytes reverses encodeBytes, returning the decoded data and the
// remaining, unconsumed tail of src. It fails loudly (ok=false) on malformed
// input rather than guessing.
func decodeBytes(src []byte) (data, rest []byte, ok bool) {
	for {
		if len(src) < encGroupSize+1 {
			return nil, nil, false
		}
		group := src[:encGroupSize]
		marker := src[encGroupSize]
		src = src[encGroupSize+1:]

		if marker == encMarker {
			data = append(data, group...)
			continue
		}

		padCount := int(encMarker - marker)
		if padCount < 0 || padCount > encGroupSize {
			return nil, nil, false
		}
		realLen := encGroupSize - padCount
		for _, b := range group[realLen:] {
			if b != encPad {
				return nil, nil, false
			}
		}
		data = append(data, group[:realLen]...)
		return data, src, true
	}
}

// prefixEnd returns the smallest byte string that is strictly greater than
// every string with the given prefix, i.e. the exclusive upper bound of a
// prefix scan. Returns nil if prefix is all 0xFF bytes (no finite upper
// bound exists; callers should treat nil as "unbounded").
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
