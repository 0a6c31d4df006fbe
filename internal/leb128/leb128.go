// Package leb128 implements the unsigned LEB128 varint encoding used by
// the bearer token wire format for account_id and expiry. It is a thin
// wrapper over encoding/binary's Uvarint/PutUvarint, which implement this
// exact encoding: base-128, little-endian, continuation bit in the high
// bit of each byte.
package leb128

import "encoding/binary"

// MaxLen is the largest number of bytes a uint64 can take.
const MaxLen = binary.MaxVarintLen64

// Append encodes v as LEB128 and appends it to dst.
func Append(dst []byte, v uint64) []byte {
	var buf [MaxLen]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// Decode reads a single LEB128-encoded value from the front of b,
// returning the value and the number of bytes consumed. ok is false if b
// does not contain a complete encoding.
func Decode(b []byte) (v uint64, n int, ok bool) {
	v, n = binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, false
	}
	return v, n, true
}
