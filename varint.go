package qpack

import (
	"fmt"
	"io"
)

// Prefixed-integer encoding from RFC 7541, section 5.1
//
// The first byte of a prefixed integer carries some number of pattern bits
// followed by an N-bit prefix holding (part of) the integer:
//
//	  0   1   2   3   4   5   6   7
//	+---+---+---+---+---+---+---+---+
//	| 0 | 0 | 1 |   Capacity (5+)   |
//	+---+---+---+-------------------+
//
// Values that don't fit into the prefix fill it with ones and continue in
// base-128, least significant group first.

// maxVarIntLen is the maximum number of continuation bytes we accept.
// 10 groups of 7 bits are enough for any uint64.
const maxVarIntLen = 10

// EncodeInteger appends v, encoded as an RFC 7541 prefixed integer with a
// prefixLen bit prefix, to dst. firstByte holds the pattern bits of the first
// byte, the low prefixLen bits of firstByte must be zero.
func EncodeInteger(dst []byte, firstByte byte, prefixLen uint8, v uint64) ([]byte, error) {
	if prefixLen < 1 || prefixLen > 8 {
		return dst, fmt.Errorf("%w: prefix length %d not in [1, 8]", ErrInvalidArgument, prefixLen)
	}
	if prefixLen < 8 && firstByte&(byte(1)<<prefixLen-1) != 0 {
		return dst, fmt.Errorf("%w: pattern %#x overlaps the %d bit prefix", ErrInvalidArgument, firstByte, prefixLen)
	}
	offset := len(dst)
	dst = appendVarInt(dst, prefixLen, v)
	dst[offset] |= firstByte
	return dst, nil
}

// DecodeInteger reads an RFC 7541 prefixed integer with a prefixLen bit prefix
// from the beginning of b. Bits of the first byte above the prefix are ignored.
func DecodeInteger(prefixLen uint8, b []byte) (uint64, []byte, error) {
	if prefixLen < 1 || prefixLen > 8 {
		return 0, b, fmt.Errorf("%w: prefix length %d not in [1, 8]", ErrInvalidArgument, prefixLen)
	}
	return readVarInt(prefixLen, b)
}

// appendVarInt appends i, encoded with an n bit prefix. The pattern bits of
// the first byte are left zero, callers set them afterwards.
func appendVarInt(b []byte, n uint8, i uint64) []byte {
	var max uint64
	if n == 8 {
		max = 255
	} else {
		max = (1 << n) - 1
	}
	if i < max {
		return append(b, uint8(i))
	}
	b = append(b, uint8(max))
	i -= max
	for i >= 0x80 {
		b = append(b, uint8(i&0x7f)|0x80)
		i >>= 7
	}
	return append(b, uint8(i))
}

func readVarInt(n uint8, p []byte) (i uint64, remain []byte, err error) {
	if len(p) == 0 {
		return 0, p, io.ErrUnexpectedEOF
	}
	var max uint64
	if n == 8 {
		max = 255
	} else {
		max = (1 << n) - 1
	}
	i = uint64(p[0]) & max
	if i < max {
		return i, p[1:], nil
	}
	origP := p
	p = p[1:]
	var m uint
	for count := 0; len(p) > 0; count++ {
		if count == maxVarIntLen {
			return 0, origP, ErrMalformedInteger
		}
		b := p[0]
		p = p[1:]
		group := uint64(b & 0x7f)
		if m == 63 && group > 1 {
			return 0, origP, ErrMalformedInteger
		}
		add := group << m
		if i+add < i {
			return 0, origP, ErrMalformedInteger
		}
		i += add
		if b&0x80 == 0 {
			return i, p, nil
		}
		m += 7
		if m > 63 {
			return 0, origP, ErrMalformedInteger
		}
	}
	return 0, origP, io.ErrUnexpectedEOF
}

// String literal encoding from RFC 7541, section 5.2
//
// The H flag sits directly above the N-bit length prefix.
// https://www.rfc-editor.org/rfc/rfc9204.html#section-4.1.2

// appendString appends s as a string literal with an n bit length prefix.
// Huffman encoding is used if it is shorter than the raw string.
func appendString(b []byte, firstByte byte, n uint8, s string, huffman HuffmanCodec) []byte {
	offset := len(b)
	if l := huffman.EncodedLength(s); l < uint64(len(s)) {
		b = appendVarInt(b, n, l)
		b[offset] |= firstByte | byte(1)<<n
		return huffman.AppendEncoded(b, s)
	}
	b = appendVarInt(b, n, uint64(len(s)))
	b[offset] |= firstByte
	return append(b, s...)
}

// readString reads a string literal with an n bit length prefix.
func readString(n uint8, p []byte, huffman HuffmanCodec) (string, []byte, error) {
	if len(p) == 0 {
		return "", p, io.ErrUnexpectedEOF
	}
	usesHuffman := p[0]&(byte(1)<<n) > 0
	l, rest, err := readVarInt(n, p)
	if err != nil {
		return "", p, err
	}
	if uint64(len(rest)) < l {
		return "", p, io.ErrUnexpectedEOF
	}
	if !usesHuffman {
		return string(rest[:l]), rest[l:], nil
	}
	s, err := huffman.Decode(rest[:l])
	if err != nil {
		return "", p, decodingError{err}
	}
	return s, rest[l:], nil
}
