package qpack

import (
	"errors"
	"fmt"
	"io"
)

// Encoded Field Section Prefix (RFC 9204, section 4.5.1)
//
//	  0   1   2   3   4   5   6   7
//	+---+---+---+---+---+---+---+---+
//	|   Required Insert Count (8+)  |
//	+---+---------------------------+
//	| S |      Delta Base (7+)      |
//	+---+---------------------------+

// appendFieldSectionPrefix appends the field section prefix for a section
// that requires requiredInsertCount insertions and uses the given base.
func appendFieldSectionPrefix(b []byte, requiredInsertCount, base, maxEntries uint64) []byte {
	if requiredInsertCount == 0 {
		b = appendVarInt(b, 8, 0)
		return appendVarInt(b, 7, 0)
	}
	if maxEntries == 0 {
		panic("qpack: dynamic table reference without dynamic table capacity")
	}
	b = appendVarInt(b, 8, requiredInsertCount%(2*maxEntries)+1)
	if base >= requiredInsertCount {
		return appendVarInt(b, 7, base-requiredInsertCount)
	}
	offset := len(b)
	b = appendVarInt(b, 7, requiredInsertCount-base-1)
	b[offset] |= 0x80
	return b
}

// readFieldSectionPrefix parses the field section prefix.
// totalInserts is the number of insertions the decoder has received so far.
func readFieldSectionPrefix(p []byte, maxEntries, totalInserts uint64) (requiredInsertCount, base uint64, rest []byte, err error) {
	encodedInsertCount, rest, err := readVarInt(8, p)
	if err != nil {
		return 0, 0, p, err
	}
	if len(rest) == 0 {
		return 0, 0, p, io.ErrUnexpectedEOF
	}
	sign := rest[0]&0x80 > 0
	deltaBase, rest, err := readVarInt(7, rest)
	if err != nil {
		return 0, 0, p, err
	}
	requiredInsertCount, err = decodeRequiredInsertCount(encodedInsertCount, maxEntries, totalInserts)
	if err != nil {
		return 0, 0, p, err
	}
	if requiredInsertCount == 0 {
		if sign || deltaBase != 0 {
			return 0, 0, p, decodingError{errors.New("expected Base to be zero")}
		}
		return 0, 0, rest, nil
	}
	if !sign {
		base = requiredInsertCount + deltaBase
		if base < requiredInsertCount {
			return 0, 0, p, decodingError{errors.New("base overflows")}
		}
	} else {
		if deltaBase+1 > requiredInsertCount {
			return 0, 0, p, decodingError{fmt.Errorf("negative base (required insert count %d, delta %d)", requiredInsertCount, deltaBase)}
		}
		base = requiredInsertCount - deltaBase - 1
	}
	return requiredInsertCount, base, rest, nil
}

// decodeRequiredInsertCount reverses the modular encoding of the Required
// Insert Count (RFC 9204, section 4.5.1.1).
func decodeRequiredInsertCount(encoded, maxEntries, totalInserts uint64) (uint64, error) {
	if encoded == 0 {
		return 0, nil
	}
	fullRange := 2 * maxEntries
	if encoded > fullRange {
		if maxEntries == 0 {
			return 0, errNoDynamicTable
		}
		return 0, decodingError{fmt.Errorf("invalid encoded required insert count %d (max entries %d)", encoded, maxEntries)}
	}
	maxValue := totalInserts + maxEntries
	maxWrapped := (maxValue / fullRange) * fullRange
	ric := maxWrapped + encoded - 1
	if ric > maxValue {
		if ric <= fullRange {
			return 0, decodingError{fmt.Errorf("invalid encoded required insert count %d", encoded)}
		}
		ric -= fullRange
	}
	if ric == 0 {
		return 0, decodingError{errors.New("invalid encoded required insert count")}
	}
	return ric, nil
}
