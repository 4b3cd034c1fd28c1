// Package qif reads QPACK Interop Format (QIF) files and the encoded files
// of the QPACK offline interop.
//
// See https://github.com/quicwg/base-drafts/wiki/QPACK-Offline-Interop.
package qif

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marcreichelt/qpack"
)

// MaxBlockLen is the maximum length of a block in an encoded file.
const MaxBlockLen = 1 << 20

// EncoderStreamID is the stream ID used for encoder instructions in encoded files.
const EncoderStreamID = 0

// Parse reads a QIF file.
// Every header set is a sequence of lines of the form "name<whitespace>value",
// header sets are separated by blank lines. Lines starting with '#' are comments.
func Parse(r io.Reader) ([][]qpack.HeaderField, error) {
	var (
		sets    [][]qpack.HeaderField
		current []qpack.HeaderField
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxBlockLen)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				sets = append(sets, current)
				current = nil
			}
			continue
		}
		current = append(current, parseLine(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading QIF: %w", err)
	}
	if len(current) > 0 {
		sets = append(sets, current)
	}
	return sets, nil
}

// parseLine splits a line at the first run of tabs and spaces.
func parseLine(line string) qpack.HeaderField {
	i := strings.IndexAny(line, "\t ")
	if i < 0 {
		return qpack.HeaderField{Name: line}
	}
	return qpack.HeaderField{
		Name:  line[:i],
		Value: strings.TrimLeft(line[i:], "\t "),
	}
}

// A Block is a chunk of data sent on a stream.
type Block struct {
	StreamID uint64
	Data     []byte
}

// WriteBlock writes a block: the stream ID as a 64 bit and the length as a
// 32 bit big endian integer, followed by the data.
func WriteBlock(w io.Writer, b Block) error {
	if len(b.Data) > MaxBlockLen {
		return fmt.Errorf("block of %d bytes exceeds maximum of %d", len(b.Data), MaxBlockLen)
	}
	hdr := make([]byte, 12, 12+len(b.Data))
	binary.BigEndian.PutUint64(hdr[:8], b.StreamID)
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(b.Data)))
	_, err := w.Write(append(hdr, b.Data...))
	return err
}

// ReadBlock reads a block written by WriteBlock.
// It returns io.EOF if r is at the end of the file.
func ReadBlock(r io.Reader) (Block, error) {
	prefix := make([]byte, 12)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.EOF) {
			return Block{}, io.EOF
		}
		return Block{}, fmt.Errorf("insufficient data for prefix: %w", err)
	}
	streamID := binary.BigEndian.Uint64(prefix[:8])
	length := binary.BigEndian.Uint32(prefix[8:12])
	if length > MaxBlockLen {
		return Block{}, fmt.Errorf("block of %d bytes exceeds maximum of %d", length, MaxBlockLen)
	}
	data := make([]byte, int(length))
	if _, err := io.ReadFull(r, data); err != nil {
		return Block{}, fmt.Errorf("incomplete data: %w", io.ErrUnexpectedEOF)
	}
	return Block{StreamID: streamID, Data: data}, nil
}
