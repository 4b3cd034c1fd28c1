package qif

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/samber/lo"

	"github.com/marcreichelt/qpack"
)

// Encode encodes every header set as a field section on its own stream,
// starting at stream 1, and writes the blocks to w. Encoder instructions are
// written on EncoderStreamID, before the field section that needs them.
// If ackImmediately is set, every field section is acknowledged right after
// it was written.
func Encode(w io.Writer, sets [][]qpack.HeaderField, ackImmediately bool, opts ...qpack.EncoderOption) error {
	var encoderStream bytes.Buffer
	enc := qpack.NewEncoder(io.Discard, append(slices.Clone(opts), qpack.WithEncoderStream(&encoderStream))...)
	for i, hfs := range sets {
		streamID := uint64(i + 1)
		prefix, lines, err := enc.EncodeFieldSection(streamID, hfs)
		if err != nil {
			return fmt.Errorf("encoding header set %d: %w", i, err)
		}
		if encoderStream.Len() > 0 {
			if err := WriteBlock(w, Block{StreamID: EncoderStreamID, Data: encoderStream.Bytes()}); err != nil {
				return err
			}
			encoderStream.Reset()
		}
		if err := WriteBlock(w, Block{StreamID: streamID, Data: append(prefix, lines...)}); err != nil {
			return err
		}
		if ackImmediately {
			// Sections that don't reference the dynamic table aren't tracked.
			if err := enc.SectionAcknowledged(streamID); err != nil && !errors.Is(err, qpack.ErrUnknownStream) {
				return err
			}
		}
	}
	return nil
}

// Decode reads blocks written by Encode and decodes them.
// Field sections that are blocked on encoder instructions are decoded as soon
// as the instructions arrive. It returns the header sets ordered by stream ID.
func Decode(r io.Reader, opts ...qpack.DecoderOption) ([][]qpack.HeaderField, error) {
	dec := qpack.NewDecoder(opts...)
	decoded := make(map[uint64][]qpack.HeaderField)
	var blocked []Block
	for {
		b, err := ReadBlock(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if b.StreamID == EncoderStreamID {
			if err := dec.HandleEncoderInstructions(b.Data); err != nil {
				return nil, fmt.Errorf("handling encoder instructions: %w", err)
			}
			blocked, err = decodeBlocks(dec, blocked, decoded)
			if err != nil {
				return nil, err
			}
			continue
		}
		blocked, err = decodeBlocks(dec, append(blocked, b), decoded)
		if err != nil {
			return nil, err
		}
	}
	if len(blocked) > 0 {
		return nil, fmt.Errorf("%d field sections still blocked: %w", len(blocked), qpack.ErrBlocked)
	}
	streamIDs := lo.Keys(decoded)
	slices.Sort(streamIDs)
	return lo.Map(streamIDs, func(id uint64, _ int) []qpack.HeaderField { return decoded[id] }), nil
}

// decodeBlocks decodes all blocks that aren't blocked, and returns the others.
func decodeBlocks(dec *qpack.Decoder, blocks []Block, decoded map[uint64][]qpack.HeaderField) ([]Block, error) {
	var stillBlocked []Block
	for _, b := range blocks {
		hfs, err := DecodeFieldSection(dec, b.Data)
		if errors.Is(err, qpack.ErrBlocked) {
			stillBlocked = append(stillBlocked, b)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("decoding stream %d: %w", b.StreamID, err)
		}
		decoded[b.StreamID] = hfs
	}
	return stillBlocked, nil
}

// DecodeFieldSection decodes all header fields of a field section.
func DecodeFieldSection(dec *qpack.Decoder, data []byte) ([]qpack.HeaderField, error) {
	decode := dec.Decode(data)
	hfs := []qpack.HeaderField{}
	for {
		hf, err := decode()
		if err == io.EOF {
			return hfs, nil
		}
		if err != nil {
			return nil, err
		}
		hfs = append(hfs, hf)
	}
}
