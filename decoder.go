package qpack

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// A Decoder is the decoding context for incremental processing of
// header blocks.
//
// Encoder instructions received on the peer's encoder stream are passed to
// HandleEncoderInstructions, field sections to Decode.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	maxTableCapacity uint64
	table            *dynamicTable
	huffman          HuffmanCodec
	logger           *zap.Logger

	// incomplete encoder instruction
	pending []byte
}

// A DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxTableCapacity sets the maximum dynamic table capacity, as advertised
// in SETTINGS_QPACK_MAX_TABLE_CAPACITY. The default of 0 disables the dynamic table.
func WithMaxTableCapacity(c uint64) DecoderOption {
	return func(d *Decoder) { d.maxTableCapacity = c }
}

// WithDecoderHuffmanCodec sets the codec used to decompress string literals.
func WithDecoderHuffmanCodec(h HuffmanCodec) DecoderOption {
	return func(d *Decoder) { d.huffman = h }
}

// WithDecoderLogger sets the logger.
func WithDecoderLogger(l *zap.Logger) DecoderOption {
	return func(d *Decoder) { d.logger = l }
}

// NewDecoder returns a new Decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		huffman: DefaultHuffmanCodec(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	// The table starts with a capacity of 0, until the encoder sets it.
	d.table = newDynamicTable(0)
	return d
}

// InsertCount returns the number of dynamic table insertions received so far.
func (d *Decoder) InsertCount() uint64 { return d.table.insertCount() }

func (d *Decoder) maxEntries() uint64 { return d.maxTableCapacity / entryOverhead }

// HandleEncoderInstructions processes data received on the encoder stream.
// Instructions may be split across calls.
func (d *Decoder) HandleEncoderInstructions(p []byte) error {
	d.pending = append(d.pending, p...)
	for len(d.pending) > 0 {
		rest, err := d.parseEncoderInstruction(d.pending)
		if err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
		d.pending = rest
	}
	d.pending = nil
	return nil
}

func (d *Decoder) parseEncoderInstruction(p []byte) ([]byte, error) {
	b := p[0]
	switch {
	case b&0x80 > 0:
		// Insert with Name Reference: 1Txxxxxx
		idx, rest, err := readVarInt(6, p)
		if err != nil {
			return p, err
		}
		value, rest, err := readString(7, rest, d.huffman)
		if err != nil {
			return p, err
		}
		var name string
		if b&0x40 > 0 {
			if idx >= uint64(len(staticTableEntries)) {
				return p, invalidIndexError(idx)
			}
			name = staticTableEntries[idx].Name
		} else {
			hf, err := d.relativeToInsertCount(idx)
			if err != nil {
				return p, err
			}
			name = hf.Name
		}
		return rest, d.insert(HeaderField{Name: name, Value: value})
	case b&0x40 > 0:
		// Insert with Literal Name: 01Hxxxxx
		name, rest, err := readString(5, p, d.huffman)
		if err != nil {
			return p, err
		}
		value, rest, err := readString(7, rest, d.huffman)
		if err != nil {
			return p, err
		}
		return rest, d.insert(HeaderField{Name: name, Value: value})
	case b&0x20 > 0:
		// Set Dynamic Table Capacity: 001xxxxx
		capacity, rest, err := readVarInt(5, p)
		if err != nil {
			return p, err
		}
		if capacity > d.maxTableCapacity {
			return p, decodingError{fmt.Errorf("dynamic table capacity %d exceeds maximum %d", capacity, d.maxTableCapacity)}
		}
		if err := d.table.setCapacity(capacity, d.table.insertCount()); err != nil {
			return p, decodingError{err}
		}
		d.logger.Debug("dynamic table capacity set", zap.Uint64("capacity", capacity))
		return rest, nil
	default:
		// Duplicate: 000xxxxx
		idx, rest, err := readVarInt(5, p)
		if err != nil {
			return p, err
		}
		hf, err := d.relativeToInsertCount(idx)
		if err != nil {
			return p, err
		}
		return rest, d.insert(hf)
	}
}

// relativeToInsertCount resolves a relative index used on the encoder
// stream, where 0 refers to the most recent insertion.
func (d *Decoder) relativeToInsertCount(rel uint64) (HeaderField, error) {
	if d.maxTableCapacity == 0 {
		return HeaderField{}, errNoDynamicTable
	}
	abs, err := d.table.relativeToAbsolute(rel, d.table.insertCount())
	if err != nil {
		return HeaderField{}, decodingError{err}
	}
	return d.table.get(abs)
}

func (d *Decoder) insert(hf HeaderField) error {
	if d.maxTableCapacity == 0 {
		return errNoDynamicTable
	}
	if err := d.table.insert(hf); err != nil {
		return decodingError{err}
	}
	d.logger.Debug("inserted into dynamic table",
		zap.String("name", hf.Name),
		zap.Uint64("index", d.table.insertCount()-1),
	)
	return nil
}

// Decode returns a function that decodes the header fields of the field
// section p, one at a time. It returns io.EOF after the last field.
// If the field section references insertions that haven't been received
// yet, it returns ErrBlocked. The same function can be called again after
// passing more encoder instructions to HandleEncoderInstructions.
func (d *Decoder) Decode(p []byte) func() (HeaderField, error) {
	var (
		parsedPrefix        bool
		requiredInsertCount uint64
		base                uint64
	)
	return func() (HeaderField, error) {
		if !parsedPrefix {
			ric, b, rest, err := readFieldSectionPrefix(p, d.maxEntries(), d.table.insertCount())
			if err != nil {
				return HeaderField{}, err
			}
			if ric > d.table.insertCount() {
				return HeaderField{}, ErrBlocked
			}
			requiredInsertCount, base, p = ric, b, rest
			parsedPrefix = true
		}
		if len(p) == 0 {
			return HeaderField{}, io.EOF
		}
		hf, rest, err := d.parseFieldLine(p, requiredInsertCount, base)
		if err != nil {
			return HeaderField{}, err
		}
		p = rest
		return hf, nil
	}
}

func (d *Decoder) parseFieldLine(p []byte, requiredInsertCount, base uint64) (HeaderField, []byte, error) {
	b := p[0]
	switch {
	case b&0x80 > 0:
		return d.parseIndexedFieldLine(p, requiredInsertCount, base)
	case b&0xc0 == 0x40:
		return d.parseLiteralFieldLineWithNameReference(p, requiredInsertCount, base)
	case b&0xe0 == 0x20:
		return d.parseLiteralFieldLineWithLiteralName(p)
	case b&0xf0 == 0x10:
		return d.parseIndexedFieldLineWithPostBaseIndex(p, requiredInsertCount, base)
	default:
		return d.parseLiteralFieldLineWithPostBaseNameReference(p, requiredInsertCount, base)
	}
}

// 1Txxxxxx
func (d *Decoder) parseIndexedFieldLine(p []byte, requiredInsertCount, base uint64) (HeaderField, []byte, error) {
	static := p[0]&0x40 > 0
	if !static && d.maxTableCapacity == 0 {
		return HeaderField{}, p, errNoDynamicTable
	}
	index, rest, err := readVarInt(6, p)
	if err != nil {
		return HeaderField{}, p, err
	}
	if static {
		hf, ok := d.at(index)
		if !ok {
			return HeaderField{}, p, invalidIndexError(index)
		}
		return hf, rest, nil
	}
	hf, err := d.dynamicRelative(index, requiredInsertCount, base)
	if err != nil {
		return HeaderField{}, p, err
	}
	return hf, rest, nil
}

// 0001xxxx
func (d *Decoder) parseIndexedFieldLineWithPostBaseIndex(p []byte, requiredInsertCount, base uint64) (HeaderField, []byte, error) {
	if d.maxTableCapacity == 0 {
		return HeaderField{}, p, errNoDynamicTable
	}
	index, rest, err := readVarInt(4, p)
	if err != nil {
		return HeaderField{}, p, err
	}
	hf, err := d.dynamicPostBase(index, requiredInsertCount, base)
	if err != nil {
		return HeaderField{}, p, err
	}
	return hf, rest, nil
}

// 01NTxxxx
func (d *Decoder) parseLiteralFieldLineWithNameReference(p []byte, requiredInsertCount, base uint64) (HeaderField, []byte, error) {
	static := p[0]&0x10 > 0
	if !static && d.maxTableCapacity == 0 {
		return HeaderField{}, p, errNoDynamicTable
	}
	index, rest, err := readVarInt(4, p)
	if err != nil {
		return HeaderField{}, p, err
	}
	var hf HeaderField
	if static {
		var ok bool
		hf, ok = d.at(index)
		if !ok {
			return HeaderField{}, p, invalidIndexError(index)
		}
	} else {
		hf, err = d.dynamicRelative(index, requiredInsertCount, base)
		if err != nil {
			return HeaderField{}, p, err
		}
	}
	hf.Value, rest, err = readString(7, rest, d.huffman)
	if err != nil {
		return HeaderField{}, p, err
	}
	return hf, rest, nil
}

// 0000Nxxx
func (d *Decoder) parseLiteralFieldLineWithPostBaseNameReference(p []byte, requiredInsertCount, base uint64) (HeaderField, []byte, error) {
	if d.maxTableCapacity == 0 {
		return HeaderField{}, p, errNoDynamicTable
	}
	index, rest, err := readVarInt(3, p)
	if err != nil {
		return HeaderField{}, p, err
	}
	hf, err := d.dynamicPostBase(index, requiredInsertCount, base)
	if err != nil {
		return HeaderField{}, p, err
	}
	hf.Value, rest, err = readString(7, rest, d.huffman)
	if err != nil {
		return HeaderField{}, p, err
	}
	return hf, rest, nil
}

// 001NHxxx
func (d *Decoder) parseLiteralFieldLineWithLiteralName(p []byte) (HeaderField, []byte, error) {
	name, rest, err := readString(3, p, d.huffman)
	if err != nil {
		return HeaderField{}, p, err
	}
	value, rest, err := readString(7, rest, d.huffman)
	if err != nil {
		return HeaderField{}, p, err
	}
	return HeaderField{Name: name, Value: value}, rest, nil
}

func (d *Decoder) dynamicRelative(rel, requiredInsertCount, base uint64) (HeaderField, error) {
	abs, err := d.table.relativeToAbsolute(rel, base)
	if err != nil {
		return HeaderField{}, decodingError{err}
	}
	return d.dynamicAt(abs, requiredInsertCount)
}

func (d *Decoder) dynamicPostBase(pb, requiredInsertCount, base uint64) (HeaderField, error) {
	abs, err := d.table.postBaseToAbsolute(pb, base)
	if err != nil {
		return HeaderField{}, decodingError{err}
	}
	return d.dynamicAt(abs, requiredInsertCount)
}

func (d *Decoder) dynamicAt(abs, requiredInsertCount uint64) (HeaderField, error) {
	if abs >= requiredInsertCount {
		return HeaderField{}, decodingError{fmt.Errorf("reference to entry %d, required insert count is %d", abs, requiredInsertCount)}
	}
	hf, err := d.table.get(abs)
	if err != nil {
		return HeaderField{}, decodingError{err}
	}
	return hf, nil
}

func (d *Decoder) at(i uint64) (hf HeaderField, ok bool) {
	if i >= uint64(len(staticTableEntries)) {
		return
	}
	return staticTableEntries[i], true
}
