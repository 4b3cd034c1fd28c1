package qpack

import (
	"fmt"
	"io"
	"math"
	"sync"

	"go.uber.org/zap"
)

// defaultStreamID is the stream that field sections written using
// WriteField and Close are accounted to.
const defaultStreamID = 0

// An Encoder performs QPACK encoding.
//
// It owns the dynamic table of one direction of a QUIC connection.
// Field sections are encoded one at a time; dynamic table insertions are
// written to the encoder stream (see WithEncoderStream) before the field
// section that references them is returned.
type Encoder struct {
	mu sync.Mutex

	config        EncoderConfig
	configErr     error
	encoderStream io.Writer
	huffman       HuffmanCodec
	logger        *zap.Logger
	metrics       *Metrics

	table         *dynamicTable
	blocking      *blockingTracker
	wroteCapacity bool
	instructions  []byte

	// fields buffered by WriteField
	fields []HeaderField
	w      io.Writer
}

// NewEncoder returns a new Encoder which performs QPACK encoding. An
// encoded data is written to w.
// Without options, the dynamic table is disabled.
func NewEncoder(w io.Writer, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		w:             w,
		encoderStream: io.Discard,
		huffman:       DefaultHuffmanCodec(),
		logger:        zap.NewNop(),
		blocking:      newBlockingTracker(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.configErr = e.config.Validate()
	capacity := e.config.MaxDynamicTableCapacity
	if e.configErr != nil {
		capacity = 0
	}
	e.table = newDynamicTable(capacity)
	return e
}

// sectionState is the state of the field section that is currently encoded.
type sectionState struct {
	streamID uint64
	base     uint64
	// Entries with an absolute index >= limit must not be referenced.
	limit               uint64
	restricted          bool
	requiredInsertCount uint64
	minReference        uint64
	lines               []byte
}

func (s *sectionState) reference(abs uint64) {
	s.requiredInsertCount = max(s.requiredInsertCount, abs+1)
	s.minReference = min(s.minReference, abs)
}

// nameReference is the table entry a literal or an insertion refers to for
// its name.
type nameReference struct {
	static  bool
	dynamic bool
	index   uint64
}

// WriteField adds f to the current field section.
// Fields are buffered: nothing is written to e's underlying Writer before
// Close is called, since the representation of a field depends on the
// dynamic table state when the whole section is encoded.
func (e *Encoder) WriteField(f HeaderField) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.configErr != nil {
		return e.configErr
	}
	e.fields = append(e.fields, f)
	return nil
}

// Close declares that the encoding is complete and resets the Encoder
// to be reused again for a new header block.
// It writes the field section consisting of all fields passed to WriteField
// into a single Write to e's underlying Writer.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.fields) == 0 {
		return nil
	}
	fields := e.fields
	e.fields = e.fields[:0]
	prefix, lines, err := e.encodeFieldSection(defaultStreamID, fields)
	if err != nil {
		return err
	}
	_, err = e.w.Write(append(prefix, lines...))
	return err
}

// EncodeFieldSection encodes fields as a single field section sent on the
// given stream. It returns the Encoded Field Section Prefix and the encoded
// field lines. Dynamic table insertions are written to the encoder stream
// before EncodeFieldSection returns.
func (e *Encoder) EncodeFieldSection(streamID uint64, fields []HeaderField) (prefix, fieldLines []byte, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.encodeFieldSection(streamID, fields)
}

func (e *Encoder) encodeFieldSection(streamID uint64, fields []HeaderField) ([]byte, []byte, error) {
	if e.configErr != nil {
		return nil, nil, e.configErr
	}
	if e.table.capacity > 0 && !e.wroteCapacity {
		e.writeSetCapacity(e.table.capacity)
	}

	s := &sectionState{
		streamID:     streamID,
		base:         e.table.insertCount(),
		limit:        math.MaxUint64,
		minReference: math.MaxUint64,
	}
	if e.config.AcknowledgementMode == AcknowledgementNone &&
		!e.blocking.streamIsBlocking(streamID) &&
		uint64(e.blocking.blockedStreams()) >= e.config.MaxBlockedStreams {
		s.limit = e.blocking.knownReceivedCount
		s.restricted = true
		e.logger.Debug("blocked streams limit reached, only referencing acknowledged entries",
			zap.Uint64("stream", streamID),
			zap.Uint64("knownReceivedCount", s.limit),
		)
	}

	for _, hf := range fields {
		e.encodeField(s, hf)
	}

	prefix := appendFieldSectionPrefix(nil, s.requiredInsertCount, s.base, e.config.maxEntries())
	if err := e.flushInstructions(); err != nil {
		return nil, nil, err
	}
	if s.requiredInsertCount > 0 && e.config.AcknowledgementMode == AcknowledgementNone {
		e.blocking.add(streamID, outstandingSection{
			requiredInsertCount: s.requiredInsertCount,
			minReference:        s.minReference,
		})
	}
	e.metrics.sectionDone(e.table.size, e.blocking.blockedStreams(), s.restricted)
	return prefix, s.lines, nil
}

// encodeField selects the representation for hf and appends the field line.
func (e *Encoder) encodeField(s *sectionState, hf HeaderField) {
	staticIdx, exact, staticName := staticLookup(hf)
	if exact {
		e.writeIndexedStatic(s, staticIdx)
		return
	}
	if abs, ok := e.table.findExact(hf, s.limit); ok {
		e.writeIndexedDynamic(s, abs)
		return
	}

	var ref nameReference
	if staticName {
		ref = nameReference{static: true, index: staticIdx}
	} else if abs, ok := e.table.findName(hf.Name, s.limit); ok {
		ref = nameReference{dynamic: true, index: abs}
	}
	// Don't insert a second copy of an entry we're not allowed to reference yet.
	if s.restricted {
		if _, ok := e.table.findExact(hf, math.MaxUint64); ok {
			e.writeLiteral(s, hf, ref)
			return
		}
	}
	if abs, ok := e.insert(s, hf, ref); ok {
		if abs < s.limit {
			e.writeIndexedDynamic(s, abs)
			return
		}
		// The insertion might have evicted the entry we use for the name.
		if ref.dynamic && !e.table.isLive(ref.index) {
			ref = nameReference{}
		}
	}
	e.writeLiteral(s, hf, ref)
}

// insert inserts hf into the dynamic table and writes the insert instruction.
func (e *Encoder) insert(s *sectionState, hf HeaderField, ref nameReference) (uint64, bool) {
	if e.table.capacity == 0 {
		return 0, false
	}
	pinned := min(e.blocking.pinned(), s.minReference)
	// The entry used as name reference must survive the insertion.
	if ref.dynamic && !e.table.canInsert(hf, min(pinned, ref.index)) {
		ref = nameReference{}
	}
	insertCount := e.table.insertCount()
	dropped := e.table.dropped
	abs, ok := e.table.tryInsert(hf, pinned)
	if !ok {
		e.logger.Debug("field doesn't fit into the dynamic table",
			zap.String("name", hf.Name),
			zap.Uint64("size", hf.Size()),
			zap.Uint64("used", e.table.size),
		)
		return 0, false
	}
	evicted := int(e.table.dropped - dropped)
	switch {
	case ref.static:
		e.writeInsertWithNameReference(true, ref.index, hf.Value)
	case ref.dynamic:
		e.writeInsertWithNameReference(false, insertCount-1-ref.index, hf.Value)
	default:
		e.writeInsertWithLiteralName(hf)
	}
	if e.config.AcknowledgementMode == AcknowledgementImmediate {
		e.blocking.knownReceivedCount = e.table.insertCount()
	}
	e.metrics.inserted(evicted)
	e.logger.Debug("inserted into dynamic table",
		zap.String("name", hf.Name),
		zap.Uint64("index", abs),
		zap.Int("evicted", evicted),
	)
	return abs, true
}

// Encodes an indexed field, meaning it's entirely defined in the static table.
func (e *Encoder) writeIndexedStatic(s *sectionState, idx uint64) {
	offset := len(s.lines)
	s.lines = appendVarInt(s.lines, 6, idx)
	// Set the 1Txxxxxx pattern, forcing T to 1
	s.lines[offset] |= 0xc0
	e.metrics.fieldLine(reprStaticIndexed)
}

// Encodes an indexed field referring to the dynamic table.
func (e *Encoder) writeIndexedDynamic(s *sectionState, abs uint64) {
	s.reference(abs)
	offset := len(s.lines)
	if abs < s.base {
		rel := e.mustRelative(abs, s.base)
		s.lines = appendVarInt(s.lines, 6, rel)
		// 1Txxxxxx with T = 0
		s.lines[offset] |= 0x80
	} else {
		pb := e.mustPostBase(abs, s.base)
		// 0001xxxx
		s.lines = appendVarInt(s.lines, 4, pb)
		s.lines[offset] |= 0x10
	}
	e.metrics.fieldLine(reprDynamicIndexed)
}

// Encodes a literal field line, using a name reference if available.
// The N bit is never set.
func (e *Encoder) writeLiteral(s *sectionState, hf HeaderField, ref nameReference) {
	offset := len(s.lines)
	switch {
	case ref.static:
		s.lines = appendVarInt(s.lines, 4, ref.index)
		// Set the 01NTxxxx pattern, forcing N to 0 and T to 1
		s.lines[offset] |= 0x50
		e.metrics.fieldLine(reprStaticNameRef)
	case ref.dynamic:
		s.reference(ref.index)
		if ref.index < s.base {
			s.lines = appendVarInt(s.lines, 4, e.mustRelative(ref.index, s.base))
			// 01NTxxxx with N = 0 and T = 0
			s.lines[offset] |= 0x40
		} else {
			// 0000Nxxx with N = 0
			s.lines = appendVarInt(s.lines, 3, e.mustPostBase(ref.index, s.base))
		}
		e.metrics.fieldLine(reprDynamicNameRef)
	default:
		// 001NHxxx with N = 0
		s.lines = appendString(s.lines, 0x20, 3, hf.Name, e.huffman)
		e.metrics.fieldLine(reprLiteral)
	}
	s.lines = appendString(s.lines, 0, 7, hf.Value, e.huffman)
}

func (e *Encoder) mustRelative(abs, base uint64) uint64 {
	rel, err := e.table.absoluteToRelative(abs, base)
	if err != nil {
		panic(fmt.Sprintf("qpack: BUG: %v", err))
	}
	return rel
}

func (e *Encoder) mustPostBase(abs, base uint64) uint64 {
	pb, err := e.table.absoluteToPostBase(abs, base)
	if err != nil {
		panic(fmt.Sprintf("qpack: BUG: %v", err))
	}
	return pb
}

// Encoder instructions (RFC 9204, section 4.3)

func (e *Encoder) writeSetCapacity(capacity uint64) {
	offset := len(e.instructions)
	// 001xxxxx
	e.instructions = appendVarInt(e.instructions, 5, capacity)
	e.instructions[offset] |= 0x20
	e.wroteCapacity = true
	e.logger.Debug("setting dynamic table capacity", zap.Uint64("capacity", capacity))
}

func (e *Encoder) writeInsertWithNameReference(static bool, idx uint64, value string) {
	offset := len(e.instructions)
	// 1Txxxxxx
	e.instructions = appendVarInt(e.instructions, 6, idx)
	e.instructions[offset] |= 0x80
	if static {
		e.instructions[offset] |= 0x40
	}
	e.instructions = appendString(e.instructions, 0, 7, value, e.huffman)
}

func (e *Encoder) writeInsertWithLiteralName(hf HeaderField) {
	// 01Hxxxxx
	e.instructions = appendString(e.instructions, 0x40, 5, hf.Name, e.huffman)
	e.instructions = appendString(e.instructions, 0, 7, hf.Value, e.huffman)
}

func (e *Encoder) flushInstructions() error {
	if len(e.instructions) == 0 {
		return nil
	}
	_, err := e.encoderStream.Write(e.instructions)
	e.instructions = e.instructions[:0]
	return err
}

// SectionAcknowledged processes a Section Acknowledgment for the oldest
// unacknowledged field section sent on the stream.
// It is a no-op if the encoder uses AcknowledgementImmediate.
func (e *Encoder) SectionAcknowledged(streamID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.AcknowledgementMode == AcknowledgementImmediate {
		return nil
	}
	return e.blocking.acknowledge(streamID)
}

// StreamCancelled processes a Stream Cancellation.
// All unacknowledged field sections of the stream are dropped.
// It is a no-op if the encoder uses AcknowledgementImmediate.
func (e *Encoder) StreamCancelled(streamID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.AcknowledgementMode == AcknowledgementImmediate {
		return nil
	}
	return e.blocking.cancel(streamID)
}

// InsertCountIncrement processes an Insert Count Increment of n.
// It is a no-op if the encoder uses AcknowledgementImmediate.
func (e *Encoder) InsertCountIncrement(n uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.AcknowledgementMode == AcknowledgementImmediate {
		return nil
	}
	return e.blocking.increment(n, e.table.insertCount())
}

// InsertCount returns the number of insertions into the dynamic table.
func (e *Encoder) InsertCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.insertCount()
}

// KnownReceivedCount returns the number of insertions acknowledged by the peer.
func (e *Encoder) KnownReceivedCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocking.knownReceivedCount
}

// BlockedStreams returns the number of streams that might be blocked at the
// peer's decoder.
func (e *Encoder) BlockedStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocking.blockedStreams()
}
