package qpack

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

// maxTableCapacity bounds the configurable dynamic table capacity.
const maxTableCapacity = 1 << 30

// AcknowledgementMode determines when the encoder considers dynamic table
// insertions and field sections acknowledged by the peer's decoder.
type AcknowledgementMode uint8

const (
	// AcknowledgementNone means that insertions are speculative until they are
	// acknowledged using SectionAcknowledged or InsertCountIncrement.
	AcknowledgementNone AcknowledgementMode = iota
	// AcknowledgementImmediate means that every insertion and every field
	// section is acknowledged as soon as it is emitted.
	AcknowledgementImmediate
)

func (m AcknowledgementMode) String() string {
	switch m {
	case AcknowledgementNone:
		return "none"
	case AcknowledgementImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("unknown acknowledgement mode (%d)", uint8(m))
	}
}

// ParseAcknowledgementMode parses "none" or "immediate", ignoring case.
func ParseAcknowledgementMode(s string) (AcknowledgementMode, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return AcknowledgementNone, nil
	case "immediate":
		return AcknowledgementImmediate, nil
	default:
		return 0, fmt.Errorf("%w: unknown acknowledgement mode %q", ErrInvalidArgument, s)
	}
}

func (m AcknowledgementMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *AcknowledgementMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	mode, err := ParseAcknowledgementMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// EncoderConfig configures the dynamic table usage of an Encoder.
// The zero value disables the dynamic table.
type EncoderConfig struct {
	// MaxDynamicTableCapacity is the dynamic table capacity in bytes,
	// as permitted by the peer's SETTINGS_QPACK_MAX_TABLE_CAPACITY.
	MaxDynamicTableCapacity uint64 `json:"maxDynamicTableCapacity"`
	// MaxBlockedStreams is the number of streams that may be blocked on
	// unacknowledged insertions, as permitted by SETTINGS_QPACK_BLOCKED_STREAMS.
	MaxBlockedStreams uint64 `json:"maxBlockedStreams"`
	// AcknowledgementMode selects how insertions are acknowledged.
	AcknowledgementMode AcknowledgementMode `json:"acknowledgementMode"`
}

// Validate checks the configuration and reports every problem found.
func (c EncoderConfig) Validate() error {
	var err error
	if c.MaxDynamicTableCapacity > maxTableCapacity {
		err = multierr.Append(err, fmt.Errorf("%w: dynamic table capacity %d exceeds %d", ErrInvalidArgument, c.MaxDynamicTableCapacity, maxTableCapacity))
	}
	if c.AcknowledgementMode > AcknowledgementImmediate {
		err = multierr.Append(err, fmt.Errorf("%w: %s", ErrInvalidArgument, c.AcknowledgementMode))
	}
	return err
}

// maxEntries is the maximum number of entries the dynamic table can hold
// (RFC 9204, section 3.2.2).
func (c EncoderConfig) maxEntries() uint64 {
	return c.MaxDynamicTableCapacity / entryOverhead
}

// ParseEncoderConfig parses a YAML or JSON encoded EncoderConfig and validates it.
func ParseEncoderConfig(data []byte) (EncoderConfig, error) {
	var c EncoderConfig
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return EncoderConfig{}, fmt.Errorf("parsing encoder config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return EncoderConfig{}, err
	}
	return c, nil
}

// An EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithConfig sets the dynamic table configuration.
func WithConfig(c EncoderConfig) EncoderOption {
	return func(e *Encoder) { e.config = c }
}

// WithEncoderStream sets the writer that encoder instructions are written to.
// It corresponds to the QPACK encoder stream. By default, encoder instructions
// are discarded, which only makes sense if the dynamic table is disabled.
func WithEncoderStream(w io.Writer) EncoderOption {
	return func(e *Encoder) { e.encoderStream = w }
}

// WithHuffmanCodec sets the codec used to compress string literals.
func WithHuffmanCodec(h HuffmanCodec) EncoderOption {
	return func(e *Encoder) { e.huffman = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EncoderOption {
	return func(e *Encoder) { e.logger = l }
}

// WithMetrics makes the encoder report to m.
func WithMetrics(m *Metrics) EncoderOption {
	return func(e *Encoder) { e.metrics = m }
}
