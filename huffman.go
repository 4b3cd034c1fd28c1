package qpack

import "golang.org/x/net/http2/hpack"

// A HuffmanCodec compresses string literals with the static Huffman code
// of RFC 7541, Appendix B.
type HuffmanCodec interface {
	// AppendEncoded appends the Huffman encoding of s to dst.
	AppendEncoded(dst []byte, s string) []byte
	// EncodedLength returns the number of bytes AppendEncoded appends for s.
	EncodedLength(s string) uint64
	// Decode decodes a Huffman encoded string literal, including its padding.
	Decode(p []byte) (string, error)
}

// hpackHuffman uses the Huffman implementation of the HTTP/2 HPACK package.
type hpackHuffman struct{}

var _ HuffmanCodec = hpackHuffman{}

func (hpackHuffman) AppendEncoded(dst []byte, s string) []byte {
	return hpack.AppendHuffmanString(dst, s)
}

func (hpackHuffman) EncodedLength(s string) uint64 {
	return hpack.HuffmanEncodeLength(s)
}

func (hpackHuffman) Decode(p []byte) (string, error) {
	return hpack.HuffmanDecodeToString(p)
}

// DefaultHuffmanCodec returns the HuffmanCodec used by encoders and decoders
// unless configured otherwise.
func DefaultHuffmanCodec() HuffmanCodec { return hpackHuffman{} }
