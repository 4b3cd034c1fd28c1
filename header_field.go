package qpack

// entryOverhead is the per-entry overhead counted against the
// dynamic table capacity (RFC 9204, section 3.2.1).
const entryOverhead = 32

// A HeaderField is a name-value pair. Both the name and value are
// treated as opaque sequences of octets.
type HeaderField struct {
	Name  string
	Value string
}

// IsPseudo reports whether the header field is an HTTP3 pseudo header.
// That is, it reports whether it starts with a colon.
// It is not otherwise guaranteed to be a valid pseudo header field,
// though.
func (hf HeaderField) IsPseudo() bool {
	return len(hf.Name) != 0 && hf.Name[0] == ':'
}

// Size returns the number of bytes the field occupies in the dynamic table.
func (hf HeaderField) Size() uint64 {
	return uint64(len(hf.Name)+len(hf.Value)) + entryOverhead
}
