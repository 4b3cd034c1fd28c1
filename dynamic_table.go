package qpack

import (
	"fmt"
	"slices"
)

// dynamicTable holds the entries of the QPACK dynamic table.
//
// Every inserted entry is assigned an absolute index, starting at 0 for the
// first insertion. Absolute indices are never reused. Entries are evicted from
// the oldest end, so the live entries always occupy the contiguous range of
// absolute indices [dropped, insertCount).
type dynamicTable struct {
	// entries in insertion order; entries[i] has the absolute index dropped+i
	entries  []HeaderField
	dropped  uint64
	size     uint64
	capacity uint64
}

func newDynamicTable(capacity uint64) *dynamicTable {
	return &dynamicTable{capacity: capacity}
}

// insertCount is the total number of insertions, i.e. the absolute index
// of the next insertion.
func (t *dynamicTable) insertCount() uint64 { return t.dropped + uint64(len(t.entries)) }

func (t *dynamicTable) numEntries() int { return len(t.entries) }

// findExact returns the absolute index of the most recently inserted entry
// matching hf. Only entries with an absolute index below limit are considered.
func (t *dynamicTable) findExact(hf HeaderField, limit uint64) (uint64, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		abs := t.dropped + uint64(i)
		if abs >= limit {
			continue
		}
		if t.entries[i] == hf {
			return abs, true
		}
	}
	return 0, false
}

// findName returns the absolute index of the most recently inserted entry
// with the given name. Only entries with an absolute index below limit are
// considered.
func (t *dynamicTable) findName(name string, limit uint64) (uint64, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		abs := t.dropped + uint64(i)
		if abs >= limit {
			continue
		}
		if t.entries[i].Name == name {
			return abs, true
		}
	}
	return 0, false
}

// tryInsert inserts hf, evicting the oldest entries as necessary.
// Entries with an absolute index >= pinned are never evicted.
// If hf doesn't fit, the table is left unmodified.
func (t *dynamicTable) tryInsert(hf HeaderField, pinned uint64) (uint64, bool) {
	n, ok := t.evictionsFor(hf.Size(), pinned)
	if !ok {
		return 0, false
	}
	t.evict(n)
	return t.push(hf), true
}

// canInsert reports whether tryInsert would succeed.
func (t *dynamicTable) canInsert(hf HeaderField, pinned uint64) bool {
	_, ok := t.evictionsFor(hf.Size(), pinned)
	return ok
}

// insert inserts hf, evicting as many entries as necessary.
// It is used by the decoder, which has to follow the encoder's instructions.
func (t *dynamicTable) insert(hf HeaderField) error {
	size := hf.Size()
	if size > t.capacity {
		return fmt.Errorf("entry of size %d exceeds dynamic table capacity %d", size, t.capacity)
	}
	n, _ := t.evictionsFor(size, t.insertCount())
	t.evict(n)
	t.push(hf)
	return nil
}

// evictionsFor returns the number of entries that need to be evicted to make
// room for an entry of the given size.
func (t *dynamicTable) evictionsFor(size, pinned uint64) (int, bool) {
	if size > t.capacity {
		return 0, false
	}
	var n int
	used := t.size
	for used+size > t.capacity {
		if n == len(t.entries) || t.dropped+uint64(n) >= pinned {
			return 0, false
		}
		used -= t.entries[n].Size()
		n++
	}
	return n, true
}

func (t *dynamicTable) push(hf HeaderField) uint64 {
	t.entries = append(t.entries, hf)
	t.size += hf.Size()
	return t.insertCount() - 1
}

func (t *dynamicTable) evict(n int) {
	if n == 0 {
		return
	}
	for _, hf := range t.entries[:n] {
		t.size -= hf.Size()
	}
	t.entries = slices.Delete(t.entries, 0, n)
	t.dropped += uint64(n)
}

// setCapacity changes the capacity of the table, evicting entries that don't
// fit any more. Entries with an absolute index >= pinned are never evicted.
func (t *dynamicTable) setCapacity(capacity, pinned uint64) error {
	var n int
	used := t.size
	for used > capacity {
		if t.dropped+uint64(n) >= pinned {
			return fmt.Errorf("%w: can't evict pinned entry %d", ErrInvalidArgument, t.dropped+uint64(n))
		}
		used -= t.entries[n].Size()
		n++
	}
	t.evict(n)
	t.capacity = capacity
	return nil
}

func (t *dynamicTable) isLive(abs uint64) bool {
	return abs >= t.dropped && abs < t.insertCount()
}

// get returns the entry with absolute index abs.
func (t *dynamicTable) get(abs uint64) (HeaderField, error) {
	if !t.isLive(abs) {
		return HeaderField{}, fmt.Errorf("%w: absolute index %d not in [%d, %d)", ErrIndexOutOfRange, abs, t.dropped, t.insertCount())
	}
	return t.entries[abs-t.dropped], nil
}

// relativeToAbsolute converts a relative index to an absolute index.
func (t *dynamicTable) relativeToAbsolute(rel, base uint64) (uint64, error) {
	if rel >= base {
		return 0, fmt.Errorf("%w: relative index %d with base %d", ErrIndexOutOfRange, rel, base)
	}
	abs := base - 1 - rel
	if !t.isLive(abs) {
		return 0, fmt.Errorf("%w: relative index %d (absolute %d) not in table", ErrIndexOutOfRange, rel, abs)
	}
	return abs, nil
}

// postBaseToAbsolute converts a post-base index to an absolute index.
func (t *dynamicTable) postBaseToAbsolute(pb, base uint64) (uint64, error) {
	abs := base + pb
	if abs < base || !t.isLive(abs) {
		return 0, fmt.Errorf("%w: post-base index %d with base %d not in table", ErrIndexOutOfRange, pb, base)
	}
	return abs, nil
}

// absoluteToRelative converts an absolute index to a relative index.
// Only entries inserted before base can be addressed this way.
func (t *dynamicTable) absoluteToRelative(abs, base uint64) (uint64, error) {
	if abs >= base || !t.isLive(abs) {
		return 0, fmt.Errorf("%w: absolute index %d has no relative index for base %d", ErrIndexOutOfRange, abs, base)
	}
	return base - 1 - abs, nil
}

// absoluteToPostBase converts an absolute index to a post-base index.
// Only entries inserted at or after base can be addressed this way.
func (t *dynamicTable) absoluteToPostBase(abs, base uint64) (uint64, error) {
	if abs < base || !t.isLive(abs) {
		return 0, fmt.Errorf("%w: absolute index %d has no post-base index for base %d", ErrIndexOutOfRange, abs, base)
	}
	return abs - base, nil
}
