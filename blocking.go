package qpack

import (
	"fmt"
	"math"

	"github.com/samber/lo"
)

// An outstandingSection is a field section that references the dynamic table
// and hasn't been acknowledged by the peer yet.
type outstandingSection struct {
	requiredInsertCount uint64
	// smallest absolute index referenced by the section
	minReference uint64
}

// blockingTracker keeps track of unacknowledged field sections.
// It is used to limit the number of blocked streams, and to prevent the
// eviction of entries that unacknowledged field sections refer to.
type blockingTracker struct {
	// outstanding sections by stream ID, oldest first
	sections map[uint64][]outstandingSection
	// knownReceivedCount is the number of insertions acknowledged by the peer.
	knownReceivedCount uint64
}

func newBlockingTracker() *blockingTracker {
	return &blockingTracker{sections: make(map[uint64][]outstandingSection)}
}

func (b *blockingTracker) isBlocking(sections []outstandingSection) bool {
	return lo.SomeBy(sections, func(s outstandingSection) bool {
		return s.requiredInsertCount > b.knownReceivedCount
	})
}

// streamIsBlocking says if the stream might be blocked at the peer's decoder.
func (b *blockingTracker) streamIsBlocking(streamID uint64) bool {
	return b.isBlocking(b.sections[streamID])
}

// blockedStreams is the number of streams that might be blocked at the peer's decoder.
func (b *blockingTracker) blockedStreams() int {
	return lo.CountBy(lo.Values(b.sections), b.isBlocking)
}

func (b *blockingTracker) add(streamID uint64, s outstandingSection) {
	b.sections[streamID] = append(b.sections[streamID], s)
}

// pinned returns the smallest absolute index referenced by any outstanding
// section. Entries at or above this index must not be evicted.
func (b *blockingTracker) pinned() uint64 {
	pinned := uint64(math.MaxUint64)
	for _, sections := range b.sections {
		for _, s := range sections {
			pinned = min(pinned, s.minReference)
		}
	}
	return pinned
}

// acknowledge processes a Section Acknowledgment for the oldest outstanding
// section on the stream.
func (b *blockingTracker) acknowledge(streamID uint64) error {
	sections, ok := b.sections[streamID]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownStream, streamID)
	}
	b.knownReceivedCount = max(b.knownReceivedCount, sections[0].requiredInsertCount)
	if len(sections) == 1 {
		delete(b.sections, streamID)
	} else {
		b.sections[streamID] = sections[1:]
	}
	return nil
}

// cancel processes a Stream Cancellation.
func (b *blockingTracker) cancel(streamID uint64) error {
	if _, ok := b.sections[streamID]; !ok {
		return fmt.Errorf("%w %d", ErrUnknownStream, streamID)
	}
	delete(b.sections, streamID)
	return nil
}

// increment processes an Insert Count Increment.
func (b *blockingTracker) increment(n, insertCount uint64) error {
	if n == 0 {
		return fmt.Errorf("%w: zero insert count increment", ErrInvalidArgument)
	}
	if b.knownReceivedCount+n > insertCount {
		return fmt.Errorf("%w: insert count increment %d beyond %d insertions", ErrIndexOutOfRange, n, insertCount)
	}
	b.knownReceivedCount += n
	return nil
}
