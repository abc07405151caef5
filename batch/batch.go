// Package batch implements high-level bulk read/write/wait operations
// layered over a storage.Storage, for callers that want to operate on many
// identifiers at once instead of one record at a time.
package batch

import (
	"errors"
	"time"

	"github.com/lancaster-data/lancaster/internal/clock"
	"github.com/lancaster-data/lancaster/storage"
)

// ErrChangeQueueOverrun indicates the caller's change-queue cursor fell far
// enough behind storage's head that some entries were already overwritten
// by the ring before being read. The sender's own change-queue consumption
// applies the identical rule; Batch generalises it to any cursor-holding
// consumer.
var ErrChangeQueueOverrun = errors.New("batch: change queue overrun")

// ErrNoChangeQueue indicates ReadChangedRecords was called on a storage
// created with queue capacity 0.
var ErrNoChangeQueue = errors.New("batch: storage has no change queue")

// Batch wraps a storage.Storage with bulk read/write/wait operations.
type Batch struct {
	s *storage.Storage
}

// New returns a Batch over s.
func New(s *storage.Storage) *Batch {
	return &Batch{s: s}
}

// ReadRecords reads each id in ids, filling the corresponding slot of
// outValues, outRevisions and outTimestamps. outValues[i] must already be
// sized to the storage's value size; outRevisions and outTimestamps (if
// non-nil) must have the same length as ids. Returns the first error
// encountered (e.g. storage.ErrOutOfBounds), leaving later slots
// untouched.
func (b *Batch) ReadRecords(ids []int64, outValues [][]byte, outRevisions, outTimestamps []int64) error {
	for i, id := range ids {
		var value []byte
		if outValues != nil {
			value = outValues[i]
		}

		rev, ts, err := b.s.Read(id, value, nil)
		if err != nil {
			return err
		}

		if outRevisions != nil {
			outRevisions[i] = rev
		}
		if outTimestamps != nil {
			outTimestamps[i] = ts
		}
	}
	return nil
}

// WriteRecords writes values[i] to ids[i] for every index, in order.
// Returns the first error encountered, leaving later ids unwritten.
func (b *Batch) WriteRecords(ids []int64, values [][]byte) error {
	for i, id := range ids {
		if _, err := b.s.Write(id, values[i], nil); err != nil {
			return err
		}
	}
	return nil
}

// ReadChangedRecords blocks up to timeout for the change queue's head to
// advance past *cursor, then returns every identifier enqueued since, in
// queue order, and advances *cursor past them. A timeout <= 0 polls
// exactly once without blocking.
//
// If the cursor has fallen behind by more than the queue's capacity,
// entries were overwritten before being read; ReadChangedRecords returns
// ErrChangeQueueOverrun and snaps *cursor forward to the oldest entry
// still present, matching the recovery rule.
func (b *Batch) ReadChangedRecords(cursor *int64, timeout time.Duration, maxCount int) ([]int64, error) {
	capacity := int64(b.s.QueueCapacity())
	if capacity == 0 {
		return nil, ErrNoChangeQueue
	}

	deadline := clock.NowUsec() + timeout.Microseconds()

	for {
		head := b.s.Head()
		if head != *cursor {
			break
		}
		if timeout <= 0 || clock.NowUsec() >= deadline {
			return nil, nil
		}
		clock.Sleep(time.Millisecond)
	}

	head := b.s.Head()

	if head-*cursor > capacity {
		*cursor = head - capacity
		return nil, ErrChangeQueueOverrun
	}

	n := head - *cursor
	if int64(maxCount) > 0 && n > int64(maxCount) {
		n = int64(maxCount)
	}

	ids := make([]int64, 0, n)
	for i := int64(0); i < n; i++ {
		ids = append(ids, b.s.QueueAt(*cursor+i))
	}
	*cursor += n

	return ids, nil
}
