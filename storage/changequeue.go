package storage

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Change queue primitives: a
// power-of-two-capacity ring of identifiers with a monotonically
// increasing head; the ring slot is head mod capacity, and head is
// advanced after the slot is written with a memory barrier between (here,
// the atomic store to the head word).
//
// Cursor management (detecting an overrun, snapping forward after a
// recreate, or waiting for new entries) is a consumer concern — sender,
// receiver and batch each keep their own cursor — so Storage exposes only
// Head, QueueAt and the writer-side enqueue.

func (s *Storage) headWord() *int64 {
	return (*int64)(unsafe.Pointer(&s.data[offQueueHead]))
}

// Head returns the change queue's current head: the number of identifiers
// ever enqueued. A cursor at position p < Head is Head-p entries behind; at
// most capacity of them are still held in the ring.
func (s *Storage) Head() int64 {
	return atomic.LoadInt64(s.headWord())
}

// QueueAt returns the identifier stored at ring position pos (pos mod
// capacity), without any bounds check against Head — callers are
// responsible for only reading positions within [Head-capacity, Head).
func (s *Storage) QueueAt(pos int64) int64 {
	capacity := int64(s.hdr.QueueCapacity)
	slotIdx := uint64(pos) % uint64(capacity)
	off := uint64(offQueueArray) + slotIdx*8
	return int64(binary.LittleEndian.Uint64(s.data[off:]))
}

// enqueue appends id to the change queue, advancing head. No-op if the
// segment was created with queue capacity 0 (no change queue).
func (s *Storage) enqueue(id int64) {
	if s.hdr.QueueCapacity == 0 {
		return
	}

	h := s.Head()
	capacity := int64(s.hdr.QueueCapacity)
	slotIdx := uint64(h) % uint64(capacity)
	off := uint64(offQueueArray) + slotIdx*8

	binary.LittleEndian.PutUint64(s.data[off:], uint64(id))

	// The store to head is the full memory barrier a reader relies on
	// between the slot write and head's advancement.
	atomic.StoreInt64(s.headWord(), h+1)
}
