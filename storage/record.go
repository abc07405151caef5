package storage

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/lancaster-data/lancaster/internal/clock"
	"github.com/lancaster-data/lancaster/internal/rev"
)

// revWord returns the revision lock word for record id, as a rev.Word
// addressing live mmap'd memory (the same unsafe.Pointer-over-mmap idiom
// internal/rev's doc comment describes).
func (s *Storage) revWord(id int64) (rev.Word, error) {
	slot, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	return (*int64)(unsafe.Pointer(&slot[0])), nil
}

// Revision returns the current revision of id without waiting for
// stability; mostly useful for diagnostics (see internal/rev.Peek).
func (s *Storage) Revision(id int64) (int64, error) {
	w, err := s.revWord(id)
	if err != nil {
		return 0, err
	}
	return rev.Peek(w), nil
}

// Read implements the reader-side protocol: spin for
// stability, copy timestamp/value/property into the caller-provided
// buffers, and return the committed revision. valueOut and propertyOut may
// be nil to skip copying that field; propertyOut is ignored if the
// segment has no property field.
func (s *Storage) Read(id int64, valueOut, propertyOut []byte) (revision, timestampUsec int64, err error) {
	slot, err := s.slot(id)
	if err != nil {
		return 0, 0, err
	}
	w := (*int64)(unsafe.Pointer(&slot[0]))

	r, err := rev.Stable(w, func() {
		timestampUsec = int64(binary.LittleEndian.Uint64(slot[s.hdr.TimestampOff:]))
		if valueOut != nil {
			copy(valueOut, slot[s.hdr.ValueOff:s.hdr.ValueOff+s.hdr.ValueSize])
		}
		if propertyOut != nil && s.hdr.PropertySize > 0 {
			copy(propertyOut, slot[s.hdr.PropertyOff:s.hdr.PropertyOff+s.hdr.PropertySize])
		}
	})
	if err != nil {
		return 0, 0, err
	}

	return r, timestampUsec, nil
}

// Write implements the writer-side mutation: write-lock,
// mutate value/timestamp(/property), unlock with next_even(prior), then
// append id to the change queue with a full barrier between the payload
// write and the head advance. It returns the newly committed revision.
//
// Write fails with ErrReadOnly on a read-only handle.
func (s *Storage) Write(id int64, value, property []byte) (int64, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}

	slot, err := s.slot(id)
	if err != nil {
		return 0, err
	}
	w := (*int64)(unsafe.Pointer(&slot[0]))

	prior, err := rev.WriteLock(w)
	if err != nil {
		return 0, err
	}

	binary.LittleEndian.PutUint64(slot[s.hdr.TimestampOff:], uint64(clock.NowUsec()))
	if value != nil {
		copy(slot[s.hdr.ValueOff:s.hdr.ValueOff+s.hdr.ValueSize], value)
	}
	if property != nil && s.hdr.PropertySize > 0 {
		copy(slot[s.hdr.PropertyOff:s.hdr.PropertyOff+s.hdr.PropertySize], property)
	}

	newRev := rev.NextEven(prior)
	rev.Unlock(w, newRev)

	s.enqueue(id)

	return newRev, nil
}

// Clear zeroes id's value/property and resets its revision to 0.
func (s *Storage) Clear(id int64) error {
	if s.readOnly {
		return ErrReadOnly
	}

	slot, err := s.slot(id)
	if err != nil {
		return err
	}
	w := (*int64)(unsafe.Pointer(&slot[0]))

	if _, err := rev.WriteLock(w); err != nil {
		return err
	}

	for i := range slot[8:] {
		slot[8+i] = 0
	}

	atomic.StoreInt64(w, 0)
	return nil
}
