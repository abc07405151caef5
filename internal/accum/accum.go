// Package accum implements a bounded byte accumulator: the sender's
// multicast packet scratch area.
//
// It tracks the wall-clock time of the first insert since the last clear,
// so the sender can decide a packet has been open too long
// (max_pkt_age_usec) even though it isn't yet full.
package accum

import (
	"errors"

	"github.com/lancaster-data/lancaster/internal/clock"
)

// ErrWouldOverflow is returned by Store when the buffer does not have
// enough remaining capacity for the given bytes.
var ErrWouldOverflow = errors.New("accum: store would overflow buffer")

// Accumulator is a bounded, reusable byte buffer with an associated
// first-insert timestamp.
//
// Not safe for concurrent use; callers (the sender's single multicast
// writer goroutine) own it exclusively.
type Accumulator struct {
	buf             []byte
	len             int
	firstInsertUsec int64
	hasData         bool
}

// New returns an Accumulator with the given fixed capacity.
func New(capacity int) *Accumulator {
	return &Accumulator{buf: make([]byte, capacity)}
}

// Len returns the number of bytes currently stored.
func (a *Accumulator) Len() int { return a.len }

// Cap returns the accumulator's fixed capacity.
func (a *Accumulator) Cap() int { return len(a.buf) }

// Remaining returns the number of bytes that can still be stored before
// Store would return ErrWouldOverflow.
func (a *Accumulator) Remaining() int { return len(a.buf) - a.len }

// Bytes returns the bytes stored so far. The returned slice aliases the
// accumulator's internal buffer and is invalidated by the next Store or
// Clear.
func (a *Accumulator) Bytes() []byte { return a.buf[:a.len] }

// Store appends b to the accumulator. It fails with ErrWouldOverflow if b
// does not fit in the remaining capacity; on failure the accumulator is
// left unchanged.
//
// The first successful Store since construction or the last Clear stamps
// firstInsertUsec, used by IsStale.
func (a *Accumulator) Store(b []byte) error {
	if len(b) > a.Remaining() {
		return ErrWouldOverflow
	}

	if !a.hasData {
		a.firstInsertUsec = clock.NowUsec()
		a.hasData = true
	}

	copy(a.buf[a.len:], b)
	a.len += len(b)

	return nil
}

// IsStale reports whether the time since the first insert (since
// construction or the last Clear) is at least maxAgeUsec. An accumulator
// with no inserts is never stale.
func (a *Accumulator) IsStale(maxAgeUsec int64) bool {
	if !a.hasData {
		return false
	}

	return clock.NowUsec()-a.firstInsertUsec >= maxAgeUsec
}

// Clear resets the buffer and its first-insert timer.
func (a *Accumulator) Clear() {
	a.len = 0
	a.hasData = false
	a.firstInsertUsec = 0
}
