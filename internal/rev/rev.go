// Package rev implements a seqlock-style revision word: a signed 64-bit
// word that serves simultaneously as a monotonically increasing version
// counter and a single-writer mutex.
//
// The high bit is the "write in progress" flag. Readers never store to the
// word; they spin while it is negative, snapshot it, read the guarded
// payload, then re-check the word for equality. Writers atomically claim
// the high bit, mutate the payload, and release by storing a new
// (necessarily even, non-negative) revision.
//
// Every Lancaster revision lock lives inside memory the kernel may have
// mapped into more than one process (a record's revision word, the
// segment header's touched-timestamp word), so this package works directly
// against a *int64 obtained via unsafe.Pointer rather than a
// process-private sync/atomic.Int64.
package rev

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrDeadlock is returned when a lock has been contended for longer than
// the cumulative deadlock timeout.
var ErrDeadlock = errors.New("rev: deadlock detected")

const (
	signBit int64 = -1 << 63

	// spinLimit is the number of tight-loop attempts before falling back to
	// sleeping between polls.
	spinLimit = 1000

	// sleepStep is the sleep duration once spinLimit is exceeded.
	sleepStep = time.Millisecond

	// deadlockTimeout is the cumulative time a caller may spend waiting
	// before ErrDeadlock is returned.
	deadlockTimeout = time.Second
)

// Word addresses a revision lock's backing storage: a pointer to an 8-byte
// aligned int64, typically obtained by casting an offset inside a
// memory-mapped segment with unsafe.Pointer. A revision of 0 designates a
// never-written slot; even values (including 0) mean
// "unused or quiescent"; negative means "write in progress".
type Word = *int64

// Peek returns the current word without any spin-wait. It is intended for
// the second half of a stability check (see Stable), not for acquiring the
// lock.
func Peek(w Word) int64 {
	return atomic.LoadInt64(w)
}

// ReadBegin implements the read lock: spin while the word is
// negative, then return the first non-negative value observed. It does not
// store. Callers must still verify the value is unchanged after reading the
// guarded payload (see Stable).
func ReadBegin(w Word) (int64, error) {
	deadline := time.Now().Add(deadlockTimeout)
	spins := 0

	for {
		v := atomic.LoadInt64(w)
		if v >= 0 {
			return v, nil
		}

		spins++
		if spins <= spinLimit {
			continue
		}

		if time.Now().After(deadline) {
			return 0, ErrDeadlock
		}

		time.Sleep(sleepStep)
	}
}

// Stable runs read against the guarded payload and returns the revision iff
// w was unchanged (and non-negative) across the call: a reader that
// completes the stability loop with rev is guaranteed the payload it
// observed was written by the single write that committed rev.
//
// read must not block or retain references past its return.
func Stable(w Word, read func()) (int64, error) {
	for {
		r1, err := ReadBegin(w)
		if err != nil {
			return 0, err
		}

		read()

		r2 := Peek(w)
		if r1 == r2 {
			return r1, nil
		}
		// Word changed mid-read (or a writer started); retry the whole
		// read-begin/read/compare cycle.
	}
}

// WriteLock implements the write lock: atomically claims the
// high bit. If another writer already held it, spins (escalating to sleep,
// then ErrDeadlock past the cumulative 1s timeout) until the word is
// released, then retries the claim.
//
// On success it returns the prior (non-negative) revision; the caller must
// pair this with a call to Unlock.
//
// This is expressed as a compare-and-swap loop rather than a literal
// fetch-or, which is the idiomatic Go equivalent: sync/atomic has no signed
// fetch-or, and CAS gives the same "claim iff currently unclaimed" semantics
// the protocol describes.
func WriteLock(w Word) (int64, error) {
	deadline := time.Now().Add(deadlockTimeout)
	spins := 0

	for {
		prior := atomic.LoadInt64(w)
		if prior >= 0 {
			if atomic.CompareAndSwapInt64(w, prior, prior|signBit) {
				return prior, nil
			}
			// Lost the race to another writer or a concurrent claim attempt;
			// retry immediately without counting it as a contended spin.
			continue
		}

		spins++
		if spins <= spinLimit {
			continue
		}

		if time.Now().After(deadline) {
			return 0, ErrDeadlock
		}

		time.Sleep(sleepStep)
	}
}

// Unlock releases a lock held via WriteLock, publishing newRevision.
//
// The atomic store here is the full memory barrier a reader relies on
// between a payload write and its revision advancement: in Go's memory
// model, a later atomic load that observes this store is
// guaranteed to observe every plain write that happened-before it in this
// goroutine, so callers must finish mutating the guarded payload before
// calling Unlock.
//
// newRevision's high bit is always cleared before storing, so a caller that
// passes a negative value (e.g. accidentally re-passing a locked word)
// cannot leave the lock stuck.
func Unlock(w Word, newRevision int64) {
	atomic.StoreInt64(w, newRevision&^signBit)
}

// NextEven computes the next monotonically increasing, always-even revision
// following a successful write: next_even(prior) = (prior + 2) & ~SIGN_BIT.
func NextEven(prior int64) int64 {
	return (prior + 2) &^ signBit
}

// IsWriteInProgress reports whether a raw word value has its write-in-
// progress flag set.
func IsWriteInProgress(word int64) bool {
	return word < 0
}
