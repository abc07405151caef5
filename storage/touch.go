package storage

import (
	"encoding/binary"
	"unsafe"

	"github.com/lancaster-data/lancaster/internal/clock"
	"github.com/lancaster-data/lancaster/internal/rev"
)

// Touched timestamp, guarded by its own dedicated revision lock so readers
// observe a consistent microsecond value.

func (s *Storage) touchedRevWord() rev.Word {
	return (*int64)(unsafe.Pointer(&s.data[offTouchedRev]))
}

// Touched returns the segment's last-touched timestamp via the same
// read-stable loop a record read uses.
func (s *Storage) Touched() (int64, error) {
	var value int64
	_, err := rev.Stable(s.touchedRevWord(), func() {
		value = int64(binary.LittleEndian.Uint64(s.data[offTouchedWord:]))
	})
	return value, err
}

// SetTouched stamps the touched timestamp to now. Called by internal/toucher
// periodically, and directly by a writer that wants to self-report
// liveness without a background goroutine.
func (s *Storage) SetTouched() error {
	if s.readOnly {
		return ErrReadOnly
	}

	w := s.touchedRevWord()
	prior, err := rev.WriteLock(w)
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint64(s.data[offTouchedWord:], uint64(clock.NowUsec()))
	rev.Unlock(w, rev.NextEven(prior))
	return nil
}
