// Package storage implements a memory-mapped record segment: a fixed-size
// record array with a lock-free revision per record, a change queue of
// recently-touched identifiers, and lifecycle timestamps.
//
// Records are addressed directly: a record's offset is arithmetic
// (base + id*record_size), not a hash probe.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/lancaster-data/lancaster/internal/clock"
	"github.com/lancaster-data/lancaster/internal/rev"
)

// CreateOptions configures Create. It mirrors the
// (base_id, max_id, value_size, property_size, queue_capacity,
// description, persist?) tuple.
type CreateOptions struct {
	BaseID        int64
	MaxID         int64
	ValueSize     uint32
	PropertySize  uint32
	QueueCapacity uint64
	Description   string
	DataVersion   uint32

	// Persist, when false, causes Delete-on-Close semantics: the backing
	// file or shared-memory object is unlinked when the last handle closes
	// ("non-persistent creates unlink the backing on
	// destroy").
	Persist bool
}

func (o CreateOptions) validate() error {
	if o.MaxID <= o.BaseID {
		return fmt.Errorf("%w: max_id must be > base_id", ErrInvalidInput)
	}
	if o.ValueSize == 0 {
		return fmt.Errorf("%w: value_size must be >= 1", ErrInvalidInput)
	}
	if !isPowerOfTwoOrZero(o.QueueCapacity) {
		return ErrInvalidCapacity
	}
	return nil
}

// Storage is an open handle to a memory-mapped record segment.
//
// A Storage is safe for concurrent record-level access from multiple
// goroutines (each record serialises itself via internal/rev); Close,
// Grow and Clear are not meant to run concurrently with other calls.
type Storage struct {
	path     string
	realPath string
	persist  bool
	readOnly bool

	fd   int
	data []byte

	hdr header

	mu     sync.Mutex
	closed bool
}

// Create creates a file (or shm object) at path and maps it read/write.
//
// If a file already exists at path, it is opened with its contents kept;
// its header sizes and offsets must match opts bit-exactly or Create fails
// with ErrUnequal.
func Create(path string, opts CreateOptions) (*Storage, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	real := resolvePath(path)

	hdr := newHeader(opts.BaseID, opts.MaxID, opts.ValueSize, opts.PropertySize, opts.QueueCapacity, opts.DataVersion, opts.Description, clock.NowUsec())

	fd, err := syscall.Open(real, syscall.O_RDWR|syscall.O_CREAT|syscall.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, syscall.EEXIST) {
			//: "if a file already exists at the path, all
			// header sizes and offsets must match bit-exactly or creation
			// fails with STORAGE_UNEQUAL".
			existing, openErr := Open(path, false)
			if openErr != nil {
				return nil, openErr
			}
			if !layoutsEqual(existing.hdr, hdr) {
				existing.Close()
				return nil, ErrUnequal
			}
			existing.persist = opts.Persist
			return existing, nil
		}
		return nil, fmt.Errorf("storage: create: %w", err)
	}

	if err := syscall.Ftruncate(fd, int64(hdr.SegmentSize)); err != nil {
		syscall.Close(fd)
		syscall.Unlink(real)
		return nil, fmt.Errorf("storage: ftruncate: %w", err)
	}

	data, err := syscall.Mmap(fd, 0, int(hdr.SegmentSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		syscall.Close(fd)
		syscall.Unlink(real)
		return nil, fmt.Errorf("storage: mmap: %w", err)
	}

	// Write the record array and queue region as zero (already true from
	// ftruncate on a fresh file) then the header last, so the magic word
	// appears atomically from another process's point of view.
	encoded := encodeHeader(&hdr)
	copy(data[:len(encoded)], encoded)

	if err := syscall.Fsync(fd); err != nil {
		syscall.Munmap(data)
		syscall.Close(fd)
		syscall.Unlink(real)
		return nil, fmt.Errorf("storage: fsync: %w", err)
	}

	return &Storage{
		path:     path,
		realPath: real,
		persist:  opts.Persist,
		fd:       fd,
		data:     data,
		hdr:      hdr,
	}, nil
}

// Open maps only the header first, validates magic/version, then remaps
// to the full segment size
func Open(path string, readOnly bool) (*Storage, error) {
	real := resolvePath(path)

	flags := syscall.O_RDWR
	if readOnly {
		flags = syscall.O_RDONLY
	}

	fd, err := syscall.Open(real, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	// A plain Open never deletes the backing store on Close; only the
	// creating handle's Persist option controls that .
	return openFromFD(path, real, fd, readOnly, true)
}

func openFromFD(path, real string, fd int, readOnly, persistDefault bool) (*Storage, error) {
	// Probe just enough of the header to learn its real size; offMagic,
	// offFileVersion and offHeaderSize all live within this prefix
	// regardless of queue capacity or description length.
	probe := make([]byte, minHeaderProbeSize)
	if _, err := syscall.Pread(fd, probe, 0); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("storage: read header: %w", err)
	}

	if string(probe[offMagic:offMagic+8]) != segmentMagic {
		syscall.Close(fd)
		return nil, ErrCorrupt
	}

	headerSize := binary.LittleEndian.Uint32(probe[offHeaderSize:])
	fileVersion := binary.LittleEndian.Uint32(probe[offFileVersion:])
	if fileVersion>>16 != fileVersionMajor {
		syscall.Close(fd)
		return nil, ErrWrongFileVersion
	}

	full := make([]byte, headerSize)
	if _, err := syscall.Pread(fd, full, 0); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("storage: read header: %w", err)
	}
	if err := validateMagicAndCRC(full); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	hdr := decodeHeader(full)

	var stat syscall.Stat_t
	if err := syscall.Fstat(fd, &stat); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("storage: fstat: %w", err)
	}
	if uint64(stat.Size) != hdr.SegmentSize {
		syscall.Close(fd)
		return nil, ErrCorrupt
	}

	prot := syscall.PROT_READ
	if !readOnly {
		prot |= syscall.PROT_WRITE
	}

	data, err := syscall.Mmap(fd, 0, int(hdr.SegmentSize), prot, syscall.MAP_SHARED)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("storage: mmap: %w", err)
	}

	if !readOnly {
		clearStaleWriteLocks(data, hdr)
	}

	return &Storage{
		path:     path,
		realPath: real,
		persist:  persistDefault,
		readOnly: readOnly,
		fd:       fd,
		data:     data,
		hdr:      hdr,
	}, nil
}

const minHeaderProbeSize = 256

// clearStaleWriteLocks implements the single-producer-safety
// rule: a mid-write producer crash leaves some records with their
// revision's high bit set; on reopen for writing, the storage clears the
// high bit from every record's revision before reuse.
func clearStaleWriteLocks(data []byte, hdr header) {
	n := uint64(hdr.MaxID - hdr.BaseID)
	for i := uint64(0); i < n; i++ {
		off := uint64(hdr.HeaderSize) + i*uint64(hdr.RecordSize)
		word := (*int64)(unsafe.Pointer(&data[off]))
		v := atomic.LoadInt64(word)
		if rev.IsWriteInProgress(v) {
			atomic.StoreInt64(word, v&^(-1<<63))
		}
	}

	touchedWord := (*int64)(unsafe.Pointer(&data[offTouchedRev]))
	if v := atomic.LoadInt64(touchedWord); rev.IsWriteInProgress(v) {
		atomic.StoreInt64(touchedWord, v&^(-1<<63))
	}
}

func layoutsEqual(a, b header) bool {
	return a.RecordSize == b.RecordSize &&
		a.ValueSize == b.ValueSize &&
		a.PropertySize == b.PropertySize &&
		a.TimestampOff == b.TimestampOff &&
		a.ValueOff == b.ValueOff &&
		a.PropertyOff == b.PropertyOff &&
		a.QueueCapacity == b.QueueCapacity &&
		a.BaseID == b.BaseID &&
		a.MaxID == b.MaxID &&
		a.HeaderSize == b.HeaderSize
}

// Close unmaps and closes the segment. If the Storage was created with
// Persist: false, the backing file (or shm object) is unlinked first.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := syscall.Munmap(s.data); err != nil {
		errs = append(errs, err)
	}
	if err := syscall.Close(s.fd); err != nil {
		errs = append(errs, err)
	}
	if !s.persist {
		if err := syscall.Unlink(s.realPath); err != nil && !errors.Is(err, syscall.ENOENT) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Delete removes the backing file or shared-memory object at path without
// opening it. If ignoreNotFound is true, a missing path is not an error.
func Delete(path string, ignoreNotFound bool) error {
	real := resolvePath(path)
	err := os.Remove(real)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		if ignoreNotFound {
			return nil
		}
		return ErrNotFound
	}
	return err
}

// BaseID returns the segment's lowest valid identifier.
func (s *Storage) BaseID() int64 { return s.hdr.BaseID }

// MaxID returns the segment's exclusive upper identifier bound.
func (s *Storage) MaxID() int64 { return s.hdr.MaxID }

// ValueSize returns the configured per-record value size in bytes.
func (s *Storage) ValueSize() uint32 { return s.hdr.ValueSize }

// PropertySize returns the configured per-record property size in bytes.
func (s *Storage) PropertySize() uint32 { return s.hdr.PropertySize }

// QueueCapacity returns the change queue's ring capacity (0 if disabled).
func (s *Storage) QueueCapacity() uint64 { return s.hdr.QueueCapacity }

// DataVersion returns the caller-defined schema version stamped at create
// time.
func (s *Storage) DataVersion() uint32 { return s.hdr.DataVersion }

// Description returns the human-readable description stamped at create
// time.
func (s *Storage) Description() string { return s.hdr.Description }

// ReadOnly reports whether this handle disallows mutating operations.
func (s *Storage) ReadOnly() bool { return s.readOnly }

// Path returns the path this Storage was opened or created with (before
// shm: resolution).
func (s *Storage) Path() string { return s.path }

// CreatedUsec returns the segment's creation timestamp, read live from the
// mapped header so a consumer can detect a same-path recreate by comparing
// against the value captured at open time.
func (s *Storage) CreatedUsec() int64 {
	return int64(binary.LittleEndian.Uint64(s.data[offCreatedUsec:]))
}

// recordOffset implements the addressing:
// array_base + i*record_size, where array_base = header_base + header_size.
func (s *Storage) recordOffset(id int64) (uint64, error) {
	if id < s.hdr.BaseID || id >= s.hdr.MaxID {
		return 0, ErrOutOfBounds
	}
	idx := uint64(id - s.hdr.BaseID)
	return uint64(s.hdr.HeaderSize) + idx*uint64(s.hdr.RecordSize), nil
}

// GetID is the inverse of recordOffset (the storage_get_id):
// given a byte offset into the segment, returns the identifier occupying
// that record, validating the offset lands exactly on a record boundary
// within bounds.
func (s *Storage) GetID(offset uint64) (int64, error) {
	if offset < uint64(s.hdr.HeaderSize) {
		return 0, ErrOutOfBounds
	}
	rel := offset - uint64(s.hdr.HeaderSize)
	if rel%uint64(s.hdr.RecordSize) != 0 {
		return 0, ErrOutOfBounds
	}
	idx := rel / uint64(s.hdr.RecordSize)
	id := s.hdr.BaseID + int64(idx)
	if id >= s.hdr.MaxID {
		return 0, ErrOutOfBounds
	}
	return id, nil
}

func (s *Storage) slot(id int64) ([]byte, error) {
	off, err := s.recordOffset(id)
	if err != nil {
		return nil, err
	}
	return s.data[off : off+uint64(s.hdr.RecordSize)], nil
}

// Iterate walks identifiers in [first, limit), invoking fn for each. fn
// returns (true, nil) to continue, (false, nil) to stop early, or an error
// to abort
func (s *Storage) Iterate(first, limit int64, fn func(id int64) (bool, error)) error {
	if first < s.hdr.BaseID {
		first = s.hdr.BaseID
	}
	if limit > s.hdr.MaxID {
		limit = s.hdr.MaxID
	}

	for id := first; id < limit; id++ {
		cont, err := fn(id)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
