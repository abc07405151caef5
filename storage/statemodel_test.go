package storage_test

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/lancaster-data/lancaster/internal/testutil"
	"github.com/lancaster-data/lancaster/storage"
)

// TestStateModelWriteReadQueue drives a long sequence of random writes and
// reads against a real segment and checks three invariants against a plain
// in-memory reference model: each write strictly increases the record's
// revision by two (I-REV), a read always observes the last value written to
// that identifier (never a torn or stale one), and the change queue's last
// `capacity` enqueued identifiers exactly match a sliding window of the
// writes actually issued, in order.
func TestStateModelWriteReadQueue(t *testing.T) {
	const (
		baseID    = 0
		maxID     = 12
		valueSize = 8
		capacity  = 8
		steps     = 4000
	)

	path := filepath.Join(t.TempDir(), "seg.dat")
	s, err := storage.Create(path, storage.CreateOptions{
		BaseID: baseID, MaxID: maxID, ValueSize: valueSize, QueueCapacity: capacity, Persist: true,
	})
	require.NoError(t, err)
	defer s.Close()

	rng := testutil.NewMT19937(20260730)

	lastValue := make(map[int64]uint64)
	lastRev := make(map[int64]int64)
	var queue []int64 // reference model of everything ever enqueued

	value := make([]byte, valueSize)
	for i := 0; i < steps; i++ {
		id := baseID + int64(rng.Intn(maxID-baseID))

		if rng.Bool() {
			payload := rng.Uint32()
			binary.LittleEndian.PutUint64(value, uint64(payload)<<32|uint64(payload))

			newRev, err := s.Write(id, value, nil)
			require.NoError(t, err)

			want := lastRev[id] + 2
			require.Equal(t, want, newRev, "revision must advance by exactly two per write")
			lastRev[id] = newRev
			lastValue[id] = binary.LittleEndian.Uint64(value)
			queue = append(queue, id)
			continue
		}

		got := make([]byte, valueSize)
		rev, _, err := s.Read(id, got, nil)
		require.NoError(t, err)
		require.Equal(t, lastRev[id], rev)
		if rev != 0 {
			require.Equal(t, lastValue[id], binary.LittleEndian.Uint64(got))
		}
	}

	head := s.Head()
	require.Equal(t, int64(len(queue)), head)

	want := queue
	if int64(len(want)) > capacity {
		want = want[len(want)-capacity:]
	}
	start := head - int64(len(want))
	got := make([]int64, len(want))
	for i := range got {
		got[i] = s.QueueAt(start + int64(i))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("change queue tail mismatch (-want +got):\n%s", diff)
	}
}

// TestStateModelGrowPreservesLiveRecords grows a segment mid-sequence and
// checks every record's latest value and revision survived the copy
// unchanged, matching the same reference model used above.
func TestStateModelGrowPreservesLiveRecords(t *testing.T) {
	const (
		baseID    = 0
		maxID     = 6
		valueSize = 4
		steps     = 500
	)

	srcPath := filepath.Join(t.TempDir(), "src.dat")
	src, err := storage.Create(srcPath, storage.CreateOptions{
		BaseID: baseID, MaxID: maxID, ValueSize: valueSize, QueueCapacity: 4, Persist: true,
	})
	require.NoError(t, err)
	defer src.Close()

	rng := testutil.NewMT19937(7)

	lastValue := make(map[int64]uint32)
	lastRev := make(map[int64]int64)

	value := make([]byte, valueSize)
	for i := 0; i < steps; i++ {
		id := baseID + int64(rng.Intn(maxID-baseID))
		payload := rng.Uint32()
		binary.LittleEndian.PutUint32(value, payload)

		newRev, err := src.Write(id, value, nil)
		require.NoError(t, err)
		lastRev[id] = newRev
		lastValue[id] = payload
	}

	dstPath := filepath.Join(t.TempDir(), "dst.dat")
	dst, err := src.Grow(dstPath, 0, maxID*2, valueSize, 0, 0, true)
	require.NoError(t, err)
	defer dst.Close()

	type record struct {
		Rev   int64
		Value uint32
	}

	want := make(map[int64]record, maxID*2)
	for id := baseID; id < maxID; id++ {
		want[id] = record{Rev: lastRev[id], Value: lastValue[id]}
	}
	for id := maxID; id < maxID*2; id++ {
		want[id] = record{}
	}

	got := make(map[int64]record, maxID*2)
	buf := make([]byte, valueSize)
	for id := baseID; id < maxID*2; id++ {
		rev, _, err := dst.Read(id, buf, nil)
		require.NoError(t, err)
		r := record{Rev: rev}
		if rev != 0 {
			r.Value = binary.LittleEndian.Uint32(buf)
		}
		got[id] = r
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("grown segment contents mismatch (-want +got):\n%s", diff)
	}
}
