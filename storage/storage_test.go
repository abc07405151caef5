package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lancaster-data/lancaster/storage"
)

func TestCreateOpenWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s, err := storage.Create(path, storage.CreateOptions{
		BaseID:        100,
		MaxID:         110,
		ValueSize:     8,
		QueueCapacity: 4,
		Description:   "quotes",
		Persist:       true,
	})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, int64(100), s.BaseID())
	require.Equal(t, int64(110), s.MaxID())
	require.Equal(t, "quotes", s.Description())

	rev, err := s.Revision(105)
	require.NoError(t, err)
	require.Equal(t, int64(0), rev, "never-written slot has revision 0")

	newRev, err := s.Write(105, []byte("ABCDEFGH"), nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), newRev)

	value := make([]byte, 8)
	gotRev, _, err := s.Read(105, value, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), gotRev)
	require.Equal(t, "ABCDEFGH", string(value))

	reopened, err := storage.Open(path, true)
	require.NoError(t, err)
	defer reopened.Close()

	gotRev, _, err = reopened.Read(105, value, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), gotRev)
	require.Equal(t, "ABCDEFGH", string(value))
}

func TestWriteRejectedOnReadOnlyHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s, err := storage.Create(path, storage.CreateOptions{BaseID: 0, MaxID: 4, ValueSize: 4, Persist: true})
	require.NoError(t, err)
	s.Close()

	ro, err := storage.Open(path, true)
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.Write(1, []byte("abcd"), nil)
	require.ErrorIs(t, err, storage.ErrReadOnly)
}

func TestOutOfBoundsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s, err := storage.Create(path, storage.CreateOptions{BaseID: 10, MaxID: 20, ValueSize: 4, Persist: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Write(9, []byte("abcd"), nil)
	require.ErrorIs(t, err, storage.ErrOutOfBounds)

	_, err = s.Write(20, []byte("abcd"), nil)
	require.ErrorIs(t, err, storage.ErrOutOfBounds)
}

func TestInvalidQueueCapacityRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	_, err := storage.Create(path, storage.CreateOptions{BaseID: 0, MaxID: 4, ValueSize: 4, QueueCapacity: 3})
	require.ErrorIs(t, err, storage.ErrInvalidCapacity)
}

func TestChangeQueueRecordsWritesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s, err := storage.Create(path, storage.CreateOptions{
		BaseID: 0, MaxID: 8, ValueSize: 4, QueueCapacity: 4, Persist: true,
	})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, int64(0), s.Head())

	ids := []int64{3, 1, 5}
	for _, id := range ids {
		_, err := s.Write(id, []byte("data"), nil)
		require.NoError(t, err)
	}

	require.Equal(t, int64(3), s.Head())
	for i, id := range ids {
		require.Equal(t, id, s.QueueAt(int64(i)))
	}
}

func TestReopenExistingMatchingLayoutSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	opts := storage.CreateOptions{BaseID: 0, MaxID: 4, ValueSize: 4, Persist: true}

	s1, err := storage.Create(path, opts)
	require.NoError(t, err)
	s1.Close()

	s2, err := storage.Create(path, opts)
	require.NoError(t, err)
	defer s2.Close()
}

func TestReopenExistingUnequalLayoutFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s1, err := storage.Create(path, storage.CreateOptions{BaseID: 0, MaxID: 4, ValueSize: 4, Persist: true})
	require.NoError(t, err)
	s1.Close()

	_, err = storage.Create(path, storage.CreateOptions{BaseID: 0, MaxID: 4, ValueSize: 8, Persist: true})
	require.ErrorIs(t, err, storage.ErrUnequal)
}

func TestNonPersistentCloseUnlinksBacking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s, err := storage.Create(path, storage.CreateOptions{BaseID: 0, MaxID: 4, ValueSize: 4})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = storage.Open(path, true)
	require.Error(t, err)
}

func TestTouchedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s, err := storage.Create(path, storage.CreateOptions{BaseID: 0, MaxID: 4, ValueSize: 4, Persist: true})
	require.NoError(t, err)
	defer s.Close()

	before, err := s.Touched()
	require.NoError(t, err)
	require.Equal(t, int64(0), before)

	require.NoError(t, s.SetTouched())

	after, err := s.Touched()
	require.NoError(t, err)
	require.Greater(t, after, int64(0))
}

func TestClearResetsRevisionToZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s, err := storage.Create(path, storage.CreateOptions{BaseID: 0, MaxID: 4, ValueSize: 4, Persist: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Write(1, []byte("data"), nil)
	require.NoError(t, err)

	require.NoError(t, s.Clear(1))

	rev, err := s.Revision(1)
	require.NoError(t, err)
	require.Equal(t, int64(0), rev)
}

func TestGrowCopiesWrittenRecordsAndFitsNewSize(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "src.dat")
	dstPath := filepath.Join(t.TempDir(), "dst.dat")

	src, err := storage.Create(srcPath, storage.CreateOptions{
		BaseID: 0, MaxID: 4, ValueSize: 4, Description: "v1", Persist: true,
	})
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Write(0, []byte("abcd"), nil)
	require.NoError(t, err)

	dst, err := src.Grow(dstPath, 0, 8, 8, 0, 0, true)
	require.NoError(t, err)
	defer dst.Close()

	require.Equal(t, "v1", dst.Description())

	value := make([]byte, 8)
	rev, _, err := dst.Read(0, value, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), rev)
	require.Equal(t, "abcd\x00\x00\x00\x00", string(value))

	rev, _, err = dst.Read(1, value, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), rev, "never-written slot in the new range stays untouched")
}

func TestIterateEarlyStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s, err := storage.Create(path, storage.CreateOptions{BaseID: 0, MaxID: 10, ValueSize: 4, Persist: true})
	require.NoError(t, err)
	defer s.Close()

	var seen []int64
	err = s.Iterate(0, 10, func(id int64) (bool, error) {
		seen = append(seen, id)
		return id < 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 2, 3}, seen)
}

func TestDeleteByPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.dat")

	s, err := storage.Create(path, storage.CreateOptions{BaseID: 0, MaxID: 4, ValueSize: 4, Persist: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, storage.Delete(path, false))

	err = storage.Delete(path, false)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, storage.Delete(path, true))
}
