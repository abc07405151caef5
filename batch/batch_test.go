package batch_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lancaster-data/lancaster/batch"
	"github.com/lancaster-data/lancaster/storage"
)

func newTestStorage(t *testing.T, queueCapacity uint64) *storage.Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seg.dat")
	s, err := storage.Create(path, storage.CreateOptions{
		BaseID: 0, MaxID: 16, ValueSize: 4, QueueCapacity: queueCapacity, Persist: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteThenReadRecordsRoundTrip(t *testing.T) {
	s := newTestStorage(t, 0)
	b := batch.New(s)

	ids := []int64{1, 2, 3}
	values := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")}

	require.NoError(t, b.WriteRecords(ids, values))

	out := [][]byte{make([]byte, 4), make([]byte, 4), make([]byte, 4)}
	revs := make([]int64, 3)
	times := make([]int64, 3)

	require.NoError(t, b.ReadRecords(ids, out, revs, times))

	for i := range ids {
		require.Equal(t, string(values[i]), string(out[i]))
		require.Equal(t, int64(2), revs[i])
		require.Greater(t, times[i], int64(0))
	}
}

func TestReadChangedRecordsReturnsQueueOrderAndAdvancesCursor(t *testing.T) {
	s := newTestStorage(t, 8)
	b := batch.New(s)

	require.NoError(t, b.WriteRecords([]int64{5, 2, 7}, [][]byte{[]byte("v1v1"), []byte("v2v2"), []byte("v3v3")}))

	var cursor int64
	ids, err := b.ReadChangedRecords(&cursor, time.Second, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 2, 7}, ids)
	require.Equal(t, int64(3), cursor)

	ids, err = b.ReadChangedRecords(&cursor, 20*time.Millisecond, 0)
	require.NoError(t, err)
	require.Nil(t, ids, "no new changes since cursor")
}

func TestReadChangedRecordsUnblocksWhenWriteArrivesLater(t *testing.T) {
	s := newTestStorage(t, 8)
	b := batch.New(s)

	var cursor int64
	var wg sync.WaitGroup
	wg.Add(1)

	var ids []int64
	var err error
	go func() {
		defer wg.Done()
		ids, err = b.ReadChangedRecords(&cursor, time.Second, 0)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, (batch.New(s)).WriteRecords([]int64{9}, [][]byte{[]byte("data")}))

	wg.Wait()
	require.NoError(t, err)
	require.Equal(t, []int64{9}, ids)
}

func TestReadChangedRecordsDetectsOverrun(t *testing.T) {
	s := newTestStorage(t, 4)
	b := batch.New(s)

	ids := make([]int64, 0, 6)
	values := make([][]byte, 0, 6)
	for i := int64(0); i < 6; i++ {
		ids = append(ids, i)
		values = append(values, []byte("data"))
	}
	require.NoError(t, b.WriteRecords(ids, values))

	var cursor int64
	_, err := b.ReadChangedRecords(&cursor, 0, 0)
	require.ErrorIs(t, err, batch.ErrChangeQueueOverrun)
	require.Equal(t, int64(2), cursor, "cursor snaps to the oldest still-present entry")
}

func TestReadChangedRecordsWithoutQueueFails(t *testing.T) {
	s := newTestStorage(t, 0)
	b := batch.New(s)

	var cursor int64
	_, err := b.ReadChangedRecords(&cursor, time.Second, 0)
	require.ErrorIs(t, err, batch.ErrNoChangeQueue)
}
