package dict_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lancaster-data/lancaster/internal/dict"
)

func TestInsertLookupRemove(t *testing.T) {
	d := dict.New[int64, dict.Entry](4, dict.Int64Hash)

	_, ok := d.Lookup(42)
	require.False(t, ok)

	d.Insert(42, dict.Entry{Revision: 1, Sequence: 7})
	got, ok := d.Lookup(42)
	require.True(t, ok)
	require.Equal(t, dict.Entry{Revision: 1, Sequence: 7}, got)
	require.Equal(t, 1, d.Len())

	d.Insert(42, dict.Entry{Revision: 2, Sequence: 8})
	got, ok = d.Lookup(42)
	require.True(t, ok)
	require.Equal(t, dict.Entry{Revision: 2, Sequence: 8}, got)
	require.Equal(t, 1, d.Len())

	require.True(t, d.Remove(42))
	_, ok = d.Lookup(42)
	require.False(t, ok)
	require.False(t, d.Remove(42))
}

func TestCollidingKeysChainCorrectly(t *testing.T) {
	d := dict.New[int64, int](2, dict.Int64Hash) // capacity 2 -> heavy collisions

	for i := int64(0); i < 20; i++ {
		d.Insert(i, int(i*10))
	}
	require.Equal(t, 20, d.Len())

	for i := int64(0); i < 20; i++ {
		v, ok := d.Lookup(i)
		require.True(t, ok)
		require.Equal(t, int(i*10), v)
	}

	require.True(t, d.Remove(5))
	_, ok := d.Lookup(5)
	require.False(t, ok)

	v, ok := d.Lookup(6)
	require.True(t, ok)
	require.Equal(t, 60, v)
}

func TestIterateVisitsAllEntries(t *testing.T) {
	d := dict.New[int64, int](8, dict.Int64Hash)
	want := map[int64]int{1: 10, 2: 20, 3: 30}
	for k, v := range want {
		d.Insert(k, v)
	}

	got := make(map[int64]int)
	d.Iterate(func(k int64, v int) bool {
		got[k] = v
		return true
	})
	require.Equal(t, want, got)
}

func TestIterateStopsEarly(t *testing.T) {
	d := dict.New[int64, int](8, dict.Int64Hash)
	for i := int64(0); i < 10; i++ {
		d.Insert(i, int(i))
	}

	count := 0
	d.Iterate(func(k int64, v int) bool {
		count++
		return count < 3
	})
	require.Equal(t, 3, count)
}
