package accum_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lancaster-data/lancaster/internal/accum"
)

func TestStoreAndOverflow(t *testing.T) {
	a := accum.New(8)

	require.NoError(t, a.Store([]byte("abcd")))
	require.Equal(t, 4, a.Len())
	require.Equal(t, 4, a.Remaining())

	err := a.Store([]byte("abcde"))
	require.ErrorIs(t, err, accum.ErrWouldOverflow)
	require.Equal(t, 4, a.Len(), "failed store must not partially apply")

	require.NoError(t, a.Store([]byte("efgh")))
	require.Equal(t, "abcdefgh", string(a.Bytes()))
}

func TestIsStale(t *testing.T) {
	a := accum.New(16)
	require.False(t, a.IsStale(1), "empty accumulator is never stale")

	require.NoError(t, a.Store([]byte("x")))
	require.False(t, a.IsStale(int64(time.Hour/time.Microsecond)))

	time.Sleep(2 * time.Millisecond)
	require.True(t, a.IsStale(1))
}

func TestClearResetsBufferAndTimer(t *testing.T) {
	a := accum.New(4)
	require.NoError(t, a.Store([]byte("ab")))

	a.Clear()
	require.Equal(t, 0, a.Len())
	require.False(t, a.IsStale(0))
	require.Equal(t, 4, a.Remaining())
}
