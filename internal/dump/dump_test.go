package dump_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lancaster-data/lancaster/internal/dump"
)

func TestSdumpSingleShortLine(t *testing.T) {
	got := dump.Sdump(0, []byte("hi"))
	require.True(t, strings.HasPrefix(got, "000000000000|68 69"))
	require.True(t, strings.HasSuffix(got, "|hi\n"))
	require.Equal(t, 1, strings.Count(got, "\n"))
}

func TestSdumpNonPrintableBecomesDot(t *testing.T) {
	got := dump.Sdump(0, []byte{0x00, 0x41, 0xff})
	require.True(t, strings.HasSuffix(got, "|.A.\n"))
}

func TestSdumpWrapsAtSixteenOctets(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	got := dump.Sdump(0x10, data)
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "000000000010|"))
	require.True(t, strings.HasPrefix(lines[1], "000000000020|"))
}

func TestSdumpEmptyProducesNoOutput(t *testing.T) {
	require.Equal(t, "", dump.Sdump(0, nil))
}
