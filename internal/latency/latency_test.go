package latency_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lancaster-data/lancaster/internal/latency"
)

func TestStatsBeforeRollIsZero(t *testing.T) {
	var tr latency.Tracker
	tr.Record(100)
	require.Equal(t, latency.Stats{}, tr.Stats())
}

func TestRollReportsMeanAndStdDev(t *testing.T) {
	var tr latency.Tracker
	samples := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	for _, s := range samples {
		tr.Record(s)
	}
	tr.Roll()

	got := tr.Stats()
	require.EqualValues(t, len(samples), got.Count)
	require.InDelta(t, 5.0, got.Mean, 1e-9)
	require.InDelta(t, 2.138089935, got.StdDev, 1e-6)
	require.Equal(t, 2.0, got.Min)
	require.Equal(t, 9.0, got.Max)
}

func TestRollResetsOpenWindow(t *testing.T) {
	var tr latency.Tracker
	tr.Record(10)
	tr.Record(20)
	tr.Roll()
	first := tr.Stats()

	tr.Record(1000)
	tr.Roll()
	second := tr.Stats()

	require.EqualValues(t, 2, first.Count)
	require.EqualValues(t, 1, second.Count)
	require.Equal(t, 1000.0, second.Mean)
}

func TestSingleSampleStdDevIsZero(t *testing.T) {
	var tr latency.Tracker
	tr.Record(42)
	tr.Roll()
	require.Equal(t, 0.0, tr.Stats().StdDev)
	require.False(t, math.IsNaN(tr.Stats().StdDev))
}
