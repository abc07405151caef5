package sender

import "testing"

func TestNewSentTrackerPicksDenseForCompactSpace(t *testing.T) {
	tr := newSentTracker(0, 1024)
	if _, ok := tr.(*denseSentTracker); !ok {
		t.Fatalf("expected dense tracker for a compact id space, got %T", tr)
	}
}

func TestNewSentTrackerPicksSparseForWideSpace(t *testing.T) {
	tr := newSentTracker(0, sparseIDThreshold+1)
	if _, ok := tr.(*sparseSentTracker); !ok {
		t.Fatalf("expected sparse tracker for a wide id space, got %T", tr)
	}
}

func TestSentTrackerRoundTrip(t *testing.T) {
	for _, tr := range []sentTracker{
		newDenseSentTracker(100, 200),
		newSparseSentTracker(),
	} {
		rev, seq := tr.get(150)
		if rev != 0 || seq != 0 {
			t.Fatalf("expected zero value before any set, got (%d, %d)", rev, seq)
		}

		tr.set(150, 7, 42)

		rev, seq = tr.get(150)
		if rev != 7 || seq != 42 {
			t.Fatalf("expected (7, 42) after set, got (%d, %d)", rev, seq)
		}
	}
}
