package sender

import "github.com/lancaster-data/lancaster/internal/dict"

// sparseIDThreshold is the id-space width above which the sender tracks
// per-identifier last-transmitted (revision, sequence) pairs in a sparse
// dict instead of a dense array indexed by id-BaseID. Most deployments
// have a compact id space and want the dense array's flat memory and
// branchless indexing; a handful declare a very wide id space with few
// identifiers actually in use, where a dense array would be mostly empty.
const sparseIDThreshold = 1 << 20

// sentTracker records, per identifier, the revision and sequence number
// under which it was last transmitted to clients.
type sentTracker interface {
	get(id int64) (revision, sequence int64)
	set(id, revision, sequence int64)
}

func newSentTracker(baseID, maxID int64) sentTracker {
	if maxID-baseID <= sparseIDThreshold {
		return newDenseSentTracker(baseID, maxID)
	}
	return newSparseSentTracker()
}

type denseSentTracker struct {
	baseID   int64
	revision []int64
	sequence []int64
}

func newDenseSentTracker(baseID, maxID int64) *denseSentTracker {
	n := maxID - baseID
	return &denseSentTracker{
		baseID:   baseID,
		revision: make([]int64, n),
		sequence: make([]int64, n),
	}
}

func (d *denseSentTracker) get(id int64) (int64, int64) {
	idx := id - d.baseID
	return d.revision[idx], d.sequence[idx]
}

func (d *denseSentTracker) set(id, revision, sequence int64) {
	idx := id - d.baseID
	d.revision[idx] = revision
	d.sequence[idx] = sequence
}

type sparseSentTracker struct {
	entries *dict.Dict[int64, dict.Entry]
}

func newSparseSentTracker() *sparseSentTracker {
	return &sparseSentTracker{entries: dict.New[int64, dict.Entry](1024, dict.Int64Hash)}
}

func (s *sparseSentTracker) get(id int64) (int64, int64) {
	e, ok := s.entries.Lookup(id)
	if !ok {
		return 0, 0
	}
	return e.Revision, e.Sequence
}

func (s *sparseSentTracker) set(id, revision, sequence int64) {
	s.entries.Insert(id, dict.Entry{Revision: revision, Sequence: sequence})
}
