package stategraph

import "github.com/randalmurphal/stategraph/pkg/stategraph/state"

// Snapshot is the state right after a node's update was merged.
// Step counts executed nodes, starting at 1.
type Snapshot struct {
	State state.Map
	Node  string
	Step  int
}

// snapshotRecorder collects snapshots for Stream. Invoke uses one with keep
// unset so only the callback sees them.
type snapshotRecorder struct {
	keep      bool
	snapshots []Snapshot
	callback  func(Snapshot)
}

func (r *snapshotRecorder) active() bool {
	return r.keep || r.callback != nil
}

func (r *snapshotRecorder) record(s Snapshot) {
	if r.keep {
		r.snapshots = append(r.snapshots, s)
	}
	if r.callback != nil {
		r.callback(s)
	}
}

// markTruncated tags the last snapshot's state as truncated.
func (r *snapshotRecorder) markTruncated() {
	if n := len(r.snapshots); n > 0 {
		st := r.snapshots[n-1].State.Clone()
		st[state.TruncatedField] = state.Bool(true)
		r.snapshots[n-1].State = st
	}
}
