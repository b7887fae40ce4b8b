package spectree

import (
	"time"

	"github.com/agusx1211/halfreduce/internal/task"
)

// Collapse compresses the tree's finalized prefix (spec §4.2): the
// deepest Success node on the success spine is relinked directly under
// the root, and the deepest finalized node reachable from there is
// relinked directly under that Success. Everything detached in between is
// spliced into the retired forest, and every task found in it is returned
// for the caller to hand to the reaper. Caller must hold Lock.
func (t *Tree) Collapse() []*task.Task {
	var retired []*task.Task

	s := t.FindFinalizedNode(t.root, true)
	if s == Invalid || s == t.root {
		return nil
	}

	rootBranch := t.Status(t.root) == task.Success // always true: root is always Success
	oldChild := t.Detach(t.root, rootBranch)
	if oldChild != s {
		t.SpliceRetired(oldChild)
		t.collectSkipping(oldChild, s, &retired)
	}
	t.Relink(s, t.root, rootBranch)

	d := t.FindFinalizedNode(s, false)
	if d != Invalid && d != s {
		sBranch := t.Status(s) == task.Success // true: s is a Success node
		oldChild2 := t.Detach(s, sBranch)
		if oldChild2 != d {
			t.SpliceRetired(oldChild2)
			t.collectSkipping(oldChild2, d, &retired)
		}
		t.Relink(d, s, sBranch)
	}

	var elapsed time.Duration
	for _, tk := range retired {
		tk.Mu.Lock()
		elapsed += tk.Timer
		tk.Mu.Unlock()
	}
	t.addCollapsedTime(elapsed)

	return retired
}

// collectSkipping walks start's subtree collecting every non-nil task,
// except it does not descend into (or collect) keep's own subtree — keep
// remains live and is relinked elsewhere by the caller.
func (t *Tree) collectSkipping(start, keep NodeID, out *[]*task.Task) {
	t.Walk(start, func(id NodeID) bool {
		if id == keep {
			return false
		}
		if tk := t.arena[id].task; tk != nil {
			*out = append(*out, tk)
		}
		return true
	})
}
