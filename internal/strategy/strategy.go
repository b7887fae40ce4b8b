// Package strategy defines the reduction-strategy capability interface
// (spec §4.4, §9) and hosts the registry of shipped strategies — the only
// two ways the engine is told how to shrink a candidate: deleting a chunk
// or zeroing it.
//
// Mirrors the teacher's AgentRunner pattern (internal/agent/registry.go):
// a small capability interface plus a name-keyed registry, rather than a
// type-tagged union, so new strategies are additive.
package strategy

import (
	"github.com/agusx1211/halfreduce/internal/spectree"
	"github.com/agusx1211/halfreduce/internal/task"
)

// Strategy decides the next candidate to try at a given tree node. Init
// seeds the root task's per-task state; Extend derives a child task from
// an existing node. A nil, nil return from Extend means the search is
// exhausted along that node (spec §4.4, §4.1 step 4/5).
type Strategy interface {
	// Name is the registry key, e.g. "bisect" or "zero".
	Name() string
	// Description is a one-line summary for --help / `strategies`.
	Description() string
	// Init seeds root's per-task (offset, chunksize) state. Called
	// exactly once, on the verified-input root task.
	Init(root *task.Task)
	// Extend derives node's next child candidate. tree must be locked by
	// the caller (the driver calls this mid-traversal, spec §4.1).
	Extend(tree *spectree.Tree, node spectree.NodeID) (*task.Task, error)
}

// Registry is a name-keyed set of available strategies (the "strategy
// registry (name, description, options, callback)" collaborator named
// out-of-scope in spec §1, implemented here as the concrete client
// surface the core exposes).
type Registry struct {
	byName map[string]Strategy
	order  []string
}

// NewRegistry returns a Registry preloaded with the shipped strategies.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Strategy)}
	r.Register(NewBisect(BisectOptions{}))
	r.Register(NewZero(ZeroOptions{ZeroByte: 0}))
	return r
}

// Register adds (or replaces) a strategy.
func (r *Registry) Register(s Strategy) {
	if _, ok := r.byName[s.Name()]; !ok {
		r.order = append(r.order, s.Name())
	}
	r.byName[s.Name()] = s
}

// Get looks up a strategy by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Names returns registered strategy names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// NearestSuccessAncestor returns the nearest ancestor of node (possibly
// node itself) whose task is Success — the "source" bytes a new candidate
// is derived from (spec §4.4). Caller must hold tree.Lock.
func NearestSuccessAncestor(tree *spectree.Tree, node spectree.NodeID) spectree.NodeID {
	for cur := node; cur != spectree.Invalid; cur = tree.Parent(cur) {
		if tree.Status(cur) == task.Success {
			return cur
		}
	}
	return spectree.Invalid
}
