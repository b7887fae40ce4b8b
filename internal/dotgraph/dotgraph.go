// Package dotgraph renders the speculation tree as a Graphviz dot file
// (spec.md §6 "Optional visualization"), rewritten periodically during the
// run rather than only at exit — grounded in original_source/tree.c's
// generate_graph, which is called from the same progress-print path that
// drives the line/TUI progress reporting in internal/progress.
package dotgraph

import (
	"fmt"
	"io"
	"os"

	"github.com/agusx1211/halfreduce/internal/spectree"
	"github.com/agusx1211/halfreduce/internal/task"
)

// maxNodesBeforePruning is the node-count threshold past which discarded
// branches are omitted (spec §6: "When more than 100 nodes, discarded
// branches are pruned").
const maxNodesBeforePruning = 100

// Write renders tree (already locked by the caller — Render below handles
// locking for standalone callers) to w as a dot graph: nodes keyed by id
// with "<size> bytes" labels, edges labelled Failure/Success, colour-coded
// red/green/orange/grey for Failure/Success/Pending/Discarded.
func Write(w io.Writer, tree *spectree.Tree) error {
	nodeCount := 0
	tree.Walk(tree.Root(), func(spectree.NodeID) bool { nodeCount++; return true })
	prune := nodeCount > maxNodesBeforePruning

	if _, err := fmt.Fprintln(w, "digraph halfreduce {"); err != nil {
		return err
	}

	var werr error
	write := func(format string, args ...any) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(w, format, args...)
	}

	tree.Walk(tree.Root(), func(id spectree.NodeID) bool {
		status := tree.Status(id)
		if prune && status == task.Discarded {
			return false
		}
		label := "pending"
		size := int64(-1)
		if tk := tree.Task(id); tk != nil {
			tk.Mu.Lock()
			size = tk.Size
			tk.Mu.Unlock()
		}
		if size >= 0 {
			label = fmt.Sprintf("%d bytes", size)
		}
		write("  n%d [label=%q, color=%q, style=filled];\n", id, label, colorFor(status))

		for _, outcome := range [2]bool{false, true} {
			child := tree.Child(id, outcome)
			if child == spectree.Invalid {
				continue
			}
			if prune && tree.Status(child) == task.Discarded {
				continue
			}
			edgeLabel := "Failure"
			if outcome {
				edgeLabel = "Success"
			}
			write("  n%d -> n%d [label=%q];\n", id, child, edgeLabel)
		}
		return true
	})

	write("}\n")
	if werr != nil {
		return werr
	}
	return nil
}

// RenderToFile writes tree's current shape to path, truncating any
// previous contents — called from the driver's snapshot hook after every
// tree mutation, so --generate-dot stays live across the whole run rather
// than only reflecting the final state. It acquires tree's lock itself,
// so callers must not already hold it.
func RenderToFile(path string, tree *spectree.Tree) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dotgraph: create %s: %w", path, err)
	}
	defer f.Close()

	tree.Lock()
	defer tree.Unlock()
	return Write(f, tree)
}

func colorFor(s task.Status) string {
	switch s {
	case task.Failure:
		return "red"
	case task.Success:
		return "green"
	case task.Discarded:
		return "grey"
	default:
		return "orange"
	}
}
