package strategy

import (
	"github.com/agusx1211/halfreduce/internal/candidate"
	"github.com/agusx1211/halfreduce/internal/spectree"
	"github.com/agusx1211/halfreduce/internal/task"
)

// BisectOptions configures the delete-chunk strategy's shipped CLI knobs
// (spec §6 --bisect-skip-empty, --bisect-skip-threshold).
type BisectOptions struct {
	// SkipEmpty, if set, stops extending once the source is already
	// empty — there is nothing left to delete (original_source/bisect.c).
	SkipEmpty bool
	// SkipThreshold floors the smallest chunksize the strategy will ever
	// try; once a wrap would produce a chunksize below this, the cycle
	// is treated as exhausted instead of continuing down to 1.
	SkipThreshold int64
}

// Bisect is the chunk-delete strategy (spec §4.4): repeatedly deletes a
// shrinking, sliding window of bytes, keeping the deletion whenever the
// oracle still accepts it.
type Bisect struct {
	opts BisectOptions
}

// NewBisect returns a Bisect strategy with the given options.
func NewBisect(opts BisectOptions) *Bisect { return &Bisect{opts: opts} }

func (b *Bisect) Name() string        { return "bisect" }
func (b *Bisect) Description() string { return "delete a shrinking chunk of bytes (classic delta-debugging bisection)" }

// Init seeds the root task with the starting window: the whole input, one
// chunk.
func (b *Bisect) Init(root *task.Task) {
	root.User = task.Chunk{Offset: 0, ChunkSize: root.Size}
}

// Extend derives node's child candidate per spec §4.4.
func (b *Bisect) Extend(tree *spectree.Tree, node spectree.NodeID) (*task.Task, error) {
	parent := tree.Task(node)
	parent.Mu.Lock()
	offset, chunksize, parentSize := parent.User.Offset, parent.User.ChunkSize, parent.Size
	parent.Mu.Unlock()

	srcNode := NearestSuccessAncestor(tree, node)
	if srcNode == spectree.Invalid {
		return nil, nil
	}
	src := tree.Task(srcNode)
	src.Mu.Lock()
	size, bytes := src.Size, src.Bytes
	src.Mu.Unlock()

	if b.opts.SkipEmpty && size == 0 {
		return nil, nil
	}

	// The wrap check is against parent's own resulting size, not source's
	// size: a rejected deletion still shrinks the candidate that offset
	// and chunksize were walked against (original_source/bisect.c:129,
	// parent->size vs. source->size). Using source's size here lets the
	// offset walk one step past parent's real end, producing a candidate
	// identical to source itself.
	if offset+chunksize > parentSize {
		offset = 0
		chunksize >>= 1
		if b.opts.SkipThreshold > 0 && chunksize < b.opts.SkipThreshold {
			chunksize = 0
		}
	} else if tree.Status(node) != task.Success {
		offset += chunksize
	}
	// else: node (the parent) succeeded — a chunk was removed, don't
	// advance; try deleting the next chunk starting at the same offset
	// against the now-smaller source.

	if chunksize == 0 {
		return nil, nil
	}

	f, newSize, err := candidate.DeleteChunk(bytes, size, offset, chunksize, "")
	if err != nil {
		return nil, err
	}
	tk := task.New(f, newSize)
	tk.User = task.Chunk{Offset: offset, ChunkSize: chunksize}
	return tk, nil
}
