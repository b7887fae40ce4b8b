package strategy

import (
	"github.com/agusx1211/halfreduce/internal/candidate"
	"github.com/agusx1211/halfreduce/internal/spectree"
	"github.com/agusx1211/halfreduce/internal/task"
)

// ZeroOptions configures the chunk-zero strategy's shipped CLI knob (spec
// §6 --zero-char).
type ZeroOptions struct {
	// ZeroByte is the fill byte written over a zeroed chunk. Despite the
	// name it need not be 0; --zero-char selects it.
	ZeroByte byte
}

// Zero is the chunk-zero strategy (spec §4.4): repeatedly overwrites a
// shrinking-on-wrap, sliding window with a fixed fill byte, keeping it
// whenever the oracle still accepts it. Unlike Bisect it never changes the
// candidate's length.
type Zero struct {
	opts ZeroOptions
}

// NewZero returns a Zero strategy with the given options.
func NewZero(opts ZeroOptions) *Zero { return &Zero{opts: opts} }

func (z *Zero) Name() string        { return "zero" }
func (z *Zero) Description() string { return "overwrite a shrinking chunk of bytes with a fixed fill byte" }

func (z *Zero) Init(root *task.Task) {
	root.User = task.Chunk{Offset: 0, ChunkSize: root.Size}
}

// Extend derives node's child candidate per spec §4.4. Unlike Bisect, the
// candidate size never shrinks, and a cheap ancestor/already-zero skip
// loop runs before any file is built, avoiding a wasted oracle call on a
// chunk that's already known to produce no change.
func (z *Zero) Extend(tree *spectree.Tree, node spectree.NodeID) (*task.Task, error) {
	parent := tree.Task(node)
	offset, chunksize := parent.User.Offset, parent.User.ChunkSize

	srcNode := NearestSuccessAncestor(tree, node)
	if srcNode == spectree.Invalid {
		return nil, nil
	}
	src := tree.Task(srcNode)
	src.Mu.Lock()
	size, bytes := src.Size, src.Bytes
	src.Mu.Unlock()

	for {
		if offset+chunksize > size {
			offset = 0
			chunksize >>= 1
		} else if tree.Status(node) != task.Success {
			offset += chunksize
		} else {
			// node succeeded: the chunk just zeroed may still have room to
			// widen at the same starting position — double it, capped at
			// the remaining source length. No room left to widen means
			// this starting position is exhausted.
			widened := chunksize * 2
			if offset+widened > size {
				widened = size - offset
			}
			if widened <= chunksize {
				chunksize = 0
			} else {
				chunksize = widened
			}
		}

		if chunksize == 0 {
			return nil, nil
		}

		// Encapsulation check first (cheap integer comparisons against
		// tracked ancestors) before the already-zero byte-read check
		// (spec §9 open question resolution).
		if z.encapsulated(tree, node, offset, chunksize) {
			continue
		}

		data, err := candidate.ReadRange(bytes, offset, chunksize)
		if err != nil {
			return nil, err
		}
		if allEqual(data, z.opts.ZeroByte) {
			continue
		}
		break
	}

	f, newSize, err := candidate.ZeroChunk(bytes, size, offset, chunksize, z.opts.ZeroByte, "")
	if err != nil {
		return nil, err
	}
	tk := task.New(f, newSize)
	tk.User = task.Chunk{Offset: offset, ChunkSize: chunksize}
	return tk, nil
}

// encapsulated reports whether [offset, offset+chunksize) is fully
// contained in some Success ancestor's already-zeroed region.
func (z *Zero) encapsulated(tree *spectree.Tree, node spectree.NodeID, offset, chunksize int64) bool {
	end := offset + chunksize
	for cur := node; cur != spectree.Invalid; cur = tree.Parent(cur) {
		if tree.Status(cur) != task.Success {
			continue
		}
		c := tree.Task(cur).User
		if c.ChunkSize > 0 && c.Offset <= offset && end <= c.Offset+c.ChunkSize {
			return true
		}
	}
	return false
}

func allEqual(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}
