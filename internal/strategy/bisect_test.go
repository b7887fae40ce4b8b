package strategy

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agusx1211/halfreduce/internal/spectree"
	"github.com/agusx1211/halfreduce/internal/task"
)

func rootTaskWithBytes(t *testing.T, data []byte) *task.Task {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "bisect-root-")
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	tk := task.New(f, int64(len(data)))
	tk.Status = task.Success
	return tk
}

func TestBisectInitSeedsWholeInputAsOneChunk(t *testing.T) {
	b := NewBisect(BisectOptions{})
	root := rootTaskWithBytes(t, []byte("0123456789"))

	b.Init(root)

	assert.Equal(t, int64(0), root.User.Offset)
	assert.Equal(t, int64(10), root.User.ChunkSize)
}

func TestBisectExtendDeletesFirstChunk(t *testing.T) {
	b := NewBisect(BisectOptions{})
	root := rootTaskWithBytes(t, []byte("0123456789"))
	b.Init(root)

	tr := spectree.New(root)
	tr.Lock()
	defer tr.Unlock()

	tk, err := b.Extend(tr, tr.Root())
	require.NoError(t, err)
	require.NotNil(t, tk)
	defer tk.Bytes.Close()

	// Whole-input chunk deleted leaves nothing.
	assert.Equal(t, int64(0), tk.Size)
}

func TestBisectExtendAdvancesOffsetOnFailure(t *testing.T) {
	b := NewBisect(BisectOptions{})
	root := rootTaskWithBytes(t, []byte("01234567")) // 8 bytes
	root.User = task.Chunk{Offset: 0, ChunkSize: 4}

	tr := spectree.New(root)
	tr.Lock()
	defer tr.Unlock()

	failed := task.New(nil, 8)
	failed.Status = task.Failure
	failed.User = task.Chunk{Offset: 0, ChunkSize: 4}
	node := tr.NewChild(tr.Root(), false, failed)

	tk, err := b.Extend(tr, node)
	require.NoError(t, err)
	require.NotNil(t, tk)
	defer tk.Bytes.Close()

	assert.Equal(t, int64(4), tk.User.Offset)
	assert.Equal(t, int64(4), tk.User.ChunkSize)
}

func TestBisectExtendSkipEmptyStopsOnEmptySource(t *testing.T) {
	b := NewBisect(BisectOptions{SkipEmpty: true})
	root := rootTaskWithBytes(t, []byte{})
	root.User = task.Chunk{Offset: 0, ChunkSize: 0}

	tr := spectree.New(root)
	tr.Lock()
	defer tr.Unlock()

	tk, err := b.Extend(tr, tr.Root())
	require.NoError(t, err)
	assert.Nil(t, tk)
}

func TestBisectExtendWrapsAndHalvesChunksize(t *testing.T) {
	b := NewBisect(BisectOptions{})
	root := rootTaskWithBytes(t, []byte("01234567")) // 8 bytes

	tr := spectree.New(root)
	tr.Lock()
	defer tr.Unlock()

	// Pretend we already walked offset to the end with chunksize 8.
	failed := task.New(nil, 8)
	failed.Status = task.Failure
	failed.User = task.Chunk{Offset: 8, ChunkSize: 8}
	node := tr.NewChild(tr.Root(), false, failed)

	tk, err := b.Extend(tr, node)
	require.NoError(t, err)
	require.NotNil(t, tk)
	defer tk.Bytes.Close()

	assert.Equal(t, int64(0), tk.User.Offset)
	assert.Equal(t, int64(4), tk.User.ChunkSize)
}

// TestBisectExtendWrapCheckUsesParentsOwnSizeNotSourcesSize chains real
// Extend calls (an accepted deletion followed by two further rejections in
// the same chunksize cycle) so the node being extended from has its own
// (shrunk) Size diverge from its nearest-Success-ancestor's Size. If the
// wrap check used the ancestor's Size here, the walk would overshoot the
// ancestor's end and reproduce a candidate byte-identical to the
// already-accepted node — exactly what this test asserts never happens.
func TestBisectExtendWrapCheckUsesParentsOwnSizeNotSourcesSize(t *testing.T) {
	b := NewBisect(BisectOptions{})
	root := rootTaskWithBytes(t, []byte("01234567")) // 8 bytes
	root.User = task.Chunk{Offset: 0, ChunkSize: 2}

	tr := spectree.New(root)
	tr.Lock()
	defer tr.Unlock()

	// node1: delete [0,2) from root -> "234567", rejected.
	tk1, err := b.Extend(tr, tr.Root())
	require.NoError(t, err)
	require.NotNil(t, tk1)
	defer tk1.Bytes.Close()
	tk1.Status = task.Failure
	node1 := tr.NewChild(tr.Root(), false, tk1)

	// node2: delete [2,4) from root -> "014567", accepted. This is the
	// node whose bytes become the new source for everything below it.
	tk2, err := b.Extend(tr, node1)
	require.NoError(t, err)
	require.NotNil(t, tk2)
	defer tk2.Bytes.Close()
	tk2.Status = task.Success
	node2 := tr.NewChild(node1, true, tk2)

	// node3: still offset 2 (node2 succeeded, so the same window is
	// retried against the now-shrunk source) -> delete [2,4) from
	// "014567" -> "0167", rejected.
	tk3, err := b.Extend(tr, node2)
	require.NoError(t, err)
	require.NotNil(t, tk3)
	defer tk3.Bytes.Close()
	assert.Equal(t, int64(2), tk3.User.Offset)
	tk3.Status = task.Failure
	node3 := tr.NewChild(node2, false, tk3)

	// node4: offset advances to 4 -> delete [4,6) from "014567" -> "0145",
	// rejected. Still a fully in-range chunk, not yet the divergent case.
	tk4, err := b.Extend(tr, node3)
	require.NoError(t, err)
	require.NotNil(t, tk4)
	defer tk4.Bytes.Close()
	assert.Equal(t, int64(4), tk4.User.Offset)
	assert.Equal(t, int64(4), tk4.Size)
	tk4.Status = task.Failure
	node4 := tr.NewChild(node3, false, tk4)

	// node5: node4's own size (4) has already shrunk below node2's size
	// (6). offset(4)+chunksize(2)=6 would fit against node2's size but
	// not against node4's own — the wrap must trigger here, against 6,
	// halving chunksize to 1 and resetting offset to 0, rather than
	// advancing to offset=6 (which would re-delete nothing from node2's
	// 6-byte source and reproduce node2's own content).
	tk5, err := b.Extend(tr, node4)
	require.NoError(t, err)
	require.NotNil(t, tk5)
	defer tk5.Bytes.Close()

	assert.Equal(t, int64(0), tk5.User.Offset)
	assert.Equal(t, int64(1), tk5.User.ChunkSize)
	assert.Equal(t, int64(5), tk5.Size)

	got, err := io.ReadAll(tk5.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "14567", string(got))
	assert.NotEqual(t, "014567", string(got), "must not reproduce the already-accepted node2 candidate")
}

func TestBisectExtendSkipThresholdExhaustsInsteadOfTryingSmallerChunk(t *testing.T) {
	b := NewBisect(BisectOptions{SkipThreshold: 4})
	root := rootTaskWithBytes(t, []byte("0123")) // 4 bytes

	tr := spectree.New(root)
	tr.Lock()
	defer tr.Unlock()

	failed := task.New(nil, 4)
	failed.Status = task.Failure
	failed.User = task.Chunk{Offset: 4, ChunkSize: 4}
	node := tr.NewChild(tr.Root(), false, failed)

	tk, err := b.Extend(tr, node)
	require.NoError(t, err)
	assert.Nil(t, tk)
}
