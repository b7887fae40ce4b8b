package candidate

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "candidate-src-")
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func readAll(t *testing.T, f *os.File) []byte {
	t.Helper()
	_, err := f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestCloneCopiesBytesIntoAnUnlinkedFile(t *testing.T) {
	src := sourceFile(t, []byte("hello world"))

	clone, err := Clone(src, 11, "")
	require.NoError(t, err)
	defer clone.Close()

	assert.Equal(t, []byte("hello world"), readAll(t, clone))
	assertUnlinked(t, clone)
}

func TestDeleteChunkMiddle(t *testing.T) {
	src := sourceFile(t, []byte("0123456789"))

	f, newSize, err := DeleteChunk(src, 10, 3, 4, "")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(6), newSize)
	assert.Equal(t, []byte("012789"), readAll(t, f))
}

func TestDeleteChunkPastEOFTruncatesToHead(t *testing.T) {
	src := sourceFile(t, []byte("0123456789"))

	f, newSize, err := DeleteChunk(src, 10, 8, 100, "")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(8), newSize)
	assert.Equal(t, []byte("01234567"), readAll(t, f))
}

func TestDeleteChunkRejectsInvalidRange(t *testing.T) {
	src := sourceFile(t, []byte("abc"))

	_, _, err := DeleteChunk(src, 3, 10, 1, "")
	assert.Error(t, err)
}

func TestZeroChunkOverwritesRangeKeepingSize(t *testing.T) {
	src := sourceFile(t, []byte("0123456789"))

	f, newSize, err := ZeroChunk(src, 10, 3, 4, 'x', "")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(10), newSize)
	assert.Equal(t, []byte("012xxxx789"), readAll(t, f))
}

func TestZeroChunkClampsToSourceEnd(t *testing.T) {
	src := sourceFile(t, []byte("0123456789"))

	f, newSize, err := ZeroChunk(src, 10, 8, 100, '0', "")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(10), newSize)
	assert.Equal(t, []byte("0123456700"), readAll(t, f))
}

func TestReadRangeReadsExactBytes(t *testing.T) {
	src := sourceFile(t, []byte("0123456789"))

	data, err := ReadRange(src, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("234"), data)
}

func TestReadRangeZeroLength(t *testing.T) {
	src := sourceFile(t, []byte("0123456789"))

	data, err := ReadRange(src, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func assertUnlinked(t *testing.T, f *os.File) {
	t.Helper()
	_, err := os.Stat(f.Name())
	assert.True(t, os.IsNotExist(err), "expected candidate file to be unlinked from the filesystem")
}
