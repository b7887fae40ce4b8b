// Package candidate builds the anonymous temporary file backing a new
// Task's bytes: given a source file descriptor and an (offset, chunksize)
// pair, it produces either a chunk-deleted or chunk-zeroed copy (spec
// §4.4). Every produced file is opened, then immediately unlinked, so the
// OS reclaims its space the moment the owning Task is closed — no
// temporary file is ever left behind, mirroring the original's anonymous
// scratch-file handling (and the teacher's own temp-scratch use in
// internal/recording).
package candidate

import (
	"fmt"
	"io"
	"os"
)

// DefaultTempDir is the directory new candidate files are created under
// before being unlinked. Overridable for tests.
var DefaultTempDir = os.TempDir()

// newAnonFile creates, then immediately unlinks, a temp file in dir (or
// DefaultTempDir). The returned *os.File remains usable (its data lives
// only in the underlying inode) until closed.
func newAnonFile(dir string) (*os.File, error) {
	if dir == "" {
		dir = DefaultTempDir
	}
	f, err := os.CreateTemp(dir, "halfreduce-*")
	if err != nil {
		return nil, fmt.Errorf("candidate: create temp file: %w", err)
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, fmt.Errorf("candidate: unlink temp file: %w", err)
	}
	return f, nil
}

// Clone copies size bytes from source into a fresh anonymous file, used to
// give the root task its own owned copy of the original input (the driver
// must not hold or close the caller's fd, per spec §4.1's "no state leaks"
// postcondition).
func Clone(source io.ReaderAt, size int64, dir string) (*os.File, error) {
	f, err := newAnonFile(dir)
	if err != nil {
		return nil, err
	}
	if err := copyRange(f, source, 0, size); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// DeleteChunk builds a new candidate containing source[0:offset] followed
// by source[offset+chunksize:sourceSize] — i.e. the chunk
// [offset,offset+chunksize) removed. Returns the new file and its length.
func DeleteChunk(source io.ReaderAt, sourceSize, offset, chunksize int64, dir string) (*os.File, int64, error) {
	if chunksize < 0 || offset < 0 || offset > sourceSize {
		return nil, 0, fmt.Errorf("candidate: invalid delete range offset=%d chunksize=%d size=%d", offset, chunksize, sourceSize)
	}

	f, err := newAnonFile(dir)
	if err != nil {
		return nil, 0, err
	}

	if err := copyRange(f, source, 0, offset); err != nil {
		f.Close()
		return nil, 0, err
	}

	tailStart := offset + chunksize
	var newSize int64
	if tailStart <= sourceSize {
		if err := copyRange(f, source, tailStart, sourceSize-tailStart); err != nil {
			f.Close()
			return nil, 0, err
		}
		newSize = sourceSize - chunksize
	} else {
		// Chunk extends past EOF: only the head survives.
		newSize = offset
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, newSize, nil
}

// ZeroChunk builds a new candidate equal to source but with chunksize
// bytes at offset replaced by zeroByte. Length is unchanged.
func ZeroChunk(source io.ReaderAt, sourceSize, offset, chunksize int64, zeroByte byte, dir string) (*os.File, int64, error) {
	if chunksize < 0 || offset < 0 || offset > sourceSize {
		return nil, 0, fmt.Errorf("candidate: invalid zero range offset=%d chunksize=%d size=%d", offset, chunksize, sourceSize)
	}

	f, err := newAnonFile(dir)
	if err != nil {
		return nil, 0, err
	}

	if err := copyRange(f, source, 0, offset); err != nil {
		f.Close()
		return nil, 0, err
	}

	end := offset + chunksize
	if end > sourceSize {
		end = sourceSize
	}
	fill := make([]byte, end-offset)
	for i := range fill {
		fill[i] = zeroByte
	}
	if _, err := f.Write(fill); err != nil {
		f.Close()
		return nil, 0, err
	}

	if end < sourceSize {
		if err := copyRange(f, source, end, sourceSize-end); err != nil {
			f.Close()
			return nil, 0, err
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, sourceSize, nil
}

// ReadRange reads n bytes from src at off, for the zero strategy's
// already-zero skip check (spec §4.4).
func ReadRange(src io.ReaderAt, off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := src.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

func copyRange(dst io.Writer, src io.ReaderAt, off, n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := io.Copy(dst, io.NewSectionReader(src, off, n))
	return err
}
