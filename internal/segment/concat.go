package segment

import (
	"io"
	"os"

	"arkimet/internal/metadata"
)

// concat is the flat append-only backend used for GRIB/BUFR (§3, §4.1):
// bytes are appended end to end with no framing at all, so offsets and
// sizes come entirely from the index/metadata sidecar. Grounded on the
// teacher's segment.Log, but generalized from a fixed-size mmap'd
// preallocation to plain growable os.File I/O, since arkimet concat
// segments have no size ceiling to preallocate against.

type ConcatReader struct {
	f *os.File
}

func OpenConcatReader(path string) (*ConcatReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &ConcatReader{f: f}, nil
}

func (r *ConcatReader) Read(offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *ConcatReader) Stream(w io.Writer, offset, size int64) (int64, error) {
	return io.Copy(w, io.NewSectionReader(r.f, offset, size))
}

func (r *ConcatReader) ScanData(fn func(data []byte, offset int64) error) error {
	// A concat segment has no self-framing; without a sidecar a scan can
	// only hand the whole remaining stream to the format scanner, which
	// is responsible for splitting it into messages (§6.4). The core
	// here exposes the raw bytes starting at offset 0.
	fi, err := r.f.Stat()
	if err != nil {
		return err
	}
	data := make([]byte, fi.Size())
	if _, err := r.f.ReadAt(data, 0); err != nil && err != io.EOF {
		return err
	}
	return fn(data, 0)
}

func (r *ConcatReader) Close() error {
	return r.f.Close()
}

type ConcatWriter struct {
	f *os.File
}

func OpenConcatWriter(path string) (*ConcatWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &ConcatWriter{f: f}, nil
}

// Append writes data starting at the file's current end and returns a
// Transaction: commit fdatasyncs, rollback ftruncates back to pre_size
// (§4.1's concat/lines transaction contract).
func (w *ConcatWriter) Append(data []byte) (*Transaction, error) {
	fi, err := w.f.Stat()
	if err != nil {
		return nil, err
	}
	preSize := fi.Size()

	if _, err := w.f.WriteAt(data, preSize); err != nil {
		_ = w.f.Truncate(preSize)
		return nil, err
	}

	return NewTransaction(preSize, int64(len(data)),
		func() error { return w.f.Sync() },
		func() error { return w.f.Truncate(preSize) },
	), nil
}

func (w *ConcatWriter) Close() error {
	return w.f.Close()
}

type ConcatChecker struct {
	path string
	f    *os.File
}

func OpenConcatChecker(path string) (*ConcatChecker, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &ConcatChecker{path: path, f: f}, nil
}

func (c *ConcatChecker) Size() (int64, error) {
	fi, err := c.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Check verifies ordering/overlap of expectedMDs' Blob offsets against
// the segment's actual size, and optionally (quick=false) re-validates
// each record's bytes via the caller-supplied format validator.
func (c *ConcatChecker) Check(expectedMDs []*metadata.Metadata, quick bool, validate func(data []byte) error) (State, error) {
	size, err := c.Size()
	if err != nil {
		return 0, err
	}

	var state State
	var lastEnd int64
	for _, md := range expectedMDs {
		if md.Source.Kind != metadata.SourceBlob {
			continue
		}
		off, sz := md.Source.Offset, md.Source.Size
		if off < lastEnd {
			state |= StateUnaligned
		}
		if off+sz > size {
			state |= StateUnaligned
			continue
		}
		if !quick && validate != nil {
			buf := make([]byte, sz)
			if _, err := c.f.ReadAt(buf, off); err != nil {
				state |= StateCorrupted
				continue
			}
			if err := validate(buf); err != nil {
				state |= StateUnaligned
			}
		}
		lastEnd = off + sz
	}
	if lastEnd < size {
		state |= StateDirty
	}
	return state, nil
}

// Repack rewrites the segment compactly, containing exactly mds in
// order, and rewrites each md's Source to the new offset.
func (c *ConcatChecker) Repack(mds []*metadata.Metadata) (*Transaction, error) {
	tmpPath := c.path + ".repack"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	var pos int64
	newOffsets := make([]int64, len(mds))
	for i, md := range mds {
		buf := make([]byte, md.Source.Size)
		if _, err := c.f.ReadAt(buf, md.Source.Offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return nil, err
		}
		if _, err := tmp.WriteAt(buf, pos); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return nil, err
		}
		newOffsets[i] = pos
		pos += md.Source.Size
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	tmp.Close()

	return NewTransaction(0, pos,
		func() error {
			if err := os.Rename(tmpPath, c.path); err != nil {
				return err
			}
			f, err := os.OpenFile(c.path, os.O_RDWR, 0644)
			if err != nil {
				return err
			}
			c.f.Close()
			c.f = f
			for i, md := range mds {
				md.Source = metadata.NewBlobSource(md.Source.Format, md.Source.BaseDir, md.Source.RelPath, newOffsets[i], md.Source.Size)
			}
			return nil
		},
		func() error { return os.Remove(tmpPath) },
	), nil
}

func (c *ConcatChecker) Remove() error {
	c.f.Close()
	return os.Remove(c.path)
}

func (c *ConcatChecker) Close() error {
	return c.f.Close()
}

func (c *ConcatChecker) TestTruncate(offset int64) error {
	return c.f.Truncate(offset)
}

func (c *ConcatChecker) TestMakeHole(holeOffset, holeSize int64) error {
	fi, err := c.f.Stat()
	if err != nil {
		return err
	}
	tail := make([]byte, fi.Size()-holeOffset)
	if _, err := c.f.ReadAt(tail, holeOffset); err != nil && err != io.EOF {
		return err
	}
	if _, err := c.f.WriteAt(tail, holeOffset+holeSize); err != nil {
		return err
	}
	zeros := make([]byte, holeSize)
	_, err = c.f.WriteAt(zeros, holeOffset)
	return err
}

func (c *ConcatChecker) TestMakeOverlap(shrinkLastBy int64) error {
	fi, err := c.f.Stat()
	if err != nil {
		return err
	}
	return c.f.Truncate(fi.Size() - shrinkLastBy)
}

func (c *ConcatChecker) TestCorrupt(at int64) error {
	buf := make([]byte, 1)
	if _, err := c.f.ReadAt(buf, at); err != nil {
		return err
	}
	buf[0] ^= 0xFF
	_, err := c.f.WriteAt(buf, at)
	return err
}
