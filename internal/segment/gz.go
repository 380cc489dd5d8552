package segment

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"

	"arkimet/internal/metadata"
)

// gz is a gzip-compressed concat stream (§3); gzidx additionally
// maintains a `.gz.idx` block index (gzidx.go). GzReader.Read serves a
// random read with or without that index by decompressing from the
// start of the stream and discarding bytes up to the requested offset.

type GzReader struct {
	path    string
	idx     *GzBlockIndex // nil for plain gz (no seek index)
	gzBlock int64         // decompression block granularity
}

func OpenGzReader(path string, idx *GzBlockIndex) (*GzReader, error) {
	return &GzReader{path: path, idx: idx, gzBlock: 1 << 16}, nil
}

func (r *GzReader) Read(offset, size int64) ([]byte, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var seekPos, blockStart int64
	if r.idx != nil {
		sp, bs, err := r.idx.Lookup(uint64(offset))
		if err != nil {
			return nil, err
		}
		seekPos, blockStart = int64(sp), int64(bs)
	}

	if _, err := f.Seek(seekPos, io.SeekStart); err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	// GzWriter.Append always recompresses the whole stream into a single
	// gzip member starting at file position 0 (seekPos is always 0), so
	// decompression always resumes from uncompressed offset 0 regardless
	// of which block boundary Lookup returned; the skip is the full
	// offset, not offset-blockStart.
	_ = blockStart
	toSkip := offset
	if toSkip > 0 {
		if _, err := io.CopyN(io.Discard, gz, toSkip); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(gz, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *GzReader) Stream(w io.Writer, offset, size int64) (int64, error) {
	data, err := r.Read(offset, size)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (r *GzReader) ScanData(fn func(data []byte, offset int64) error) error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return err
	}
	return fn(raw, 0)
}

func (r *GzReader) Close() error { return nil }

// GzWriter rebuilds a whole gz/gzidx segment from scratch on each append
// (the underlying stream is append-only but recompression requires the
// block to be closed, so the writer buffers uncompressed content and
// flushes a new gzip member per commit, recording a fresh block boundary
// in the .gz.idx sidecar when one is present).
type GzWriter struct {
	path      string
	idxPath   string
	idx       *GzBlockIndex
	uncompLen int64
}

func OpenGzWriter(path, idxPath string, withIdx bool) (*GzWriter, error) {
	w := &GzWriter{path: path, idxPath: idxPath}
	if fi, err := os.Stat(path); err == nil {
		if raw, derr := decompressAll(path); derr == nil {
			w.uncompLen = int64(len(raw))
		} else {
			w.uncompLen = fi.Size()
		}
	}
	if withIdx {
		idx, err := OpenGzBlockIndex(idxPath)
		if err != nil {
			return nil, err
		}
		w.idx = idx
	}
	return w, nil
}

func decompressAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// Append decompresses the existing stream, appends data, and recompresses
// the whole thing as a new gzip member, recording the new block boundary.
// This mirrors concat's transaction contract (pre-size capture, rewrite,
// rollback restores the previous file) at the cost of O(n) recompression
// per append; acceptable since gz/gzidx segments are written once at
// repack time and rarely appended to directly (§4.1: repack must
// uncompress first to write into a `.gz` file).
func (w *GzWriter) Append(data []byte) (*Transaction, error) {
	var prior []byte
	if _, err := os.Stat(w.path); err == nil {
		var derr error
		prior, derr = decompressAll(w.path)
		if derr != nil {
			return nil, derr
		}
	}
	preSize := int64(len(prior))
	offset := preSize

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	if _, err := gzw.Write(prior); err != nil {
		return nil, err
	}
	if _, err := gzw.Write(data); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}

	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return nil, err
	}

	return NewTransaction(offset, int64(len(data)),
		func() error {
			if err := os.Rename(tmpPath, w.path); err != nil {
				return err
			}
			w.uncompLen = preSize + int64(len(data))
			if w.idx != nil {
				return w.idx.Append(uint64(offset), 0)
			}
			return nil
		},
		func() error { return os.Remove(tmpPath) },
	), nil
}

func (w *GzWriter) Close() error {
	if w.idx != nil {
		return w.idx.Close()
	}
	return nil
}

type GzChecker struct {
	path string
	idx  *GzBlockIndex
}

func OpenGzChecker(path string, idx *GzBlockIndex) (*GzChecker, error) {
	return &GzChecker{path: path, idx: idx}, nil
}

func (c *GzChecker) Size() (int64, error) {
	raw, err := decompressAll(c.path)
	if err != nil {
		return 0, err
	}
	return int64(len(raw)), nil
}

func (c *GzChecker) Check(expectedMDs []*metadata.Metadata, quick bool, validate func(data []byte) error) (State, error) {
	raw, err := decompressAll(c.path)
	if err != nil {
		return StateCorrupted, nil
	}
	var state State
	var lastEnd int64
	for _, md := range expectedMDs {
		if md.Source.Kind != metadata.SourceBlob {
			continue
		}
		off, sz := md.Source.Offset, md.Source.Size
		if off < lastEnd || off+sz > int64(len(raw)) {
			state |= StateUnaligned
			continue
		}
		if !quick && validate != nil {
			if err := validate(raw[off : off+sz]); err != nil {
				state |= StateUnaligned
			}
		}
		lastEnd = off + sz
	}
	return state, nil
}

// Repack decompresses, reorders per mds, and recompresses as one gzip
// member, rebuilding the .gz.idx sidecar if present.
func (c *GzChecker) Repack(mds []*metadata.Metadata) (*Transaction, error) {
	raw, err := decompressAll(c.path)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	newOffsets := make([]int64, len(mds))
	var pos int64
	for i, md := range mds {
		off, sz := md.Source.Offset, md.Source.Size
		if off+sz > int64(len(raw)) {
			return nil, ErrOffsetOutOfRange
		}
		out.Write(raw[off : off+sz])
		newOffsets[i] = pos
		pos += sz
	}

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(out.Bytes()); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}

	tmpPath := c.path + ".repack"
	if err := os.WriteFile(tmpPath, compressed.Bytes(), 0644); err != nil {
		return nil, err
	}

	return NewTransaction(0, pos,
		func() error {
			if err := os.Rename(tmpPath, c.path); err != nil {
				return err
			}
			for i, md := range mds {
				md.Source = metadata.NewBlobSource(md.Source.Format, md.Source.BaseDir, md.Source.RelPath, newOffsets[i], md.Source.Size)
			}
			return nil
		},
		func() error { return os.Remove(tmpPath) },
	), nil
}

func (c *GzChecker) Remove() error {
	_ = os.Remove(c.path)
	if c.idx != nil {
		return c.idx.Delete()
	}
	return nil
}

func (c *GzChecker) Close() error { return nil }

func (c *GzChecker) TestTruncate(offset int64) error {
	raw, err := decompressAll(c.path)
	if err != nil {
		return err
	}
	if offset > int64(len(raw)) {
		offset = int64(len(raw))
	}
	return compressAndReplace(c.path, raw[:offset])
}

func (c *GzChecker) TestMakeHole(holeOffset, holeSize int64) error {
	raw, err := decompressAll(c.path)
	if err != nil {
		return err
	}
	out := make([]byte, 0, int64(len(raw))+holeSize)
	out = append(out, raw[:holeOffset]...)
	out = append(out, make([]byte, holeSize)...)
	out = append(out, raw[holeOffset:]...)
	return compressAndReplace(c.path, out)
}

func (c *GzChecker) TestMakeOverlap(shrinkLastBy int64) error {
	raw, err := decompressAll(c.path)
	if err != nil {
		return err
	}
	return compressAndReplace(c.path, raw[:int64(len(raw))-shrinkLastBy])
}

func (c *GzChecker) TestCorrupt(at int64) error {
	raw, err := decompressAll(c.path)
	if err != nil {
		return err
	}
	if at >= int64(len(raw)) {
		return ErrOffsetOutOfRange
	}
	raw[at] ^= 0xFF
	return compressAndReplace(c.path, raw)
}

func compressAndReplace(path string, raw []byte) error {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	if _, err := gzw.Write(raw); err != nil {
		return err
	}
	if err := gzw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
