package segment

import (
	"archive/tar"
	"bytes"
	"io"
	"os"

	"arkimet/internal/metadata"
)

// tar is a read-only archive backend produced by repack (§4.1: "no live
// append is supported by this core; tar segments are write-only via
// repack"). Members are named NNNNNN.<format> like the dir backend, and
// offset addresses the member's data start, 512-byte aligned.

type TarReader struct {
	path string
}

func OpenTarReader(path string) (*TarReader, error) {
	return &TarReader{path: path}, nil
}

func (r *TarReader) Read(offset, size int64) ([]byte, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *TarReader) Stream(w io.Writer, offset, size int64) (int64, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, io.NewSectionReader(f, offset, size))
}

func (r *TarReader) ScanData(fn func(data []byte, offset int64) error) error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	var pos int64 = 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		dataStart := pos + 512 // past the tar header block
		data := make([]byte, hdr.Size)
		if _, err := io.ReadFull(tr, data); err != nil {
			return err
		}
		if err := fn(data, dataStart); err != nil {
			return err
		}
		blocks := (hdr.Size + 511) / 512
		pos = dataStart + blocks*512
	}
	return nil
}

func (r *TarReader) Close() error { return nil }

// WriteTar writes members, in order, as the members of a fresh tar file
// at path.
func WriteTar(path string, format metadata.Format, members [][]byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for i, data := range members {
		hdr := &tar.Header{
			Name: dirMemberName(int64(i), format),
			Mode: 0644,
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

type TarChecker struct {
	path string
}

func OpenTarChecker(path string) (*TarChecker, error) {
	return &TarChecker{path: path}, nil
}

func (c *TarChecker) Size() (int64, error) {
	fi, err := os.Stat(c.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (c *TarChecker) Check(expectedMDs []*metadata.Metadata, quick bool, validate func(data []byte) error) (State, error) {
	r := &TarReader{path: c.path}
	offsets := make(map[int64]bool)
	var scanErr error
	_ = r.ScanData(func(data []byte, offset int64) error {
		offsets[offset] = true
		if !quick && validate != nil {
			if err := validate(data); err != nil {
				scanErr = err
			}
		}
		return nil
	})
	var state State
	if scanErr != nil {
		state |= StateUnaligned
	}
	for _, md := range expectedMDs {
		if md.Source.Kind == metadata.SourceBlob && !offsets[md.Source.Offset] {
			state |= StateMissing
		}
	}
	return state, nil
}

func (c *TarChecker) Repack(mds []*metadata.Metadata) (*Transaction, error) {
	return nil, ErrReadOnly
}

func (c *TarChecker) Remove() error {
	return os.Remove(c.path)
}

func (c *TarChecker) Close() error { return nil }

func (c *TarChecker) TestTruncate(offset int64) error {
	return os.Truncate(c.path, offset)
}

func (c *TarChecker) TestMakeHole(_, _ int64) error    { return ErrReadOnly }
func (c *TarChecker) TestMakeOverlap(_ int64) error    { return ErrReadOnly }
func (c *TarChecker) TestCorrupt(at int64) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	if at >= int64(len(data)) {
		return ErrOffsetOutOfRange
	}
	data[at] ^= 0xFF
	return os.WriteFile(c.path, data, 0644)
}
