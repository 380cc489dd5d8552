package segment

import (
	"archive/zip"
	"io"
	"os"

	"arkimet/internal/metadata"
)

// zip is the zip-backed read-mostly archive backend, same member-naming
// scheme as tar (§4.1): "records are zip members with names as in tar."

type ZipReader struct {
	path string
}

func OpenZipReader(path string) (*ZipReader, error) {
	return &ZipReader{path: path}, nil
}

func (r *ZipReader) open() (*zip.ReadCloser, error) {
	return zip.OpenReader(r.path)
}

func (r *ZipReader) memberByOrdinal(ord int64, format metadata.Format) ([]byte, error) {
	zr, err := r.open()
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	name := dirMemberName(ord, format)
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, ErrNotFound
}

func (r *ZipReader) Read(offset, _ int64) ([]byte, error) {
	return nil, ErrReadOnly // callers should use ScanData; zip offsets are ordinal, not byte positions
}

func (r *ZipReader) Stream(w io.Writer, offset, size int64) (int64, error) {
	return 0, ErrReadOnly
}

func (r *ZipReader) ScanData(fn func(data []byte, offset int64) error) error {
	zr, err := r.open()
	if err != nil {
		return err
	}
	defer zr.Close()
	for i, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		if err := fn(data, int64(i)); err != nil {
			return err
		}
	}
	return nil
}

func (r *ZipReader) Close() error { return nil }

func WriteZip(path string, format metadata.Format, members [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for i, data := range members {
		w, err := zw.Create(dirMemberName(int64(i), format))
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return zw.Close()
}

type ZipChecker struct {
	path   string
	format metadata.Format
}

func OpenZipChecker(path string, format metadata.Format) (*ZipChecker, error) {
	return &ZipChecker{path: path, format: format}, nil
}

func (c *ZipChecker) Size() (int64, error) {
	fi, err := os.Stat(c.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (c *ZipChecker) Check(expectedMDs []*metadata.Metadata, quick bool, validate func(data []byte) error) (State, error) {
	r := &ZipReader{path: c.path}
	var state State
	count := 0
	err := r.ScanData(func(data []byte, offset int64) error {
		count++
		if !quick && validate != nil {
			return validate(data)
		}
		return nil
	})
	if err != nil {
		state |= StateUnaligned
	}
	if count != len(expectedMDs) {
		state |= StateMissing
	}
	return state, nil
}

func (c *ZipChecker) Repack(mds []*metadata.Metadata) (*Transaction, error) {
	return nil, ErrReadOnly
}

func (c *ZipChecker) Remove() error {
	return os.Remove(c.path)
}

func (c *ZipChecker) Close() error { return nil }

func (c *ZipChecker) TestTruncate(offset int64) error {
	return os.Truncate(c.path, offset)
}

func (c *ZipChecker) TestMakeHole(_, _ int64) error { return ErrReadOnly }
func (c *ZipChecker) TestMakeOverlap(_ int64) error { return ErrReadOnly }
func (c *ZipChecker) TestCorrupt(at int64) error {
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
