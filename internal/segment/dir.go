package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"arkimet/internal/metadata"
)

// dir is the one-file-per-record backend used for ODIM/HDF5, NetCDF and
// JPEG (§3, §4.1): each record is `NNNNNN.<format>` inside a directory,
// and a `.sequence` file holds the next ordinal to assign. Offset ==
// ordinal. Grounded on the teacher's partition.scanSegments (enumerate,
// sort, parse numeric filenames out of a directory listing) and
// file_io.RemoveFiles (side-car cleanup on remove).

const sequenceFileName = ".sequence"

func dirMemberName(ordinal int64, format metadata.Format) string {
	return fmt.Sprintf("%06d.%s", ordinal, format)
}

func readSequence(dir string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(dir, sequenceFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func writeSequence(dir string, n int64) error {
	tmp := filepath.Join(dir, sequenceFileName+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(n, 10)), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, sequenceFileName))
}

// scanDirOrdinals lists the member ordinals present in dir, sorted
// ascending, ignoring .sequence and anything that doesn't parse as
// NNNNNN.<ext>.
func scanDirOrdinals(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ordinals []int64
	for _, e := range entries {
		if e.IsDir() || e.Name() == sequenceFileName {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		n, err := strconv.ParseInt(base, 10, 64)
		if err != nil {
			continue
		}
		ordinals = append(ordinals, n)
	}
	sort.Slice(ordinals, func(i, j int) bool { return ordinals[i] < ordinals[j] })
	return ordinals, nil
}

type DirReader struct {
	dir    string
	format metadata.Format
}

func OpenDirReader(dir string, format metadata.Format) (*DirReader, error) {
	return &DirReader{dir: dir, format: format}, nil
}

func (r *DirReader) Read(offset, _ int64) ([]byte, error) {
	return os.ReadFile(filepath.Join(r.dir, dirMemberName(offset, r.format)))
}

func (r *DirReader) Stream(w io.Writer, offset, _ int64) (int64, error) {
	f, err := os.Open(filepath.Join(r.dir, dirMemberName(offset, r.format)))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

func (r *DirReader) ScanData(fn func(data []byte, offset int64) error) error {
	ordinals, err := scanDirOrdinals(r.dir)
	if err != nil {
		return err
	}
	for _, ord := range ordinals {
		data, err := r.Read(ord, 0)
		if err != nil {
			return err
		}
		if err := fn(data, ord); err != nil {
			return err
		}
	}
	return nil
}

func (r *DirReader) Close() error { return nil }

type DirWriter struct {
	dir    string
	format metadata.Format
	hole   bool // HoleDirManager: ftruncate-only sparse files for fixtures
}

func OpenDirWriter(dir string, format metadata.Format, hole bool) (*DirWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DirWriter{dir: dir, format: format, hole: hole}, nil
}

// Append allocates the next ordinal, writes data to a temp file, and
// returns a Transaction that renames it into place on commit or unlinks
// it on rollback (§4.1's dir transaction contract).
func (w *DirWriter) Append(data []byte) (*Transaction, error) {
	next, err := readSequence(w.dir)
	if err != nil {
		return nil, err
	}

	finalPath := filepath.Join(w.dir, dirMemberName(next, w.format))
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if w.hole {
		err = f.Truncate(int64(len(data)))
	} else {
		_, err = f.Write(data)
	}
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	f.Close()

	return NewTransaction(next, int64(len(data)),
		func() error {
			if err := os.Rename(tmpPath, finalPath); err != nil {
				return err
			}
			return writeSequence(w.dir, next+1)
		},
		func() error { return os.Remove(tmpPath) },
	), nil
}

func (w *DirWriter) Close() error { return nil }

type DirChecker struct {
	dir    string
	format metadata.Format
}

func OpenDirChecker(dir string, format metadata.Format) (*DirChecker, error) {
	return &DirChecker{dir: dir, format: format}, nil
}

func (c *DirChecker) Size() (int64, error) {
	ordinals, err := scanDirOrdinals(c.dir)
	if err != nil {
		return 0, err
	}
	if len(ordinals) == 0 {
		return 0, nil
	}
	return ordinals[len(ordinals)-1] + 1, nil
}

func (c *DirChecker) Check(expectedMDs []*metadata.Metadata, quick bool, validate func(data []byte) error) (State, error) {
	onDisk, err := scanDirOrdinals(c.dir)
	if err != nil {
		return 0, err
	}
	onDiskSet := make(map[int64]bool, len(onDisk))
	for _, o := range onDisk {
		onDiskSet[o] = true
	}

	var state State
	seen := make(map[int64]bool, len(expectedMDs))
	for _, md := range expectedMDs {
		if md.Source.Kind != metadata.SourceBlob {
			continue
		}
		ord := md.Source.Offset
		seen[ord] = true
		if !onDiskSet[ord] {
			state |= StateMissing
			continue
		}
		if !quick && validate != nil {
			data, err := os.ReadFile(filepath.Join(c.dir, dirMemberName(ord, c.format)))
			if err != nil {
				state |= StateCorrupted
				continue
			}
			if err := validate(data); err != nil {
				state |= StateUnaligned
			}
		}
	}
	for _, ord := range onDisk {
		if !seen[ord] {
			state |= StateDirty
		}
	}
	return state, nil
}

// Repack rewrites the directory so it contains exactly one file per
// entry of mds, renumbered densely from 0, then rewrites mds' sources.
func (c *DirChecker) Repack(mds []*metadata.Metadata) (*Transaction, error) {
	tmpDir := c.dir + ".repack"
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, err
	}

	newOrdinals := make([]int64, len(mds))
	newSizes := make([]int64, len(mds))
	for i, md := range mds {
		data, err := os.ReadFile(filepath.Join(c.dir, dirMemberName(md.Source.Offset, c.format)))
		if err != nil {
			os.RemoveAll(tmpDir)
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(tmpDir, dirMemberName(int64(i), c.format)), data, 0644); err != nil {
			os.RemoveAll(tmpDir)
			return nil, err
		}
		newOrdinals[i] = int64(i)
		newSizes[i] = int64(len(data))
	}
	if err := writeSequence(tmpDir, int64(len(mds))); err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	return NewTransaction(0, int64(len(mds)),
		func() error {
			backup := c.dir + ".prev"
			if err := os.Rename(c.dir, backup); err != nil && !os.IsNotExist(err) {
				return err
			}
			if err := os.Rename(tmpDir, c.dir); err != nil {
				return err
			}
			os.RemoveAll(backup)
			for i, md := range mds {
				md.Source = metadata.NewBlobSource(md.Source.Format, md.Source.BaseDir, md.Source.RelPath, newOrdinals[i], newSizes[i])
			}
			return nil
		},
		func() error { return os.RemoveAll(tmpDir) },
	), nil
}

func (c *DirChecker) Remove() error {
	return os.RemoveAll(c.dir)
}

func (c *DirChecker) Close() error { return nil }

func (c *DirChecker) TestTruncate(offset int64) error {
	ordinals, err := scanDirOrdinals(c.dir)
	if err != nil {
		return err
	}
	for _, ord := range ordinals {
		if ord >= offset {
			if err := os.Remove(filepath.Join(c.dir, dirMemberName(ord, c.format))); err != nil {
				return err
			}
		}
	}
	return writeSequence(c.dir, offset)
}

func (c *DirChecker) TestMakeHole(holeOffset, _ int64) error {
	return os.Remove(filepath.Join(c.dir, dirMemberName(holeOffset, c.format)))
}

func (c *DirChecker) TestMakeOverlap(_ int64) error {
	ordinals, err := scanDirOrdinals(c.dir)
	if err != nil || len(ordinals) < 2 {
		return err
	}
	last := ordinals[len(ordinals)-1]
	secondLast := ordinals[len(ordinals)-2]
	data, err := os.ReadFile(filepath.Join(c.dir, dirMemberName(last, c.format)))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, dirMemberName(secondLast, c.format)), data, 0644)
}

func (c *DirChecker) TestCorrupt(at int64) error {
	path := filepath.Join(c.dir, dirMemberName(at, c.format))
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	data[0] ^= 0xFF
	return os.WriteFile(path, data, 0644)
}
