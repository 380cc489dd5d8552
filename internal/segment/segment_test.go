package segment

import (
	"bytes"
	"path/filepath"
	"testing"

	"arkimet/internal/metadata"
)

func TestConcatAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.grib")

	w, err := OpenConcatWriter(path)
	if err != nil {
		t.Fatalf("OpenConcatWriter: %v", err)
	}

	tx1, err := w.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if tx1.Offset != 0 {
		t.Errorf("expected first offset 0, got %d", tx1.Offset)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := w.Append([]byte("world!"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if tx2.Offset != 5 {
		t.Errorf("expected second offset 5 (offset monotonicity), got %d", tx2.Offset)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	w.Close()

	r, err := OpenConcatReader(path)
	if err != nil {
		t.Fatalf("OpenConcatReader: %v", err)
	}
	defer r.Close()

	data, err := r.Read(5, 6)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, []byte("world!")) {
		t.Errorf("expected %q, got %q", "world!", data)
	}
}

func TestConcatAppendRollback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.grib")

	w, err := OpenConcatWriter(path)
	if err != nil {
		t.Fatalf("OpenConcatWriter: %v", err)
	}
	defer w.Close()

	tx, err := w.Append([]byte("committed"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := w.Append([]byte("will be rolled back"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tx2.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	c, err := OpenConcatChecker(path)
	if err != nil {
		t.Fatalf("OpenConcatChecker: %v", err)
	}
	defer c.Close()
	size, err := c.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len("committed")) {
		t.Errorf("rollback did not restore pre-append size: got %d, want %d", size, len("committed"))
	}
}

func TestLinesAppendFraming(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.vm2")

	w, err := OpenLinesWriter(path)
	if err != nil {
		t.Fatalf("OpenLinesWriter: %v", err)
	}
	defer w.Close()

	tx, err := w.Append([]byte("20070101,0,1234,1"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	wantSize := int64(len("20070101,0,1234,1") + 1) // includes trailing newline
	if tx.Size != wantSize {
		t.Errorf("expected size %d (with newline), got %d", wantSize, tx.Size)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestDirWriterOrdinalsAndRecovery(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenDirWriter(dir, metadata.FormatODIMH5, false)
	if err != nil {
		t.Fatalf("OpenDirWriter: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		tx, err := w.Append([]byte{byte(i)})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if tx.Offset != int64(i) {
			t.Errorf("expected ordinal %d, got %d", i, tx.Offset)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}

	r, err := OpenDirReader(dir, metadata.FormatODIMH5)
	if err != nil {
		t.Fatalf("OpenDirReader: %v", err)
	}
	defer r.Close()

	var seen []int64
	err = r.ScanData(func(data []byte, offset int64) error {
		seen = append(seen, offset)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanData: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 records, got %d", len(seen))
	}
}

func TestSelectBackend(t *testing.T) {
	cases := []struct {
		name    string
		format  metadata.Format
		probe   LayoutProbe
		want    BackendTag
		wantErr bool
	}{
		{"grib regular file", metadata.FormatGRIB, LayoutProbe{IsRegularFile: true}, BackendConcat, false},
		{"grib missing defaults concat", metadata.FormatGRIB, LayoutProbe{Missing: true}, BackendConcat, false},
		{"grib dir with sequence", metadata.FormatGRIB, LayoutProbe{IsDir: true, HasSequence: true}, BackendDir, false},
		{"vm2 plain", metadata.FormatVM2, LayoutProbe{IsRegularFile: true}, BackendLines, false},
		{"vm2 gzip no idx", metadata.FormatVM2, LayoutProbe{IsGzip: true}, BackendGz, false},
		{"vm2 gzip with idx", metadata.FormatVM2, LayoutProbe{IsGzip: true, HasGzIdxSidecar: true}, BackendGzIdx, false},
		{"odimh5 always dir", metadata.FormatODIMH5, LayoutProbe{IsRegularFile: true}, BackendDir, false},
		{"tar sidecar wins", metadata.FormatGRIB, LayoutProbe{IsRegularFile: true, HasTarSidecar: true}, BackendTar, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SelectBackend(tc.format, tc.probe)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectBackend: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected backend %s, got %s", tc.want, got)
			}
		})
	}
}

func TestRegistryInvalidationOnRepack(t *testing.T) {
	reg := NewRegistry()
	dir := t.TempDir()
	path := filepath.Join(dir, "seg.grib")

	loads := 0
	loader := func() (Reader, error) {
		loads++
		return OpenConcatReader(path)
	}

	w, _ := OpenConcatWriter(path)
	tx, _ := w.Append([]byte("data"))
	tx.Commit()
	w.Close()

	r1, err := reg.Get(path, loader)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	reg.Release(path)

	r2, err := reg.Get(path, loader)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r1 != r2 {
		t.Errorf("expected cached reader to be reused before invalidation")
	}
	reg.Release(path)

	reg.Invalidate(path)
	if _, err := reg.Get(path, loader); err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if loads != 2 {
		t.Errorf("expected exactly one reload after invalidation, got %d total loads", loads)
	}
}

func TestStateString(t *testing.T) {
	s := StateDirty | StateArchiveAge
	got := s.String()
	if got != "DIRTY,ARCHIVE_AGE" {
		t.Errorf("unexpected State.String(): %q", got)
	}
	if StateOK.String() != "OK" {
		t.Errorf("expected OK for zero state")
	}
}
