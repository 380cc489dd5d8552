package index

import (
	"testing"
	"time"

	"arkimet/internal/metadata"
)

func sampleMetadata(origin string, begin time.Time) *metadata.Metadata {
	md := &metadata.Metadata{
		Source:  metadata.NewBlobSource(metadata.FormatGRIB, "", "2007/07-08.grib", 0, 100),
		Reftime: metadata.Position(begin),
	}
	md.Set(metadata.ItemOrigin, []byte(origin))
	return md
}

func TestIndexInsertAndDuplicate(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, []metadata.ItemCode{metadata.ItemOrigin})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	md := sampleMetadata("GRIB1(200,0,0)", time.Date(2007, 7, 8, 13, 0, 0, 0, time.UTC))
	outcome, _, err := idx.Index(md, "2007/07-08.grib", 0)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if outcome != Inserted {
		t.Fatalf("expected Inserted, got %v", outcome)
	}

	outcome, existing, err := idx.Index(md, "2007/07-08.grib", 100)
	if err != nil {
		t.Fatalf("Index (dup): %v", err)
	}
	if outcome != Duplicate {
		t.Fatalf("expected Duplicate for identical unique tuple, got %v", outcome)
	}
	if existing.RelPath != "2007/07-08.grib" || existing.Offset != 0 {
		t.Errorf("unexpected existing blob: %+v", existing)
	}
}

func TestIndexListAndScanFile(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, []metadata.ItemCode{metadata.ItemOrigin})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	base := time.Date(2007, 7, 8, 0, 0, 0, 0, time.UTC)
	md1 := sampleMetadata("a", base)
	md1.Source.Offset = 0
	md2 := sampleMetadata("b", base.Add(time.Hour))
	md2.Source.Offset = 100

	if _, _, err := idx.Index(md1, "2007/07-08.grib", 0); err != nil {
		t.Fatalf("Index md1: %v", err)
	}
	if _, _, err := idx.Index(md2, "2007/07-08.grib", 100); err != nil {
		t.Fatalf("Index md2: %v", err)
	}

	segs, err := idx.ListSegments()
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 1 || segs[0] != "2007/07-08.grib" {
		t.Fatalf("unexpected segments: %v", segs)
	}

	has, err := idx.HasSegment("2007/07-08.grib")
	if err != nil || !has {
		t.Fatalf("HasSegment: %v %v", has, err)
	}

	var offsets []int64
	err = idx.ScanFile("2007/07-08.grib", func(md *metadata.Metadata) error {
		offsets = append(offsets, md.Source.Offset)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if len(offsets) != 2 || offsets[0] != 0 || offsets[1] != 100 {
		t.Errorf("expected offsets [0 100], got %v", offsets)
	}
}

func TestIndexTestMaintenanceHelpers(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, []metadata.ItemCode{metadata.ItemOrigin})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	base := time.Date(2007, 7, 8, 0, 0, 0, 0, time.UTC)
	md := sampleMetadata("a", base)
	if _, _, err := idx.Index(md, "old.grib", 0); err != nil {
		t.Fatalf("Index: %v", err)
	}

	if err := idx.TestRename("old.grib", "new.grib"); err != nil {
		t.Fatalf("TestRename: %v", err)
	}
	has, _ := idx.HasSegment("new.grib")
	if !has {
		t.Error("expected new.grib to be indexed after rename")
	}

	if err := idx.TestDeindex("new.grib"); err != nil {
		t.Fatalf("TestDeindex: %v", err)
	}
	has, _ = idx.HasSegment("new.grib")
	if has {
		t.Error("expected new.grib to be gone after deindex")
	}
}
