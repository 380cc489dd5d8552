package dataset

import (
	"bytes"
	"testing"
	"time"

	"arkimet/internal/index"
	"arkimet/internal/manifest"
	"arkimet/internal/matcher"
	"arkimet/internal/metadata"
	"arkimet/internal/segment"
)

func newTestDataset(t *testing.T) (Config, *segment.Manager, *index.Index, manifest.Manifest) {
	t.Helper()
	root := t.TempDir()
	cfg := NewConfig(root, WithStep(StepDaily), WithUniqueKeys(metadata.ItemOrigin))

	mgr := segment.NewManager(root)
	idx, err := index.Open(root, cfg.UniqueKeys)
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	man, err := manifest.OpenPlain(root)
	if err != nil {
		t.Fatalf("manifest.OpenPlain: %v", err)
	}
	return cfg, mgr, idx, man
}

func sampleMD(origin string, t time.Time) (*metadata.Metadata, []byte) {
	md := &metadata.Metadata{
		Source:  metadata.NewInlineSource(metadata.FormatGRIB, 4),
		Reftime: metadata.Position(t),
	}
	md.Set(metadata.ItemOrigin, []byte(origin))
	return md, []byte("DATA")
}

func TestWriterAcquireOKThenDuplicate(t *testing.T) {
	cfg, mgr, idx, man := newTestDataset(t)
	w := NewWriter(cfg, mgr, idx, man, nil)

	md, data := sampleMD("a", time.Date(2007, 7, 8, 12, 0, 0, 0, time.UTC))
	outcome, err := w.Acquire(md, data)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if outcome != AcqOK {
		t.Fatalf("expected ACQ_OK, got %v", outcome)
	}
	if md.Source.Kind != metadata.SourceBlob {
		t.Errorf("expected source rewritten to Blob, got %v", md.Source.Kind)
	}

	md2, data2 := sampleMD("a", time.Date(2007, 7, 8, 13, 0, 0, 0, time.UTC))
	outcome2, err := w.Acquire(md2, data2)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if outcome2 != AcqDuplicate {
		t.Fatalf("expected ACQ_DUPLICATE for identical unique tuple, got %v", outcome2)
	}
}

func TestWriterAcquireDistinctUniqueKeysBothSucceed(t *testing.T) {
	cfg, mgr, idx, man := newTestDataset(t)
	w := NewWriter(cfg, mgr, idx, man, nil)

	md1, data1 := sampleMD("a", time.Date(2007, 7, 8, 12, 0, 0, 0, time.UTC))
	if _, err := w.Acquire(md1, data1); err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	md2, data2 := sampleMD("b", time.Date(2007, 7, 8, 13, 0, 0, 0, time.UTC))
	outcome, err := w.Acquire(md2, data2)
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	if outcome != AcqOK {
		t.Fatalf("expected ACQ_OK for distinct unique tuple, got %v", outcome)
	}
}

func TestReaderQueryDataAndBytes(t *testing.T) {
	cfg, mgr, idx, man := newTestDataset(t)
	w := NewWriter(cfg, mgr, idx, man, nil)

	md, data := sampleMD("a", time.Date(2007, 7, 8, 12, 0, 0, 0, time.UTC))
	if _, err := w.Acquire(md, data); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	r := NewReader(cfg, mgr, idx, man, nil)

	var found []*metadata.Metadata
	err := r.QueryData(matcher.AllMatcher{}, func(md *metadata.Metadata) error {
		found = append(found, md)
		return nil
	})
	if err != nil {
		t.Fatalf("QueryData: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 result, got %d", len(found))
	}

	var buf bytes.Buffer
	if err := r.QueryBytes(matcher.AllMatcher{}, ModeData, &buf); err != nil {
		t.Fatalf("QueryBytes: %v", err)
	}
	if buf.String() != "DATA" {
		t.Errorf("expected 'DATA', got %q", buf.String())
	}
}

func TestCheckerCheckReportsOK(t *testing.T) {
	cfg, mgr, idx, man := newTestDataset(t)
	w := NewWriter(cfg, mgr, idx, man, nil)

	md, data := sampleMD("a", time.Date(2007, 7, 8, 12, 0, 0, 0, time.UTC))
	if _, err := w.Acquire(md, data); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	c := NewChecker(cfg, mgr, idx, man, nil, nil, nil, nil)

	var okCount int
	reporter := Reporter{SegmentOK: func(string) { okCount++ }}
	if err := c.Check(reporter, false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if okCount != 1 {
		t.Errorf("expected 1 OK segment, got %d", okCount)
	}
}
