package dataset

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"arkimet/internal/errs"
	"arkimet/internal/index"
	"arkimet/internal/lockfile"
	"arkimet/internal/manifest"
	"arkimet/internal/metadata"
	"arkimet/internal/segment"
)

// AcquireResult reports the outcome of one Writer.Acquire call.
type AcquireResult int

const (
	AcqOK AcquireResult = iota
	AcqDuplicate
	AcqError
)

func (r AcquireResult) String() string {
	switch r {
	case AcqOK:
		return "ACQ_OK"
	case AcqDuplicate:
		return "ACQ_DUPLICATE"
	default:
		return "ACQ_ERROR"
	}
}

// Writer implements the Acquire pipeline of §4.5, grounded on the
// teacher's Partition.Append (lock → write → roll) and
// broker.handleProduce (request → storage → response).
type Writer struct {
	cfg     Config
	mgr     *segment.Manager
	idx     *index.Index
	man     manifest.Manifest
	log     *zap.SugaredLogger
}

func NewWriter(cfg Config, mgr *segment.Manager, idx *index.Index, man manifest.Manifest, log *zap.SugaredLogger) *Writer {
	if log == nil {
		l, _ := zap.NewProduction()
		log = l.Sugar()
	}
	return &Writer{cfg: cfg, mgr: mgr, idx: idx, man: man, log: log}
}

// Acquire runs the pipeline of §4.5 against one incoming message: pick
// a segment, append, index (which detects a duplicate unique tuple),
// commit the append, then record the segment in the manifest. An
// indexing error or a duplicate rolls the append back; a failed commit
// removes the new index row. A manifest update or flush failure is
// returned with the append and the index row already committed.
func (w *Writer) Acquire(md *metadata.Metadata, data []byte) (AcquireResult, error) {
	relPath := w.cfg.Step.RelPath(md.Reftime, md.Source.Format) + "." + string(md.Source.Format)

	lock, err := lockfile.AppendLock(w.cfg.Root, relPath)
	if err != nil {
		return AcqError, errs.NewStorageError(err, errs.CodeIO, "acquire: taking append lock").WithRelPath(relPath)
	}
	defer lock.Unlock()

	writer, err := w.mgr.OpenWriter(relPath, md.Source.Format)
	if err != nil {
		return AcqError, errs.NewStorageError(err, errs.CodeIO, "acquire: opening segment writer").WithRelPath(relPath)
	}
	defer writer.Close()

	tx, err := writer.Append(data)
	if err != nil {
		return AcqError, errs.NewStorageError(err, errs.CodeIO, "acquire: appending to segment").WithRelPath(relPath)
	}

	newMD := *md
	newMD.Source = metadata.NewBlobSource(md.Source.Format, w.cfg.Root, relPath, tx.Offset, tx.Size)

	outcome, existing, err := w.idx.Index(&newMD, relPath, tx.Offset)
	if err != nil {
		_ = tx.Rollback()
		return AcqError, errs.NewStorageError(err, errs.CodeIO, "acquire: indexing metadata").WithRelPath(relPath)
	}
	if outcome == index.Duplicate {
		_ = tx.Rollback()
		w.log.Debugw("acquire: duplicate unique tuple", "relpath", relPath, "existing", existing)
		return AcqDuplicate, nil
	}

	if err := tx.Commit(); err != nil {
		_ = w.idx.TestMakeHole(relPath, tx.Offset)
		return AcqError, errs.NewStorageError(err, errs.CodeIO, "acquire: committing append").WithRelPath(relPath)
	}

	begin, end := manifest.ReftimeBounds(newMD.Reftime)
	mtime, ok := statMtime(absSegmentPath(w.cfg.Root, relPath))
	if !ok {
		mtime = time.Now().UTC()
	}
	if err := w.man.Acquire(relPath, mtime, begin, end); err != nil {
		return AcqError, fmt.Errorf("acquire: updating manifest: %w", err)
	}
	if err := w.man.Flush(); err != nil {
		return AcqError, fmt.Errorf("acquire: flushing manifest: %w", err)
	}

	*md = newMD
	w.log.Infow("acquire: indexed message", "relpath", relPath, "offset", tx.Offset, "size", tx.Size)
	return AcqOK, nil
}
