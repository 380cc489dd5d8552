package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arkimet/internal/index"
	"arkimet/internal/lockfile"
	"arkimet/internal/manifest"
	"arkimet/internal/metadata"
	"arkimet/internal/scanner"
	"arkimet/internal/segment"
	"arkimet/internal/summary"
	"arkimet/internal/validator"
)

// Reporter receives one callback per segment per Checker pass (§4.6):
// "a set of per-event callbacks used for human output and test
// assertions". A nil field is simply skipped.
type Reporter struct {
	SegmentOK                func(relPath string)
	SegmentRepacked          func(relPath string)
	SegmentArchived          func(relPath string)
	SegmentDeleted           func(relPath string)
	SegmentRescanned         func(relPath string)
	SegmentManualIntervention func(relPath string, state segment.State)
}

func (r Reporter) ok(relPath string) {
	if r.SegmentOK != nil {
		r.SegmentOK(relPath)
	}
}
func (r Reporter) repacked(relPath string) {
	if r.SegmentRepacked != nil {
		r.SegmentRepacked(relPath)
	}
}
func (r Reporter) archived(relPath string) {
	if r.SegmentArchived != nil {
		r.SegmentArchived(relPath)
	}
}
func (r Reporter) deleted(relPath string) {
	if r.SegmentDeleted != nil {
		r.SegmentDeleted(relPath)
	}
}
func (r Reporter) rescanned(relPath string) {
	if r.SegmentRescanned != nil {
		r.SegmentRescanned(relPath)
	}
}
func (r Reporter) manual(relPath string, state segment.State) {
	if r.SegmentManualIntervention != nil {
		r.SegmentManualIntervention(relPath, state)
	}
}

// Checker implements §4.6: classify every segment, then optionally fix
// (rescan UNALIGNED, deindex MISSING/DELETED) or repack (compact DIRTY,
// archive ARCHIVE_AGE, remove DELETE_AGE). Grounded on
// RetentionCleaner.cleanupAll (iterate registered units, apply policy)
// and Segment.recover() (scan bytes, reconcile state).
type Checker struct {
	cfg     Config
	mgr     *segment.Manager
	idx     *index.Index
	man     manifest.Manifest
	cache   *summary.Cache
	scan    scanner.Scanner
	valid   validator.Validator
	log     *zap.SugaredLogger
}

func NewChecker(cfg Config, mgr *segment.Manager, idx *index.Index, man manifest.Manifest, cache *summary.Cache, scan scanner.Scanner, valid validator.Validator, log *zap.SugaredLogger) *Checker {
	if valid == nil {
		valid = validator.Null{}
	}
	if log == nil {
		l, _ := zap.NewProduction()
		log = l.Sugar()
	}
	return &Checker{cfg: cfg, mgr: mgr, idx: idx, man: man, cache: cache, scan: scan, valid: valid, log: log}
}

// classify determines a segment's State by cross-checking the index's
// view against the on-disk checker, plus archive/delete-age advisories
// derived from its manifest timespan.
func (c *Checker) classify(relPath string, format metadata.Format) (segment.State, []*metadata.Metadata, error) {
	var expected []*metadata.Metadata
	err := c.idx.ScanFile(relPath, func(md *metadata.Metadata) error {
		expected = append(expected, md)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	absPath := absSegmentPath(c.cfg.Root, relPath)
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			if len(expected) > 0 {
				return segment.StateMissing, expected, nil
			}
			return segment.StateDeleted, expected, nil
		}
		return 0, nil, err
	}

	checker, err := c.mgr.OpenChecker(relPath, format)
	if err != nil {
		return segment.StateCorrupted, expected, nil
	}

	state, err := checker.Check(expected, true, func(data []byte) error {
		return c.valid.ValidateBuf(format, data)
	})
	if err != nil {
		return segment.StateCorrupted, expected, nil
	}

	if c.cfg.ArchiveAge > 0 || c.cfg.DeleteAge > 0 {
		if _, end, ok, err := c.idx.SegmentTimespan(relPath); err == nil && ok {
			cutoffArchive := time.Now().Add(-c.cfg.ArchiveAge)
			cutoffDelete := time.Now().Add(-c.cfg.DeleteAge)
			switch {
			case c.cfg.DeleteAge > 0 && end.Before(cutoffDelete):
				state |= segment.StateDeleteAge
			// A segment already under .archive/last/ has already made the
			// archive-age transition; queries still reach it there via the
			// index row archiveSegment renamed rather than deindexed, so it
			// is not re-classified as ARCHIVE_AGE (which would attempt to
			// move it again). It remains eligible for DELETE_AGE above.
			case !isArchived(relPath) && c.cfg.ArchiveAge > 0 && end.Before(cutoffArchive):
				state |= segment.StateArchiveAge
			}
		}
	}

	return state, expected, nil
}

// Check iterates every indexed segment, classifies it, and reports via
// reporter; when fix is true it applies the minimal safe repair
// (rescan UNALIGNED, deindex MISSING/DELETED) without touching bytes.
func (c *Checker) Check(reporter Reporter, fix bool) error {
	relPaths, err := c.idx.ListSegments()
	if err != nil {
		return err
	}

	flag := lockfile.NewNeedsCheckFlag(c.cfg.Root)
	anyCorrupted := false

	for _, relPath := range relPaths {
		format := formatFromRelPath(relPath)
		state, _, err := c.classify(relPath, format)
		if err != nil {
			return fmt.Errorf("check: classifying %s: %w", relPath, err)
		}

		switch {
		case state.Has(segment.StateCorrupted):
			anyCorrupted = true
			if err := flag.Set(fmt.Sprintf("segment %s failed validation", relPath)); err != nil {
				return fmt.Errorf("check: setting needs-check flag: %w", err)
			}
			reporter.manual(relPath, state)
		case state.Has(segment.StateUnaligned):
			if fix {
				if err := c.RescanSegment(relPath, format); err != nil {
					return fmt.Errorf("check: rescanning %s: %w", relPath, err)
				}
			}
			reporter.rescanned(relPath)
		case state.Has(segment.StateMissing), state.Has(segment.StateDeleted):
			if fix {
				if err := c.idx.TestDeindex(relPath); err != nil {
					return err
				}
				if err := c.man.Remove(relPath); err != nil {
					return err
				}
			}
			reporter.deleted(relPath)
		default:
			reporter.ok(relPath)
		}
	}

	// A check that finds no corrupted segments clears the needs-check
	// rail (§7); repack stays refused until that happens.
	if fix && !anyCorrupted {
		if err := flag.Clear(); err != nil {
			return fmt.Errorf("check: clearing needs-check flag: %w", err)
		}
	}
	if fix {
		return c.man.Flush()
	}
	return nil
}

// Repack drives the byte-level maintenance operations: compacting DIRTY
// segments, archiving ARCHIVE_AGE ones, and deleting DELETE_AGE ones.
// Refuses to run if the needs-check-do-not-pack flag is present (§4.6).
func (c *Checker) Repack(reporter Reporter, doIt bool) error {
	flag := lockfile.NewNeedsCheckFlag(c.cfg.Root)
	if flag.Present() {
		return fmt.Errorf("repack: needs-check-do-not-pack flag present, run check first")
	}

	relPaths, err := c.idx.ListSegments()
	if err != nil {
		return err
	}

	for _, relPath := range relPaths {
		format := formatFromRelPath(relPath)
		state, expected, err := c.classify(relPath, format)
		if err != nil {
			return fmt.Errorf("repack: classifying %s: %w", relPath, err)
		}

		switch {
		case state.Has(segment.StateDeleteAge):
			if doIt {
				if err := c.deleteSegment(relPath); err != nil {
					return err
				}
			}
			reporter.deleted(relPath)
		case state.Has(segment.StateArchiveAge):
			if doIt {
				if err := c.archiveSegment(relPath, format, expected); err != nil {
					return err
				}
			}
			reporter.archived(relPath)
		case state.Has(segment.StateDirty):
			if doIt {
				if err := c.repackSegment(relPath, format, expected); err != nil {
					return err
				}
			}
			reporter.repacked(relPath)
		default:
			reporter.ok(relPath)
		}
	}
	return nil
}

func (c *Checker) repackSegment(relPath string, format metadata.Format, expected []*metadata.Metadata) error {
	jobID := uuid.New()
	c.log.Infow("repack: starting", "job_id", jobID, "relpath", relPath)

	lock, err := lockfile.RepackLock(c.cfg.Root, relPath)
	if err != nil {
		return fmt.Errorf("repack: locking %s: %w", relPath, err)
	}
	defer lock.Unlock()

	checker, err := c.mgr.OpenChecker(relPath, format)
	if err != nil {
		return err
	}

	oldOffsets := make([]int64, len(expected))
	for i, md := range expected {
		oldOffsets[i] = md.Source.Offset
	}

	tx, err := checker.Repack(expected)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	c.mgr.Registry().Invalidate(absSegmentPath(c.cfg.Root, relPath))

	// Repack reorders bytes in place; it never adds, removes, or
	// re-derives a message's identity, so the surviving rows are
	// relocated to their post-repack (offset, size) rather than
	// re-indexed through the unique-tuple dedup path.
	for i, md := range expected {
		if err := c.idx.Relocate(relPath, oldOffsets[i], md.Source.Offset, md.Source.Size); err != nil {
			return err
		}
	}

	month := time.Date(expected[0].Reftime.Begin.Year(), expected[0].Reftime.Begin.Month(), 1, 0, 0, 0, 0, time.UTC)
	if c.cache != nil {
		_ = c.cache.Invalidate(month)
	}
	c.log.Infow("repack: completed", "job_id", jobID, "relpath", relPath)
	return nil
}

// archiveDirName is the relpath prefix segments are moved under once
// they cross archive-age; queries keep reaching them there because the
// index row is renamed in place rather than removed (§4.6 scenario 5:
// "queries on the dataset still return it").
const archiveDirName = ".archive/last"

func isArchived(relPath string) bool {
	return strings.HasPrefix(relPath, archiveDirName+"/")
}

func (c *Checker) archiveSegment(relPath string, format metadata.Format, expected []*metadata.Metadata) error {
	archiveRoot := absSegmentPath(c.cfg.Root, archiveDirName)
	if err := os.MkdirAll(archiveRoot, 0755); err != nil {
		return err
	}
	archiveRelPath := archiveDirName + "/" + relPath
	src := absSegmentPath(c.cfg.Root, relPath)
	dst := absSegmentPath(c.cfg.Root, archiveRelPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	// Renaming the index row (rather than deindexing it) is what keeps
	// the segment reachable from Reader.QueryData/QueryBytes after
	// archiving: both read exclusively through c.idx, never the
	// manifest, so the dataset's "live" listing (manifest) can drop the
	// segment while the index still resolves its bytes at the new path.
	if err := c.idx.TestRename(relPath, archiveRelPath); err != nil {
		return err
	}
	return c.man.Remove(relPath)
}

func (c *Checker) deleteSegment(relPath string) error {
	checker, err := c.mgr.OpenChecker(relPath, formatFromRelPath(relPath))
	if err == nil {
		_ = checker.Remove()
	} else {
		_ = os.Remove(absSegmentPath(c.cfg.Root, relPath))
	}
	if err := c.idx.TestDeindex(relPath); err != nil {
		return err
	}
	return c.man.Remove(relPath)
}

// RescanSegment rescans relPath's on-disk bytes, re-acquires each
// message into the index, and updates the manifest entry (§4.6).
func (c *Checker) RescanSegment(relPath string, format metadata.Format) error {
	if c.scan == nil {
		return fmt.Errorf("rescan: no scanner configured")
	}
	if err := c.idx.TestDeindex(relPath); err != nil {
		return err
	}

	absPath := absSegmentPath(c.cfg.Root, relPath)
	fi, err := os.Stat(absPath)
	if err != nil {
		return err
	}

	var begin, end time.Time
	first := true

	f, err := os.Open(absPath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanErr := c.scan.ScanSegment(f, fi.Size(), func(md *metadata.Metadata) error {
		md.Source.RelPath = relPath
		if _, _, err := c.idx.Index(md, relPath, md.Source.Offset); err != nil {
			return err
		}
		if first || md.Reftime.Begin.Before(begin) {
			begin = md.Reftime.Begin
		}
		if first || md.Reftime.End.After(end) {
			end = md.Reftime.End
		}
		first = false
		return nil
	})
	if scanErr != nil {
		return scanErr
	}

	if !first {
		if err := c.man.Acquire(relPath, fi.ModTime().UTC(), begin, end); err != nil {
			return err
		}
		return c.man.Flush()
	}
	return nil
}

func formatFromRelPath(relPath string) metadata.Format {
	ext := relPath
	for i := len(relPath) - 1; i >= 0; i-- {
		if relPath[i] == '.' {
			ext = relPath[i+1:]
			break
		}
	}
	return metadata.Format(ext)
}

