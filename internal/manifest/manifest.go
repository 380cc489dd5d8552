// Package manifest implements the simple-dataset manifest (§4.3): a
// top-level, relpath-sorted list of segment summaries kept beside the
// per-segment `.metadata`/`.summary` sidecars. It exists in two
// interchangeable serializations selected by `index_type`: `plain` (an
// atomically-rewritten MANIFEST text file) and `sqlite` (a WAL-journaled
// table). Grounded on the teacher's Partition.scanSegments (enumerate,
// parse, sort) generalized from "recover segment list from filenames" to
// "recover manifest entries from a sorted text/SQL table".
package manifest

import (
	"time"

	"arkimet/internal/metadata"
)

// Entry is one manifest row: a segment's relative path, its on-disk
// mtime, and the time span its content covers.
type Entry struct {
	RelPath string
	Mtime   time.Time
	Start   time.Time
	End     time.Time
}

// Manifest is the interface both serializations implement.
type Manifest interface {
	// Acquire inserts or replaces relPath's entry with the given mtime
	// and reftime bounds, marking the manifest dirty.
	Acquire(relPath string, mtime time.Time, reftimeStart, reftimeEnd time.Time) error

	// Remove erases relPath's entry, if present.
	Remove(relPath string) error

	// FileList returns entries whose span intersects the closed interval
	// [begin, end], in relpath order. bounded=false means unbounded:
	// every entry is returned and begin/end are ignored.
	FileList(begin, end time.Time, bounded bool) ([]Entry, error)

	// ExpandDateRange returns the union of every entry's interval.
	ExpandDateRange() (start, end time.Time, ok bool, err error)

	// SegmentTimespan answers a point lookup for one segment.
	SegmentTimespan(relPath string) (Entry, bool, error)

	// Flush persists the in-memory list to disk if dirty (§4.3
	// invariant: after Flush, the on-disk form reflects the in-memory
	// list, and legacy sqlite, if any, has been removed).
	Flush() error

	Close() error
}

// ReftimeBounds extracts the (begin,end) bounds a manifest entry should
// record for a reftime, per §4.3: "POSITION → both = point; PERIOD →
// begin/end".
func ReftimeBounds(r metadata.Reftime) (time.Time, time.Time) {
	return r.Begin, r.End
}

func intersects(entryStart, entryEnd, begin, end time.Time, bounded bool) bool {
	if !bounded {
		return true
	}
	if entryEnd.Before(begin) {
		return false
	}
	if entryStart.After(end) {
		return false
	}
	return true
}
