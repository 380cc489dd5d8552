package segment

import (
	"io"

	"arkimet/internal/metadata"
)

// Reader is a read-only handle on a segment's backend (§4.1). Opening
// one takes no lock: lockfile.SharedReadLock is a separate call that no
// backend makes.
type Reader interface {
	// Read returns exactly size bytes starting at offset.
	Read(offset, size int64) ([]byte, error)
	// Stream copies size bytes starting at offset to w, returning the
	// number of bytes written.
	Stream(w io.Writer, offset, size int64) (int64, error)
	// ScanData walks the segment in physical order, calling fn once per
	// record found, for rescans when no sidecar metadata exists.
	ScanData(fn func(data []byte, offset int64) error) error
	Close() error
}

// Writer is an append-only handle on a segment's backend, held open
// under an append lock for the lifetime of the handle (§4.1).
type Writer interface {
	// Append begins a transaction that will place data at the segment's
	// current end. Nothing is durable until the Transaction commits.
	Append(data []byte) (*Transaction, error)
	Close() error
}

// Checker is a maintenance handle on a segment's backend (§4.1, §4.6).
type Checker interface {
	// Check compares expectedMDs (the index's view) against the on-disk
	// layout and returns the discrepancy bitmask. Full byte validation
	// only runs when quick is false.
	Check(expectedMDs []*metadata.Metadata, quick bool, validate func(data []byte) error) (State, error)

	// Repack rewrites the segment into a new file containing exactly
	// the records in mds, in order, returning a Transaction that swaps
	// the rewritten file in on commit. mds' Source fields are updated
	// in place to the new offsets.
	Repack(mds []*metadata.Metadata) (*Transaction, error)

	// Remove unlinks the segment's data (for a gz segment, its .gz.idx
	// as well). The .metadata and .summary side-cars are not removed.
	Remove() error

	// Size returns the current logical size of the segment's data.
	Size() (int64, error)

	// Maintenance-test fixtures (§4.1).
	TestTruncate(offset int64) error
	TestMakeHole(holeOffset, holeSize int64) error
	TestMakeOverlap(shrinkLastBy int64) error
	TestCorrupt(at int64) error
}
