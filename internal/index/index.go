// Package index implements the ondisk2/iseg-style contents index (§4.4):
// a per-dataset SQLite database recording every indexed message's
// location plus its unique and other metadata tuples, deduplicated into
// shared aggregate rows. Grounded on avogabo-EDRmount/internal/db.Open
// (DSN + pragma construction, migrate-on-open), generalized from
// avogabo's fixed job/catalog schema to a configurable per-dataset
// attribute index, and conceptually on the teacher's segment.Index
// sparse table ("small encoded tuple → id, dedup identical tuples" is
// exactly what mduniq/mdother implement for metadata tuples).
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"arkimet/internal/metadata"
)

// Outcome reports whether an Index call inserted a new row or found a
// duplicate unique tuple already indexed (§4.4's acquire contract).
type Outcome int

const (
	Inserted Outcome = iota
	Duplicate
)

// ExistingBlob is returned alongside Duplicate so the writer can apply
// its replace policy.
type ExistingBlob struct {
	RelPath string
	Offset  int64
	Size    int64
}

type Index struct {
	mu          sync.Mutex
	db          *sql.DB
	uniqueCodes []metadata.ItemCode
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=legacy_file_format(0)", path)
}

// Open opens (creating if absent) the contents index at
// <datasetRoot>/index.sqlite, with uniqueCodes naming the metadata items
// that make up the dataset's configured unique tuple (§4.5 step 2).
func Open(datasetRoot string, uniqueCodes []metadata.ItemCode) (*Index, error) {
	if err := os.MkdirAll(datasetRoot, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(datasetRoot, "index.sqlite")
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	idx := &Index{db: db, uniqueCodes: uniqueCodes}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mduniq (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			encoded BLOB UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS mdother (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			encoded BLOB UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS md (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			format TEXT NOT NULL,
			file TEXT NOT NULL,
			offset INTEGER NOT NULL,
			size INTEGER NOT NULL,
			notes TEXT,
			reftime_begin INTEGER NOT NULL,
			reftime_end INTEGER NOT NULL,
			uniq INTEGER REFERENCES mduniq(id),
			other INTEGER REFERENCES mdother(id),
			UNIQUE(uniq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_md_file ON md(file);`,
		`CREATE INDEX IF NOT EXISTS idx_md_reftime ON md(reftime_begin, reftime_end);`,
	}
	for _, s := range stmts {
		if _, err := idx.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func internTuple(tx *sql.Tx, table string, encoded []byte) (int64, error) {
	var id int64
	err := tx.QueryRow(fmt.Sprintf(`SELECT id FROM %s WHERE encoded = ?`, table), encoded).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s(encoded) VALUES (?)`, table), encoded)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// otherCodes lists the codes used for the "other" tuple: every item not in uniqueCodes.
func (idx *Index) otherCodes(md *metadata.Metadata) []metadata.ItemCode {
	unique := make(map[metadata.ItemCode]bool, len(idx.uniqueCodes))
	for _, c := range idx.uniqueCodes {
		unique[c] = true
	}
	var out []metadata.ItemCode
	for _, it := range md.Items {
		if !unique[it.Code] {
			out = append(out, it.Code)
		}
	}
	return out
}

// Index inserts md's row, deduplicating its unique/other tuples into
// mduniq/mdother. If the unique tuple already exists, returns Duplicate
// with the existing row's blob location instead of inserting.
func (idx *Index) Index(md *metadata.Metadata, relPath string, offset int64) (Outcome, ExistingBlob, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	uniqEncoded := md.UniqueTuple(idx.uniqueCodes)
	otherEncoded := md.UniqueTuple(idx.otherCodes(md))

	tx, err := idx.db.Begin()
	if err != nil {
		return 0, ExistingBlob{}, err
	}
	defer tx.Rollback()

	uniqID, err := internTuple(tx, "mduniq", uniqEncoded)
	if err != nil {
		return 0, ExistingBlob{}, err
	}

	var existing ExistingBlob
	err = tx.QueryRow(`SELECT file, offset, size FROM md WHERE uniq = ?`, uniqID).Scan(&existing.RelPath, &existing.Offset, &existing.Size)
	if err == nil {
		return Duplicate, existing, nil
	}
	if err != sql.ErrNoRows {
		return 0, ExistingBlob{}, err
	}

	otherID, err := internTuple(tx, "mdother", otherEncoded)
	if err != nil {
		return 0, ExistingBlob{}, err
	}

	_, err = tx.Exec(
		`INSERT INTO md(format, file, offset, size, reftime_begin, reftime_end, uniq, other) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(md.Source.Format), relPath, offset, md.Source.Size,
		md.Reftime.Begin.UnixNano(), md.Reftime.End.UnixNano(),
		uniqID, otherID,
	)
	if err != nil {
		return 0, ExistingBlob{}, err
	}

	if err := tx.Commit(); err != nil {
		return 0, ExistingBlob{}, err
	}
	return Inserted, ExistingBlob{}, nil
}

// Relocate updates an existing row's offset and size after a repack,
// identified by (file, oldOffset), leaving its unique/other tuples
// untouched. A repack reorders and recompresses a segment's bytes but
// never changes which messages it holds, so the tuple-dedup path Index
// performs on acquire does not apply: re-running it here would compute
// every record's unique tuple from an Items slice ScanFile never
// populates, collapsing every message onto the same degenerate empty
// tuple and dropping all but the first as a spurious duplicate.
func (idx *Index) Relocate(relPath string, oldOffset, newOffset, newSize int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.db.Exec(
		`UPDATE md SET offset = ?, size = ? WHERE file = ? AND offset = ?`,
		newOffset, newSize, relPath, oldOffset,
	)
	return err
}

// ListSegments enumerates every relpath known to the index.
func (idx *Index) ListSegments() ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rows, err := idx.db.Query(`SELECT DISTINCT file FROM md ORDER BY file`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (idx *Index) HasSegment(relPath string) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var count int
	err := idx.db.QueryRow(`SELECT COUNT(*) FROM md WHERE file = ?`, relPath).Scan(&count)
	return count > 0, err
}

func (idx *Index) SegmentMtime(relPath string) (time.Time, error) {
	// The index neither stats the filesystem nor stores an mtime: this
	// always returns the zero time and a nil error. Callers that need a
	// segment's mtime stat the file themselves.
	return time.Time{}, nil
}

func (idx *Index) SegmentTimespan(relPath string) (begin, end time.Time, ok bool, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	row := idx.db.QueryRow(`SELECT MIN(reftime_begin), MAX(reftime_end) FROM md WHERE file = ?`, relPath)
	var b, e sql.NullInt64
	if err := row.Scan(&b, &e); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !b.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return time.Unix(0, b.Int64).UTC(), time.Unix(0, e.Int64).UTC(), true, nil
}

// ScanFile emits every metadata whose file = relPath, in offset order
// (§4.4). The returned Metadata carries only Source and Reftime; the
// configured items are not reconstituted from mduniq/mdother, and no
// other read path of the index joins them back in.
func (idx *Index) ScanFile(relPath string, fn func(*metadata.Metadata) error) error {
	idx.mu.Lock()
	rows, err := idx.db.Query(
		`SELECT format, offset, size, reftime_begin, reftime_end FROM md WHERE file = ? ORDER BY offset`,
		relPath,
	)
	idx.mu.Unlock()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var format string
		var offset, size, begin, end int64
		if err := rows.Scan(&format, &offset, &size, &begin, &end); err != nil {
			return err
		}
		md := &metadata.Metadata{
			Source:  metadata.NewBlobSource(metadata.Format(format), "", relPath, offset, size),
			Reftime: metadata.Reftime{Kind: metadata.ReftimePeriod, Begin: time.Unix(0, begin).UTC(), End: time.Unix(0, end).UTC()},
		}
		if err := fn(md); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

// TestRename renames every md row's file from oldRelPath to newRelPath
// (§4.4 maintenance-test helper).
func (idx *Index) TestRename(oldRelPath, newRelPath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.db.Exec(`UPDATE md SET file = ? WHERE file = ?`, newRelPath, oldRelPath)
	return err
}

// TestDeindex removes every md row for relPath.
func (idx *Index) TestDeindex(relPath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.db.Exec(`DELETE FROM md WHERE file = ?`, relPath)
	return err
}

// TestMakeOverlap moves the last-offset row for relPath back by shrinkBy
// bytes so it overlaps its predecessor, reproducing an UNALIGNED fixture.
func (idx *Index) TestMakeOverlap(relPath string, shrinkBy int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.db.Exec(
		`UPDATE md SET offset = offset - ? WHERE id = (SELECT id FROM md WHERE file = ? ORDER BY offset DESC LIMIT 1)`,
		shrinkBy, relPath,
	)
	return err
}

// TestMakeHole deletes the md row at the given offset for relPath,
// leaving a gap in the offset sequence.
func (idx *Index) TestMakeHole(relPath string, offset int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.db.Exec(`DELETE FROM md WHERE file = ? AND offset = ?`, relPath, offset)
	return err
}
