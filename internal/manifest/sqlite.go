package manifest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteManifest is the `sqlite` serialization of §4.3: a `files` table
// with `start_time`/`end_time` indexes, WAL-journaled. Grounded on
// avogabo-EDRmount/internal/db.Open's DSN + pragma construction and
// migrate-on-open pattern, adapted from avogabo's fixed job/catalog
// schema to the single `files` table this manifest needs.
type SQLiteManifest struct {
	mu  sync.Mutex
	db  *sql.DB
	dirty bool
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
}

func OpenSQLite(datasetRoot string) (*SQLiteManifest, error) {
	path := filepath.Join(datasetRoot, legacySQLiteFileName)
	if err := os.MkdirAll(datasetRoot, 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := migrateManifestSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteManifest{db: db}, nil
}

func migrateManifestSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			file UNIQUE,
			mtime INTEGER NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_files_start_time ON files(start_time);`,
		`CREATE INDEX IF NOT EXISTS idx_files_end_time ON files(end_time);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func readLegacySQLiteManifest(path string) ([]Entry, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := migrateManifestSchema(db); err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT file, mtime, start_time, end_time FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var file, start, end string
		var mtime int64
		if err := rows.Scan(&file, &mtime, &start, &end); err != nil {
			return nil, err
		}
		startT, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return nil, err
		}
		endT, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{RelPath: file, Mtime: time.Unix(mtime, 0).UTC(), Start: startT, End: endT})
	}
	return out, rows.Err()
}

func (m *SQLiteManifest) Acquire(relPath string, mtime time.Time, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.db.Exec(
		`INSERT INTO files(file, mtime, start_time, end_time) VALUES (?, ?, ?, ?)
		 ON CONFLICT(file) DO UPDATE SET mtime=excluded.mtime, start_time=excluded.start_time, end_time=excluded.end_time`,
		relPath, mtime.Unix(), start.Format(time.RFC3339), end.Format(time.RFC3339),
	)
	if err == nil {
		m.dirty = true
	}
	return err
}

func (m *SQLiteManifest) Remove(relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.db.Exec(`DELETE FROM files WHERE file = ?`, relPath)
	if err == nil {
		m.dirty = true
	}
	return err
}

func (m *SQLiteManifest) FileList(begin, end time.Time, bounded bool) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `SELECT file, mtime, start_time, end_time FROM files`
	var args []any
	if bounded {
		query += ` WHERE end_time >= ? AND start_time <= ?`
		args = append(args, begin.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	query += ` ORDER BY file`

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var file, start, endStr string
		var mtime int64
		if err := rows.Scan(&file, &mtime, &start, &endStr); err != nil {
			return nil, err
		}
		startT, _ := time.Parse(time.RFC3339, start)
		endT, _ := time.Parse(time.RFC3339, endStr)
		out = append(out, Entry{RelPath: file, Mtime: time.Unix(mtime, 0).UTC(), Start: startT, End: endT})
	}
	return out, rows.Err()
}

func (m *SQLiteManifest) ExpandDateRange() (time.Time, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var start, end sql.NullString
	row := m.db.QueryRow(`SELECT MIN(start_time), MAX(end_time) FROM files`)
	if err := row.Scan(&start, &end); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !start.Valid || !end.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	startT, _ := time.Parse(time.RFC3339, start.String)
	endT, _ := time.Parse(time.RFC3339, end.String)
	return startT, endT, true, nil
}

func (m *SQLiteManifest) SegmentTimespan(relPath string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mtime int64
	var start, end string
	row := m.db.QueryRow(`SELECT mtime, start_time, end_time FROM files WHERE file = ?`, relPath)
	if err := row.Scan(&mtime, &start, &end); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	startT, _ := time.Parse(time.RFC3339, start)
	endT, _ := time.Parse(time.RFC3339, end)
	return Entry{RelPath: relPath, Mtime: time.Unix(mtime, 0).UTC(), Start: startT, End: endT}, true, nil
}

func (m *SQLiteManifest) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = false
	return nil
}

func (m *SQLiteManifest) Close() error {
	return m.db.Close()
}
