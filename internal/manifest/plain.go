package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PlainManifest is the `MANIFEST` text-file serialization (§4.3): one
// entry per line, `;`-separated fields, written atomically via tmp+
// rename. The file's inode is not tracked: every OpenPlain parses the
// MANIFEST file again, whether or not it changed.
type PlainManifest struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	dirty   bool
}

const manifestFileName = "MANIFEST"
const legacySQLiteFileName = "index.sqlite"

func OpenPlain(datasetRoot string) (*PlainManifest, error) {
	m := &PlainManifest{
		path:    filepath.Join(datasetRoot, manifestFileName),
		entries: make(map[string]Entry),
	}

	if _, err := os.Stat(m.path); err == nil {
		if err := m.load(); err != nil {
			return nil, err
		}
		return m, nil
	}

	// §9 design note: on open, if a legacy index.sqlite exists and
	// MANIFEST does not, read entries from it, mark dirty, and let the
	// next Flush rewrite MANIFEST and unlink the old file.
	legacyPath := filepath.Join(datasetRoot, legacySQLiteFileName)
	if _, err := os.Stat(legacyPath); err == nil {
		entries, err := readLegacySQLiteManifest(legacyPath)
		if err != nil {
			return nil, fmt.Errorf("manifest: reading legacy sqlite manifest: %w", err)
		}
		for _, e := range entries {
			m.entries[e.RelPath] = e
		}
		m.dirty = true
	}

	return m, nil
}

func (m *PlainManifest) load() error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := parsePlainLine(line)
		if err != nil {
			return fmt.Errorf("manifest: parsing %s: %w", m.path, err)
		}
		m.entries[e.RelPath] = e
	}
	return scanner.Err()
}

func parsePlainLine(line string) (Entry, error) {
	parts := strings.Split(line, ";")
	if len(parts) != 4 {
		return Entry{}, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}
	mtimeUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Entry{}, err
	}
	start, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return Entry{}, err
	}
	end, err := time.Parse(time.RFC3339, parts[3])
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		RelPath: parts[0],
		Mtime:   time.Unix(mtimeUnix, 0).UTC(),
		Start:   start,
		End:     end,
	}, nil
}

func formatPlainLine(e Entry) string {
	return fmt.Sprintf("%s;%d;%s;%s", e.RelPath, e.Mtime.Unix(), e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (m *PlainManifest) Acquire(relPath string, mtime time.Time, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[relPath] = Entry{RelPath: relPath, Mtime: mtime, Start: start, End: end}
	m.dirty = true
	return nil
}

func (m *PlainManifest) Remove(relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, relPath)
	m.dirty = true
	return nil
}

func (m *PlainManifest) sortedEntries() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}

func (m *PlainManifest) FileList(begin, end time.Time, bounded bool) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.sortedEntries() {
		if intersects(e.Start, e.End, begin, end, bounded) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *PlainManifest) ExpandDateRange() (time.Time, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	var start, end time.Time
	first := true
	for _, e := range m.entries {
		if first || e.Start.Before(start) {
			start = e.Start
		}
		if first || e.End.After(end) {
			end = e.End
		}
		first = false
	}
	return start, end, true, nil
}

func (m *PlainManifest) SegmentTimespan(relPath string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[relPath]
	return e, ok, nil
}

// Flush rewrites MANIFEST atomically (tmp+rename) if dirty, and removes
// a legacy index.sqlite if one still exists (§4.3 flush invariant).
func (m *PlainManifest) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}

	var buf strings.Builder
	for _, e := range m.sortedEntries() {
		buf.WriteString(formatPlainLine(e))
		buf.WriteByte('\n')
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(buf.String()), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		return err
	}

	legacyPath := filepath.Join(filepath.Dir(m.path), legacySQLiteFileName)
	_ = os.Remove(legacyPath)

	m.dirty = false
	return nil
}

func (m *PlainManifest) Close() error {
	return m.Flush()
}
