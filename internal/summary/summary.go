// Package summary implements the month-bucketed aggregate cache
// described in §3/§4.4: rather than rescanning every indexed Metadata on
// every QuerySummary, a dataset can keep one pre-aggregated Stat per
// distinct (metadata-without-reftime) tuple. The Cache holds only what a
// caller stores with Store/StoreMonth/StoreAll: the dataset writer
// neither stores into it nor invalidates it, and the checker invalidates
// a month bucket only after a repack. Grounded on the
// teacher's resource.SegmentCache eviction discipline — bound how much
// pre-aggregated state is kept live, and invalidate exactly the bucket a
// mutation touched rather than the whole cache.
package summary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"arkimet/internal/metadata"
)

// Stat is one aggregate row: a reftime interval, a message count, and a
// total byte size, all attached to a tuple of non-reftime metadata items
// (the tuple itself is the row's map key in Summary, encoded the same
// way Metadata.UniqueTuple encodes unique tuples).
type Stat struct {
	Begin time.Time
	End   time.Time
	Count int64
	Size  int64
}

// Summary is an unordered multiset of (Key, Stat) pairs: one per distinct
// combination of the configured grouping items.
type Summary struct {
	mu   sync.Mutex
	rows map[string]*Stat
}

func New() *Summary {
	return &Summary{rows: make(map[string]*Stat)}
}

// Add folds one Metadata into the bucket named by groupCodes (typically
// product+area+level, excluding reftime and origin-specific detail).
func (s *Summary) Add(md *metadata.Metadata, groupCodes []metadata.ItemCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(md.UniqueTuple(groupCodes))
	row, ok := s.rows[key]
	if !ok {
		row = &Stat{Begin: md.Reftime.Begin, End: md.Reftime.End}
		s.rows[key] = row
	} else {
		if md.Reftime.Begin.Before(row.Begin) {
			row.Begin = md.Reftime.Begin
		}
		if md.Reftime.End.After(row.End) {
			row.End = md.Reftime.End
		}
	}
	row.Count++
	row.Size += md.Source.Size
}

// Merge idempotently folds other's rows into s: keeping the larger
// Count and the larger Size and widening the interval, so merging the same source summary twice has no
// further effect once its rows already match.
func (s *Summary) Merge(other *Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	for key, row := range other.rows {
		existing, ok := s.rows[key]
		if !ok {
			copy := *row
			s.rows[key] = &copy
			continue
		}
		if row.Begin.Before(existing.Begin) {
			existing.Begin = row.Begin
		}
		if row.End.After(existing.End) {
			existing.End = row.End
		}
		if row.Count > existing.Count {
			existing.Count = row.Count
		}
		if row.Size > existing.Size {
			existing.Size = row.Size
		}
	}
}

// Totals returns the overall count, size, and time span across every row.
func (s *Summary) Totals() (count, size int64, begin, end time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := true
	for _, row := range s.rows {
		count += row.Count
		size += row.Size
		if first || row.Begin.Before(begin) {
			begin = row.Begin
		}
		if first || row.End.After(end) {
			end = row.End
		}
		first = false
	}
	return count, size, begin, end, count > 0
}

func (s *Summary) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows) == 0
}

// Encode serializes the summary to a compact binary form: an 8-byte
// big-endian row count, then one row per (key, Stat) pair as a 4-byte
// length-prefixed key followed by Begin, End (unix nanoseconds), Count
// and Size, each a fixed 8-byte big-endian integer.
func (s *Summary) Encode() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	var countBuf [8]byte
	binary.BigEndian.PutUint64(countBuf[:], uint64(len(s.rows)))
	buf.Write(countBuf[:])

	for key, row := range s.rows {
		writeLenPrefixed(&buf, []byte(key))
		writeInt64(&buf, row.Begin.UnixNano())
		writeInt64(&buf, row.End.UnixNano())
		writeInt64(&buf, row.Count)
		writeInt64(&buf, row.Size)
	}
	return buf.Bytes()
}

// Decode parses the form Encode produces.
func Decode(data []byte) (*Summary, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("summary: truncated header")
	}
	n := binary.BigEndian.Uint64(data[:8])
	rest := data[8:]

	s := New()
	for i := uint64(0); i < n; i++ {
		key, remainder, err := readLenPrefixed(rest)
		if err != nil {
			return nil, err
		}
		rest = remainder

		begin, rest2, err := readInt64(rest)
		if err != nil {
			return nil, err
		}
		end, rest3, err := readInt64(rest2)
		if err != nil {
			return nil, err
		}
		count, rest4, err := readInt64(rest3)
		if err != nil {
			return nil, err
		}
		size, rest5, err := readInt64(rest4)
		if err != nil {
			return nil, err
		}
		rest = rest5

		s.rows[string(key)] = &Stat{
			Begin: time.Unix(0, begin).UTC(),
			End:   time.Unix(0, end).UTC(),
			Count: count,
			Size:  size,
		}
	}
	return s, nil
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func readLenPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("summary: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("summary: truncated payload")
	}
	return data[:n], data[n:], nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readInt64(data []byte) (int64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("summary: truncated int64")
	}
	return int64(binary.BigEndian.Uint64(data[:8])), data[8:], nil
}

// bucketFileName names the `.summaries/YYYY-MM.summary` cache file for t.
func bucketFileName(t time.Time) string {
	return t.Format("2006-01") + ".summary"
}

// Cache manages the `.summaries/` directory: one file per calendar month
// plus an `all.summary` rollup, invalidated precisely by Invalidate.
type Cache struct {
	dir string
}

func OpenCache(datasetRoot string) (*Cache, error) {
	dir := filepath.Join(datasetRoot, ".summaries")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) path(name string) string {
	return filepath.Join(c.dir, name)
}

// Load reads a cached bucket, returning (nil, false, nil) on a cache miss.
func (c *Cache) Load(name string) (*Summary, bool, error) {
	data, err := os.ReadFile(c.path(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Store writes a bucket atomically (tmp+rename).
func (c *Cache) Store(name string, s *Summary) error {
	tmp := c.path(name) + ".tmp"
	if err := os.WriteFile(tmp, s.Encode(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path(name))
}

// Invalidate drops the cache file for one calendar month plus the global
// all.summary rollup. The dataset checker calls it after a repack;
// manifest removal, archiving and deletion do not.
func (c *Cache) Invalidate(month time.Time) error {
	if err := os.Remove(c.path(bucketFileName(month))); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(c.path("all.summary")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StoreMonth is a convenience wrapper naming the month bucket file for t.
func (c *Cache) StoreMonth(t time.Time, s *Summary) error {
	return c.Store(bucketFileName(t), s)
}

func (c *Cache) LoadMonth(t time.Time) (*Summary, bool, error) {
	return c.Load(bucketFileName(t))
}

func (c *Cache) StoreAll(s *Summary) error {
	return c.Store("all.summary", s)
}

func (c *Cache) LoadAll() (*Summary, bool, error) {
	return c.Load("all.summary")
}
