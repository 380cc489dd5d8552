// Package metadata implements arkimet's typed per-message record: the
// Source union (Blob/Inline/URL), the reftime interval, and the open set
// of format-agnostic items a Scanner attaches to a message.
package metadata

import (
	"fmt"
	"time"
)

// Format is a message format tag. The core never interprets a message's
// body, only carries this tag alongside it.
type Format string

const (
	FormatGRIB    Format = "grib"
	FormatBUFR    Format = "bufr"
	FormatVM2     Format = "vm2"
	FormatODIMH5  Format = "odimh5"
	FormatNetCDF  Format = "netcdf"
	FormatJPEG    Format = "jpeg"
)

// SourceKind tags which variant of Source a Metadata carries.
type SourceKind uint8

const (
	SourceBlob SourceKind = iota
	SourceInline
	SourceURL
)

// Source is the tagged union described in §3: Blob is the persisted form,
// Inline is used when the data follows inline in a stream, URL references
// a remote dataset. Exactly one of the three is meaningful, selected by Kind.
type Source struct {
	Kind   SourceKind
	Format Format

	// Blob fields.
	BaseDir string
	RelPath string
	Offset  int64
	Size    int64

	// Inline/Blob share Size; Inline additionally carries no location.

	// URL field.
	URL string
}

func NewBlobSource(format Format, basedir, relpath string, offset, size int64) Source {
	return Source{Kind: SourceBlob, Format: format, BaseDir: basedir, RelPath: relpath, Offset: offset, Size: size}
}

func NewInlineSource(format Format, size int64) Source {
	return Source{Kind: SourceInline, Format: format, Size: size}
}

func NewURLSource(format Format, url string) Source {
	return Source{Kind: SourceURL, Format: format, URL: url}
}

func (s Source) String() string {
	switch s.Kind {
	case SourceBlob:
		return fmt.Sprintf("BLOB(%s:%s@%d+%d)", s.Format, s.RelPath, s.Offset, s.Size)
	case SourceInline:
		return fmt.Sprintf("INLINE(%s,%d)", s.Format, s.Size)
	case SourceURL:
		return fmt.Sprintf("URL(%s,%s)", s.Format, s.URL)
	default:
		return "UNKNOWN"
	}
}

// ReftimeKind distinguishes a point-in-time reftime from an interval one.
type ReftimeKind uint8

const (
	ReftimePosition ReftimeKind = iota
	ReftimePeriod
)

// Reftime is either a single instant (POSITION) or a closed interval
// (PERIOD). Every indexed Metadata carries one (§3 invariant).
type Reftime struct {
	Kind  ReftimeKind
	Begin time.Time
	End   time.Time // equal to Begin for POSITION
}

func Position(t time.Time) Reftime {
	return Reftime{Kind: ReftimePosition, Begin: t, End: t}
}

func Period(begin, end time.Time) Reftime {
	if end.Before(begin) {
		begin, end = end, begin
	}
	return Reftime{Kind: ReftimePeriod, Begin: begin, End: end}
}

func (r Reftime) Valid() bool {
	return !r.End.Before(r.Begin)
}

// Intersect tightens iv to the overlap with r, returning false when the
// two intervals do not overlap at all (mirrors Matcher.intersect_interval,
// §6.5, but applied to a concrete Reftime rather than an opaque matcher).
func (r Reftime) Intersect(begin, end time.Time) (time.Time, time.Time, bool) {
	b := r.Begin
	if begin.After(b) {
		b = begin
	}
	e := r.End
	if end.Before(e) {
		e = end
	}
	if e.Before(b) {
		return time.Time{}, time.Time{}, false
	}
	return b, e, true
}

// ItemCode enumerates the open set of metadata items the core knows the
// names of without interpreting their payload.
type ItemCode uint8

const (
	ItemOrigin ItemCode = iota
	ItemProduct
	ItemLevel
	ItemTimerange
	ItemArea
	ItemProddef
	ItemRun
	ItemValue
	ItemNote
)

// Item is a single typed, opaquely-encoded metadata field. Encoding is a
// scanner concern; the core only stores and compares the canonical bytes.
type Item struct {
	Code ItemCode
	Data []byte
}

// Metadata is the typed record carried for every message: a Source plus
// an open set of Items and (for indexed records) a Reftime.
type Metadata struct {
	Source  Source
	Reftime Reftime
	Items   []Item
	Notes   []string
}

// Get returns the first item of the given code, if any.
func (m *Metadata) Get(code ItemCode) (Item, bool) {
	for _, it := range m.Items {
		if it.Code == code {
			return it, true
		}
	}
	return Item{}, false
}

// Set replaces (or appends) the item of the given code.
func (m *Metadata) Set(code ItemCode, data []byte) {
	for i := range m.Items {
		if m.Items[i].Code == code {
			m.Items[i].Data = data
			return
		}
	}
	m.Items = append(m.Items, Item{Code: code, Data: data})
}

// UniqueTuple encodes the configured set of unique item codes into a
// single canonical byte string, used by the contents index's UNIQUE
// constraint (§4.4) and by the writer's pre-index duplicate check (§4.5).
func (m *Metadata) UniqueTuple(codes []ItemCode) []byte {
	var out []byte
	for _, c := range codes {
		it, ok := m.Get(c)
		out = append(out, byte(c))
		if ok {
			var lenbuf [4]byte
			putUint32(lenbuf[:], uint32(len(it.Data)))
			out = append(out, lenbuf[:]...)
			out = append(out, it.Data...)
		} else {
			out = append(out, 0, 0, 0, 0)
		}
	}
	return out
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
