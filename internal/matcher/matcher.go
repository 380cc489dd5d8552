// Package matcher defines the opaque query-predicate interface consumed
// by internal/dataset (§6.5): the query language itself is explicitly
// out of scope (§1), but readers need something to call. Two minimal,
// concrete
// implementations — AllMatcher and ReftimeMatcher — give the rest of the
// module something real to drive in tests.
package matcher

import (
	"time"

	"arkimet/internal/metadata"
)

// Interval is a closed time bound (both ends inclusive) a Matcher can
// tighten.
type Interval struct {
	Begin   time.Time
	End     time.Time
	Bounded bool
}

// SQLFragment is the minimal hook a Matcher uses to contribute to a
// contents-index query: extra JOIN clauses plus a WHERE condition with
// its positional arguments. internal/index does not build queries from
// a fragment: dataset queries read rows with Index.ScanFile and filter
// each one with Match.
type SQLFragment struct {
	Joins  []string
	Where  []string
	Args   []any
}

// Matcher is the opaque predicate type: it can test one Metadata, narrow
// a time interval, expose per-item constraints to callers that need to
// inspect them, and contribute to a contents-index SQL query.
type Matcher interface {
	Match(md *metadata.Metadata) bool
	IntersectInterval(iv Interval) (Interval, bool)
	Get(code metadata.ItemCode) (Constraint, bool)
	AddJoinsAndConstraints(frag *SQLFragment)
}

// Constraint is what Get exposes for a single item code; its Data
// interpretation is left to the caller, mirroring Item's opacity.
type Constraint struct {
	Code metadata.ItemCode
	Data []byte
}

// AllMatcher matches every Metadata unconditionally, the same role the
// teacher's code gives a nil/empty filter: present but inert.
type AllMatcher struct{}

func (AllMatcher) Match(*metadata.Metadata) bool { return true }

func (AllMatcher) IntersectInterval(iv Interval) (Interval, bool) { return iv, true }

func (AllMatcher) Get(metadata.ItemCode) (Constraint, bool) { return Constraint{}, false }

func (AllMatcher) AddJoinsAndConstraints(*SQLFragment) {}

// ReftimeMatcher restricts matches to a bounded reftime interval,
// the one predicate common enough to need a first-class implementation
// rather than leaving every caller to hand-roll it.
type ReftimeMatcher struct {
	Begin time.Time
	End   time.Time
}

func (m ReftimeMatcher) Match(md *metadata.Metadata) bool {
	_, _, ok := md.Reftime.Intersect(m.Begin, m.End)
	return ok
}

func (m ReftimeMatcher) IntersectInterval(iv Interval) (Interval, bool) {
	begin := m.Begin
	if iv.Bounded && iv.Begin.After(begin) {
		begin = iv.Begin
	}
	end := m.End
	if iv.Bounded && iv.End.Before(end) {
		end = iv.End
	}
	if end.Before(begin) {
		return Interval{}, false
	}
	return Interval{Begin: begin, End: end, Bounded: true}, true
}

func (m ReftimeMatcher) Get(code metadata.ItemCode) (Constraint, bool) {
	return Constraint{}, false
}

func (m ReftimeMatcher) AddJoinsAndConstraints(frag *SQLFragment) {
	frag.Where = append(frag.Where, "reftime_begin <= ? AND reftime_end >= ?")
	frag.Args = append(frag.Args, m.End.UnixNano(), m.Begin.UnixNano())
}
