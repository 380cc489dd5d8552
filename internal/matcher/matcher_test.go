package matcher

import (
	"testing"
	"time"

	"arkimet/internal/metadata"
)

func TestAllMatcherMatchesEverything(t *testing.T) {
	md := &metadata.Metadata{Reftime: metadata.Position(time.Now())}
	if !(AllMatcher{}).Match(md) {
		t.Error("AllMatcher should match everything")
	}
}

func TestReftimeMatcherIntersect(t *testing.T) {
	base := time.Date(2007, 7, 8, 0, 0, 0, 0, time.UTC)
	m := ReftimeMatcher{Begin: base, End: base.Add(24 * time.Hour)}

	inside := &metadata.Metadata{Reftime: metadata.Position(base.Add(time.Hour))}
	if !m.Match(inside) {
		t.Error("expected match for reftime within window")
	}

	outside := &metadata.Metadata{Reftime: metadata.Position(base.Add(-time.Hour))}
	if m.Match(outside) {
		t.Error("expected no match for reftime outside window")
	}

	iv, ok := m.IntersectInterval(Interval{Begin: base.Add(12 * time.Hour), End: base.Add(48 * time.Hour), Bounded: true})
	if !ok {
		t.Fatal("expected non-empty intersection")
	}
	if !iv.Begin.Equal(base.Add(12 * time.Hour)) || !iv.End.Equal(base.Add(24 * time.Hour)) {
		t.Errorf("unexpected intersection: %+v", iv)
	}
}

func TestReftimeMatcherAddJoinsAndConstraints(t *testing.T) {
	base := time.Date(2007, 7, 8, 0, 0, 0, 0, time.UTC)
	m := ReftimeMatcher{Begin: base, End: base.Add(time.Hour)}
	frag := &SQLFragment{}
	m.AddJoinsAndConstraints(frag)
	if len(frag.Where) != 1 || len(frag.Args) != 2 {
		t.Errorf("expected one WHERE clause with two args, got %+v", frag)
	}
}
