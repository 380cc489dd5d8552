package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arkimet/internal/metadata"
)

func TestSummaryAddAndTotals(t *testing.T) {
	s := New()
	base := time.Date(2007, 7, 8, 0, 0, 0, 0, time.UTC)

	md1 := &metadata.Metadata{Source: metadata.NewBlobSource(metadata.FormatGRIB, "", "a.grib", 0, 10), Reftime: metadata.Position(base)}
	md1.Set(metadata.ItemProduct, []byte("t2m"))
	md2 := &metadata.Metadata{Source: metadata.NewBlobSource(metadata.FormatGRIB, "", "a.grib", 10, 20), Reftime: metadata.Position(base.Add(time.Hour))}
	md2.Set(metadata.ItemProduct, []byte("t2m"))

	s.Add(md1, []metadata.ItemCode{metadata.ItemProduct})
	s.Add(md2, []metadata.ItemCode{metadata.ItemProduct})

	count, size, begin, end, ok := s.Totals()
	require.True(t, ok)
	require.Equal(t, int64(2), count)
	require.Equal(t, int64(30), size)
	require.True(t, begin.Equal(base))
	require.True(t, end.Equal(base.Add(time.Hour)))
}

func TestSummaryEncodeDecodeRoundTrip(t *testing.T) {
	s := New()
	base := time.Date(2007, 7, 8, 0, 0, 0, 0, time.UTC)
	md := &metadata.Metadata{Source: metadata.NewBlobSource(metadata.FormatGRIB, "", "a.grib", 0, 42), Reftime: metadata.Position(base)}
	md.Set(metadata.ItemProduct, []byte("t2m"))
	s.Add(md, []metadata.ItemCode{metadata.ItemProduct})

	decoded, err := Decode(s.Encode())
	require.NoError(t, err)

	count, size, _, _, ok := decoded.Totals()
	require.True(t, ok)
	require.Equal(t, int64(1), count)
	require.Equal(t, int64(42), size)
}

func TestSummaryMergeIdempotent(t *testing.T) {
	base := time.Date(2007, 7, 8, 0, 0, 0, 0, time.UTC)
	md := &metadata.Metadata{Source: metadata.NewBlobSource(metadata.FormatGRIB, "", "a.grib", 0, 5), Reftime: metadata.Position(base)}
	md.Set(metadata.ItemProduct, []byte("t2m"))

	src := New()
	src.Add(md, []metadata.ItemCode{metadata.ItemProduct})

	dst := New()
	dst.Merge(src)
	count1, size1, _, _, _ := dst.Totals()

	dst.Merge(src)
	count2, size2, _, _, _ := dst.Totals()

	require.Equal(t, count1, count2)
	require.Equal(t, size1, size2)
}

func TestCacheStoreLoadInvalidate(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(dir)
	require.NoError(t, err)

	s := New()
	month := time.Date(2007, 7, 1, 0, 0, 0, 0, time.UTC)
	md := &metadata.Metadata{Source: metadata.NewBlobSource(metadata.FormatGRIB, "", "a.grib", 0, 5), Reftime: metadata.Position(month)}
	s.Add(md, nil)

	require.NoError(t, cache.StoreMonth(month, s))

	loaded, ok, err := cache.LoadMonth(month)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, loaded.Empty())

	require.NoError(t, cache.Invalidate(month))

	_, ok, err = cache.LoadMonth(month)
	require.NoError(t, err)
	require.False(t, ok, "expected cache miss after invalidate")
}
