package dataset

import (
	"fmt"
	"io"
	"os"

	"arkimet/internal/index"
	"arkimet/internal/manifest"
	"arkimet/internal/matcher"
	"arkimet/internal/metadata"
	"arkimet/internal/segment"
	"arkimet/internal/summary"
)

// ByteQueryMode selects how QueryBytes assembles its output stream
// (§4.7).
type ByteQueryMode int

const (
	ModeData ByteQueryMode = iota
	ModeInline
	ModePostprocess
)

// Reader implements §4.7's three query entry points, grounded on
// Partition.Read's routing (fast path for the live segment vs. a cached
// lookup for older ones) and broker.handleFetch's request/response
// shape, repointed from offset ranges at matcher-filtered reftime
// queries.
type Reader struct {
	cfg   Config
	mgr   *segment.Manager
	idx   *index.Index
	man   manifest.Manifest
	cache *summary.Cache
}

func NewReader(cfg Config, mgr *segment.Manager, idx *index.Index, man manifest.Manifest, cache *summary.Cache) *Reader {
	return &Reader{cfg: cfg, mgr: mgr, idx: idx, man: man, cache: cache}
}

// QueryData emits every Metadata matching m, across every segment the
// index lists, in relpath then offset order (§4.7: reftime
// ascending by default — within a dataset organized by step, relpath
// order is reftime order).
func (r *Reader) QueryData(m matcher.Matcher, fn func(*metadata.Metadata) error) error {
	relPaths, err := r.idx.ListSegments()
	if err != nil {
		return err
	}
	for _, relPath := range relPaths {
		var scanErr error
		err := r.idx.ScanFile(relPath, func(md *metadata.Metadata) error {
			if !m.Match(md) {
				return nil
			}
			return fn(md)
		})
		if err != nil {
			scanErr = err
		}
		if scanErr != nil {
			return scanErr
		}
	}
	return nil
}

// QuerySummary aggregates every matching Metadata into a fresh Summary
// by a live per-message scan. The one exception: for an AllMatcher, when
// a cache is configured and holds all.summary, that cached rollup is
// returned as is. The per-month bucket files are not consulted.
func (r *Reader) QuerySummary(m matcher.Matcher, groupKeys []metadata.ItemCode) (*summary.Summary, error) {
	if r.cache != nil {
		if all, ok, err := r.cache.LoadAll(); err == nil && ok {
			if _, ok := m.(matcher.AllMatcher); ok {
				return all, nil
			}
		}
	}

	s := summary.New()
	err := r.QueryData(m, func(md *metadata.Metadata) error {
		s.Add(md, groupKeys)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// QueryBytes streams matching records' bytes to w in one of three modes
// (§4.7). ModePostprocess is a documented stub: postprocessor
// subprocesses are explicitly out of scope.
func (r *Reader) QueryBytes(m matcher.Matcher, mode ByteQueryMode, w io.Writer) error {
	if mode == ModePostprocess {
		return fmt.Errorf("dataset: postprocess query mode is not implemented (out of scope)")
	}

	readers := make(map[string]segment.Reader)
	defer func() {
		for _, rd := range readers {
			_ = rd.Close()
		}
	}()

	return r.QueryData(m, func(md *metadata.Metadata) error {
		if md.Source.Kind != metadata.SourceBlob {
			return nil
		}
		relPath := md.Source.RelPath
		rd, ok := readers[relPath]
		if !ok {
			var err error
			rd, err = r.mgr.OpenReader(relPath, md.Source.Format)
			if err != nil {
				return err
			}
			readers[relPath] = rd
		}

		if mode == ModeInline {
			if _, err := w.Write(metadata.EncodeBare(md)); err != nil {
				return err
			}
		}
		_, err := rd.Stream(w, md.Source.Offset, md.Source.Size)
		return err
	})
}

// statSegment exposes the on-disk mtime of a segment for callers that
// need to compare it against the manifest (§4.4's SegmentMtime hook).
func (r *Reader) statSegment(relPath string) (os.FileInfo, error) {
	return os.Stat(absSegmentPath(r.cfg.Root, relPath))
}
