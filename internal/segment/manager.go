package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"arkimet/internal/metadata"
)

// LayoutProbe is the pure observation of what exists on disk at a path,
// separated from the backend-selection decision so the decision itself
// is a unit-testable pure function (§9 design note: "codify as a single
// pure function (format, layout_probe) → BackendTag and a separate
// probe(path) → layout_probe").
type LayoutProbe struct {
	IsRegularFile  bool
	IsDir          bool
	HasSequence    bool // dir contains a .sequence marker
	IsGzip         bool // path itself looks gzip-compressed
	HasGzIdxSidecar bool
	HasTarSidecar  bool // "<path>.tar" exists
	Missing        bool
}

func Probe(path string) LayoutProbe {
	p := LayoutProbe{}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			p.Missing = true
		}
	} else if fi.IsDir() {
		p.IsDir = true
		if _, err := os.Stat(filepath.Join(path, sequenceFileName)); err == nil {
			p.HasSequence = true
		}
	} else {
		p.IsRegularFile = true
		p.IsGzip = filepath.Ext(path) == ".gz"
	}

	if _, err := os.Stat(path + ".gz.idx"); err == nil {
		p.HasGzIdxSidecar = true
	}
	if _, err := os.Stat(path + ".tar"); err == nil {
		p.HasTarSidecar = true
	}
	return p
}

// SelectBackend implements the AutoManager rules of §4.1: given a
// format and what Probe observed at its path, decide which backend
// governs it. A pure function of its two arguments.
func SelectBackend(format metadata.Format, p LayoutProbe) (BackendTag, error) {
	if p.HasTarSidecar {
		return BackendTar, nil
	}

	switch format {
	case metadata.FormatGRIB, metadata.FormatBUFR:
		if p.IsRegularFile || p.IsGzip {
			if p.IsGzip {
				if p.HasGzIdxSidecar {
					return BackendGzIdx, nil
				}
				return BackendGz, nil
			}
			return BackendConcat, nil
		}
		if p.IsDir && p.HasSequence {
			return BackendDir, nil
		}
		if p.Missing {
			return BackendConcat, nil // new segment defaults to concat for these formats
		}
		return 0, fmt.Errorf("segment: cannot select backend for format %s at probed layout %+v", format, p)

	case metadata.FormatVM2:
		if p.IsGzip {
			if p.HasGzIdxSidecar {
				return BackendGzIdx, nil
			}
			return BackendGz, nil
		}
		return BackendLines, nil

	case metadata.FormatODIMH5, metadata.FormatNetCDF, metadata.FormatJPEG:
		return BackendDir, nil

	default:
		return 0, fmt.Errorf("segment: unrecognized format %q", format)
	}
}

// Manager resolves (root, relpath) pairs to concrete backend handles,
// refusing to open a writer against a .gz-compressed path (repack must
// decompress first per §4.2) and ensuring parent directories exist
// before a write.
type Manager struct {
	root       string
	forceDir   bool
	holeDir    bool
	registry   *Registry
}

type ManagerOption func(*Manager)

// ForceDirManager forces every format to the dir backend (§4.1).
func ForceDirManager() ManagerOption {
	return func(m *Manager) { m.forceDir = true }
}

// HoleDirManager produces dir segments whose data files are sparse
// (ftruncate-only), for fast fixture construction (§4.1).
func HoleDirManager() ManagerOption {
	return func(m *Manager) {
		m.forceDir = true
		m.holeDir = true
	}
}

func NewManager(root string, opts ...ManagerOption) *Manager {
	m := &Manager{root: root, registry: NewRegistry()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) resolve(relPath string, format metadata.Format) (Segment, error) {
	absPath := filepath.Join(m.root, relPath)
	if m.forceDir {
		return New(m.root, relPath, BackendDir), nil
	}
	p := Probe(absPath)
	backend, err := SelectBackend(format, p)
	if err != nil {
		return Segment{}, err
	}
	return New(m.root, relPath, backend), nil
}

func (m *Manager) OpenReader(relPath string, format metadata.Format) (Reader, error) {
	seg, err := m.resolve(relPath, format)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(seg.AbsPath); err != nil {
		if os.IsNotExist(err) {
			return &missingReader{path: seg.AbsPath}, nil
		}
		return nil, err
	}
	switch seg.Backend {
	case BackendConcat:
		return OpenConcatReader(seg.AbsPath)
	case BackendLines:
		return OpenLinesReader(seg.AbsPath)
	case BackendDir:
		return OpenDirReader(seg.AbsPath, format)
	case BackendTar:
		return OpenTarReader(seg.AbsPath)
	case BackendZip:
		return OpenZipReader(seg.AbsPath)
	case BackendGz:
		return OpenGzReader(seg.AbsPath, nil)
	case BackendGzIdx:
		idx, err := OpenGzBlockIndex(seg.AbsPath + ".idx")
		if err != nil {
			return nil, err
		}
		return OpenGzReader(seg.AbsPath, idx)
	default:
		return nil, fmt.Errorf("segment: unsupported backend %s", seg.Backend)
	}
}

// OpenWriter opens an append handle, creating parent directories as
// needed, and refuses outright on a .gz-compressed target (§4.2).
func (m *Manager) OpenWriter(relPath string, format metadata.Format) (Writer, error) {
	seg, err := m.resolve(relPath, format)
	if err != nil {
		return nil, err
	}
	if seg.Backend == BackendGz || seg.Backend == BackendGzIdx {
		return nil, fmt.Errorf("segment: refusing to append into compressed segment %s; repack must uncompress first", seg.RelPath)
	}
	if err := os.MkdirAll(filepath.Dir(seg.AbsPath), 0755); err != nil {
		return nil, err
	}
	switch seg.Backend {
	case BackendConcat:
		return OpenConcatWriter(seg.AbsPath)
	case BackendLines:
		return OpenLinesWriter(seg.AbsPath)
	case BackendDir:
		return OpenDirWriter(seg.AbsPath, format, m.holeDir)
	default:
		return nil, fmt.Errorf("segment: unsupported writable backend %s", seg.Backend)
	}
}

func (m *Manager) OpenChecker(relPath string, format metadata.Format) (Checker, error) {
	seg, err := m.resolve(relPath, format)
	if err != nil {
		return nil, err
	}
	switch seg.Backend {
	case BackendConcat:
		return OpenConcatChecker(seg.AbsPath)
	case BackendLines:
		return OpenLinesChecker(seg.AbsPath)
	case BackendDir:
		return OpenDirChecker(seg.AbsPath, format)
	case BackendTar:
		return OpenTarChecker(seg.AbsPath)
	case BackendZip:
		return OpenZipChecker(seg.AbsPath, format)
	case BackendGz:
		return OpenGzChecker(seg.AbsPath, nil)
	case BackendGzIdx:
		idx, err := OpenGzBlockIndex(seg.AbsPath + ".idx")
		if err != nil {
			return nil, err
		}
		return OpenGzChecker(seg.AbsPath, idx)
	default:
		return nil, fmt.Errorf("segment: unsupported backend %s", seg.Backend)
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

// missingReader is the sentinel returned for a vanished segment file
// (§4.1: "Missing file → a sentinel reader that fails every read with
// 'file has disappeared'").
type missingReader struct{ path string }

func (r *missingReader) Read(offset, size int64) ([]byte, error) {
	return nil, fmt.Errorf("segment: file has disappeared: %s", r.path)
}
func (r *missingReader) Stream(w io.Writer, offset, size int64) (int64, error) {
	return 0, fmt.Errorf("segment: file has disappeared: %s", r.path)
}
func (r *missingReader) ScanData(fn func(data []byte, offset int64) error) error {
	return fmt.Errorf("segment: file has disappeared: %s", r.path)
}
func (r *missingReader) Close() error { return nil }
