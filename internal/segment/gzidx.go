package segment

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/tysonmote/gommap"
)

// gzidx is the block index for a compressed concat segment (§3: ".gz.idx
// mapping uncompressed-offset blocks → compressed-offset seek points"),
// adapted directly from the teacher's gommap-backed segment index
// (offWidth/posWidth entries, binary search by the first field) but now
// mapping uncompressed-byte block boundaries to gzip seek points instead
// of Kafka relative offsets to log positions.

const (
	gzIdxOffWidth  = 8 // uncompressed offset (uint64)
	gzIdxPosWidth  = 8 // compressed seek position (uint64)
	gzIdxEntWidth  = gzIdxOffWidth + gzIdxPosWidth
	gzIdxMaxBytes  = 1 << 20 // 1MiB of entries preallocated; Append returns io.EOF once it is full
)

type GzBlockIndex struct {
	file *os.File
	mMap gommap.MMap
	size int64
}

func OpenGzBlockIndex(path string) (*GzBlockIndex, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()

	if size < gzIdxMaxBytes {
		if err := f.Truncate(gzIdxMaxBytes); err != nil {
			f.Close()
			return nil, err
		}
	}

	m, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &GzBlockIndex{file: f, mMap: m, size: size - (size % gzIdxEntWidth)}, nil
}

// Append records a new block boundary (uncompressedOffset, seekPos).
// Entries must be written in increasing uncompressedOffset order.
func (g *GzBlockIndex) Append(uncompressedOffset, seekPos uint64) error {
	if g.size+gzIdxEntWidth > int64(len(g.mMap)) {
		return io.EOF
	}
	binary.BigEndian.PutUint64(g.mMap[g.size:], uncompressedOffset)
	binary.BigEndian.PutUint64(g.mMap[g.size+gzIdxOffWidth:], seekPos)
	g.size += gzIdxEntWidth
	return nil
}

// Lookup returns the seek position of the block covering
// uncompressedOffset: the largest recorded block boundary <= offset.
func (g *GzBlockIndex) Lookup(uncompressedOffset uint64) (seekPos uint64, blockStart uint64, err error) {
	if g.size == 0 {
		return 0, 0, nil
	}
	entries := int(g.size / gzIdxEntWidth)
	low, high := 0, entries-1
	foundPos, foundStart := uint64(0), uint64(0)
	for low <= high {
		mid := (low + high) / 2
		at := int64(mid) * gzIdxEntWidth
		off := binary.BigEndian.Uint64(g.mMap[at:])
		pos := binary.BigEndian.Uint64(g.mMap[at+gzIdxOffWidth:])
		if off <= uncompressedOffset {
			foundPos, foundStart = pos, off
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return foundPos, foundStart, nil
}

func (g *GzBlockIndex) Close() error {
	if err := g.mMap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := g.file.Truncate(g.size); err != nil {
		return err
	}
	return g.file.Close()
}

func (g *GzBlockIndex) Delete() error {
	path := g.file.Name()
	_ = g.mMap.UnsafeUnmap()
	_ = g.file.Close()
	return os.Remove(path)
}
