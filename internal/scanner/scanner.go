// Package scanner defines the opaque format-scanning interface (§6.4):
// turning raw message bytes into Metadata is format-specific and
// explicitly out of scope (§1). What the rest of the module needs is the
// shape of that boundary, plus one concrete scanner — Raw — that treats
// a length-delimited message as an opaque blob with a caller-supplied
// reftime, used by test fixtures and the smoke-test CLI.
package scanner

import (
	"encoding/binary"
	"fmt"
	"io"

	"arkimet/internal/metadata"
)

// Scanner turns message bytes into Metadata without interpreting the
// payload beyond what it needs to find message boundaries and a reftime.
type Scanner interface {
	// ScanPipe reads successive messages from r, passing each decoded
	// Metadata (with Source left as Inline; the caller fills in Blob
	// location once the bytes are written to a segment) to fn.
	ScanPipe(r io.Reader, fn func(*metadata.Metadata, []byte) error) error

	// ScanSegment scans every message already present in a concat/lines
	// segment file, in offset order.
	ScanSegment(r io.ReaderAt, size int64, fn func(*metadata.Metadata) error) error

	// ScanSingleton scans a single self-contained message (a dir/tar/zip
	// segment member).
	ScanSingleton(data []byte) (*metadata.Metadata, error)

	// FormatFromFilename guesses a Format from a segment's filename
	// extension, used by AutoManager-style backend probing.
	FormatFromFilename(name string) (metadata.Format, bool)

	// UpdateSequenceNumber returns msg's update sequence number, or
	// proposed when the format carries none (format-specific numbering
	// schemes are out of scope per §1, but the hook belongs at this
	// boundary). Nothing in this module calls it: dir segment writers
	// allocate their own dense ordinals.
	UpdateSequenceNumber(msg []byte, proposed int) int
}

// Raw is a length-delimited opaque-message scanner: each message is a
// 4-byte big-endian length prefix followed by that many bytes. It
// assigns no items and takes its reftime from a caller-supplied
// function, since Raw does not interpret the payload at all.
type Raw struct {
	Format       metadata.Format
	ReftimeForMsg func(msg []byte) metadata.Reftime
}

func (r Raw) ScanPipe(rd io.Reader, fn func(*metadata.Metadata, []byte) error) error {
	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(rd, lenBuf[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		msg := make([]byte, n)
		if _, err := io.ReadFull(rd, msg); err != nil {
			return err
		}
		md := &metadata.Metadata{
			Source:  metadata.NewInlineSource(r.Format, int64(n)),
			Reftime: r.ReftimeForMsg(msg),
		}
		if err := fn(md, msg); err != nil {
			return err
		}
	}
}

func (r Raw) ScanSegment(rd io.ReaderAt, size int64, fn func(*metadata.Metadata) error) error {
	var offset int64
	for offset < size {
		var lenBuf [4]byte
		if _, err := rd.ReadAt(lenBuf[:], offset); err != nil {
			return err
		}
		n := int64(binary.BigEndian.Uint32(lenBuf[:]))
		msg := make([]byte, n)
		if _, err := rd.ReadAt(msg, offset+4); err != nil {
			return err
		}
		md := &metadata.Metadata{
			Source:  metadata.NewBlobSource(r.Format, "", "", offset+4, n),
			Reftime: r.ReftimeForMsg(msg),
		}
		if err := fn(md); err != nil {
			return err
		}
		offset += 4 + n
	}
	return nil
}

func (r Raw) ScanSingleton(data []byte) (*metadata.Metadata, error) {
	return &metadata.Metadata{
		Source:  metadata.NewInlineSource(r.Format, int64(len(data))),
		Reftime: r.ReftimeForMsg(data),
	}, nil
}

func (r Raw) FormatFromFilename(name string) (metadata.Format, bool) {
	return r.Format, true
}

func (r Raw) UpdateSequenceNumber(msg []byte, proposed int) int {
	return proposed
}

var ErrNoScannerForFormat = fmt.Errorf("scanner: no scanner registered for format")
