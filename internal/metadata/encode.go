package metadata

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"time"
)

// Binary envelope (§6.3): a bare metadata record is a length-prefixed TLV
// block; a run of records may be wrapped in an "MG" group with a 4-byte
// compressed length, a 4-byte uncompressed length, and a compressed body.
// A stream is any concatenation of bare blocks and MG groups.
//
// This mirrors the teacher's internal/message.RecordBatch: a fixed header
// (here: magic + 4-byte payload length + 4-byte CRC) followed by varint-delimited
// fields, CRC-verified on decode. The teacher decoded one physical batch
// into many logical Kafka records via BatchIterator; here one physical
// bare-block decodes into exactly one Metadata, and the MG wrapper plays
// the batch's role of grouping many of them under one compressed envelope.

var (
	ErrInsufficientData = errors.New("metadata: insufficient data to decode")
	ErrCRCMismatch      = errors.New("metadata: crc mismatch")
	ErrBadMagic         = errors.New("metadata: bad magic byte")
)

const (
	magicBare  byte = 0xA5
	magicGroup byte = 0xA6
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// EncodeBare writes one bare metadata TLV block: magic, a 4-byte
// big-endian payload length and a 4-byte big-endian CRC32C of the
// payload, then the payload itself: the reftime (kind byte + two
// unix-nano varints), a varint item count, for each item a varint code,
// varint length and data, and finally a varint note count and each note
// as a varint length plus its bytes.
func EncodeBare(md *Metadata) []byte {
	var body bytes.Buffer

	body.WriteByte(byte(md.Reftime.Kind))
	writeVarint(&body, md.Reftime.Begin.UnixNano())
	writeVarint(&body, md.Reftime.End.UnixNano())

	writeVarint(&body, int64(len(md.Items)))
	for _, it := range md.Items {
		writeVarint(&body, int64(it.Code))
		writeVarint(&body, int64(len(it.Data)))
		body.Write(it.Data)
	}

	writeVarint(&body, int64(len(md.Notes)))
	for _, n := range md.Notes {
		writeVarint(&body, int64(len(n)))
		body.WriteString(n)
	}

	payload := body.Bytes()
	crc := crc32.Checksum(payload, crcTable)

	out := make([]byte, 0, 1+4+4+len(payload))
	out = append(out, magicBare)
	var lenbuf [4]byte
	binary.BigEndian.PutUint32(lenbuf[:], uint32(len(payload)))
	out = append(out, lenbuf[:]...)
	var crcbuf [4]byte
	binary.BigEndian.PutUint32(crcbuf[:], crc)
	out = append(out, crcbuf[:]...)
	out = append(out, payload...)
	return out
}

// DecodeBare parses one bare TLV block written by EncodeBare, returning
// the Metadata (with a zero Source — the caller fills it in from the
// segment it scanned the block out of) and the number of bytes consumed.
func DecodeBare(data []byte) (*Metadata, int, error) {
	if len(data) < 9 {
		return nil, 0, ErrInsufficientData
	}
	if data[0] != magicBare {
		return nil, 0, ErrBadMagic
	}
	payloadLen := binary.BigEndian.Uint32(data[1:5])
	wantCRC := binary.BigEndian.Uint32(data[5:9])
	total := 9 + int(payloadLen)
	if len(data) < total {
		return nil, 0, ErrInsufficientData
	}
	payload := data[9:total]
	if crc32.Checksum(payload, crcTable) != wantCRC {
		return nil, 0, ErrCRCMismatch
	}

	r := bytes.NewReader(payload)
	kindByte, _ := r.ReadByte()
	begin, err := readVarint(r)
	if err != nil {
		return nil, 0, ErrInsufficientData
	}
	end, err := readVarint(r)
	if err != nil {
		return nil, 0, ErrInsufficientData
	}

	md := &Metadata{Reftime: Reftime{
		Kind:  ReftimeKind(kindByte),
		Begin: time.Unix(0, begin).UTC(),
		End:   time.Unix(0, end).UTC(),
	}}

	nItems, err := readVarint(r)
	if err != nil {
		return nil, 0, ErrInsufficientData
	}
	for i := int64(0); i < nItems; i++ {
		code, err := readVarint(r)
		if err != nil {
			return nil, 0, ErrInsufficientData
		}
		n, err := readVarint(r)
		if err != nil {
			return nil, 0, ErrInsufficientData
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, 0, ErrInsufficientData
		}
		md.Items = append(md.Items, Item{Code: ItemCode(code), Data: buf})
	}

	nNotes, err := readVarint(r)
	if err != nil {
		return nil, 0, ErrInsufficientData
	}
	for i := int64(0); i < nNotes; i++ {
		n, err := readVarint(r)
		if err != nil {
			return nil, 0, ErrInsufficientData
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, 0, ErrInsufficientData
		}
		md.Notes = append(md.Notes, string(buf))
	}

	return md, total, nil
}

// EncodeGroup wraps a run of bare-encoded metadata blocks in an MG
// envelope: magic, 4-byte compressed length, 4-byte uncompressed length,
// gzip-compressed body (§6.3 names LZO; see DESIGN.md for why gzip is
// substituted). The uncompressed body is simply the concatenation of the
// member blocks' EncodeBare output.
func EncodeGroup(mds []*Metadata) ([]byte, error) {
	var raw bytes.Buffer
	for _, md := range mds {
		raw.Write(EncodeBare(md))
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 9+compressed.Len())
	out = append(out, magicGroup)
	var clen, ulen [4]byte
	binary.BigEndian.PutUint32(clen[:], uint32(compressed.Len()))
	binary.BigEndian.PutUint32(ulen[:], uint32(raw.Len()))
	out = append(out, clen[:]...)
	out = append(out, ulen[:]...)
	out = append(out, compressed.Bytes()...)
	return out, nil
}

// DecodeGroup parses one MG envelope, returning its member records and
// the number of bytes consumed from data.
func DecodeGroup(data []byte) ([]*Metadata, int, error) {
	if len(data) < 9 || data[0] != magicGroup {
		return nil, 0, ErrBadMagic
	}
	clen := binary.BigEndian.Uint32(data[1:5])
	ulen := binary.BigEndian.Uint32(data[5:9])
	total := 9 + int(clen)
	if len(data) < total {
		return nil, 0, ErrInsufficientData
	}

	gz, err := gzip.NewReader(bytes.NewReader(data[9:total]))
	if err != nil {
		return nil, 0, err
	}
	raw := make([]byte, ulen)
	if _, err := io.ReadFull(gz, raw); err != nil {
		return nil, 0, err
	}
	_ = gz.Close()

	var out []*Metadata
	off := 0
	for off < len(raw) {
		md, n, err := DecodeBare(raw[off:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, md)
		off += n
	}
	return out, total, nil
}

// DecodeStream decodes a concatenation of bare blocks and MG groups (any
// mix, any order, per §6.3) until data is exhausted.
func DecodeStream(data []byte) ([]*Metadata, error) {
	var out []*Metadata
	off := 0
	for off < len(data) {
		switch data[off] {
		case magicBare:
			md, n, err := DecodeBare(data[off:])
			if err != nil {
				return nil, err
			}
			out = append(out, md)
			off += n
		case magicGroup:
			mds, n, err := DecodeGroup(data[off:])
			if err != nil {
				return nil, err
			}
			out = append(out, mds...)
			off += n
		default:
			return nil, ErrBadMagic
		}
	}
	return out, nil
}

func writeVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readVarint(r *bytes.Reader) (int64, error) {
	return binary.ReadVarint(r)
}
