package segment

import (
	"io"

	"arkimet/internal/metadata"
)

// lines is the concat backend plus newline framing, used for VM2 (§3,
// §4.1): each record ends with '\n' and offsets measure cumulative size
// including that newline. Since each record's size already counts the
// newline, streaming copies the stored bytes verbatim and adds nothing.

type LinesReader struct {
	*ConcatReader
}

func OpenLinesReader(path string) (*LinesReader, error) {
	r, err := OpenConcatReader(path)
	if err != nil {
		return nil, err
	}
	return &LinesReader{ConcatReader: r}, nil
}

// Stream copies size bytes (which by convention already includes the
// trailing newline recorded in the blob) verbatim.
func (r *LinesReader) Stream(w io.Writer, offset, size int64) (int64, error) {
	n, err := r.ConcatReader.Stream(w, offset, size)
	if err != nil {
		return n, err
	}
	return n, nil
}

type LinesWriter struct {
	*ConcatWriter
}

func OpenLinesWriter(path string) (*LinesWriter, error) {
	w, err := OpenConcatWriter(path)
	if err != nil {
		return nil, err
	}
	return &LinesWriter{ConcatWriter: w}, nil
}

// Append appends data followed by a newline, so the record's recorded
// size includes the delimiter as required by §3's lines offset rule.
func (w *LinesWriter) Append(data []byte) (*Transaction, error) {
	framed := make([]byte, len(data)+1)
	copy(framed, data)
	framed[len(data)] = '\n'
	return w.ConcatWriter.Append(framed)
}

type LinesChecker struct {
	*ConcatChecker
}

func OpenLinesChecker(path string) (*LinesChecker, error) {
	c, err := OpenConcatChecker(path)
	if err != nil {
		return nil, err
	}
	return &LinesChecker{ConcatChecker: c}, nil
}

func (c *LinesChecker) Check(expectedMDs []*metadata.Metadata, quick bool, validate func(data []byte) error) (State, error) {
	// Lines validation strips the trailing newline before handing bytes
	// to the format validator, since the validator only knows the bare
	// record.
	var stripNewline func(data []byte) error
	if validate != nil {
		stripNewline = func(data []byte) error {
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			return validate(data)
		}
	}
	return c.ConcatChecker.Check(expectedMDs, quick, stripNewline)
}
