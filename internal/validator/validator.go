// Package validator defines the opaque per-format content-check
// interface (§6.4): verifying that bytes at a given offset really are a
// well-formed message of the claimed format is format-specific and out
// of scope (§1). Segment Checkers call a validate function only on a
// Check with quick=false; internal/dataset's Checker always runs quick
// checks, so it never reaches a Validator. Null is the fallback used
// when no format-specific validator is registered.
package validator

import "arkimet/internal/metadata"

// Validator checks that raw bytes form one well-formed message.
type Validator interface {
	// ValidateBuf checks an in-memory buffer, typically already read off
	// disk by the segment Checker.
	ValidateBuf(format metadata.Format, data []byte) error

	// ValidateFile checks size bytes starting at offset in the named
	// file without requiring the caller to read it into memory first,
	// for formats whose validators can stream.
	ValidateFile(format metadata.Format, path string, offset, size int64) error
}

// Null accepts every buffer and file region unconditionally — the
// registry fallback per §6.4 for formats with no registered validator,
// and the validator most tests are built against since format-specific
// validation is out of scope per §1.
type Null struct{}

func (Null) ValidateBuf(metadata.Format, []byte) error { return nil }

func (Null) ValidateFile(metadata.Format, string, int64, int64) error { return nil }
