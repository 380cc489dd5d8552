package errs

// DuplicateError is returned when an acquire's unique tuple collides
// with an already-indexed record (§4.4's acquire contract). WithExisting
// records the existing record's location (relpath, offset, size).
type DuplicateError struct {
	*baseError
	existingRelPath string
	existingOffset  int64
	existingSize    int64
}

func NewDuplicateError(msg string) *DuplicateError {
	return &DuplicateError{baseError: newBaseError(nil, CodeDuplicate, msg)}
}

func (e *DuplicateError) WithExisting(relPath string, offset, size int64) *DuplicateError {
	e.existingRelPath = relPath
	e.existingOffset = offset
	e.existingSize = size
	return e
}

func (e *DuplicateError) ExistingRelPath() string { return e.existingRelPath }
func (e *DuplicateError) ExistingOffset() int64    { return e.existingOffset }
func (e *DuplicateError) ExistingSize() int64      { return e.existingSize }
