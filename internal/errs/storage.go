package errs

// StorageError reports a segment backend I/O failure, identifying the
// segment and, where relevant, the byte offset involved (§7).
type StorageError struct {
	*baseError
	relPath string
	offset  int64
}

func NewStorageError(cause error, code Code, msg string) *StorageError {
	return &StorageError{baseError: newBaseError(cause, code, msg)}
}

func (e *StorageError) WithRelPath(relPath string) *StorageError {
	e.relPath = relPath
	return e
}

func (e *StorageError) WithOffset(offset int64) *StorageError {
	e.offset = offset
	return e
}

func (e *StorageError) RelPath() string { return e.relPath }
func (e *StorageError) Offset() int64   { return e.offset }
