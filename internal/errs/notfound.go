package errs

// NotFoundError reports a missing segment or record lookup (§7).
type NotFoundError struct {
	*baseError
	kind string // "segment" | "record" | ...
	key  string
}

func NewNotFoundError(kind, key string) *NotFoundError {
	return &NotFoundError{
		baseError: newBaseError(nil, CodeNotFound, kind+" not found: "+key),
		kind:      kind,
		key:       key,
	}
}

func (e *NotFoundError) Kind() string { return e.kind }
func (e *NotFoundError) Key() string  { return e.key }
