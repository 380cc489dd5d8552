package errs

// ConsistencyError reports a disagreement between the index/manifest's
// view of a segment and its actual on-disk content (§7, §8's "index ↔
// disk agreement" property).
type ConsistencyError struct {
	*baseError
	relPath string
	state   string // a segment.State.String() snapshot at detection time
}

func NewConsistencyError(cause error, code Code, msg string) *ConsistencyError {
	return &ConsistencyError{baseError: newBaseError(cause, code, msg)}
}

func (e *ConsistencyError) WithRelPath(relPath string) *ConsistencyError {
	e.relPath = relPath
	return e
}

func (e *ConsistencyError) WithState(state string) *ConsistencyError {
	e.state = state
	return e
}

func (e *ConsistencyError) RelPath() string { return e.relPath }
func (e *ConsistencyError) State() string   { return e.state }
