package segment

import "errors"

var (
	ErrSegmentFull      = errors.New("segment: backend does not support further appends")
	ErrOffsetOutOfRange = errors.New("segment: offset out of range")
	ErrInvalidConfig    = errors.New("segment: invalid configuration")
	ErrInsufficientData = errors.New("segment: insufficient data to decode content")
	ErrCorrupted        = errors.New("segment: corrupted content")
	ErrReadOnly         = errors.New("segment: backend is read-only")
	ErrNotFound         = errors.New("segment: not found")
)
