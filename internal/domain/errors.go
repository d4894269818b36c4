package domain

import "errors"

var (
	// ErrInvalidSequence is returned when an appended event would violate the
	// strict open/close alternation of pool instances: an Open while another
	// pool is still active, an Open that skips an ordinal, a Close with no
	// matching unmatched Open, or a duplicate Close.
	ErrInvalidSequence = errors.New("invalid pool sequence")

	// ErrNonMonotonicTime is returned when an appended event's timestamp
	// precedes the last recorded event, or a Close does not fall strictly
	// after its Open.
	ErrNonMonotonicTime = errors.New("non-monotonic event timestamp")

	// ErrCorruptLog is returned when replaying a persisted log whose stored
	// digests do not match the recomputed digest chain.
	ErrCorruptLog = errors.New("event log digest mismatch")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)
