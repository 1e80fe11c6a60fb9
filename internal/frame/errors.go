package frame

import "errors"

var (
	// ErrOutOfRange is returned for a negative or otherwise invalid timestamp.
	ErrOutOfRange = errors.New("timestamp out of range")

	// ErrUnknownKey is returned when writing a column to a row that does not exist.
	ErrUnknownKey = errors.New("unknown (instrument, timestamp) key")
)
