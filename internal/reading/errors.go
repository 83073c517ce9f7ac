package reading

import "errors"

// Domain errors for the reading package. Check with errors.Is().
var (
	// ErrReadingNotFound is returned when a single-row lookup matches nothing.
	ErrReadingNotFound = errors.New("reading: not found")

	// ErrInvalidReading is returned when required fields are missing.
	ErrInvalidReading = errors.New("reading: invalid")
)
