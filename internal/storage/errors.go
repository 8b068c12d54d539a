package storage

import (
	"errors"
	"fmt"
)

// ErrInvalidReading is returned when a reading falls outside its value domains
var ErrInvalidReading = errors.New("reading outside valid range")

// StorageError wraps a failed store operation. The engine treats it as fatal
// to the current cycle only.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
