package store

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	OpenFailed  ErrorKind = iota + 1 // database file cannot be opened or created
	WriteFailed                      // insert/exec failed
	ReadFailed                       // query failed
)

func (k ErrorKind) String() string {
	switch k {
	case OpenFailed:
		return "open_failed"
	case WriteFailed:
		return "write_failed"
	case ReadFailed:
		return "read_failed"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrOpenFailed  = errors.New("store open failed")
	ErrWriteFailed = errors.New("store write failed")
	ErrReadFailed  = errors.New("store read failed")
)

// ErrDuplicateEvent is returned by Record when the event's source timestamp
// has already been recorded. Callers skip it.
var ErrDuplicateEvent = errors.New("event already recorded")

// Error is the error type returned by store implementations.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrOpenFailed:
		return e.Kind == OpenFailed
	case ErrWriteFailed:
		return e.Kind == WriteFailed
	case ErrReadFailed:
		return e.Kind == ReadFailed
	}
	return false
}

// KindOf reports the ErrorKind carried by err, or 0 if err is not a store error.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
