package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store is closed")
	// ErrUnknownIndex is returned when a collection has no such secondary index.
	ErrUnknownIndex = errors.New("unknown index")
)

// Error is the typed failure of a store operation. Callers use errors.As to
// tell a local storage fault apart from a network or server failure.
type Error struct {
	Op         string
	Collection Collection
	Err        error
}

func (e *Error) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsStoreError reports whether err originated in the local store.
func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

func wrap(op string, c Collection, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Collection: c, Err: err}
}
