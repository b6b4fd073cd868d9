package notebook

import (
	"errors"
	"fmt"
)

// Common errors returned by Store operations.
//
// Check them with errors.Is:
//
//	if errors.Is(err, notebook.ErrInvalidIndex) {
//	    // the peer sent a negative or unresolvable cell index
//	}
var (
	// ErrInvalidIndex is returned when a cell index is negative or the host
	// cannot produce a cell at it even after backfill.
	ErrInvalidIndex = errors.New("invalid cell index")

	// ErrInvalidKind is returned for a cell kind the store does not support.
	ErrInvalidKind = errors.New("invalid cell kind")

	// ErrNoKernel is returned by execution requests when no kernel is attached.
	ErrNoKernel = errors.New("no execution kernel attached")
)

// IndexError reports which index an operation failed on.
type IndexError struct {
	Op    string
	Index int
	Msg   string
}

func (e *IndexError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s %d: %s", e.Op, e.Index, ErrInvalidIndex)
	}
	return fmt.Sprintf("%s %d: %s: %s", e.Op, e.Index, ErrInvalidIndex, e.Msg)
}

func (e *IndexError) Unwrap() error { return ErrInvalidIndex }

func invalidIndex(op string, index int, msg string) error {
	return &IndexError{Op: op, Index: index, Msg: msg}
}
