package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedDocument means an XML document lacks the invoice-info element
	ErrMalformedDocument = errors.New("malformed document")

	// ErrLayoutMismatch means a single PDF layout does not fit a document
	ErrLayoutMismatch = errors.New("layout mismatch")

	// ErrLayoutExhausted means no PDF layout fit a document
	ErrLayoutExhausted = errors.New("no layout matched")
)

// MismatchError describes why a layout rejected a document
type MismatchError struct {
	Layout string
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("layout %s: %s", e.Layout, e.Reason)
}

// Unwrap lets errors.Is match ErrLayoutMismatch
func (e *MismatchError) Unwrap() error {
	return ErrLayoutMismatch
}

// reason is a mismatch raised inside a layout before the layout name is known
type reason string

func mismatchf(format string, args ...any) error {
	return reason(fmt.Sprintf(format, args...))
}

func (r reason) Error() string {
	return string(r)
}
