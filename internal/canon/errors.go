package canon

import (
	"errors"
	"fmt"
)

// CanonicalizationError reports input that has no canonical form: cycles,
// non-finite numbers, invalid UTF-8 or unsupported Go types.
//
// It is always fatal for the operation that triggered it.
type CanonicalizationError struct {
	// Path locates the offending value, e.g. `$.assets[2].value`.
	Path string

	// Reason is a human-readable description.
	Reason string
}

// Error implements the error interface.
func (e *CanonicalizationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("canonicalization: %s", e.Reason)
	}
	return fmt.Sprintf("canonicalization: %s at %s", e.Reason, e.Path)
}

// IsCanonicalizationError returns true if err wraps a CanonicalizationError.
func IsCanonicalizationError(err error) bool {
	var ce *CanonicalizationError
	return errors.As(err, &ce)
}

func newError(path, format string, args ...any) *CanonicalizationError {
	return &CanonicalizationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
