package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/slimatic/zakapp-sub004/internal/model"
)

// ErrElement marks a collection element that cannot be decoded as an
// entity. It fails that element only.
var ErrElement = errors.New("invalid collection element")

// MalformedPayloadError reports a payload that is not valid JSON.
// Line and Column are 1-based and derived from Offset.
type MalformedPayloadError struct {
	Offset int64
	Line   int
	Column int
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload at line %d, column %d (offset %d): %v", e.Line, e.Column, e.Offset, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// SchemaError reports a payload whose structure cannot be imported at all,
// such as a missing metadata or checksums section.
type SchemaError struct {
	Details []string
}

func (e *SchemaError) Error() string {
	return "payload schema: " + strings.Join(e.Details, "; ")
}

// ChecksumMismatchError is a collection-level integrity failure.
// Collection is "overall" when the checksum section is inconsistent.
type ChecksumMismatchError struct {
	Collection string
	Declared   string
	Computed   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: declared %q, computed %q", e.Collection, e.Declared, e.Computed)
}

// OrderError reports a collection not sorted ascending by stableId.
type OrderError struct {
	Collection model.Collection
	Index      int
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s[%d] is out of stableId order", e.Collection, e.Index)
}

// SchemaDriftWarning is a non-fatal unknown, mistyped or missing field.
// The value is preserved under metadata.legacy.
type SchemaDriftWarning struct {
	Collection model.Collection
	Index      int
	StableID   string
	Drift      model.Drift
}

func (w *SchemaDriftWarning) Error() string {
	if w.StableID != "" {
		return fmt.Sprintf("%s[%d] (%s): %s", w.Collection, w.Index, shortID(w.StableID), w.Drift)
	}
	return fmt.Sprintf("%s[%d]: %s", w.Collection, w.Index, w.Drift)
}

// IsIntegrityError reports whether err is a checksum or ordering failure.
func IsIntegrityError(err error) bool {
	var cm *ChecksumMismatchError
	var oe *OrderError
	return errors.As(err, &cm) || errors.As(err, &oe)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
