package canon

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Options selects per-field string canonicalization.
type Options struct {
	// Fold applies Unicode case folding after normalization.
	Fold bool
}

// Identity is the rule applied to every unique-key component.
// Changing it changes every stableId ever issued, so it is frozen.
var Identity = Options{Fold: true}

// CanonicalizeString applies NFKC normalization, trims surrounding
// whitespace, collapses internal whitespace runs to one ASCII space and
// case-folds when opts.Fold is set.
//
// Folding is followed by a second NFKC pass because folding can produce
// sequences that are no longer in normal form.
func CanonicalizeString(s string, opts Options) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	if opts.Fold {
		// cases.Caser is stateful, one per call
		s = norm.NFKC.String(cases.Fold().String(s))
	}
	return s
}
