// Package report accumulates what an import run did and freezes it into
// an ImportReport. A report is produced for every run, including runs that
// were rejected before any collection was reconciled.
package report

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/commit"
	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/reconcile"
	"github.com/slimatic/zakapp-sub004/internal/store"
	"github.com/slimatic/zakapp-sub004/internal/validator"
)

// Counts are per-collection outcome totals. Reassigned entities count as
// imported and merged ones as updated.
type Counts struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Imported: c.Imported + o.Imported,
		Skipped:  c.Skipped + o.Skipped,
		Updated:  c.Updated + o.Updated,
		Failed:   c.Failed + o.Failed,
	}
}

// Error codes used in ErrorDescriptor.Code.
const (
	CodeMalformed        = "malformed_payload"
	CodeSchema           = "schema"
	CodeChecksum         = "checksum_mismatch"
	CodeOrder            = "order"
	CodeDecode           = "decode_failed"
	CodeReassignTarget   = "reassign_target_required"
	CodeDecryption       = "decryption_failure"
	CodeCommit           = "commit_failed"
	CodeCancelled        = "cancelled"
	CodeResumeToken      = "invalid_resume_token"
	CodeCanonicalization = "canonicalization"
	CodeOptions          = "invalid_options"
	CodeInternal         = "internal"
)

// ErrorDescriptor is one error in a report. Index is -1 when the error
// does not belong to a single entity.
type ErrorDescriptor struct {
	Collection string `json:"collection,omitempty"`
	Index      int    `json:"index"`
	StableID   string `json:"stableId,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// OutcomeLine is the per-entity decision as shown in a report.
type OutcomeLine struct {
	Collection model.Collection `json:"collection"`
	Index      int              `json:"index"`
	StableID   string           `json:"stableId,omitempty"`
	Action     reconcile.Action `json:"action"`
	Notes      []string         `json:"notes,omitempty"`
}

// ImportReport is the immutable result of one import run.
type ImportReport struct {
	RunID        string                      `json:"runId"`
	DryRun       bool                        `json:"dryRun"`
	Strategy     string                      `json:"strategy"`
	Summary      map[model.Collection]Counts `json:"summary"`
	Collections  map[model.Collection]string `json:"collections"`
	Warnings     []string                    `json:"warnings"`
	Errors       []ErrorDescriptor           `json:"errors"`
	ResumeTokens map[model.Collection]string `json:"resumeTokens,omitempty"`
	Outcomes     []OutcomeLine               `json:"outcomes,omitempty"`
}

// Total sums Summary over all collections.
func (r *ImportReport) Total() Counts {
	var t Counts
	for _, c := range r.Summary {
		t = t.Add(c)
	}
	return t
}

// OK reports whether the run finished without errors.
func (r *ImportReport) OK() bool {
	return len(r.Errors) == 0
}

// Builder accumulates a report. It is safe for concurrent use.
type Builder struct {
	mu     sync.Mutex
	report ImportReport
}

// NewBuilder starts a report for one run.
func NewBuilder(runID string, dryRun bool, strategy reconcile.Strategy) *Builder {
	return &Builder{report: ImportReport{
		RunID:        runID,
		DryRun:       dryRun,
		Strategy:     string(strategy),
		Summary:      map[model.Collection]Counts{},
		Collections:  map[model.Collection]string{},
		Warnings:     []string{},
		Errors:       []ErrorDescriptor{},
		ResumeTokens: map[model.Collection]string{},
	}}
}

// Warn appends a warning.
func (b *Builder) Warn(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Warnings = append(b.report.Warnings, msg)
}

// Fail records an error not tied to one entity.
func (b *Builder) Fail(c model.Collection, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Errors = append(b.report.Errors, ErrorDescriptor{
		Collection: string(c),
		Index:      -1,
		Code:       Classify(err),
		Message:    err.Error(),
	})
}

// Reject records invalid run options. Nothing was validated or applied.
func (b *Builder) Reject(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Errors = append(b.report.Errors, ErrorDescriptor{
		Index:   -1,
		Code:    CodeOptions,
		Message: err.Error(),
	})
}

// SetState records the final commit state of a collection.
func (b *Builder) SetState(c model.Collection, state commit.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Collections[c] = string(state)
}

// AddOutcomes counts a collection's reconciliation outcomes and copies
// their warnings and errors into the report.
func (b *Builder) AddOutcomes(c model.Collection, outcomes []reconcile.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := b.report.Summary[c]
	for _, o := range outcomes {
		switch o.Action {
		case reconcile.ActionCreate, reconcile.ActionReassign:
			counts.Imported++
		case reconcile.ActionSkip:
			counts.Skipped++
		case reconcile.ActionUpdate, reconcile.ActionMerge:
			counts.Updated++
		case reconcile.ActionFailed:
			counts.Failed++
		}
		for _, w := range o.Warnings {
			b.report.Warnings = append(b.report.Warnings, fmt.Sprintf("%s[%d]: %s", c, o.Index, w))
		}
		if o.Err != nil {
			b.report.Errors = append(b.report.Errors, ErrorDescriptor{
				Collection: string(c),
				Index:      o.Index,
				StableID:   o.StableID,
				Code:       Classify(o.Err),
				Message:    o.Err.Error(),
			})
		}
		b.report.Outcomes = append(b.report.Outcomes, OutcomeLine{
			Collection: c,
			Index:      o.Index,
			StableID:   o.StableID,
			Action:     o.Action,
			Notes:      slices.Clone(o.Notes),
		})
	}
	b.report.Summary[c] = counts
}

// RollBack records a collection whose commit was reverted. Every entity
// that would have been written is counted as failed. index is the entity
// that was about to be applied, or -1.
func (b *Builder) RollBack(c model.Collection, token string, index int, stableID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := b.report.Summary[c]
	counts.Failed += counts.Imported + counts.Updated
	counts.Imported, counts.Updated = 0, 0
	b.report.Summary[c] = counts

	if token != "" {
		b.report.ResumeTokens[c] = token
	}
	b.report.Errors = append(b.report.Errors, ErrorDescriptor{
		Collection: string(c),
		Index:      index,
		StableID:   stableID,
		Code:       Classify(err),
		Message:    err.Error(),
	})
}

// Finalize returns a deep copy of the report. The builder may keep being
// used; later calls do not affect reports already returned.
func (b *Builder) Finalize() *ImportReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.report
	r.Summary = maps.Clone(b.report.Summary)
	r.Collections = maps.Clone(b.report.Collections)
	r.ResumeTokens = maps.Clone(b.report.ResumeTokens)
	r.Warnings = slices.Clone(b.report.Warnings)
	r.Errors = slices.Clone(b.report.Errors)
	r.Outcomes = make([]OutcomeLine, len(b.report.Outcomes))
	for i, o := range b.report.Outcomes {
		o.Notes = slices.Clone(o.Notes)
		r.Outcomes[i] = o
	}
	return &r
}

// Classify maps an error to its report code.
func Classify(err error) string {
	var (
		mp *validator.MalformedPayloadError
		se *validator.SchemaError
		cm *validator.ChecksumMismatchError
		oe *validator.OrderError
		rt *reconcile.ReassignTargetRequiredError
		me *store.MutationError
		df *cryptox.DecryptionFailure
		ce *canon.CanonicalizationError
	)
	switch {
	case errors.As(err, &mp):
		return CodeMalformed
	case errors.As(err, &se):
		return CodeSchema
	case errors.As(err, &cm):
		return CodeChecksum
	case errors.As(err, &oe):
		return CodeOrder
	case errors.As(err, &rt):
		return CodeReassignTarget
	case errors.As(err, &df):
		return CodeDecryption
	case errors.As(err, &ce):
		return CodeCanonicalization
	case errors.Is(err, commit.ErrInvalidToken):
		return CodeResumeToken
	case errors.As(err, &me), errors.Is(err, commit.ErrAccountRolledBack):
		return CodeCommit
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	case errors.Is(err, validator.ErrElement):
		return CodeDecode
	default:
		return CodeInternal
	}
}
