package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/commit"
	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/reconcile"
	"github.com/slimatic/zakapp-sub004/internal/store"
	"github.com/slimatic/zakapp-sub004/internal/validator"
)

func sampleOutcomes() []reconcile.Outcome {
	return []reconcile.Outcome{
		{Index: 0, StableID: "a", Action: reconcile.ActionCreate, Notes: []string{"re-encrypted notes"}},
		{Index: 1, StableID: "b", Action: reconcile.ActionSkip},
		{Index: 2, StableID: "c", Action: reconcile.ActionMerge, Warnings: []string{"declared stableId c differs"}},
		{Index: 3, StableID: "d", Action: reconcile.ActionUpdate},
		{Index: 4, StableID: "e", Action: reconcile.ActionReassign},
		{Index: 5, StableID: "f", Action: reconcile.ActionFailed, Err: &reconcile.ReassignTargetRequiredError{Index: 5, StableID: "f"}},
	}
}

func TestBuilderCountsOutcomes(t *testing.T) {
	b := NewBuilder("run-1", false, reconcile.StrategyMerge)
	b.AddOutcomes(model.Assets, sampleOutcomes())
	b.SetState(model.Assets, commit.StateCommitted)

	r := b.Finalize()
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, "merge", r.Strategy)
	assert.Equal(t, Counts{Imported: 2, Skipped: 1, Updated: 2, Failed: 1}, r.Summary[model.Assets])
	assert.Equal(t, "committed", r.Collections[model.Assets])

	require.Len(t, r.Errors, 1)
	assert.Equal(t, ErrorDescriptor{
		Collection: "assets",
		Index:      5,
		StableID:   "f",
		Code:       CodeReassignTarget,
		Message:    "entity 5 (f): reassign requires a target owner id",
	}, r.Errors[0])

	assert.Equal(t, []string{"assets[2]: declared stableId c differs"}, r.Warnings)
	require.Len(t, r.Outcomes, 6)
	assert.Equal(t, []string{"re-encrypted notes"}, r.Outcomes[0].Notes)
	assert.False(t, r.OK())
}

func TestBuilderRollBack(t *testing.T) {
	b := NewBuilder("run-2", false, reconcile.StrategySkip)
	b.AddOutcomes(model.Assets, sampleOutcomes()[:2])
	b.AddOutcomes(model.Payments, sampleOutcomes()[:4])

	cause := &store.MutationError{Index: 1, StableID: "c", Err: errors.New("disk full")}
	b.RollBack(model.Payments, "tok", 2, "c", cause)
	b.SetState(model.Payments, commit.StateRolledBack)

	r := b.Finalize()
	assert.Equal(t, Counts{Imported: 1, Skipped: 1}, r.Summary[model.Assets])
	assert.Equal(t, Counts{Skipped: 1, Failed: 3}, r.Summary[model.Payments])
	assert.Equal(t, map[model.Collection]string{model.Payments: "tok"}, r.ResumeTokens)

	require.Len(t, r.Errors, 1)
	assert.Equal(t, CodeCommit, r.Errors[0].Code)
	assert.Equal(t, 2, r.Errors[0].Index)
	assert.Equal(t, Counts{Imported: 1, Skipped: 2, Failed: 3}, r.Total())
}

func TestFinalizeIsImmutable(t *testing.T) {
	b := NewBuilder("run-3", true, reconcile.StrategySkip)
	b.AddOutcomes(model.Assets, sampleOutcomes()[:1])
	r1 := b.Finalize()

	b.Warn("later")
	b.AddOutcomes(model.Assets, sampleOutcomes()[1:2])
	r1.Outcomes[0].Notes[0] = "edited"

	assert.Empty(t, r1.Warnings)
	assert.Equal(t, 1, r1.Summary[model.Assets].Imported)
	assert.Equal(t, 0, r1.Summary[model.Assets].Skipped)

	r2 := b.Finalize()
	assert.Equal(t, []string{"later"}, r2.Warnings)
	assert.Equal(t, "re-encrypted notes", r2.Outcomes[0].Notes[0])
}

func TestEmptyReportJSON(t *testing.T) {
	b := NewBuilder("run-4", false, reconcile.StrategySkip)
	b.Fail("", &validator.SchemaError{Details: []string{"checksums: field is required"}})

	out, err := json.Marshal(b.Finalize())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, []any{}, decoded["warnings"])
	assert.Equal(t, map[string]any{}, decoded["summary"])
	errs := decoded["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "schema", errs[0].(map[string]any)["code"])
	assert.Equal(t, float64(-1), errs[0].(map[string]any)["index"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&validator.MalformedPayloadError{Err: errors.New("x")}, CodeMalformed},
		{&validator.SchemaError{}, CodeSchema},
		{&validator.ChecksumMismatchError{Collection: "assets"}, CodeChecksum},
		{&validator.OrderError{Collection: model.Assets}, CodeOrder},
		{fmt.Errorf("%w: payments[3] is not an object", validator.ErrElement), CodeDecode},
		{&reconcile.ReassignTargetRequiredError{}, CodeReassignTarget},
		{&cryptox.DecryptionFailure{Err: cryptox.ErrAuthentication}, CodeDecryption},
		{&canon.CanonicalizationError{}, CodeCanonicalization},
		{fmt.Errorf("resume: %w", commit.ErrInvalidToken), CodeResumeToken},
		{&store.MutationError{Err: errors.New("x")}, CodeCommit},
		{fmt.Errorf("%w: boom", commit.ErrAccountRolledBack), CodeCommit},
		{fmt.Errorf("lookup: %w", context.Canceled), CodeCancelled},
		{errors.New("other"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
