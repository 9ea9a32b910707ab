// Package importer runs one import: validate, reconcile, commit, report.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/slimatic/zakapp-sub004/internal/commit"
	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/metrics"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/reconcile"
	"github.com/slimatic/zakapp-sub004/internal/report"
	"github.com/slimatic/zakapp-sub004/internal/store"
	"github.com/slimatic/zakapp-sub004/internal/validator"
)

var (
	// ErrConsentRequired is returned when rekey or reassign is requested
	// without the caller confirming user consent.
	ErrConsentRequired = errors.New("explicit user consent is required for rekey and reassign")
	// ErrOwnerRequired is returned when no owner id is given.
	ErrOwnerRequired = errors.New("owner id is required")
	// ErrIncompleteRekey is returned when only one rekey key is given.
	ErrIncompleteRekey = errors.New("rekey needs both the previous and the target key")
)

// RunIDGenerator produces import run identifiers.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 run ids.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Options are the caller's choices for one import.
type Options struct {
	OwnerID  string
	Strategy reconcile.Strategy
	DryRun   bool
	// ReassignTo is the target owner for the reassign strategy.
	ReassignTo string
	// Consent confirms the user approved rekey or reassign.
	Consent     bool
	PreviousKey *cryptox.Key
	TargetKey   *cryptox.Key
	Atomicity   commit.Mode
	Parallel    bool
	// ResumeFrom holds encoded resume tokens from an earlier report.
	ResumeFrom []string
}

// Importer wires the validator and the commit coordinator together.
type Importer struct {
	validator *validator.Validator
	coord     *commit.Coordinator
	runIDs    RunIDGenerator
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// WithMetrics records import outcomes.
func WithMetrics(m *metrics.Recorder) Option {
	return func(im *Importer) { im.metrics = m }
}

// WithRunIDs sets the run id generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(im *Importer) { im.runIDs = g }
}

// New returns an Importer.
func New(v *validator.Validator, coord *commit.Coordinator, opts ...Option) *Importer {
	im := &Importer{
		validator: v,
		coord:     coord,
		runIDs:    UUIDv7Generator{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import validates data and applies it to st for opts.OwnerID.
//
// A report is always returned. The error is non-nil only when the run
// could not start: bad options, a malformed payload or a schema failure.
// Collection-level failures are in the report.
func (im *Importer) Import(ctx context.Context, st store.TxStore, data []byte, opts Options) (*report.ImportReport, error) {
	if opts.Strategy == "" {
		opts.Strategy = reconcile.StrategySkip
	}
	b := report.NewBuilder(im.runIDs.Generate(), opts.DryRun, opts.Strategy)
	abort := func(err error, options bool) (*report.ImportReport, error) {
		if options {
			b.Reject(err)
		} else {
			b.Fail("", err)
		}
		r := b.Finalize()
		im.logger.Warn("import aborted", "run_id", r.RunID, "error", err)
		return r, err
	}

	if err := checkOptions(opts); err != nil {
		return abort(err, true)
	}
	tokens, err := parseTokens(opts.ResumeFrom)
	if err != nil {
		return abort(err, false)
	}

	res, err := im.validator.Validate(ctx, data)
	if err != nil {
		return abort(err, false)
	}
	for _, w := range res.Warnings {
		b.Warn(w)
	}

	plans := make([]commit.Plan, 0, 3)
	for _, c := range model.AllCollections() {
		p := commit.Plan{
			Collection: c,
			Incoming:   res.Incoming[c],
			Digest:     res.Computed.For(c),
			Rejected:   res.Integrity[c],
			Resume:     tokens[c],
		}
		if p.Rejected != nil {
			im.metrics.IntegrityFailure(string(c))
		}
		plans = append(plans, p)
	}

	results := im.coord.Run(ctx, st, plans, commit.Options{
		Reconcile: reconcile.Options{
			Strategy:    opts.Strategy,
			OwnerID:     opts.OwnerID,
			ReassignTo:  opts.ReassignTo,
			PreviousKey: opts.PreviousKey,
			TargetKey:   opts.TargetKey,
		},
		DryRun:   opts.DryRun,
		Mode:     opts.Atomicity,
		Parallel: opts.Parallel,
	})

	for _, r := range results {
		b.AddOutcomes(r.Collection, r.Outcomes)
		if r.State == commit.StateRolledBack {
			var token string
			if r.Token != nil {
				token = r.Token.Encode()
			}
			b.RollBack(r.Collection, token, r.FailedIndex, r.FailedStableID, r.Err)
		}
		b.SetState(r.Collection, r.State)
	}

	rep := b.Finalize()
	if !opts.DryRun {
		for c, counts := range rep.Summary {
			im.metrics.Outcome(string(c), "imported", counts.Imported)
			im.metrics.Outcome(string(c), "skipped", counts.Skipped)
			im.metrics.Outcome(string(c), "updated", counts.Updated)
			im.metrics.Outcome(string(c), "failed", counts.Failed)
		}
	}

	total := rep.Total()
	im.logger.Info("import finished",
		"run_id", rep.RunID,
		"dry_run", opts.DryRun,
		"strategy", opts.Strategy,
		"imported", total.Imported,
		"skipped", total.Skipped,
		"updated", total.Updated,
		"failed", total.Failed,
		"errors", len(rep.Errors),
	)
	return rep, nil
}

func checkOptions(opts Options) error {
	if opts.OwnerID == "" {
		return ErrOwnerRequired
	}
	if !opts.Strategy.Valid() {
		return fmt.Errorf("%w: %q", reconcile.ErrUnknownStrategy, opts.Strategy)
	}
	if (opts.PreviousKey == nil) != (opts.TargetKey == nil) {
		return ErrIncompleteRekey
	}
	rekey := opts.PreviousKey != nil
	if (rekey || opts.Strategy == reconcile.StrategyReassign) && !opts.Consent {
		return ErrConsentRequired
	}
	return nil
}

func parseTokens(encoded []string) (map[model.Collection]*commit.Token, error) {
	out := map[model.Collection]*commit.Token{}
	for _, s := range encoded {
		tok, err := commit.ParseToken(s)
		if err != nil {
			return nil, err
		}
		if _, dup := out[tok.Collection]; dup {
			return nil, fmt.Errorf("%w: more than one token for %s", commit.ErrInvalidToken, tok.Collection)
		}
		out[tok.Collection] = &tok
	}
	return out, nil
}
