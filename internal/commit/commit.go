// Package commit applies reconciled collections to the destination store.
//
// Every collection runs through its own state machine:
//
//	Pending -> Validating -> Committing -> Committed
//	                 |             |
//	                 +-------------+-> RolledBack
//
// Validating is reconciliation. Committing is one ApplyMutations call, so a
// collection's writes become visible together or not at all. In collection
// mode a failure in one collection leaves the others untouched; in account
// mode all collections share one outer transaction and fail together.
// Dry runs stop in Validating.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/slimatic/zakapp-sub004/internal/metrics"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/reconcile"
	"github.com/slimatic/zakapp-sub004/internal/store"
)

// State is a collection's position in the commit state machine.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolledBack"
)

var transitions = map[State][]State{
	StatePending:    {StateValidating},
	StateValidating: {StateCommitting, StateRolledBack},
	StateCommitting: {StateCommitted, StateRolledBack},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Mode is the atomicity granularity of a run.
type Mode string

const (
	// ModeCollection commits each collection independently.
	ModeCollection Mode = "collection"
	// ModeAccount commits all collections in one transaction.
	ModeAccount Mode = "account"
)

// ParseMode parses an atomicity mode. The empty string means collection.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeCollection:
		return ModeCollection, nil
	case ModeAccount:
		return ModeAccount, nil
	}
	return "", fmt.Errorf("unknown atomicity mode %q", s)
}

// ErrAccountRolledBack is the cause recorded on collections reverted
// because another collection failed in account mode.
var ErrAccountRolledBack = errors.New("rolled back with the rest of the account")

// Plan is one validated collection ready to commit.
type Plan struct {
	Collection model.Collection
	Incoming   []model.Incoming
	// Digest is the collection's recomputed array digest.
	Digest string
	// Resume is the token of an earlier rolled back attempt.
	Resume *Token
	// Rejected is set when the collection failed its integrity checks.
	// It rolls back without being reconciled.
	Rejected error
}

// Options controls one run.
type Options struct {
	Reconcile reconcile.Options
	DryRun    bool
	Mode      Mode
	// Parallel processes collections concurrently. Ignored in account mode.
	Parallel bool
}

// Result is the final state of one collection.
type Result struct {
	Collection model.Collection
	State      State
	// History lists every state entered, starting with Pending.
	History  []State
	Outcomes []reconcile.Outcome
	// Applied is the number of mutations made durable.
	Applied int
	// Mutations is the number of writes the outcomes call for.
	Mutations int
	Err       error
	// FailedIndex is the incoming position that was about to be applied
	// when the collection rolled back, or -1.
	FailedIndex    int
	FailedStableID string
	Token          *Token
	// ResumedAt is the index of the token the collection was resumed
	// with, or -1.
	ResumedAt int
}

// Coordinator drives collections through the commit state machine.
type Coordinator struct {
	rec     *reconcile.Engine
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics records final collection states.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New returns a Coordinator that reconciles with rec.
func New(rec *reconcile.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{rec: rec, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes every plan and returns one Result per plan, in plan
// order. It does not return an error: every failure is captured in the
// affected collection's Result, which always ends Committed or RolledBack
// (Validating for dry runs).
func (co *Coordinator) Run(ctx context.Context, st store.TxStore, plans []Plan, opts Options) []*Result {
	var results []*Result
	switch {
	case opts.Mode == ModeAccount && !opts.DryRun:
		results = co.runAccount(ctx, st, plans, opts)
	case opts.Parallel:
		results = make([]*Result, len(plans))
		// Collections fail independently, so the group never cancels.
		var g errgroup.Group
		for i, p := range plans {
			g.Go(func() error {
				results[i] = co.runCollection(ctx, st, p, opts, false)
				return nil
			})
		}
		_ = g.Wait()
	default:
		results = make([]*Result, 0, len(plans))
		for _, p := range plans {
			results = append(results, co.runCollection(ctx, st, p, opts, false))
		}
	}

	for _, r := range results {
		co.metrics.CollectionState(string(r.Collection), string(r.State))
	}
	return results
}

func (co *Coordinator) runAccount(ctx context.Context, st store.TxStore, plans []Plan, opts Options) []*Result {
	results := make([]*Result, 0, len(plans))
	err := st.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		for _, p := range plans {
			res := co.runCollection(ctx, tx, p, opts, true)
			results = append(results, res)
			if res.State == StateRolledBack {
				return res.Err
			}
		}
		return nil
	})

	if err == nil {
		for _, res := range results {
			co.to(res, StateCommitted)
		}
		return results
	}

	// Nothing in the account was applied, so the run is retried whole
	// rather than resumed.
	cause := fmt.Errorf("%w: %v", ErrAccountRolledBack, err)
	for _, res := range results {
		if res.State == StateCommitting {
			res.Applied = 0
			co.rollBack(res, cause, firstIndex(res.Outcomes), "", "")
		}
		res.Token = nil
	}
	for _, p := range plans[len(results):] {
		res := newResult(p.Collection)
		co.to(res, StateValidating)
		co.rollBack(res, cause, -1, "", "")
		results = append(results, res)
	}
	return results
}

// runCollection moves one collection through the state machine. With
// deferCommit the collection stops in Committing and the caller decides.
func (co *Coordinator) runCollection(ctx context.Context, st store.Store, p Plan, opts Options, deferCommit bool) *Result {
	res := newResult(p.Collection)
	co.to(res, StateValidating)

	if p.Rejected != nil {
		co.rollBack(res, p.Rejected, -1, "", "")
		return res
	}

	// A rolled back collection applied nothing, so a resumed one is
	// reconciled again from the start with the caller's strategy. The
	// token only has to match the payload.
	if p.Resume != nil {
		if err := p.Resume.check(p.Collection, p.Digest); err != nil {
			co.rollBack(res, err, -1, "", "")
			return res
		}
		res.ResumedAt = p.Resume.Index
		co.logger.Info("resuming collection", "collection", p.Collection, "index", p.Resume.Index)
	}

	outcomes, err := co.rec.Reconcile(ctx, st, p.Collection, p.Incoming, opts.Reconcile)
	res.Outcomes = outcomes
	if err != nil {
		idx := -1
		if len(outcomes) < len(p.Incoming) {
			idx = p.Incoming[len(outcomes)].Index
		}
		co.rollBack(res, err, idx, "", p.Digest)
		return res
	}

	muts := reconcile.Mutations(outcomes)
	res.Mutations = len(muts)
	if opts.DryRun {
		return res
	}

	if err := ctx.Err(); err != nil {
		co.rollBack(res, err, firstIndex(outcomes), "", p.Digest)
		return res
	}

	co.to(res, StateCommitting)
	if err := st.ApplyMutations(ctx, p.Collection, muts); err != nil {
		idx, sid := failedAt(muts, err)
		co.rollBack(res, err, idx, sid, p.Digest)
		return res
	}
	res.Applied = len(muts)
	if !deferCommit {
		co.to(res, StateCommitted)
	}
	return res
}

func newResult(c model.Collection) *Result {
	return &Result{
		Collection:  c,
		State:       StatePending,
		History:     []State{StatePending},
		FailedIndex: -1,
		ResumedAt:   -1,
	}
}

func (co *Coordinator) to(res *Result, s State) {
	if !canTransition(res.State, s) {
		panic(fmt.Sprintf("commit: illegal transition %s -> %s for %s", res.State, s, res.Collection))
	}
	res.State = s
	res.History = append(res.History, s)
	co.logger.Debug("collection state", "collection", res.Collection, "state", s)
}

// rollBack ends the collection in RolledBack. A token is issued when idx
// is a real position and digest is known.
func (co *Coordinator) rollBack(res *Result, err error, idx int, stableID, digest string) {
	co.to(res, StateRolledBack)
	res.Err = err
	res.FailedIndex = idx
	res.FailedStableID = stableID
	if idx >= 0 && digest != "" {
		res.Token = &Token{Collection: res.Collection, Index: idx, Digest: digest}
	}
	co.logger.Warn("collection rolled back",
		"collection", res.Collection,
		"index", idx,
		"error", err,
	)
}

// failedAt maps a store error to the incoming position of the failing
// mutation.
func failedAt(muts []store.Mutation, err error) (int, string) {
	var me *store.MutationError
	if errors.As(err, &me) && me.Index >= 0 && me.Index < len(muts) {
		return muts[me.Index].EntityIndex, muts[me.Index].StableID
	}
	if len(muts) > 0 {
		return muts[0].EntityIndex, muts[0].StableID
	}
	return 0, ""
}

// firstIndex is the position of the first write the outcomes call for.
func firstIndex(outcomes []reconcile.Outcome) int {
	for _, o := range outcomes {
		if _, ok := o.Mutation(); ok {
			return o.Index
		}
	}
	return 0
}
