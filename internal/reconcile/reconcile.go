// Package reconcile decides, entity by entity, what an import does to the
// destination store.
//
// Reconciliation is read-only. It produces one Outcome per incoming
// element; the commit package turns the accepted outcomes into store
// mutations. Decisions depend only on (existing state, incoming entity,
// strategy), so entities of one collection do not affect each other,
// except that a stableId seen earlier in the same run counts as existing.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/identity"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/store"
)

// Lookup is the read side of the destination store.
type Lookup interface {
	FindByStableID(ctx context.Context, ownerID string, c model.Collection, stableID string) (model.Entity, bool, error)
}

// Options selects how one collection is reconciled.
type Options struct {
	Strategy Strategy
	OwnerID  string
	// ReassignTo is the target owner for StrategyReassign.
	ReassignTo string
	// PreviousKey and TargetKey enable re-encryption when both are set.
	PreviousKey *cryptox.Key
	TargetKey   *cryptox.Key
}

func (o Options) rekey() bool {
	return o.PreviousKey != nil && o.TargetKey != nil
}

// Engine reconciles incoming collections against a Lookup.
type Engine struct {
	hasher *identity.Hasher
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an Engine that verifies stableIds with h.
func New(h *identity.Hasher, opts ...Option) *Engine {
	e := &Engine{hasher: h, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile returns one outcome per element of incoming, in order.
//
// Per-entity problems become failed outcomes. An error is returned only
// for lookup failures and cancellation; the outcomes computed so far are
// returned with it. Cancellation is checked between entities.
func (e *Engine) Reconcile(ctx context.Context, lookup Lookup, c model.Collection, incoming []model.Incoming, opts Options) ([]Outcome, error) {
	if !opts.Strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, opts.Strategy)
	}

	r := &run{
		engine:  e,
		lookup:  lookup,
		c:       c,
		opts:    opts,
		pending: map[string]model.Entity{},
	}
	out := make([]Outcome, 0, len(incoming))
	for _, in := range incoming {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		o, err := r.one(ctx, in)
		if err != nil {
			return out, err
		}
		out = append(out, o)
	}

	e.logger.Debug("collection reconciled",
		"collection", c,
		"strategy", opts.Strategy,
		"entities", len(out),
	)
	return out, nil
}

// run holds the state of reconciling one collection.
type run struct {
	engine *Engine
	lookup Lookup
	c      model.Collection
	opts   Options
	// pending holds the latest accepted version of each stableId written
	// earlier in this run.
	pending map[string]model.Entity
}

func (r *run) one(ctx context.Context, in model.Incoming) (Outcome, error) {
	o := Outcome{Index: in.Index, OwnerID: r.opts.OwnerID}
	if in.Err != nil {
		o.Action, o.Err = ActionFailed, in.Err
		return o, nil
	}

	inc := in.Entity.Clone()
	derived, drifted := r.engine.hasher.Assign(inc)
	sid := inc.Base().StableID
	o.StableID = sid
	if drifted {
		o.Warnings = append(o.Warnings, fmt.Sprintf(
			"declared stableId %s differs from derived %s; declared id kept", short(sid), short(derived)))
	}

	strategy := r.opts.Strategy
	if strategy == StrategyReassign {
		if r.opts.ReassignTo == "" {
			o.Action, o.Err = ActionFailed, &ReassignTargetRequiredError{Index: in.Index, StableID: sid}
			return o, nil
		}
		inc.Base().ID = ""
		r.reencrypt(inc, &o)
		o.Action, o.OwnerID, o.Entity = ActionReassign, r.opts.ReassignTo, inc
		r.pending[sid] = inc
		return o, nil
	}

	existing, found := r.pending[sid]
	if !found {
		var err error
		existing, found, err = r.lookup.FindByStableID(ctx, r.opts.OwnerID, r.c, sid)
		if err != nil {
			return o, fmt.Errorf("lookup %s %s: %w", r.c, short(sid), err)
		}
	}

	inc.Base().ID = ""
	switch {
	case !found:
		r.reencrypt(inc, &o)
		o.Action, o.Entity = ActionCreate, inc
	case strategy == StrategySkip:
		o.Action = ActionSkip
		return o, nil
	case strategy == StrategyUpdate:
		r.reencrypt(inc, &o)
		prev := existing.Base()
		next := inc.Base()
		next.ID = prev.ID
		if prev.CreatedAt != "" {
			next.CreatedAt = prev.CreatedAt
		}
		o.Action, o.Entity = ActionUpdate, inc
	case strategy == StrategyMerge:
		r.reencrypt(inc, &o)
		merged, err := model.Merge(existing, inc)
		if err != nil {
			o.Action, o.Err = ActionFailed, err
			return o, nil
		}
		o.Action, o.Entity = ActionMerge, merged
	}
	r.pending[sid] = o.Entity
	return o, nil
}

// reencrypt moves each ciphertext field from the previous key to the
// target key. A field that fails keeps its original ciphertext.
func (r *run) reencrypt(e model.Entity, o *Outcome) {
	if !r.opts.rekey() {
		return
	}
	fields := e.Base().EncryptedFields
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ct, err := cryptox.Rekey(*r.opts.PreviousKey, *r.opts.TargetKey, fields[name])
		if err != nil {
			failure := &cryptox.DecryptionFailure{StableID: o.StableID, Field: name, Err: err}
			o.Warnings = append(o.Warnings, failure.Error()+"; original ciphertext kept")
			continue
		}
		fields[name] = ct
		o.Notes = append(o.Notes, "re-encrypted "+name)
	}
}

// Mutations converts the accepted outcomes into store mutations, in
// outcome order.
func Mutations(outcomes []Outcome) []store.Mutation {
	var muts []store.Mutation
	for _, o := range outcomes {
		if m, ok := o.Mutation(); ok {
			muts = append(muts, m)
		}
	}
	return muts
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
