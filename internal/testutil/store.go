package testutil

import (
	"context"
	"errors"

	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/store"
)

// ErrInjected is the default failure returned by FailingStore.
var ErrInjected = errors.New("injected store failure")

// FailingStore wraps a store and fails ApplyMutations for one collection
// at a chosen mutation index. Nothing from the failing list is applied,
// matching the atomic contract of a real store.
type FailingStore struct {
	store.Store
	tx store.TxStore

	Collection model.Collection
	At         int
	Err        error
	// LookupErr, when set, fails every FindByStableID for Collection.
	LookupErr error
}

var _ store.TxStore = (*FailingStore)(nil)

// NewFailingStore fails ApplyMutations for c at mutation index at.
func NewFailingStore(inner store.TxStore, c model.Collection, at int) *FailingStore {
	return &FailingStore{Store: inner, tx: inner, Collection: c, At: at, Err: ErrInjected}
}

func (f *FailingStore) FindByStableID(ctx context.Context, ownerID string, c model.Collection, stableID string) (model.Entity, bool, error) {
	if c == f.Collection && f.LookupErr != nil {
		return nil, false, f.LookupErr
	}
	return f.Store.FindByStableID(ctx, ownerID, c, stableID)
}

func (f *FailingStore) ApplyMutations(ctx context.Context, c model.Collection, muts []store.Mutation) error {
	if c == f.Collection && f.At >= 0 && f.At < len(muts) {
		return &store.MutationError{Index: f.At, StableID: muts[f.At].StableID, Err: f.Err}
	}
	return f.Store.ApplyMutations(ctx, c, muts)
}

func (f *FailingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if f.tx == nil {
		return fn(ctx, f)
	}
	return f.tx.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		inner := *f
		inner.Store = tx
		inner.tx = nil
		return fn(ctx, &inner)
	})
}
