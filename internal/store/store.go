package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/slimatic/zakapp-sub004/internal/model"
)

// Op is the kind of write a mutation performs.
type Op string

const (
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpMerge    Op = "merge"
	OpReassign Op = "reassign"
)

// Mutation is one accepted write for a collection.
type Mutation struct {
	// EntityIndex is the entity's position in the incoming array.
	EntityIndex int
	StableID    string
	Op          Op
	// OwnerID is the owner the row belongs to after the write. For
	// reassign it is the target owner.
	OwnerID string
	Entity  model.Entity
}

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("record not found")

// MutationError reports the position in the mutation list where
// ApplyMutations failed. Nothing from the list has been applied.
type MutationError struct {
	Index    int
	StableID string
	Err      error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation %d (%s): %v", e.Index, e.StableID, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Store is the destination the engine reads from and writes to.
type Store interface {
	// FindByStableID returns the owner's entity with the given stableId.
	// The returned entity carries its local ID.
	FindByStableID(ctx context.Context, ownerID string, c model.Collection, stableID string) (model.Entity, bool, error)

	// ApplyMutations applies every mutation or none of them. On failure
	// the error is a *MutationError naming the failing position.
	ApplyMutations(ctx context.Context, c model.Collection, muts []Mutation) error

	// ListByOwner returns the owner's entities ordered by stableId.
	ListByOwner(ctx context.Context, ownerID string, c model.Collection) ([]model.Entity, error)
}

// TxStore is a Store that can run several calls in one transaction.
// The Store passed to fn must be used for every call inside it.
type TxStore interface {
	Store
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
