package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/store"
)

// Strategy selects how an incoming entity that already exists is handled.
type Strategy string

const (
	StrategySkip     Strategy = "skip"
	StrategyUpdate   Strategy = "update"
	StrategyMerge    Strategy = "merge"
	StrategyReassign Strategy = "reassign"
)

// ErrUnknownStrategy is returned for a strategy name that is not defined.
var ErrUnknownStrategy = errors.New("unknown conflict strategy")

// Valid reports whether s is a defined strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySkip, StrategyUpdate, StrategyMerge, StrategyReassign:
		return true
	}
	return false
}

// ParseStrategy parses a strategy name, case-insensitively. The empty
// string means skip.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategySkip, nil
	}
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return st, nil
}

// Action is the decision taken for one incoming entity.
type Action string

const (
	ActionCreate   Action = "create"
	ActionSkip     Action = "skip"
	ActionUpdate   Action = "update"
	ActionMerge    Action = "merge"
	ActionReassign Action = "reassign"
	ActionFailed   Action = "failed"
)

// Outcome is the reconciliation result for one incoming element.
type Outcome struct {
	// Index is the element's position in the incoming array.
	Index    int
	StableID string
	Action   Action
	// Entity is the version to write. Nil for skip and failed.
	Entity model.Entity
	// OwnerID is the owner the written row belongs to.
	OwnerID  string
	Notes    []string
	Warnings []string
	Err      error
}

// Mutation returns the store write this outcome requires, if any.
func (o Outcome) Mutation() (store.Mutation, bool) {
	var op store.Op
	switch o.Action {
	case ActionCreate:
		op = store.OpCreate
	case ActionUpdate:
		op = store.OpUpdate
	case ActionMerge:
		op = store.OpMerge
	case ActionReassign:
		op = store.OpReassign
	default:
		return store.Mutation{}, false
	}
	return store.Mutation{
		EntityIndex: o.Index,
		StableID:    o.StableID,
		Op:          op,
		OwnerID:     o.OwnerID,
		Entity:      o.Entity,
	}, true
}

// ReassignTargetRequiredError is the failed outcome of a reassign with no
// target owner.
type ReassignTargetRequiredError struct {
	Index    int
	StableID string
}

func (e *ReassignTargetRequiredError) Error() string {
	return fmt.Sprintf("entity %d (%s): reassign requires a target owner id", e.Index, short(e.StableID))
}
