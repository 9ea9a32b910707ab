package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/slimatic/zakapp-sub004/internal/model"
)

type memKey struct {
	owner      string
	collection model.Collection
	stableID   string
}

// MemoryStore is an in-process Store. Writes are copy-on-write, so a
// failed ApplyMutations or InTx leaves the visible state untouched.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[memKey]model.Entity
}

var _ TxStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[memKey]model.Entity{}}
}

func (m *MemoryStore) FindByStableID(ctx context.Context, ownerID string, c model.Collection, stableID string) (model.Entity, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rows[memKey{ownerID, c, stableID}]
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, c model.Collection) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Entity{}
	for k, e := range m.rows {
		if k.owner == ownerID && k.collection == c {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Base().StableID < out[j].Base().StableID
	})
	return out, nil
}

func (m *MemoryStore) ApplyMutations(ctx context.Context, c model.Collection, muts []Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.snapshot()
	for i, mut := range muts {
		if err := ctx.Err(); err != nil {
			return &MutationError{Index: i, StableID: mut.StableID, Err: err}
		}
		if err := applyMem(next, c, mut); err != nil {
			return &MutationError{Index: i, StableID: mut.StableID, Err: err}
		}
	}
	m.rows = next
	return nil
}

// InTx runs fn against a private copy and publishes it only on success.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.RLock()
	child := &MemoryStore{rows: m.snapshot()}
	m.mu.RUnlock()

	if err := fn(ctx, child); err != nil {
		return err
	}

	m.mu.Lock()
	m.rows = child.rows
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entities across owners and collections.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func (m *MemoryStore) snapshot() map[memKey]model.Entity {
	out := make(map[memKey]model.Entity, len(m.rows))
	for k, v := range m.rows {
		out[k] = v
	}
	return out
}

func applyMem(rows map[memKey]model.Entity, c model.Collection, mut Mutation) error {
	if mut.Entity == nil {
		return errors.New("mutation has no entity")
	}
	if mut.OwnerID == "" {
		return errors.New("mutation has no owner")
	}
	key := memKey{mut.OwnerID, c, mut.StableID}
	e := mut.Entity.Clone()
	e.Base().StableID = mut.StableID

	switch mut.Op {
	case OpCreate:
		if _, exists := rows[key]; exists {
			return fmt.Errorf("duplicate stableId %s", mut.StableID)
		}
		if e.Base().ID == "" {
			e.Base().ID = uuid.NewString()
		}
	case OpUpdate, OpMerge:
		prev, exists := rows[key]
		if !exists {
			return ErrNotFound
		}
		e.Base().ID = prev.Base().ID
	case OpReassign:
		if prev, exists := rows[key]; exists {
			e.Base().ID = prev.Base().ID
		} else {
			e.Base().ID = uuid.NewString()
		}
	default:
		return fmt.Errorf("unknown op %q", mut.Op)
	}
	rows[key] = e
	return nil
}
