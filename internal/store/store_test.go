package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/model"
)

// createTestStore opens a SQLite store in a temp dir.
func createTestStore(t *testing.T) *SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAsset(stableID, name string) *model.Asset {
	a := &model.Asset{
		Record: model.Record{
			StableID:        stableID,
			EncryptedFields: map[string]string{"notes": "aesgcm-v1:Zm9v"},
			CreatedAt:       "2024-01-01T00:00:00Z",
		},
		Type:  "Cash",
		Name:  name,
		Value: canon.MustNumber("10.50"),
	}
	return a
}

func stores(t *testing.T) map[string]TxStore {
	return map[string]TxStore{
		"sqlite": createTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(context.Background(), DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(context.Background(), DriverSQLite, path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_WALMode(t *testing.T) {
	s := createTestStore(t)

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestCreateFindList(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.ApplyMutations(ctx, model.Assets, []Mutation{
				{EntityIndex: 0, StableID: "b", Op: OpCreate, OwnerID: "u1", Entity: testAsset("b", "Two")},
				{EntityIndex: 1, StableID: "a", Op: OpCreate, OwnerID: "u1", Entity: testAsset("a", "One")},
			})
			require.NoError(t, err)

			got, ok, err := s.FindByStableID(ctx, "u1", model.Assets, "a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.NotEmpty(t, got.Base().ID)
			assert.Equal(t, "One", got.(*model.Asset).Name)
			assert.Equal(t, "aesgcm-v1:Zm9v", got.Base().EncryptedFields["notes"])

			_, ok, err = s.FindByStableID(ctx, "u2", model.Assets, "a")
			require.NoError(t, err)
			assert.False(t, ok, "lookups are owner-scoped")

			_, ok, err = s.FindByStableID(ctx, "u1", model.Payments, "a")
			require.NoError(t, err)
			assert.False(t, ok, "lookups are collection-scoped")

			list, err := s.ListByOwner(ctx, "u1", model.Assets)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].Base().StableID)
			assert.Equal(t, "b", list[1].Base().StableID)

			empty, err := s.ListByOwner(ctx, "nobody", model.Assets)
			require.NoError(t, err)
			assert.NotNil(t, empty)
			assert.Empty(t, empty)
		})
	}
}

func TestApplyMutationsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.ApplyMutations(ctx, model.Assets, []Mutation{
				{StableID: "a", Op: OpCreate, OwnerID: "u1", Entity: testAsset("a", "One")},
				{StableID: "b", Op: OpCreate, OwnerID: "u1", Entity: testAsset("b", "Two")},
				{StableID: "zz", Op: OpUpdate, OwnerID: "u1", Entity: testAsset("zz", "Missing")},
			})
			require.Error(t, err)

			var me *MutationError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, 2, me.Index)
			assert.Equal(t, "zz", me.StableID)
			assert.True(t, errors.Is(err, ErrNotFound))

			list, err := s.ListByOwner(ctx, "u1", model.Assets)
			require.NoError(t, err)
			assert.Empty(t, list, "no mutation from a failed list is visible")
		})
	}
}

func TestUpdatePreservesLocalID(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.ApplyMutations(ctx, model.Assets, []Mutation{
				{StableID: "a", Op: OpCreate, OwnerID: "u1", Entity: testAsset("a", "One")},
			}))
			before, _, err := s.FindByStableID(ctx, "u1", model.Assets, "a")
			require.NoError(t, err)

			changed := before.Clone().(*model.Asset)
			changed.Name = "Renamed"
			require.NoError(t, s.ApplyMutations(ctx, model.Assets, []Mutation{
				{StableID: "a", Op: OpUpdate, OwnerID: "u1", Entity: changed},
			}))

			after, _, err := s.FindByStableID(ctx, "u1", model.Assets, "a")
			require.NoError(t, err)
			assert.Equal(t, before.Base().ID, after.Base().ID)
			assert.Equal(t, "Renamed", after.(*model.Asset).Name)
		})
	}
}

func TestReassignUpserts(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.ApplyMutations(ctx, model.Assets, []Mutation{
				{StableID: "a", Op: OpReassign, OwnerID: "u2", Entity: testAsset("a", "One")},
			}))
			require.NoError(t, s.ApplyMutations(ctx, model.Assets, []Mutation{
				{StableID: "a", Op: OpReassign, OwnerID: "u2", Entity: testAsset("a", "One again")},
			}))

			list, err := s.ListByOwner(ctx, "u2", model.Assets)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "One again", list[0].(*model.Asset).Name)
		})
	}
}

func TestDuplicateCreateFails(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.ApplyMutations(ctx, model.Assets, []Mutation{
				{StableID: "a", Op: OpCreate, OwnerID: "u1", Entity: testAsset("a", "One")},
			}))
			err := s.ApplyMutations(ctx, model.Assets, []Mutation{
				{StableID: "a", Op: OpCreate, OwnerID: "u1", Entity: testAsset("a", "One")},
			})
			var me *MutationError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, 0, me.Index)
		})
	}
}

func TestInTxRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("boom")
			err := s.InTx(ctx, func(ctx context.Context, tx Store) error {
				if err := tx.ApplyMutations(ctx, model.Assets, []Mutation{
					{StableID: "a", Op: OpCreate, OwnerID: "u1", Entity: testAsset("a", "One")},
				}); err != nil {
					return err
				}
				// visible inside the transaction
				_, ok, err := tx.FindByStableID(ctx, "u1", model.Assets, "a")
				if err != nil {
					return err
				}
				assert.True(t, ok)
				return boom
			})
			require.ErrorIs(t, err, boom)

			_, ok, err := s.FindByStableID(ctx, "u1", model.Assets, "a")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestInTxCommits(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.InTx(ctx, func(ctx context.Context, tx Store) error {
				if err := tx.ApplyMutations(ctx, model.Assets, []Mutation{
					{StableID: "a", Op: OpCreate, OwnerID: "u1", Entity: testAsset("a", "One")},
				}); err != nil {
					return err
				}
				return tx.ApplyMutations(ctx, model.Payments, []Mutation{
					{StableID: "p", Op: OpCreate, OwnerID: "u1", Entity: &model.Payment{Amount: canon.MustNumber("5"), Date: "2024-01-01"}},
				})
			})
			require.NoError(t, err)

			_, ok, err := s.FindByStableID(ctx, "u1", model.Payments, "p")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStoredBytesAreCanonical(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.ApplyMutations(ctx, model.Assets, []Mutation{
		{StableID: "a", Op: OpCreate, OwnerID: "u1", Entity: testAsset("a", "One")},
	}))

	var data string
	require.NoError(t, s.DB().QueryRow("SELECT data FROM records").Scan(&data))
	assert.Equal(t,
		`{"createdAt":"2024-01-01T00:00:00Z","encryptedFields":{"notes":"aesgcm-v1:Zm9v"},"entityType":"asset","name":"One","stableId":"a","type":"Cash","value":10.5}`,
		data)
}
