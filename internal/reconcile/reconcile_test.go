package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/store"
	"github.com/slimatic/zakapp-sub004/internal/testutil"
)

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, testutil.SeedAll(context.Background(), s, testutil.OwnerID))
	return s
}

func reconcile(t *testing.T, l Lookup, c model.Collection, in []model.Incoming, opts Options) []Outcome {
	t.Helper()
	if opts.OwnerID == "" {
		opts.OwnerID = testutil.OwnerID
	}
	out, err := New(testutil.Hasher()).Reconcile(context.Background(), l, c, in, opts)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	return out
}

func actions(out []Outcome) []Action {
	as := make([]Action, len(out))
	for i, o := range out {
		as[i] = o.Action
	}
	return as
}

func TestReconcileCreatesIntoEmptyStore(t *testing.T) {
	out := reconcile(t, store.NewMemoryStore(), model.Assets, testutil.Incoming(testutil.Assets()), Options{Strategy: StrategySkip})

	assert.Equal(t, []Action{ActionCreate, ActionCreate}, actions(out))
	for _, o := range out {
		require.NotNil(t, o.Entity)
		assert.Equal(t, o.StableID, o.Entity.Base().StableID)
		assert.Equal(t, testutil.OwnerID, o.OwnerID)
	}
	assert.Len(t, Mutations(out), 2)
}

func TestReconcileCaseAndWhitespaceCollide(t *testing.T) {
	in := testutil.Incoming([]model.Entity{
		&model.Asset{Type: "Cash", Name: " Savings ", AccountReference: ""},
		&model.Asset{Type: "cash", Name: "savings", AccountReference: ""},
	})

	out := reconcile(t, store.NewMemoryStore(), model.Assets, in, Options{Strategy: StrategySkip})

	assert.Equal(t, []Action{ActionCreate, ActionSkip}, actions(out))
	assert.Equal(t, out[0].StableID, out[1].StableID)
	assert.Len(t, Mutations(out), 1)
}

func TestReconcileInRunDuplicateUpdateFolds(t *testing.T) {
	in := testutil.Incoming([]model.Entity{
		&model.Asset{Type: "Cash", Name: "Wallet", Value: canon.MustNumber("1")},
		&model.Asset{Type: "cash", Name: "wallet", Value: canon.MustNumber("2")},
	})

	out := reconcile(t, store.NewMemoryStore(), model.Assets, in, Options{Strategy: StrategyUpdate})
	assert.Equal(t, []Action{ActionCreate, ActionUpdate}, actions(out))

	s := store.NewMemoryStore()
	require.NoError(t, s.ApplyMutations(context.Background(), model.Assets, Mutations(out)))
	got, err := s.ListByOwner(context.Background(), testutil.OwnerID, model.Assets)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].(*model.Asset).Value.Equal(canon.MustNumber("2")), "last applied wins")
}

func TestReconcileSkipExisting(t *testing.T) {
	out := reconcile(t, seeded(t), model.Payments, testutil.Incoming(testutil.Payments()), Options{Strategy: StrategySkip})

	assert.Equal(t, []Action{ActionSkip, ActionSkip}, actions(out))
	for _, o := range out {
		assert.Nil(t, o.Entity)
		_, ok := o.Mutation()
		assert.False(t, ok)
	}
}

func TestReconcileUpdatePreservesLocalIDAndCreatedAt(t *testing.T) {
	s := seeded(t)
	stored, err := s.ListByOwner(context.Background(), testutil.OwnerID, model.Assets)
	require.NoError(t, err)
	byID := map[string]model.Entity{}
	for _, e := range stored {
		byID[e.Base().StableID] = e
	}

	incoming := testutil.Assets()
	a := incoming[0].(*model.Asset)
	a.Value = canon.MustNumber("13000")
	a.CreatedAt = "2030-01-01T00:00:00Z"
	a.UpdatedAt = "2030-01-02T00:00:00Z"

	out := reconcile(t, s, model.Assets, testutil.Incoming(incoming[:1]), Options{Strategy: StrategyUpdate})
	require.Equal(t, ActionUpdate, out[0].Action)

	got := out[0].Entity.(*model.Asset)
	prev := byID[a.StableID].Base()
	assert.Equal(t, prev.ID, got.ID)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "2023-01-10T08:00:00Z", got.CreatedAt)
	assert.Equal(t, "2030-01-02T00:00:00Z", got.UpdatedAt)
	assert.True(t, got.Value.Equal(canon.MustNumber("13000")))
}

func TestReconcileMerge(t *testing.T) {
	s := seeded(t)
	incoming := testutil.Assets()
	gold := incoming[1].(*model.Asset)
	gold.Value = canon.MustNumber("1")
	gold.Notes = "stored in vault"

	out := reconcile(t, s, model.Assets, testutil.Incoming(incoming[1:]), Options{Strategy: StrategyMerge})
	require.Equal(t, ActionMerge, out[0].Action)

	got := out[0].Entity.(*model.Asset)
	assert.NotEmpty(t, got.ID)
	assert.True(t, got.Value.Equal(canon.MustNumber("3400")), "existing non-empty value kept")
	assert.Equal(t, "stored in vault", got.Notes)
}

func TestReconcileReassign(t *testing.T) {
	s := seeded(t)

	t.Run("requires target", func(t *testing.T) {
		out := reconcile(t, s, model.Assets, testutil.Incoming(testutil.Assets()), Options{Strategy: StrategyReassign})
		for _, o := range out {
			assert.Equal(t, ActionFailed, o.Action)
			var rt *ReassignTargetRequiredError
			assert.True(t, errors.As(o.Err, &rt))
		}
		assert.Empty(t, Mutations(out))
	})

	t.Run("inserts under target", func(t *testing.T) {
		out := reconcile(t, s, model.Assets, testutil.Incoming(testutil.Assets()),
			Options{Strategy: StrategyReassign, ReassignTo: "user-2"})
		for _, o := range out {
			assert.Equal(t, ActionReassign, o.Action)
			assert.Equal(t, "user-2", o.OwnerID)
			assert.Empty(t, o.Entity.Base().ID)
		}

		require.NoError(t, s.ApplyMutations(context.Background(), model.Assets, Mutations(out)))
		moved, err := s.ListByOwner(context.Background(), "user-2", model.Assets)
		require.NoError(t, err)
		assert.Len(t, moved, 2)
	})
}

func TestReconcileRekey(t *testing.T) {
	prev, target := testutil.Key(1), testutil.Key(2)
	good, err := cryptox.Seal(prev, []byte("savings notes"))
	require.NoError(t, err)
	foreign, err := cryptox.Seal(testutil.Key(7), []byte("other"))
	require.NoError(t, err)

	in := testutil.Incoming([]model.Entity{&model.Asset{
		Record: model.Record{EncryptedFields: map[string]string{"notes": good, "account": foreign}},
		Type:   "Cash",
		Name:   "Savings",
	}})

	out := reconcile(t, store.NewMemoryStore(), model.Assets, in,
		Options{Strategy: StrategySkip, PreviousKey: &prev, TargetKey: &target})
	o := out[0]
	require.Equal(t, ActionCreate, o.Action)

	fields := o.Entity.Base().EncryptedFields
	pt, err := cryptox.Open(target, fields["notes"])
	require.NoError(t, err)
	assert.Equal(t, "savings notes", string(pt))
	assert.Equal(t, foreign, fields["account"], "failed re-encrypt keeps original ciphertext")

	assert.Equal(t, []string{"re-encrypted notes"}, o.Notes)
	require.Len(t, o.Warnings, 1)
	assert.Contains(t, o.Warnings[0], "account")

	// the incoming element is not modified
	assert.Equal(t, good, in[0].Entity.Base().EncryptedFields["notes"])
}

func TestReconcileCiphertextUntouchedWithoutKeys(t *testing.T) {
	out := reconcile(t, store.NewMemoryStore(), model.Payments, testutil.Incoming(testutil.Payments()), Options{Strategy: StrategySkip})
	assert.Equal(t, "aesgcm-v1:cmVjaXBpZW50", out[0].Entity.Base().EncryptedFields["recipientDetails"])
	assert.Empty(t, out[0].Notes)
}

func TestReconcileDecodeFailureIsFailedOutcome(t *testing.T) {
	in := testutil.Incoming(testutil.Assets())
	in = append(in, model.Incoming{Index: 2, Err: errors.New("assets[2] is not an object")})

	out := reconcile(t, store.NewMemoryStore(), model.Assets, in, Options{Strategy: StrategySkip})
	assert.Equal(t, []Action{ActionCreate, ActionCreate, ActionFailed}, actions(out))
	assert.Equal(t, 2, out[2].Index)
}

func TestReconcileStableIDDrift(t *testing.T) {
	in := testutil.Incoming([]model.Entity{&model.Asset{
		Record: model.Record{StableID: "declared-by-peer"},
		Type:   "Cash",
		Name:   "Wallet",
	}})
	out := reconcile(t, store.NewMemoryStore(), model.Assets, in, Options{Strategy: StrategySkip})

	assert.Equal(t, "declared-by-peer", out[0].StableID)
	require.Len(t, out[0].Warnings, 1)
	assert.Contains(t, out[0].Warnings[0], "declared id kept")
}

func TestReconcileLookupError(t *testing.T) {
	fs := testutil.NewFailingStore(store.NewMemoryStore(), model.Assets, -1)
	fs.LookupErr = testutil.ErrInjected

	_, err := New(testutil.Hasher()).Reconcile(context.Background(), fs, model.Assets,
		testutil.Incoming(testutil.Assets()), Options{Strategy: StrategySkip, OwnerID: testutil.OwnerID})
	assert.ErrorIs(t, err, testutil.ErrInjected)
}

func TestReconcileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := New(testutil.Hasher()).Reconcile(ctx, store.NewMemoryStore(), model.Assets,
		testutil.Incoming(testutil.Assets()), Options{Strategy: StrategySkip, OwnerID: testutil.OwnerID})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out)
}

func TestReconcileUnknownStrategy(t *testing.T) {
	_, err := New(testutil.Hasher()).Reconcile(context.Background(), store.NewMemoryStore(), model.Assets, nil, Options{Strategy: "overwrite"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategySkip, false},
		{"skip", StrategySkip, false},
		{"Update", StrategyUpdate, false},
		{" merge ", StrategyMerge, false},
		{"reassign", StrategyReassign, false},
		{"replace", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStrategy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutcomeMutation(t *testing.T) {
	e := &model.Asset{Type: "Cash", Name: "Wallet"}
	m, ok := Outcome{Index: 4, StableID: "s", Action: ActionMerge, OwnerID: "u", Entity: e}.Mutation()
	require.True(t, ok)
	assert.Equal(t, store.Mutation{EntityIndex: 4, StableID: "s", Op: store.OpMerge, OwnerID: "u", Entity: e}, m)

	_, ok = Outcome{Action: ActionFailed}.Mutation()
	assert.False(t, ok)
}
