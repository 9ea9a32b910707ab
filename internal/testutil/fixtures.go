package testutil

import (
	"context"
	"fmt"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/identity"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/store"
)

// Fixture constants shared across package tests.
const (
	Namespace = "zakapp-test"
	OwnerID   = "user-1"
	Salt      = "fixture-salt"
)

// Hasher returns a Hasher over Namespace.
func Hasher() *identity.Hasher {
	h, err := identity.NewHasher(identity.Config{Namespace: Namespace})
	if err != nil {
		panic(err)
	}
	return h
}

// Key returns a key filled with b.
func Key(b byte) cryptox.Key {
	var k cryptox.Key
	for i := range k {
		k[i] = b
	}
	return k
}

// Assets returns fresh asset fixtures with stableIds assigned.
// The ciphertexts are opaque placeholders, not decryptable.
func Assets() []model.Entity {
	h := Hasher()
	es := []model.Entity{
		&model.Asset{
			Record: model.Record{
				EncryptedFields: map[string]string{"notes": "aesgcm-v1:c2F2aW5ncy1ub3Rlcw=="},
				CreatedAt:       "2023-01-10T08:00:00Z",
				UpdatedAt:       "2023-06-01T08:00:00Z",
			},
			Type:     "Cash",
			Name:     "Savings",
			Value:    canon.MustNumber("12500.50"),
			Currency: "USD",
		},
		&model.Asset{
			Record: model.Record{
				CreatedAt: "2023-02-01T08:00:00Z",
				Metadata:  canon.Object{"source": canon.String("manual")},
			},
			Type:             "Gold",
			Name:             "Bar 50g",
			AccountReference: "VAULT-7",
			Value:            canon.MustNumber("3400"),
			Currency:         "USD",
			AcquisitionDate:  "2022-11-30",
		},
	}
	assign(h, es)
	return es
}

// NisabRecords returns fresh nisab record fixtures for OwnerID.
func NisabRecords() []model.Entity {
	h := Hasher()
	es := []model.Entity{
		&model.NisabRecord{
			Record:           model.Record{CreatedAt: "2023-07-01T00:00:00Z"},
			Year:             "1444",
			OwnerFingerprint: identity.OwnerFingerprint(Salt, OwnerID),
			NisabBasis:       "gold",
			NisabThreshold:   canon.MustNumber("5600"),
			TotalWealth:      canon.MustNumber("15900.50"),
			ZakatAmount:      canon.MustNumber("397.5125"),
			Status:           "completed",
			HawlStartDate:    "2022-07-19",
		},
	}
	assign(h, es)
	return es
}

// Payments returns fresh payment fixtures.
func Payments() []model.Entity {
	h := Hasher()
	es := []model.Entity{
		&model.Payment{
			Record: model.Record{
				EncryptedFields: map[string]string{"recipientDetails": "aesgcm-v1:cmVjaXBpZW50"},
				CreatedAt:       "2023-07-02T00:00:00Z",
			},
			OriginalPaymentID: "PAY-0001",
			Amount:            canon.MustNumber("200"),
			Currency:          "USD",
			Date:              "2023-07-02",
			Method:            "bank_transfer",
		},
		&model.Payment{
			Record:    model.Record{CreatedAt: "2023-07-03T00:00:00Z"},
			Amount:    canon.MustNumber("197.5125"),
			Currency:  "USD",
			Date:      "2023-07-03",
			Method:    "cash",
			Nonce:     "n-1",
			Recipient: "Local masjid",
		},
	}
	assign(h, es)
	return es
}

// All returns every fixture collection keyed by collection.
func All() map[model.Collection][]model.Entity {
	return map[model.Collection][]model.Entity{
		model.Assets:       Assets(),
		model.NisabRecords: NisabRecords(),
		model.Payments:     Payments(),
	}
}

// Seed creates es for owner in collection c.
func Seed(ctx context.Context, s store.Store, owner string, c model.Collection, es []model.Entity) error {
	muts := make([]store.Mutation, len(es))
	for i, e := range es {
		muts[i] = store.Mutation{EntityIndex: i, StableID: e.Base().StableID, Op: store.OpCreate, OwnerID: owner, Entity: e}
	}
	if err := s.ApplyMutations(ctx, c, muts); err != nil {
		return fmt.Errorf("seed %s: %w", c, err)
	}
	return nil
}

// SeedAll seeds every fixture collection for owner.
func SeedAll(ctx context.Context, s store.Store, owner string) error {
	for c, es := range All() {
		if err := Seed(ctx, s, owner, c, es); err != nil {
			return err
		}
	}
	return nil
}

// Incoming wraps entities as decoded import elements, cloning each.
func Incoming(es []model.Entity) []model.Incoming {
	out := make([]model.Incoming, len(es))
	for i, e := range es {
		out[i] = model.Incoming{Index: i, Entity: e.Clone()}
	}
	return out
}

func assign(h *identity.Hasher, es []model.Entity) {
	for _, e := range es {
		h.Assign(e)
	}
}
