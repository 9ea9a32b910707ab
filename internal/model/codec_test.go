package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimatic/zakapp-sub004/internal/canon"
)

func TestAssetRoundTrip(t *testing.T) {
	a := &Asset{
		Record: Record{
			ID:              "local-7",
			StableID:        "abc",
			EncryptedFields: map[string]string{"notes": "aesgcm-v1:AAAA"},
			Metadata:        canon.Object{"source": canon.String("manual")},
			CreatedAt:       "2024-01-01T00:00:00Z",
		},
		Type:     "Cash",
		Name:     "Savings",
		Value:    canon.MustNumber("1250.50"),
		Currency: "USD",
	}

	obj := ToObject(a)
	_, hasID := obj[FieldID]
	assert.False(t, hasID, "local id must not be exported")
	assert.Equal(t, canon.String("asset"), obj[FieldEntityType])

	back, drifts, err := FromObject(Assets, obj)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	got := back.(*Asset)
	assert.Equal(t, "", got.ID)
	assert.Equal(t, "abc", got.StableID)
	assert.Equal(t, "Savings", got.Name)
	assert.True(t, got.Value.Equal(canon.MustNumber("1250.5")))
	assert.Equal(t, canon.MustMarshal(obj), canon.MustMarshal(ToObject(got)))
}

func TestFromObjectIgnoresIncomingID(t *testing.T) {
	obj := canon.Object{"id": canon.String("foreign-1"), "type": canon.String("Cash"), "name": canon.String("Wallet")}
	e, drifts, err := FromObject(Assets, obj)
	require.NoError(t, err)
	assert.Empty(t, drifts)
	assert.Equal(t, "", e.Base().ID)
}

func TestFromObjectUnknownFieldToLegacy(t *testing.T) {
	obj := canon.Object{
		"type":       canon.String("Gold"),
		"name":       canon.String("Bar"),
		"karatLevel": canon.IntNumber(24),
	}
	e, drifts, err := FromObject(Assets, obj)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, Drift{Field: "karatLevel", Kind: DriftUnknown}, drifts[0])

	legacy := e.Base().Metadata[LegacyKey].(canon.Object)
	assert.Equal(t, canon.IntNumber(24), legacy["karatLevel"])
}

func TestFromObjectMissingRequired(t *testing.T) {
	obj := canon.Object{"type": canon.String("Cash")}
	e, drifts, err := FromObject(Assets, obj)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, DriftMissing, drifts[0].Kind)

	legacy := e.Base().Metadata[LegacyKey].(canon.Object)
	assert.Equal(t, canon.Array{canon.String("name")}, legacy[MissingFieldsKey])
}

func TestFromObjectMissingMergesWithPrevious(t *testing.T) {
	obj := canon.Object{
		"year": canon.String("1445"),
		"metadata": canon.Object{
			"legacy": canon.Object{"missingFields": canon.Array{canon.String("zeta")}},
		},
	}
	e, _, err := FromObject(NisabRecords, obj)
	require.NoError(t, err)

	legacy := e.Base().Metadata[LegacyKey].(canon.Object)
	assert.Equal(t, canon.Array{canon.String("ownerFingerprint"), canon.String("zeta")}, legacy[MissingFieldsKey])
}

func TestFromObjectInvalidFieldToLegacy(t *testing.T) {
	obj := canon.Object{
		"type":  canon.String("Cash"),
		"name":  canon.String("Wallet"),
		"value": canon.Object{"amount": canon.IntNumber(5)},
	}
	e, drifts, err := FromObject(Assets, obj)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, DriftInvalid, drifts[0].Kind)
	assert.False(t, e.(*Asset).Value.IsSet())
}

func TestFromObjectRejectsWrongDiscriminant(t *testing.T) {
	_, _, err := FromObject(Assets, canon.Object{"entityType": canon.String("payment")})
	require.Error(t, err)

	_, _, err = FromObject(Assets, canon.Object{"entityType": canon.IntNumber(1)})
	require.Error(t, err)

	_, _, err = FromObject(Assets, canon.Object{"stableId": canon.Bool(true)})
	require.Error(t, err)
}

func TestNumberFieldsAcceptDecimalStrings(t *testing.T) {
	obj := canon.Object{"amount": canon.String("12.50"), "date": canon.String("2024-03-01")}
	e, drifts, err := FromObject(Payments, obj)
	require.NoError(t, err)
	assert.Empty(t, drifts)
	assert.Equal(t, "12.5", e.(*Payment).Amount.String())
}

func TestYearAcceptsNumber(t *testing.T) {
	obj := canon.Object{"year": canon.IntNumber(1445), "ownerFingerprint": canon.String("fp")}
	e, _, err := FromObject(NisabRecords, obj)
	require.NoError(t, err)
	assert.Equal(t, "1445", e.(*NisabRecord).Year)
}

func TestKeyBasis(t *testing.T) {
	a1 := &Asset{Type: "Cash", Name: "Savings"}
	a2 := &Asset{Type: " cash ", Name: "SAVINGS"}
	assert.Equal(t, a1.KeyBasis(), a2.KeyBasis())
	assert.Equal(t, "cash:savings:", a1.KeyBasis())
	// separators inside components are not escaped
	assert.Equal(t, (&Asset{Type: "a:b", Name: "c"}).KeyBasis(), (&Asset{Type: "a", Name: "b:c"}).KeyBasis())

	withOrig := &Payment{OriginalPaymentID: "PAY-1", Amount: canon.MustNumber("10")}
	assert.Equal(t, "pay-1", withOrig.KeyBasis())

	p1 := &Payment{Amount: canon.MustNumber("10.50"), Date: "2024-01-01", Method: "Cash", Nonce: "Xy"}
	p2 := &Payment{Amount: canon.MustNumber("10.5"), Date: "2024-01-01", Method: "cash", Nonce: "Xy"}
	p3 := &Payment{Amount: canon.MustNumber("10.5"), Date: "2024-01-01", Method: "cash", Nonce: "xy"}
	assert.Equal(t, p1.KeyBasis(), p2.KeyBasis())
	assert.NotEqual(t, p2.KeyBasis(), p3.KeyBasis(), "nonce is taken verbatim")

	n := &NisabRecord{Year: "1445", OwnerFingerprint: "ABC"}
	assert.Equal(t, "1445:abc", n.KeyBasis())
}

func TestCloneIsDeep(t *testing.T) {
	a := &Asset{
		Record: Record{
			EncryptedFields: map[string]string{"notes": "x"},
			Metadata:        canon.Object{"k": canon.Object{"n": canon.String("v")}},
		},
		Name: "A",
	}
	c := a.Clone().(*Asset)
	c.EncryptedFields["notes"] = "y"
	c.Metadata["k"].(canon.Object)["n"] = canon.String("w")
	c.Name = "B"

	assert.Equal(t, "x", a.EncryptedFields["notes"])
	assert.Equal(t, canon.String("v"), a.Metadata["k"].(canon.Object)["n"])
	assert.Equal(t, "A", a.Name)
}

func TestPayloadToObject(t *testing.T) {
	p := &ExportPayload{
		Metadata: Metadata{AppVersion: "1.0.0", SchemaVersion: CurrentSchemaVersion, ExportedAt: "2024-01-01T00:00:00Z"},
		Assets:   []Entity{&Asset{Type: "Cash", Name: "Wallet"}},
	}
	p.Checksums.Set(Assets, "aa")

	obj := p.ToObject()
	assert.Equal(t, canon.Object{}, obj[KeyProfile])
	assert.Len(t, obj["assets"].(canon.Array), 1)
	assert.Equal(t, canon.Array{}, obj["payments"])
	assert.Equal(t, canon.String("aa"), obj[KeyChecksums].(canon.Object)["assets"])

	_, err := canon.Marshal(obj)
	require.NoError(t, err)
}

func TestParseCollection(t *testing.T) {
	c, err := ParseCollection("nisabRecords")
	require.NoError(t, err)
	assert.Equal(t, TypeNisabRecord, c.EntityType())
	assert.Equal(t, NisabRecords, TypeNisabRecord.Collection())

	_, err = ParseCollection("profiles")
	require.Error(t, err)
}
