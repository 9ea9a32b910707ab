package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/model"
)

func newHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(Config{Namespace: "test-ns"})
	require.NoError(t, err)
	return h
}

func TestStableIDFormula(t *testing.T) {
	sum := sha256.Sum256([]byte("zakapp:asset:cash:savings:"))
	assert.Equal(t, hex.EncodeToString(sum[:]), StableID("zakapp", model.TypeAsset, "cash:savings:"))
	assert.Len(t, StableID("x", model.TypePayment, ""), 64)
}

func TestStableIDScopedByNamespaceAndType(t *testing.T) {
	id1 := StableID("a", model.TypeAsset, "k")
	id2 := StableID("b", model.TypeAsset, "k")
	id3 := StableID("a", model.TypePayment, "k")
	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, id1, id3)
}

func TestHasherCaseAndWhitespaceCollide(t *testing.T) {
	h := newHasher(t)

	a := &model.Asset{Type: "Cash", Name: " Savings ", AccountReference: ""}
	b := &model.Asset{Type: "cash", Name: "savings"}
	assert.Equal(t, h.Of(a), h.Of(b))

	c := &model.Asset{Type: "cash", Name: "savings", AccountReference: "ACC-1"}
	assert.NotEqual(t, h.Of(a), h.Of(c))
}

func TestHasherIgnoresNonIdentityFields(t *testing.T) {
	h := newHasher(t)
	a := &model.Asset{Type: "Gold", Name: "Bar", Value: canon.MustNumber("10")}
	b := &model.Asset{Type: "Gold", Name: "Bar", Value: canon.MustNumber("99"), Notes: "moved"}
	b.StableID = "something-else"
	assert.Equal(t, h.Of(a), h.Of(b))
}

func TestHasherAssign(t *testing.T) {
	h := newHasher(t)

	a := &model.Asset{Type: "Cash", Name: "Wallet"}
	id, drifted := h.Assign(a)
	assert.False(t, drifted)
	assert.Equal(t, id, a.StableID)

	b := &model.Asset{Type: "Cash", Name: "Wallet"}
	b.StableID = "declared"
	id, drifted = h.Assign(b)
	assert.True(t, drifted)
	assert.Equal(t, "declared", b.StableID, "declared id is kept")
	assert.Equal(t, h.Of(a), id)
}

func TestNewHasherRequiresNamespace(t *testing.T) {
	_, err := NewHasher(Config{})
	require.Error(t, err)
}

func TestOwnerFingerprint(t *testing.T) {
	fp1 := OwnerFingerprint("salt", "user-1")
	assert.Equal(t, fp1, OwnerFingerprint("salt", "user-1"))
	assert.NotEqual(t, fp1, OwnerFingerprint("pepper", "user-1"))
	assert.NotEqual(t, fp1, OwnerFingerprint("salt", "user-2"))
	assert.Len(t, fp1, 64)
}
