// Package identity derives stable entity identifiers.
//
// A stableId is sha256_hex(namespace + ":" + entityType + ":" + basis) where
// basis is the entity's canonical unique key. Identical bases collide on
// purpose; that collision is how duplicates are detected across exports.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/slimatic/zakapp-sub004/internal/model"
)

// DefaultNamespace scopes stableIds produced by this application.
const DefaultNamespace = "zakapp"

// Config carries the hashing namespace. There is no package-level default
// in use at call sites; every Hasher is built from an explicit Config.
type Config struct {
	Namespace string
}

// StableID hashes a canonical unique-key basis. The basis must already be
// canonicalized; StableID does no normalization of its own.
func StableID(namespace string, entityType model.EntityType, basis string) string {
	sum := sha256.Sum256([]byte(namespace + ":" + string(entityType) + ":" + basis))
	return hex.EncodeToString(sum[:])
}

// Hasher computes stableIds for entities under one namespace.
type Hasher struct {
	cfg Config
}

// NewHasher returns a Hasher. An empty namespace is rejected so ids never
// silently change scope.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Namespace == "" {
		return nil, errors.New("identity: namespace is required")
	}
	return &Hasher{cfg: cfg}, nil
}

// Namespace returns the namespace ids are scoped to.
func (h *Hasher) Namespace() string {
	return h.cfg.Namespace
}

// Of returns the stableId the entity's semantic fields imply. It ignores
// any stableId already set on the entity.
func (h *Hasher) Of(e model.Entity) string {
	return StableID(h.cfg.Namespace, e.EntityType(), e.KeyBasis())
}

// Assign sets the entity's stableId when it has none and reports the
// derived id and whether a declared id disagreed with it.
func (h *Hasher) Assign(e model.Entity) (derived string, drifted bool) {
	derived = h.Of(e)
	r := e.Base()
	if r.StableID == "" {
		r.StableID = derived
		return derived, false
	}
	return derived, r.StableID != derived
}

// OwnerFingerprint is the salted owner hash used in nisab record identity.
// Salt management belongs to the caller.
func OwnerFingerprint(salt, userID string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}
