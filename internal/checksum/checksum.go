// Package checksum computes the integrity digests of an export payload.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/model"
)

// Array returns the SHA-256 hex digest of the canonical bytes of arr, in
// the order given. Callers sort first; a reordered array must hash
// differently.
func Array(arr canon.Array) (string, error) {
	if arr == nil {
		arr = canon.Array{}
	}
	b, err := canon.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return digest(b), nil
}

// Entities is Array over the portable form of es.
func Entities(es []model.Entity) (string, error) {
	return Array(model.EntitiesToArray(es))
}

// Overall digests the three collection digests concatenated in fixed order
// with no separator.
func Overall(assets, nisabRecords, payments string) string {
	return digest([]byte(assets + nisabRecords + payments))
}

// SortByStableID returns a copy of es ordered by stableId, byte-wise.
func SortByStableID(es []model.Entity) []model.Entity {
	out := make([]model.Entity, len(es))
	copy(out, es)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Base().StableID < out[j].Base().StableID
	})
	return out
}

// IsSorted reports whether es is ascending by stableId.
func IsSorted(es []model.Entity) bool {
	return sort.SliceIsSorted(es, func(i, j int) bool {
		return es[i].Base().StableID < es[j].Base().StableID
	})
}

// Compute fills p.Checksums from the payload's collections as they stand.
func Compute(p *model.ExportPayload) error {
	for _, c := range model.AllCollections() {
		d, err := Entities(p.Entities(c))
		if err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
		p.Checksums.Set(c, d)
	}
	p.Checksums.Overall = Overall(p.Checksums.Assets, p.Checksums.NisabRecords, p.Checksums.Payments)
	return nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
