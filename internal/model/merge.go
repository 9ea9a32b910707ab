package model

import (
	"fmt"

	"github.com/slimatic/zakapp-sub004/internal/canon"
)

// Merge returns existing with its empty fields filled from incoming.
// A non-empty existing value always wins; nested objects such as
// encryptedFields and metadata are merged key by key. The result keeps
// the existing local ID and stableId. Neither argument is modified.
func Merge(existing, incoming Entity) (Entity, error) {
	if existing.EntityType() != incoming.EntityType() {
		return nil, fmt.Errorf("cannot merge %s into %s", incoming.EntityType(), existing.EntityType())
	}
	merged := fillEmpty(ToObject(existing), ToObject(incoming))
	out, _, err := FromObject(existing.EntityType().Collection(), merged)
	if err != nil {
		return nil, err
	}
	r := out.Base()
	r.ID = existing.Base().ID
	r.StableID = existing.Base().StableID
	pruneMissing(out)
	return out, nil
}

func fillEmpty(dst, src canon.Object) canon.Object {
	for k, v := range src {
		cur, ok := dst[k]
		if !ok || canon.IsEmpty(cur) {
			dst[k] = canon.CloneValue(v)
			continue
		}
		a, aok := cur.(canon.Object)
		b, bok := v.(canon.Object)
		if aok && bok {
			dst[k] = fillEmpty(a, b)
		}
	}
	return dst
}

// pruneMissing drops entries from metadata.legacy.missingFields that the
// entity now carries.
func pruneMissing(e Entity) {
	r := e.Base()
	legacy, ok := r.Metadata[LegacyKey].(canon.Object)
	if !ok {
		return
	}
	arr, ok := legacy[MissingFieldsKey].(canon.Array)
	if !ok {
		return
	}
	still := map[string]bool{}
	for _, f := range e.missingRequired() {
		still[f] = true
	}
	var kept canon.Array
	for _, v := range arr {
		if s, ok := v.(canon.String); ok && still[string(s)] {
			kept = append(kept, v)
		}
	}
	if len(kept) > 0 {
		legacy[MissingFieldsKey] = kept
		return
	}
	delete(legacy, MissingFieldsKey)
	if len(legacy) == 0 {
		delete(r.Metadata, LegacyKey)
	}
}
