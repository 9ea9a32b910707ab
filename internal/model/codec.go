package model

import (
	"errors"
	"fmt"
	"sort"

	"github.com/slimatic/zakapp-sub004/internal/canon"
)

// Field names shared by every variant.
const (
	FieldID              = "id"
	FieldStableID        = "stableId"
	FieldEntityType      = "entityType"
	FieldEncryptedFields = "encryptedFields"
	FieldPlainFields     = "plainFields"
	FieldMetadata        = "metadata"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"

	// LegacyKey is the metadata key holding drifted fields.
	LegacyKey = "legacy"
	// MissingFieldsKey lists required fields absent from the source.
	MissingFieldsKey = "missingFields"
)

// DriftKind classifies a schema drift finding.
type DriftKind string

const (
	DriftUnknown DriftKind = "unknown"
	DriftInvalid DriftKind = "invalid"
	DriftMissing DriftKind = "missing"
)

// Drift is one field that did not fit the current schema.
type Drift struct {
	Field string
	Kind  DriftKind
}

func (d Drift) String() string {
	switch d.Kind {
	case DriftUnknown:
		return fmt.Sprintf("unknown field %q preserved under metadata.legacy", d.Field)
	case DriftInvalid:
		return fmt.Sprintf("field %q has an unexpected type; preserved under metadata.legacy", d.Field)
	default:
		return fmt.Sprintf("required field %q missing; recorded in metadata.legacy.missingFields", d.Field)
	}
}

var errWrongType = errors.New("wrong type")

// ToObject renders the entity in its portable form. The local ID is left
// out, as are empty strings, empty maps and unset numbers.
func ToObject(e Entity) canon.Object {
	r := e.Base()
	obj := canon.Object{
		FieldEntityType: canon.String(e.EntityType()),
	}
	putString(obj, FieldStableID, r.StableID)
	putStringMap(obj, FieldEncryptedFields, r.EncryptedFields)
	putStringMap(obj, FieldPlainFields, r.PlainFields)
	if len(r.Metadata) > 0 {
		obj[FieldMetadata] = r.Metadata.Clone()
	}
	putString(obj, FieldCreatedAt, r.CreatedAt)
	putString(obj, FieldUpdatedAt, r.UpdatedAt)
	e.encodeFields(obj)
	return obj
}

// EntitiesToArray renders a collection in the order given.
func EntitiesToArray(es []Entity) canon.Array {
	arr := make(canon.Array, len(es))
	for i, e := range es {
		arr[i] = ToObject(e)
	}
	return arr
}

// FromObject decodes one collection element. Drift never fails decoding:
// unknown and mistyped fields move to metadata.legacy, missing required
// fields are listed in metadata.legacy.missingFields. An error is returned
// only when the element cannot be identified as the collection's variant.
// An incoming "id" is installation-local and ignored.
func FromObject(c Collection, obj canon.Object) (Entity, []Drift, error) {
	want := c.EntityType()
	if want == "" {
		return nil, nil, fmt.Errorf("unknown collection %q", c)
	}
	if raw, ok := obj[FieldEntityType]; ok {
		s, isStr := raw.(canon.String)
		if !isStr {
			return nil, nil, fmt.Errorf("entityType must be a string")
		}
		if EntityType(s) != want {
			return nil, nil, fmt.Errorf("entityType %q does not belong in %s", string(s), c)
		}
	}
	if raw, ok := obj[FieldStableID]; ok {
		if _, err := asString(raw); err != nil {
			return nil, nil, fmt.Errorf("stableId must be a string")
		}
	}

	e, err := NewEntity(want)
	if err != nil {
		return nil, nil, err
	}
	r := e.Base()

	legacy := canon.Object{}
	var drifts []Drift
	invalid := func(key string, v canon.Value) {
		legacy[key] = canon.CloneValue(v)
		drifts = append(drifts, Drift{Field: key, Kind: DriftInvalid})
	}

	for _, key := range obj.SortedKeys() {
		v := obj[key]
		switch key {
		case FieldID, FieldEntityType:
		case FieldStableID:
			r.StableID, _ = asString(v)
		case FieldEncryptedFields:
			m, err := asStringMap(v)
			if err != nil {
				invalid(key, v)
				continue
			}
			r.EncryptedFields = m
		case FieldPlainFields:
			m, err := asStringMap(v)
			if err != nil {
				invalid(key, v)
				continue
			}
			r.PlainFields = m
		case FieldMetadata:
			switch m := v.(type) {
			case canon.Object:
				r.Metadata = m.Clone()
			case canon.Null:
			default:
				invalid(key, v)
			}
		case FieldCreatedAt, FieldUpdatedAt:
			s, err := asString(v)
			if err != nil {
				invalid(key, v)
				continue
			}
			if key == FieldCreatedAt {
				r.CreatedAt = s
			} else {
				r.UpdatedAt = s
			}
		default:
			known, err := e.decodeField(key, v)
			if !known {
				legacy[key] = canon.CloneValue(v)
				drifts = append(drifts, Drift{Field: key, Kind: DriftUnknown})
				continue
			}
			if err != nil {
				invalid(key, v)
			}
		}
	}

	missing := e.missingRequired()
	for _, f := range missing {
		drifts = append(drifts, Drift{Field: f, Kind: DriftMissing})
	}

	if len(legacy) > 0 || len(missing) > 0 {
		mergeLegacy(r, legacy, missing)
	}
	return e, drifts, nil
}

// mergeLegacy folds drifted fields into metadata.legacy, keeping anything a
// previous import already recorded there.
func mergeLegacy(r *Record, found canon.Object, missing []string) {
	if r.Metadata == nil {
		r.Metadata = canon.Object{}
	}
	legacy, ok := r.Metadata[LegacyKey].(canon.Object)
	if !ok {
		legacy = canon.Object{}
	}
	for k, v := range found {
		legacy[k] = v
	}

	if len(missing) > 0 {
		set := map[string]bool{}
		if prev, ok := legacy[MissingFieldsKey].(canon.Array); ok {
			for _, v := range prev {
				if s, ok := v.(canon.String); ok {
					set[string(s)] = true
				}
			}
		}
		for _, f := range missing {
			set[f] = true
		}
		names := make([]string, 0, len(set))
		for f := range set {
			names = append(names, f)
		}
		sort.Strings(names)
		arr := make(canon.Array, len(names))
		for i, f := range names {
			arr[i] = canon.String(f)
		}
		legacy[MissingFieldsKey] = arr
	}
	r.Metadata[LegacyKey] = legacy
}

func putString(obj canon.Object, key, s string) {
	if s != "" {
		obj[key] = canon.String(s)
	}
}

func putNumber(obj canon.Object, key string, n canon.Number) {
	if n.IsSet() {
		obj[key] = n
	}
}

func putStringMap(obj canon.Object, key string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	out := make(canon.Object, len(m))
	for k, v := range m {
		out[k] = canon.String(v)
	}
	obj[key] = out
}

func asString(v canon.Value) (string, error) {
	switch s := v.(type) {
	case canon.String:
		return string(s), nil
	case canon.Null:
		return "", nil
	default:
		return "", errWrongType
	}
}

// asText accepts strings and numbers, for fields older exports wrote as
// either (year, originalPaymentId).
func asText(v canon.Value) (string, error) {
	if n, ok := v.(canon.Number); ok {
		return n.String(), nil
	}
	return asString(v)
}

// asNumber accepts a number or a decimal string.
func asNumber(v canon.Value) (canon.Number, error) {
	switch n := v.(type) {
	case canon.Number:
		return n, nil
	case canon.String:
		if n == "" {
			return canon.Number{}, nil
		}
		return canon.ParseNumber(string(n))
	case canon.Null:
		return canon.Number{}, nil
	default:
		return canon.Number{}, errWrongType
	}
}

func asStringMap(v canon.Value) (map[string]string, error) {
	switch obj := v.(type) {
	case canon.Null:
		return nil, nil
	case canon.Object:
		if len(obj) == 0 {
			return nil, nil
		}
		out := make(map[string]string, len(obj))
		for k, elem := range obj {
			s, ok := elem.(canon.String)
			if !ok {
				return nil, errWrongType
			}
			out[k] = string(s)
		}
		return out, nil
	default:
		return nil, errWrongType
	}
}
