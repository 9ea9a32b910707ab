package model

import "fmt"

// CurrentSchemaVersion is the export format version written by this build.
const CurrentSchemaVersion int64 = 2

// EntityType is the discriminant of the entity union.
type EntityType string

const (
	TypeAsset       EntityType = "asset"
	TypeNisabRecord EntityType = "nisabRecord"
	TypePayment     EntityType = "payment"
)

// Collection names a top-level entity array of the payload.
type Collection string

const (
	Assets       Collection = "assets"
	NisabRecords Collection = "nisabRecords"
	Payments     Collection = "payments"
)

// AllCollections returns the collections in their fixed checksum order.
func AllCollections() []Collection {
	return []Collection{Assets, NisabRecords, Payments}
}

// ParseCollection validates a collection name.
func ParseCollection(s string) (Collection, error) {
	switch c := Collection(s); c {
	case Assets, NisabRecords, Payments:
		return c, nil
	default:
		return "", fmt.Errorf("unknown collection %q", s)
	}
}

// EntityType returns the variant stored in the collection.
func (c Collection) EntityType() EntityType {
	switch c {
	case Assets:
		return TypeAsset
	case NisabRecords:
		return TypeNisabRecord
	case Payments:
		return TypePayment
	default:
		return ""
	}
}

// Collection returns the collection that stores this variant.
func (t EntityType) Collection() Collection {
	switch t {
	case TypeAsset:
		return Assets
	case TypeNisabRecord:
		return NisabRecords
	case TypePayment:
		return Payments
	default:
		return ""
	}
}

// NewEntity returns an empty entity of the given variant.
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case TypeAsset:
		return &Asset{}, nil
	case TypeNisabRecord:
		return &NisabRecord{}, nil
	case TypePayment:
		return &Payment{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
}

// Incoming is one decoded element of an imported collection.
// Err is set when the element could not be decoded into an entity; the
// reconciler turns it into a failed outcome.
type Incoming struct {
	Index  int
	Entity Entity
	Err    error
}
