package model

import (
	"github.com/slimatic/zakapp-sub004/internal/canon"
)

// Top-level payload keys.
const (
	KeyMetadata  = "metadata"
	KeyProfile   = "profile"
	KeyChecksums = "checksums"
	KeyOverall   = "overall"
)

// Metadata describes the producing build and the export run.
type Metadata struct {
	AppVersion        string
	SchemaVersion     int64
	ExportedAt        string
	EncryptionFormats []string
}

// Checksums holds one SHA-256 hex digest per collection plus the overall
// digest over the three in fixed order.
type Checksums struct {
	Assets       string
	NisabRecords string
	Payments     string
	Overall      string
}

// For returns the digest of a collection.
func (c Checksums) For(col Collection) string {
	switch col {
	case Assets:
		return c.Assets
	case NisabRecords:
		return c.NisabRecords
	case Payments:
		return c.Payments
	default:
		return ""
	}
}

// Set stores the digest of a collection.
func (c *Checksums) Set(col Collection, digest string) {
	switch col {
	case Assets:
		c.Assets = digest
	case NisabRecords:
		c.NisabRecords = digest
	case Payments:
		c.Payments = digest
	}
}

// ExportPayload is the complete content of a .zakapp.json file.
type ExportPayload struct {
	Metadata     Metadata
	Profile      canon.Object
	Assets       []Entity
	NisabRecords []Entity
	Payments     []Entity
	Checksums    Checksums
}

// Entities returns the entities of a collection.
func (p *ExportPayload) Entities(c Collection) []Entity {
	switch c {
	case Assets:
		return p.Assets
	case NisabRecords:
		return p.NisabRecords
	case Payments:
		return p.Payments
	default:
		return nil
	}
}

// SetEntities replaces the entities of a collection.
func (p *ExportPayload) SetEntities(c Collection, es []Entity) {
	switch c {
	case Assets:
		p.Assets = es
	case NisabRecords:
		p.NisabRecords = es
	case Payments:
		p.Payments = es
	}
}

// ToObject renders the payload tree. Collections are rendered in their
// current order; callers sort before computing checksums.
func (p *ExportPayload) ToObject() canon.Object {
	formats := make(canon.Array, len(p.Metadata.EncryptionFormats))
	for i, f := range p.Metadata.EncryptionFormats {
		formats[i] = canon.String(f)
	}
	meta := canon.Object{
		"appVersion":        canon.String(p.Metadata.AppVersion),
		"schemaVersion":     canon.IntNumber(p.Metadata.SchemaVersion),
		"exportedAt":        canon.String(p.Metadata.ExportedAt),
		"encryptionFormats": formats,
	}

	profile := p.Profile.Clone()
	if profile == nil {
		profile = canon.Object{}
	}

	checksums := canon.Object{KeyOverall: canon.String(p.Checksums.Overall)}
	for _, c := range AllCollections() {
		checksums[string(c)] = canon.String(p.Checksums.For(c))
	}

	obj := canon.Object{
		KeyMetadata:  meta,
		KeyProfile:   profile,
		KeyChecksums: checksums,
	}
	for _, c := range AllCollections() {
		obj[string(c)] = EntitiesToArray(p.Entities(c))
	}
	return obj
}
