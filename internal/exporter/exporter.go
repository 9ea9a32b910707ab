// Package exporter assembles .zakapp.json payloads from a user's records.
//
// Export is read-only against the source. Ciphertext is copied verbatim
// unless the caller asks for decryption with consent and a key; each field
// that fails to decrypt stays as ciphertext and yields a warning.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/checksum"
	"github.com/slimatic/zakapp-sub004/internal/cryptox"
	"github.com/slimatic/zakapp-sub004/internal/identity"
	"github.com/slimatic/zakapp-sub004/internal/metrics"
	"github.com/slimatic/zakapp-sub004/internal/model"
)

var (
	// ErrConsentRequired is returned when decryption or recipient wrapping
	// is requested without explicit user consent.
	ErrConsentRequired = errors.New("explicit consent is required to export plaintext")
	// ErrKeyRequired is returned when decryption is requested without a key.
	ErrKeyRequired = errors.New("a decryption key is required")
)

// Source supplies the collections to export.
type Source interface {
	ListByOwner(ctx context.Context, ownerID string, c model.Collection) ([]model.Entity, error)
}

// Config fixes the metadata written into every payload.
type Config struct {
	AppVersion    string
	SchemaVersion int64
}

// Options select how sensitive fields are exported.
type Options struct {
	Decrypt       bool
	Consent       bool
	DecryptionKey *cryptox.Key
	// RecipientPublicKey re-wraps decrypted fields for another party
	// instead of exporting plaintext.
	RecipientPublicKey *cryptox.PublicKey
}

// Result is an assembled payload plus the warnings raised building it.
type Result struct {
	Payload  *model.ExportPayload
	Warnings []string
}

// Assembler builds export payloads.
type Assembler struct {
	hasher  *identity.Hasher
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock sets the source of exportedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(a *Assembler) { a.metrics = m }
}

// NewAssembler returns an Assembler.
func NewAssembler(h *identity.Hasher, cfg Config, opts ...Option) *Assembler {
	a := &Assembler{
		hasher: h,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Export reads the owner's collections and assembles a payload. Entities
// are sorted by stableId and checksummed; the payload is not modified
// afterwards.
func (a *Assembler) Export(ctx context.Context, src Source, ownerID string, profile canon.Object, opts Options) (*Result, error) {
	if opts.Decrypt || opts.RecipientPublicKey != nil {
		if !opts.Consent {
			return nil, ErrConsentRequired
		}
		if opts.DecryptionKey == nil {
			return nil, ErrKeyRequired
		}
	}

	p := &model.ExportPayload{
		Metadata: model.Metadata{
			AppVersion:    a.cfg.AppVersion,
			SchemaVersion: a.cfg.SchemaVersion,
			ExportedAt:    a.now().UTC().Format(time.RFC3339),
		},
		Profile: profile.Clone(),
	}
	res := &Result{Payload: p}
	formats := map[string]bool{}

	for _, c := range model.AllCollections() {
		list, err := src.ListByOwner(ctx, ownerID, c)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", c, err)
		}

		out := make([]model.Entity, 0, len(list))
		for _, e := range list {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			e = e.Clone()
			r := e.Base()
			r.ID = ""
			if r.StableID == "" {
				a.hasher.Assign(e)
			}
			for _, ct := range r.EncryptedFields {
				formats[cryptox.Format(ct)] = true
			}
			if opts.DecryptionKey != nil && (opts.Decrypt || opts.RecipientPublicKey != nil) {
				res.Warnings = append(res.Warnings, a.decryptFields(e, opts, formats)...)
			}
			out = append(out, e)
		}
		p.SetEntities(c, checksum.SortByStableID(out))
	}

	p.Metadata.EncryptionFormats = sortedKeys(formats)
	if err := checksum.Compute(p); err != nil {
		return nil, err
	}

	a.logger.Info("export assembled",
		"assets", len(p.Assets),
		"nisab_records", len(p.NisabRecords),
		"payments", len(p.Payments),
		"warnings", len(res.Warnings),
		"overall", p.Checksums.Overall,
	)
	a.metrics.Export()
	return res, nil
}

// decryptFields moves decryptable fields to plainFields, or re-wraps them
// for the recipient. Failures keep the original ciphertext.
func (a *Assembler) decryptFields(e model.Entity, opts Options, formats map[string]bool) []string {
	r := e.Base()
	var warnings []string

	names := make([]string, 0, len(r.EncryptedFields))
	for name := range r.EncryptedFields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ct := r.EncryptedFields[name]
		pt, err := cryptox.Open(*opts.DecryptionKey, ct)
		if err == nil && !utf8.Valid(pt) {
			err = errors.New("plaintext is not valid UTF-8")
		}
		if err != nil {
			df := &cryptox.DecryptionFailure{StableID: r.StableID, Field: name, Err: err}
			a.logger.Warn("field left encrypted", "stable_id", r.StableID, "field", name, "error", err)
			warnings = append(warnings, df.Error())
			continue
		}

		if opts.RecipientPublicKey != nil {
			wrapped, err := cryptox.SealTo(*opts.RecipientPublicKey, pt)
			if err != nil {
				warnings = append(warnings, (&cryptox.DecryptionFailure{StableID: r.StableID, Field: name, Err: err}).Error())
				continue
			}
			r.EncryptedFields[name] = wrapped
			formats[cryptox.FormatBox] = true
			continue
		}

		delete(r.EncryptedFields, name)
		if r.PlainFields == nil {
			r.PlainFields = map[string]string{}
		}
		r.PlainFields[name] = string(pt)
	}
	return warnings
}

// Encode renders a payload as canonical bytes.
func Encode(p *model.ExportPayload) ([]byte, error) {
	return canon.Marshal(p.ToObject())
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
