// Package validator checks an incoming .zakapp.json payload before any
// store is touched.
//
// Validation is layered:
//  1. JSON parse; failure is a MalformedPayloadError with offset and line
//  2. CUE structural check of the top level; failure is a SchemaError
//  3. checksum section self-consistency (overall over declared digests)
//  4. per collection: digest recomputation, stableId ordering, decoding
//
// Steps 3 and 4 fail per collection. Field drift never fails validation.
// Ciphertext is never decrypted here.
package validator

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/checksum"
	"github.com/slimatic/zakapp-sub004/internal/model"
)

// Result is the outcome of validating one payload.
type Result struct {
	// Payload holds metadata, profile and declared checksums, plus every
	// entity that decoded in a collection that passed integrity checks.
	Payload *model.ExportPayload
	// Computed holds the recomputed digest of each collection as received.
	Computed model.Checksums
	// Incoming is the decoded elements of each trusted collection.
	Incoming map[model.Collection][]model.Incoming
	// Integrity maps collections that failed checksum or ordering checks
	// to their error. Such collections must not be imported.
	Integrity map[model.Collection]error
	Warnings  []string
	Drift     []*SchemaDriftWarning
}

// Trusted reports whether collection c passed its integrity checks.
func (r *Result) Trusted(c model.Collection) bool {
	return r.Integrity[c] == nil
}

// OK reports whether every collection passed.
func (r *Result) OK() bool {
	return len(r.Integrity) == 0
}

// Validator validates payloads against the current schema version.
type Validator struct {
	schemaVersion int64
	schema        *schema
	logger        *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithSchemaVersion sets the version payloads are compared against.
func WithSchemaVersion(n int64) Option {
	return func(v *Validator) { v.schemaVersion = n }
}

// New compiles the payload schema and returns a Validator.
func New(opts ...Option) (*Validator, error) {
	s, err := compileSchema()
	if err != nil {
		return nil, err
	}
	v := &Validator{
		schemaVersion: model.CurrentSchemaVersion,
		schema:        s,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

var knownTopLevel = map[string]bool{
	model.KeyMetadata:          true,
	model.KeyProfile:           true,
	model.KeyChecksums:         true,
	string(model.Assets):       true,
	string(model.NisabRecords): true,
	string(model.Payments):     true,
}

// Validate parses and checks data. A non-nil error means the payload as a
// whole cannot be imported; collection-level failures are reported in
// Result.Integrity instead.
func (v *Validator) Validate(ctx context.Context, data []byte) (*Result, error) {
	root, err := canon.Parse(data)
	if err != nil {
		return nil, malformed(data, err)
	}
	obj, ok := root.(canon.Object)
	if !ok {
		return nil, &SchemaError{Details: []string{"top-level value must be an object"}}
	}
	if err := v.schema.check(data); err != nil {
		return nil, err
	}

	res := &Result{
		Payload:   &model.ExportPayload{},
		Incoming:  map[model.Collection][]model.Incoming{},
		Integrity: map[model.Collection]error{},
	}
	res.Payload.Metadata = v.readMetadata(obj, res)
	if p, ok := obj[model.KeyProfile].(canon.Object); ok {
		res.Payload.Profile = p.Clone()
	}
	for _, key := range obj.SortedKeys() {
		if !knownTopLevel[key] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown top-level field %q ignored", key))
		}
	}

	declared := readChecksums(obj)
	res.Payload.Checksums = declared
	overall := checksum.Overall(declared.Assets, declared.NisabRecords, declared.Payments)
	sectionErr := error(nil)
	if !digestEqual(overall, declared.Overall) {
		sectionErr = &ChecksumMismatchError{Collection: model.KeyOverall, Declared: declared.Overall, Computed: overall}
	}

	for _, c := range model.AllCollections() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v.validateCollection(obj, c, declared, sectionErr, res)
	}

	v.logger.Debug("payload validated",
		"schema_version", res.Payload.Metadata.SchemaVersion,
		"rejected", len(res.Integrity),
		"warnings", len(res.Warnings),
	)
	return res, nil
}

func (v *Validator) validateCollection(obj canon.Object, c model.Collection, declared model.Checksums, sectionErr error, res *Result) {
	raw, present := obj[string(c)]
	arr, _ := raw.(canon.Array)
	if !present {
		res.Warnings = append(res.Warnings, fmt.Sprintf("collection %s missing; treated as empty", c))
		arr = canon.Array{}
	}

	computed, err := checksum.Array(arr)
	if err != nil {
		res.Integrity[c] = err
		return
	}
	res.Computed.Set(c, computed)

	switch {
	case sectionErr != nil:
		res.Integrity[c] = sectionErr
	case !present && declared.For(c) == "":
		// older payloads omit empty collections and their digests
	case !digestEqual(computed, declared.For(c)):
		res.Integrity[c] = &ChecksumMismatchError{Collection: string(c), Declared: declared.For(c), Computed: computed}
	default:
		if idx, sorted := checkOrder(arr); !sorted {
			res.Integrity[c] = &OrderError{Collection: c, Index: idx}
		}
	}
	if err := res.Integrity[c]; err != nil {
		v.logger.Warn("collection rejected", "collection", c, "error", err)
		return
	}

	incoming := make([]model.Incoming, len(arr))
	var entities []model.Entity
	for i, elem := range arr {
		incoming[i] = model.Incoming{Index: i}
		elemObj, ok := elem.(canon.Object)
		if !ok {
			incoming[i].Err = fmt.Errorf("%w: %s[%d] is not an object", ErrElement, c, i)
			continue
		}
		e, drifts, err := model.FromObject(c, elemObj)
		if err != nil {
			incoming[i].Err = fmt.Errorf("%w: %s[%d]: %v", ErrElement, c, i, err)
			continue
		}
		incoming[i].Entity = e
		entities = append(entities, e)
		for _, d := range drifts {
			w := &SchemaDriftWarning{Collection: c, Index: i, StableID: e.Base().StableID, Drift: d}
			res.Drift = append(res.Drift, w)
			res.Warnings = append(res.Warnings, w.Error())
		}
	}
	res.Incoming[c] = incoming
	res.Payload.SetEntities(c, entities)
}

func (v *Validator) readMetadata(obj canon.Object, res *Result) model.Metadata {
	var md model.Metadata
	m, _ := obj[model.KeyMetadata].(canon.Object)
	if s, ok := m["appVersion"].(canon.String); ok {
		md.AppVersion = string(s)
	}
	if s, ok := m["exportedAt"].(canon.String); ok {
		md.ExportedAt = string(s)
	}
	if n, ok := m["schemaVersion"].(canon.Number); ok {
		md.SchemaVersion, _ = n.Int64()
	}
	if arr, ok := m["encryptionFormats"].(canon.Array); ok {
		for _, f := range arr {
			if s, ok := f.(canon.String); ok {
				md.EncryptionFormats = append(md.EncryptionFormats, string(s))
			}
		}
		sort.Strings(md.EncryptionFormats)
	}

	switch {
	case md.SchemaVersion > v.schemaVersion:
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"payload schema version %d is newer than supported version %d; unknown fields are preserved under metadata.legacy",
			md.SchemaVersion, v.schemaVersion))
	case md.SchemaVersion < v.schemaVersion:
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"payload schema version %d is older than current version %d; missing fields are recorded under metadata.legacy",
			md.SchemaVersion, v.schemaVersion))
	}
	return md
}

func readChecksums(obj canon.Object) model.Checksums {
	var cs model.Checksums
	m, _ := obj[model.KeyChecksums].(canon.Object)
	if s, ok := m[model.KeyOverall].(canon.String); ok {
		cs.Overall = string(s)
	}
	for _, c := range model.AllCollections() {
		if s, ok := m[string(c)].(canon.String); ok {
			cs.Set(c, string(s))
		}
	}
	return cs
}

// checkOrder verifies elements declaring a stableId are ascending.
// Elements without one are not ordered against the rest.
func checkOrder(arr canon.Array) (int, bool) {
	prev, seen := "", false
	for i, elem := range arr {
		obj, ok := elem.(canon.Object)
		if !ok {
			continue
		}
		id, ok := obj[model.FieldStableID].(canon.String)
		if !ok {
			continue
		}
		if seen && string(id) < prev {
			return i, false
		}
		prev, seen = string(id), true
	}
	return 0, true
}

func digestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func malformed(data []byte, err error) error {
	var pe *canon.ParseError
	if !errors.As(err, &pe) {
		return &MalformedPayloadError{Err: err, Line: 1, Column: 1}
	}
	off := pe.Offset
	if off > int64(len(data)) {
		off = int64(len(data))
	}
	prefix := data[:off]
	line := bytes.Count(prefix, []byte{'\n'}) + 1
	col := int(off) - (bytes.LastIndexByte(prefix, '\n') + 1) + 1
	return &MalformedPayloadError{Offset: pe.Offset, Line: line, Column: col, Err: pe.Err}
}
