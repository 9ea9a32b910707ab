package validator

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// payloadSchema is the structural contract of a .zakapp.json file. Array
// elements are left unconstrained: a bad entity fails on its own during
// decoding instead of rejecting the whole payload here.
const payloadSchema = `
#Payload: {
	metadata: {
		schemaVersion:      int & >=1
		appVersion?:        string
		exportedAt?:        string
		encryptionFormats?: [...string]
		...
	}
	profile?: {...}
	assets?:       [..._]
	nisabRecords?: [..._]
	payments?:     [..._]
	checksums: {
		overall:       string
		assets?:       string
		nisabRecords?: string
		payments?:     string
		...
	}
	...
}
`

// schema wraps a compiled CUE definition. cue.Context is not safe for
// concurrent use, so every check holds mu.
type schema struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

func compileSchema() (*schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(payloadSchema)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Payload"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Payload: %w", err)
	}
	return &schema{ctx: ctx, def: def}, nil
}

// check validates JSON bytes against #Payload. The bytes must already be
// known to parse as JSON.
func (s *schema) check(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.ctx.CompileBytes(data)
	if err := doc.Err(); err != nil {
		return &SchemaError{Details: cueDetails(err)}
	}
	if err := s.def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Details: cueDetails(err)}
	}
	return nil
}

func cueDetails(err error) []string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
