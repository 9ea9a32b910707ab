package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ParseError reports malformed JSON with the byte offset where the parser
// stopped.
type ParseError struct {
	Offset int64
	Err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %v", e.Offset, e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes a single JSON document into a Value. Numbers keep their
// exact decimal value; there is no float64 round trip.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Offset: errorOffset(err, dec, data), Err: err}
	}

	// Reject trailing content after the document
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return nil, &ParseError{Offset: dec.InputOffset(), Err: err}
	}

	return FromGo(raw)
}

func errorOffset(err error, dec *json.Decoder, data []byte) int64 {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Offset
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Offset
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return int64(len(data))
	}
	return dec.InputOffset()
}

// FromGo converts a decoded Go tree (as produced by encoding/json with
// UseNumber, or built by hand) into a Value.
func FromGo(v any) (Value, error) {
	return fromGo(v, "$")
}

func fromGo(v any, path string) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case json.Number:
		n, err := ParseNumber(string(val))
		if err != nil {
			return nil, newError(path, "invalid number %q", string(val))
		}
		return n, nil
	case int:
		return IntNumber(int64(val)), nil
	case int64:
		return IntNumber(val), nil
	case float64:
		n, err := FloatNumber(val)
		if err != nil {
			return nil, newError(path, "non-finite number %v", val)
		}
		return n, nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			cv, err := fromGo(elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			arr[i] = cv
		}
		return arr, nil
	case []string:
		arr := make(Array, len(val))
		for i, s := range val {
			arr[i] = String(s)
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			cv, err := fromGo(elem, path+"."+k)
			if err != nil {
				return nil, err
			}
			obj[k] = cv
		}
		return obj, nil
	case map[string]string:
		obj := make(Object, len(val))
		for k, s := range val {
			obj[k] = String(s)
		}
		return obj, nil
	default:
		return nil, newError(path, "unsupported type %T", v)
	}
}
