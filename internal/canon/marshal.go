package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"unicode/utf8"
)

// Marshal produces the canonical JSON bytes for v.
// This is the ONLY serialization used for stableIds and checksums.
//
// v may be a Value or a plain Go tree built from nil, bool, string, int,
// int64, float64, json.Number, []any and map[string]any.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	m := marshaler{buf: &buf, seen: make(map[uintptr]bool)}
	if err := m.encode(v, "$"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal is like Marshal but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustMarshal(v any) []byte {
	data, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

type marshaler struct {
	buf *bytes.Buffer
	// seen holds the containers on the current descent path. A shared
	// subtree is fine, a container reachable from itself is a cycle.
	seen map[uintptr]bool
}

func (m *marshaler) encode(v any, path string) error {
	switch val := v.(type) {
	case nil, Null:
		m.buf.WriteString("null")
	case String:
		return m.encodeString(string(val), path)
	case string:
		return m.encodeString(val, path)
	case Bool:
		m.writeBool(bool(val))
	case bool:
		m.writeBool(val)
	case Number:
		if !val.IsSet() {
			return newError(path, "unset number")
		}
		m.buf.WriteString(val.String())
	case int:
		m.buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		m.buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		n, err := FloatNumber(val)
		if err != nil {
			return newError(path, "non-finite number %v", val)
		}
		m.buf.WriteString(n.String())
	case json.Number:
		n, err := ParseNumber(string(val))
		if err != nil {
			return newError(path, "invalid number %q", string(val))
		}
		m.buf.WriteString(n.String())
	case Array:
		return m.encodeArray(val, len(val), func(i int) any { return val[i] }, path)
	case []any:
		return m.encodeArray(val, len(val), func(i int) any { return val[i] }, path)
	case Object:
		return m.encodeObject(val, val.SortedKeys(), func(k string) any { return val[k] }, path)
	case map[string]any:
		return m.encodeObject(val, sortedAnyKeys(val), func(k string) any { return val[k] }, path)
	default:
		return newError(path, "unsupported type %T", v)
	}
	return nil
}

func (m *marshaler) writeBool(b bool) {
	if b {
		m.buf.WriteString("true")
		return
	}
	m.buf.WriteString("false")
}

func (m *marshaler) enter(container any, path string) (func(), error) {
	ptr := reflect.ValueOf(container).Pointer()
	if ptr == 0 {
		return func() {}, nil
	}
	if m.seen[ptr] {
		return nil, newError(path, "cyclic structure")
	}
	m.seen[ptr] = true
	return func() { delete(m.seen, ptr) }, nil
}

func (m *marshaler) encodeArray(container any, n int, at func(int) any, path string) error {
	if n == 0 {
		// empty slices may share the runtime's zero-size allocation
		m.buf.WriteString("[]")
		return nil
	}
	leave, err := m.enter(container, path)
	if err != nil {
		return err
	}
	defer leave()

	m.buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			m.buf.WriteByte(',')
		}
		if err := m.encode(at(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	m.buf.WriteByte(']')
	return nil
}

func (m *marshaler) encodeObject(container any, keys []string, at func(string) any, path string) error {
	leave, err := m.enter(container, path)
	if err != nil {
		return err
	}
	defer leave()

	m.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			m.buf.WriteByte(',')
		}
		if err := m.encodeString(k, path); err != nil {
			return err
		}
		m.buf.WriteByte(':')
		if err := m.encode(at(k), path+"."+k); err != nil {
			return err
		}
	}
	m.buf.WriteByte('}')
	return nil
}

const hexDigits = "0123456789abcdef"

// encodeString writes s as a JSON string. Only the quote, the backslash and
// C0 controls are escaped; everything else, including '<', '>', '&' and
// U+2028/U+2029, is written literally.
func (m *marshaler) encodeString(s string, path string) error {
	if !utf8.ValidString(s) {
		return newError(path, "invalid UTF-8 in string")
	}
	m.buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			m.buf.WriteString(`\"`)
		case '\\':
			m.buf.WriteString(`\\`)
		case '\b':
			m.buf.WriteString(`\b`)
		case '\f':
			m.buf.WriteString(`\f`)
		case '\n':
			m.buf.WriteString(`\n`)
		case '\r':
			m.buf.WriteString(`\r`)
		case '\t':
			m.buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				m.buf.WriteString(`\u00`)
				m.buf.WriteByte(hexDigits[c>>4])
				m.buf.WriteByte(hexDigits[c&0xF])
				continue
			}
			m.buf.WriteByte(c)
		}
	}
	m.buf.WriteByte('"')
	return nil
}

func sortedAnyKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
