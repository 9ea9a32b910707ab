package canon

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"null", Null{}, "null"},
		{"nil", nil, "null"},
		{"int", IntNumber(42), "42"},
		{"negative int", IntNumber(-100), "-100"},
		{"zero", IntNumber(0), "0"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array keeps order", Array{IntNumber(3), IntNumber(1), IntNumber(2)}, "[3,1,2]"},
		{"simple object", Object{"a": IntNumber(1)}, `{"a":1}`},
		{"go map", map[string]any{"b": "x", "a": true}, `{"a":true,"b":"x"}`},
		{"go slice", []any{int64(1), "two", nil}, `[1,"two",null]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalNumbers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"trailing zeros stripped", "12.50", "12.5"},
		{"integral decimal", "100.00", "100"},
		{"exponent expanded", "1.25e3", "1250"},
		{"small exponent", "5e-3", "0.005"},
		{"negative zero", "-0.00", "0"},
		{"large value stays fixed", "123456789012345678901234.5", "123456789012345678901234.5"},
		{"exponent integral", "1e2", "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseNumber(tt.input)
			require.NoError(t, err)
			out, err := Marshal(n)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalFloatUsesShortestForm(t *testing.T) {
	out, err := Marshal(0.1)
	require.NoError(t, err)
	assert.Equal(t, "0.1", string(out))

	out, err = Marshal(2500.0)
	require.NoError(t, err)
	assert.Equal(t, "2500", string(out))
}

func TestMarshalRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Marshal(map[string]any{"amount": f})
		require.Error(t, err)
		assert.True(t, IsCanonicalizationError(err))
	}

	_, err := ParseNumber("Infinity")
	require.Error(t, err)
	_, err = ParseNumber("NaN")
	require.Error(t, err)
}

func TestMarshalRejectsUnsetNumber(t *testing.T) {
	_, err := Marshal(Object{"value": Number{}})
	require.Error(t, err)
	assert.True(t, IsCanonicalizationError(err))
	assert.Contains(t, err.Error(), "$.value")
}

func TestMarshalRejectsCycle(t *testing.T) {
	obj := map[string]any{"name": "loop"}
	obj["self"] = obj

	_, err := Marshal(obj)
	require.Error(t, err)
	assert.True(t, IsCanonicalizationError(err))
	assert.Contains(t, err.Error(), "cyclic")
}

func TestMarshalAllowsSharedSubtree(t *testing.T) {
	shared := Object{"k": String("v")}
	out, err := Marshal(Object{"a": shared, "b": shared})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"k":"v"},"b":{"k":"v"}}`, string(out))
}

func TestMarshalSortedKeysByteOrder(t *testing.T) {
	obj := Object{
		"zebra": IntNumber(1),
		"Alpha": IntNumber(2),
		"alpha": IntNumber(3),
		"éclair": IntNumber(4),
	}

	out, err := Marshal(obj)
	require.NoError(t, err)
	// Uppercase sorts before lowercase, multi-byte UTF-8 sorts last
	assert.Equal(t, `{"Alpha":2,"alpha":3,"zebra":1,"éclair":4}`, string(out))
}

func TestMarshalInsertionOrderIrrelevant(t *testing.T) {
	a := map[string]any{}
	a["one"] = 1
	a["two"] = 2
	a["three"] = 3

	b := map[string]any{}
	b["three"] = 3
	b["one"] = 1
	b["two"] = 2

	assert.Equal(t, MustMarshal(a), MustMarshal(b))
}

func TestMarshalStringEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"quote", `say "hi"`, `"say \"hi\""`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline tab", "a\nb\tc", `"a\nb\tc"`},
		{"control", "\x01", `"\u0001"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"non-ascii literal", "زكاة", `"زكاة"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Marshal(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalRejectsInvalidUTF8(t *testing.T) {
	_, err := Marshal(String("\xff\xfe"))
	require.Error(t, err)
	assert.True(t, IsCanonicalizationError(err))
}

func TestMarshalOutputIsValidJSON(t *testing.T) {
	obj := Object{
		"list":   Array{String("x"), MustNumber("1.50"), Bool(false), Null{}},
		"nested": Object{"b": String("<tag>"), "a": MustNumber("-2")},
	}
	out := MustMarshal(obj)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
}

func TestParseRoundTrip(t *testing.T) {
	input := []byte(`{ "b" : [1.50, "x", null, true], "a": {"z": 0.10, "y": -0} }`)

	v, err := Parse(input)
	require.NoError(t, err)

	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":0,"z":0.1},"b":[1.5,"x",null,true]}`, string(out))

	// Re-parsing canonical output is a fixed point
	v2, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, out, MustMarshal(v2))
}

func TestParseReportsOffset(t *testing.T) {
	_, err := Parse([]byte(`{"a": 1,, "b": 2}`))
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	// offset counts the offending comma
	assert.Equal(t, int64(9), pe.Offset)
}

func TestParseRejectsTrailingData(t *testing.T) {
	_, err := Parse([]byte(`{"a":1} {"b":2}`))
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestParseTruncatedInput(t *testing.T) {
	data := []byte(`{"a": [1, 2`)
	_, err := Parse(data)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int64(len(data)), pe.Offset)
}
