// Package normalize converts raw replication column values into the
// canonical value tree that is stored in the wide document: null, bool,
// integer, number, string, object, array.
//
// The replication stream is not uniform. Depending on the column type and
// the producer, a value may arrive as time.Time, decimal.Decimal, a byte
// blob, a repr-style single-quoted string, or an embedded JSON text.
// Normalization is idempotent: applying it to its own output yields the
// same value.
//
// Known limitation: the single→double quote rewrite used to recover
// embedded JSON corrupts string contents that legitimately contain
// apostrophes. This mirrors the upstream producers and is kept as-is.
package normalize

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// timeLayout is the wire format for date-time values in documents.
const timeLayout = "2006-01-02 15:04:05"

// BusinessJSONColumn and ExtraJSONColumn receive stronger parsing in Row:
// their content is JSON text that must land in the document as a
// structured object, never as an escaped string.
const (
	BusinessJSONColumn = "BussinessJson" // sic, source schema spelling
	ExtraJSONColumn    = "ExtraJson"
)

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// Row normalizes every column of a row image. The two embedded-JSON
// columns are recognized by name and parsed structurally; everything else
// goes through Value.
func Row(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		switch k {
		case BusinessJSONColumn:
			out[k] = BusinessJSON(v)
		case ExtraJSONColumn:
			out[k] = ExtraJSON(v)
		default:
			out[k] = Value(v)
		}
	}
	return out
}

// Value normalizes a single column value. It is a fixed point:
// Value(Value(v)) == Value(v) for any input.
func Value(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format(timeLayout)
	case decimal.Decimal:
		return x.String()
	case []byte:
		if utf8.Valid(x) {
			// Decoded blobs follow the string rules so that a second
			// pass over the result is a no-op.
			return Value(string(x))
		}
		return hex.EncodeToString(x)
	case string:
		return normalizeString(x)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = Value(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = Value(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = Value(val)
		}
		return out
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// String normalizes a string value and reports the result, which is either
// a plain string or a parsed JSON tree.
func normalizeString(s string) interface{} {
	s = stripQuotePair(s)
	if looksLikeJSON(s) {
		if parsed, ok := parseJSON(singleToDoubleQuotes(s)); ok {
			return Value(parsed)
		}
	}
	return s
}

// BusinessJSON parses the BussinessJson column. The column carries JSON
// text that may arrive as bytes, as a repr-style quoted string, or with
// escaped unicode sequences. Unparseable input is returned as the cleaned
// string.
func BusinessJSON(v interface{}) interface{} {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if !utf8.Valid(x) {
			return hex.EncodeToString(x)
		}
		s = string(x)
	case string:
		s = x
	default:
		return Value(v)
	}

	s = stripByteRepr(s)
	if looksLikeJSON(s) {
		repaired := trailingCommaRe.ReplaceAllString(singleToDoubleQuotes(s), "$1")
		if parsed, ok := parseJSON(repaired); ok {
			return parsed
		}
	}
	if strings.Contains(s, `\u`) {
		return decodeUnicodeEscapes(s)
	}
	return s
}

// ExtraJSON parses the ExtraJson column. The result is always a JSON
// object: a parsed non-object is wrapped as {"value": ...}, an unparseable
// string as {"raw_value": ...}, and null as {}.
func ExtraJSON(v interface{}) map[string]interface{} {
	var s string
	switch x := v.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		return x
	case []byte:
		if !utf8.Valid(x) {
			return map[string]interface{}{"raw_value": hex.EncodeToString(x)}
		}
		s = string(x)
	case string:
		s = x
	default:
		return map[string]interface{}{"value": Value(v)}
	}

	s = strings.TrimSpace(stripByteRepr(s))
	if s == "" {
		return map[string]interface{}{}
	}
	if looksLikeJSON(s) {
		repaired := trailingCommaRe.ReplaceAllString(singleToDoubleQuotes(s), "$1")
		if parsed, ok := parseJSON(repaired); ok {
			if obj, isObj := parsed.(map[string]interface{}); isObj {
				return obj
			}
			return map[string]interface{}{"value": parsed}
		}
	}
	return map[string]interface{}{"raw_value": s}
}

// stripQuotePair trims all leading and trailing apostrophes. Removing
// every enclosing layer in one pass keeps Value idempotent even when a
// value arrives wrapped more than once.
func stripQuotePair(s string) string {
	return strings.Trim(s, "'")
}

// stripByteRepr removes a repr-style b'...' wrapper, then any remaining
// enclosing apostrophes.
func stripByteRepr(s string) string {
	if len(s) >= 3 && strings.HasPrefix(s, "b'") && s[len(s)-1] == '\'' {
		s = s[1:]
	}
	return stripQuotePair(s)
}

func looksLikeJSON(s string) bool {
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

func singleToDoubleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `"`)
}

// parseJSON decodes s preserving number literals (json.Number) so that
// re-encoding reproduces the original digits.
func parseJSON(s string) (interface{}, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var parsed interface{}
	if err := dec.Decode(&parsed); err != nil {
		return nil, false
	}
	// Reject trailing garbage after the first JSON value.
	if dec.More() {
		return nil, false
	}
	return parsed, true
}

// decodeUnicodeEscapes resolves \uXXXX sequences in a non-JSON string,
// e.g. `工单` becomes 工单. Malformed sequences pass through
// unchanged.
func decodeUnicodeEscapes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '\\' && i+5 < len(s) && s[i+1] == 'u' {
			if n, err := strconv.ParseUint(s[i+2:i+6], 16, 32); err == nil {
				b.WriteRune(rune(n))
				i += 6
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
