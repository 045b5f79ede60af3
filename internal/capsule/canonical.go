package capsule

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces the canonical JSON used for content-addressed
// identity. This is the ONLY serialization that may feed the hash.
//
// Rules (RFC 8785 style):
//  1. Object keys sorted by byte order after NFC normalization
//  2. No HTML escaping (< > & stay literal)
//  3. Strings NFC normalized at the boundary
//  4. Integers without exponent, floats in shortest round-trip form
//  5. NaN, infinities and null are rejected
//
// Unlike a general-purpose encoder this accepts float64: capsule feature
// vectors and quality scores are floats by contract, and the shortest
// round-trip form is deterministic for a given bit pattern.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		writeCanonicalString(buf, val)
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
		return nil
	case float64:
		return writeCanonicalFloat(buf, val)
	case []float64:
		buf.WriteByte('[')
		for i, f := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalFloat(buf, f); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]int64:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = e
		}
		return writeCanonicalObject(buf, m)
	case map[string]float64:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = e
		}
		return writeCanonicalObject(buf, m)
	case map[string]any:
		return writeCanonicalObject(buf, val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	type pair struct {
		key string // NFC-normalized; sort and emit this form
		val any
	}
	pairs := make([]pair, 0, len(obj))
	for k, v := range obj {
		pairs = append(pairs, pair{key: norm.NFC.String(k), val: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	buf.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeCanonicalString(buf, p.key)
		buf.WriteByte(':')
		if err := writeCanonical(buf, p.val); err != nil {
			return fmt.Errorf("value for key %q: %w", p.key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeCanonicalFloat emits a number in shortest round-trip form.
// Integral values print without exponent or trailing ".0" so the same
// quantity never has two spellings. Negative zero collapses to 0.
func writeCanonicalFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number is forbidden in canonical JSON: %v", f)
	}
	if f == 0 {
		buf.WriteByte('0')
		return nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// writeCanonicalString emits an NFC-normalized JSON string.
// Only control characters, backslash and quote are escaped; everything
// else (including < > & and U+2028/U+2029) stays literal per RFC 8785.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		b := s[i]
		if b < 0x80 {
			switch {
			case b == '"':
				buf.WriteString(`\"`)
			case b == '\\':
				buf.WriteString(`\\`)
			case b == '\b':
				buf.WriteString(`\b`)
			case b == '\f':
				buf.WriteString(`\f`)
			case b == '\n':
				buf.WriteString(`\n`)
			case b == '\r':
				buf.WriteString(`\r`)
			case b == '\t':
				buf.WriteString(`\t`)
			case b < 0x20:
				fmt.Fprintf(buf, `\u%04x`, b)
			default:
				buf.WriteByte(b)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			// Invalid UTF-8 byte: escape its replacement form so the
			// output is always valid JSON.
			buf.WriteString(`�`)
			i++
			continue
		}
		buf.WriteString(s[i : i+size])
		i += size
	}
	buf.WriteByte('"')
}
