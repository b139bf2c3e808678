package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON. It is the only
// encoding used for content hashes.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping
//  3. Strings are NFC normalized
//  4. Numbers are written from their decimal text; float64 is rejected
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	val, err := FromAny(v)
	if err != nil {
		return err
	}
	switch val := val.(type) {
	case IRNull:
		buf.WriteString("null")
	case IRString:
		writeCanonicalString(buf, string(val))
	case IRInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case IRNumber:
		if !numberPattern.MatchString(string(val)) {
			return fmt.Errorf("malformed number literal %q", string(val))
		}
		buf.WriteString(string(val))
	case IRBool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case IRArray:
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
	case IRObject:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeCanonicalString escapes only what RFC 8785 requires: quote,
// backslash and control characters. U+2028/U+2029 and HTML characters are
// written literally.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			fmt.Fprintf(buf, `\u%04x`, r)
		default:
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}

// CanonicalDocument re-encodes any JSON-marshalable value (a ProtocolIR, a
// VersionSnapshot) as canonical JSON.
func CanonicalDocument(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	val, err := UnmarshalIRValue(raw)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return MarshalCanonical(val)
}
