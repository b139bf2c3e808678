package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"unicode/utf16"
)

// IRValue is a sealed interface for literal values carried by the IR
// (parameter defaults, field defaults). Only the types in this file
// implement it.
type IRValue interface {
	irValue()
}

// IRNull is an explicit JSON null.
type IRNull struct{}

func (IRNull) irValue() {}

// IRString is a string literal.
type IRString string

func (IRString) irValue() {}

// IRInt is an integer literal.
type IRInt int64

func (IRInt) irValue() {}

// IRNumber is a non-integer number kept as its decimal text so that
// artifacts never round-trip through float64.
type IRNumber string

func (IRNumber) irValue() {}

// IRBool is a boolean literal.
type IRBool bool

func (IRBool) irValue() {}

// IRArray is an array literal.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject is an object literal. Use SortedKeys for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

var numberPattern = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][+-]?\d+)?$`)

// ParseNumber returns an IRInt when s is an integer and an IRNumber when it
// is any other JSON number.
func ParseNumber(s string) (IRValue, error) {
	if !numberPattern.MatchString(s) {
		return nil, fmt.Errorf("not a JSON number: %q", s)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IRInt(n), nil
	}
	return IRNumber(s), nil
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 orders by UTF-16 code units, which differs from Go's
// byte-wise string order outside the BMP.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// Literal wraps an IRValue so it can live in JSON-tagged structs.
// A JSON null decodes to a nil *Literal, i.e. "no default".
type Literal struct {
	Value IRValue
}

// Lit wraps v.
func Lit(v IRValue) *Literal { return &Literal{Value: v} }

// IsNull reports whether the literal is an explicit null.
func (l *Literal) IsNull() bool {
	if l == nil {
		return false
	}
	_, ok := l.Value.(IRNull)
	return ok || l.Value == nil
}

// Equal compares two literals by canonical encoding; two nils are equal.
func (l *Literal) Equal(o *Literal) bool {
	if l == nil || o == nil {
		return l == nil && o == nil
	}
	a, errA := MarshalCanonical(l.Value)
	b, errB := MarshalCanonical(o.Value)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// String returns the canonical JSON text.
func (l *Literal) String() string {
	if l == nil {
		return ""
	}
	b, err := MarshalCanonical(l.Value)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

// MarshalJSON implements json.Marshaler using the canonical encoding.
func (l Literal) MarshalJSON() ([]byte, error) {
	if l.Value == nil {
		return []byte("null"), nil
	}
	return MarshalCanonical(l.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Literal) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalIRValue(data)
	if err != nil {
		return err
	}
	l.Value = v
	return nil
}

// UnmarshalIRValue decodes JSON into an IRValue, keeping numbers exact.
func UnmarshalIRValue(data []byte) (IRValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// FromAny converts a value produced by encoding/json (with UseNumber) or
// built by hand into an IRValue. float64 is rejected; decode with
// UseNumber instead.
func FromAny(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case IRValue:
		return val, nil
	case bool:
		return IRBool(val), nil
	case string:
		return IRString(val), nil
	case json.Number:
		return ParseNumber(string(val))
	case int:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case float32, float64:
		return nil, fmt.Errorf("float64 values lose precision; decode with UseNumber: %v", val)
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			irElem, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			irElem, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = irElem
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ToAny converts an IRValue back to plain Go values; numbers become
// json.Number.
func ToAny(v IRValue) any {
	switch val := v.(type) {
	case IRString:
		return string(val)
	case IRInt:
		return json.Number(strconv.FormatInt(int64(val), 10))
	case IRNumber:
		return json.Number(val)
	case IRBool:
		return bool(val)
	case IRArray:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToAny(e)
		}
		return out
	case IRObject:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}
