// Package convergence compares what a node actually returns with what its
// Protocol IR says it returns.
//
// A live response is walked against the result TypeRef of the called
// method. Every place where the two disagree becomes a Divergence with a
// JSONPath-like location ($.field[0].inner). Responses should be normalized
// with the implementation's output rules first so that volatile fields and
// unit-suffixed amounts do not show up as noise.
package convergence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/ethos/internal/ir"
)

// Kind classifies a divergence.
type Kind string

const (
	KindMissingField    Kind = "missing_field"
	KindUnexpectedField Kind = "unexpected_field"
	KindTypeMismatch    Kind = "type_mismatch"
)

// Divergence is one disagreement between a response and the IR.
type Divergence struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Kind     Kind   `json:"kind"`
	Expected string `json:"expected,omitempty"`
	Observed string `json:"observed,omitempty"`
}

func (d Divergence) String() string {
	switch d.Kind {
	case KindMissingField:
		return fmt.Sprintf("%s %s: missing required field (want %s)", d.Method, d.Path, d.Expected)
	case KindUnexpectedField:
		return fmt.Sprintf("%s %s: field not in IR (got %s)", d.Method, d.Path, d.Observed)
	default:
		return fmt.Sprintf("%s %s: want %s, got %s", d.Method, d.Path, d.Expected, d.Observed)
	}
}

// ErrUnknownMethod is returned when the snapshot has no such method.
var ErrUnknownMethod = errors.New("method not in snapshot")

// Check compares observed, the raw result of calling method, with the
// method's declared result in snap. A nil slice means the response
// conforms.
func Check(snap *ir.VersionSnapshot, method string, observed json.RawMessage) ([]Divergence, error) {
	m, ok := snap.Method(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s has no %s", ErrUnknownMethod, snap.Implementation, snap.Version, method)
	}

	var value any
	if trimmed := bytes.TrimSpace(observed); len(trimmed) > 0 {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", m.Name, err)
		}
	}
	return CheckValue(snap, m.Name, value)
}

// CheckValue is Check for an already decoded response. Numbers must be
// json.Number.
func CheckValue(snap *ir.VersionSnapshot, method string, value any) ([]Divergence, error) {
	m, ok := snap.Method(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s has no %s", ErrUnknownMethod, snap.Implementation, snap.Version, method)
	}
	c := &checker{snap: snap, method: m.Name}
	if m.Result == nil {
		if value != nil {
			c.report("$", KindTypeMismatch, "no result", describe(value))
		}
		return c.out, nil
	}
	c.walk("$", *m.Result, value)
	return c.out, nil
}

type checker struct {
	snap   *ir.VersionSnapshot
	method string
	out    []Divergence
}

func (c *checker) report(path string, kind Kind, expected, observed string) {
	c.out = append(c.out, Divergence{
		Method:   c.method,
		Path:     path,
		Kind:     kind,
		Expected: expected,
		Observed: observed,
	})
}

// fits reports whether v conforms to t without recording anything.
func (c *checker) fits(t ir.TypeRef, v any) bool {
	trial := &checker{snap: c.snap, method: c.method}
	trial.walk("$", t, v)
	return len(trial.out) == 0
}

func (c *checker) walk(path string, t ir.TypeRef, v any) {
	switch {
	case t.OptionalOf != nil:
		if v != nil {
			c.walk(path, *t.OptionalOf, v)
		}
	case t.Primitive != "":
		if !primitiveFits(t.Primitive, v) {
			c.report(path, KindTypeMismatch, t.Primitive, describe(v))
		}
	case t.ArrayOf != nil:
		items, ok := v.([]any)
		if !ok {
			c.report(path, KindTypeMismatch, t.String(), describe(v))
			return
		}
		for i, item := range items {
			c.walk(path+"["+strconv.Itoa(i)+"]", *t.ArrayOf, item)
		}
	case len(t.UnionOf) > 0:
		for _, alt := range t.UnionOf {
			if c.fits(alt, v) {
				return
			}
		}
		c.report(path, KindTypeMismatch, t.String(), describe(v))
	case t.Ref != "":
		c.named(path, t.Ref, v)
	}
}

func (c *checker) named(path, name string, v any) {
	td, ok := c.snap.Type(name)
	if !ok {
		// Snapshots are resolved; an unknown name cannot be judged.
		return
	}
	switch td.Kind {
	case ir.KindObject:
		c.object(path, td, v)
	case ir.KindEnum:
		s, ok := v.(string)
		if !ok || !hasVariant(td.Variants, s) {
			c.report(path, KindTypeMismatch, "enum "+td.Name, describe(v))
		}
	case ir.KindUnion:
		for _, variant := range td.Variants {
			if variant.Type != nil && c.fits(*variant.Type, v) {
				return
			}
		}
		c.report(path, KindTypeMismatch, td.Name, describe(v))
	case ir.KindArray:
		elem := ir.Prim(ir.PrimAny)
		if td.Elem != nil {
			elem = *td.Elem
		}
		c.walk(path, ir.ListOf(elem), v)
	default:
		if !primitiveFits(td.Primitive, v) {
			c.report(path, KindTypeMismatch, td.Name, describe(v))
		}
	}
}

func (c *checker) object(path string, td *ir.SnapshotType, v any) {
	obj, ok := v.(map[string]any)
	if !ok {
		c.report(path, KindTypeMismatch, td.Name, describe(v))
		return
	}
	if len(td.Fields) == 0 {
		return
	}

	known := make(map[string]bool, 2*len(td.Fields))
	for _, f := range td.Fields {
		known[f.Name] = true
		known[f.Wire()] = true

		val, present := obj[f.Name]
		if !present {
			val, present = obj[f.Wire()]
		}
		fieldPath := path + "." + f.Name
		switch {
		case present:
			c.walk(fieldPath, f.Type, val)
		case f.Required:
			c.report(fieldPath, KindMissingField, f.Type.String(), "")
		}
	}
	for _, key := range sortedKeys(obj) {
		if !known[key] {
			c.report(path+"."+key, KindUnexpectedField, "", describe(obj[key]))
		}
	}
}

func hasVariant(variants []ir.Variant, name string) bool {
	for _, v := range variants {
		if v.Name == name {
			return true
		}
	}
	return false
}

func primitiveFits(prim string, v any) bool {
	switch prim {
	case ir.PrimAny, "":
		return true
	case ir.PrimString:
		_, ok := v.(string)
		return ok
	case ir.PrimHex:
		s, ok := v.(string)
		return ok && isHex(s)
	case ir.PrimBoolean:
		_, ok := v.(bool)
		return ok
	case ir.PrimInteger, ir.PrimTimestamp:
		n, ok := v.(json.Number)
		return ok && !strings.ContainsAny(string(n), ".eE")
	case ir.PrimNumber, ir.PrimAmount:
		_, ok := v.(json.Number)
		return ok
	default:
		// Unmapped node-specific primitive; nothing to compare against.
		return true
	}
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// describe names the JSON kind of v.
func describe(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		if strings.ContainsAny(string(val), ".eE") {
			return "number"
		}
		return "integer"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
