package assembler

import (
	"fmt"

	"github.com/roach88/ethos/internal/ir"
)

func refPtrEqual(a, b *ir.TypeRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func refPtrString(r *ir.TypeRef) string {
	if r == nil {
		return "none"
	}
	return r.String()
}

// diffMethod describes the first shape difference between two descriptions
// of a method at the same version, or returns "".
func diffMethod(a, b ir.MethodDescriptor) string {
	switch {
	case a.Category != b.Category:
		return fmt.Sprintf("category %q vs %q", a.Category, b.Category)
	case a.Deprecated != b.Deprecated:
		return fmt.Sprintf("deprecated %t vs %t", a.Deprecated, b.Deprecated)
	case !refPtrEqual(a.Result, b.Result):
		return fmt.Sprintf("result %s vs %s", refPtrString(a.Result), refPtrString(b.Result))
	}
	if len(a.Params) != len(b.Params) {
		return fmt.Sprintf("%d params vs %d", len(a.Params), len(b.Params))
	}
	for i := range a.Params {
		pa, pb := a.Params[i], b.Params[i]
		switch {
		case pa.Name != pb.Name:
			return fmt.Sprintf("param order: %s vs %s", pa.Name, pb.Name)
		case !pa.Type.Equal(pb.Type):
			return fmt.Sprintf("param %s: type %s vs %s", pa.Name, pa.Type, pb.Type)
		case pa.Required != pb.Required:
			return fmt.Sprintf("param %s: required %t vs %t", pa.Name, pa.Required, pb.Required)
		case !pa.Default.Equal(pb.Default):
			return fmt.Sprintf("param %s: default %s vs %s", pa.Name, pa.Default, pb.Default)
		}
	}
	return ""
}

// diffShape compares the parts of a type that must stay fixed across
// versions.
func diffShape(a, b ir.TypeDescriptor) string {
	switch {
	case a.Kind != b.Kind:
		return fmt.Sprintf("kind %s vs %s", a.Kind, b.Kind)
	case a.Primitive != b.Primitive:
		return fmt.Sprintf("primitive %q vs %q", a.Primitive, b.Primitive)
	case !refPtrEqual(a.Elem, b.Elem):
		return fmt.Sprintf("element %s vs %s", refPtrString(a.Elem), refPtrString(b.Elem))
	}
	return ""
}

// diffType compares two descriptions of a type at the same version.
func diffType(a, b ir.TypeDescriptor) string {
	if d := diffShape(a, b); d != "" {
		return d
	}
	fields := make(map[string]ir.Field, len(a.Fields))
	for _, f := range a.Fields {
		fields[f.Name] = f
	}
	if len(a.Fields) != len(b.Fields) {
		return fmt.Sprintf("%d fields vs %d", len(a.Fields), len(b.Fields))
	}
	for _, fb := range b.Fields {
		fa, ok := fields[fb.Name]
		switch {
		case !ok:
			return fmt.Sprintf("field %s only in one source", fb.Name)
		case !fa.Type.Equal(fb.Type):
			return fmt.Sprintf("field %s: type %s vs %s", fb.Name, fa.Type, fb.Type)
		case fa.Required != fb.Required:
			return fmt.Sprintf("field %s: required %t vs %t", fb.Name, fa.Required, fb.Required)
		case !fa.Default.Equal(fb.Default):
			return fmt.Sprintf("field %s: default %s vs %s", fb.Name, fa.Default, fb.Default)
		}
	}
	if len(a.Variants) != len(b.Variants) {
		return fmt.Sprintf("%d variants vs %d", len(a.Variants), len(b.Variants))
	}
	for i := range a.Variants {
		va, vb := a.Variants[i], b.Variants[i]
		if va.Name != vb.Name || !refPtrEqual(va.Type, vb.Type) {
			return fmt.Sprintf("variant %s vs %s", va.Name, vb.Name)
		}
	}
	return ""
}
