package assembler

import (
	"strings"

	"github.com/roach88/ethos/internal/ir"
)

// splitTypes gives each incompatible generation of a named type its own
// name. The first generation keeps the declared name; later ones are
// qualified with the version that introduced them. Refs inside the affected
// layers are rewritten, so methods and fields holding the type split too.
//
// A rename can change the element of a type that references it, so passes
// repeat until nothing moves.
func splitTypes(layers []*layer) {
	taken := make(map[string]bool)
	for _, l := range layers {
		for name := range l.types {
			taken[name] = true
		}
	}

	for changed := true; changed; {
		changed = false
		names := sortedKeys(layers, func(l *layer) map[string]entry[ir.TypeDescriptor] { return l.types })
		for _, name := range names {
			var latest *ir.TypeDescriptor
			current := name
			for _, l := range layers {
				e, ok := l.types[name]
				if !ok {
					continue
				}
				if latest != nil && diffShape(*latest, e.value) != "" {
					current = qualifiedName(name, l.version, taken)
				}
				v := e.value
				latest = &v
				if current != name {
					l.renameType(name, current)
					changed = true
				}
			}
		}
	}
}

// qualifiedName returns name suffixed with v, e.g. GetblockResultV23_0,
// avoiding every name already in use.
func qualifiedName(name string, v ir.Version, taken map[string]bool) string {
	q := name + "V" + strings.ReplaceAll(v.String(), ".", "_")
	for taken[q] {
		q += "_"
	}
	taken[q] = true
	return q
}

// renameType moves the type declared as from to to and rewrites every ref
// in the layer.
func (l *layer) renameType(from, to string) {
	e := l.types[from]
	delete(l.types, from)
	e.value.Name = to
	l.types[to] = e

	fix := func(t ir.TypeRef) ir.TypeRef {
		return t.Map(func(r ir.TypeRef) ir.TypeRef {
			if r.Ref == from {
				r.Ref = to
			}
			return r
		})
	}
	fixPtr := func(t *ir.TypeRef) *ir.TypeRef {
		if t == nil {
			return nil
		}
		r := fix(*t)
		return &r
	}

	for name, e := range l.methods {
		m := &e.value
		for i := range m.Params {
			m.Params[i].Type = fix(m.Params[i].Type)
		}
		m.Result = fixPtr(m.Result)
		l.methods[name] = e
	}
	for name, e := range l.types {
		t := &e.value
		t.Elem = fixPtr(t.Elem)
		for i := range t.Fields {
			t.Fields[i].Type = fix(t.Fields[i].Type)
		}
		for i := range t.Variants {
			t.Variants[i].Type = fixPtr(t.Variants[i].Type)
		}
		l.types[name] = e
	}
}
