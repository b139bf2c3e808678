// Package normalize canonicalizes a ProtocolIR with table-driven rules.
//
// Normalization is a pure function of (document, rules) and is idempotent:
// Normalize(Normalize(d)) equals Normalize(d). Rule tables live in CUE
// files; see rules/builtin.cue.
package normalize

import (
	"strconv"
	"strings"

	"github.com/roach88/ethos/internal/ir"
)

// Normalize returns a canonicalized copy of doc using the rules registered
// for doc's implementation.
func (rs *RuleSet) Normalize(doc *ir.ProtocolIR) *ir.ProtocolIR {
	return Normalize(doc, rs.For(doc.Implementation))
}

// Normalize returns a canonicalized copy of doc. doc is not modified.
func Normalize(doc *ir.ProtocolIR, r Rules) *ir.ProtocolIR {
	n := newNormalizer(r)
	out := doc.Clone()

	typeNames := make(map[string]string, len(out.Types))
	for i := range out.Types {
		old := out.Types[i].Name
		out.Types[i].Name = r.TypesCase.Apply(old)
		typeNames[strings.TrimSpace(old)] = out.Types[i].Name
	}
	n.typeNames = typeNames

	for i := range out.Types {
		n.typeDescriptor(&out.Types[i])
	}
	for i := range out.Methods {
		n.method(&out.Methods[i])
	}

	out.Sort()
	return out
}

type normalizer struct {
	rules         Rules
	methodAliases map[string]string
	paramAliases  map[string]string
	fieldAliases  map[string]string
	typeNames     map[string]string
}

func newNormalizer(r Rules) *normalizer {
	return &normalizer{
		rules:         r,
		methodAliases: convertAliases(r.MethodAliases, r.MethodsCase),
		paramAliases:  convertAliases(r.ParamAliases, r.ParamsCase),
		fieldAliases:  convertAliases(r.FieldAliases, r.FieldsCase),
	}
}

// rename converts name to the target case and resolves aliases. wire keeps
// the first name the node used.
func rename(name, wire string, c Case, aliases map[string]string) (string, string) {
	original := strings.TrimSpace(name)
	canonical := c.Apply(original)
	if alias, ok := aliases[canonical]; ok {
		canonical = alias
	}
	if wire == "" && canonical != original {
		wire = original
	}
	return canonical, wire
}

func (n *normalizer) method(m *ir.MethodDescriptor) {
	m.Name, m.WireName = rename(m.Name, m.WireName, n.rules.MethodsCase, n.methodAliases)
	m.Category = strings.ToLower(strings.TrimSpace(m.Category))
	m.Description = strings.TrimSpace(m.Description)

	for i := range m.Params {
		p := &m.Params[i]
		p.Name, p.WireName = rename(p.Name, p.WireName, n.rules.ParamsCase, n.paramAliases)
		p.Description = strings.TrimSpace(p.Description)
		p.Type = n.typeRef(p.Type)
		p.Default = n.defaultValue(p.Default, p.Type)
		if p.Required {
			p.Default = nil
		}
	}
	if m.Result != nil {
		r := n.typeRef(*m.Result)
		m.Result = &r
	}
}

func (n *normalizer) typeDescriptor(t *ir.TypeDescriptor) {
	t.Description = strings.TrimSpace(t.Description)
	t.Primitive = strings.TrimSpace(t.Primitive)
	if t.Elem != nil {
		e := n.typeRef(*t.Elem)
		t.Elem = &e
	}
	for i := range t.Fields {
		f := &t.Fields[i]
		f.Name, f.WireName = rename(f.Name, f.WireName, n.rules.FieldsCase, n.fieldAliases)
		f.Description = strings.TrimSpace(f.Description)
		f.Type = n.typeRef(f.Type)
		f.Default = n.defaultValue(f.Default, f.Type)
	}
	for i := range t.Variants {
		v := &t.Variants[i]
		v.Name = strings.TrimSpace(v.Name)
		if v.Type != nil {
			vt := n.typeRef(*v.Type)
			v.Type = &vt
		}
	}

	if t.Kind == ir.KindObject && matchAny(n.rules.UnionTypes, t.Name) && allOptional(t.Fields) {
		collapseToUnion(t)
	}
}

// allOptional reports whether an object's members are alternatives: at
// least two fields and none of them required.
func allOptional(fields []ir.Field) bool {
	if len(fields) < 2 {
		return false
	}
	for _, f := range fields {
		if f.Required {
			return false
		}
	}
	return true
}

func collapseToUnion(t *ir.TypeDescriptor) {
	variants := make([]ir.Variant, 0, len(t.Fields))
	for _, f := range t.Fields {
		vt := f.Type
		if vt.OptionalOf != nil {
			vt = *vt.OptionalOf
		}
		variants = append(variants, ir.Variant{Name: f.Name, Type: &vt})
	}
	t.Kind = ir.KindUnion
	t.Fields = nil
	t.Variants = variants
}

func (n *normalizer) typeRef(t ir.TypeRef) ir.TypeRef {
	return t.Map(func(r ir.TypeRef) ir.TypeRef {
		if r.Ref != "" {
			if renamed, ok := n.typeNames[strings.TrimSpace(r.Ref)]; ok {
				r.Ref = renamed
			}
		}
		if r.Primitive != "" {
			r.Primitive = strings.ToLower(strings.TrimSpace(r.Primitive))
			if sep := n.rules.UnionSeparator; sep != "" && strings.Contains(r.Primitive, sep) {
				return splitUnion(r.Primitive, sep)
			}
		}
		return r
	})
}

func splitUnion(primitive, sep string) ir.TypeRef {
	var variants []ir.TypeRef
	seen := make(map[string]bool)
	for _, part := range strings.Split(primitive, sep) {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		variants = append(variants, ir.Prim(part))
	}
	if len(variants) == 1 {
		return variants[0]
	}
	return ir.OneOf(variants...)
}

// defaultValue applies the null and coercion rules to a default.
func (n *normalizer) defaultValue(d *ir.Literal, t ir.TypeRef) *ir.Literal {
	if d == nil {
		return nil
	}
	if d.IsNull() {
		if n.rules.NullDefault == "keep" {
			return ir.Lit(ir.IRNull{})
		}
		return nil
	}
	if !n.rules.CoerceDefaults {
		return d
	}
	s, ok := d.Value.(ir.IRString)
	if !ok {
		return d
	}
	prim := t.Primitive
	if t.OptionalOf != nil {
		prim = t.OptionalOf.Primitive
	}
	text := strings.Trim(strings.TrimSpace(string(s)), `"`)
	switch prim {
	case ir.PrimInteger, ir.PrimTimestamp:
		if v, err := strconv.ParseInt(text, 10, 64); err == nil {
			return ir.Lit(ir.IRInt(v))
		}
	case ir.PrimNumber, ir.PrimAmount:
		if v, err := ir.ParseNumber(text); err == nil {
			return ir.Lit(v)
		}
	case ir.PrimBoolean:
		if v, err := strconv.ParseBool(text); err == nil {
			return ir.Lit(ir.IRBool(v))
		}
	}
	return d
}
