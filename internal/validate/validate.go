// Package validate checks the structural invariants of an assembled
// ProtocolIR. It never mutates the document and reports every violation it
// finds rather than stopping at the first.
package validate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/ethos/internal/ir"
)

// Code identifies a class of violation.
type Code string

const (
	CodeDanglingRef       Code = "E201"
	CodeBadRange          Code = "E202"
	CodeOverlappingMethod Code = "E203"
	CodeRequiredAfterOpt  Code = "E204"
	CodeDuplicateType     Code = "E205"
	CodeDuplicateParam    Code = "E206"
	CodeDuplicateField    Code = "E207"
	CodeTypeOutOfRange    Code = "E208"
	CodeBadTypeRef        Code = "E209"
	CodeRequiredDefault   Code = "E210"
	CodeEmptyName         Code = "E211"
	CodeParamOutsideRange Code = "E212"
)

// Violation is one broken invariant. Subject names the offending method,
// type, param or field.
type Violation struct {
	Code    Code   `json:"code"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: %s", v.Code, v.Subject, v.Message)
}

// ViolationError carries every violation found by Check.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	if len(e.Violations) == 1 {
		return "invalid protocol IR: " + e.Violations[0].String()
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("invalid protocol IR: %d violations: %s", len(e.Violations), strings.Join(parts, "; "))
}

// Check returns a *ViolationError when doc has any violation.
func Check(doc *ir.ProtocolIR) error {
	if vs := Validate(doc); len(vs) > 0 {
		return &ViolationError{Violations: vs}
	}
	return nil
}

// Validate returns every violation in doc, in a stable order.
func Validate(doc *ir.ProtocolIR) []Violation {
	c := &checker{doc: doc, types: make(map[string]*ir.TypeDescriptor)}
	c.checkVersions = checkVersions(doc)

	c.checkTypes()
	c.checkMethods()
	c.checkRefs()
	return c.out
}

type checker struct {
	doc           *ir.ProtocolIR
	types         map[string]*ir.TypeDescriptor
	checkVersions []ir.Version
	out           []Violation
}

func (c *checker) add(code Code, subject, format string, args ...any) {
	c.out = append(c.out, Violation{Code: code, Subject: subject, Message: fmt.Sprintf(format, args...)})
}

// checkVersions returns every declared version plus every range boundary,
// ascending and deduplicated. Invariants that hold "at every version" are
// checked at these points; between two of them nothing can change.
func checkVersions(doc *ir.ProtocolIR) []ir.Version {
	var vs []ir.Version
	addRange := func(r ir.VersionRange) {
		if !r.IntroducedIn.IsZero() {
			vs = append(vs, r.IntroducedIn)
		}
		if r.RemovedIn != nil {
			vs = append(vs, *r.RemovedIn)
		}
	}
	vs = append(vs, doc.KnownVersions()...)
	for _, m := range doc.Methods {
		addRange(m.Range)
		for _, p := range m.Params {
			addRange(p.Range)
		}
	}
	for _, t := range doc.Types {
		addRange(t.Range)
		for _, f := range t.Fields {
			addRange(f.Range)
		}
	}
	slices.SortFunc(vs, ir.Version.Compare)
	return slices.CompactFunc(vs, func(a, b ir.Version) bool { return a.Compare(b) == 0 })
}

// covered returns the check versions inside r.
func (c *checker) covered(r ir.VersionRange) []ir.Version {
	var out []ir.Version
	for _, v := range c.checkVersions {
		if r.Covers(v) {
			out = append(out, v)
		}
	}
	return out
}

func (c *checker) checkRange(subject string, r ir.VersionRange) bool {
	if r.Valid() {
		return true
	}
	if r.IntroducedIn.IsZero() {
		c.add(CodeBadRange, subject, "range has no introduced_in")
	} else {
		c.add(CodeBadRange, subject, "range %s is empty: introduced_in must precede removed_in", r)
	}
	return false
}

func (c *checker) checkTypes() {
	for i := range c.doc.Types {
		t := &c.doc.Types[i]
		subject := "type " + t.Name
		if strings.TrimSpace(t.Name) == "" {
			c.add(CodeEmptyName, fmt.Sprintf("type #%d", i), "type has an empty name")
			continue
		}
		if _, dup := c.types[t.Name]; dup {
			c.add(CodeDuplicateType, subject, "type %s is declared more than once", t.Name)
			continue
		}
		c.types[t.Name] = t
		c.checkRange(subject, t.Range)
		c.checkTypeShape(t)

		for _, f := range t.Fields {
			if strings.TrimSpace(f.Name) == "" {
				c.add(CodeEmptyName, subject, "field has an empty name")
				continue
			}
			fs := "field " + t.Name + "." + f.Name
			if c.checkRange(fs, f.Range) && !t.Range.Contains(f.Range) {
				c.add(CodeBadRange, fs, "range %s lies outside type range %s", f.Range, t.Range)
			}
			c.checkTypeRef(fs, f.Type)
			if f.Required && f.Default != nil {
				c.add(CodeRequiredDefault, fs, "required field has default %s", f.Default)
			}
		}
		c.checkDuplicates(CodeDuplicateField, "field", t.Name, fieldSpans(t.Fields))
		for _, v := range t.Variants {
			if strings.TrimSpace(v.Name) == "" {
				c.add(CodeEmptyName, subject, "variant has an empty name")
			}
			if v.Type != nil {
				c.checkTypeRef(subject+" variant "+v.Name, *v.Type)
			}
		}
	}
}

func (c *checker) checkTypeShape(t *ir.TypeDescriptor) {
	subject := "type " + t.Name
	switch t.Kind {
	case ir.KindPrimitive:
		if !ir.KnownPrimitive(t.Primitive) {
			c.add(CodeBadTypeRef, subject, "unknown primitive %q", t.Primitive)
		}
	case ir.KindArray:
		if t.Elem == nil {
			c.add(CodeBadTypeRef, subject, "array type has no element type")
		} else {
			c.checkTypeRef(subject, *t.Elem)
		}
	case ir.KindEnum:
		if len(t.Variants) == 0 {
			c.add(CodeBadTypeRef, subject, "enum has no variants")
		}
	case ir.KindUnion:
		if len(t.Variants) == 0 {
			c.add(CodeBadTypeRef, subject, "union has no variants")
		}
		for _, v := range t.Variants {
			if v.Type == nil {
				c.add(CodeBadTypeRef, subject, "union variant %s has no type", v.Name)
			}
		}
	case ir.KindObject:
	default:
		c.add(CodeBadTypeRef, subject, "unknown kind %q", t.Kind)
	}
}

func (c *checker) checkTypeRef(subject string, t ir.TypeRef) {
	t.Walk(func(r ir.TypeRef) {
		if n := r.Forms(); n != 1 {
			c.add(CodeBadTypeRef, subject, "type reference %s sets %d alternatives, want exactly one", r, n)
			return
		}
		if r.Primitive != "" && !ir.KnownPrimitive(r.Primitive) {
			c.add(CodeBadTypeRef, subject, "unknown primitive %q", r.Primitive)
		}
	})
}

func (c *checker) checkMethods() {
	byName := make(map[string][]*ir.MethodDescriptor)
	for i := range c.doc.Methods {
		m := &c.doc.Methods[i]
		if strings.TrimSpace(m.Name) == "" {
			c.add(CodeEmptyName, fmt.Sprintf("method #%d", i), "method has an empty name")
			continue
		}
		subject := "method " + m.Name
		if strings.TrimSpace(m.Category) == "" {
			c.add(CodeEmptyName, subject, "method has an empty category")
		}
		for _, prev := range byName[m.Name] {
			if prev.Range.Overlaps(m.Range) {
				c.add(CodeOverlappingMethod, subject, "ranges %s and %s overlap", prev.Range, m.Range)
			}
		}
		byName[m.Name] = append(byName[m.Name], m)

		methodOK := c.checkRange(subject, m.Range)
		if m.Result != nil {
			c.checkTypeRef(subject+" result", *m.Result)
		}
		for _, p := range m.Params {
			if strings.TrimSpace(p.Name) == "" {
				c.add(CodeEmptyName, subject, "param at position %d has an empty name", p.Position)
				continue
			}
			ps := "param " + m.Name + "." + p.Name
			if c.checkRange(ps, p.Range) && methodOK && !m.Range.Contains(p.Range) {
				c.add(CodeParamOutsideRange, ps, "range %s lies outside method range %s", p.Range, m.Range)
			}
			c.checkTypeRef(ps, p.Type)
			if p.Required && p.Default != nil {
				c.add(CodeRequiredDefault, ps, "required param has default %s", p.Default)
			}
		}
		c.checkDuplicates(CodeDuplicateParam, "param", m.Name, paramSpans(m.Params))
		if methodOK {
			c.checkParamOrder(m)
		}
	}
}

type span struct {
	name string
	r    ir.VersionRange
}

func paramSpans(ps []ir.ParamDescriptor) []span {
	out := make([]span, len(ps))
	for i, p := range ps {
		out[i] = span{p.Name, p.Range}
	}
	return out
}

func fieldSpans(fs []ir.Field) []span {
	out := make([]span, len(fs))
	for i, f := range fs {
		out[i] = span{f.Name, f.Range}
	}
	return out
}

func (c *checker) checkDuplicates(code Code, kind, owner string, spans []span) {
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if a.name == b.name && a.name != "" && a.r.Overlaps(b.r) {
				c.add(code, kind+" "+owner+"."+a.name, "declared twice with overlapping ranges %s and %s", a.r, b.r)
			}
		}
	}
}

// checkParamOrder reports, once per param, the first version at which a
// required param follows an optional one.
func (c *checker) checkParamOrder(m *ir.MethodDescriptor) {
	reported := make(map[string]bool)
	for _, v := range c.covered(m.Range) {
		var active []ir.ParamDescriptor
		for _, p := range m.Params {
			if p.Range.Covers(v) {
				active = append(active, p)
			}
		}
		slices.SortStableFunc(active, func(a, b ir.ParamDescriptor) int { return a.Position - b.Position })

		var optional string
		for _, p := range active {
			switch {
			case !p.Required:
				if optional == "" {
					optional = p.Name
				}
			case optional != "" && !reported[p.Name]:
				reported[p.Name] = true
				c.add(CodeRequiredAfterOpt, "param "+m.Name+"."+p.Name,
					"required param follows optional param %s at version %s", optional, v)
			}
		}
	}
}

// referrer is a place a type name is used, with the versions it is used at.
type referrer struct {
	subject string
	r       ir.VersionRange
	ref     ir.TypeRef
}

func (c *checker) referrers() []referrer {
	var out []referrer
	for _, m := range c.doc.Methods {
		for _, p := range m.Params {
			out = append(out, referrer{"param " + m.Name + "." + p.Name, p.Range, p.Type})
		}
		if m.Result != nil {
			out = append(out, referrer{"method " + m.Name + " result", m.Range, *m.Result})
		}
	}
	for _, t := range c.doc.Types {
		if t.Elem != nil {
			out = append(out, referrer{"type " + t.Name, t.Range, *t.Elem})
		}
		for _, f := range t.Fields {
			out = append(out, referrer{"field " + t.Name + "." + f.Name, f.Range, f.Type})
		}
		for _, v := range t.Variants {
			if v.Type != nil {
				out = append(out, referrer{"type " + t.Name + " variant " + v.Name, t.Range, *v.Type})
			}
		}
	}
	return out
}

// checkRefs reports each missing type once, listing where it is used, and
// every use of an existing type at a version the type does not cover.
func (c *checker) checkRefs() {
	missing := make(map[string][]string)
	var order []string

	for _, ref := range c.referrers() {
		seen := make(map[string]bool)
		for _, name := range ref.ref.Refs() {
			if seen[name] {
				continue
			}
			seen[name] = true

			t, ok := c.types[name]
			if !ok {
				if _, known := missing[name]; !known {
					order = append(order, name)
				}
				missing[name] = append(missing[name], ref.subject)
				continue
			}
			for _, v := range c.covered(ref.r) {
				if !t.Range.Covers(v) {
					c.add(CodeTypeOutOfRange, ref.subject,
						"references type %s at version %s, outside its range %s", name, v, t.Range)
					break
				}
			}
		}
	}

	slices.Sort(order)
	for _, name := range order {
		c.add(CodeDanglingRef, "type "+name, "type %s is referenced but not declared (used by %s)",
			name, strings.Join(missing[name], ", "))
	}
}
