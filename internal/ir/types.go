package ir

import (
	"regexp"
	"slices"
	"strings"
)

// Implementation identifies a node implementation, e.g. "bitcoin_core".
type Implementation string

const (
	BitcoinCore   Implementation = "bitcoin_core"
	CoreLightning Implementation = "core_lightning"
)

var implementationPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Valid reports whether the identifier is well-formed.
func (i Implementation) Valid() bool {
	return implementationPattern.MatchString(string(i))
}

// Capability is a tag a backend advertises.
type Capability string

const (
	CapRPC         Capability = "rpc"
	CapP2P         Capability = "p2p"
	CapPSBT        Capability = "psbt"
	CapNamedParams Capability = "named-params"
	CapLive        Capability = "live"
)

// Primitive type names a TypeRef may use inline.
const (
	PrimString    = "string"
	PrimInteger   = "integer"
	PrimNumber    = "number"
	PrimBoolean   = "boolean"
	PrimHex       = "hex"
	PrimAmount    = "amount"
	PrimTimestamp = "timestamp"
	PrimAny       = "any"
)

var primitives = []string{
	PrimAmount, PrimAny, PrimBoolean, PrimHex,
	PrimInteger, PrimNumber, PrimString, PrimTimestamp,
}

// KnownPrimitive reports whether p is one of the built-in primitive names.
func KnownPrimitive(p string) bool {
	return slices.Contains(primitives, p)
}

// TypeRef refers to a type. Exactly one of its fields is set: a named
// TypeDescriptor, an inline primitive, or a structural array, optional or
// union of further refs.
type TypeRef struct {
	Ref        string    `json:"ref,omitempty"`
	Primitive  string    `json:"primitive,omitempty"`
	ArrayOf    *TypeRef  `json:"array_of,omitempty"`
	OptionalOf *TypeRef  `json:"optional_of,omitempty"`
	UnionOf    []TypeRef `json:"union_of,omitempty"`
}

// RefTo returns a reference to the named type.
func RefTo(name string) TypeRef { return TypeRef{Ref: name} }

// Prim returns an inline primitive ref.
func Prim(p string) TypeRef { return TypeRef{Primitive: p} }

// ListOf returns an array ref.
func ListOf(elem TypeRef) TypeRef { return TypeRef{ArrayOf: &elem} }

// Maybe returns an optional ref.
func Maybe(elem TypeRef) TypeRef { return TypeRef{OptionalOf: &elem} }

// OneOf returns an inline union ref.
func OneOf(variants ...TypeRef) TypeRef { return TypeRef{UnionOf: variants} }

// Forms returns how many alternatives are set; a well-formed ref has one.
func (t TypeRef) Forms() int {
	n := 0
	if t.Ref != "" {
		n++
	}
	if t.Primitive != "" {
		n++
	}
	if t.ArrayOf != nil {
		n++
	}
	if t.OptionalOf != nil {
		n++
	}
	if len(t.UnionOf) > 0 {
		n++
	}
	return n
}

// Equal reports structural equality.
func (t TypeRef) Equal(o TypeRef) bool {
	if t.Ref != o.Ref || t.Primitive != o.Primitive {
		return false
	}
	if !equalRefPtr(t.ArrayOf, o.ArrayOf) || !equalRefPtr(t.OptionalOf, o.OptionalOf) {
		return false
	}
	return slices.EqualFunc(t.UnionOf, o.UnionOf, TypeRef.Equal)
}

func equalRefPtr(a, b *TypeRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Refs returns every named type reachable from t, in walk order.
func (t TypeRef) Refs() []string {
	var out []string
	t.Walk(func(r TypeRef) {
		if r.Ref != "" {
			out = append(out, r.Ref)
		}
	})
	return out
}

// Walk calls fn for t and every nested ref, depth first.
func (t TypeRef) Walk(fn func(TypeRef)) {
	fn(t)
	if t.ArrayOf != nil {
		t.ArrayOf.Walk(fn)
	}
	if t.OptionalOf != nil {
		t.OptionalOf.Walk(fn)
	}
	for _, v := range t.UnionOf {
		v.Walk(fn)
	}
}

// Map rebuilds t bottom-up, applying fn to every node.
func (t TypeRef) Map(fn func(TypeRef) TypeRef) TypeRef {
	out := TypeRef{Ref: t.Ref, Primitive: t.Primitive}
	if t.ArrayOf != nil {
		elem := t.ArrayOf.Map(fn)
		out.ArrayOf = &elem
	}
	if t.OptionalOf != nil {
		elem := t.OptionalOf.Map(fn)
		out.OptionalOf = &elem
	}
	if len(t.UnionOf) > 0 {
		out.UnionOf = make([]TypeRef, len(t.UnionOf))
		for i, v := range t.UnionOf {
			out.UnionOf[i] = v.Map(fn)
		}
	}
	return fn(out)
}

func (t TypeRef) String() string {
	switch {
	case t.Ref != "":
		return t.Ref
	case t.Primitive != "":
		return t.Primitive
	case t.ArrayOf != nil:
		return "[]" + t.ArrayOf.String()
	case t.OptionalOf != nil:
		return "?" + t.OptionalOf.String()
	case len(t.UnionOf) > 0:
		parts := make([]string, len(t.UnionOf))
		for i, v := range t.UnionOf {
			parts[i] = v.String()
		}
		return strings.Join(parts, "|")
	default:
		return "<empty>"
	}
}

// TypeKind classifies a TypeDescriptor.
type TypeKind string

const (
	KindPrimitive TypeKind = "primitive"
	KindObject    TypeKind = "object"
	KindArray     TypeKind = "array"
	KindEnum      TypeKind = "enum"
	KindUnion     TypeKind = "union"
)

// TypeDescriptor is a named type. Names are unique within a document.
type TypeDescriptor struct {
	Name        string       `json:"name"`
	Kind        TypeKind     `json:"kind"`
	Description string       `json:"description,omitempty"`
	Primitive   string       `json:"primitive,omitempty"`
	Elem        *TypeRef     `json:"elem,omitempty"`
	Fields      []Field      `json:"fields,omitempty"`
	Variants    []Variant    `json:"variants,omitempty"`
	Range       VersionRange `json:"range"`
}

// Field is one member of an object type. WireName records the name the node
// uses when normalization renamed the field.
type Field struct {
	Name        string       `json:"name"`
	WireName    string       `json:"wire_name,omitempty"`
	Type        TypeRef      `json:"type"`
	Required    bool         `json:"required"`
	Default     *Literal     `json:"default,omitempty"`
	Description string       `json:"description,omitempty"`
	Range       VersionRange `json:"range"`
}

// Wire returns the on-the-wire name.
func (f Field) Wire() string {
	if f.WireName != "" {
		return f.WireName
	}
	return f.Name
}

// Variant is one alternative of an enum (Type nil) or union.
type Variant struct {
	Name string   `json:"name"`
	Type *TypeRef `json:"type,omitempty"`
}

// ParamDescriptor is one RPC parameter. Several descriptors may share a
// name when the parameter's optionality changed between versions; their
// ranges are then disjoint.
type ParamDescriptor struct {
	Name        string       `json:"name"`
	WireName    string       `json:"wire_name,omitempty"`
	Type        TypeRef      `json:"type"`
	Required    bool         `json:"required"`
	Default     *Literal     `json:"default,omitempty"`
	Position    int          `json:"position"`
	Description string       `json:"description,omitempty"`
	Range       VersionRange `json:"range"`
}

// Wire returns the on-the-wire name.
func (p ParamDescriptor) Wire() string {
	if p.WireName != "" {
		return p.WireName
	}
	return p.Name
}

// MethodDescriptor is one RPC over a version range. A nil Result means the
// method returns nothing.
type MethodDescriptor struct {
	Name        string            `json:"name"`
	WireName    string            `json:"wire_name,omitempty"`
	Category    string            `json:"category"`
	Description string            `json:"description,omitempty"`
	Params      []ParamDescriptor `json:"params"`
	Result      *TypeRef          `json:"result,omitempty"`
	Deprecated  bool              `json:"deprecated,omitempty"`
	Range       VersionRange      `json:"range"`
}

// Wire returns the on-the-wire method name.
func (m MethodDescriptor) Wire() string {
	if m.WireName != "" {
		return m.WireName
	}
	return m.Name
}

// VersionInfo is per-release metadata.
type VersionInfo struct {
	Version     Version `json:"version"`
	ReleaseDate string  `json:"release_date,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// ProtocolIR is the canonical, versioned description of one
// implementation's RPC surface.
type ProtocolIR struct {
	SchemaVersion  string             `json:"schema_version"`
	Implementation Implementation     `json:"implementation"`
	Methods        []MethodDescriptor `json:"methods"`
	Types          []TypeDescriptor   `json:"types"`
	Versions       []VersionInfo      `json:"versions"`
}

// NewProtocolIR returns an empty document for impl.
func NewProtocolIR(impl Implementation) *ProtocolIR {
	return &ProtocolIR{
		SchemaVersion:  SchemaVersion,
		Implementation: impl,
		Methods:        []MethodDescriptor{},
		Types:          []TypeDescriptor{},
		Versions:       []VersionInfo{},
	}
}

// Type returns the named type descriptor.
func (d *ProtocolIR) Type(name string) (*TypeDescriptor, bool) {
	for i := range d.Types {
		if d.Types[i].Name == name {
			return &d.Types[i], true
		}
	}
	return nil, false
}

// MethodsNamed returns every descriptor sharing name, in range order.
func (d *ProtocolIR) MethodsNamed(name string) []MethodDescriptor {
	var out []MethodDescriptor
	for _, m := range d.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// KnownVersions returns the declared release versions, ascending.
func (d *ProtocolIR) KnownVersions() []Version {
	out := make([]Version, 0, len(d.Versions))
	for _, v := range d.Versions {
		out = append(out, v.Version)
	}
	slices.SortFunc(out, Version.Compare)
	return out
}

// Sort puts methods, types and versions in canonical order and replaces
// nil slices with empty ones so equal documents encode identically. Params
// keep their positional order.
func (d *ProtocolIR) Sort() {
	if d.Methods == nil {
		d.Methods = []MethodDescriptor{}
	}
	if d.Types == nil {
		d.Types = []TypeDescriptor{}
	}
	if d.Versions == nil {
		d.Versions = []VersionInfo{}
	}
	slices.SortStableFunc(d.Methods, func(a, b MethodDescriptor) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return a.Range.IntroducedIn.Compare(b.Range.IntroducedIn)
	})
	for i := range d.Methods {
		if d.Methods[i].Params == nil {
			d.Methods[i].Params = []ParamDescriptor{}
		}
		slices.SortStableFunc(d.Methods[i].Params, func(a, b ParamDescriptor) int {
			return cmpInt(a.Position, b.Position)
		})
	}
	slices.SortStableFunc(d.Types, func(a, b TypeDescriptor) int {
		return strings.Compare(a.Name, b.Name)
	})
	slices.SortStableFunc(d.Versions, func(a, b VersionInfo) int {
		return a.Version.Compare(b.Version)
	})
}

// Clone returns a deep copy. Literals are immutable and shared.
func (d *ProtocolIR) Clone() *ProtocolIR {
	out := &ProtocolIR{
		SchemaVersion:  d.SchemaVersion,
		Implementation: d.Implementation,
		Methods:        make([]MethodDescriptor, len(d.Methods)),
		Types:          make([]TypeDescriptor, len(d.Types)),
		Versions:       slices.Clone(d.Versions),
	}
	if out.Versions == nil {
		out.Versions = []VersionInfo{}
	}
	for i, m := range d.Methods {
		out.Methods[i] = m.Clone()
	}
	for i, t := range d.Types {
		out.Types[i] = t.Clone()
	}
	return out
}

// Clone returns a deep copy of the method.
func (m MethodDescriptor) Clone() MethodDescriptor {
	out := m
	out.Range = m.Range.clone()
	out.Params = make([]ParamDescriptor, len(m.Params))
	for i, p := range m.Params {
		p.Type = p.Type.Map(identity)
		p.Range = p.Range.clone()
		out.Params[i] = p
	}
	if m.Result != nil {
		r := m.Result.Map(identity)
		out.Result = &r
	}
	return out
}

// Clone returns a deep copy of the type.
func (t TypeDescriptor) Clone() TypeDescriptor {
	out := t
	out.Range = t.Range.clone()
	if t.Elem != nil {
		e := t.Elem.Map(identity)
		out.Elem = &e
	}
	if t.Fields != nil {
		out.Fields = make([]Field, len(t.Fields))
		for i, f := range t.Fields {
			f.Type = f.Type.Map(identity)
			f.Range = f.Range.clone()
			out.Fields[i] = f
		}
	}
	if t.Variants != nil {
		out.Variants = make([]Variant, len(t.Variants))
		for i, v := range t.Variants {
			if v.Type != nil {
				vt := v.Type.Map(identity)
				v.Type = &vt
			}
			out.Variants[i] = v
		}
	}
	return out
}

func identity(t TypeRef) TypeRef { return t }

func (r VersionRange) clone() VersionRange {
	if r.RemovedIn == nil {
		return r
	}
	removed := *r.RemovedIn
	return VersionRange{IntroducedIn: r.IntroducedIn, RemovedIn: &removed}
}

// VersionSnapshot is the single-version view of a ProtocolIR with range
// metadata stripped. It is the Code Generator's input.
type VersionSnapshot struct {
	SchemaVersion  string           `json:"schema_version"`
	Implementation Implementation   `json:"implementation"`
	Version        Version          `json:"version"`
	Methods        []SnapshotMethod `json:"methods"`
	Types          []SnapshotType   `json:"types"`
}

// SnapshotMethod is a MethodDescriptor as seen at one version.
type SnapshotMethod struct {
	Name        string          `json:"name"`
	WireName    string          `json:"wire_name,omitempty"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Params      []SnapshotParam `json:"params"`
	Result      *TypeRef        `json:"result,omitempty"`
	Deprecated  bool            `json:"deprecated,omitempty"`
}

// Wire returns the on-the-wire method name.
func (m SnapshotMethod) Wire() string {
	if m.WireName != "" {
		return m.WireName
	}
	return m.Name
}

// SnapshotParam is a ParamDescriptor as seen at one version; Position is
// dense from zero.
type SnapshotParam struct {
	Name        string   `json:"name"`
	WireName    string   `json:"wire_name,omitempty"`
	Type        TypeRef  `json:"type"`
	Required    bool     `json:"required"`
	Default     *Literal `json:"default,omitempty"`
	Position    int      `json:"position"`
	Description string   `json:"description,omitempty"`
}

// Wire returns the on-the-wire name.
func (p SnapshotParam) Wire() string {
	if p.WireName != "" {
		return p.WireName
	}
	return p.Name
}

// SnapshotType is a TypeDescriptor as seen at one version.
type SnapshotType struct {
	Name        string          `json:"name"`
	Kind        TypeKind        `json:"kind"`
	Description string          `json:"description,omitempty"`
	Primitive   string          `json:"primitive,omitempty"`
	Elem        *TypeRef        `json:"elem,omitempty"`
	Fields      []SnapshotField `json:"fields,omitempty"`
	Variants    []Variant       `json:"variants,omitempty"`
}

// SnapshotField is a Field as seen at one version.
type SnapshotField struct {
	Name        string   `json:"name"`
	WireName    string   `json:"wire_name,omitempty"`
	Type        TypeRef  `json:"type"`
	Required    bool     `json:"required"`
	Default     *Literal `json:"default,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Wire returns the on-the-wire name.
func (f SnapshotField) Wire() string {
	if f.WireName != "" {
		return f.WireName
	}
	return f.Name
}

// Type returns the named snapshot type.
func (s *VersionSnapshot) Type(name string) (*SnapshotType, bool) {
	for i := range s.Types {
		if s.Types[i].Name == name {
			return &s.Types[i], true
		}
	}
	return nil, false
}

// Method returns the named snapshot method.
func (s *VersionSnapshot) Method(name string) (*SnapshotMethod, bool) {
	for i := range s.Methods {
		if s.Methods[i].Name == name || s.Methods[i].WireName == name {
			return &s.Methods[i], true
		}
	}
	return nil, false
}
