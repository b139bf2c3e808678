package corelightning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/ir"
)

// rawExport is a combined export of lightningd's per-method JSON schemas.
type rawExport struct {
	Version     string               `json:"version"`
	ReleaseDate string               `json:"release_date"`
	Methods     map[string]rawMethod `json:"methods"`
}

type rawMethod struct {
	Description json.RawMessage `json:"description"`
	Deprecated  json.RawMessage `json:"deprecated"`
	Request     *rawObject      `json:"request"`
	Response    *rawObject      `json:"response"`
}

type rawObject struct {
	Required   []string               `json:"required"`
	Properties map[string]rawProperty `json:"properties"`
}

type rawProperty struct {
	Type        typeList               `json:"type"`
	Description json.RawMessage        `json:"description"`
	Deprecated  json.RawMessage        `json:"deprecated"`
	Default     json.RawMessage        `json:"default"`
	Enum        []string               `json:"enum"`
	Items       *rawProperty           `json:"items"`
	Required    []string               `json:"required"`
	Properties  map[string]rawProperty `json:"properties"`
}

// typeList accepts both "type": "u64" and "type": ["u64", "null"].
type typeList []string

func (t *typeList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var many []string
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*t = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*t = typeList{one}
	return nil
}

// text flattens lightningd's descriptions, which are either a string or a
// list of lines.
func text(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.TrimSpace(strings.Join(lines, " "))
	}
	return ""
}

// deprecated treats `true` and any non-empty version list as deprecated.
func deprecated(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("false")) || bytes.Equal(raw, []byte("null")) {
		return false
	}
	return !bytes.Equal(raw, []byte("[]"))
}

var primitives = map[string]string{
	"string":           ir.PrimString,
	"short_channel_id": ir.PrimString,
	"outpoint":         ir.PrimString,
	"feerate":          ir.PrimString,
	"utxo":             ir.PrimString,
	"integer":          ir.PrimInteger,
	"u8":               ir.PrimInteger,
	"u16":              ir.PrimInteger,
	"u32":              ir.PrimInteger,
	"u64":              ir.PrimInteger,
	"number":           ir.PrimNumber,
	"boolean":          ir.PrimBoolean,
	"msat":             ir.PrimAmount,
	"sat":              ir.PrimAmount,
	"msat_or_all":      ir.PrimAmount,
	"msat_or_any":      ir.PrimAmount,
	"sat_or_all":       ir.PrimAmount,
	"hex":              ir.PrimHex,
	"hash":             ir.PrimHex,
	"txid":             ir.PrimHex,
	"secret":           ir.PrimHex,
	"pubkey":           ir.PrimHex,
	"signature":        ir.PrimHex,
	"point32":          ir.PrimHex,
	"bip340sig":        ir.PrimHex,
	"any":              ir.PrimAny,
}

// categories classify methods by name; the first matching pattern wins.
var categories = []struct {
	pattern  string
	category string
}{
	{"list*", "query"},
	{"*pay*", "payment"},
	{"*invoice*", "invoice"},
	{"*channel*", "channel"},
}

func categorize(method string) string {
	for _, c := range categories {
		if ok, _ := doublestar.Match(c.pattern, method); ok {
			return c.category
		}
	}
	return "core"
}

type translator struct {
	version ir.Version
	types   []ir.TypeDescriptor
}

func (tr *translator) since() ir.VersionRange { return ir.Since(tr.version) }

func (tr *translator) method(name string, raw rawMethod) (ir.MethodDescriptor, error) {
	m := ir.MethodDescriptor{
		Name:        name,
		Category:    categorize(name),
		Description: firstSentence(text(raw.Description)),
		Deprecated:  deprecated(raw.Deprecated),
		Params:      []ir.ParamDescriptor{},
		Range:       tr.since(),
	}

	if raw.Request != nil {
		for _, pname := range orderedKeys(raw.Request.Properties, raw.Request.Required) {
			prop := raw.Request.Properties[pname]
			t, err := tr.propType(name+"_"+pname, prop)
			if err != nil {
				return m, fmt.Errorf("param %s: %w", pname, err)
			}
			p := ir.ParamDescriptor{
				Name:        pname,
				Type:        t,
				Required:    contains(raw.Request.Required, pname),
				Position:    len(m.Params),
				Description: firstSentence(text(prop.Description)),
				Range:       tr.since(),
			}
			if !p.Required && len(prop.Default) > 0 {
				lit, err := ir.UnmarshalIRValue(prop.Default)
				if err != nil {
					return m, fmt.Errorf("param %s: default: %w", pname, err)
				}
				p.Default = ir.Lit(lit)
			}
			m.Params = append(m.Params, p)
		}
	}

	if raw.Response != nil {
		var t ir.TypeRef
		if len(raw.Response.Properties) == 0 {
			t = ir.Prim(ir.PrimAny)
		} else {
			fields, err := tr.fields(name+"_result", raw.Response.Properties, raw.Response.Required)
			if err != nil {
				return m, err
			}
			t = tr.object(name+"_result", "", fields)
		}
		m.Result = &t
	}
	return m, nil
}

func (tr *translator) fields(owner string, props map[string]rawProperty, required []string) ([]ir.Field, error) {
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]ir.Field, 0, len(names))
	for _, fname := range names {
		prop := props[fname]
		t, err := tr.propType(owner+"_"+fname, prop)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", owner, fname, err)
		}
		fields = append(fields, ir.Field{
			Name:        fname,
			Type:        t,
			Required:    contains(required, fname),
			Description: firstSentence(text(prop.Description)),
			Range:       tr.since(),
		})
	}
	return fields, nil
}

// propType maps a property. "null" alternatives make the ref optional; the
// remaining alternatives are joined with "|" for the normalizer to split.
func (tr *translator) propType(name string, prop rawProperty) (ir.TypeRef, error) {
	var kinds []string
	nullable := false
	for _, k := range prop.Type {
		if k == "null" {
			nullable = true
			continue
		}
		kinds = append(kinds, k)
	}

	var t ir.TypeRef
	switch {
	case len(prop.Enum) > 0:
		t = tr.enum(name, text(prop.Description), prop.Enum)
	case len(kinds) == 0:
		t = ir.Prim(ir.PrimAny)
	case len(kinds) > 1:
		prims := make([]string, 0, len(kinds))
		for _, k := range kinds {
			p, ok := primitives[k]
			if !ok {
				return ir.TypeRef{}, fmt.Errorf("unmapped type %q", k)
			}
			prims = append(prims, p)
		}
		t = ir.Prim(strings.Join(prims, "|"))
	case kinds[0] == "object":
		if len(prop.Properties) == 0 {
			t = ir.Prim(ir.PrimAny)
			break
		}
		fields, err := tr.fields(name, prop.Properties, prop.Required)
		if err != nil {
			return ir.TypeRef{}, err
		}
		t = tr.object(name, firstSentence(text(prop.Description)), fields)
	case kinds[0] == "array":
		if prop.Items == nil {
			t = ir.ListOf(ir.Prim(ir.PrimAny))
			break
		}
		elem, err := tr.propType(name+"_item", *prop.Items)
		if err != nil {
			return ir.TypeRef{}, err
		}
		t = ir.ListOf(elem)
	default:
		p, ok := primitives[kinds[0]]
		if !ok {
			return ir.TypeRef{}, fmt.Errorf("unmapped type %q", kinds[0])
		}
		t = ir.Prim(p)
	}
	if nullable {
		t = ir.Maybe(t)
	}
	return t, nil
}

func (tr *translator) object(name, description string, fields []ir.Field) ir.TypeRef {
	tr.types = append(tr.types, ir.TypeDescriptor{
		Name:        name,
		Kind:        ir.KindObject,
		Description: description,
		Fields:      fields,
		Range:       tr.since(),
	})
	return ir.RefTo(name)
}

func (tr *translator) enum(name, description string, values []string) ir.TypeRef {
	variants := make([]ir.Variant, 0, len(values))
	for _, v := range values {
		variants = append(variants, ir.Variant{Name: v})
	}
	tr.types = append(tr.types, ir.TypeDescriptor{
		Name:        name,
		Kind:        ir.KindEnum,
		Description: firstSentence(description),
		Variants:    variants,
		Range:       tr.since(),
	})
	return ir.RefTo(name)
}

// orderedKeys lists required properties in their declared order, then the
// optional ones alphabetically.
func orderedKeys(props map[string]rawProperty, required []string) []string {
	out := make([]string, 0, len(props))
	for _, r := range required {
		if _, ok := props[r]; ok && !contains(out, r) {
			out = append(out, r)
		}
	}
	var optional []string
	for k := range props {
		if !contains(required, k) {
			optional = append(optional, k)
		}
	}
	sort.Strings(optional)
	return append(out, optional...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}

func extract(src backend.Source, data []byte) (*backend.Extraction, error) {
	var export rawExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, &backend.ParseError{Implementation: ir.CoreLightning, Locator: src.Locator, Err: err}
	}
	if export.Methods == nil {
		return nil, &backend.ParseError{Implementation: ir.CoreLightning, Locator: src.Locator,
			Err: fmt.Errorf("missing %q object", "methods")}
	}

	var warnings []backend.Warning
	version := src.Version
	declared, derr := ir.ParseVersion(export.Version)
	switch {
	case version.IsZero() && derr != nil:
		return nil, &backend.ParseError{Implementation: ir.CoreLightning, Locator: src.Locator, Err: derr}
	case version.IsZero():
		version = declared
	case derr == nil && declared.Compare(version) != 0:
		warnings = append(warnings, backend.Warning{
			Source:  src.Locator,
			Subject: "version",
			Message: fmt.Sprintf("export declares %s, using %s from the manifest", declared, version),
		})
	}

	doc := ir.NewProtocolIR(ir.CoreLightning)
	doc.Versions = []ir.VersionInfo{{Version: version, ReleaseDate: export.ReleaseDate}}

	names := make([]string, 0, len(export.Methods))
	for k := range export.Methods {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			warnings = append(warnings, backend.Warning{Source: src.Locator, Subject: "methods", Message: "empty method name; skipped"})
			continue
		}
		tr := &translator{version: version}
		m, err := tr.method(name, export.Methods[name])
		if err != nil {
			warnings = append(warnings, backend.Warning{Source: src.Locator, Subject: name, Message: err.Error() + "; skipped"})
			continue
		}
		doc.Methods = append(doc.Methods, m)
		doc.Types = append(doc.Types, tr.types...)
	}

	doc.Sort()
	return &backend.Extraction{IR: doc, Warnings: warnings}, nil
}
