package bitcoincore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/ir"
)

// rawSchema is Bitcoin Core's schema.json export.
type rawSchema struct {
	Version      string               `json:"version"`
	VersionMajor *int                 `json:"version_major"`
	VersionMinor *int                 `json:"version_minor"`
	VersionBuild *int                 `json:"version_build"`
	TimestampMS  *int64               `json:"timestamp_ms"`
	RPCs         map[string]rawMethod `json:"rpcs"`
}

type rawMethod struct {
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Examples      json.RawMessage `json:"examples"`
	ArgumentNames []string        `json:"argument_names"`
	Arguments     []rawArgument   `json:"arguments"`
	Results       []rawResult     `json:"results"`
}

type rawArgument struct {
	Names              []string        `json:"names"`
	Description        string          `json:"description"`
	OnelineDescription string          `json:"oneline_description"`
	AlsoPositional     bool            `json:"also_positional"`
	TypeStr            []string        `json:"type_str"`
	Required           bool            `json:"required"`
	Default            json.RawMessage `json:"default"`
	DefaultHint        string          `json:"default_hint"`
	Hidden             bool            `json:"hidden"`
	Type               string          `json:"type"`
	Inner              []rawArgument   `json:"inner"`
}

type rawResult struct {
	Type          string      `json:"type"`
	Optional      bool        `json:"optional"`
	Description   string      `json:"description"`
	SkipTypeCheck bool        `json:"skip_type_check"`
	KeyName       string      `json:"key_name"`
	Condition     string      `json:"condition"`
	Inner         []rawResult `json:"inner"`
}

// version returns the version the schema declares, if any.
func (s *rawSchema) version() (ir.Version, bool) {
	if s.Version != "" {
		if v, err := ir.ParseVersion(s.Version); err == nil {
			return v, true
		}
	}
	if s.VersionMajor != nil && s.VersionMinor != nil {
		text := fmt.Sprintf("%d.%d", *s.VersionMajor, *s.VersionMinor)
		if s.VersionBuild != nil && *s.VersionBuild != 0 {
			text = fmt.Sprintf("%s.%d", text, *s.VersionBuild)
		}
		if v, err := ir.ParseVersion(text); err == nil {
			return v, true
		}
	}
	return ir.Version{}, false
}

func (s *rawSchema) releaseDate() string {
	if s.TimestampMS == nil || *s.TimestampMS <= 0 {
		return ""
	}
	return time.UnixMilli(*s.TimestampMS).UTC().Format(time.DateOnly)
}

// unsupportedTypeError marks a raw type the adapter does not map; the whole
// method is skipped with a warning.
type unsupportedTypeError struct {
	Where string
	Type  string
}

func (e *unsupportedTypeError) Error() string {
	return fmt.Sprintf("%s: unmapped type %q", e.Where, e.Type)
}

// primitiveFor maps the schema's scalar type names.
func primitiveFor(t string) (string, bool) {
	switch t {
	case "string":
		return ir.PrimString, true
	case "number":
		return ir.PrimNumber, true
	case "boolean", "bool":
		return ir.PrimBoolean, true
	case "amount":
		return ir.PrimAmount, true
	case "hex", "string_hex":
		return ir.PrimHex, true
	case "timestamp":
		return ir.PrimTimestamp, true
	case "any":
		return ir.PrimAny, true
	}
	return "", false
}

func isObject(t string) bool {
	switch t {
	case "object", "object_dynamic", "object_user_keys", "object_named_params":
		return true
	}
	return false
}

// translator turns one method's raw entries into IR, collecting the named
// types it mints.
type translator struct {
	version ir.Version
	types   []ir.TypeDescriptor
}

func (tr *translator) since() ir.VersionRange { return ir.Since(tr.version) }

func (tr *translator) method(raw rawMethod) (ir.MethodDescriptor, error) {
	m := ir.MethodDescriptor{
		Name:        raw.Name,
		Category:    raw.Category,
		Description: firstLine(raw.Description),
		Deprecated:  strings.Contains(raw.Description, "DEPRECATED"),
		Params:      []ir.ParamDescriptor{},
		Range:       tr.since(),
	}

	for _, arg := range raw.Arguments {
		if arg.Hidden && !arg.Required {
			continue
		}
		if len(arg.Names) == 0 || arg.Names[0] == "" {
			return m, fmt.Errorf("argument %d has no name", len(m.Params))
		}
		name := arg.Names[0]
		t, err := tr.argType(raw.Name+"_"+name, arg)
		if err != nil {
			return m, err
		}
		p := ir.ParamDescriptor{
			Name:        name,
			Type:        t,
			Required:    arg.Required,
			Position:    len(m.Params),
			Description: describe(arg.OnelineDescription, arg.Description),
			Range:       tr.since(),
		}
		if !arg.Required && len(arg.Default) > 0 {
			lit, err := ir.UnmarshalIRValue(arg.Default)
			if err != nil {
				return m, fmt.Errorf("argument %s: default: %w", name, err)
			}
			p.Default = ir.Lit(lit)
		}
		m.Params = append(m.Params, p)
	}

	result, err := tr.resultType(raw.Name+"_result", raw.Results)
	if err != nil {
		return m, err
	}
	m.Result = result
	return m, nil
}

func (tr *translator) argType(name string, arg rawArgument) (ir.TypeRef, error) {
	switch {
	case isObject(arg.Type):
		if len(arg.Inner) == 0 {
			return ir.Prim(ir.PrimAny), nil
		}
		fields := make([]ir.Field, 0, len(arg.Inner))
		for _, inner := range arg.Inner {
			if len(inner.Names) == 0 {
				continue
			}
			ft, err := tr.argType(name+"_"+inner.Names[0], inner)
			if err != nil {
				return ir.TypeRef{}, err
			}
			f := ir.Field{
				Name:        inner.Names[0],
				Type:        ft,
				Required:    inner.Required,
				Description: describe(inner.OnelineDescription, inner.Description),
				Range:       tr.since(),
			}
			if !inner.Required && len(inner.Default) > 0 {
				if lit, err := ir.UnmarshalIRValue(inner.Default); err == nil {
					f.Default = ir.Lit(lit)
				}
			}
			fields = append(fields, f)
		}
		return tr.object(name, firstLine(arg.Description), fields), nil
	case arg.Type == "array":
		if len(arg.Inner) == 0 {
			return ir.ListOf(ir.Prim(ir.PrimAny)), nil
		}
		if len(arg.Inner) > 1 {
			variants := make([]ir.TypeRef, 0, len(arg.Inner))
			for i, inner := range arg.Inner {
				vt, err := tr.argType(fmt.Sprintf("%s_item%d", name, i), inner)
				if err != nil {
					return ir.TypeRef{}, err
				}
				variants = append(variants, vt)
			}
			return ir.ListOf(ir.OneOf(variants...)), nil
		}
		elem, err := tr.argType(name+"_item", arg.Inner[0])
		if err != nil {
			return ir.TypeRef{}, err
		}
		return ir.ListOf(elem), nil
	case arg.Type == "range":
		return ir.OneOf(ir.Prim(ir.PrimInteger), ir.ListOf(ir.Prim(ir.PrimInteger))), nil
	}
	if p, ok := primitiveFor(arg.Type); ok {
		return ir.Prim(p), nil
	}
	return ir.TypeRef{}, &unsupportedTypeError{Where: name, Type: arg.Type}
}

// resultType maps the result alternatives. "none" alternatives make the
// result optional; several real alternatives become a named union.
func (tr *translator) resultType(name string, results []rawResult) (*ir.TypeRef, error) {
	var real []rawResult
	hasNone := false
	for _, r := range results {
		if r.Type == "none" {
			hasNone = true
			continue
		}
		real = append(real, r)
	}
	if len(real) == 0 {
		return nil, nil
	}

	var t ir.TypeRef
	if len(real) == 1 {
		var err error
		t, err = tr.resultRef(name, real[0])
		if err != nil {
			return nil, err
		}
	} else {
		variants := make([]ir.Variant, 0, len(real))
		for i, r := range real {
			vt, err := tr.resultRef(fmt.Sprintf("%s_%d", name, i), r)
			if err != nil {
				return nil, err
			}
			variants = append(variants, ir.Variant{Name: fmt.Sprintf("%s_%d", r.Type, i), Type: &vt})
		}
		tr.types = append(tr.types, ir.TypeDescriptor{
			Name:     name,
			Kind:     ir.KindUnion,
			Variants: variants,
			Range:    tr.since(),
		})
		t = ir.RefTo(name)
	}
	if hasNone {
		t = ir.Maybe(t)
	}
	return &t, nil
}

func (tr *translator) resultRef(name string, r rawResult) (ir.TypeRef, error) {
	switch {
	case isObject(r.Type):
		var fields []ir.Field
		for _, inner := range r.Inner {
			if inner.Type == "elision" || inner.KeyName == "" {
				continue
			}
			ft, err := tr.resultRef(name+"_"+inner.KeyName, inner)
			if err != nil {
				return ir.TypeRef{}, err
			}
			fields = append(fields, ir.Field{
				Name:        inner.KeyName,
				Type:        ft,
				Required:    !inner.Optional,
				Description: firstLine(inner.Description),
				Range:       tr.since(),
			})
		}
		if len(fields) == 0 {
			// Dynamic keys (OBJ_DYN) or an undocumented object.
			return ir.Prim(ir.PrimAny), nil
		}
		return tr.object(name, firstLine(r.Description), fields), nil
	case r.Type == "array":
		var elems []rawResult
		for _, inner := range r.Inner {
			if inner.Type != "elision" {
				elems = append(elems, inner)
			}
		}
		if len(elems) == 0 {
			return ir.ListOf(ir.Prim(ir.PrimAny)), nil
		}
		elem, err := tr.resultRef(name+"_item", elems[0])
		if err != nil {
			return ir.TypeRef{}, err
		}
		return ir.ListOf(elem), nil
	}
	if p, ok := primitiveFor(r.Type); ok {
		return ir.Prim(p), nil
	}
	return ir.TypeRef{}, &unsupportedTypeError{Where: name, Type: r.Type}
}

func (tr *translator) object(name, description string, fields []ir.Field) ir.TypeRef {
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	tr.types = append(tr.types, ir.TypeDescriptor{
		Name:        name,
		Kind:        ir.KindObject,
		Description: description,
		Fields:      fields,
		Range:       tr.since(),
	})
	return ir.RefTo(name)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func describe(oneline, full string) string {
	if oneline != "" {
		return firstLine(oneline)
	}
	return firstLine(full)
}

// extract builds the draft fragment. Methods that cannot be translated are
// skipped and reported.
func extract(src backend.Source, data []byte) (*backend.Extraction, error) {
	var schema rawSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, &backend.ParseError{Implementation: ir.BitcoinCore, Locator: src.Locator, Err: err}
	}
	if schema.RPCs == nil {
		return nil, &backend.ParseError{Implementation: ir.BitcoinCore, Locator: src.Locator,
			Err: fmt.Errorf("missing %q object", "rpcs")}
	}

	var warnings []backend.Warning
	version := src.Version
	declared, ok := schema.version()
	switch {
	case version.IsZero() && !ok:
		return nil, &backend.ParseError{Implementation: ir.BitcoinCore, Locator: src.Locator,
			Err: fmt.Errorf("schema declares no version and none was supplied")}
	case version.IsZero():
		version = declared
	case ok && declared.Compare(version) != 0:
		warnings = append(warnings, backend.Warning{
			Source:  src.Locator,
			Subject: "version",
			Message: fmt.Sprintf("schema declares %s, using %s from the manifest", declared, version),
		})
	}

	doc := ir.NewProtocolIR(ir.BitcoinCore)
	doc.Versions = []ir.VersionInfo{{Version: version, ReleaseDate: schema.releaseDate()}}

	keys := make([]string, 0, len(schema.RPCs))
	for k := range schema.RPCs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := schema.RPCs[key]
		if raw.Name == "" {
			raw.Name = key
		}
		if raw.Category == "" {
			warnings = append(warnings, backend.Warning{Source: src.Locator, Subject: key, Message: "missing category; skipped"})
			continue
		}
		tr := &translator{version: version}
		m, err := tr.method(raw)
		if err != nil {
			warnings = append(warnings, backend.Warning{Source: src.Locator, Subject: key, Message: err.Error() + "; skipped"})
			continue
		}
		doc.Methods = append(doc.Methods, m)
		doc.Types = append(doc.Types, tr.types...)
	}

	doc.Sort()
	return &backend.Extraction{IR: doc, Warnings: warnings}, nil
}
