package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/ethos/internal/ir"
)

// arg is one param as it appears in the generated method.
type arg struct {
	param ir.SnapshotParam
	local string // Go argument name, required params only
	field string // options field name, optional params only
	typ   string
	deref bool // options field is a pointer to typ
}

func (g *generator) methodsFile(methods []ir.SnapshotMethod) (*goSource, error) {
	src := newSource()
	src.use("context")
	for _, m := range methods {
		if err := g.method(src, m); err != nil {
			return nil, err
		}
	}
	return src, nil
}

func (g *generator) method(src *goSource, m ir.SnapshotMethod) error {
	name := exportName(m.Name)
	if err := g.claim(name, "method "+m.Name); err != nil {
		return err
	}
	optsType := name + "Options"

	taken := make(map[string]bool)
	fields := make(map[string]string)
	var args []arg
	var required, optional []int
	for _, p := range m.Params {
		a := arg{param: p, typ: g.goType(p.Type)}
		if p.Required {
			a.local = localName(p.Name, taken)
			required = append(required, len(args))
		} else {
			a.field = exportName(p.Name)
			if prev, ok := fields[a.field]; ok {
				return fmt.Errorf("method %s: params %s and %s both map to option %s", m.Name, prev, p.Name, a.field)
			}
			fields[a.field] = p.Name
			a.deref = !g.isNilable(a.typ)
			optional = append(optional, len(args))
		}
		args = append(args, a)
	}

	if len(optional) > 0 {
		if err := g.claim(optsType, "options of method "+m.Name); err != nil {
			return err
		}
		src.printf("\n// %s holds the optional parameters of %s. Nil fields are not sent.\n", optsType, name)
		src.printf("type %s struct {\n", optsType)
		for _, i := range optional {
			a := args[i]
			doc := a.param.Description
			if a.param.Default != nil {
				doc = strings.TrimSpace(sentence(doc) + fmt.Sprintf(" The node defaults to %s.", a.param.Default))
			}
			if doc != "" {
				src.comment("\t", a.field+": "+doc)
			}
			typ := a.typ
			if a.deref {
				typ = "*" + typ
			}
			src.printf("\t%s %s\n", a.field, src.uses(typ))
		}
		src.printf("}\n")
	}

	// Signature.
	src.printf("\n")
	src.comment("", fmt.Sprintf("%s calls %s.", name, m.Wire()))
	if m.Description != "" {
		src.printf("//\n")
		src.comment("", m.Description)
	}
	if m.Deprecated {
		src.printf("//\n// Deprecated: the node marks %s as deprecated.\n", m.Wire())
	}
	sig := []string{"ctx context.Context"}
	for _, i := range required {
		sig = append(sig, args[i].local+" "+src.uses(args[i].typ))
	}
	if len(optional) > 0 {
		sig = append(sig, "opts *"+optsType)
	}
	result := ""
	if m.Result != nil {
		result = src.uses(g.goType(*m.Result))
	}
	if result != "" {
		src.printf("func (c *Client) %s(%s) (%s, error) {\n", name, strings.Join(sig, ", "), result)
	} else {
		src.printf("func (c *Client) %s(%s) error {\n", name, strings.Join(sig, ", "))
	}

	// Body.
	var params string
	if g.opts.Dialect == Named {
		params = g.namedParams(src, args, optional)
	} else {
		params = g.positionalParams(src, args, optional)
	}
	if result == "" {
		src.printf("\treturn c.call(ctx, %q, %s, nil)\n}\n", m.Wire(), params)
		return nil
	}
	src.printf("\tvar out %s\n", result)
	src.printf("\terr := c.call(ctx, %q, %s, &out)\n", m.Wire(), params)
	src.printf("\treturn out, err\n}\n")
	return nil
}

func optionValue(a arg) string {
	if a.deref {
		return "*opts." + a.field
	}
	return "opts." + a.field
}

func (g *generator) positionalParams(src *goSource, args []arg, optional []int) string {
	values := make([]string, len(args))
	set := make([]string, len(args))
	for i, a := range args {
		switch {
		case a.param.Required:
			values[i], set[i] = a.local, "true"
		case a.param.Default != nil:
			src.use("encoding/json")
			values[i], set[i] = "json.RawMessage("+strconv.Quote(a.param.Default.String())+")", "false"
		default:
			values[i], set[i] = "nil", "false"
		}
	}
	src.printf("\targs := []any{%s}\n", strings.Join(values, ", "))
	if len(optional) == 0 {
		return "args"
	}

	g.usesTrim = true
	src.printf("\tset := []bool{%s}\n", strings.Join(set, ", "))
	src.printf("\tif opts != nil {\n")
	for _, i := range optional {
		a := args[i]
		src.printf("\t\tif opts.%s != nil {\n", a.field)
		src.printf("\t\t\targs[%d], set[%d] = %s, true\n", i, i, optionValue(a))
		src.printf("\t\t}\n")
	}
	src.printf("\t}\n")
	return "positional(args, set)"
}

func (g *generator) namedParams(src *goSource, args []arg, optional []int) string {
	src.printf("\tparams := map[string]any{")
	var required []string
	for _, a := range args {
		if a.param.Required {
			required = append(required, fmt.Sprintf("%q: %s", a.param.Wire(), a.local))
		}
	}
	if len(required) > 0 {
		src.printf("\n")
		for _, r := range required {
			src.printf("\t\t%s,\n", r)
		}
		src.printf("\t")
	}
	src.printf("}\n")
	if len(optional) > 0 {
		src.printf("\tif opts != nil {\n")
		for _, i := range optional {
			a := args[i]
			src.printf("\t\tif opts.%s != nil {\n", a.field)
			src.printf("\t\t\tparams[%q] = %s\n", a.param.Wire(), optionValue(a))
			src.printf("\t\t}\n")
		}
		src.printf("\t}\n")
	}
	return "params"
}

func (g *generator) clientFile() *goSource {
	src := newSource()
	src.use("context")
	src.use("encoding/json")
	src.printf(`
// Version is the %[1]s release this client was generated for.
const Version = %[2]q

// Caller performs one JSON-RPC call and returns the raw result.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Client is a typed %[1]s %[3]s client.
type Client struct {
	caller Caller
}

// New returns a Client that sends every call through caller.
func New(caller Caller) *Client {
	return &Client{caller: caller}
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	raw, err := c.caller.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}
`, g.snap.Implementation, g.snap.Version.String(), g.snap.Version)

	if g.usesTrim {
		src.printf(`
// positional drops trailing params the caller left unset.
func positional(args []any, set []bool) []any {
	n := len(args)
	for n > 0 && !set[n-1] {
		n--
	}
	return args[:n]
}
`)
	}
	return src
}

// sentence terminates s with a period unless it already ends a sentence.
func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?") {
		return s
	}
	return s + "."
}
