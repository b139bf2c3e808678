package codegen

import (
	"fmt"
	"go/token"
	"slices"
	"strings"
	"unicode"

	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/normalize"
)

// goSource accumulates a file body and the imports it needs.
type goSource struct {
	strings.Builder
	imports map[string]bool
}

func newSource() *goSource {
	return &goSource{imports: make(map[string]bool)}
}

func (s *goSource) printf(format string, args ...any) {
	fmt.Fprintf(s, format, args...)
}

func (s *goSource) use(pkg string) { s.imports[pkg] = true }

// uses records the imports a rendered Go type needs.
func (s *goSource) uses(goType string) string {
	if strings.Contains(goType, "json.") {
		s.use("encoding/json")
	}
	return goType
}

func (s *goSource) importList() []string {
	out := make([]string, 0, len(s.imports))
	for imp := range s.imports {
		out = append(out, imp)
	}
	slices.Sort(out)
	return out
}

// comment writes text as line comments at the given indent.
func (s *goSource) comment(indent, text string) {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			s.printf("%s//\n", indent)
			continue
		}
		s.printf("%s// %s\n", indent, line)
	}
}

// exportName turns an IR name into an exported Go identifier.
func exportName(name string) string {
	out := normalize.CasePascal.Apply(name)
	if out == "" {
		return "X"
	}
	if r := []rune(out)[0]; !unicode.IsLetter(r) {
		out = "X" + out
	}
	return out
}

var reservedLocals = []string{"c", "ctx", "opts", "args", "set", "params", "out", "err"}

// localName turns a param name into an unexported identifier that does not
// shadow the generated method's own locals.
func localName(name string, taken map[string]bool) string {
	out := normalize.CaseCamel.Apply(name)
	if out == "" {
		out = "arg"
	}
	if r := []rune(out)[0]; !unicode.IsLetter(r) {
		out = "arg" + out
	}
	if token.IsKeyword(out) || slices.Contains(reservedLocals, out) || isPredeclared(out) {
		out += "Arg"
	}
	base := out
	for i := 2; taken[out]; i++ {
		out = fmt.Sprintf("%s%d", base, i)
	}
	taken[out] = true
	return out
}

func isPredeclared(s string) bool {
	switch s {
	case "any", "bool", "string", "int", "int64", "len", "cap", "new", "make", "nil", "true", "false", "error", "append", "copy":
		return true
	}
	return false
}

var primitiveTypes = map[string]string{
	ir.PrimString:    "string",
	ir.PrimHex:       "string",
	ir.PrimInteger:   "int64",
	ir.PrimTimestamp: "int64",
	ir.PrimNumber:    "json.Number",
	ir.PrimAmount:    "json.Number",
	ir.PrimBoolean:   "bool",
	ir.PrimAny:       "json.RawMessage",
}

// goType renders a TypeRef. Inline unions have no Go counterpart and stay
// raw JSON.
func (g *generator) goType(t ir.TypeRef) string {
	switch {
	case t.Ref != "":
		if name, ok := g.typeNames[t.Ref]; ok {
			return name
		}
		return "json.RawMessage"
	case t.Primitive != "":
		if p, ok := primitiveTypes[t.Primitive]; ok {
			return p
		}
		return "json.RawMessage"
	case t.ArrayOf != nil:
		return "[]" + g.goType(*t.ArrayOf)
	case t.OptionalOf != nil:
		return g.optional(g.goType(*t.OptionalOf))
	default:
		return "json.RawMessage"
	}
}

// optional returns the type used for a value that may be absent.
func (g *generator) optional(goType string) string {
	if g.isNilable(goType) {
		return goType
	}
	return "*" + goType
}

func (g *generator) isNilable(goType string) bool {
	return strings.HasPrefix(goType, "[]") || strings.HasPrefix(goType, "*") ||
		strings.HasPrefix(goType, "map[") || goType == "json.RawMessage" || g.nilable[goType]
}
