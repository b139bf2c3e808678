package codegen

import (
	"fmt"

	"github.com/roach88/ethos/internal/ir"
)

func typeDoc(goName string, t ir.SnapshotType) string {
	if t.Description != "" {
		return fmt.Sprintf("%s is the %s type. %s", goName, t.Name, t.Description)
	}
	return fmt.Sprintf("%s is the %s type.", goName, t.Name)
}

func (g *generator) typesFile() (*goSource, error) {
	src := newSource()
	for _, t := range g.snap.Types {
		name := g.typeNames[t.Name]
		src.printf("\n")
		src.comment("", typeDoc(name, t))

		var err error
		switch t.Kind {
		case ir.KindObject:
			err = g.object(src, name, t)
		case ir.KindEnum:
			err = g.enum(src, name, t)
		case ir.KindUnion:
			err = g.union(src, name, t)
		case ir.KindArray:
			elem := ir.Prim(ir.PrimAny)
			if t.Elem != nil {
				elem = *t.Elem
			}
			src.printf("type %s []%s\n", name, src.uses(g.goType(elem)))
		default:
			g.alias(src, name, t.Primitive)
		}
		if err != nil {
			return nil, err
		}
	}
	return src, nil
}

// alias renders a named primitive. json.Number and json.RawMessage are
// aliased rather than redefined so encoding/json keeps treating them
// specially.
func (g *generator) alias(src *goSource, name, primitive string) {
	goType, ok := primitiveTypes[primitive]
	if !ok {
		goType = "json.RawMessage"
	}
	src.uses(goType)
	if goType == "json.Number" || goType == "json.RawMessage" {
		src.printf("type %s = %s\n", name, goType)
		return
	}
	src.printf("type %s %s\n", name, goType)
}

func (g *generator) object(src *goSource, name string, t ir.SnapshotType) error {
	if len(t.Fields) == 0 {
		src.printf("type %s map[string]%s\n", name, src.uses("json.RawMessage"))
		return nil
	}
	seen := make(map[string]string)
	src.printf("type %s struct {\n", name)
	for _, f := range t.Fields {
		field := exportName(f.Name)
		if prev, ok := seen[field]; ok {
			return fmt.Errorf("type %s: fields %s and %s both map to Go field %s", t.Name, prev, f.Name, field)
		}
		seen[field] = f.Name

		goType := g.goType(f.Type)
		tag := f.Wire()
		if f.Required && g.recursive[t.Name+"\x00"+f.Type.Ref] {
			goType = "*" + goType
		}
		if !f.Required {
			goType = g.optional(goType)
			tag += ",omitempty"
		}
		if f.Description != "" {
			src.comment("\t", field+" is "+lowerFirst(f.Description))
		}
		src.printf("\t%s %s `json:%q`\n", field, src.uses(goType), tag)
	}
	src.printf("}\n")
	return nil
}

func (g *generator) enum(src *goSource, name string, t ir.SnapshotType) error {
	src.printf("type %s string\n\n", name)
	src.printf("const (\n")
	for _, v := range t.Variants {
		constName := name + exportName(v.Name)
		if err := g.claim(constName, "enum value "+t.Name+"."+v.Name); err != nil {
			return err
		}
		src.printf("\t%s %s = %q\n", constName, name, v.Name)
	}
	src.printf(")\n")
	return nil
}

func (g *generator) union(src *goSource, name string, t ir.SnapshotType) error {
	src.use("encoding/json")
	src.printf("type %s struct {\n\tjson.RawMessage\n}\n", name)

	seen := make(map[string]bool)
	for _, v := range t.Variants {
		if v.Type == nil {
			continue
		}
		accessor := "As" + exportName(v.Name)
		if seen[accessor] {
			return fmt.Errorf("type %s: variants collide on accessor %s", t.Name, accessor)
		}
		seen[accessor] = true

		goType := src.uses(g.goType(*v.Type))
		src.printf("\n// %s decodes the value as the %s variant.\n", accessor, v.Name)
		src.printf("func (u %s) %s() (%s, error) {\n", name, accessor, goType)
		src.printf("\tvar v %s\n", goType)
		src.printf("\terr := json.Unmarshal(u.RawMessage, &v)\n")
		src.printf("\treturn v, err\n}\n")
	}
	return nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if len(r) > 1 && r[1] >= 'A' && r[1] <= 'Z' {
		return s
	}
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] += 'a' - 'A'
	}
	return string(r)
}
