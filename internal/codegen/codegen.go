// Package codegen renders a VersionSnapshot as a typed Go client package.
//
// Output is a pure function of the snapshot and options: files come out
// gofmt'ed, in a fixed order, and byte-for-byte identical across runs.
// Required params are positional Go arguments; optional params travel in a
// trailing *<Method>Options struct.
package codegen

import (
	"errors"
	"fmt"
	"go/format"
	"go/token"
	"slices"
	"strings"

	"github.com/roach88/ethos/internal/ir"
)

// TargetGo is the only supported target.
const TargetGo = "go"

// ErrUnsupportedTarget is returned for targets other than TargetGo.
var ErrUnsupportedTarget = errors.New("unsupported codegen target")

// Dialect selects how params go on the wire.
type Dialect string

const (
	// Positional sends a JSON array, filling gaps before a set optional
	// param with its default (or null) and trimming unset trailing ones.
	Positional Dialect = "positional"
	// Named sends a JSON object keyed by wire name.
	Named Dialect = "named"
)

// Options controls generation.
type Options struct {
	// Package is the generated package name. Defaults to the
	// implementation identifier without underscores.
	Package string
	Dialect Dialect
}

// File is one generated file, path relative to the output directory.
type File struct {
	Path    string
	Content []byte
}

// ChecksumFile lists a BLAKE3 digest for every other generated file.
const ChecksumFile = "checksums.txt"

// Generate renders snap for target.
func Generate(snap *ir.VersionSnapshot, target string, opts Options) ([]File, error) {
	if target != TargetGo {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTarget, target)
	}
	if opts.Package == "" {
		opts.Package = strings.ReplaceAll(string(snap.Implementation), "_", "")
	}
	if !token.IsIdentifier(opts.Package) || token.IsKeyword(opts.Package) {
		return nil, fmt.Errorf("invalid package name %q", opts.Package)
	}
	switch opts.Dialect {
	case "":
		opts.Dialect = Positional
	case Positional, Named:
	default:
		return nil, fmt.Errorf("unknown dialect %q", opts.Dialect)
	}

	hash, err := snap.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash snapshot: %w", err)
	}
	g := &generator{
		snap: snap,
		opts: opts,
		header: fmt.Sprintf("// Code generated by ethos from %s %s. DO NOT EDIT.\n// Snapshot: %s\n",
			snap.Implementation, snap.Version, hash),
		typeNames: make(map[string]string),
		nilable:   make(map[string]bool),
		claimed:   make(map[string]string),
		recursive: recursiveEdges(snap),
	}
	for _, name := range []string{"Caller", "Client", "New", "Version"} {
		g.claimed[name] = "client"
	}
	return g.run()
}

type generator struct {
	snap      *ir.VersionSnapshot
	opts      Options
	header    string
	typeNames map[string]string
	nilable   map[string]bool
	claimed   map[string]string
	recursive map[string]bool
	usesTrim  bool
}

func (g *generator) claim(name, owner string) error {
	if prev, ok := g.claimed[name]; ok {
		return fmt.Errorf("generated name %s for %s collides with %s", name, owner, prev)
	}
	g.claimed[name] = owner
	return nil
}

func (g *generator) run() ([]File, error) {
	for _, t := range g.snap.Types {
		name := exportName(t.Name)
		if err := g.claim(name, "type "+t.Name); err != nil {
			return nil, err
		}
		g.typeNames[t.Name] = name
		if t.Kind == ir.KindArray || (t.Kind == ir.KindObject && len(t.Fields) == 0) {
			g.nilable[name] = true
		}
	}

	var files []File
	if len(g.snap.Types) > 0 {
		src, err := g.typesFile()
		if err != nil {
			return nil, err
		}
		f, err := g.goFile("types.go", src)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	groups := g.categories()
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		src, err := g.methodsFile(groups[name])
		if err != nil {
			return nil, err
		}
		f, err := g.goFile(name, src)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	// client.go last: whether it needs the positional helper depends on
	// the methods.
	client, err := g.goFile("client.go", g.clientFile())
	if err != nil {
		return nil, err
	}
	files = append(files, client)

	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	files = append(files, checksums(files))
	return files, nil
}

// categories groups methods by output file name.
func (g *generator) categories() map[string][]ir.SnapshotMethod {
	out := make(map[string][]ir.SnapshotMethod)
	for _, m := range g.snap.Methods {
		name := categoryFile(m.Category)
		out[name] = append(out[name], m)
	}
	return out
}

func categoryFile(category string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(category) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	switch {
	case name == "":
		name = "misc"
	case name == "client", name == "types", strings.HasSuffix(name, "_test"),
		name[0] >= '0' && name[0] <= '9':
		name += "_rpc"
	}
	return name + ".go"
}

// goFile adds the header, package clause and imports, then gofmt's.
func (g *generator) goFile(path string, src *goSource) (File, error) {
	var b strings.Builder
	b.WriteString(g.header)
	fmt.Fprintf(&b, "\npackage %s\n", g.opts.Package)

	imports := src.importList()
	if len(imports) > 0 {
		b.WriteString("\nimport (\n")
		for _, imp := range imports {
			fmt.Fprintf(&b, "\t%q\n", imp)
		}
		b.WriteString(")\n")
	}
	b.WriteString(src.String())

	formatted, err := format.Source([]byte(b.String()))
	if err != nil {
		return File{}, fmt.Errorf("format %s: %w", path, err)
	}
	return File{Path: path, Content: formatted}, nil
}
