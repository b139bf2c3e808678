// Package assembler merges per-version draft fragments into one canonical
// ProtocolIR with widened version ranges.
//
// Fragments of the same version are merged first and must agree. Versions
// are then walked in order: a type whose kind changes is renamed per
// generation, a method whose shape changes incompatibly is split into
// descriptors with disjoint ranges, and optionality and default changes
// split only the affected parameter, with the later version's status
// holding from its introduction onward.
package assembler

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/ethos/internal/ir"
)

// Fragment is one adapter output and where it came from.
type Fragment struct {
	Source string
	IR     *ir.ProtocolIR
}

// Assemble merges fragments into a single document. The inputs are not
// modified. The result is sorted but not normalized or validated.
func Assemble(fragments []Fragment) (*ir.ProtocolIR, error) {
	if len(fragments) == 0 {
		return nil, ErrNoFragments
	}

	impl := fragments[0].IR.Implementation
	for _, f := range fragments[1:] {
		if f.IR.Implementation != impl {
			return nil, &ConflictError{
				Subject: SubjectImplementation,
				Name:    string(f.IR.Implementation),
				Sources: []string{fragments[0].Source, f.Source},
				Detail:  fmt.Sprintf("expected %s", impl),
			}
		}
	}

	layers, err := buildLayers(fragments)
	if err != nil {
		return nil, err
	}

	splitTypes(layers)

	out := ir.NewProtocolIR(impl)
	for _, l := range layers {
		out.Versions = append(out.Versions, l.info)
	}
	out.Methods = assembleMethods(layers)
	out.Types = assembleTypes(layers)
	out.Sort()
	return out, nil
}

type entry[T any] struct {
	value  T
	source string
}

// layer is everything known about one version.
type layer struct {
	version ir.Version
	info    ir.VersionInfo
	methods map[string]entry[ir.MethodDescriptor]
	types   map[string]entry[ir.TypeDescriptor]
}

func fragmentVersion(f Fragment) (ir.VersionInfo, error) {
	if f.IR == nil {
		return ir.VersionInfo{}, fmt.Errorf("fragment %s: no document", f.Source)
	}
	if len(f.IR.Versions) != 1 {
		return ir.VersionInfo{}, fmt.Errorf("fragment %s: declares %d versions, want exactly one", f.Source, len(f.IR.Versions))
	}
	return f.IR.Versions[0], nil
}

// buildLayers groups fragments by version and merges each group. Fragments
// are visited in (version, source) order so the result does not depend on
// the order they were passed in.
func buildLayers(fragments []Fragment) ([]*layer, error) {
	type versioned struct {
		Fragment
		info ir.VersionInfo
	}
	sorted := make([]versioned, 0, len(fragments))
	for _, f := range fragments {
		info, err := fragmentVersion(f)
		if err != nil {
			return nil, err
		}
		sorted = append(sorted, versioned{Fragment: f, info: info})
	}
	slices.SortStableFunc(sorted, func(a, b versioned) int {
		if c := a.info.Version.Compare(b.info.Version); c != 0 {
			return c
		}
		return strings.Compare(a.Source, b.Source)
	})

	var layers []*layer
	for _, f := range sorted {
		var l *layer
		if n := len(layers); n > 0 && layers[n-1].version.Compare(f.info.Version) == 0 {
			l = layers[n-1]
			if l.info.ReleaseDate == "" {
				l.info.ReleaseDate = f.info.ReleaseDate
			}
			if l.info.Note == "" {
				l.info.Note = f.info.Note
			}
		} else {
			l = &layer{
				version: f.info.Version,
				info:    f.info,
				methods: make(map[string]entry[ir.MethodDescriptor]),
				types:   make(map[string]entry[ir.TypeDescriptor]),
			}
			layers = append(layers, l)
		}
		if err := l.add(f.Fragment); err != nil {
			return nil, err
		}
	}
	return layers, nil
}

func (l *layer) add(f Fragment) error {
	for _, m := range f.IR.Methods {
		prev, ok := l.methods[m.Name]
		if !ok {
			l.methods[m.Name] = entry[ir.MethodDescriptor]{value: m.Clone(), source: f.Source}
			continue
		}
		if detail := diffMethod(prev.value, m); detail != "" {
			return &ConflictError{
				Subject: SubjectMethod,
				Name:    m.Name,
				Version: l.version,
				Sources: []string{prev.source, f.Source},
				Detail:  detail,
			}
		}
		if prev.value.Description == "" && m.Description != "" {
			prev.value.Description = m.Description
			l.methods[m.Name] = prev
		}
	}
	for _, t := range f.IR.Types {
		prev, ok := l.types[t.Name]
		if !ok {
			l.types[t.Name] = entry[ir.TypeDescriptor]{value: t.Clone(), source: f.Source}
			continue
		}
		if detail := diffType(prev.value, t); detail != "" {
			return &ConflictError{
				Subject: SubjectType,
				Name:    t.Name,
				Version: l.version,
				Sources: []string{prev.source, f.Source},
				Detail:  detail,
			}
		}
	}
	return nil
}

func sortedKeys[T any](layers []*layer, pick func(*layer) map[string]entry[T]) []string {
	seen := make(map[string]bool)
	var names []string
	for _, l := range layers {
		for name := range pick(l) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	slices.SortFunc(names, cmp.Compare[string])
	return names
}

func at(v ir.Version) *ir.Version { return &v }
