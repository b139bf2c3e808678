// Package extract projects a versioned ProtocolIR onto a single release.
package extract

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/ethos/internal/ir"
)

// VersionNotCoveredError is returned when no descriptor of the document
// covers the requested version, e.g. one older than the earliest release.
type VersionNotCoveredError struct {
	Implementation ir.Implementation
	Version        ir.Version
	Known          []ir.Version
}

func (e *VersionNotCoveredError) Error() string {
	known := make([]string, len(e.Known))
	for i, v := range e.Known {
		known[i] = v.String()
	}
	return fmt.Sprintf("version %s of %s is not covered (known: %s)", e.Version, e.Implementation, strings.Join(known, ", "))
}

// UnresolvedTypeError is returned when a descriptor that covers the version
// references a type that does not.
type UnresolvedTypeError struct {
	Version  ir.Version
	Type     string
	Referrer string
}

func (e *UnresolvedTypeError) Error() string {
	return fmt.Sprintf("at version %s: %s references type %s, which does not exist at that version", e.Version, e.Referrer, e.Type)
}

// IsVersionNotCovered reports whether err is (or wraps) a
// VersionNotCoveredError.
func IsVersionNotCovered(err error) bool {
	var ve *VersionNotCoveredError
	return errors.As(err, &ve)
}

// Extract returns the snapshot of doc at version v. Params are renumbered
// densely from zero in their assembled order and every TypeRef is checked
// against the types that exist at v.
func Extract(doc *ir.ProtocolIR, v ir.Version) (*ir.VersionSnapshot, error) {
	snap := &ir.VersionSnapshot{
		SchemaVersion:  doc.SchemaVersion,
		Implementation: doc.Implementation,
		Version:        v,
		Methods:        []ir.SnapshotMethod{},
		Types:          []ir.SnapshotType{},
	}

	covered := false
	present := make(map[string]bool)
	for _, t := range doc.Types {
		if !t.Range.Covers(v) {
			continue
		}
		covered = true
		present[t.Name] = true
		snap.Types = append(snap.Types, snapshotType(t, v))
	}
	for _, m := range doc.Methods {
		if !m.Range.Covers(v) {
			continue
		}
		covered = true
		snap.Methods = append(snap.Methods, snapshotMethod(m, v))
	}
	if !covered {
		return nil, &VersionNotCoveredError{Implementation: doc.Implementation, Version: v, Known: doc.KnownVersions()}
	}

	if err := resolve(snap, present); err != nil {
		return nil, err
	}

	slices.SortStableFunc(snap.Methods, func(a, b ir.SnapshotMethod) int { return strings.Compare(a.Name, b.Name) })
	slices.SortStableFunc(snap.Types, func(a, b ir.SnapshotType) int { return strings.Compare(a.Name, b.Name) })
	return snap, nil
}

func snapshotMethod(m ir.MethodDescriptor, v ir.Version) ir.SnapshotMethod {
	sm := ir.SnapshotMethod{
		Name:        m.Name,
		WireName:    m.WireName,
		Category:    m.Category,
		Description: m.Description,
		Params:      []ir.SnapshotParam{},
		Deprecated:  m.Deprecated,
	}
	if m.Result != nil {
		r := *m.Result
		sm.Result = &r
	}

	params := slices.Clone(m.Params)
	slices.SortStableFunc(params, func(a, b ir.ParamDescriptor) int { return a.Position - b.Position })
	for _, p := range params {
		if !p.Range.Covers(v) {
			continue
		}
		sm.Params = append(sm.Params, ir.SnapshotParam{
			Name:        p.Name,
			WireName:    p.WireName,
			Type:        p.Type,
			Required:    p.Required,
			Default:     p.Default,
			Position:    len(sm.Params),
			Description: p.Description,
		})
	}
	return sm
}

func snapshotType(t ir.TypeDescriptor, v ir.Version) ir.SnapshotType {
	st := ir.SnapshotType{
		Name:        t.Name,
		Kind:        t.Kind,
		Description: t.Description,
		Primitive:   t.Primitive,
		Elem:        t.Elem,
		Variants:    slices.Clone(t.Variants),
	}
	for _, f := range t.Fields {
		if !f.Range.Covers(v) {
			continue
		}
		st.Fields = append(st.Fields, ir.SnapshotField{
			Name:        f.Name,
			WireName:    f.WireName,
			Type:        f.Type,
			Required:    f.Required,
			Default:     f.Default,
			Description: f.Description,
		})
	}
	return st
}

func resolve(snap *ir.VersionSnapshot, present map[string]bool) error {
	check := func(referrer string, t ir.TypeRef) error {
		for _, name := range t.Refs() {
			if !present[name] {
				return &UnresolvedTypeError{Version: snap.Version, Type: name, Referrer: referrer}
			}
		}
		return nil
	}
	for _, m := range snap.Methods {
		for _, p := range m.Params {
			if err := check("param "+m.Name+"."+p.Name, p.Type); err != nil {
				return err
			}
		}
		if m.Result != nil {
			if err := check("method "+m.Name+" result", *m.Result); err != nil {
				return err
			}
		}
	}
	for _, t := range snap.Types {
		if t.Elem != nil {
			if err := check("type "+t.Name, *t.Elem); err != nil {
				return err
			}
		}
		for _, f := range t.Fields {
			if err := check("field "+t.Name+"."+f.Name, f.Type); err != nil {
				return err
			}
		}
		for _, v := range t.Variants {
			if v.Type != nil {
				if err := check("type "+t.Name+" variant "+v.Name, *v.Type); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
