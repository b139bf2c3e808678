package assembler

import (
	"fmt"
	"slices"

	"github.com/roach88/ethos/internal/ir"
)

// segment is one stretch of versions over which a param or field keeps the
// same required flag, default and type.
type segment[T any] struct {
	value T
	from  ir.Version
	to    *ir.Version
}

// slot is a named member (param or field) and its segments, oldest first.
type slot[T any] struct {
	name     string
	segments []segment[T]
}

func (s *slot[T]) open() *segment[T] {
	if n := len(s.segments); n > 0 && s.segments[n-1].to == nil {
		return &s.segments[n-1]
	}
	return nil
}

func (s *slot[T]) start(value T, v ir.Version) {
	s.segments = append(s.segments, segment[T]{value: value, from: v})
}

func (s *slot[T]) close(v ir.Version) {
	if seg := s.open(); seg != nil {
		seg.to = at(v)
	}
}

// slotList keeps members in merged order. A member first seen in a later
// version is placed right after its predecessor in that version.
type slotList[T any] struct {
	slots []*slot[T]
}

func (l *slotList[T]) find(name string) (int, *slot[T]) {
	for i, s := range l.slots {
		if s.name == name {
			return i, s
		}
	}
	return -1, nil
}

// observe records the members present at version v. same reports whether
// an open segment can absorb a member unchanged; otherwise the segment is
// closed and a new one opened. Members missing at v are closed.
func (l *slotList[T]) observe(v ir.Version, names []string, values []T, same func(old, cur T) bool, refresh func(old *T, cur T)) {
	present := make(map[string]bool, len(names))
	insertAt := 0
	for i, name := range names {
		present[name] = true
		idx, s := l.find(name)
		if s == nil {
			s = &slot[T]{name: name}
			l.slots = slices.Insert(l.slots, insertAt, s)
			idx = insertAt
		}
		insertAt = idx + 1

		seg := s.open()
		switch {
		case seg == nil:
			s.start(values[i], v)
		case !same(seg.value, values[i]):
			s.close(v)
			s.start(values[i], v)
		default:
			refresh(&seg.value, values[i])
		}
	}
	for _, s := range l.slots {
		if !present[s.name] {
			s.close(v)
		}
	}
}

func (l *slotList[T]) closeAll(v ir.Version) {
	for _, s := range l.slots {
		s.close(v)
	}
}

// methodRun accumulates consecutive versions of a method whose shape stays
// compatible.
type methodRun struct {
	latest ir.MethodDescriptor
	from   ir.Version
	to     *ir.Version
	params slotList[ir.ParamDescriptor]
}

func newMethodRun(m ir.MethodDescriptor, v ir.Version) *methodRun {
	r := &methodRun{latest: m, from: v}
	r.observe(m, v)
	return r
}

func sameParam(old, cur ir.ParamDescriptor) bool {
	return old.Required == cur.Required && old.Default.Equal(cur.Default)
}

func refreshParam(old *ir.ParamDescriptor, cur ir.ParamDescriptor) {
	old.Description = cur.Description
	if cur.WireName != "" {
		old.WireName = cur.WireName
	}
}

func (r *methodRun) observe(m ir.MethodDescriptor, v ir.Version) {
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.Name
	}
	r.params.observe(v, names, m.Params, sameParam, refreshParam)
	r.latest = m
}

// incompatibility explains why m cannot continue the run, or returns "".
func (r *methodRun) incompatibility(m ir.MethodDescriptor) string {
	if d := diffHeader(r.latest, m); d != "" {
		return d
	}
	last := -1
	for _, p := range m.Params {
		idx, s := r.params.find(p.Name)
		if s == nil {
			continue
		}
		if t := s.segments[0].value.Type; !t.Equal(p.Type) {
			return fmt.Sprintf("param %s: type %s became %s", p.Name, t, p.Type)
		}
		if idx < last {
			return fmt.Sprintf("param %s moved", p.Name)
		}
		last = idx
	}
	return ""
}

func diffHeader(a, b ir.MethodDescriptor) string {
	switch {
	case a.Category != b.Category:
		return fmt.Sprintf("category %q became %q", a.Category, b.Category)
	case a.Deprecated != b.Deprecated:
		return "deprecation changed"
	case !refPtrEqual(a.Result, b.Result):
		return fmt.Sprintf("result %s became %s", refPtrString(a.Result), refPtrString(b.Result))
	}
	return ""
}

func (r *methodRun) close(v ir.Version) {
	r.to = at(v)
	r.params.closeAll(v)
}

func (r *methodRun) descriptor() ir.MethodDescriptor {
	md := r.latest.Clone()
	md.Range = ir.VersionRange{IntroducedIn: r.from, RemovedIn: r.to}
	md.Params = []ir.ParamDescriptor{}
	for _, s := range r.params.slots {
		for _, seg := range s.segments {
			p := seg.value
			p.Position = len(md.Params)
			p.Range = ir.VersionRange{IntroducedIn: seg.from, RemovedIn: seg.to}
			md.Params = append(md.Params, p)
		}
	}
	return md
}

// assembleMethods walks every method name through the versions.
func assembleMethods(layers []*layer) []ir.MethodDescriptor {
	var out []ir.MethodDescriptor
	names := sortedKeys(layers, func(l *layer) map[string]entry[ir.MethodDescriptor] { return l.methods })
	for _, name := range names {
		var run *methodRun
		for _, l := range layers {
			e, ok := l.methods[name]
			switch {
			case !ok:
				if run != nil {
					run.close(l.version)
					out = append(out, run.descriptor())
					run = nil
				}
			case run == nil:
				run = newMethodRun(e.value, l.version)
			case run.incompatibility(e.value) != "":
				run.close(l.version)
				out = append(out, run.descriptor())
				run = newMethodRun(e.value, l.version)
			default:
				run.observe(e.value, l.version)
			}
		}
		if run != nil {
			out = append(out, run.descriptor())
		}
	}
	return out
}
