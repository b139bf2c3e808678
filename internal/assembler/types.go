package assembler

import (
	"github.com/roach88/ethos/internal/ir"
)

type typeRun struct {
	latest   ir.TypeDescriptor
	from     ir.Version
	fields   slotList[ir.Field]
	variants []ir.Variant
}

func sameField(old, cur ir.Field) bool {
	return old.Type.Equal(cur.Type) && old.Required == cur.Required && old.Default.Equal(cur.Default)
}

func refreshField(old *ir.Field, cur ir.Field) {
	old.Description = cur.Description
	if cur.WireName != "" {
		old.WireName = cur.WireName
	}
}

func (r *typeRun) observe(t ir.TypeDescriptor, v ir.Version) {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	r.fields.observe(v, names, t.Fields, sameField, refreshField)

	for _, cur := range t.Variants {
		found := false
		for i := range r.variants {
			if r.variants[i].Name == cur.Name {
				r.variants[i].Type = cur.Type
				found = true
				break
			}
		}
		if !found {
			r.variants = append(r.variants, cur)
		}
	}
	r.latest = t
}

// assembleTypes merges each named type into one descriptor. Its range runs
// from the first version that declares it to the first version after the
// last one that does. splitTypes must have run first so that every name
// keeps one shape.
func assembleTypes(layers []*layer) []ir.TypeDescriptor {
	var out []ir.TypeDescriptor
	names := sortedKeys(layers, func(l *layer) map[string]entry[ir.TypeDescriptor] { return l.types })
	for _, name := range names {
		var run *typeRun
		last := -1
		for i, l := range layers {
			e, ok := l.types[name]
			if !ok {
				continue
			}
			if run == nil {
				run = &typeRun{from: l.version}
			}
			run.observe(e.value, l.version)
			last = i
		}

		td := run.latest.Clone()
		td.Range = ir.Since(run.from)
		if last+1 < len(layers) {
			end := layers[last+1].version
			td.Range = td.Range.Close(end)
			run.fields.closeAll(end)
		}
		td.Variants = run.variants
		if len(run.fields.slots) > 0 {
			td.Fields = []ir.Field{}
			for _, s := range run.fields.slots {
				for _, seg := range s.segments {
					f := seg.value
					f.Range = ir.VersionRange{IntroducedIn: seg.from, RemovedIn: seg.to}
					td.Fields = append(td.Fields, f)
				}
			}
		} else {
			td.Fields = nil
		}
		out = append(out, td)
	}
	return out
}
