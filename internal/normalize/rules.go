package normalize

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ethos/internal/ir"
)

//go:embed rules/*.cue
var builtinRules embed.FS

// Rules is the normalization table for one implementation. It is data:
// loaded from CUE, never code.
type Rules struct {
	MethodsCase Case `json:"methods_case"`
	ParamsCase  Case `json:"params_case"`
	FieldsCase  Case `json:"fields_case"`
	TypesCase   Case `json:"types_case"`

	MethodAliases map[string]string `json:"method_aliases"`
	ParamAliases  map[string]string `json:"param_aliases"`
	FieldAliases  map[string]string `json:"field_aliases"`

	// NullDefault is "absent" (explicit null defaults are dropped) or "keep".
	NullDefault    string   `json:"null_default"`
	CoerceDefaults bool     `json:"coerce_defaults"`
	UnionSeparator string   `json:"union_separator"`
	UnionTypes     []string `json:"union_types"`

	Output   OutputRules   `json:"output"`
	Converge ConvergeRules `json:"converge"`
}

// OutputRules normalize live responses.
type OutputRules struct {
	FieldMappings   map[string]string         `json:"field_mappings"`
	VolatileFields  []string                  `json:"volatile_fields"`
	NumericStrings  []string                  `json:"numeric_strings"`
	UnitConversions map[string]UnitConversion `json:"unit_conversions"`
}

// ConvergeRules pick the methods a convergence run calls when none are
// named. Only read-only methods belong in Include.
type ConvergeRules struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

var readOnlyMethods = []string{"get*", "list*"}

// Selects reports whether method may be called unprompted. Without
// include patterns only get* and list* qualify.
func (c ConvergeRules) Selects(method string) bool {
	include := c.Include
	if len(include) == 0 {
		include = readOnlyMethods
	}
	return matchAny(include, method) && !matchAny(c.Exclude, method)
}

// UnitConversion strips Suffix from a string value and multiplies by Factor.
type UnitConversion struct {
	Suffix string `json:"suffix"`
	Factor int64  `json:"factor"`
}

// RuleSet holds the rules of every implementation.
type RuleSet struct {
	byImpl map[ir.Implementation]Rules
}

// For returns impl's rules, or identity rules when none are defined.
func (rs *RuleSet) For(impl ir.Implementation) Rules {
	if rs != nil {
		if r, ok := rs.byImpl[impl]; ok {
			return r
		}
	}
	return Rules{NullDefault: "absent"}
}

// Implementations lists the implementations with rules, sorted.
func (rs *RuleSet) Implementations() []ir.Implementation {
	out := make([]ir.Implementation, 0, len(rs.byImpl))
	for impl := range rs.byImpl {
		out = append(out, impl)
	}
	slices.Sort(out)
	return out
}

// RuleError reports a rule table problem with its CUE position.
type RuleError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *RuleError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &RuleError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

var defaultRules = sync.OnceValues(func() (*RuleSet, error) {
	return LoadRules("")
})

// DefaultRules returns the embedded rule tables. They are loaded once and
// shared; a RuleSet is read-only.
func DefaultRules() (*RuleSet, error) {
	return defaultRules()
}

// MustDefaultRules is like DefaultRules but panics on error. The embedded
// tables are covered by tests, so a failure is a build defect.
func MustDefaultRules() *RuleSet {
	rs, err := DefaultRules()
	if err != nil {
		panic(err)
	}
	return rs
}

// LoadRules unifies the embedded tables with every .cue file under dir
// (when dir is non-empty). Files can add implementations or set fields the
// built-ins leave open; conflicting values are a CUE unification error.
func LoadRules(dir string) (*RuleSet, error) {
	ctx := cuecontext.New()

	var sources []namedSource
	embedded, err := fs.Glob(builtinRules, "rules/*.cue")
	if err != nil {
		return nil, err
	}
	sort.Strings(embedded)
	for _, name := range embedded {
		data, err := builtinRules.ReadFile(name)
		if err != nil {
			return nil, err
		}
		sources = append(sources, namedSource{name: name, data: data})
	}

	if dir != "" {
		extra, err := findCUEFiles(dir)
		if err != nil {
			return nil, fmt.Errorf("scan rules dir %s: %w", dir, err)
		}
		for _, path := range extra {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			sources = append(sources, namedSource{name: path, data: data})
		}
	}

	var merged cue.Value
	for i, src := range sources {
		v := ctx.CompileBytes(src.data, cue.Filename(src.name))
		if err := v.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		if i == 0 {
			merged = v
			continue
		}
		merged = merged.Unify(v)
	}
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	return decodeRuleSet(merged)
}

type namedSource struct {
	name string
	data []byte
}

func decodeRuleSet(v cue.Value) (*RuleSet, error) {
	rs := &RuleSet{byImpl: make(map[ir.Implementation]Rules)}

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return rs, nil
	}
	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		impl := ir.Implementation(iter.Selector().Unquoted())
		if !impl.Valid() {
			return nil, &RuleError{
				Field:   "rules",
				Message: fmt.Sprintf("malformed implementation identifier %q", impl),
				Pos:     iter.Value().Pos(),
			}
		}
		var r Rules
		if err := iter.Value().Decode(&r); err != nil {
			return nil, formatCUEError(err)
		}
		if err := r.check(); err != nil {
			return nil, &RuleError{
				Field:   fmt.Sprintf("rules.%s", impl),
				Message: err.Error(),
				Pos:     iter.Value().Pos(),
			}
		}
		rs.byImpl[impl] = r
	}
	return rs, nil
}

// check rejects alias chains: once names are case-converted, no alias
// target may itself be an alias. Chains would make Normalize
// non-idempotent.
func (r Rules) check() error {
	sets := []struct {
		kind    string
		aliases map[string]string
		c       Case
	}{
		{"method_aliases", r.MethodAliases, r.MethodsCase},
		{"param_aliases", r.ParamAliases, r.ParamsCase},
		{"field_aliases", r.FieldAliases, r.FieldsCase},
	}
	for _, s := range sets {
		conv := convertAliases(s.aliases, s.c)
		keys := make([]string, 0, len(conv))
		for k := range conv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, chained := conv[conv[k]]; chained {
				return fmt.Errorf("%s: %q maps to %q, which is itself an alias", s.kind, k, conv[k])
			}
		}
	}
	patterns := slices.Concat(r.UnionTypes, r.Output.VolatileFields, r.Output.NumericStrings, r.Converge.Include, r.Converge.Exclude)
	for _, p := range patterns {
		if !validPattern(p) {
			return fmt.Errorf("malformed glob pattern %q", p)
		}
	}
	return nil
}

// convertAliases returns the alias map with both sides in the target case,
// dropping identity entries.
func convertAliases(aliases map[string]string, c Case) map[string]string {
	out := make(map[string]string, len(aliases))
	for from, to := range aliases {
		f, t := c.Apply(from), c.Apply(to)
		if f != t {
			out[f] = t
		}
	}
	return out
}

// findCUEFiles returns every .cue file under dir, sorted.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
