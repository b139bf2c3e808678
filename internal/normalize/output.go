package normalize

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var decimalPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

func validPattern(p string) bool {
	return doublestar.ValidatePattern(p)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Apply maps a decoded live response into canonical form: volatile fields
// are dropped, fields renamed, unit-suffixed amounts converted and numeric
// strings turned into numbers. v is not modified. Numbers are expected as
// json.Number (decode with UseNumber).
func (o OutputRules) Apply(v any) any {
	return o.apply(v, true)
}

// Shape is Apply without dropping volatile fields. Their values change from
// call to call but they are still part of the response's shape.
func (o OutputRules) Shape(v any) any {
	return o.apply(v, false)
}

func (o OutputRules) apply(v any, dropVolatile bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, elem := range val {
			if dropVolatile && matchAny(o.VolatileFields, key) {
				continue
			}
			name := key
			if mapped, ok := o.FieldMappings[key]; ok {
				name = mapped
			}
			out[name] = o.convert(name, o.apply(elem, dropVolatile))
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = o.apply(elem, dropVolatile)
		}
		return out
	default:
		return v
	}
}

func (o OutputRules) convert(field string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if conv, ok := o.UnitConversions[field]; ok && strings.HasSuffix(s, conv.Suffix) {
		n, err := strconv.ParseInt(strings.TrimSuffix(s, conv.Suffix), 10, 64)
		if err == nil {
			return json.Number(strconv.FormatInt(n*conv.Factor, 10))
		}
	}
	if matchAny(o.NumericStrings, field) && decimalPattern.MatchString(s) {
		return json.Number(s)
	}
	return v
}
