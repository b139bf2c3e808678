package convergence

import (
	"encoding/json"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/ethos/internal/ir"
)

// Report aggregates observations of one snapshot. It is safe for
// concurrent use, so calls can be fanned out and recorded as they return.
type Report struct {
	snap *ir.VersionSnapshot

	mu          sync.Mutex
	total       int
	divergent   int
	divergences []Divergence
}

// NewReport starts an empty report for snap.
func NewReport(snap *ir.VersionSnapshot) *Report {
	return &Report{snap: snap}
}

// Observe checks one response and records the outcome. The returned
// divergences are those of this observation only.
func (r *Report) Observe(method string, observed json.RawMessage) ([]Divergence, error) {
	divs, err := Check(r.snap, method, observed)
	if err != nil {
		return nil, err
	}
	r.record(divs)
	return divs, nil
}

// ObserveValue is Observe for a response that was already decoded and
// normalized by its backend.
func (r *Report) ObserveValue(method string, value any) ([]Divergence, error) {
	divs, err := CheckValue(r.snap, method, value)
	if err != nil {
		return nil, err
	}
	r.record(divs)
	return divs, nil
}

func (r *Report) record(divs []Divergence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if len(divs) > 0 {
		r.divergent++
		r.divergences = append(r.divergences, divs...)
	}
}

// Summary is the serializable outcome of a Report.
type Summary struct {
	Implementation ir.Implementation `json:"implementation"`
	Version        ir.Version        `json:"version"`
	Observations   int               `json:"observations"`
	Divergent      int               `json:"divergent"`
	Score          float64           `json:"score"`
	Divergences    []Divergence      `json:"divergences"`
}

// Score is 1 - divergent/total: the share of observations that matched
// the IR exactly. An empty report scores 1.
func (r *Report) Score() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return score(r.divergent, r.total)
}

func score(divergent, total int) float64 {
	if total == 0 {
		return 1
	}
	return 1 - float64(divergent)/float64(total)
}

// Summary returns a snapshot of the report with divergences sorted by
// method then path.
func (r *Report) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	divs := slices.Clone(r.divergences)
	sort.SliceStable(divs, func(i, j int) bool {
		if divs[i].Method != divs[j].Method {
			return divs[i].Method < divs[j].Method
		}
		return divs[i].Path < divs[j].Path
	})
	if divs == nil {
		divs = []Divergence{}
	}
	return Summary{
		Implementation: r.snap.Implementation,
		Version:        r.snap.Version,
		Observations:   r.total,
		Divergent:      r.divergent,
		Score:          score(r.divergent, r.total),
		Divergences:    divs,
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
