// Package manifest loads the registry manifest: which raw schemas exist for
// which implementation versions.
//
//	implementations:
//	  bitcoin_core:
//	    - version: "25.0"
//	      source: schemas/bitcoin_core/25.0.json
//	      release_date: "2023-05-26"
//	    - version: "26.0"
//	      source: schemas/bitcoin_core/26.0.json
//	      note: adds scanblocks filters
//
// Relative sources are resolved against the manifest's directory.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ethos/internal/ir"
)

// Manifest is a parsed registry manifest.
type Manifest struct {
	// Path is the file the manifest was loaded from, if any.
	Path string

	byImpl map[ir.Implementation][]Entry
}

// Entry is one schema source for one implementation version.
type Entry struct {
	Implementation ir.Implementation
	Version        ir.Version
	Source         string
	ReleaseDate    string
	Note           string
}

type rawManifest struct {
	Implementations map[string][]rawEntry `yaml:"implementations"`
}

type rawEntry struct {
	Version     string `yaml:"version"`
	Source      string `yaml:"source"`
	ReleaseDate string `yaml:"release_date,omitempty"`
	Note        string `yaml:"note,omitempty"`
}

// Load reads and parses a manifest file. Unknown keys are rejected so
// typos surface instead of silently dropping a version.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// Parse parses manifest YAML, resolving relative sources against baseDir.
func Parse(data []byte, baseDir string) (*Manifest, error) {
	var raw rawManifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	m := &Manifest{byImpl: make(map[ir.Implementation][]Entry)}
	for name, entries := range raw.Implementations {
		impl := ir.Implementation(name)
		if !impl.Valid() {
			return nil, fmt.Errorf("malformed implementation identifier %q", name)
		}
		seen := make(map[string]string)
		for _, re := range entries {
			e, err := re.resolve(impl, baseDir)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", impl, err)
			}
			key := canonicalKey(e.Version)
			if prev, ok := seen[key]; ok {
				return nil, fmt.Errorf("%s: duplicate version %s (already listed as %s)", impl, re.Version, prev)
			}
			seen[key] = re.Version
			m.byImpl[impl] = append(m.byImpl[impl], e)
		}
		slices.SortFunc(m.byImpl[impl], func(a, b Entry) int { return a.Version.Compare(b.Version) })
	}
	return m, nil
}

// canonicalKey makes 1.0 and 1.0.0 collide.
func canonicalKey(v ir.Version) string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (re rawEntry) resolve(impl ir.Implementation, baseDir string) (Entry, error) {
	if re.Version == "" {
		return Entry{}, fmt.Errorf("version is required")
	}
	v, err := ir.ParseVersion(re.Version)
	if err != nil {
		return Entry{}, err
	}
	source := strings.TrimSpace(re.Source)
	if source == "" {
		return Entry{}, fmt.Errorf("version %s: source is required", re.Version)
	}
	if !filepath.IsAbs(source) && baseDir != "" {
		source = filepath.Join(baseDir, source)
	}
	if re.ReleaseDate != "" {
		if _, err := time.Parse(time.DateOnly, re.ReleaseDate); err != nil {
			return Entry{}, fmt.Errorf("version %s: release_date %q is not YYYY-MM-DD", re.Version, re.ReleaseDate)
		}
	}
	return Entry{
		Implementation: impl,
		Version:        v,
		Source:         source,
		ReleaseDate:    re.ReleaseDate,
		Note:           re.Note,
	}, nil
}

// Implementations lists the implementations in the manifest, sorted.
func (m *Manifest) Implementations() []ir.Implementation {
	out := make([]ir.Implementation, 0, len(m.byImpl))
	for impl := range m.byImpl {
		out = append(out, impl)
	}
	slices.Sort(out)
	return out
}

// Entries returns impl's entries in version order. The slice is a copy.
func (m *Manifest) Entries(impl ir.Implementation) []Entry {
	return slices.Clone(m.byImpl[impl])
}

// VersionInfo returns the release metadata the manifest records for impl.
func (m *Manifest) VersionInfo(impl ir.Implementation) []ir.VersionInfo {
	entries := m.byImpl[impl]
	out := make([]ir.VersionInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, ir.VersionInfo{Version: e.Version, ReleaseDate: e.ReleaseDate, Note: e.Note})
	}
	return out
}
