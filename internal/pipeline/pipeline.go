// Package pipeline drives raw schemas through the Protocol IR stages:
// adapter extraction, assembly, normalization and validation, and from a
// validated document to generated client code.
//
// Every stage is a pure transform over its input. Builds of different
// implementations run in parallel; a single build is sequential. A build
// either returns a fully validated document or an error: no partially
// valid IR leaves this package.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/ethos/internal/assembler"
	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/backend/builtin"
	"github.com/roach88/ethos/internal/codegen"
	"github.com/roach88/ethos/internal/extract"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/manifest"
	"github.com/roach88/ethos/internal/normalize"
	"github.com/roach88/ethos/internal/validate"
)

// ErrNoSources is returned when Build is given no manifest entries.
var ErrNoSources = errors.New("no schema sources")

// Options configures a Driver. Zero values select the built-in registry,
// the embedded rule tables and the default logger.
type Options struct {
	Registry *backend.Registry
	Rules    *normalize.RuleSet
	// FailFast turns a schema that fails to parse into a build error
	// instead of a skipped fragment.
	FailFast bool
	Logger   *slog.Logger
}

// Driver runs the pipeline.
type Driver struct {
	registry *backend.Registry
	rules    *normalize.RuleSet
	failFast bool
	logger   *slog.Logger
}

// New returns a Driver for opts.
func New(opts Options) *Driver {
	d := &Driver{
		registry: opts.Registry,
		rules:    opts.Rules,
		failFast: opts.FailFast,
		logger:   opts.Logger,
	}
	if d.registry == nil {
		d.registry = builtin.Registry()
	}
	if d.rules == nil {
		d.rules = normalize.MustDefaultRules()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Result is a validated build.
type Result struct {
	Implementation ir.Implementation `json:"implementation"`
	IR             *ir.ProtocolIR    `json:"-"`
	Hash           string            `json:"hash"`
	Versions       []ir.Version      `json:"versions"`
	Methods        int               `json:"methods"`
	Types          int               `json:"types"`
	Warnings       []backend.Warning `json:"warnings"`
}

// Build assembles the IR of impl from entries, which must all belong to
// impl.
func (d *Driver) Build(ctx context.Context, impl ir.Implementation, entries []manifest.Entry) (*Result, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("build %s: %w", impl, ErrNoSources)
	}
	b, err := d.registry.Lookup(impl)
	if err != nil {
		return nil, err
	}

	var (
		fragments []assembler.Fragment
		warnings  []backend.Warning
		failures  []error
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.Implementation != impl {
			return nil, fmt.Errorf("build %s: entry %s %s belongs to %s", impl, e.Version, e.Source, e.Implementation)
		}

		d.logger.Debug("extracting schema",
			"implementation", impl,
			"version", e.Version.String(),
			"source", e.Source,
		)
		ext, err := b.ExtractProtocolIR(backend.Source{Locator: e.Source, Version: e.Version})
		if err != nil {
			if !backend.IsParseError(err) || d.failFast {
				return nil, err
			}
			d.logger.Warn("skipping unreadable schema",
				"implementation", impl,
				"source", e.Source,
				"error", err,
			)
			failures = append(failures, err)
			warnings = append(warnings, backend.Warning{Source: e.Source, Subject: "schema", Message: err.Error()})
			continue
		}
		warnings = append(warnings, ext.Warnings...)

		frag := ext.IR
		applyRelease(frag, e)
		fragments = append(fragments, assembler.Fragment{Source: e.Source, IR: d.rules.Normalize(frag)})
	}
	if len(fragments) == 0 {
		return nil, fmt.Errorf("build %s: every schema failed to parse: %w", impl, errors.Join(failures...))
	}

	doc, err := assembler.Assemble(fragments)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", impl, err)
	}
	doc = d.rules.Normalize(doc)
	if err := validate.Check(doc); err != nil {
		return nil, fmt.Errorf("build %s: %w", impl, err)
	}

	hash, err := doc.Hash()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", impl, err)
	}
	d.logger.Info("protocol IR assembled",
		"implementation", impl,
		"versions", len(doc.Versions),
		"methods", len(doc.Methods),
		"types", len(doc.Types),
		"warnings", len(warnings),
		"hash", hash,
	)
	if warnings == nil {
		warnings = []backend.Warning{}
	}
	return &Result{
		Implementation: impl,
		IR:             doc,
		Hash:           hash,
		Versions:       doc.KnownVersions(),
		Methods:        len(doc.Methods),
		Types:          len(doc.Types),
		Warnings:       warnings,
	}, nil
}

// applyRelease fills release metadata the schema itself did not carry.
// The fragment is the adapter's own output, so it is updated in place.
func applyRelease(frag *ir.ProtocolIR, e manifest.Entry) {
	for i := range frag.Versions {
		v := &frag.Versions[i]
		if v.Version.Compare(e.Version) != 0 {
			continue
		}
		if v.ReleaseDate == "" {
			v.ReleaseDate = e.ReleaseDate
		}
		if v.Note == "" {
			v.Note = e.Note
		}
	}
}

// Outcome is the result of one implementation's build within BuildAll.
// Exactly one of Result and Err is set.
type Outcome struct {
	Implementation ir.Implementation
	Result         *Result
	Err            error
}

// BuildAll builds implementations of m concurrently: the ones named in
// only, or every implementation of m when only is empty. Outcomes come
// back in that order; the returned error joins the failed builds.
func (d *Driver) BuildAll(ctx context.Context, m *manifest.Manifest, only ...ir.Implementation) ([]Outcome, error) {
	impls := only
	if len(impls) == 0 {
		impls = m.Implementations()
	}
	outcomes := make([]Outcome, len(impls))

	var wg sync.WaitGroup
	for i, impl := range impls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Build(ctx, impl, m.Entries(impl))
			outcomes[i] = Outcome{Implementation: impl, Result: res, Err: err}
		}()
	}
	wg.Wait()

	errs := make([]error, 0, len(outcomes))
	for _, o := range outcomes {
		errs = append(errs, o.Err)
	}
	return outcomes, errors.Join(errs...)
}

// Generate extracts doc at version and renders it for target. An empty
// opts.Dialect is taken from the backend: named-params backends get the
// named dialect.
func (d *Driver) Generate(doc *ir.ProtocolIR, version ir.Version, target string, opts codegen.Options) ([]codegen.File, *ir.VersionSnapshot, error) {
	snap, err := extract.Extract(doc, version)
	if err != nil {
		return nil, nil, err
	}
	if opts.Dialect == "" {
		opts.Dialect = d.Dialect(doc.Implementation)
	}
	files, err := codegen.Generate(snap, target, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("generate %s %s: %w", doc.Implementation, version, err)
	}
	d.logger.Info("client generated",
		"implementation", doc.Implementation,
		"version", version.String(),
		"target", target,
		"files", len(files),
	)
	return files, snap, nil
}

// Dialect reports the wire dialect of impl's backend, positional when the
// implementation is not registered.
func (d *Driver) Dialect(impl ir.Implementation) codegen.Dialect {
	b, err := d.registry.Lookup(impl)
	if err == nil && backend.Supports(b, ir.CapNamedParams) {
		return codegen.Named
	}
	return codegen.Positional
}

// Backend looks up impl in the driver's registry.
func (d *Driver) Backend(impl ir.Implementation) (backend.Backend, error) {
	return d.registry.Lookup(impl)
}
