package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/artifact"
	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/manifest"
	"github.com/roach88/ethos/internal/pipeline"
	"github.com/roach88/ethos/internal/store"
	"github.com/roach88/ethos/internal/validate"
)

// AssembleOptions holds flags for the assemble command.
type AssembleOptions struct {
	*RootOptions
	Manifest string
	Output   string
	FailFast bool
}

// AssembledIR is the per-implementation result of assemble.
type AssembledIR struct {
	Implementation ir.Implementation `json:"implementation"`
	Path           string            `json:"path"`
	Hash           string            `json:"hash"`
	Versions       []ir.Version      `json:"versions"`
	Methods        int               `json:"methods"`
	Types          int               `json:"types"`
	Warnings       []backend.Warning `json:"warnings"`
	RunID          string            `json:"run_id,omitempty"`
}

// AssembleFailure is a build that produced no artifact.
type AssembleFailure struct {
	Implementation ir.Implementation    `json:"implementation"`
	Code           string               `json:"code"`
	Message        string               `json:"message"`
	Violations     []validate.Violation `json:"violations,omitempty"`
}

// NewAssembleCommand creates the assemble command.
func NewAssembleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AssembleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "assemble [implementation...]",
		Short: "Build canonical IR artifacts from the schema manifest",
		Long: `Ingest every schema the manifest lists, assemble the versions of each
implementation into one Protocol IR, normalize and validate it, and write
<ir-dir>/<implementation>.ir.json.

Implementations build in parallel. An implementation whose IR fails
validation writes nothing; the others are still written. Every build is
recorded in the store's run log.

Example:
  ethos assemble
  ethos assemble bitcoin_core --fail-fast
  ethos assemble --manifest schemas/manifest.yaml --out ir`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssemble(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "schema manifest (default from config)")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "artifact directory (default from config)")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "fail on the first unreadable schema instead of skipping it")

	return cmd
}

func runAssemble(opts *AssembleOptions, args []string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	manifestPath := firstNonEmpty(opts.Manifest, s.cfg.Pipeline.Manifest)
	irDir := firstNonEmpty(opts.Output, s.cfg.Pipeline.IRDir)

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return s.out.Fail("failed to load manifest", err, nil)
	}
	s.out.VerboseLog("Loaded manifest %s (%d implementations)", manifestPath, len(m.Implementations()))

	d, err := s.driver(opts.FailFast)
	if err != nil {
		return s.out.Fail("failed to load normalization rules", err, nil)
	}
	st, err := s.openStore()
	if err != nil {
		return s.out.Fail("failed to open store", err, nil)
	}
	defer s.closeStore(st)

	impls := make([]ir.Implementation, 0, len(args))
	for _, a := range args {
		if impl := ir.Implementation(a); !slices.Contains(impls, impl) {
			impls = append(impls, impl)
		}
	}
	if len(impls) == 0 {
		impls = m.Implementations()
	}

	ctx := cmd.Context()
	runs := make(map[ir.Implementation]store.Run, len(impls))
	if st != nil {
		for _, impl := range impls {
			run, err := st.BeginRun(ctx, "assemble", impl)
			if err != nil {
				return s.out.Fail("failed to record run", err, nil)
			}
			runs[impl] = run
		}
	}

	outcomes := buildLocked(ctx, d, m, irDir, impls)
	defer func() {
		for _, o := range outcomes {
			if o.lock != nil {
				o.lock.Release()
			}
		}
	}()

	var (
		built    []AssembledIR
		failures []AssembleFailure
		firstErr error
	)
	for _, o := range outcomes {
		res, err := o.Result, o.Err
		var a AssembledIR
		if err == nil {
			a, err = writeArtifact(ctx, s, st, o.lock, res)
		}
		if st != nil {
			outcome := store.Outcome{Err: err}
			if err == nil {
				outcome.ArtifactHash, outcome.Warnings = res.Hash, len(res.Warnings)
			}
			if ferr := st.FinishRun(ctx, runs[o.Implementation].ID, outcome); ferr != nil {
				s.logger.Error("failed to finish run", "implementation", o.Implementation, "error", ferr)
			}
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failures = append(failures, assembleFailure(o.Implementation, err))
			continue
		}
		a.RunID = runs[o.Implementation].ID
		built = append(built, a)
	}

	if len(failures) > 0 {
		return outputAssembleFailures(s.out, built, failures, firstErr)
	}
	return outputAssembleSuccess(s.out, built)
}

// lockedOutcome is a build whose artifact path is held from before the
// build until the command ends.
type lockedOutcome struct {
	pipeline.Outcome
	lock *artifact.Lock
}

// buildLocked claims every target artifact, then builds the claimed
// implementations. An implementation whose artifact is locked by another
// writer fails without being built.
func buildLocked(ctx context.Context, d *pipeline.Driver, m *manifest.Manifest, dir string, impls []ir.Implementation) []lockedOutcome {
	out := make([]lockedOutcome, len(impls))
	var claimed []ir.Implementation
	for i, impl := range impls {
		out[i].Implementation = impl
		l, err := artifact.Acquire(artifact.Path(dir, impl))
		if err != nil {
			out[i].Err = err
			continue
		}
		out[i].lock = l
		claimed = append(claimed, impl)
	}
	if len(claimed) == 0 {
		return out
	}

	built, _ := d.BuildAll(ctx, m, claimed...)
	byImpl := make(map[ir.Implementation]pipeline.Outcome, len(built))
	for _, o := range built {
		byImpl[o.Implementation] = o
	}
	for i := range out {
		if out[i].lock != nil {
			out[i].Outcome = byImpl[out[i].Implementation]
		}
	}
	return out
}

func writeArtifact(ctx context.Context, s *session, st *store.Store, l *artifact.Lock, res *pipeline.Result) (AssembledIR, error) {
	path := l.Path()
	if err := l.Write(res.IR); err != nil {
		return AssembledIR{}, err
	}
	if st != nil {
		if _, inserted, err := st.PutArtifact(ctx, res.IR); err != nil {
			return AssembledIR{}, err
		} else if !inserted {
			s.logger.Debug("artifact already catalogued", "implementation", res.Implementation, "hash", res.Hash)
		}
	}
	s.out.VerboseLog("Wrote %s (%s)", path, res.Hash)
	return AssembledIR{
		Implementation: res.Implementation,
		Path:           path,
		Hash:           res.Hash,
		Versions:       res.Versions,
		Methods:        res.Methods,
		Types:          res.Types,
		Warnings:       res.Warnings,
	}, nil
}

func assembleFailure(impl ir.Implementation, err error) AssembleFailure {
	code, _ := Classify(err)
	f := AssembleFailure{Implementation: impl, Code: code, Message: err.Error()}
	var ve *validate.ViolationError
	if errors.As(err, &ve) {
		f.Violations = ve.Violations
	}
	return f
}

func outputAssembleSuccess(out *OutputFormatter, built []AssembledIR) error {
	if out.Format == "json" {
		return out.Success(map[string]any{"artifacts": built})
	}
	var b strings.Builder
	for _, a := range built {
		fmt.Fprintf(&b, "✓ %s: %d methods, %d types, versions %s → %s\n",
			a.Implementation, a.Methods, a.Types, versionList(a.Versions), a.Path)
		fmt.Fprintf(&b, "  hash %s\n", a.Hash)
		for _, w := range a.Warnings {
			fmt.Fprintf(&b, "  warning: %s\n", w)
		}
	}
	return out.Success(strings.TrimSuffix(b.String(), "\n"))
}

func outputAssembleFailures(out *OutputFormatter, built []AssembledIR, failures []AssembleFailure, first error) error {
	code, exit := Classify(first)
	if out.Format == "json" {
		if err := out.Error(code, "assembly failed", map[string]any{
			"artifacts": built,
			"failures":  failures,
		}); err != nil {
			return err
		}
		return WrapExitError(exit, code+": assembly failed", first)
	}

	for _, a := range built {
		fmt.Fprintf(out.Writer, "✓ %s → %s\n", a.Implementation, a.Path)
	}
	for _, f := range failures {
		fmt.Fprintf(out.Writer, "✗ %s [%s]\n", f.Implementation, f.Code)
		if len(f.Violations) == 0 {
			fmt.Fprintf(out.Writer, "  %s\n", f.Message)
		}
		for _, v := range f.Violations {
			fmt.Fprintf(out.Writer, "  %s\n", v)
		}
	}
	return WrapExitError(exit, code+": assembly failed", first)
}

func versionList(vs []ir.Version) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
