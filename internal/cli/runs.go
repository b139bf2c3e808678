package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/convergence"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Run       string
	Artifacts bool
}

// RunDetail is one run with its recorded divergences.
type RunDetail struct {
	store.Run
	Divergences []convergence.Divergence `json:"divergences"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs [implementation]",
		Short: "Show the run log and artifact catalog",
		Long: `List recorded assemble and converge runs in the order they started, or
with --artifacts the IR artifacts catalogued in the store.

Example:
  ethos runs
  ethos runs bitcoin_core --artifacts
  ethos runs --run 0190c5d2-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var impl ir.Implementation
			if len(args) == 1 {
				impl = ir.Implementation(args[0])
			}
			return runRuns(opts, impl, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Run, "run", "", "show one run and its divergences")
	cmd.Flags().BoolVar(&opts.Artifacts, "artifacts", false, "list catalogued artifacts instead of runs")
	cmd.MarkFlagsMutuallyExclusive("run", "artifacts")

	return cmd
}

func runRuns(opts *RunsOptions, impl ir.Implementation, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	st, err := s.openStore()
	if err != nil {
		return s.out.Fail("failed to open store", err, nil)
	}
	if st == nil {
		if err := s.out.Error(ErrCodeConfig, "no store configured", nil); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, ErrCodeConfig+": no store configured")
	}
	defer s.closeStore(st)
	ctx := cmd.Context()

	switch {
	case opts.Run != "":
		run, err := st.GetRun(ctx, opts.Run)
		if err != nil {
			return s.out.Fail("failed to load run", err, nil)
		}
		divs, err := st.Divergences(ctx, run.ID)
		if err != nil {
			return s.out.Fail("failed to load divergences", err, nil)
		}
		if divs == nil {
			divs = []convergence.Divergence{}
		}
		return outputRunDetail(s.out, RunDetail{Run: run, Divergences: divs})

	case opts.Artifacts:
		infos, err := st.ListArtifacts(ctx, impl)
		if err != nil {
			return s.out.Fail("failed to list artifacts", err, nil)
		}
		if s.out.Format == "json" {
			if infos == nil {
				infos = []store.ArtifactInfo{}
			}
			return s.out.Success(map[string]any{"artifacts": infos})
		}
		lines := make([]string, len(infos))
		for i, a := range infos {
			lines[i] = fmt.Sprintf("%s\t%s\t%d methods\t%d types\t%s",
				a.Hash, a.Implementation, a.Methods, a.Types, versionList(a.Versions))
		}
		return s.out.Success(strings.Join(lines, "\n"))

	default:
		runs, err := st.Runs(ctx, impl)
		if err != nil {
			return s.out.Fail("failed to list runs", err, nil)
		}
		if s.out.Format == "json" {
			if runs == nil {
				runs = []store.Run{}
			}
			return s.out.Success(map[string]any{"runs": runs})
		}
		lines := make([]string, len(runs))
		for i, r := range runs {
			lines[i] = formatRun(r)
		}
		return s.out.Success(strings.Join(lines, "\n"))
	}
}

func formatRun(r store.Run) string {
	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s",
		r.ID, r.StartedAt.Format(time.RFC3339), r.Command, r.Implementation, r.Status)
	if r.Error != "" {
		line += "\t" + r.Error
	}
	return line
}

func outputRunDetail(out *OutputFormatter, d RunDetail) error {
	if out.Format == "json" {
		return out.Success(d)
	}
	var b strings.Builder
	b.WriteString(formatRun(d.Run))
	if d.ArtifactHash != "" {
		fmt.Fprintf(&b, "\n  artifact %s", d.ArtifactHash)
	}
	if d.Warnings > 0 {
		fmt.Fprintf(&b, "\n  %d warning(s)", d.Warnings)
	}
	for _, div := range d.Divergences {
		fmt.Fprintf(&b, "\n  %s", div)
	}
	return out.Success(b.String())
}
