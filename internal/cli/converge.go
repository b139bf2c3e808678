package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/convergence"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/normalize"
	"github.com/roach88/ethos/internal/store"
	"github.com/roach88/ethos/internal/transport"
)

// ConvergeOptions holds flags for the converge command.
type ConvergeOptions struct {
	*RootOptions
	Source   SourceOptions
	Methods  []string
	Timeout  time.Duration
	Parallel int
}

// SkippedCall is a method the node refused to answer.
type SkippedCall struct {
	Method string `json:"method"`
	Reason string `json:"reason"`
}

// ConvergeResult is the outcome of the converge command.
type ConvergeResult struct {
	convergence.Summary
	Skipped []SkippedCall `json:"skipped"`
	RunID   string        `json:"run_id,omitempty"`
}

// NewConvergeCommand creates the converge command.
func NewConvergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "converge <implementation> <version>",
		Short: "Compare a live node's responses with the IR",
		Long: `Call methods on a live node and compare every normalized response with
the result shape the IR declares for that version. Missing required
fields, unexpected fields and type mismatches are reported with the path
they occur at, and the share of conforming responses is the convergence
score.

Without --method, every read-only method that takes no required
parameters is called; the converge table of the normalization rules
decides which methods are read-only. Methods the node rejects with a
JSON-RPC error are skipped. Volatile fields are checked for shape like
any other field.
Divergences are recorded in the store's run log. The command fails when
any response diverges.

Example:
  ethos converge bitcoin_core 26.0
  ethos converge core_lightning 24.08 --method getinfo --method listfunds`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConverge(opts, args[0], args[1], cmd)
		},
	}

	opts.Source.register(cmd)
	cmd.Flags().StringArrayVarP(&opts.Methods, "method", "m", nil, "method to call (repeatable)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "per-call timeout")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 4, "concurrent calls")

	return cmd
}

func runConverge(opts *ConvergeOptions, impl, version string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	snap, err := loadSnapshot(ctx, s, impl, version, opts.Source)
	if err != nil {
		return s.out.Fail("failed to load "+impl+" "+version, err, nil)
	}
	rules, err := s.rules()
	if err != nil {
		return s.out.Fail("failed to load normalization rules", err, nil)
	}
	methods, err := convergeMethods(snap, opts.Methods, rules.For(snap.Implementation).Converge)
	if err != nil {
		return s.out.Fail("failed to select methods", err, nil)
	}
	b, err := s.registry().Lookup(snap.Implementation)
	if err != nil {
		return s.out.Fail("failed to find backend", err, nil)
	}
	if err := s.connect(b); err != nil {
		return s.out.Fail("failed to configure endpoint", err, nil)
	}
	s.useRules(b, rules)

	st, err := s.openStore()
	if err != nil {
		return s.out.Fail("failed to open store", err, nil)
	}
	defer s.closeStore(st)
	var run store.Run
	if st != nil {
		if run, err = st.BeginRun(ctx, "converge", snap.Implementation); err != nil {
			return s.out.Fail("failed to record run", err, nil)
		}
	}

	report := convergence.NewReport(snap)
	skipped, callErr := observeAll(ctx, s, b, report, methods, opts)
	summary := report.Summary()

	if st != nil {
		if err := st.RecordDivergences(ctx, run.ID, summary.Divergences); err != nil {
			s.logger.Error("failed to record divergences", "run", run.ID, "error", err)
		}
		outcome := store.Outcome{Warnings: len(skipped), Err: callErr}
		if callErr == nil && summary.Divergent > 0 {
			outcome.Err = fmt.Errorf("%d of %d responses diverge", summary.Divergent, summary.Observations)
		}
		if err := st.FinishRun(ctx, run.ID, outcome); err != nil {
			s.logger.Error("failed to finish run", "run", run.ID, "error", err)
		}
	}
	if callErr != nil {
		return s.out.Fail("node unreachable", callErr, nil)
	}

	s.logger.Info("convergence measured",
		"implementation", snap.Implementation,
		"version", snap.Version.String(),
		"observations", summary.Observations,
		"divergent", summary.Divergent,
		"score", summary.Score,
	)
	return outputConverge(s.out, ConvergeResult{Summary: summary, Skipped: skipped, RunID: run.ID})
}

// convergeMethods resolves the requested methods, or every read-only
// method that can be called without arguments.
func convergeMethods(snap *ir.VersionSnapshot, names []string, rules normalize.ConvergeRules) ([]ir.SnapshotMethod, error) {
	if len(names) > 0 {
		out := make([]ir.SnapshotMethod, 0, len(names))
		for _, name := range names {
			m, ok := snap.Method(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s %s has no %s", convergence.ErrUnknownMethod, snap.Implementation, snap.Version, name)
			}
			out = append(out, *m)
		}
		return out, nil
	}
	var out []ir.SnapshotMethod
	for _, m := range snap.Methods {
		if rules.Selects(m.Name) && !hasRequiredParams(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func hasRequiredParams(m ir.SnapshotMethod) bool {
	for _, p := range m.Params {
		if p.Required {
			return true
		}
	}
	return false
}

// observeAll calls every method with at most opts.Parallel calls in
// flight. JSON-RPC errors skip the method; any other failure stops the
// run and is returned.
func observeAll(ctx context.Context, s *session, b backend.Backend, report *convergence.Report, methods []ir.SnapshotMethod, opts *ConvergeOptions) ([]SkippedCall, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	parallel := max(opts.Parallel, 1)
	sem := make(chan struct{}, parallel)
	skipped := make([]*SkippedCall, len(methods))
	errs := make([]error, len(methods))

	var wg sync.WaitGroup
	for i, m := range methods {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()

			skip, err := observe(ctx, s, b, report, m, opts.Timeout)
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			skipped[i] = skip
		}()
	}
	wg.Wait()

	out := []SkippedCall{}
	for _, sk := range skipped {
		if sk != nil {
			out = append(out, *sk)
		}
	}
	// The first real failure, not the cancellations it caused.
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return out, err
		}
	}
	return out, errors.Join(errs...)
}

func observe(ctx context.Context, s *session, b backend.Backend, report *convergence.Report, m ir.SnapshotMethod, timeout time.Duration) (*SkippedCall, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := b.Call(callCtx, m.Wire(), nil)
	if transport.IsRPCError(err) {
		s.logger.Warn("method rejected by node", "method", m.Name, "error", err)
		return &SkippedCall{Method: m.Name, Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	value, err := decodeResult(raw)
	if err != nil {
		return &SkippedCall{Method: m.Name, Reason: "undecodable response: " + err.Error()}, nil
	}
	divs, err := report.ObserveValue(m.Name, responseShape(b, value))
	if err != nil {
		return nil, err
	}
	for _, d := range divs {
		s.logger.Debug("divergence", "method", d.Method, "path", d.Path, "kind", d.Kind)
	}
	return nil, nil
}

// responseShape normalizes a response for a shape check. Unlike
// NormalizeOutput it keeps volatile fields.
func responseShape(b backend.Backend, v any) any {
	if rd, ok := b.(backend.RuleDriven); ok {
		return rd.OutputRules().Shape(v)
	}
	return b.NormalizeOutput(v)
}

func outputConverge(out *OutputFormatter, res ConvergeResult) error {
	if res.Divergent == 0 {
		if out.Format == "json" {
			return out.Success(res)
		}
		msg := fmt.Sprintf("✓ %s %s converges: %d responses, score %.2f",
			res.Implementation, res.Version, res.Observations, res.Score)
		for _, sk := range res.Skipped {
			msg += fmt.Sprintf("\n  skipped %s: %s", sk.Method, sk.Reason)
		}
		return out.Success(msg)
	}

	if out.Format == "json" {
		if err := out.Error(ErrCodeDivergence, "responses diverge from the IR", res); err != nil {
			return err
		}
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "✗ %s %s diverges: %d of %d responses, score %.2f\n",
			res.Implementation, res.Version, res.Divergent, res.Observations, res.Score)
		for _, d := range res.Divergences {
			fmt.Fprintf(&b, "  %s\n", d)
		}
		for _, sk := range res.Skipped {
			fmt.Fprintf(&b, "  skipped %s: %s\n", sk.Method, sk.Reason)
		}
		fmt.Fprint(out.Writer, b.String())
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%s: %d divergent response(s)", ErrCodeDivergence, res.Divergent))
}
