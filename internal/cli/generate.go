package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/codegen"
	"github.com/roach88/ethos/internal/ir"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Source  SourceOptions
	Output  string
	Package string
	Dialect string
	Target  string
	Check   bool
}

// DriftEntry is a generated file that no longer matches.
type DriftEntry struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate <implementation> <version>",
		Short: "Generate a typed client for one version",
		Long: `Generate a client package for the RPC surface of one version: a types
file, one file per method category and a checksums.txt with a BLAKE3
digest of every file.

The wire dialect follows the backend: implementations that take named
parameters get object params, the rest positional arrays.

With --check nothing is written; the command fails if the files in the
output directory were edited by hand or no longer match what the IR
generates.

Example:
  ethos generate bitcoin_core 26.0
  ethos generate core_lightning 24.08 --out gen/cln --package cln
  ethos generate bitcoin_core 26.0 --check`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, args[0], args[1], cmd)
		},
	}

	opts.Source.register(cmd)
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "output directory (default <output_dir>/<implementation>)")
	cmd.Flags().StringVar(&opts.Package, "package", "", "generated package name")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "", "parameter dialect (positional|named); default from the backend")
	cmd.Flags().StringVar(&opts.Target, "target", codegen.TargetGo, "target language")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "verify the output directory instead of writing it")

	return cmd
}

func runGenerate(opts *GenerateOptions, impl, version string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	dialect := codegen.Dialect(opts.Dialect)
	switch dialect {
	case "", codegen.Positional, codegen.Named:
	default:
		err := fmt.Errorf("unknown dialect %q", opts.Dialect)
		if outErr := s.out.Error(ErrCodeGeneric, err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, ErrCodeGeneric+": invalid flags", err)
	}

	v, err := ir.ParseVersion(version)
	if err != nil {
		return s.out.Fail("failed to parse version", err, nil)
	}
	doc, err := loadIR(cmd.Context(), s, ir.Implementation(impl), opts.Source)
	if err != nil {
		return s.out.Fail("failed to load IR", err, nil)
	}
	d, err := s.driver(false)
	if err != nil {
		return s.out.Fail("failed to load normalization rules", err, nil)
	}
	files, snap, err := d.Generate(doc, v, opts.Target, codegen.Options{
		Package: firstNonEmpty(opts.Package, s.cfg.Codegen.Package),
		Dialect: dialect,
	})
	if err != nil {
		return s.out.Fail("failed to generate "+impl+" "+version, err, nil)
	}

	dir := firstNonEmpty(opts.Output, filepath.Join(s.cfg.Codegen.OutputDir, impl))
	if opts.Check {
		drifts, err := checkGenerated(dir, files)
		if err != nil {
			return s.out.Fail("failed to check "+dir, err, nil)
		}
		return outputDrift(s.out, dir, drifts)
	}

	if err := codegen.Write(dir, files); err != nil {
		return s.out.Fail("failed to write client", err, nil)
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	if s.out.Format == "json" {
		return s.out.Success(map[string]any{
			"implementation": snap.Implementation,
			"version":        snap.Version,
			"dir":            dir,
			"files":          paths,
		})
	}
	return s.out.Success(fmt.Sprintf("✓ Generated %s %s client in %s (%d files)",
		snap.Implementation, snap.Version, dir, len(files)))
}

// checkGenerated reports hand edits recorded against dir's checksums.txt
// and every file whose content differs from what files would write.
func checkGenerated(dir string, files []codegen.File) ([]DriftEntry, error) {
	var out []DriftEntry
	seen := make(map[string]bool)

	edited, err := codegen.Verify(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, d := range edited {
		out = append(out, DriftEntry{Path: d.Path, Reason: d.Reason})
		seen[d.Path] = true
	}

	for _, f := range files {
		if seen[f.Path] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Path))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			out = append(out, DriftEntry{Path: f.Path, Reason: "not generated"})
		case err != nil:
			return nil, err
		case !bytes.Equal(data, f.Content):
			out = append(out, DriftEntry{Path: f.Path, Reason: "stale"})
		}
	}
	return out, nil
}

func outputDrift(out *OutputFormatter, dir string, drifts []DriftEntry) error {
	if len(drifts) == 0 {
		if out.Format == "json" {
			return out.Success(map[string]any{"dir": dir, "drift": []DriftEntry{}})
		}
		return out.Success("✓ " + dir + " is up to date")
	}

	if out.Format == "json" {
		if err := out.Error(ErrCodeDrift, dir+" has drifted", drifts); err != nil {
			return err
		}
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "✗ %s has drifted\n", dir)
		for _, d := range drifts {
			fmt.Fprintf(&b, "  %s: %s\n", d.Path, d.Reason)
		}
		fmt.Fprint(out.Writer, b.String())
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%s: %d drifted file(s)", ErrCodeDrift, len(drifts)))
}
