package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/artifact"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/validate"
)

// ArtifactValidation is the validation result of one artifact.
type ArtifactValidation struct {
	Path           string               `json:"path"`
	Implementation ir.Implementation    `json:"implementation"`
	Hash           string               `json:"hash"`
	Valid          bool                 `json:"valid"`
	Violations     []validate.Violation `json:"violations,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [artifact...]",
		Short: "Validate IR artifacts",
		Long: `Check IR artifacts against every structural invariant: resolvable type
references, well-formed version ranges, no overlapping methods, required
parameters before optional ones, unique names.

Without arguments, every *.ir.json artifact under the configured IR
directory is checked. All violations are reported, not just the first.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	s, err := newSession(opts, cmd)
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		paths, err = doublestar.FilepathGlob(filepath.Join(s.cfg.Pipeline.IRDir, "*.ir.json"))
		if err != nil {
			return s.out.Fail("failed to list artifacts", err, nil)
		}
		if len(paths) == 0 {
			if err := s.out.Error(ErrCodeNotFound, "no artifacts found in "+s.cfg.Pipeline.IRDir, nil); err != nil {
				return err
			}
			return NewExitError(ExitCommandError, ErrCodeNotFound+": no artifacts found")
		}
	}

	results := make([]ArtifactValidation, 0, len(paths))
	invalid := 0
	for _, path := range paths {
		s.out.VerboseLog("Validating %s", path)
		doc, err := artifact.Read(path)
		if err != nil {
			return s.out.Fail("failed to read artifact", err, nil)
		}
		hash, err := doc.Hash()
		if err != nil {
			return s.out.Fail("failed to hash artifact", err, nil)
		}
		violations := validate.Validate(doc)
		if len(violations) > 0 {
			invalid++
		}
		results = append(results, ArtifactValidation{
			Path:           path,
			Implementation: doc.Implementation,
			Hash:           hash,
			Valid:          len(violations) == 0,
			Violations:     violations,
		})
	}

	if invalid > 0 {
		return outputValidationErrors(s.out, results, invalid)
	}
	return outputValidateSuccess(s.out, results)
}

func outputValidateSuccess(out *OutputFormatter, results []ArtifactValidation) error {
	if out.Format == "json" {
		return out.Success(map[string]any{"valid": true, "artifacts": results})
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "✓ %s (%s)\n", r.Path, r.Implementation)
	}
	b.WriteString("✓ All artifacts valid")
	return out.Success(b.String())
}

func outputValidationErrors(out *OutputFormatter, results []ArtifactValidation, invalid int) error {
	if out.Format == "json" {
		if err := out.Error(ErrCodeInvalidIR, "validation failed", results); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out.Writer, "✗ Validation failed")
		for _, r := range results {
			if r.Valid {
				fmt.Fprintf(out.Writer, "✓ %s\n", r.Path)
				continue
			}
			fmt.Fprintf(out.Writer, "✗ %s: %d violation(s)\n", r.Path, len(r.Violations))
			for _, v := range r.Violations {
				fmt.Fprintf(out.Writer, "  [%s] %s: %s\n", v.Code, v.Subject, v.Message)
			}
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%s: validation failed: %d invalid artifact(s)", ErrCodeInvalidIR, invalid))
}
