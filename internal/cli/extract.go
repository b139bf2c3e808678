package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/artifact"
)

// ExtractOptions holds flags for the extract command.
type ExtractOptions struct {
	*RootOptions
	Source SourceOptions
	Output string
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtractOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract <implementation> <version>",
		Short: "Extract the RPC surface of one version",
		Long: `Filter an IR artifact to the methods, parameters, types and fields that
exist at one version and print the snapshot as canonical JSON.

With --out, the snapshot is written to <out>/<implementation>/<version>.json
instead.

Example:
  ethos extract bitcoin_core 26.0
  ethos extract core_lightning 24.08 --out snapshots`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(opts, args[0], args[1], cmd)
		},
	}

	opts.Source.register(cmd)
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "write the snapshot under this directory")

	return cmd
}

func runExtract(opts *ExtractOptions, impl, version string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	snap, err := loadSnapshot(cmd.Context(), s, impl, version, opts.Source)
	if err != nil {
		return s.out.Fail("failed to extract "+impl+" "+version, err, nil)
	}
	s.logger.Info("snapshot extracted",
		"implementation", snap.Implementation,
		"version", snap.Version.String(),
		"methods", len(snap.Methods),
		"types", len(snap.Types),
	)

	if opts.Output != "" {
		path := artifact.SnapshotPath(opts.Output, snap.Implementation, snap.Version)
		if err := artifact.WriteSnapshot(path, snap); err != nil {
			return s.out.Fail("failed to write snapshot", err, nil)
		}
		if s.out.Format == "json" {
			return s.out.Success(map[string]any{"path": path, "methods": len(snap.Methods), "types": len(snap.Types)})
		}
		return s.out.Success("✓ Wrote " + path)
	}

	if s.out.Format == "json" {
		return s.out.Success(snap)
	}
	data, err := artifact.Encode(snap)
	if err != nil {
		return s.out.Fail("failed to encode snapshot", err, nil)
	}
	return s.out.Success(strings.TrimSuffix(string(data), "\n"))
}
