package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/codegen"
	"github.com/roach88/ethos/internal/ir"
)

// BackendInfo describes one registered backend.
type BackendInfo struct {
	Implementation ir.Implementation `json:"implementation"`
	Capabilities   []ir.Capability   `json:"capabilities"`
	Dialect        codegen.Dialect   `json:"dialect"`
	Endpoint       string            `json:"endpoint,omitempty"`
	Rules          bool              `json:"rules"`
}

// NewBackendsCommand creates the backends command.
func NewBackendsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List registered protocol backends",
		Long: `List every implementation in the backend registry with its advertised
capabilities, the parameter dialect generated clients use, the live
endpoint configured for it and whether normalization rules exist for it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackends(rootOpts, cmd)
		},
	}

	return cmd
}

func runBackends(opts *RootOptions, cmd *cobra.Command) error {
	s, err := newSession(opts, cmd)
	if err != nil {
		return err
	}
	rules, err := s.rules()
	if err != nil {
		return s.out.Fail("failed to load normalization rules", err, nil)
	}
	withRules := make(map[ir.Implementation]bool)
	for _, impl := range rules.Implementations() {
		withRules[impl] = true
	}

	reg := s.registry()
	var infos []BackendInfo
	for _, impl := range reg.Implementations() {
		b, err := reg.Lookup(impl)
		if err != nil {
			return s.out.Fail("failed to construct backend", err, nil)
		}
		info := BackendInfo{
			Implementation: impl,
			Capabilities:   b.Capabilities(),
			Dialect:        codegen.Positional,
			Rules:          withRules[impl],
		}
		if backend.Supports(b, ir.CapNamedParams) {
			info.Dialect = codegen.Named
		}
		if tc, ok := s.cfg.Transport(impl); ok {
			info.Endpoint = tc.Endpoint
		}
		infos = append(infos, info)
	}

	if s.out.Format == "json" {
		return s.out.Success(map[string]any{"backends": infos})
	}
	var b strings.Builder
	for i, info := range infos {
		if i > 0 {
			b.WriteString("\n")
		}
		caps := make([]string, len(info.Capabilities))
		for j, c := range info.Capabilities {
			caps[j] = string(c)
		}
		fmt.Fprintf(&b, "%s\t%s\t%s", info.Implementation, strings.Join(caps, ","), info.Dialect)
		if info.Endpoint != "" {
			fmt.Fprintf(&b, "\t%s", info.Endpoint)
		}
	}
	return s.out.Success(b.String())
}
