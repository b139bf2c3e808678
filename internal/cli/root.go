package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/backend/builtin"
	"github.com/roach88/ethos/internal/config"
	"github.com/roach88/ethos/internal/normalize"
	"github.com/roach88/ethos/internal/pipeline"
	"github.com/roach88/ethos/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Registry overrides the built-in backend registry (for testing).
	Registry *backend.Registry
	// StoreOptions are passed to store.Open (for testing).
	StoreOptions []store.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ethos CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ethos",
		Short: "ethos - protocol IR compiler for node RPC surfaces",
		Long: `Build a versioned Protocol IR from node RPC schemas and generate typed
clients from it.

Schemas listed in the manifest are ingested per implementation, assembled
across versions, normalized and validated into one canonical IR artifact.
Clients are generated for a single version of that artifact, and live
nodes can be checked against it for semantic convergence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default "+config.DefaultPath+" when present)")

	// Add subcommands
	cmd.AddCommand(NewAssembleCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewExtractCommand(opts))
	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewBackendsCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewConvergeCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// session is what every command works from: the resolved config, a
// logger on stderr and the output formatter.
type session struct {
	opts   *RootOptions
	cfg    config.Config
	logger *slog.Logger
	out    *OutputFormatter
}

// newSession loads the config and installs the logger. Errors are
// reported through the formatter.
func newSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
	if opts.Format == "" {
		out.Format = "text"
	}

	path, optional := opts.ConfigPath, false
	if path == "" {
		path, optional = config.DefaultPath, true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		if outErr := out.Error(ErrCodeConfig, err.Error(), nil); outErr != nil {
			return nil, outErr
		}
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig+": invalid config", err)
	}

	return &session{
		opts:   opts,
		cfg:    cfg,
		logger: newLogger(cmd.ErrOrStderr(), cfg.Logging, opts.Verbose),
		out:    out,
	}, nil
}

func newLogger(w io.Writer, l config.Logging, verbose bool) *slog.Logger {
	level := l.Level
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func (s *session) registry() *backend.Registry {
	if s.opts.Registry != nil {
		return s.opts.Registry
	}
	return builtin.Registry()
}

// rules loads the embedded rule tables plus the configured rules
// directory, if any.
func (s *session) rules() (*normalize.RuleSet, error) {
	if s.cfg.Pipeline.RulesDir == "" {
		return normalize.DefaultRules()
	}
	return normalize.LoadRules(s.cfg.Pipeline.RulesDir)
}

// useRules installs the loaded output rules on backends that take them.
func (s *session) useRules(b backend.Backend, rs *normalize.RuleSet) {
	if rd, ok := b.(backend.RuleDriven); ok {
		rd.SetOutputRules(rs.For(b.Name()).Output)
	}
}

func (s *session) driver(failFast bool) (*pipeline.Driver, error) {
	rules, err := s.rules()
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Options{
		Registry: s.registry(),
		Rules:    rules,
		FailFast: failFast || s.cfg.Pipeline.FailFast,
		Logger:   s.logger,
	}), nil
}

// openStore opens the configured catalog. A nil store and nil error mean
// the store is disabled.
func (s *session) openStore() (*store.Store, error) {
	path := s.cfg.Pipeline.Store
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s.logger.Debug("opening store", "path", path)
	return store.Open(path, s.opts.StoreOptions...)
}

func (s *session) closeStore(st *store.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		s.logger.Error("error closing store", "error", err)
	}
}

// connect points b at the endpoint configured for it, if any. Without
// one the backend keeps the endpoint it read from the environment.
func (s *session) connect(b backend.Backend) error {
	tc, ok := s.cfg.Transport(b.Name())
	if !ok {
		return nil
	}
	c, ok := b.(backend.Connector)
	if !ok {
		return fmt.Errorf("%s: backend does not accept an endpoint", b.Name())
	}
	s.logger.Debug("connecting backend", "implementation", b.Name(), "endpoint", tc.Endpoint)
	return c.Connect(tc)
}
