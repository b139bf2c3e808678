package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ethos/internal/ir"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Timeout time.Duration
	Raw     bool
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <implementation> <method> [params]",
		Short: "Call one RPC on a live node",
		Long: `Send one JSON-RPC request through the implementation's backend and
print the normalized result.

params is a JSON array (positional) or object (named). The endpoint comes
from [backends.<implementation>] in the config file, else from the
ETHOS_<IMPLEMENTATION>_URL environment variables.

Example:
  ethos call bitcoin_core getblockcount
  ethos call bitcoin_core getblockhash '[0]'
  ethos call core_lightning listfunds '{"spent": false}' --timeout 5s`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := ""
			if len(args) == 3 {
				params = args[2]
			}
			return runCall(opts, args[0], args[1], params, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "print the node's result without normalization")

	return cmd
}

func runCall(opts *CallOptions, impl, method, rawParams string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	params, err := parseParams(rawParams)
	if err != nil {
		if outErr := s.out.Error(ErrCodeGeneric, err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, ErrCodeGeneric+": invalid params", err)
	}

	b, err := s.registry().Lookup(ir.Implementation(impl))
	if err != nil {
		return s.out.Fail("failed to find backend", err, nil)
	}
	if err := s.connect(b); err != nil {
		return s.out.Fail("failed to configure endpoint", err, nil)
	}
	rules, err := s.rules()
	if err != nil {
		return s.out.Fail("failed to load normalization rules", err, nil)
	}
	s.useRules(b, rules)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := b.Call(ctx, method, params)
	if err != nil {
		return s.out.Fail("call "+method+" failed", err, nil)
	}
	s.logger.Debug("call returned", "implementation", impl, "method", method, "elapsed", time.Since(start))

	result, err := decodeResult(raw)
	if err != nil {
		return s.out.Fail("failed to decode result", err, nil)
	}
	if !opts.Raw {
		result = b.NormalizeOutput(result)
	}

	if s.out.Format == "json" {
		return s.out.Success(result)
	}
	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return s.out.Fail("failed to encode result", err, nil)
	}
	return s.out.Success(string(text))
}

// parseParams accepts a JSON array, a JSON object or nothing.
func parseParams(raw string) (any, error) {
	raw = string(bytes.TrimSpace([]byte(raw)))
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	switch v.(type) {
	case []any, map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("params must be a JSON array or object")
	}
}

func decodeResult(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
