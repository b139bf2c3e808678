// Package corelightning is the Protocol Backend for Core Lightning. It
// ingests a combined export of lightningd's per-method JSON schemas and
// talks JSON-RPC 2.0 with named params.
package corelightning

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/normalize"
	"github.com/roach88/ethos/internal/transport"
)

// EnvPrefix is the prefix of the environment variables that configure the
// live endpoint.
const EnvPrefix = "ETHOS_CORE_LIGHTNING"

type Backend struct {
	output normalize.OutputRules
	live   *backend.Live
}

var (
	_ backend.Backend    = (*Backend)(nil)
	_ backend.Connector  = (*Backend)(nil)
	_ backend.RuleDriven = (*Backend)(nil)
)

func New() backend.Backend {
	return NewWithLogger(slog.Default())
}

func NewWithLogger(logger *slog.Logger) *Backend {
	cfg := transport.ConfigFromEnv(EnvPrefix, transport.JSONRPC2)
	return &Backend{
		output: normalize.MustDefaultRules().For(ir.CoreLightning).Output,
		live:   backend.NewLive(cfg, logger),
	}
}

func (b *Backend) Name() ir.Implementation { return ir.CoreLightning }

func (b *Backend) Capabilities() []ir.Capability {
	return []ir.Capability{ir.CapRPC, ir.CapNamedParams, ir.CapLive}
}

func (b *Backend) ExtractProtocolIR(src backend.Source) (*backend.Extraction, error) {
	data, err := os.ReadFile(src.Locator)
	if err != nil {
		return nil, &backend.ParseError{Implementation: ir.CoreLightning, Locator: src.Locator, Err: err}
	}
	return extract(src, data)
}

// NormalizeOutput renames legacy msatoshi fields, strips "msat" suffixes
// and drops fields that change on every call.
func (b *Backend) NormalizeOutput(v any) any {
	return b.output.Apply(v)
}

func (b *Backend) OutputRules() normalize.OutputRules { return b.output }

// SetOutputRules replaces the built-in output rules. It must not be called
// concurrently with NormalizeOutput.
func (b *Backend) SetOutputRules(r normalize.OutputRules) { b.output = r }

func (b *Backend) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return b.live.Call(ctx, method, params)
}

func (b *Backend) Connect(cfg transport.Config) error {
	return b.live.Connect(cfg)
}
