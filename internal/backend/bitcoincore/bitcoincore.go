// Package bitcoincore is the Protocol Backend for Bitcoin Core. It ingests
// the schema.json export produced by bitcoind and talks JSON-RPC 1.0 with
// positional params to a live node.
package bitcoincore

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
// live endpoint (ETHOS_BITCOIN_CORE_URL and friends).
const EnvPrefix = "ETHOS_BITCOIN_CORE"

// Backend implements backend.Backend and backend.Connector.
type Backend struct {
	output normalize.OutputRules
	live   *backend.Live
}

var (
	_ backend.Backend    = (*Backend)(nil)
	_ backend.Connector  = (*Backend)(nil)
	_ backend.RuleDriven = (*Backend)(nil)
)

// New returns a backend configured from the environment.
func New() backend.Backend {
	return NewWithLogger(slog.Default())
}

// NewWithLogger is New with an explicit transport logger.
func NewWithLogger(logger *slog.Logger) *Backend {
	cfg := transport.ConfigFromEnv(EnvPrefix, transport.JSONRPC1)
	return &Backend{
		output: normalize.MustDefaultRules().For(ir.BitcoinCore).Output,
		live:   backend.NewLive(cfg, logger),
	}
}

func (b *Backend) Name() ir.Implementation { return ir.BitcoinCore }

func (b *Backend) Capabilities() []ir.Capability {
	return []ir.Capability{ir.CapRPC, ir.CapPSBT, ir.CapLive}
}

// ExtractProtocolIR reads a schema.json file.
func (b *Backend) ExtractProtocolIR(src backend.Source) (*backend.Extraction, error) {
	data, err := os.ReadFile(src.Locator)
	if err != nil {
		return nil, &backend.ParseError{Implementation: ir.BitcoinCore, Locator: src.Locator, Err: err}
	}
	return extract(src, data)
}

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
