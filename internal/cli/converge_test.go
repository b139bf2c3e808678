package cli

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/artifact"
	"github.com/roach88/ethos/internal/convergence"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/normalize"
	"github.com/roach88/ethos/internal/store"
	"github.com/roach88/ethos/internal/testutil"
	"github.com/roach88/ethos/internal/transport"
)

const goodUnspent = `[{"txid": "ab", "vout": 0, "amount": 0.5, "label": "cold"}]`

func TestConvergeConforming(t *testing.T) {
	w := newWorkspace(t, "json")
	w.writeWalletIR(t)
	w.node.responses["listunspent"] = json.RawMessage(goodUnspent)

	out, err := execute(t, NewConvergeCommand(w.opts), "bitcoin_core", "2.0")
	require.NoError(t, err)

	var res ConvergeResult
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, res.Observations)
	assert.Equal(t, 0, res.Divergent)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
	assert.Equal(t, "run-1", res.RunID)

	calls := slices.Clone(w.node.calls)
	slices.Sort(calls)
	assert.Equal(t, []string{"getinfo", "listunspent", "ping"}, calls, "only methods without required params")

	run, err := w.openStore(t).GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunOK, run.Status)
	assert.Equal(t, "converge", run.Command)
}

func TestConvergeReportsDivergences(t *testing.T) {
	w := newWorkspace(t, "json")
	w.writeWalletIR(t)
	w.node.responses["listunspent"] = json.RawMessage(`[{"txid": "ab", "vout": 0}]`)

	out, err := execute(t, NewConvergeCommand(w.opts), "bitcoin_core", "2.0")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res ConvergeResult
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, ErrCodeDivergence, resp.Error.Code)
	assert.Equal(t, 1, res.Divergent)
	assert.InDelta(t, 2.0/3.0, res.Score, 1e-9)
	require.Len(t, res.Divergences, 1)
	assert.Equal(t, convergence.Divergence{
		Method:   "listunspent",
		Path:     "$[0].amount",
		Kind:     convergence.KindMissingField,
		Expected: "amount",
	}, res.Divergences[0])

	st := w.openStore(t)
	ctx := context.Background()
	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Contains(t, run.Error, "1 of 3 responses diverge")

	recorded, err := st.Divergences(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, res.Divergences, recorded)
}

func TestConvergeTextOutput(t *testing.T) {
	w := newWorkspace(t, "text")
	w.writeWalletIR(t)
	w.node.responses["listunspent"] = json.RawMessage(`[{"txid": "ab", "vout": "zero", "amount": 1}]`)

	out, err := execute(t, NewConvergeCommand(w.opts), "bitcoin_core", "2.0", "--method", "listunspent")
	require.Error(t, err)
	assert.Contains(t, out, "✗ bitcoin_core 2.0 diverges: 1 of 1 responses, score 0.00")
	assert.Contains(t, out, "listunspent $[0].vout: want integer, got string")
}

func TestConvergeSkipsRejectedMethods(t *testing.T) {
	w := newWorkspace(t, "text")
	w.writeWalletIR(t)
	w.node.responses["listunspent"] = json.RawMessage(goodUnspent)
	w.node.failures["getinfo"] = &transport.RPCError{Code: -32601, Message: "Method not found"}

	out, err := execute(t, NewConvergeCommand(w.opts), "bitcoin_core", "2.0", "--parallel", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ bitcoin_core 2.0 converges: 2 responses, score 1.00")
	assert.Contains(t, out, "skipped getinfo")

	run, err := w.openStore(t).GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Warnings)
}

func TestConvergeAbortsOnTransportFailure(t *testing.T) {
	w := newWorkspace(t, "json")
	w.writeWalletIR(t)
	w.node.failures["ping"] = &transport.TransportError{Op: "dial", Method: "ping", Err: errors.New("connection refused")}

	out, err := execute(t, NewConvergeCommand(w.opts), "bitcoin_core", "2.0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeTransport, decodeResponse(t, out, nil).Error.Code)

	run, err := w.openStore(t).GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
}

func TestConvergeExplicitMethods(t *testing.T) {
	w := newWorkspace(t, "json")
	w.writeWalletIR(t)
	w.node.responses["getBalance"] = json.RawMessage(`2.5`)

	_, err := execute(t, NewConvergeCommand(w.opts), "bitcoin_core", "2.0", "-m", "getbalance")
	require.NoError(t, err)
	assert.Equal(t, []string{"getBalance"}, w.node.calls, "calls use the wire name")

	out, err := execute(t, NewConvergeCommand(w.opts), "bitcoin_core", "3.0", "-m", "getinfo")
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnknownMethod, decodeResponse(t, out, nil).Error.Code)
}

func TestConvergeDefaultSelectionIsReadOnly(t *testing.T) {
	noParams := []ir.SnapshotParam{}
	snap := &ir.VersionSnapshot{
		Implementation: ir.BitcoinCore,
		Version:        ir.MustParseVersion("26.0"),
		Methods: []ir.SnapshotMethod{
			{Name: "getblockcount", Params: noParams},
			{Name: "getblockhash", Params: []ir.SnapshotParam{{Name: "height", Type: ir.Prim(ir.PrimInteger), Required: true}}},
			{Name: "getnewaddress", Params: noParams},
			{Name: "keypoolrefill", Params: noParams},
			{Name: "stop", Params: noParams},
		},
	}
	rules := normalize.MustDefaultRules().For(ir.BitcoinCore).Converge

	selected, err := convergeMethods(snap, nil, rules)
	require.NoError(t, err)
	var names []string
	for _, m := range selected {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"getblockcount"}, names)

	explicit, err := convergeMethods(snap, []string{"stop"}, rules)
	require.NoError(t, err)
	require.Len(t, explicit, 1, "named methods are called as asked")
}

func TestConvergeKeepsVolatileFieldsInShape(t *testing.T) {
	srv, _ := nodeServer(t, map[string]any{
		"getblockchaininfo": map[string]any{
			"blocks":               101,
			"time":                 1690000000,
			"mediantime":           1689999000,
			"verificationprogress": 1,
		},
	})
	w := liveWorkspace(t, "json", srv)

	doc := testutil.WalletIR()
	doc.Types = append(doc.Types, ir.TypeDescriptor{
		Name: "BlockchainInfo",
		Kind: ir.KindObject,
		Fields: []ir.Field{
			{Name: "blocks", Type: ir.Prim(ir.PrimInteger), Required: true, Range: ir.Since(testutil.V("1.0"))},
			{Name: "time", Type: ir.Prim(ir.PrimTimestamp), Required: true, Range: ir.Since(testutil.V("1.0"))},
			{Name: "mediantime", Type: ir.Prim(ir.PrimTimestamp), Required: true, Range: ir.Since(testutil.V("1.0"))},
			{Name: "verificationprogress", Type: ir.Prim(ir.PrimNumber), Required: true, Range: ir.Since(testutil.V("1.0"))},
		},
		Range: ir.Since(testutil.V("1.0")),
	})
	doc.Methods = append(doc.Methods, testutil.Method("getblockchaininfo", "blockchain", testutil.Result(ir.RefTo("BlockchainInfo"))))
	doc.Methods[len(doc.Methods)-1].Range = ir.Since(testutil.V("1.0"))
	doc.Sort()
	require.NoError(t, artifact.Write(artifact.Path(w.path("ir"), ir.BitcoinCore), doc))

	out, err := execute(t, NewConvergeCommand(w.opts), "bitcoin_core", "2.0", "-m", "getblockchaininfo")
	require.NoError(t, err, out)

	var res ConvergeResult
	decodeResponse(t, out, &res)
	assert.Equal(t, 1, res.Observations)
	assert.Empty(t, res.Divergences)
}
