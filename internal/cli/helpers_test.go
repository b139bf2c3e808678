package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/artifact"
	"github.com/roach88/ethos/internal/backend"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/store"
	"github.com/roach88/ethos/internal/testutil"
)

// fakeNode is a bitcoin_core backend that serves draft fragments by
// file name and canned responses by method.
type fakeNode struct {
	drafts map[string]*ir.ProtocolIR

	mu        sync.Mutex
	responses map[string]json.RawMessage
	failures  map[string]error
	calls     []string
}

func newFakeNode() *fakeNode {
	drafts := testutil.GetBalanceDrafts()
	return &fakeNode{
		drafts:    map[string]*ir.ProtocolIR{"1.0.json": drafts[0], "2.0.json": drafts[1]},
		responses: map[string]json.RawMessage{},
		failures:  map[string]error{},
	}
}

func (f *fakeNode) Name() ir.Implementation       { return ir.BitcoinCore }
func (f *fakeNode) Capabilities() []ir.Capability { return []ir.Capability{ir.CapRPC, ir.CapLive} }
func (f *fakeNode) NormalizeOutput(v any) any     { return v }

func (f *fakeNode) ExtractProtocolIR(src backend.Source) (*backend.Extraction, error) {
	d, ok := f.drafts[filepath.Base(src.Locator)]
	if !ok {
		return nil, &backend.ParseError{Implementation: ir.BitcoinCore, Locator: src.Locator, Err: os.ErrNotExist}
	}
	return &backend.Extraction{IR: d.Clone()}, nil
}

func (f *fakeNode) Call(_ context.Context, method string, _ any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if err, ok := f.failures[method]; ok {
		return nil, err
	}
	if r, ok := f.responses[method]; ok {
		return r, nil
	}
	return json.RawMessage("null"), nil
}

// workspace is a temp project directory with an ethos.toml.
type workspace struct {
	dir  string
	opts *RootOptions
	node *fakeNode
}

const testConfig = `
[pipeline]
manifest = "schemas/manifest.yaml"
ir_dir   = "ir"
store    = "state/ethos.db"

[codegen]
output_dir = "gen"

[logging]
level = "error"
`

const testManifest = `
implementations:
  bitcoin_core:
    - version: "1.0"
      source: 1.0.json
      release_date: "2023-01-10"
    - version: "2.0"
      source: 2.0.json
`

func newWorkspace(t *testing.T, format string) *workspace {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ethos.toml"), testConfig)
	writeFile(t, filepath.Join(dir, "schemas", "manifest.yaml"), testManifest)

	node := newFakeNode()
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(ir.BitcoinCore, func() backend.Backend { return node }))
	reg.Seal()

	return &workspace{
		dir:  dir,
		node: node,
		opts: &RootOptions{
			Format:     format,
			ConfigPath: filepath.Join(dir, "ethos.toml"),
			Registry:   reg,
			StoreOptions: []store.Option{
				store.WithClock(testutil.NewDeterministicClock()),
				store.WithIDs(&testutil.SequentialIDs{}),
			},
		},
	}
}

func (w *workspace) path(parts ...string) string {
	return filepath.Join(append([]string{w.dir}, parts...)...)
}

// writeWalletIR puts the wallet fixture where commands look for it.
func (w *workspace) writeWalletIR(t *testing.T) *ir.ProtocolIR {
	t.Helper()
	doc := testutil.WalletIR()
	require.NoError(t, artifact.Write(artifact.Path(w.path("ir"), ir.BitcoinCore), doc))
	return doc
}

func (w *workspace) openStore(t *testing.T) *store.Store {
	t.Helper()
	require.NoError(t, os.MkdirAll(w.path("state"), 0o755))
	st, err := store.Open(w.path("state", "ethos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// execute runs one command and returns stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeResponse parses a --format json response, decoding data or
// error details into v when non-nil.
func decodeResponse(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)

	resp := CLIResponse{Status: raw.Status}
	payload := raw.Data
	if raw.Error != nil {
		resp.Error = &CLIError{Code: raw.Error.Code, Message: raw.Error.Message}
		payload = raw.Error.Details
	}
	if v != nil && len(payload) > 0 {
		require.NoError(t, json.Unmarshal(payload, v))
	}
	return resp
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
