package codegen

import (
	"bytes"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/extract"
	"github.com/roach88/ethos/internal/ir"
	tu "github.com/roach88/ethos/internal/testutil"
)

func walletSnapshot(t *testing.T, version string) *ir.VersionSnapshot {
	t.Helper()
	snap, err := extract.Extract(tu.WalletIR(), tu.V(version))
	require.NoError(t, err)
	return snap
}

func generate(t *testing.T, snap *ir.VersionSnapshot, opts Options) map[string]string {
	t.Helper()
	files, err := Generate(snap, TargetGo, opts)
	require.NoError(t, err)
	out := make(map[string]string, len(files))
	for _, f := range files {
		out[f.Path] = string(f.Content)
	}
	return out
}

func paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestGenerateFileLayout(t *testing.T) {
	files, err := Generate(walletSnapshot(t, "2.0"), TargetGo, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"blockchain.go",
		"client.go",
		"control.go",
		"types.go",
		"wallet.go",
		"checksums.txt",
	}, paths(files))
}

func TestGenerateIsDeterministic(t *testing.T) {
	first, err := Generate(walletSnapshot(t, "2.0"), TargetGo, Options{})
	require.NoError(t, err)
	second, err := Generate(walletSnapshot(t, "2.0"), TargetGo, Options{})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Path, second[i].Path)
		assert.True(t, bytes.Equal(first[i].Content, second[i].Content), "%s differs between runs", first[i].Path)
	}
}

func TestGeneratedFilesParse(t *testing.T) {
	snap := walletSnapshot(t, "2.0")
	hash, err := snap.Hash()
	require.NoError(t, err)

	for _, dialect := range []Dialect{Positional, Named} {
		for path, content := range generate(t, snap, Options{Dialect: dialect}) {
			if !strings.HasSuffix(path, ".go") {
				continue
			}
			t.Run(string(dialect)+"/"+path, func(t *testing.T) {
				f, err := parser.ParseFile(token.NewFileSet(), path, content, parser.ParseComments)
				require.NoError(t, err)
				assert.Equal(t, "bitcoincore", f.Name.Name)
				assert.True(t, strings.HasPrefix(content,
					"// Code generated by ethos from bitcoin_core 2.0. DO NOT EDIT.\n// Snapshot: "+hash+"\n"))
			})
		}
	}
}

func TestOptionalParamsGoInOptionsStruct(t *testing.T) {
	wallet := generate(t, walletSnapshot(t, "2.0"), Options{})["wallet.go"]

	assert.Contains(t, wallet,
		"func (c *Client) Getbalance(ctx context.Context, account string, opts *GetbalanceOptions) (json.Number, error) {")

	block := regexp.MustCompile(`(?s)type GetbalanceOptions struct \{\n(.*?)\n\}`).FindStringSubmatch(wallet)
	require.Len(t, block, 2)
	var fields []string
	for _, line := range strings.Split(block[1], "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "//") {
			fields = append(fields, strings.Join(strings.Fields(line), " "))
		}
	}
	assert.Equal(t, []string{"MinConf *int64"}, fields, "required params never appear in the options struct")
	assert.Contains(t, wallet, "// MinConf: The node defaults to 1.")

	assert.Contains(t, wallet, "func (c *Client) Listunspent(ctx context.Context, opts *ListunspentOptions) ([]Utxo, error) {",
		"a method with only optional params takes no positional args")
	assert.Contains(t, wallet, "Addresses []string", "slices are nilable and need no pointer")
}

func TestOptionDocEndsSentenceBeforeDefault(t *testing.T) {
	snap := walletSnapshot(t, "2.0")
	for i := range snap.Methods {
		for j := range snap.Methods[i].Params {
			p := &snap.Methods[i].Params[j]
			switch p.Name {
			case "min_conf":
				p.Description = "Only include outputs with this many confirmations"
			case "maxconf":
				p.Description = "Upper confirmation bound."
			}
		}
	}

	wallet := generate(t, snap, Options{})["wallet.go"]
	assert.Contains(t, wallet, "// MinConf: Only include outputs with this many confirmations. The node defaults to 1.")
	assert.Contains(t, wallet, "// Maxconf: Upper confirmation bound. The node defaults to 9999999.")
}

func TestOptionsStructOmittedWithoutOptionalParams(t *testing.T) {
	snap := walletSnapshot(t, "1.0")
	wallet := generate(t, snap, Options{})["wallet.go"]

	assert.Contains(t, wallet, "func (c *Client) Getbalance(ctx context.Context, account string) (json.Number, error) {")
	assert.NotContains(t, wallet, "GetbalanceOptions")
}

func TestPositionalBody(t *testing.T) {
	files := generate(t, walletSnapshot(t, "2.0"), Options{Dialect: Positional})
	wallet := files["wallet.go"]

	assert.Contains(t, wallet, `args := []any{account, json.RawMessage("1")}`)
	assert.Contains(t, wallet, `set := []bool{true, false}`)
	assert.Contains(t, wallet, `args[1], set[1] = *opts.MinConf, true`)
	assert.Contains(t, wallet, `err := c.call(ctx, "getBalance", positional(args, set), &out)`)
	assert.Contains(t, files["client.go"], "func positional(args []any, set []bool) []any {")

	control := files["control.go"]
	assert.Contains(t, control, "func (c *Client) Ping(ctx context.Context) error {")
	assert.Contains(t, control, `return c.call(ctx, "ping", args, nil)`)
}

func TestNamedBody(t *testing.T) {
	files := generate(t, walletSnapshot(t, "2.0"), Options{Dialect: Named})
	wallet := files["wallet.go"]

	assert.Contains(t, wallet, `"account": account,`)
	assert.Contains(t, wallet, `params["minConf"] = *opts.MinConf`)
	assert.Contains(t, wallet, `err := c.call(ctx, "getBalance", params, &out)`)
	assert.NotContains(t, files["client.go"], "func positional(", "the helper is only emitted when used")
}

func TestDeprecatedMarker(t *testing.T) {
	control := generate(t, walletSnapshot(t, "2.0"), Options{})["control.go"]

	assert.Contains(t, control, "// Getinfo calls getinfo.\n//\n// Returns an object containing various state info.\n//\n// Deprecated: the node marks getinfo as deprecated.\n")
	assert.Equal(t, 1, strings.Count(control, "Deprecated:"), "ping is not deprecated")
}

func TestRemovedMethodIsNotGenerated(t *testing.T) {
	control := generate(t, walletSnapshot(t, "3.0"), Options{})["control.go"]
	assert.NotContains(t, control, "Getinfo")
	assert.Contains(t, control, "Ping")
}

func TestTypesFile(t *testing.T) {
	types := generate(t, walletSnapshot(t, "2.0"), Options{})["types.go"]

	assert.Contains(t, types, "type Utxo struct {")
	assert.Contains(t, types, "// Utxo is the Utxo type. An unspent transaction output.")
	assert.Regexp(t, `Txid\s+string\s+`+"`json:\"txid\"`", types)
	assert.Regexp(t, `Label\s+\*string\s+`+"`json:\"label,omitempty\"`", types)
	assert.Regexp(t, `ScriptType\s+\*ScriptType\s+`+"`json:\"script_type,omitempty\"`", types)

	assert.Contains(t, types, "type ScriptType string")
	assert.Regexp(t, `ScriptTypeWitnessV1Taproot\s+ScriptType = "witness_v1_taproot"`, types)

	assert.Contains(t, types, "type BlockOrHash struct {")
	assert.Contains(t, types, "func (u BlockOrHash) AsBlock() (BlockHeader, error) {")
}

func TestTypesFollowSnapshotVersion(t *testing.T) {
	types := generate(t, walletSnapshot(t, "1.0"), Options{})["types.go"]

	assert.NotContains(t, types, "ScriptType", "the enum starts at 2.0")
	assert.NotContains(t, types, "Label")
}

func TestGenerateRejects(t *testing.T) {
	snap := walletSnapshot(t, "2.0")

	_, err := Generate(snap, "rust", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedTarget)

	_, err = Generate(snap, TargetGo, Options{Package: "func"})
	assert.Error(t, err)

	_, err = Generate(snap, TargetGo, Options{Dialect: "xml"})
	assert.Error(t, err)
}

func TestNameCollision(t *testing.T) {
	snap := walletSnapshot(t, "2.0")
	snap.Types = append(snap.Types, ir.SnapshotType{Name: "getbalance", Kind: ir.KindPrimitive, Primitive: ir.PrimString})

	_, err := Generate(snap, TargetGo, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}

func TestCategoryFile(t *testing.T) {
	tests := map[string]string{
		"wallet":        "wallet.go",
		"Raw Tx":        "raw_tx.go",
		"client":        "client_rpc.go",
		"types":         "types_rpc.go",
		"net_test":      "net_test_rpc.go",
		"2fa":           "2fa_rpc.go",
		"":              "misc.go",
		"--":            "misc.go",
		"zmq/notify":    "zmq_notify.go",
		"Util":          "util.go",
		"blockchain  ": "blockchain.go",
	}
	for in, want := range tests {
		assert.Equal(t, want, categoryFile(in), "category %q", in)
	}
}

func TestWriteAndVerify(t *testing.T) {
	dir := t.TempDir()
	files, err := Generate(walletSnapshot(t, "2.0"), TargetGo, Options{})
	require.NoError(t, err)
	require.NoError(t, Write(dir, files))

	drifts, err := Verify(dir)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "wallet.go"), []byte("package bitcoincore\n"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, "control.go")))

	drifts, err = Verify(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Drift{
		{Path: "control.go", Reason: "missing"},
		{Path: "wallet.go", Reason: "modified"},
	}, drifts)
}

func TestWriteRefusesEscapingPaths(t *testing.T) {
	err := Write(t.TempDir(), []File{{Path: "../escape.go", Content: []byte("x")}})
	assert.Error(t, err)
}
