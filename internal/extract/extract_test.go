package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/ir"
	tu "github.com/roach88/ethos/internal/testutil"
)

func paramNames(m *ir.SnapshotMethod) []string {
	var out []string
	for _, p := range m.Params {
		out = append(out, p.Name)
	}
	return out
}

func TestExtractGetBalance(t *testing.T) {
	doc := tu.WalletIR()

	v1, err := Extract(doc, tu.V("1.0"))
	require.NoError(t, err)
	bal, ok := v1.Method("getbalance")
	require.True(t, ok)
	assert.Equal(t, []string{"account"}, paramNames(bal))

	v2, err := Extract(doc, tu.V("2.0"))
	require.NoError(t, err)
	bal, ok = v2.Method("getbalance")
	require.True(t, ok)
	assert.Equal(t, []string{"account", "min_conf"}, paramNames(bal))
	assert.False(t, bal.Params[1].Required)
	assert.Equal(t, 1, bal.Params[1].Position)
}

func TestExtractVersionNotCovered(t *testing.T) {
	_, err := Extract(tu.WalletIR(), tu.V("0.1"))
	require.Error(t, err)
	assert.True(t, IsVersionNotCovered(err))

	var ve *VersionNotCoveredError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "0.1", ve.Version.String())
	assert.Len(t, ve.Known, 3)
}

func TestAbsentMethodIsNotAnError(t *testing.T) {
	snap, err := Extract(tu.WalletIR(), tu.V("3.0"))
	require.NoError(t, err)
	_, ok := snap.Method("getinfo")
	assert.False(t, ok, "getinfo was removed in 3.0")
}

func TestExtractFiltersFieldsAndTypes(t *testing.T) {
	v1, err := Extract(tu.WalletIR(), tu.V("1.0"))
	require.NoError(t, err)
	_, ok := v1.Type("ScriptType")
	assert.False(t, ok)
	utxo, ok := v1.Type("Utxo")
	require.True(t, ok)
	assert.Len(t, utxo.Fields, 3)

	v2, err := Extract(tu.WalletIR(), tu.V("2.5"))
	require.NoError(t, err)
	utxo, _ = v2.Type("Utxo")
	assert.Len(t, utxo.Fields, 5)
}

func TestExtractRenumbersPositions(t *testing.T) {
	doc := tu.WalletIR()
	for i := range doc.Methods {
		if doc.Methods[i].Name == "listunspent" {
			doc.Methods[i].Params[0].Range = ir.Since(tu.V("2.0"))
		}
	}
	snap, err := Extract(doc, tu.V("1.0"))
	require.NoError(t, err)
	m, _ := snap.Method("listunspent")
	require.Len(t, m.Params, 2)
	assert.Equal(t, "maxconf", m.Params[0].Name)
	assert.Equal(t, 0, m.Params[0].Position)
	assert.Equal(t, 1, m.Params[1].Position)
}

func TestExtractUnresolvedType(t *testing.T) {
	doc := tu.WalletIR()
	for i := range doc.Types {
		if doc.Types[i].Name == "ScriptType" {
			doc.Types[i].Range = ir.Since(tu.V("3.0"))
		}
	}
	_, err := Extract(doc, tu.V("2.0"))
	var ue *UnresolvedTypeError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "ScriptType", ue.Type)
	assert.Equal(t, "field Utxo.script_type", ue.Referrer)
}

// Adding a later version to the history never changes what an earlier
// version extracts to.
func TestExtractionIsMonotonic(t *testing.T) {
	doc := tu.WalletIR()
	before, err := Extract(doc, tu.V("2.0"))
	require.NoError(t, err)

	doc.Versions = append(doc.Versions, ir.VersionInfo{Version: tu.V("4.0")})
	for i := range doc.Methods {
		if doc.Methods[i].Name == "ping" {
			doc.Methods[i].Range = ir.Between(tu.V("1.0"), tu.V("4.0"))
		}
	}
	doc.Methods = append(doc.Methods, ir.MethodDescriptor{
		Name: "ping", Category: "control", Params: []ir.ParamDescriptor{},
		Result: &ir.TypeRef{Primitive: ir.PrimInteger}, Range: ir.Since(tu.V("4.0")),
	})

	after, err := Extract(doc, tu.V("2.0"))
	require.NoError(t, err)
	beforeHash, err := before.Hash()
	require.NoError(t, err)
	afterHash, err := after.Hash()
	require.NoError(t, err)
	assert.Equal(t, beforeHash, afterHash)
}

func TestExtractDoesNotMutate(t *testing.T) {
	doc := tu.WalletIR()
	h := doc.MustHash()
	_, err := Extract(doc, tu.V("2.0"))
	require.NoError(t, err)
	assert.Equal(t, h, doc.MustHash())
}
