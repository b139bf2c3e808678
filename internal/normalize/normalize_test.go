package normalize

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/ir"
)

func v(s string) ir.Version { return ir.MustParseVersion(s) }

func messyDoc() *ir.ProtocolIR {
	doc := ir.NewProtocolIR(ir.CoreLightning)
	doc.Versions = []ir.VersionInfo{{Version: v("24.08")}}
	doc.Types = []ir.TypeDescriptor{
		{
			Name: "listfunds_result",
			Kind: ir.KindObject,
			Fields: []ir.Field{
				{Name: "msatoshi", Type: ir.Prim("u64|msat"), Range: ir.Since(v("24.08"))},
				{Name: "ourAmount", Type: ir.Prim(" Integer "), Default: ir.Lit(ir.IRString("0")), Range: ir.Since(v("24.08"))},
			},
			Range: ir.Since(v("24.08")),
		},
		{
			Name: "hash_or_height",
			Kind: ir.KindObject,
			Fields: []ir.Field{
				{Name: "hash", Type: ir.Prim(ir.PrimHex), Range: ir.Since(v("24.08"))},
				{Name: "height", Type: ir.Maybe(ir.Prim(ir.PrimInteger)), Range: ir.Since(v("24.08"))},
			},
			Range: ir.Since(v("24.08")),
		},
	}
	doc.Methods = []ir.MethodDescriptor{
		{
			Name:        " listFunds ",
			Category:    " Query",
			Description: "  Lists funds.\n",
			Params: []ir.ParamDescriptor{
				{Name: "spent", Type: ir.Prim(ir.PrimBoolean), Default: ir.Lit(ir.IRString("false")), Position: 0, Range: ir.Since(v("24.08"))},
				{Name: "minConf", Type: ir.Prim(ir.PrimInteger), Default: ir.Lit(ir.IRNull{}), Position: 1, Range: ir.Since(v("24.08"))},
				{Name: "id", Type: ir.Prim(ir.PrimString), Required: true, Default: ir.Lit(ir.IRString("x")), Position: 2, Range: ir.Since(v("24.08"))},
			},
			Result: &ir.TypeRef{Ref: "listfunds_result"},
			Range:  ir.Since(v("24.08")),
		},
		{
			Name:     "getblock",
			Category: "query",
			Params: []ir.ParamDescriptor{
				{Name: "target", Type: ir.RefTo("hash_or_height"), Required: true, Range: ir.Since(v("24.08"))},
			},
			Range: ir.Since(v("24.08")),
		},
	}
	return doc
}

func testRules() Rules {
	return Rules{
		MethodsCase:    CaseLower,
		ParamsCase:     CaseSnake,
		FieldsCase:     CaseSnake,
		TypesCase:      CasePascal,
		FieldAliases:   map[string]string{"msatoshi": "amount_msat"},
		NullDefault:    "absent",
		CoerceDefaults: true,
		UnionSeparator: "|",
		UnionTypes:     []string{"*Or*"},
	}
}

func TestNormalizeCanonicalizes(t *testing.T) {
	out := Normalize(messyDoc(), testRules())

	require.Len(t, out.Methods, 2)
	assert.Equal(t, "getblock", out.Methods[0].Name, "methods are sorted")

	m := out.Methods[1]
	assert.Equal(t, "listfunds", m.Name)
	assert.Equal(t, "listFunds", m.WireName)
	assert.Equal(t, "query", m.Category)
	assert.Equal(t, "Lists funds.", m.Description)
	assert.Equal(t, "ListfundsResult", m.Result.Ref)

	spent := m.Params[0]
	assert.True(t, spent.Default.Equal(ir.Lit(ir.IRBool(false))), "string defaults are coerced")

	minConf := m.Params[1]
	assert.Equal(t, "min_conf", minConf.Name)
	assert.Equal(t, "minConf", minConf.WireName)
	assert.Nil(t, minConf.Default, "explicit null defaults become absent")

	assert.Nil(t, m.Params[2].Default, "required params carry no default")

	result, ok := out.Type("ListfundsResult")
	require.True(t, ok)
	assert.Equal(t, "amount_msat", result.Fields[0].Name)
	assert.Equal(t, "msatoshi", result.Fields[0].WireName)
	assert.Equal(t, ir.OneOf(ir.Prim("u64"), ir.Prim("msat")), result.Fields[0].Type)
	assert.Equal(t, "our_amount", result.Fields[1].Name)
	assert.Equal(t, ir.Prim(ir.PrimInteger), result.Fields[1].Type)
	assert.True(t, result.Fields[1].Default.Equal(ir.Lit(ir.IRInt(0))))

	union, ok := out.Type("HashOrHeight")
	require.True(t, ok)
	assert.Equal(t, ir.KindUnion, union.Kind)
	require.Len(t, union.Variants, 2)
	assert.Equal(t, "height", union.Variants[1].Name)
	assert.Equal(t, ir.Prim(ir.PrimInteger), *union.Variants[1].Type)
	assert.Equal(t, "HashOrHeight", out.Methods[0].Params[0].Type.Ref)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	once := Normalize(messyDoc(), testRules())
	twice := Normalize(once, testRules())

	assert.Equal(t, once, twice)
	assert.Equal(t, once.MustHash(), twice.MustHash())
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	doc := messyDoc()
	before := doc.MustHash()
	_ = Normalize(doc, testRules())
	assert.Equal(t, before, doc.MustHash())
}

func TestNormalizeIdentityRules(t *testing.T) {
	doc := messyDoc()
	out := Normalize(doc, (*RuleSet)(nil).For(ir.CoreLightning))

	m, ok := findMethod(out, "listFunds")
	require.True(t, ok, "names are trimmed but not re-cased")
	assert.Empty(t, m.WireName)
	assert.Equal(t, ir.IRString("false"), m.Params[0].Default.Value, "coercion is off without rules")
}

func findMethod(doc *ir.ProtocolIR, name string) (ir.MethodDescriptor, bool) {
	for _, m := range doc.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return ir.MethodDescriptor{}, false
}

func TestMethodAliases(t *testing.T) {
	doc := ir.NewProtocolIR(ir.BitcoinCore)
	doc.Methods = []ir.MethodDescriptor{{Name: "getInfoLegacy", Category: "control", Range: ir.Since(v("1.0"))}}

	r := Rules{MethodsCase: CaseLower, MethodAliases: map[string]string{"getinfolegacy": "getinfo"}}
	out := Normalize(doc, r)

	assert.Equal(t, "getinfo", out.Methods[0].Name)
	assert.Equal(t, "getInfoLegacy", out.Methods[0].WireName)
	assert.Equal(t, out, Normalize(out, r))
}

func TestCaseApply(t *testing.T) {
	tests := []struct {
		c        Case
		in, want string
	}{
		{CaseLower, "getBlockHash", "getblockhash"},
		{CaseSnake, "minConf", "min_conf"},
		{CaseSnake, "include_watchonly", "include_watchonly"},
		{CaseSnake, "HTTPServer", "http_server"},
		{CaseCamel, "min_conf", "minConf"},
		{CaseCamel, "HTTPServer", "httpServer"},
		{CasePascal, "getblockchaininfo_result", "GetblockchaininfoResult"},
		{CasePascal, "v2Data", "V2Data"},
		{CaseKeep, " Mixed_Case ", "Mixed_Case"},
	}
	for _, tt := range tests {
		t.Run(string(tt.c)+"/"+tt.in, func(t *testing.T) {
			got := tt.c.Apply(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, tt.c.Apply(got), "case conversion must be idempotent")
		})
	}
}

func TestDefaultRulesLoad(t *testing.T) {
	rs, err := DefaultRules()
	require.NoError(t, err)

	assert.Equal(t, []ir.Implementation{ir.BitcoinCore, ir.CoreLightning}, rs.Implementations())

	btc := rs.For(ir.BitcoinCore)
	assert.Equal(t, CaseLower, btc.MethodsCase)
	assert.Equal(t, CaseKeep, btc.FieldsCase, "unset cases take the schema default")
	assert.Equal(t, "absent", btc.NullDefault)
	assert.True(t, btc.CoerceDefaults)
	assert.Contains(t, btc.Output.VolatileFields, "mediantime")

	cln := rs.For(ir.CoreLightning)
	assert.Equal(t, "|", cln.UnionSeparator)
	assert.Equal(t, "amount_msat", cln.FieldAliases["msatoshi"])
	assert.Equal(t, UnitConversion{Suffix: "msat", Factor: 1}, cln.Output.UnitConversions["amount_msat"])
}

func TestLoadRulesExtraDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lnd.cue"), []byte(`
rules: lnd: {
	methods_case: "camel"
	method_aliases: {GetInfoRequest: "getInfo"}
}
`), 0o644))

	rs, err := LoadRules(dir)
	require.NoError(t, err)
	assert.Equal(t, CaseCamel, rs.For("lnd").MethodsCase)
	assert.Len(t, rs.Implementations(), 3)
}

func TestLoadRulesRejectsConflicts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "override.cue"), []byte(`
rules: bitcoin_core: methods_case: "snake"
`), 0o644))

	_, err := LoadRules(dir)
	require.Error(t, err)
}

func TestLoadRulesRejectsUnknownCase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(`
rules: lnd: methods_case: "SCREAMING"
`), 0o644))

	_, err := LoadRules(dir)
	require.Error(t, err)
}

func TestLoadRulesRejectsAliasChains(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chain.cue"), []byte(`
rules: lnd: method_aliases: {a: "b", b: "c"}
`), 0o644))

	_, err := LoadRules(dir)
	require.Error(t, err)

	var re *RuleError
	assert.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), "itself an alias")
}

func TestOutputRulesApply(t *testing.T) {
	rs := MustDefaultRules()
	out := rs.For(ir.CoreLightning).Output

	var raw any
	dec := json.NewDecoder(stringsReader(`{
		"msatoshi": "1000msat",
		"blockheight": 812345,
		"channels": [{"our_amount_msat": "2500", "short_channel_id": "1x2x3"}]
	}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&raw))

	got := out.Apply(raw).(map[string]any)
	assert.Equal(t, json.Number("1000"), got["amount_msat"])
	assert.NotContains(t, got, "msatoshi")
	assert.NotContains(t, got, "blockheight", "volatile fields are dropped")

	ch := got["channels"].([]any)[0].(map[string]any)
	assert.Equal(t, json.Number("2500"), ch["our_amount_msat"])
	assert.Equal(t, "1x2x3", ch["short_channel_id"])

	assert.Equal(t, got, out.Apply(got), "output normalization is idempotent")
}

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }

func TestOutputRulesShapeKeepsVolatileFields(t *testing.T) {
	out := MustDefaultRules().For(ir.CoreLightning).Output

	var raw any
	dec := json.NewDecoder(stringsReader(`{"msatoshi": "1000msat", "blockheight": 812345}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&raw))

	got := out.Shape(raw).(map[string]any)
	assert.Equal(t, json.Number("812345"), got["blockheight"])
	assert.Equal(t, json.Number("1000"), got["amount_msat"], "mappings and conversions still apply")
	assert.NotContains(t, got, "msatoshi")
}

func TestConvergeRulesSelectReadOnlyMethods(t *testing.T) {
	btc := MustDefaultRules().For(ir.BitcoinCore).Converge
	for _, m := range []string{"getblockcount", "getblockchaininfo", "listunspent", "ping", "uptime"} {
		assert.True(t, btc.Selects(m), m)
	}
	for _, m := range []string{"stop", "keypoolrefill", "getnewaddress", "getrawchangeaddress", "sendtoaddress"} {
		assert.False(t, btc.Selects(m), m)
	}

	var none ConvergeRules
	assert.True(t, none.Selects("getinfo"))
	assert.True(t, none.Selects("listfunds"))
	assert.False(t, none.Selects("stop"), "without rules only get* and list* qualify")
}

func TestLoadRulesRejectsBadConvergePattern(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lnd.cue"), []byte(`
rules: lnd: converge: include: ["get[*"]
`), 0o644))

	_, err := LoadRules(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed glob pattern")
}
