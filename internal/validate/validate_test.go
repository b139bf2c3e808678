package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/ir"
	tu "github.com/roach88/ethos/internal/testutil"
)

func codes(vs []Violation) []Code {
	out := make([]Code, len(vs))
	for i, v := range vs {
		out[i] = v.Code
	}
	return out
}

func withoutType(doc *ir.ProtocolIR, name string) *ir.ProtocolIR {
	var kept []ir.TypeDescriptor
	for _, t := range doc.Types {
		if t.Name != name {
			kept = append(kept, t)
		}
	}
	doc.Types = kept
	return doc
}

func TestWalletIRIsValid(t *testing.T) {
	assert.Empty(t, Validate(tu.WalletIR()))
	assert.NoError(t, Check(tu.WalletIR()))
}

func TestDanglingRefReportedOnce(t *testing.T) {
	doc := withoutType(tu.WalletIR(), "Utxo")
	doc.Methods[0].Params = append(doc.Methods[0].Params, ir.ParamDescriptor{
		Name: "spend", Type: ir.ListOf(ir.RefTo("Utxo")), Position: 9, Range: ir.Since(tu.V("1.0")),
	})

	vs := Validate(doc)
	require.Len(t, vs, 1)
	assert.Equal(t, CodeDanglingRef, vs[0].Code)
	assert.Equal(t, "type Utxo", vs[0].Subject)
	assert.Contains(t, vs[0].Message, "listunspent")
}

func TestReportsAllViolations(t *testing.T) {
	doc := tu.WalletIR()
	m, _ := findMethod(doc, "getblock")
	m.Params[0].Default = ir.Lit(ir.IRString("00"))
	m.Params[1].Type = ir.Prim("float")
	doc.Methods = append(doc.Methods, ir.MethodDescriptor{
		Name:     "ping",
		Category: "control",
		Params:   []ir.ParamDescriptor{},
		Range:    ir.Since(tu.V("2.0")),
	})

	err := Check(doc)
	require.Error(t, err)

	var ve *ViolationError
	require.ErrorAs(t, err, &ve)
	assert.ElementsMatch(t, []Code{CodeRequiredDefault, CodeBadTypeRef, CodeOverlappingMethod}, codes(ve.Violations))
	assert.Contains(t, err.Error(), "3 violations")
}

func findMethod(doc *ir.ProtocolIR, name string) (*ir.MethodDescriptor, bool) {
	for i := range doc.Methods {
		if doc.Methods[i].Name == name {
			return &doc.Methods[i], true
		}
	}
	return nil, false
}

func TestRequiredAfterOptional(t *testing.T) {
	doc := tu.WalletIR()
	m, _ := findMethod(doc, "getbalance")
	m.Params = append(m.Params, ir.ParamDescriptor{
		Name: "wallet", Type: ir.Prim(ir.PrimString), Required: true, Position: 2, Range: ir.Since(tu.V("3.0")),
	})

	vs := Validate(doc)
	require.Len(t, vs, 1)
	assert.Equal(t, CodeRequiredAfterOpt, vs[0].Code)
	assert.Equal(t, "param getbalance.wallet", vs[0].Subject)
	assert.Contains(t, vs[0].Message, "min_conf")
	assert.Contains(t, vs[0].Message, "3.0")
}

func TestSplitParamsDoNotOverlap(t *testing.T) {
	doc := tu.WalletIR()
	m, _ := findMethod(doc, "getblock")
	m.Params = append(m.Params, ir.ParamDescriptor{
		Name: "verbose", Type: ir.Prim(ir.PrimBoolean), Position: 2, Range: ir.Since(tu.V("2.0")),
	})
	vs := Validate(doc)
	require.Len(t, vs, 1)
	assert.Equal(t, CodeDuplicateParam, vs[0].Code)

	m.Params[1].Range = ir.Between(tu.V("1.0"), tu.V("2.0"))
	assert.Empty(t, Validate(doc))
}

func TestRangeChecks(t *testing.T) {
	doc := tu.WalletIR()
	info, _ := findMethod(doc, "getinfo")
	info.Params = []ir.ParamDescriptor{{Name: "verbose", Type: ir.Prim(ir.PrimBoolean), Range: ir.Since(tu.V("1.0"))}}

	utxo, _ := doc.Type("Utxo")
	utxo.Fields[3].Range = ir.Between(tu.V("2.0"), tu.V("2.0"))

	assert.ElementsMatch(t, []Code{CodeBadRange, CodeParamOutsideRange}, codes(Validate(doc)))
}

func TestTypeUsedBeforeItExists(t *testing.T) {
	doc := tu.WalletIR()
	utxo, _ := doc.Type("Utxo")
	for i := range utxo.Fields {
		if utxo.Fields[i].Name == "script_type" {
			utxo.Fields[i].Range = ir.Since(tu.V("1.0"))
		}
	}

	vs := Validate(doc)
	require.Len(t, vs, 1)
	assert.Equal(t, CodeTypeOutOfRange, vs[0].Code)
	assert.Contains(t, vs[0].Message, "ScriptType")
	assert.Contains(t, vs[0].Message, "1.0")
}

func TestDuplicatesAndEmptyNames(t *testing.T) {
	doc := tu.WalletIR()
	doc.Types = append(doc.Types, ir.TypeDescriptor{Name: "Utxo", Kind: ir.KindObject, Range: ir.Since(tu.V("1.0"))})
	doc.Methods = append(doc.Methods, ir.MethodDescriptor{Name: " ", Category: "x", Range: ir.Since(tu.V("1.0"))})

	assert.ElementsMatch(t, []Code{CodeDuplicateType, CodeEmptyName}, codes(Validate(doc)))
}

func TestMalformedTypeRef(t *testing.T) {
	doc := tu.WalletIR()
	m, _ := findMethod(doc, "ping")
	m.Result = &ir.TypeRef{Ref: "Utxo", Primitive: ir.PrimString}

	vs := Validate(doc)
	require.Len(t, vs, 1)
	assert.Equal(t, CodeBadTypeRef, vs[0].Code)
}

func TestValidateDoesNotMutate(t *testing.T) {
	doc := withoutType(tu.WalletIR(), "BlockHeader")
	before := doc.MustHash()
	_ = Validate(doc)
	assert.Equal(t, before, doc.MustHash())
}
