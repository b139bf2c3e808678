// Package testutil builds ProtocolIR fixtures and deterministic stand-ins
// for the clock and run-id sources used across package tests.
package testutil

import (
	"github.com/roach88/ethos/internal/ir"
)

// V parses a version literal.
func V(s string) ir.Version { return ir.MustParseVersion(s) }

// Required returns a required param. Ranges and positions are filled in by
// Draft.
func Required(name string, t ir.TypeRef) ir.ParamDescriptor {
	return ir.ParamDescriptor{Name: name, Type: t, Required: true}
}

// Optional returns an optional param with an optional default.
func Optional(name string, t ir.TypeRef, def ir.IRValue) ir.ParamDescriptor {
	p := ir.ParamDescriptor{Name: name, Type: t}
	if def != nil {
		p.Default = ir.Lit(def)
	}
	return p
}

// Method returns a method returning result (nil for none).
func Method(name, category string, result *ir.TypeRef, params ...ir.ParamDescriptor) ir.MethodDescriptor {
	if params == nil {
		params = []ir.ParamDescriptor{}
	}
	return ir.MethodDescriptor{Name: name, Category: category, Params: params, Result: result}
}

// Result wraps a TypeRef for Method.
func Result(t ir.TypeRef) *ir.TypeRef { return &t }

// Object returns an object type with the given fields.
func Object(name string, fields ...ir.Field) ir.TypeDescriptor {
	return ir.TypeDescriptor{Name: name, Kind: ir.KindObject, Fields: fields}
}

// Field returns an object member.
func Field(name string, t ir.TypeRef, required bool) ir.Field {
	return ir.Field{Name: name, Type: t, Required: required}
}

// Draft returns a single-version fragment as an adapter would produce it:
// every range is [version, ∞) and positions follow declaration order.
func Draft(impl ir.Implementation, version string, methods []ir.MethodDescriptor, types ...ir.TypeDescriptor) *ir.ProtocolIR {
	v := V(version)
	doc := ir.NewProtocolIR(impl)
	doc.Versions = []ir.VersionInfo{{Version: v}}
	for _, m := range methods {
		m = m.Clone()
		m.Range = ir.Since(v)
		for i := range m.Params {
			m.Params[i].Position = i
			m.Params[i].Range = ir.Since(v)
		}
		doc.Methods = append(doc.Methods, m)
	}
	for _, t := range types {
		t = t.Clone()
		t.Range = ir.Since(v)
		for i := range t.Fields {
			t.Fields[i].Range = ir.Since(v)
		}
		doc.Types = append(doc.Types, t)
	}
	doc.Sort()
	return doc
}

// GetBalanceDrafts returns two versions of a wallet's getBalance: 1.0 takes
// a required account, 2.0 adds an optional minConf.
func GetBalanceDrafts() []*ir.ProtocolIR {
	amount := Result(ir.Prim(ir.PrimAmount))
	return []*ir.ProtocolIR{
		Draft(ir.BitcoinCore, "1.0", []ir.MethodDescriptor{
			Method("getBalance", "wallet", amount,
				Required("account", ir.Prim(ir.PrimString))),
		}),
		Draft(ir.BitcoinCore, "2.0", []ir.MethodDescriptor{
			Method("getBalance", "wallet", amount,
				Required("account", ir.Prim(ir.PrimString)),
				Optional("minConf", ir.Prim(ir.PrimInteger), ir.IRInt(1))),
		}),
	}
}

func since(v string) ir.VersionRange { return ir.Since(V(v)) }

func between(from, to string) ir.VersionRange { return ir.Between(V(from), V(to)) }

// WalletIR returns an assembled, valid document spanning 1.0 to 3.0 with
// methods in two categories, a nested object type, an enum, a union and a
// deprecated method.
func WalletIR() *ir.ProtocolIR {
	doc := ir.NewProtocolIR(ir.BitcoinCore)
	doc.Versions = []ir.VersionInfo{
		{Version: V("1.0"), ReleaseDate: "2023-01-10"},
		{Version: V("2.0"), ReleaseDate: "2023-09-01"},
		{Version: V("3.0")},
	}
	doc.Types = []ir.TypeDescriptor{
		{
			Name:        "Utxo",
			Kind:        ir.KindObject,
			Description: "An unspent transaction output.",
			Fields: []ir.Field{
				{Name: "txid", Type: ir.Prim(ir.PrimHex), Required: true, Range: since("1.0")},
				{Name: "vout", Type: ir.Prim(ir.PrimInteger), Required: true, Range: since("1.0")},
				{Name: "amount", Type: ir.Prim(ir.PrimAmount), Required: true, Range: since("1.0")},
				{Name: "label", Type: ir.Prim(ir.PrimString), Range: since("2.0")},
				{Name: "script_type", Type: ir.RefTo("ScriptType"), Range: since("2.0")},
			},
			Range: since("1.0"),
		},
		{
			Name:     "ScriptType",
			Kind:     ir.KindEnum,
			Variants: []ir.Variant{{Name: "pubkeyhash"}, {Name: "witness_v0_keyhash"}, {Name: "witness_v1_taproot"}},
			Range:    since("2.0"),
		},
		{
			Name: "BlockOrHash",
			Kind: ir.KindUnion,
			Variants: []ir.Variant{
				{Name: "hash", Type: refPtr(ir.Prim(ir.PrimHex))},
				{Name: "block", Type: refPtr(ir.RefTo("BlockHeader"))},
			},
			Range: since("1.0"),
		},
		{
			Name: "BlockHeader",
			Kind: ir.KindObject,
			Fields: []ir.Field{
				{Name: "hash", Type: ir.Prim(ir.PrimHex), Required: true, Range: since("1.0")},
				{Name: "height", Type: ir.Prim(ir.PrimInteger), Required: true, Range: since("1.0")},
				{Name: "time", Type: ir.Prim(ir.PrimTimestamp), Required: true, Range: since("1.0")},
			},
			Range: since("1.0"),
		},
	}
	doc.Methods = []ir.MethodDescriptor{
		{
			Name:        "getbalance",
			WireName:    "getBalance",
			Category:    "wallet",
			Description: "Returns the wallet balance.",
			Params: []ir.ParamDescriptor{
				{Name: "account", Type: ir.Prim(ir.PrimString), Required: true, Position: 0, Range: since("1.0")},
				{Name: "min_conf", WireName: "minConf", Type: ir.Prim(ir.PrimInteger), Default: ir.Lit(ir.IRInt(1)), Position: 1, Range: since("2.0")},
			},
			Result: refPtr(ir.Prim(ir.PrimAmount)),
			Range:  since("1.0"),
		},
		{
			Name:     "listunspent",
			Category: "wallet",
			Params: []ir.ParamDescriptor{
				{Name: "minconf", Type: ir.Prim(ir.PrimInteger), Default: ir.Lit(ir.IRInt(1)), Position: 0, Range: since("1.0")},
				{Name: "maxconf", Type: ir.Prim(ir.PrimInteger), Default: ir.Lit(ir.IRInt(9999999)), Position: 1, Range: since("1.0")},
				{Name: "addresses", Type: ir.ListOf(ir.Prim(ir.PrimString)), Position: 2, Range: since("1.0")},
			},
			Result: refPtr(ir.ListOf(ir.RefTo("Utxo"))),
			Range:  since("1.0"),
		},
		{
			Name:     "getblock",
			Category: "blockchain",
			Params: []ir.ParamDescriptor{
				{Name: "blockhash", Type: ir.Prim(ir.PrimHex), Required: true, Position: 0, Range: since("1.0")},
				{Name: "verbose", Type: ir.Prim(ir.PrimBoolean), Default: ir.Lit(ir.IRBool(true)), Position: 1, Range: since("1.0")},
			},
			Result: refPtr(ir.RefTo("BlockOrHash")),
			Range:  since("1.0"),
		},
		{
			Name:        "getinfo",
			Category:    "control",
			Description: "Returns an object containing various state info.",
			Params:      []ir.ParamDescriptor{},
			Result:      refPtr(ir.Prim(ir.PrimAny)),
			Deprecated:  true,
			Range:       between("1.0", "3.0"),
		},
		{
			Name:     "ping",
			Category: "control",
			Params:   []ir.ParamDescriptor{},
			Range:    since("1.0"),
		},
	}
	doc.Sort()
	return doc
}

func refPtr(t ir.TypeRef) *ir.TypeRef { return &t }
